package plugins

// Shared-object plugins extend the bot without recompiling it. A .so file
// must export at least one of:
//
//	var Plugin plugins.Plugin      // a single record
//	var Plugins []plugins.Plugin   // several records
//
// and may export
//
//	func Shutdown() error          // called on graceful stop
//
// Build a plugin:
//
//	go build -buildmode=plugin -o plugins/greeter.so greeter.go

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"runtime"
	"strings"
	"sync"
)

// Config holds plugin loading configuration.
type Config struct {
	// Dir is the directory to scan for .so files.
	Dir string `yaml:"dir"`

	// Enabled lists plugins to load (empty = load all found).
	Enabled []string `yaml:"enabled"`

	// Disabled lists plugins to skip.
	Disabled []string `yaml:"disabled"`
}

func (c Config) allows(name string) bool {
	for _, d := range c.Disabled {
		if d == name {
			return false
		}
	}
	if len(c.Enabled) == 0 {
		return true
	}
	for _, e := range c.Enabled {
		if e == name {
			return true
		}
	}
	return false
}

// LoadedObject is a shared object that contributed plugins.
type LoadedObject struct {
	Path     string
	Plugins  []string
	shutdown func() error
}

// Loader discovers and opens shared-object plugins.
type Loader struct {
	cfg    Config
	logger *slog.Logger
	loaded map[string]*LoadedObject
	mu     sync.RWMutex
}

// NewLoader creates a new plugin loader.
func NewLoader(cfg Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		cfg:    cfg,
		logger: logger.With("component", "plugins"),
		loaded: make(map[string]*LoadedObject),
	}
}

// LoadAll scans the plugin directory and returns the records found. Files
// that fail to open or are untrusted are reported as skipped.
func (l *Loader) LoadAll(ctx context.Context) ([]*Plugin, []Skipped) {
	dir := l.cfg.Dir
	if dir == "" {
		return nil, nil
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		l.logger.Debug("plugins: directory does not exist", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, []Skipped{{Source: dir, Reason: fmt.Sprintf("stat plugins dir: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []Skipped{{Source: dir, Reason: "plugins path is not a directory"}}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []Skipped{{Source: dir, Reason: fmt.Sprintf("reading plugins dir: %v", err)}}
	}

	var (
		out     []*Plugin
		skipped []Skipped
	)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".so")
		if !l.cfg.allows(name) {
			l.logger.Debug("plugins: skipping disabled plugin", "name", name)
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if trusted, reason := isTrustedPlugin(path, dir); !trusted {
			l.logger.Warn("plugins: rejecting untrusted plugin", "path", path, "reason", reason)
			skipped = append(skipped, Skipped{Name: name, Source: path, Reason: reason})
			continue
		}

		records, err := l.open(path)
		if err != nil {
			l.logger.Error("plugins: failed to load", "path", path, "error", err)
			skipped = append(skipped, Skipped{Name: name, Source: path, Reason: err.Error()})
			continue
		}
		out = append(out, records...)
		l.logger.Info("plugins: opened", "path", path, "records", len(records))
	}
	return out, skipped
}

// open loads a .so file and copies out its plugin records.
func (l *Loader) open(path string) ([]*Plugin, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plugin: %w", err)
	}

	var records []*Plugin
	if sym, err := p.Lookup("Plugin"); err == nil {
		if rec, ok := sym.(*Plugin); ok && rec != nil {
			cp := *rec
			records = append(records, &cp)
		}
	}
	if sym, err := p.Lookup("Plugins"); err == nil {
		if recs, ok := sym.(*[]Plugin); ok && recs != nil {
			for i := range *recs {
				cp := (*recs)[i]
				records = append(records, &cp)
			}
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("plugin exports neither Plugin nor Plugins symbol")
	}

	obj := &LoadedObject{Path: path}
	for _, rec := range records {
		rec.Source = path
		obj.Plugins = append(obj.Plugins, rec.Name)
	}
	if sym, err := p.Lookup("Shutdown"); err == nil {
		if fn, ok := sym.(func() error); ok {
			obj.shutdown = fn
		}
	}

	l.mu.Lock()
	l.loaded[path] = obj
	l.mu.Unlock()
	return records, nil
}

// Objects returns the shared objects opened so far.
func (l *Loader) Objects() []*LoadedObject {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*LoadedObject, 0, len(l.loaded))
	for _, o := range l.loaded {
		out = append(out, o)
	}
	return out
}

// Shutdown calls the Shutdown hook of every opened object.
func (l *Loader) Shutdown() {
	for _, o := range l.Objects() {
		if o.shutdown == nil {
			continue
		}
		if err := o.shutdown(); err != nil {
			l.logger.Error("plugins: shutdown error", "path", o.Path, "error", err)
		}
	}
}

// isTrustedPlugin checks whether a plugin .so file is safe to load.
// Returns (true, "") if trusted, or (false, reason) if not.
func isTrustedPlugin(pluginPath, pluginDir string) (bool, string) {
	realPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve symlinks: %v", err)
	}
	realDir, err := filepath.EvalSymlinks(pluginDir)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve plugin dir: %v", err)
	}
	if !strings.HasPrefix(filepath.Clean(realPath), filepath.Clean(realDir)+string(filepath.Separator)) {
		return false, fmt.Sprintf("plugin symlink escapes plugin directory: %s → %s", pluginPath, realPath)
	}

	if runtime.GOOS != "windows" {
		dirInfo, err := os.Stat(pluginDir)
		if err != nil {
			return false, fmt.Sprintf("cannot stat plugin dir: %v", err)
		}
		if dirInfo.Mode().Perm()&0o002 != 0 {
			return false, fmt.Sprintf("plugin directory is world-writable: %s", pluginDir)
		}
	}
	return true, ""
}
