package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Factory builds a plugin record.
type Factory func() (*Plugin, error)

// NamedFactory is a factory with the name it was registered under.
type NamedFactory struct {
	Name    string
	Factory Factory
}

var (
	builtinMu sync.Mutex
	builtins  []NamedFactory
)

// Register adds a compiled-in plugin factory. Called from init functions.
func Register(name string, f Factory) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	builtins = append(builtins, NamedFactory{Name: name, Factory: f})
}

// Builtins returns the registered compiled-in factories in registration
// order.
func Builtins() []NamedFactory {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	return append([]NamedFactory(nil), builtins...)
}

// Skipped describes a plugin that was not loaded.
type Skipped struct {
	Name   string
	Source string
	Reason string
}

// LoadReport summarizes a Load.
type LoadReport struct {
	Loaded     []string
	Skipped    []Skipped
	Duplicates []string
	Commands   int
	Duration   time.Duration
}

// Snapshot is an immutable view of the loaded plugins.
type Snapshot struct {
	commands map[string]*Plugin
	text     []*Plugin
	always   []*Plugin
	all      []*Plugin
	loadedAt time.Time
}

// Resolve finds the command plugin answering to cmd.
func (s *Snapshot) Resolve(cmd string) (*Plugin, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.commands[strings.ToLower(cmd)]
	return p, ok
}

// Text returns the text plugins in load order.
func (s *Snapshot) Text() []*Plugin {
	if s == nil {
		return nil
	}
	return s.text
}

// Always returns the always plugins in load order.
func (s *Snapshot) Always() []*Plugin {
	if s == nil {
		return nil
	}
	return s.always
}

// All returns every plugin in load order.
func (s *Snapshot) All() []*Plugin {
	if s == nil {
		return nil
	}
	return s.all
}

// Commands returns every resolvable command name, sorted.
func (s *Snapshot) Commands() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.commands))
	for c := range s.commands {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Registry serves the current plugin snapshot. Load builds a new snapshot
// and swaps it in atomically; dispatches already running keep the one they
// started with.
type Registry struct {
	cfg       Config
	logger    *slog.Logger
	factories []NamedFactory
	loader    *Loader

	current atomic.Pointer[Snapshot]
	loadMu  sync.Mutex
}

// NewRegistry creates a registry over the given compiled-in factories and
// the shared objects in cfg.Dir.
func NewRegistry(cfg Config, logger *slog.Logger, factories ...NamedFactory) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		cfg:       cfg,
		logger:    logger.With("component", "plugins"),
		factories: factories,
		loader:    NewLoader(cfg, logger),
	}
	r.current.Store(&Snapshot{commands: map[string]*Plugin{}})
	return r
}

// Load rebuilds the snapshot. Malformed plugins are skipped and reported,
// never fatal.
func (r *Registry) Load(ctx context.Context) *LoadReport {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	start := time.Now()
	report := &LoadReport{}
	snap := &Snapshot{commands: make(map[string]*Plugin), loadedAt: start}

	var candidates []*Plugin
	for _, nf := range r.factories {
		if !r.cfg.allows(nf.Name) {
			r.logger.Debug("plugins: skipping disabled plugin", "name", nf.Name)
			continue
		}
		p, err := build(nf)
		if err != nil {
			report.Skipped = append(report.Skipped, Skipped{Name: nf.Name, Source: "builtin", Reason: err.Error()})
			r.logger.Warn("plugins: skipping builtin", "name", nf.Name, "error", err)
			continue
		}
		if p.Source == "" {
			p.Source = "builtin"
		}
		candidates = append(candidates, p)
	}

	external, skipped := r.loader.LoadAll(ctx)
	report.Skipped = append(report.Skipped, skipped...)
	candidates = append(candidates, external...)

	for _, p := range candidates {
		if err := p.Validate(); err != nil {
			report.Skipped = append(report.Skipped, Skipped{Name: p.Name, Source: p.Source, Reason: err.Error()})
			r.logger.Warn("plugins: skipping malformed plugin", "name", p.Name, "source", p.Source, "error", err)
			continue
		}
		if p.Source != "builtin" && !r.cfg.allows(p.Name) {
			continue
		}

		rec := *p
		rec.Commands = make([]string, 0, len(p.Commands))
		for _, c := range p.Commands {
			rec.Commands = append(rec.Commands, strings.ToLower(c))
		}

		switch rec.Kind {
		case KindCommand:
			for _, c := range rec.Commands {
				if prev, ok := snap.commands[c]; ok {
					report.Duplicates = append(report.Duplicates, c)
					r.logger.Warn("plugins: duplicate command, keeping first",
						"command", c, "kept", prev.Name, "ignored", rec.Name)
					continue
				}
				snap.commands[c] = &rec
			}
		case KindText:
			snap.text = append(snap.text, &rec)
		case KindAlways:
			snap.always = append(snap.always, &rec)
		}
		snap.all = append(snap.all, &rec)
		report.Loaded = append(report.Loaded, rec.Name)
	}

	report.Commands = len(snap.commands)
	report.Duration = time.Since(start)
	r.current.Store(snap)

	r.logger.Info("plugins: loading complete",
		"plugins", len(report.Loaded),
		"commands", report.Commands,
		"skipped", len(report.Skipped),
		"duplicates", len(report.Duplicates),
		"duration", report.Duration)
	return report
}

// build runs a factory, converting panics into errors.
func build(nf NamedFactory) (p *Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("factory panic: %v", rec)
		}
	}()
	if nf.Factory == nil {
		return nil, fmt.Errorf("%w: nil factory", ErrInvalidPlugin)
	}
	p, err = nf.Factory()
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: factory returned nil", ErrInvalidPlugin)
	}
	if p.Name == "" {
		p.Name = nf.Name
	}
	return p, nil
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Resolve finds a command plugin in the current snapshot.
func (r *Registry) Resolve(cmd string) (*Plugin, bool) {
	return r.Snapshot().Resolve(cmd)
}

// Text returns the current text plugins.
func (r *Registry) Text() []*Plugin { return r.Snapshot().Text() }

// Always returns the current always plugins.
func (r *Registry) Always() []*Plugin { return r.Snapshot().Always() }

// All returns every current plugin.
func (r *Registry) All() []*Plugin { return r.Snapshot().All() }

// Shutdown releases external plugins.
func (r *Registry) Shutdown() {
	r.loader.Shutdown()
}
