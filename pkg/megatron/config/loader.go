// Package config – loader.go loads configuration from YAML files with
// environment variable expansion and .env file support.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable patterns in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME            - bare variable (no default/error support)
//
// Capture groups:
//   - Group 1: Variable name (for ${} syntax)
//   - Group 2: Modifier type ("-" for default, "?" for error)
//   - Group 3: Default value or error message
//   - Group 4: Variable name (for bare $VAR syntax)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Environment variables that override config values. The names match the
// .env files of existing deployments.
const (
	EnvPrefix     = "PREFIX"
	EnvMode       = "MODE"
	EnvOwner      = "OWNER"
	EnvSudo       = "SUDO"
	EnvSessionDir = "SESSION_DIR"
)

// envFiles are loaded in order; earlier files win since godotenv never
// overwrites variables that are already set.
var envFiles = []string{".env.local", ".env"}

// Load reads the config at path. An empty path searches the standard
// locations and falls back to defaults plus environment overrides.
func Load(path string) (*Config, string, error) {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		loadEnvFiles("")
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromFile reads and parses a YAML configuration file.
// Automatically loads .env files next to it and expands environment
// variables. Returns an error if any ${VAR:?error} pattern has its
// variable unset.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML. Unknown keys
// are rejected so typos surface at startup.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML to the specified path.
// Creates a backup (.bak) of the existing file before overwriting.
func SaveConfigToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Validate the marshaled YAML is parseable before writing.
	if _, err := ParseConfig(data); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"megatron.yaml",
		"megatron.yml",
		"configs/config.yaml",
		"configs/megatron.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from the working directory and, when
// different, from dir.
func loadEnvFiles(dir string) {
	dirs := []string{"."}
	if dir != "" && dir != "." {
		dirs = append(dirs, dir)
	}
	for _, d := range dirs {
		for _, f := range envFiles {
			// godotenv.Load does NOT overwrite existing env vars.
			_ = godotenv.Load(filepath.Join(d, f))
		}
	}
}

// applyEnvOverrides lets environment variables replace file values.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix)); v != "" {
		cfg.Prefix = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMode)); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv(EnvOwner); v != "" {
		cfg.Owners = mergeList(cfg.Owners, splitList(v))
	}
	if v := os.Getenv(EnvSudo); v != "" {
		cfg.Sudo = mergeList(cfg.Sudo, splitList(v))
	}
	if v := strings.TrimSpace(os.Getenv(EnvSessionDir)); v != "" {
		cfg.WhatsApp.SessionDir = v
	}
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// mergeList appends the entries of extra missing from base.
func mergeList(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, b := range base {
		seen[b] = true
	}
	for _, e := range extra {
		if !seen[e] {
			base = append(base, e)
			seen[e] = true
		}
	}
	return base
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error}, and $VAR
// references in a string with their environment variable values.
//
// An unset ${VAR:?error} is replaced by an "ERROR:" marker that
// expandEnvVarsWithValidation turns into an error.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		varName, modifierType, modifierValue, bareVar := submatches[1], submatches[2], submatches[3], submatches[4]

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		switch modifierType {
		case "?":
			errorMsg := modifierValue
			if errorMsg == "" {
				errorMsg = "required environment variable not set"
			}
			return "ERROR:" + varName + ":" + errorMsg
		case "-":
			return modifierValue
		}
		return match
	})
}

// expandEnvVarsWithValidation is like expandEnvVars but returns an error
// if any ${VAR:?error} pattern has its variable unset.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx < 0 {
		return result, nil
	}

	// Format: ERROR:VAR_NAME:error message
	rest := result[idx+len("ERROR:"):]
	colonIdx := strings.Index(rest, ":")
	if colonIdx == -1 {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	varName := rest[:colonIdx]
	errorMsg := rest[colonIdx+1:]
	if nl := strings.IndexByte(errorMsg, '\n'); nl >= 0 {
		errorMsg = errorMsg[:nl]
	}
	return "", fmt.Errorf("config error: %s - %s", varName, strings.TrimSpace(errorMsg))
}

// resolveRelativePaths converts relative paths to absolute paths based on
// the config file's directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)

	cfg.Database.Path = resolvePathFromConfig(cfg.Database.Path, configDir)
	cfg.WhatsApp.SessionDir = resolvePathFromConfig(cfg.WhatsApp.SessionDir, configDir)
	cfg.WhatsApp.DatabasePath = resolvePathFromConfig(cfg.WhatsApp.DatabasePath, configDir)
	cfg.Plugins.Dir = resolvePathFromConfig(cfg.Plugins.Dir, configDir)
}

// resolvePathFromConfig converts a path to absolute, resolving relative paths
// against the config file's directory. Expands ~ to home directory.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}

	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// checkFilePermissions warns if config file is world-readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
