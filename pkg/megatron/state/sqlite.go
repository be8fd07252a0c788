// Package state persists the bot's runtime state in SQLite: disabled
// commands, sticker bindings and owner-managed settings (sudo list and
// operating mode). Each store keeps an in-memory copy for reads; writes go
// to the database before the call returns.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds SQLite configuration.
type Config struct {
	// Path is the database file.
	Path string `yaml:"path"`

	// JournalMode is the SQLite journal mode (default WAL).
	JournalMode string `yaml:"journal_mode"`

	// BusyTimeout in milliseconds (default 5000).
	BusyTimeout int `yaml:"busy_timeout"`
}

// DefaultConfig returns the default state database configuration.
func DefaultConfig() Config {
	return Config{
		Path:        "./data/megatron.db",
		JournalMode: "WAL",
		BusyTimeout: 5000,
	}
}

// Store bundles the persisted state.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger

	Disabled *DisabledCommands
	Bindings *StickerBindings
	Settings *Settings
}

// Open opens or creates the state database and loads every store.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = def.JournalMode
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = def.BusyTimeout
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=%d", cfg.Path, cfg.JournalMode, cfg.BusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database %q: %w", cfg.Path, err)
	}
	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger.With("component", "state"),
	}
	s.Disabled = &DisabledCommands{db: db, set: make(map[string]struct{})}
	s.Bindings = &StickerBindings{db: db, byFingerprint: make(map[string]string)}
	s.Settings = &Settings{db: db, sudo: make(map[string]struct{})}

	for name, load := range map[string]func() error{
		"disabled commands": s.Disabled.load,
		"sticker bindings":  s.Bindings.load,
		"settings":          s.Settings.load,
	} {
		if err := load(); err != nil {
			db.Close()
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
	}

	s.logger.Info("state: loaded",
		"path", cfg.Path,
		"disabled", len(s.Disabled.List()),
		"bindings", len(s.Bindings.List()),
		"sudo", len(s.Settings.Sudo()))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Optimize runs SQLite housekeeping. Scheduled periodically.
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	if s.cfg.JournalMode == "WAL" {
		if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return fmt.Errorf("wal checkpoint: %w", err)
		}
	}
	s.logger.Debug("state: optimized")
	return nil
}

// migrations are applied in order; index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS disabled_commands (
		command     TEXT PRIMARY KEY,
		disabled_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS sticker_bindings (
		fingerprint TEXT PRIMARY KEY,
		command     TEXT NOT NULL,
		bound_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS sudo_users (
		number   TEXT PRIMARY KEY,
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
