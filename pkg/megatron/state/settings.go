package state

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jholhewres/megatron/pkg/megatron/access"
	"github.com/jholhewres/megatron/pkg/megatron/identity"
)

const settingMode = "mode"

// ErrInvalidNumber is returned for sudo entries without enough digits.
var ErrInvalidNumber = fmt.Errorf("invalid phone number")

// Settings holds owner-managed runtime settings: the sudo list and the
// operating mode. Changes apply to the next dispatched message.
type Settings struct {
	db *sql.DB

	mu   sync.RWMutex
	sudo map[string]struct{}
	mode access.Mode
	set  bool // mode persisted
}

func (s *Settings) load() error {
	rows, err := s.db.Query("SELECT number FROM sudo_users")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return err
		}
		s.sudo[n] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var raw string
	err = s.db.QueryRow("SELECT value FROM settings WHERE key = ?", settingMode).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.mode = access.ModePublic
	case err != nil:
		return err
	default:
		s.mode, _ = access.ParseMode(raw)
		s.set = true
	}
	return nil
}

// Seed merges configured defaults: sudo numbers are always added, the mode
// only applies while no mode was set at runtime.
func (s *Settings) Seed(mode access.Mode, sudo []string) error {
	for _, n := range sudo {
		if _, err := s.AddSudo(n); err != nil && !errors.Is(err, ErrInvalidNumber) {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set && mode != "" {
		s.mode = mode
	}
	return nil
}

// Mode returns the operating mode.
func (s *Settings) Mode() access.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode persists a new operating mode.
func (s *Settings) SetMode(mode access.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, settingMode, string(mode)); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	s.mode = mode
	s.set = true
	return nil
}

// Sudo returns the sudo numbers, sorted.
func (s *Settings) Sudo() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sudo))
	for n := range s.sudo {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// AddSudo grants sudo to id, stored as its last ten digits. Returns false
// if the number already had it.
func (s *Settings) AddSudo(id string) (bool, error) {
	n := identity.Normalize(id)
	if len(n) < 7 {
		return false, fmt.Errorf("%w: %q", ErrInvalidNumber, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sudo[n]; ok {
		return false, nil
	}
	if _, err := s.db.Exec("INSERT OR IGNORE INTO sudo_users (number) VALUES (?)", n); err != nil {
		return false, fmt.Errorf("add sudo: %w", err)
	}
	s.sudo[n] = struct{}{}
	return true, nil
}

// RemoveSudo revokes sudo from id. Returns false if it was not granted.
func (s *Settings) RemoveSudo(id string) (bool, error) {
	n := identity.Normalize(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sudo[n]; !ok {
		return false, nil
	}
	if _, err := s.db.Exec("DELETE FROM sudo_users WHERE number = ?", n); err != nil {
		return false, fmt.Errorf("remove sudo: %w", err)
	}
	delete(s.sudo, n)
	return true, nil
}
