package state

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Binding maps a sticker fingerprint to a command line.
type Binding struct {
	Fingerprint string
	Command     string
}

// StickerBindings maps sticker fingerprints (base64 file SHA-256) to the
// command line the sticker triggers.
type StickerBindings struct {
	db            *sql.DB
	mu            sync.RWMutex
	byFingerprint map[string]string
}

func (b *StickerBindings) load() error {
	rows, err := b.db.Query("SELECT fingerprint, command FROM sticker_bindings")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var fp, cmd string
		if err := rows.Scan(&fp, &cmd); err != nil {
			return err
		}
		b.byFingerprint[fp] = cmd
	}
	return rows.Err()
}

// Bind associates fingerprint with command, replacing any previous binding.
func (b *StickerBindings) Bind(fingerprint, command string) error {
	command = strings.TrimSpace(command)
	if fingerprint == "" || command == "" {
		return fmt.Errorf("bind: fingerprint and command are required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.db.Exec(`
		INSERT INTO sticker_bindings (fingerprint, command) VALUES (?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET command = excluded.command, bound_at = CURRENT_TIMESTAMP
	`, fingerprint, command); err != nil {
		return fmt.Errorf("bind sticker: %w", err)
	}
	b.byFingerprint[fingerprint] = command
	return nil
}

// Unbind removes the binding. Returns false if none existed.
func (b *StickerBindings) Unbind(fingerprint string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byFingerprint[fingerprint]; !ok {
		return false, nil
	}
	if _, err := b.db.Exec("DELETE FROM sticker_bindings WHERE fingerprint = ?", fingerprint); err != nil {
		return false, fmt.Errorf("unbind sticker: %w", err)
	}
	delete(b.byFingerprint, fingerprint)
	return true, nil
}

// Resolve returns the command bound to fingerprint.
func (b *StickerBindings) Resolve(fingerprint string) (string, bool) {
	if fingerprint == "" {
		return "", false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	cmd, ok := b.byFingerprint[fingerprint]
	return cmd, ok
}

// List returns every binding, ordered by command then fingerprint.
func (b *StickerBindings) List() []Binding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Binding, 0, len(b.byFingerprint))
	for fp, cmd := range b.byFingerprint {
		out = append(out, Binding{Fingerprint: fp, Command: cmd})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Command != out[j].Command {
			return out[i].Command < out[j].Command
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}
