package state

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrProtected is returned when disabling a command that must stay on.
var ErrProtected = fmt.Errorf("command cannot be disabled")

// protectedCommands can never be disabled, so the owner can always undo.
var protectedCommands = map[string]bool{
	"stop":         true,
	"enable":       true,
	"stopped":      true,
	"listdisabled": true,
	"reboot":       true,
	"restart":      true,
}

// IsProtected reports whether cmd can never be disabled.
func IsProtected(cmd string) bool {
	return protectedCommands[strings.ToLower(cmd)]
}

// DisabledCommands is the set of commands turned off by the owner.
type DisabledCommands struct {
	db  *sql.DB
	mu  sync.RWMutex
	set map[string]struct{}
}

func (d *DisabledCommands) load() error {
	rows, err := d.db.Query("SELECT command FROM disabled_commands")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cmd string
		if err := rows.Scan(&cmd); err != nil {
			return err
		}
		d.set[cmd] = struct{}{}
	}
	return rows.Err()
}

// IsDisabled reports whether cmd is disabled.
func (d *DisabledCommands) IsDisabled(cmd string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.set[strings.ToLower(cmd)]
	return ok
}

// Disable turns cmd off. Returns false if it already was.
func (d *DisabledCommands) Disable(cmd string) (bool, error) {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if cmd == "" {
		return false, fmt.Errorf("empty command")
	}
	if IsProtected(cmd) {
		return false, fmt.Errorf("%w: %s", ErrProtected, cmd)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.set[cmd]; ok {
		return false, nil
	}
	if _, err := d.db.Exec("INSERT OR IGNORE INTO disabled_commands (command) VALUES (?)", cmd); err != nil {
		return false, fmt.Errorf("disable %s: %w", cmd, err)
	}
	d.set[cmd] = struct{}{}
	return true, nil
}

// Enable turns cmd back on. Returns false if it was not disabled.
func (d *DisabledCommands) Enable(cmd string) (bool, error) {
	cmd = strings.ToLower(strings.TrimSpace(cmd))

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.set[cmd]; !ok {
		return false, nil
	}
	if _, err := d.db.Exec("DELETE FROM disabled_commands WHERE command = ?", cmd); err != nil {
		return false, fmt.Errorf("enable %s: %w", cmd, err)
	}
	delete(d.set, cmd)
	return true, nil
}

// List returns the disabled commands, sorted.
func (d *DisabledCommands) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.set))
	for cmd := range d.set {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}
