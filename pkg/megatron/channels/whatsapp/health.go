// Package whatsapp – health.go implements proactive health monitoring for
// the WhatsApp connection to detect and recover from silent disconnects.
package whatsapp

import (
	"context"
	"time"
)

// HealthMonitorConfig configures proactive connection health monitoring.
type HealthMonitorConfig struct {
	// Enabled turns on proactive health monitoring.
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often to perform health checks.
	CheckInterval time.Duration `yaml:"check_interval"`

	// MaxSilentDuration is how long the connection may stay without
	// activity before the client state is verified.
	MaxSilentDuration time.Duration `yaml:"max_silent_duration"`

	// ForceReconnectAfter forces a reconnection after this much silence,
	// even if the client reports connected (0 = disabled).
	ForceReconnectAfter time.Duration `yaml:"force_reconnect_after"`
}

// DefaultHealthMonitorConfig returns sensible defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		Enabled:             true,
		CheckInterval:       30 * time.Second,
		MaxSilentDuration:   5 * time.Minute,
		ForceReconnectAfter: 30 * time.Minute,
	}
}

// StartHealthMonitor runs health checks until ctx is cancelled.
func (w *WhatsApp) StartHealthMonitor(ctx context.Context, cfg HealthMonitorConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.MaxSilentDuration <= 0 {
		cfg.MaxSilentDuration = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(cfg.CheckInterval)
		defer ticker.Stop()

		w.logger.Info("whatsapp: health monitor started",
			"check_interval", cfg.CheckInterval,
			"max_silent", cfg.MaxSilentDuration,
			"force_reconnect_after", cfg.ForceReconnectAfter)

		for {
			select {
			case <-ctx.Done():
				w.logger.Info("whatsapp: health monitor stopped")
				return
			case <-ticker.C:
				if w.needsReconnect(cfg, time.Now()) {
					w.transition(StateReconnecting, "health_check")
					go w.attemptReconnect()
				}
			}
		}
	}()
}

// needsReconnect reports whether the connection should be re-established.
func (w *WhatsApp) needsReconnect(cfg HealthMonitorConfig, now time.Time) bool {
	if w.getState() != StateConnected {
		return false
	}
	silent := now.Sub(w.getLastActivity())
	if silent <= cfg.MaxSilentDuration {
		return false
	}

	w.logger.Warn("whatsapp: connection silent for too long", "silent", silent, "max_silent", cfg.MaxSilentDuration)
	if w.client != nil && !w.client.IsConnected() {
		w.logger.Error("whatsapp: client reports disconnected but state is connected")
		return true
	}
	if cfg.ForceReconnectAfter > 0 && silent > cfg.ForceReconnectAfter {
		w.logger.Warn("whatsapp: forcing preventive reconnection", "silent", silent)
		return true
	}
	return false
}

func (w *WhatsApp) getLastActivity() time.Time {
	if v := w.lastActivity.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// touch records connection activity.
func (w *WhatsApp) touch() {
	w.lastActivity.Store(time.Now())
}
