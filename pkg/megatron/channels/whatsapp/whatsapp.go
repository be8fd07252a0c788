// Package whatsapp implements the bot transport on top of whatsmeow, the
// native Go WhatsApp Web multi-device library.
//
// Features:
//   - QR code or pair-code login with a persistent SQLite session
//   - Live messages converted to channels.Envelope (history sync ignored)
//   - Text, quoted replies, edits, mentions, reactions and media upload
//   - Media download, group roster and participant management
//   - Automatic reconnection with backoff and a health monitor
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.

	"github.com/jholhewres/megatron/pkg/megatron/channels"
)

var (
	errEmptyJID    = fmt.Errorf("empty JID")
	errShortNumber = fmt.Errorf("phone number too short")
)

// Config holds WhatsApp transport configuration.
type Config struct {
	// SessionDir holds whatsapp.db when DatabasePath is empty.
	SessionDir string `yaml:"session_dir"`

	// DatabasePath is the SQLite file for the whatsmeow session tables.
	DatabasePath string `yaml:"database_path"`

	// PairPhone, when set, logs in with a pairing code for this number
	// instead of a QR code.
	PairPhone string `yaml:"pair_phone"`

	// DeviceName is shown in the phone's linked devices list.
	DeviceName string `yaml:"device_name"`

	// BufferSize is the capacity of the inbound envelope channel.
	BufferSize int `yaml:"buffer_size"`

	// ReconnectBackoff is the initial backoff duration for reconnection.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectAttempts is the maximum number of reconnection attempts (0 = unlimited).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// HealthMonitor configures proactive connection health monitoring.
	HealthMonitor HealthMonitorConfig `yaml:"health_monitor"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir:           "./data/session",
		DeviceName:           "Megatron",
		BufferSize:           256,
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectAttempts: 10,
		HealthMonitor:        DefaultHealthMonitorConfig(),
	}
}

// QREvent is a login event sent to observers.
type QREvent struct {
	// Type is "code", "pair_code", "success", "timeout", "error" or "refresh".
	Type    string
	Code    string
	Message string
}

// Health describes the transport.
type Health struct {
	Connected         bool
	State             ConnectionState
	JID               string
	ErrorCount        int64
	ReconnectAttempts int32
	LastActivity      time.Time
}

// WhatsApp implements channels.GroupAdmin over whatsmeow.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	envelopes chan *channels.Envelope
	closed    atomic.Bool

	connected         atomic.Bool
	state             atomic.Value // ConnectionState
	lastActivity      atomic.Value // time.Time
	errorCount        atomic.Int64
	reconnectAttempts atomic.Int32
	reconnectGuard    atomic.Bool

	qrObservers   []chan QREvent
	qrObserversMu sync.Mutex

	connObservers   []ConnectionObserver
	connObserversMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp transport. Call Connect to start it.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Megatron"
	}

	w := &WhatsApp{
		cfg:       cfg,
		logger:    logger.With("component", "whatsapp"),
		envelopes: make(chan *channels.Envelope, cfg.BufferSize),
		ctx:       context.Background(),
	}
	w.setState(StateDisconnected)
	return w
}

// ---------- State ----------

func (w *WhatsApp) getState() ConnectionState {
	if v := w.state.Load(); v != nil {
		return v.(ConnectionState)
	}
	return StateDisconnected
}

func (w *WhatsApp) setState(state ConnectionState) {
	w.state.Store(state)
}

// State returns the current connection state.
func (w *WhatsApp) State() ConnectionState { return w.getState() }

// SelfID returns the phone JID of the logged-in account, or "".
func (w *WhatsApp) SelfID() string {
	if w.client != nil && w.client.Store != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.ToNonAD().String()
	}
	return ""
}

// IsConnected returns true if WhatsApp is connected.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// Envelopes returns the inbound message stream. It is closed by Disconnect.
func (w *WhatsApp) Envelopes() <-chan *channels.Envelope { return w.envelopes }

// Health returns a snapshot of the transport health.
func (w *WhatsApp) Health() Health {
	return Health{
		Connected:         w.connected.Load(),
		State:             w.getState(),
		JID:               w.SelfID(),
		ErrorCount:        w.errorCount.Load(),
		ReconnectAttempts: w.reconnectAttempts.Load(),
		LastActivity:      w.getLastActivity(),
	}
}

// ---------- Observers ----------

// SubscribeQR registers a channel for login events. Returns an unsubscribe
// function.
func (w *WhatsApp) SubscribeQR() (<-chan QREvent, func()) {
	ch := make(chan QREvent, 8)
	w.qrObserversMu.Lock()
	w.qrObservers = append(w.qrObservers, ch)
	w.qrObserversMu.Unlock()

	return ch, func() {
		w.qrObserversMu.Lock()
		defer w.qrObserversMu.Unlock()
		for i, obs := range w.qrObservers {
			if obs == ch {
				w.qrObservers = append(w.qrObservers[:i], w.qrObservers[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (w *WhatsApp) notifyQR(evt QREvent) {
	w.qrObserversMu.Lock()
	defer w.qrObserversMu.Unlock()
	for _, ch := range w.qrObservers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// AddConnectionObserver registers a connection observer.
func (w *WhatsApp) AddConnectionObserver(obs ConnectionObserver) {
	w.connObserversMu.Lock()
	defer w.connObserversMu.Unlock()
	w.connObservers = append(w.connObservers, obs)
}

func (w *WhatsApp) notifyConnectionChange(evt ConnectionEvent) {
	w.connObserversMu.Lock()
	observers := make([]ConnectionObserver, len(w.connObservers))
	copy(observers, w.connObservers)
	w.connObserversMu.Unlock()

	for _, obs := range observers {
		go func(o ConnectionObserver) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Warn("whatsapp: connection observer panic", "error", r)
				}
			}()
			o.OnConnectionChange(evt)
		}(obs)
	}
}

// ---------- Lifecycle ----------

func (w *WhatsApp) databasePath() string {
	if w.cfg.DatabasePath != "" {
		return w.cfg.DatabasePath
	}
	return filepath.Join(w.cfg.SessionDir, "whatsapp.db")
}

// Connect opens the session store and connects. Without a stored session
// the login flow (QR or pair code) runs in the background and Connect
// returns immediately.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.setState(StateConnecting)

	dbPath := w.databasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("%w: creating session dir: %v", channels.ErrConnectionFailed, err)
	}
	w.logger.Info("whatsapp: initializing connection", "session_db", dbPath)

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath),
		waLog.Noop)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("%w: creating session store: %v", channels.ErrConnectionFailed, err)
	}

	device, err := container.GetFirstDevice(w.ctx)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("%w: getting device: %v", channels.ErrConnectionFailed, err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		w.setState(StateWaitingQR)
		w.logger.Info("whatsapp: no existing session, login required")
		go func() {
			if err := w.login(w.ctx); err != nil {
				w.logger.Warn("whatsapp: login pending", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", channels.ErrConnectionFailed, err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp: connected (existing session)", "jid", w.SelfID())

	w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)
	return nil
}

// Disconnect closes the connection and the envelope stream.
func (w *WhatsApp) Disconnect() error {
	previous := w.getState()
	w.setState(StateDisconnected)
	w.connected.Store(false)

	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	if w.closed.CompareAndSwap(false, true) {
		close(w.envelopes)
	}

	w.logger.Info("whatsapp: disconnected")
	w.notifyConnectionChange(ConnectionEvent{
		State:     StateDisconnected,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    "user_request",
	})
	return nil
}

// Logout unlinks the device and clears the session.
func (w *WhatsApp) Logout(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	w.setState(StateLoggingOut)
	w.connected.Store(false)

	if err := w.client.Logout(ctx); err != nil {
		w.logger.Warn("whatsapp: logout error, forcing cleanup", "error", err)
		w.client.Disconnect()
		if w.client.Store != nil {
			if delErr := w.client.Store.Delete(ctx); delErr != nil {
				w.logger.Warn("whatsapp: failed to delete store", "error", delErr)
			}
		}
	}
	w.setState(StateDisconnected)
	w.logger.Info("whatsapp: logged out, session cleared")
	return nil
}

// attemptReconnect retries the connection with linear backoff until it
// succeeds, the context ends or MaxReconnectAttempts is reached.
func (w *WhatsApp) attemptReconnect() {
	if !w.reconnectGuard.CompareAndSwap(false, true) {
		w.logger.Debug("whatsapp: reconnect already in progress, skipping")
		return
	}
	defer w.reconnectGuard.Store(false)

	previous := w.getState()
	w.setState(StateReconnecting)

	for {
		if w.ctx.Err() != nil {
			return
		}

		attempts := w.reconnectAttempts.Add(1)
		if w.cfg.MaxReconnectAttempts > 0 && attempts > int32(w.cfg.MaxReconnectAttempts) {
			w.logger.Error("whatsapp: max reconnect attempts reached", "attempts", attempts)
			w.setState(StateDisconnected)
			w.notifyConnectionChange(ConnectionEvent{
				State:     StateDisconnected,
				Timestamp: time.Now(),
				Reason:    "max_reconnect_attempts",
			})
			return
		}

		backoff := min(w.cfg.ReconnectBackoff*time.Duration(attempts), 5*time.Minute)
		w.logger.Info("whatsapp: attempting reconnect", "attempt", attempts, "backoff", backoff)
		w.notifyConnectionChange(ConnectionEvent{
			State:     StateReconnecting,
			Previous:  previous,
			Timestamp: time.Now(),
			Reason:    "connection_lost",
		})

		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			return
		}

		if w.client == nil {
			return
		}
		if w.client.IsConnected() {
			w.client.Disconnect()
			time.Sleep(100 * time.Millisecond)
		}
		if err := w.client.Connect(); err != nil {
			w.logger.Warn("whatsapp: reconnect attempt failed, will retry", "attempt", attempts, "error", err)
			continue
		}
		w.logger.Info("whatsapp: reconnect initiated, waiting for confirmation")
		return
	}
}

// emit queues an envelope for the dispatcher, dropping it when the buffer
// is full.
func (w *WhatsApp) emit(env *channels.Envelope) {
	if w.closed.Load() {
		return
	}
	select {
	case w.envelopes <- env:
	case <-w.ctx.Done():
	default:
		w.logger.Warn("whatsapp: envelope buffer full, dropping message", "chat", env.ChatID, "msg", env.ID)
	}
}

// resolvePhone maps a LID to the phone JID when the store knows it.
func (w *WhatsApp) resolvePhone(jid types.JID) string {
	if jid.Server == types.HiddenUserServer && w.client != nil && w.client.Store != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, jid); err == nil && !alt.IsEmpty() {
			return alt.ToNonAD().String()
		}
	}
	return jid.ToNonAD().String()
}
