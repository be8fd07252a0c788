// Package whatsapp – events.go dispatches whatsmeow events: connection
// lifecycle changes and live messages.
package whatsapp

import (
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ConnectionState represents the current connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateWaitingQR    ConnectionState = "waiting_qr"
	StateLoggingOut   ConnectionState = "logging_out"
	StateBanned       ConnectionState = "banned"
)

// ConnectionEvent represents a connection state change.
type ConnectionEvent struct {
	State     ConnectionState
	Previous  ConnectionState
	Timestamp time.Time
	Reason    string
}

// ConnectionObserver receives connection state changes.
type ConnectionObserver interface {
	OnConnectionChange(evt ConnectionEvent)
}

// ConnectionObserverFunc adapts a function to ConnectionObserver.
type ConnectionObserverFunc func(evt ConnectionEvent)

// OnConnectionChange calls f(evt).
func (f ConnectionObserverFunc) OnConnectionChange(evt ConnectionEvent) { f(evt) }

func (w *WhatsApp) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessage(evt)
	case *events.Connected:
		w.handleConnected()
	case *events.Disconnected:
		w.handleDisconnected()
	case *events.StreamReplaced:
		w.transition(StateDisconnected, "stream_replaced")
		w.logger.Error("whatsapp: stream replaced, another client took over the session")
	case *events.LoggedOut:
		w.handleLoggedOut(evt)
	case *events.TemporaryBan:
		w.transition(StateBanned, "temporary_ban")
		w.logger.Error("whatsapp: temporary ban", "code", evt.Code, "expire", evt.Expire)
	case *events.KeepAliveTimeout:
		w.handleKeepAliveTimeout(evt)
	case *events.KeepAliveRestored:
		w.logger.Info("whatsapp: keep-alive restored")
		w.errorCount.Store(0)
	case *events.ConnectFailure:
		w.handleConnectFailure(evt)
	case *events.HistorySync:
		w.logger.Debug("whatsapp: history sync ignored")
	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired", "jid", evt.ID, "platform", evt.Platform)
	}
}

// transition moves to state, marks the transport offline and notifies
// observers.
func (w *WhatsApp) transition(state ConnectionState, reason string) ConnectionState {
	previous := w.getState()
	w.setState(state)
	w.connected.Store(state == StateConnected)
	w.notifyConnectionChange(ConnectionEvent{
		State:     state,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	return previous
}

func (w *WhatsApp) handleConnected() {
	w.transition(StateConnected, "connected")
	w.errorCount.Store(0)
	w.reconnectAttempts.Store(0)
	w.touch()
	w.logger.Info("whatsapp: connected", "jid", w.SelfID())
	w.notifyQR(QREvent{Type: "success", Message: "WhatsApp connected"})
}

func (w *WhatsApp) handleDisconnected() {
	previous := w.transition(StateDisconnected, "connection_lost")
	w.logger.Warn("whatsapp: disconnected", "previous", previous)
	if previous == StateConnected && w.ctx.Err() == nil {
		go w.attemptReconnect()
	}
}

func (w *WhatsApp) handleLoggedOut(evt *events.LoggedOut) {
	w.transition(StateDisconnected, "logged_out")
	w.logger.Error("whatsapp: logged out", "reason", evt.Reason.String(), "on_connect", evt.OnConnect)
	if w.ctx.Err() != nil {
		return
	}
	go func() {
		if err := w.login(w.ctx); err != nil {
			w.logger.Warn("whatsapp: re-login failed", "error", err)
		}
	}()
}

func (w *WhatsApp) handleKeepAliveTimeout(evt *events.KeepAliveTimeout) {
	w.logger.Warn("whatsapp: keep-alive timeout", "error_count", evt.ErrorCount, "last_success", evt.LastSuccess)
	w.errorCount.Add(1)
	// Half-open sockets: force a reconnect after repeated failures.
	if evt.ErrorCount >= 3 && w.getState() == StateConnected {
		w.transition(StateReconnecting, "keepalive_timeout")
		go w.attemptReconnect()
	}
}

func (w *WhatsApp) handleConnectFailure(evt *events.ConnectFailure) {
	w.transition(StateDisconnected, "connect_failure")
	permanent := evt.PermanentDisconnectDescription()
	w.logger.Error("whatsapp: connect failure", "reason", evt.Reason.String(), "message", evt.Message, "permanent", permanent)
	if permanent == "" && w.ctx.Err() == nil {
		go w.attemptReconnect()
	}
}

// handleMessage turns a live message into an envelope. Status broadcasts
// pass through and are filtered by the dispatcher.
func (w *WhatsApp) handleMessage(evt *events.Message) {
	w.touch()

	chat := evt.Info.Chat.ToNonAD().String()
	if evt.Info.Chat.Server == types.HiddenUserServer {
		chat = w.resolvePhone(evt.Info.Chat)
	}
	sender := w.resolvePhone(evt.Info.Sender)
	if evt.Info.Sender.IsEmpty() {
		sender = ""
	}

	w.emit(envelopeOf(evt, chat, sender))
}
