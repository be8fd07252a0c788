// Package whatsapp – login.go links a new device, by QR code or by
// pairing code.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"golang.org/x/term"
)

// login runs the linking flow until success, timeout or ctx ends.
func (w *WhatsApp) login(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for login: %w", err)
	}
	w.setState(StateWaitingQR)

	paired := false
	for {
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				if w.cfg.PairPhone != "" {
					if paired {
						continue
					}
					code, err := w.client.PairPhone(ctx, w.cfg.PairPhone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
					if err != nil {
						return fmt.Errorf("requesting pair code: %w", err)
					}
					paired = true
					w.logger.Info("whatsapp: pair code ready", "code", code, "phone", w.cfg.PairPhone)
					w.notifyQR(QREvent{Type: "pair_code", Code: code, Message: "Enter this code in WhatsApp > Linked devices"})
					continue
				}
				w.logger.Info("whatsapp: QR code ready, scan it with WhatsApp > Linked devices")
				renderQR(os.Stdout, evt.Code)
				w.notifyQR(QREvent{Type: "code", Code: evt.Code, Message: "Scan the QR code with WhatsApp"})

			case "success":
				w.connected.Store(true)
				w.reconnectAttempts.Store(0)
				w.setState(StateConnected)
				w.logger.Info("whatsapp: login successful")
				w.notifyQR(QREvent{Type: "success", Message: "WhatsApp linked"})
				w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)
				return nil

			case "timeout":
				w.setState(StateDisconnected)
				w.notifyQR(QREvent{Type: "timeout", Message: "QR code expired"})
				return fmt.Errorf("QR code timeout")

			default:
				if evt.Error != nil {
					w.setState(StateDisconnected)
					w.notifyQR(QREvent{Type: "error", Message: evt.Error.Error()})
					return fmt.Errorf("login error: %w", evt.Error)
				}
			}
		}
	}
}

// renderQR draws code on out when it is a terminal and prints the raw
// code otherwise.
func renderQR(out io.Writer, code string) {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, out)
		return
	}
	fmt.Fprintf(out, "QR code: %s\n", code)
}
