// Package dispatch – dispatch.go routes normalized messages to plugins.
//
// For every envelope the dispatcher runs, in order: duplicate suppression,
// structural filters, normalization and always-plugins, the mode gate,
// sticker bindings, text plugins, prefix detection, the disabled-command
// check, registry lookup, permission gates and finally the handler. A
// message that fails any step is dropped without a reply.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jholhewres/megatron/pkg/megatron/access"
	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
)

// Config holds dispatcher configuration.
type Config struct {
	// Owners are creator numbers besides the bot account.
	Owners []string `yaml:"owners"`

	// DedupCapacity is the size of the duplicate window.
	DedupCapacity int `yaml:"dedup_capacity"`

	// HandlerTimeout bounds one command invocation (0 = unbounded).
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		DedupCapacity:  DefaultDedupCapacity,
		HandlerTimeout: 5 * time.Minute,
	}
}

// Outcome is how dispatch of one envelope ended.
type Outcome string

const (
	OutcomeInvalid   Outcome = "invalid"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFiltered  Outcome = "filtered"
	OutcomeMode      Outcome = "mode"
	OutcomeNoCommand Outcome = "no_command"
	OutcomeDisabled  Outcome = "disabled"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeDenied    Outcome = "denied"
	OutcomeInvoked   Outcome = "invoked"
	OutcomeFailed    Outcome = "failed"
)

// Stats are cumulative dispatch counters.
type Stats struct {
	Received        int64
	Duplicates      int64
	Filtered        int64
	Dropped         int64
	Invoked         int64
	Failed          int64
	PassiveFailures int64
}

type counters struct {
	received, duplicates, filtered, dropped, invoked, failed, passiveFailures atomic.Int64
}

// Dispatcher routes envelopes to plugins.
type Dispatcher struct {
	cfg      Config
	client   channels.Client
	services *plugins.Services
	dedup    *DedupWindow
	logger   *slog.Logger

	stats counters
	wg    sync.WaitGroup
}

// New creates a dispatcher. services.Registry must be set.
func New(cfg Config, client channels.Client, services *plugins.Services, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		services: services,
		dedup:    NewDedupWindow(cfg.DedupCapacity),
		logger:   logger.With("component", "dispatch"),
	}
}

// Run dispatches envelopes from in until it closes or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, in <-chan *channels.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			d.Handle(ctx, env)
		}
	}
}

// Wait blocks until every text plugin spawned so far has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:        d.stats.received.Load(),
		Duplicates:      d.stats.duplicates.Load(),
		Filtered:        d.stats.filtered.Load(),
		Dropped:         d.stats.dropped.Load(),
		Invoked:         d.stats.invoked.Load(),
		Failed:          d.stats.failed.Load(),
		PassiveFailures: d.stats.passiveFailures.Load(),
	}
}

// Policy returns the authorization policy in effect.
func (d *Dispatcher) Policy() access.Policy {
	p := access.Policy{Owners: d.cfg.Owners, Mode: access.ModePublic}
	if st := d.services.State; st != nil {
		p.Sudo = st.Settings.Sudo()
		p.Mode = st.Settings.Mode()
	}
	return p
}

// Handle dispatches one envelope.
func (d *Dispatcher) Handle(ctx context.Context, env *channels.Envelope) Outcome {
	d.stats.received.Add(1)

	if env == nil || env.ID == "" {
		d.stats.filtered.Add(1)
		return OutcomeInvalid
	}
	if d.dedup.Seen(env.ID) {
		d.stats.duplicates.Add(1)
		return OutcomeDuplicate
	}
	if skipEnvelope(env) {
		d.stats.filtered.Add(1)
		return OutcomeFiltered
	}

	snap := d.services.Registry.Snapshot()
	msg := message.Normalize(env, d.client)
	policy := d.Policy()
	auth := access.Resolve(policy, msg, d.client.SelfID(), d.client.GroupRoster)
	traceID := uuid.New().String()
	logger := d.logger.With("trace", traceID, "chat", msg.ChatID, "msg", msg.ID)

	for _, p := range snap.Always() {
		c := plugins.NewContext(msg, auth, d.services, logger)
		c.TraceID = traceID
		if err := d.safeRun(ctx, p, msg, c); err != nil {
			d.stats.passiveFailures.Add(1)
			logger.Debug("dispatch: always plugin failed", "plugin", p.Name, "error", err)
		}
	}

	if !policy.Allows(msg.IsGroup, auth.IsOwner) {
		d.stats.dropped.Add(1)
		return OutcomeMode
	}

	var (
		command, prefix, text string
		args                  []string
		fromSticker           bool
	)

	if line, ok := d.stickerCommand(msg); ok {
		command, args, text = tokenize(line)
		fromSticker = true
		logger.Debug("dispatch: sticker binding", "command", command)
	} else {
		if msg.Body != "" {
			d.spawnText(ctx, snap.Text(), msg, auth, traceID, logger)
		}

		var found bool
		prefix, found = d.services.Prefixes.Detect(msg.Body)
		if !found {
			d.stats.dropped.Add(1)
			return OutcomeNoCommand
		}
		command, args, text = tokenize(msg.Body[len(prefix):])
	}
	if command == "" {
		d.stats.dropped.Add(1)
		return OutcomeNoCommand
	}

	if st := d.services.State; st != nil && st.Disabled.IsDisabled(command) {
		d.stats.dropped.Add(1)
		logger.Debug("dispatch: command disabled", "command", command)
		return OutcomeDisabled
	}

	p, ok := snap.Resolve(command)
	if !ok {
		d.stats.dropped.Add(1)
		return OutcomeUnknown
	}

	if gate, ok := checkGates(ctx, p.Gates, msg, auth); !ok {
		d.stats.dropped.Add(1)
		logger.Debug("dispatch: gate denied", "command", command, "gate", gate, "sender", msg.SenderID)
		return OutcomeDenied
	}

	c := plugins.NewContext(msg, auth, d.services, logger)
	c.Command = command
	c.Args = args
	c.Text = text
	c.Prefix = prefix
	c.FromSticker = fromSticker
	c.TraceID = traceID

	runCtx := ctx
	if d.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.cfg.HandlerTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := d.safeRun(runCtx, p, msg, c); err != nil {
		d.stats.failed.Add(1)
		logger.Error("dispatch: command failed", "command", command, "plugin", p.Name, "error", err)
		return OutcomeFailed
	}
	d.stats.invoked.Add(1)
	logger.Info("dispatch: command handled", "command", command, "plugin", p.Name,
		"sender", msg.SenderID, "duration", time.Since(start))
	return OutcomeInvoked
}

// skipEnvelope reports envelopes that never reach plugins.
func skipEnvelope(env *channels.Envelope) bool {
	if env.ChatID == channels.StatusBroadcast {
		return true
	}
	switch env.Kind() {
	case channels.KindProtocol, channels.KindKeyDistribution, channels.KindReaction:
		return true
	}
	return false
}

// stickerCommand returns the command line bound to a sticker message.
func (d *Dispatcher) stickerCommand(msg *message.Message) (string, bool) {
	st := d.services.State
	if st == nil || msg.Kind != channels.KindSticker || msg.Media == nil {
		return "", false
	}
	return st.Bindings.Resolve(msg.Media.Fingerprint())
}

// spawnText starts every text plugin in its own goroutine. They are not
// awaited by the dispatch.
func (d *Dispatcher) spawnText(ctx context.Context, ps []*plugins.Plugin, msg *message.Message, auth *access.Auth, traceID string, logger *slog.Logger) {
	for _, p := range ps {
		c := plugins.NewContext(msg, auth, d.services, logger)
		c.TraceID = traceID
		d.wg.Add(1)
		go func(p *plugins.Plugin, c *plugins.Context) {
			defer d.wg.Done()
			if err := d.safeRun(ctx, p, msg, c); err != nil {
				d.stats.passiveFailures.Add(1)
				logger.Warn("dispatch: text plugin failed", "plugin", p.Name, "error", err)
			}
		}(p, c)
	}
}

// safeRun invokes a plugin, converting panics into errors.
func (d *Dispatcher) safeRun(ctx context.Context, p *plugins.Plugin, msg *message.Message, c *plugins.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", p.Name, r)
		}
	}()
	return p.Handler(ctx, d.client, msg, c)
}

// tokenize splits a command line into a lower-cased command, its
// arguments and the argument text.
func tokenize(line string) (command string, args []string, text string) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, ""
	}
	command = strings.ToLower(norm.NFKC.String(fields[0]))
	text = strings.TrimSpace(line[len(fields[0]):])
	return command, fields[1:], text
}

// checkGates applies the plugin's gates in order: creator, owner, sudo,
// group, private, admin. Returns the first failing gate.
func checkGates(ctx context.Context, g plugins.Gates, msg *message.Message, auth *access.Auth) (string, bool) {
	switch {
	case g.Creator && !auth.IsCreator:
		return "creator", false
	case g.Owner && !auth.IsOwner:
		return "owner", false
	case g.Sudo && !auth.IsOwner:
		return "sudo", false
	case g.Group && !msg.IsGroup:
		return "group", false
	case g.Private && msg.IsGroup:
		return "private", false
	case g.Admin && msg.IsGroup && !auth.IsOwner && !auth.IsAdmin(ctx):
		return "admin", false
	}
	return "", true
}
