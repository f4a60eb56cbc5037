package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"scriptroom/internal/events"
	"scriptroom/internal/script"
	"scriptroom/internal/session"
	"scriptroom/internal/transport"
)

// Scripts is the part of the session the dispatcher drives.
type Scripts interface {
	Resolve(sel session.Selector) (script.Stored, error)
	Run(ctx context.Context, id string) (string, error)
	StopExecution(scriptID, execID string)
	Delete(ctx context.Context, id string) error
	Notify(level events.Level, msg string)
}

// Dispatcher handles protocol messages arriving on Channel.
type Dispatcher struct {
	scripts Scripts
	msgr    transport.Messenger
	logger  *slog.Logger

	mu    sync.Mutex
	unsub func()
}

// NewDispatcher creates a dispatcher. Call Start to begin receiving.
func NewDispatcher(scripts Scripts, msgr transport.Messenger, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		scripts: scripts,
		msgr:    msgr,
		logger:  logger.With("component", "broadcast"),
	}
}

// Start subscribes to Channel.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unsub != nil {
		return
	}
	d.unsub = d.msgr.Subscribe(Channel, func(m transport.Message) {
		d.Handle(ctx, m.From, m.Payload)
	})
	d.logger.Info("listening", "channel", Channel)
}

// Stop unsubscribes.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unsub != nil {
		d.unsub()
		d.unsub = nil
	}
}

// Handle processes one raw message. Failures are logged and surfaced as
// warnings; nothing is acknowledged back except RUN_SCRIPT replies.
func (d *Dispatcher) Handle(ctx context.Context, from string, raw []byte) {
	m, err := Decode(raw)
	if err != nil {
		d.logger.Warn("invalid message", "from", from, "err", err)
		d.scripts.Notify(events.LevelWarning, "Ignoring invalid message")
		return
	}

	sc, err := d.scripts.Resolve(m.Selector())
	if err != nil {
		d.logger.Warn("failed to find script", "from", from, "selector", m.Selector().String(), "err", err)
		d.scripts.Notify(events.LevelWarning, "Script not found, ignoring")
		return
	}

	switch m.Type {
	case TypeRunScript:
		d.run(ctx, m, sc)
	case TypeStopExecution:
		d.logger.Debug("stop requested", "from", from, "script", sc.ID, "execution", m.ExecutionID)
		d.scripts.StopExecution(sc.ID, m.ExecutionID)
	case TypeRemoveScript:
		if err := d.scripts.Delete(ctx, sc.ID); err != nil {
			d.logger.Error("remove script failed", "script", sc.ID, "err", err)
			d.scripts.Notify(events.LevelError, fmt.Sprintf("Failed to remove script %q", sc.Name))
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, m Message, sc script.Stored) {
	execID, err := d.scripts.Run(ctx, sc.ID)
	if err != nil {
		d.logger.Error("run failed", "script", sc.ID, "err", err)
	}
	if m.ReplyTo == "" {
		return
	}

	var reply Reply
	if execID != "" {
		reply.ExecutionID = &execID
	}
	dest := m.Destination
	if dest == "" {
		dest = transport.DestinationRemote
	}
	if err := d.msgr.Send(ctx, m.ReplyTo, reply, dest); err != nil {
		d.logger.Error("send reply failed", "channel", m.ReplyTo, "err", err)
	}
}

// Send publishes m on Channel after validating it.
func Send(ctx context.Context, msgr transport.Messenger, m Message, dest transport.Destination) error {
	if err := Validate(m); err != nil {
		return err
	}
	if err := msgr.Send(ctx, Channel, m, dest); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}
