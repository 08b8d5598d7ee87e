// Package outbox relays rows queued in messages_outbox out to WhatsApp.
// Other services insert rows; this engine is their only way to make the
// relay speak.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/status"
	"github.com/ffigueiredo/paperboy/internal/store"
)

// batchSize bounds how many rows one cycle drains.
const batchSize = 50

// Queue is the slice of the relational store the engine drains.
type Queue interface {
	PendingOutbox(ctx context.Context, limit int) ([]store.OutboxRow, error)
	MarkOutboxSent(ctx context.Context, id int64, receiptID string) error
}

// Sender delivers one text message and returns the server receipt.
type Sender interface {
	Send(ctx context.Context, to string, text string) (string, error)
}

// StateSource reports the current session state.
type StateSource interface {
	Current() status.State
}

// Engine polls messages_outbox and relays pending rows oldest first. A row
// is marked sent only after the transport accepts it; a failed row stays
// pending for the next cycle, so delivery is at-least-once.
type Engine struct {
	queue    Queue
	sender   Sender
	state    StateSource
	groupJID string
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngine creates an outbox engine. Rows without a to_jid go to groupJID.
func NewEngine(queue Queue, sender Sender, state StateSource, groupJID string, interval time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		queue:    queue,
		sender:   sender,
		state:    state,
		groupJID: groupJID,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling in the background.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.loop(ctx)
}

// Stop halts polling and waits for an in-flight cycle to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// loop runs cycles inline on the ticker goroutine, so cycles never overlap.
func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.cycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) cycle(ctx context.Context) {
	if e.state.Current() != status.Open {
		return
	}

	pending, err := e.queue.PendingOutbox(ctx, batchSize)
	if err != nil {
		e.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, row := range pending {
		e.relay(ctx, row)
	}
}

// relay sends one row. A row with an empty message is left pending and
// flagged for the operator: marking it sent would silently swallow whatever
// the producing service meant to say.
func (e *Engine) relay(ctx context.Context, row store.OutboxRow) {
	if row.Message == "" {
		e.logger.Warn("outbox row has no message, leaving pending", zap.Int64("id", row.ID))
		return
	}

	target := row.To
	if target == "" {
		target = e.groupJID
	}

	receiptID, err := e.sender.Send(ctx, target, row.Message)
	if err != nil {
		e.logger.Warn("outbox send failed, row stays pending",
			zap.Int64("id", row.ID),
			zap.Error(err))
		return
	}

	if err := e.queue.MarkOutboxSent(ctx, row.ID, receiptID); err != nil {
		e.logger.Error("row sent but not marked, it may send again",
			zap.Int64("id", row.ID),
			zap.Error(err))
		return
	}
	e.logger.Info("outbox row relayed",
		zap.Int64("id", row.ID),
		zap.String("wa_msg_id", receiptID))
}
