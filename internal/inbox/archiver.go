// Package inbox archives live inbound messages into messages_inbox.
package inbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/bus"
	"github.com/ffigueiredo/paperboy/internal/store"
)

// Archive is the slice of the relational store the archiver writes to.
type Archive interface {
	InsertInbox(ctx context.Context, rec *store.InboxRecord) error
}

// Archiver subscribes to inbound message events and persists them.
// Archiving is best effort: an insert failure drops that one message and is
// logged, it never disturbs the relay.
type Archiver struct {
	archive Archive
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewArchiver creates an archiver.
func NewArchiver(archive Archive, b *bus.Bus, logger *zap.Logger) *Archiver {
	return &Archiver{
		archive: archive,
		bus:     b,
		logger:  logger,
	}
}

// Start subscribes to inbound WhatsApp events on the bus.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	ch, unsub := a.bus.Subscribe("wa.", 256)

	go func() {
		defer close(a.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				a.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the archiver.
func (a *Archiver) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

func (a *Archiver) handleEvent(ctx context.Context, evt bus.Event) {
	if evt.Kind != "wa.message" {
		return
	}
	rec, ok := evt.Payload.(*store.InboxRecord)
	if !ok {
		return
	}
	if err := a.archive.InsertInbox(ctx, rec); err != nil {
		a.logger.Error("failed to archive inbound message",
			zap.String("from", rec.FromJID),
			zap.Error(err))
		return
	}
	a.logger.Debug("inbound message archived", zap.String("from", rec.FromJID))
}
