// Package bucket polls the storage bucket and announces new documents to
// the group.
package bucket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/status"
	"github.com/ffigueiredo/paperboy/internal/supabase"
)

// docSuffix is the only object kind announced. Everything else in the
// bucket is left alone.
const docSuffix = ".pdf"

// listLimit bounds one listing page.
const listLimit = 100

// Storage is the slice of the storage client the engine uses.
type Storage interface {
	List(ctx context.Context, prefix string, limit int) ([]supabase.Object, error)
	PublicURL(name string) (string, error)
	Bucket() string
}

// Sender delivers one text message and returns the server receipt.
type Sender interface {
	Send(ctx context.Context, to string, text string) (string, error)
}

// Ledger is the durable dedup set keyed by object name.
type Ledger interface {
	Contains(name string) bool
	Add(name string) error
}

// StateSource reports the current session state.
type StateSource interface {
	Current() status.State
}

// Engine announces bucket documents that are not yet in the ledger. A
// document is sent first and recorded after: a crash between the two
// repeats the announcement on the next run instead of losing it.
type Engine struct {
	storage  Storage
	sender   Sender
	ledger   Ledger
	state    StateSource
	groupJID string
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngine creates a bucket engine announcing to groupJID every interval.
func NewEngine(storage Storage, sender Sender, ledger Ledger, state StateSource, groupJID string, interval time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		storage:  storage,
		sender:   sender,
		ledger:   ledger,
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

// loop runs cycles inline on the ticker goroutine, so cycles never overlap;
// a slow pass simply delays the next tick.
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

	objects, err := e.storage.List(ctx, "", listLimit)
	if err != nil {
		e.logger.Error("bucket listing failed", zap.Error(err))
		return
	}

	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, docSuffix) {
			continue
		}
		if e.ledger.Contains(obj.Name) {
			continue
		}
		e.announce(ctx, obj.Name)
	}
}

// announce sends one document link and then records it. On a send failure
// the object stays off the ledger and the next cycle tries again.
func (e *Engine) announce(ctx context.Context, name string) {
	url, err := e.storage.PublicURL(name)
	if err != nil {
		e.logger.Error("could not build public URL",
			zap.String("object", name),
			zap.Error(err))
		return
	}

	text := fmt.Sprintf("New document: %s\n%s", name, url)
	if _, err := e.sender.Send(ctx, e.groupJID, text); err != nil {
		e.logger.Warn("announcement failed, will retry next cycle",
			zap.String("object", name),
			zap.Error(err))
		return
	}

	if err := e.ledger.Add(name); err != nil {
		e.logger.Error("announced but not recorded, may repeat after restart",
			zap.String("object", name),
			zap.Error(err))
		return
	}
	e.logger.Info("document announced",
		zap.String("object", name),
		zap.String("bucket", e.storage.Bucket()))
}
