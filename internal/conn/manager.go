// Package conn owns the WhatsApp session lifecycle: dialing, QR pairing,
// redialing after drops and the hard stop after a remote logout. It is the
// only component that touches the transport's connect and disconnect calls.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/bus"
	"github.com/ffigueiredo/paperboy/internal/status"
	"github.com/ffigueiredo/paperboy/internal/wa"
)

// ErrNotOpen is returned by Send when the session is not in the Open state.
// Callers are expected to leave their work pending and retry on a later
// cycle rather than queue sends here.
var ErrNotOpen = errors.New("session is not open")

// Transport is the slice of the WhatsApp adapter the manager drives.
type Transport interface {
	IsLoggedIn() bool
	Connect() error
	Disconnect()
	ClearCredentials(ctx context.Context) error
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	RegisterEventHandler(handler whatsmeow.EventHandler)
	SendText(ctx context.Context, jid string, text string) (string, error)
	SelfJID() string
}

// Manager drives the session state machine. It dials on start, runs the QR
// pairing flow when no credentials exist, redials with jittered backoff when
// the link drops, and halts for good when the account logs the device out.
type Manager struct {
	transport Transport
	machine   *status.Machine
	bus       *bus.Bus
	backoff   *Backoff
	logger    *zap.Logger

	mu     sync.Mutex
	halted bool

	redial chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// NewManager creates a manager. Start must be called before the session can
// open.
func NewManager(transport Transport, machine *status.Machine, b *bus.Bus, backoff *Backoff, logger *zap.Logger) *Manager {
	return &Manager{
		transport: transport,
		machine:   machine,
		bus:       b,
		backoff:   backoff,
		logger:    logger,
		redial:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start registers the event handler and dials in the background. It does not
// wait for the session to open.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.transport.RegisterEventHandler(m.handleEvent)
	go m.run(ctx)
}

// Stop moves the machine to Closing, tears down the connection and waits for
// the dial loop to exit or ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	_ = m.machine.Transition(status.Closing)
	if m.cancel != nil {
		m.cancel()
	}
	m.transport.Disconnect()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers a text message through the open session. It fails fast with
// ErrNotOpen while the session is down so callers keep their items pending.
func (m *Manager) Send(ctx context.Context, to string, text string) (string, error) {
	if m.machine.Current() != status.Open {
		return "", ErrNotOpen
	}
	return m.transport.SendText(ctx, to, text)
}

// SelfJID returns the JID of the paired device, or empty when unpaired.
func (m *Manager) SelfJID() string {
	return m.transport.SelfJID()
}

// run is the dial loop. The first dial is immediate; every later one waits
// for a redial signal and a backoff delay.
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	m.dial(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.redial:
		}

		if m.isHalted() {
			continue
		}

		delay := m.backoff.Next()
		m.logger.Info("redialing after backoff", zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if m.isHalted() {
			continue
		}
		m.dial(ctx)
	}
}

// dial brings the session up. With stored credentials it connects directly;
// without them it opens the QR channel first, as whatsmeow requires, and
// streams pairing codes onto the bus.
func (m *Manager) dial(ctx context.Context) {
	if m.machine.Current() == status.Closing {
		return
	}
	if err := m.machine.Transition(status.Pairing); err != nil {
		m.logger.Warn("dial skipped", zap.Error(err))
		return
	}

	if !m.transport.IsLoggedIn() {
		qrCh, err := m.transport.GetQRChannel(ctx)
		if err != nil {
			m.logger.Error("could not open QR channel", zap.Error(err))
			m.dialFailed()
			return
		}
		if err := m.transport.Connect(); err != nil {
			m.logger.Error("connect failed", zap.Error(err))
			m.dialFailed()
			return
		}
		go m.pairFlow(qrCh)
		return
	}

	if err := m.transport.Connect(); err != nil {
		m.logger.Error("connect failed", zap.Error(err))
		m.dialFailed()
	}
}

func (m *Manager) dialFailed() {
	if m.machine.Current() == status.Pairing {
		_ = m.machine.Transition(status.Disconnected)
	}
	m.signalRedial()
}

// pairFlow consumes the QR channel until pairing succeeds or gives up. Codes
// rotate every ~20 seconds; each one replaces the previous on the bus.
func (m *Manager) pairFlow(qrCh <-chan whatsmeow.QRChannelItem) {
	for item := range qrCh {
		switch item.Event {
		case "code":
			m.logger.Info("QR code issued, scan it with the phone")
			m.bus.Publish(bus.Event{Kind: "session.qr", Timestamp: time.Now(), Payload: item.Code})
		case "success":
			m.logger.Info("QR pairing succeeded")
			m.bus.Publish(bus.Event{Kind: "session.qr_cleared", Timestamp: time.Now()})
			return
		case "timeout":
			m.logger.Warn("QR pairing timed out, will retry")
			m.bus.Publish(bus.Event{Kind: "session.qr_cleared", Timestamp: time.Now()})
			m.dialFailed()
			return
		default:
			if item.Error != nil {
				m.logger.Error("QR pairing failed", zap.Error(item.Error))
				m.bus.Publish(bus.Event{Kind: "session.qr_cleared", Timestamp: time.Now()})
				m.dialFailed()
				return
			}
		}
	}
}

// handleEvent receives whatsmeow events. It runs on whatsmeow's event
// goroutine, so everything here must return quickly.
func (m *Manager) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		m.logger.Info("session open", zap.String("jid", m.transport.SelfJID()))
		m.backoff.Reset()
		_ = m.machine.Transition(status.Open)
		m.bus.Publish(bus.Event{Kind: "session.open", Timestamp: time.Now(), Payload: m.transport.SelfJID()})

	case *events.PairSuccess:
		m.logger.Info("device paired", zap.String("jid", evt.ID.String()))

	case *events.Disconnected:
		if m.machine.Current() == status.Closing || m.isHalted() {
			return
		}
		m.logger.Warn("session dropped")
		_ = m.machine.Transition(status.Disconnected)
		m.signalRedial()

	case *events.LoggedOut:
		m.logger.Warn("device logged out, halting until re-paired",
			zap.String("reason", evt.Reason.String()))
		m.setHalted()
		_ = m.machine.Transition(status.Disconnected)
		if err := m.transport.ClearCredentials(context.Background()); err != nil {
			m.logger.Error("could not clear credentials", zap.Error(err))
		}
		m.bus.Publish(bus.Event{Kind: "session.logged_out", Timestamp: time.Now(), Payload: evt.Reason.String()})

	case *events.Message:
		m.handleMessage(evt)
	}
}

// handleMessage archives live inbound traffic. Own echoes and bodyless
// frames (receipts, reactions, protocol messages) are dropped here so the
// inbox only carries things a human wrote.
func (m *Manager) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}
	rec := wa.InboxRecordFromEvent(evt, m.transport.SelfJID())
	if rec.Message == "" {
		return
	}
	m.bus.Publish(bus.Event{Kind: "wa.message", Timestamp: time.Now(), Payload: rec})
}

func (m *Manager) signalRedial() {
	select {
	case m.redial <- struct{}{}:
	default:
	}
}

func (m *Manager) isHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

func (m *Manager) setHalted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
}
