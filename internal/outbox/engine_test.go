package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/status"
	"github.com/ffigueiredo/paperboy/internal/store"
)

type markCall struct {
	ID      int64
	Receipt string
}

type fakeQueue struct {
	mu      sync.Mutex
	rows    []store.OutboxRow
	readErr error
	markErr error
	marked  []markCall
	reads   int
}

func (f *fakeQueue) PendingOutbox(ctx context.Context, limit int) ([]store.OutboxRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []store.OutboxRow
	for _, r := range f.rows {
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeQueue) MarkOutboxSent(ctx context.Context, id int64, receiptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, markCall{ID: id, Receipt: receiptID})
	for i, r := range f.rows {
		if r.ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeQueue) markedCalls() []markCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]markCall, len(f.marked))
	copy(out, f.marked)
	return out
}

func (f *fakeQueue) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type sendCall struct {
	To   string
	Text string
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
	id    string
}

func (f *fakeSender) Send(ctx context.Context, to string, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{To: to, Text: text})
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func (f *fakeSender) sent() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sendCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeState struct {
	mu sync.Mutex
	s  status.State
}

func (f *fakeState) Current() status.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func newTestEngine(queue *fakeQueue, sender *fakeSender, state *fakeState) *Engine {
	return NewEngine(queue, sender, state, "12036302@g.us", 10*time.Millisecond, zap.NewNop())
}

func TestCycleRelaysPendingRows(t *testing.T) {
	queue := &fakeQueue{rows: []store.OutboxRow{
		{ID: 1, Message: "first"},
		{ID: 2, To: "5511999998888@s.whatsapp.net", Message: "second"},
	}}
	sender := &fakeSender{id: "WAMID"}
	state := &fakeState{s: status.Open}
	e := newTestEngine(queue, sender, state)

	e.cycle(context.Background())

	calls := sender.sent()
	if len(calls) != 2 {
		t.Fatalf("sent %d messages, want 2", len(calls))
	}
	if calls[0].To != "12036302@g.us" || calls[0].Text != "first" {
		t.Errorf("call 1 = %+v, want the default group target", calls[0])
	}
	if calls[1].To != "5511999998888@s.whatsapp.net" || calls[1].Text != "second" {
		t.Errorf("call 2 = %+v, want the row's own target", calls[1])
	}

	marked := queue.markedCalls()
	if len(marked) != 2 {
		t.Fatalf("marked %d rows, want 2", len(marked))
	}
	if marked[0] != (markCall{ID: 1, Receipt: "WAMID"}) {
		t.Errorf("mark 1 = %+v", marked[0])
	}
}

func TestCycleSkipsWhileSessionDown(t *testing.T) {
	queue := &fakeQueue{rows: []store.OutboxRow{{ID: 1, Message: "held"}}}
	sender := &fakeSender{}
	state := &fakeState{s: status.Pairing}
	e := newTestEngine(queue, sender, state)

	e.cycle(context.Background())

	if queue.readCount() != 0 {
		t.Error("a closed session must not query the outbox")
	}
	if len(sender.sent()) != 0 {
		t.Error("a closed session must not send")
	}
}

func TestSendFailureLeavesRowPending(t *testing.T) {
	queue := &fakeQueue{rows: []store.OutboxRow{{ID: 7, Message: "retry me"}}}
	sender := &fakeSender{err: errors.New("session dropped mid-cycle")}
	state := &fakeState{s: status.Open}
	e := newTestEngine(queue, sender, state)

	e.cycle(context.Background())

	if len(queue.markedCalls()) != 0 {
		t.Fatal("a failed send must not mark the row")
	}

	// Transport recovers: the same row relays on the next cycle.
	sender.mu.Lock()
	sender.err = nil
	sender.id = "WAMID7"
	sender.mu.Unlock()

	e.cycle(context.Background())

	marked := queue.markedCalls()
	if len(marked) != 1 || marked[0].ID != 7 || marked[0].Receipt != "WAMID7" {
		t.Fatalf("marked = %+v, want row 7 with WAMID7", marked)
	}
}

func TestEmptyMessageRowIsSkipped(t *testing.T) {
	queue := &fakeQueue{rows: []store.OutboxRow{
		{ID: 1, Message: ""},
		{ID: 2, Message: "real"},
	}}
	sender := &fakeSender{id: "WAMID"}
	state := &fakeState{s: status.Open}
	e := newTestEngine(queue, sender, state)

	e.cycle(context.Background())

	calls := sender.sent()
	if len(calls) != 1 || calls[0].Text != "real" {
		t.Fatalf("calls = %+v, want only the real message", calls)
	}
	marked := queue.markedCalls()
	if len(marked) != 1 || marked[0].ID != 2 {
		t.Fatalf("marked = %+v, want only row 2; empty rows stay pending", marked)
	}
}

func TestQueueReadFailureSkipsCycle(t *testing.T) {
	queue := &fakeQueue{readErr: errors.New("connection refused")}
	sender := &fakeSender{}
	state := &fakeState{s: status.Open}
	e := newTestEngine(queue, sender, state)

	e.cycle(context.Background())

	if len(sender.sent()) != 0 {
		t.Error("a failed read must not send anything")
	}
}

func TestMarkFailureDoesNotStopTheBatch(t *testing.T) {
	queue := &fakeQueue{
		rows:    []store.OutboxRow{{ID: 1, Message: "a"}, {ID: 2, Message: "b"}},
		markErr: errors.New("connection reset"),
	}
	sender := &fakeSender{id: "WAMID"}
	state := &fakeState{s: status.Open}
	e := newTestEngine(queue, sender, state)

	e.cycle(context.Background())

	if got := len(sender.sent()); got != 2 {
		t.Fatalf("sent %d messages, want 2 even when marking fails", got)
	}
}

func TestStartStop(t *testing.T) {
	queue := &fakeQueue{rows: []store.OutboxRow{{ID: 1, Message: "hello"}}}
	sender := &fakeSender{id: "WAMID"}
	state := &fakeState{s: status.Open}
	e := newTestEngine(queue, sender, state)

	e.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(queue.markedCalls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the row to relay")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.Stop()

	if got := len(sender.sent()); got != 1 {
		t.Fatalf("sent %d messages, want exactly 1", got)
	}
}
