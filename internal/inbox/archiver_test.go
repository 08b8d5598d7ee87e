package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/bus"
	"github.com/ffigueiredo/paperboy/internal/store"
)

type fakeArchive struct {
	mu   sync.Mutex
	recs []*store.InboxRecord
	err  error
}

func (f *fakeArchive) InsertInbox(ctx context.Context, rec *store.InboxRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeArchive) archived() []*store.InboxRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.InboxRecord, len(f.recs))
	copy(out, f.recs)
	return out
}

func (f *fakeArchive) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func waitForArchived(t *testing.T, archive *fakeArchive, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(archive.archived()) < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d archived records, have %d", want, len(archive.archived()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestArchiverPersistsInboundMessages(t *testing.T) {
	b := bus.New()
	archive := &fakeArchive{}
	a := NewArchiver(archive, b, zap.NewNop())

	a.Start(context.Background())
	defer a.Stop()

	rec := &store.InboxRecord{
		FromJID:    "5511999998888@s.whatsapp.net",
		ToJID:      "me@s.whatsapp.net",
		Message:    "hello",
		ReceivedAt: time.Now(),
	}
	b.Publish(bus.Event{Kind: "wa.message", Timestamp: time.Now(), Payload: rec})

	waitForArchived(t, archive, 1)
	got := archive.archived()[0]
	if got.FromJID != rec.FromJID || got.Message != rec.Message {
		t.Errorf("archived %+v, want %+v", got, rec)
	}
}

func TestArchiverIgnoresOtherEvents(t *testing.T) {
	b := bus.New()
	archive := &fakeArchive{}
	a := NewArchiver(archive, b, zap.NewNop())

	a.Start(context.Background())
	defer a.Stop()

	b.Publish(bus.Event{Kind: "wa.history", Timestamp: time.Now(), Payload: "not a record"})
	b.Publish(bus.Event{Kind: "wa.message", Timestamp: time.Now(), Payload: "wrong payload type"})

	time.Sleep(50 * time.Millisecond)
	if got := len(archive.archived()); got != 0 {
		t.Fatalf("archived %d records, want 0", got)
	}
}

func TestArchiverSurvivesInsertFailure(t *testing.T) {
	b := bus.New()
	archive := &fakeArchive{}
	archive.setErr(errors.New("table missing"))
	a := NewArchiver(archive, b, zap.NewNop())

	a.Start(context.Background())
	defer a.Stop()

	b.Publish(bus.Event{Kind: "wa.message", Timestamp: time.Now(), Payload: &store.InboxRecord{
		FromJID: "x@s.whatsapp.net", Message: "lost",
	}})
	time.Sleep(50 * time.Millisecond)

	// The failed insert is dropped; later messages still archive.
	archive.setErr(nil)
	b.Publish(bus.Event{Kind: "wa.message", Timestamp: time.Now(), Payload: &store.InboxRecord{
		FromJID: "y@s.whatsapp.net", Message: "kept",
	}})

	waitForArchived(t, archive, 1)
	if got := archive.archived()[0].Message; got != "kept" {
		t.Errorf("archived %q, want the post-recovery message", got)
	}
}

func TestArchiverStopEndsLoop(t *testing.T) {
	b := bus.New()
	archive := &fakeArchive{}
	a := NewArchiver(archive, b, zap.NewNop())

	a.Start(context.Background())
	a.Stop()

	// After Stop the subscription is gone: publishing reaches nobody.
	b.Publish(bus.Event{Kind: "wa.message", Timestamp: time.Now(), Payload: &store.InboxRecord{Message: "late"}})
	time.Sleep(50 * time.Millisecond)
	if got := len(archive.archived()); got != 0 {
		t.Fatalf("archived %d records after Stop, want 0", got)
	}
}
