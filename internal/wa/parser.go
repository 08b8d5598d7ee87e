package wa

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/ffigueiredo/paperboy/internal/store"
)

// ExtractText pulls the human-readable body out of a message. Plain and
// extended text bodies win, media captions come second. Returns "" for
// messages carrying no text at all (stickers, reactions, protocol frames).
func ExtractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

// InboxRecordFromEvent normalizes a live message event into an inbox record.
// selfJID is recorded as the receiving side. Sender JIDs are stripped of
// device suffixes so the same contact always archives under one JID.
func InboxRecordFromEvent(evt *events.Message, selfJID string) *store.InboxRecord {
	return &store.InboxRecord{
		FromJID:    evt.Info.Sender.ToNonAD().String(),
		ToJID:      selfJID,
		Message:    ExtractText(evt.Message),
		ReceivedAt: evt.Info.Timestamp,
	}
}
