package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look at this")}}, "look at this"},
		{"video caption", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("clip")}}, "clip"},
		{"document caption", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("the report")}}, "the report"},
		{"image without caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractText(tt.msg)
			if got != tt.want {
				t.Errorf("ExtractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInboxRecordFromEvent(t *testing.T) {
	ts := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "5511999998888", Server: "s.whatsapp.net"},
				Sender: types.JID{User: "5511999998888", Server: "s.whatsapp.net"},
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	rec := InboxRecordFromEvent(evt, "5521888887777@s.whatsapp.net")

	if rec.FromJID != "5511999998888@s.whatsapp.net" {
		t.Errorf("FromJID = %q, want 5511999998888@s.whatsapp.net", rec.FromJID)
	}
	if rec.ToJID != "5521888887777@s.whatsapp.net" {
		t.Errorf("ToJID = %q, want 5521888887777@s.whatsapp.net", rec.ToJID)
	}
	if rec.Message != "hello world" {
		t.Errorf("Message = %q, want hello world", rec.Message)
	}
	if !rec.ReceivedAt.Equal(ts) {
		t.Errorf("ReceivedAt = %v, want %v", rec.ReceivedAt, ts)
	}
}

// Device-specific sender JIDs must normalize to the canonical user JID so the
// same contact never archives under two different identities.
func TestInboxRecordStripsDeviceSuffix(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "M1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 1},
				Sender: types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	}

	rec := InboxRecordFromEvent(evt, "me@s.whatsapp.net")
	if rec.FromJID != "558592403672@s.whatsapp.net" {
		t.Errorf("FromJID = %q, want 558592403672@s.whatsapp.net (device suffix not stripped)", rec.FromJID)
	}
}

func TestInboxRecordMediaCaption(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "IMG1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "c", Server: "s.whatsapp.net"},
				Sender: types.JID{User: "c", Server: "s.whatsapp.net"},
			},
		},
		Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("receipt")}},
	}

	rec := InboxRecordFromEvent(evt, "me@s.whatsapp.net")
	if rec.Message != "receipt" {
		t.Errorf("Message = %q, want receipt", rec.Message)
	}
}
