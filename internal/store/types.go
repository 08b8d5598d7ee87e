package store

import "time"

// OutboxRow is one messages_outbox row waiting to be relayed. Only the
// columns the relay acts on are carried; sent_at and wa_msg_id stay in the
// table and are written by MarkOutboxSent.
type OutboxRow struct {
	ID      int64
	To      string // empty means the default group
	Message string
}

// InboxRecord is one inbound message bound for messages_inbox.
type InboxRecord struct {
	FromJID    string
	ToJID      string
	Message    string
	ReceivedAt time.Time
}
