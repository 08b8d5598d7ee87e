package store

import "context"

// InsertInbox archives one inbound message.
func (db *DB) InsertInbox(ctx context.Context, rec *InboxRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages_inbox (from_jid, to_jid, message, received_at)
		VALUES ($1, $2, $3, $4)`,
		rec.FromJID, rec.ToJID, rec.Message, rec.ReceivedAt.UTC())
	return err
}
