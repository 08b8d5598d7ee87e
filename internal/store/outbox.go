package store

import (
	"context"
	"database/sql"
	"time"
)

// PendingOutbox returns rows not yet relayed, oldest first.
func (db *DB) PendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, COALESCE(to_jid, ''), message
		FROM messages_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var pending []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.To, &r.Message); err != nil {
			return nil, err
		}
		pending = append(pending, r)
	}
	return pending, rows.Err()
}

// MarkOutboxSent stamps a row as relayed, keeping the first receipt if the
// row was somehow marked twice. An empty receipt is stored as NULL.
func (db *DB) MarkOutboxSent(ctx context.Context, id int64, receiptID string) error {
	var waMsgID sql.NullString
	if receiptID != "" {
		waMsgID = sql.NullString{String: receiptID, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		UPDATE messages_outbox
		SET sent_at = $1, wa_msg_id = $2
		WHERE id = $3 AND sent_at IS NULL`,
		time.Now().UTC(), waMsgID, id)
	return err
}

// QueueOutbox inserts a message for later relay and returns its row id. An
// empty to leaves to_jid NULL, which routes to the default group.
func (db *DB) QueueOutbox(ctx context.Context, to, message string) (int64, error) {
	var toJID sql.NullString
	if to != "" {
		toJID = sql.NullString{String: to, Valid: true}
	}
	var id int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO messages_outbox (to_jid, message)
		VALUES ($1, $2)
		RETURNING id`,
		toJID, message).Scan(&id)
	return id, err
}
