package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrMessageNotFound is returned when mark_read targets an unknown message.
var ErrMessageNotFound = errors.New("store: message not found")

// Messages performs message read-status updates against PostgreSQL.
type Messages struct {
	db *sql.DB
}

// NewMessages creates a message store backed by the given database handle.
func NewMessages(db *sql.DB) *Messages {
	return &Messages{db: db}
}

// MarkRead flips a message's read status and records who read it and when.
// Marking an already-read message refreshes the reader and timestamp, which
// matches how the panel surfaces "last read by". Returns the stored read
// time for the message_read broadcast.
func (m *Messages) MarkRead(ctx context.Context, messageID, readerID string) (time.Time, error) {
	const query = `
		UPDATE messages
		SET read = TRUE, read_by = $2, read_at = NOW()
		WHERE id = $1
		RETURNING read_at`

	var readAt time.Time
	err := m.db.QueryRowContext(ctx, query, messageID, readerID).Scan(&readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrMessageNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: mark read: %w", err)
	}
	return readAt, nil
}
