package database

import "time"

// Message is one archived chat turn. The archive is operational history for
// debugging and analysis; the CSV transcript store remains the durable
// per-survey record.
type Message struct {
	ID        uint      `db:"id"`
	SessionID string    `db:"session_id"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}
