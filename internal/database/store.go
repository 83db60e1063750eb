package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for message archive operations. Methods
// accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessage inserts a new archived message.
	SaveMessage(ctx context.Context, message *Message) error

	// GetSessionMessages retrieves up to limit messages for a session, in
	// append order.
	GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	// CountMessages returns the total number of archived messages.
	CountMessages(ctx context.Context) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.SessionID == "" {
		return fmt.Errorf("message must have a session_id")
	}
	if message.Role == "" {
		return fmt.Errorf("message must have a role")
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO messages (session_id, role, content, created_at)
        VALUES (:session_id, :role, :content, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "session_id", message.SessionID, "error", err)
		return fmt.Errorf("failed to save message for session %s: %w", message.SessionID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // row IDs stay far below the uint conversion boundary
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"session_id", message.SessionID, "error", err)
	}

	s.logger.DebugContext(ctx, "Message archived", "session_id", message.SessionID, "role", message.Role, "message_id", message.ID)
	return nil
}

func (s *sqlxStore) GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id cannot be empty")
	}
	if limit <= 0 {
		limit = 200
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []*Message
	query := `
        SELECT id, session_id, role, content, created_at
        FROM messages
        WHERE session_id = ?
        ORDER BY id ASC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, sessionID, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages",
			"session_id", sessionID, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting session messages", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to get messages for session %s: %w", sessionID, err)
	}

	return messages, nil
}

func (s *sqlxStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages`); err != nil {
		s.logger.ErrorContext(ctx, "Error counting messages", "error", err)
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed")
	return nil
}
