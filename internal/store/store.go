package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrSessionNotFound is returned when finishing a session that was never created.
var ErrSessionNotFound = errors.New("capture session not found")

// Session is the bookkeeping for one capture stream, from Start to Stop. Only counters are
// kept; poses and centroids are never persisted.
type Session struct {
	ID         uuid.UUID
	Device     string
	Width      int
	Height     int
	StartedAt  time.Time
	StoppedAt  *time.Time
	Frames     int64
	Detections int64
}

// Store manages the PostgreSQL connection.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the session table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS capture_sessions (
			id UUID PRIMARY KEY,
			device TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			stopped_at TIMESTAMPTZ,
			frames BIGINT NOT NULL DEFAULT 0,
			detections BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS capture_sessions_started_at_idx ON capture_sessions (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// CreateSession records the start of a capture stream.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(ctx, `
		INSERT INTO capture_sessions (id, device, width, height, started_at)
		VALUES ($1::uuid, $2, $3, $4, $5)
	`, sess.ID.String(), sess.Device, sess.Width, sess.Height, sess.StartedAt)
	return err
}

// FinishSession stamps the stop time and final counters.
func (s *Store) FinishSession(ctx context.Context, id uuid.UUID, stoppedAt time.Time, frames, detections int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.conn.Exec(ctx, `
		UPDATE capture_sessions SET stopped_at = $2, frames = $3, detections = $4
		WHERE id = $1::uuid
	`, id.String(), stoppedAt, frames, detections)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// ListSessions returns the most recent sessions first. limit <= 0 returns all of them.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id::text, device, width, height, started_at, stopped_at, frames, detections
		FROM capture_sessions
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var id string
		if err := rows.Scan(&id, &sess.Device, &sess.Width, &sess.Height, &sess.StartedAt, &sess.StoppedAt, &sess.Frames, &sess.Detections); err != nil {
			return nil, err
		}
		if sess.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad session id %q: %w", id, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS capture_sessions CASCADE;`)
	return err
}
