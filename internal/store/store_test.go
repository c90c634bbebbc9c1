package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("posesync_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	// Get Connection String
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	older := Session{
		ID:        uuid.New(),
		Device:    "/dev/video0",
		Width:     1280,
		Height:    720,
		StartedAt: time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond),
	}
	newer := Session{
		ID:        uuid.New(),
		Device:    "/dev/video1",
		Width:     1920,
		Height:    1080,
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	for _, sess := range []Session{older, newer} {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	stopped := older.StartedAt.Add(5 * time.Minute)
	if err := s.FinishSession(ctx, older.ID, stopped, 300, 120); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}

	// Finishing an unknown session is reported
	err = s.FinishSession(ctx, uuid.New(), stopped, 1, 1)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	sessions, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != newer.ID {
		t.Errorf("Expected newest session first, got %s", sessions[0].ID)
	}
	if sessions[0].StoppedAt != nil {
		t.Errorf("Expected running session to have no stop time, got %v", sessions[0].StoppedAt)
	}
	got := sessions[1]
	if got.Frames != 300 || got.Detections != 120 {
		t.Errorf("Expected counters 300/120, got %d/%d", got.Frames, got.Detections)
	}
	if got.StoppedAt == nil || !got.StoppedAt.Equal(stopped) {
		t.Errorf("Expected stop time %v, got %v", stopped, got.StoppedAt)
	}
	if got.Width != 1280 || got.Height != 720 || got.Device != "/dev/video0" {
		t.Errorf("Unexpected session metadata: %+v", got)
	}

	limited, err := s.ListSessions(ctx, 1)
	if err != nil {
		t.Fatalf("ListSessions with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 session with limit, got %d", len(limited))
	}

	// Reset drops the table; the schema is recreated on the next connect
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListSessions(ctx, 0); err == nil {
		t.Error("Expected an error listing sessions after reset")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
