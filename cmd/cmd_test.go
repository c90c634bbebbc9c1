package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/posesync/internal/capture"
	"github.com/andresmejia3/posesync/internal/config"
	"github.com/andresmejia3/posesync/internal/store"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{3661 * time.Second, "01:01:01"},
		{-time.Second, "00:00:00"},
	}

	for _, tt := range tests {
		if got := fmtDuration(tt.d); got != tt.want {
			t.Errorf("fmtDuration(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestApplyTrackFlags(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
		check   func(t *testing.T, cfg config.Config)
	}{
		{
			name: "Defaults untouched",
			opts: Options{View: viewTUI},
			check: func(t *testing.T, cfg config.Config) {
				if cfg.Capture.Device != "/dev/video0" {
					t.Errorf("Expected default device, got %s", cfg.Capture.Device)
				}
			},
		},
		{
			name: "Overrides applied",
			opts: Options{View: viewLog, Device: "/dev/video3", Format: "avfoundation", OverlayDir: "/tmp/ov", ModelPath: "m.glb", RefreshRate: 30},
			check: func(t *testing.T, cfg config.Config) {
				if cfg.Capture.Device != "/dev/video3" || cfg.Capture.Format != "avfoundation" {
					t.Errorf("Capture overrides not applied: %+v", cfg.Capture)
				}
				if cfg.Overlay.DumpDir != "/tmp/ov" || cfg.Scene.Model != "m.glb" {
					t.Errorf("Overlay/model overrides not applied")
				}
				if cfg.Capture.RefreshRate != 30 || cfg.Scene.RefreshRate != 30 {
					t.Errorf("Refresh rate not applied to both loops")
				}
			},
		},
		{
			name:    "Unknown view",
			opts:    Options{View: "gui"},
			wantErr: true,
		},
		{
			name:    "Negative refresh rate",
			opts:    Options{View: viewLog, RefreshRate: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			err := applyTrackFlags(&cfg, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("applyTrackFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg := config.Default()
	pc := pipelineConfig(cfg, true)
	if !pc.StartOnRun {
		t.Error("Expected StartOnRun")
	}
	if pc.CaptureEvery <= 0 || pc.RenderEvery <= 0 {
		t.Errorf("Expected positive intervals, got %v/%v", pc.CaptureEvery, pc.RenderEvery)
	}
	if pc.Transform.ScaleX != 1.0/25 || pc.Transform.ScaleY != 1.0/20 {
		t.Errorf("Unexpected transform %+v", pc.Transform)
	}
	if pc.ModelPath != cfg.Scene.Model {
		t.Errorf("Expected model %s, got %s", cfg.Scene.Model, pc.ModelPath)
	}
}

func TestDeviceHint(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{capture.ErrNoDevice, "No camera found"},
		{capture.ErrPermissionDenied, "Permission denied"},
		{capture.ErrOverconstrained, "cannot satisfy"},
		{errors.New("boom"), "Failed to open camera"},
	}
	for _, tt := range tests {
		de := &capture.DeviceError{Device: "/dev/video0", Err: tt.err}
		if got := deviceHint(de); !strings.Contains(got, tt.want) {
			t.Errorf("deviceHint(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	if _, _, err := newLogger("verbose", ""); err == nil {
		t.Error("Expected error for unknown level")
	}

	path := filepath.Join(t.TempDir(), "posesync.log")
	log, closer, err := newLogger("debug", path)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("hello", "k", 1)
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "msg=hello") {
		t.Errorf("Expected log line in file, got %q", data)
	}
}

func TestResolveDBURL(t *testing.T) {
	if got := resolveDBURL("postgres://x/y"); got != "postgres://x/y" {
		t.Errorf("Flag should win, got %s", got)
	}

	t.Setenv("POSTGRES_HOST", "")
	if got := resolveDBURL(""); got != "postgres://localhost:5432/posesync" {
		t.Errorf("Expected local default, got %s", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "n")
	t.Setenv("POSTGRES_PORT", "")
	if got := resolveDBURL(""); got != "postgres://u:p@db:5432/n" {
		t.Errorf("Expected URL from env, got %s", got)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "posesync.yaml")

	if err := writeDefaultConfig(path, false); err != nil {
		t.Fatal(err)
	}
	if err := writeDefaultConfig(path, false); err == nil {
		t.Error("Expected error when the file already exists")
	}
	if err := writeDefaultConfig(path, true); err != nil {
		t.Errorf("--force should overwrite, got %v", err)
	}

	var out bytes.Buffer
	if err := showConfig(&out, path); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "device: /dev/video0") {
		t.Errorf("Expected device in output, got:\n%s", out.String())
	}
}

type fakeLister struct {
	sessions []store.Session
	err      error
}

func (f fakeLister) ListSessions(context.Context, int) ([]store.Session, error) {
	return f.sessions, f.err
}

func TestRunSessions(t *testing.T) {
	var out bytes.Buffer
	if err := runSessions(context.Background(), &out, fakeLister{}, 10); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No capture sessions") {
		t.Errorf("Expected empty message, got %q", out.String())
	}

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stop := start.Add(90 * time.Second)
	id := uuid.MustParse("0123abcd-0000-0000-0000-000000000000")
	out.Reset()
	err := runSessions(context.Background(), &out, fakeLister{sessions: []store.Session{
		{ID: id, Device: "/dev/video0", Width: 1280, Height: 720, StartedAt: start, StoppedAt: &stop, Frames: 900, Detections: 850},
		{ID: uuid.New(), Device: "/dev/video1", Width: 640, Height: 480, StartedAt: start},
	}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"0123abcd", "1280x720", "00:01:30", "900", "850", "running"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in output:\n%s", want, out.String())
		}
	}

	if err := runSessions(context.Background(), &out, fakeLister{err: errors.New("down")}, 10); err == nil {
		t.Error("Expected store error to propagate")
	}
}

// TestSessionsPersistence records a session the way the pipeline does and lists it back.
func TestSessionsPersistence(t *testing.T) {
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

	// Start Postgres Container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
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
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, _ := pgContainer.ConnectionString(ctx, "sslmode=disable")
	db, err := store.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close(ctx)

	id := uuid.New()
	start := time.Now().Add(-2 * time.Minute)
	if err := db.CreateSession(ctx, store.Session{ID: id, Device: "/dev/video0", Width: 1280, Height: 720, StartedAt: start}); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := db.FinishSession(ctx, id, start.Add(time.Minute), 1800, 1500); err != nil {
		t.Fatalf("Failed to finish session: %v", err)
	}

	var out bytes.Buffer
	if err := runSessions(ctx, &out, db, 0); err != nil {
		t.Fatalf("runSessions failed: %v", err)
	}
	for _, want := range []string{id.String()[:8], "00:01:00", "1800", "1500"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in output:\n%s", want, out.String())
		}
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
