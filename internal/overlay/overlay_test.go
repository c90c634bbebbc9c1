package overlay

import (
	"bytes"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/posesync/internal/types"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNewRejectsEmptyCanvas(t *testing.T) {
	opts := DefaultOptions()
	opts.Width = 0
	if _, err := New(opts, quiet); err == nil {
		t.Fatal("Expected error for zero-width canvas")
	}
}

func TestScaleDerivedFromResolution(t *testing.T) {
	opts := DefaultOptions()
	opts.Width, opts.Height = 320, 180
	c, err := New(opts, quiet)
	if err != nil {
		t.Fatal(err)
	}

	sx, sy := c.Scale(1280, 720)
	if sx != 0.25 || sy != 0.25 {
		t.Errorf("Scale(1280, 720) = (%v, %v), want (0.25, 0.25)", sx, sy)
	}

	// Unknown source size falls back to identity.
	sx, sy = c.Scale(0, 0)
	if sx != 1 || sy != 1 {
		t.Errorf("Scale(0, 0) = (%v, %v), want (1, 1)", sx, sy)
	}
}

func TestDrawMarksKeypointsAndCentroid(t *testing.T) {
	opts := DefaultOptions()
	opts.Width, opts.Height = 100, 100
	opts.KeypointRadius = 4
	opts.LineWidth = 2
	opts.CentroidRadius = 5
	c, err := New(opts, quiet)
	if err != nil {
		t.Fatal(err)
	}

	// Source frame is 200x200, so everything lands at half scale.
	p := types.Pose{Keypoints: []types.Keypoint{{X: 40, Y: 40}, {X: 160, Y: 160}}}
	c.Draw(200, 200, p, types.Point2D{X: 100, Y: 100})
	img := c.Snapshot()

	// Centroid at (50,50) is filled blue.
	if got := img.RGBAAt(50, 50); got.B < 200 || got.R > 0 {
		t.Errorf("Centroid pixel = %v, want blue", got)
	}
	// Keypoint ring around (20,20) with radius 4: the ring is red, the center is empty.
	if got := img.RGBAAt(24, 20); got.R < 100 {
		t.Errorf("Ring pixel = %v, want red", got)
	}
	if got := img.RGBAAt(20, 20); got.A != 0 {
		t.Errorf("Ring center pixel = %v, want transparent", got)
	}
	// Far corner untouched.
	if got := img.RGBAAt(99, 0); got != (color.RGBA{}) {
		t.Errorf("Background pixel = %v, want transparent", got)
	}
}

func TestDrawClearsPreviousFrame(t *testing.T) {
	opts := DefaultOptions()
	opts.Width, opts.Height = 50, 50
	c, err := New(opts, quiet)
	if err != nil {
		t.Fatal(err)
	}

	c.Draw(50, 50, types.Pose{}, types.Point2D{X: 10, Y: 10})
	c.Draw(50, 50, types.Pose{}, types.Point2D{X: 40, Y: 40})
	img := c.Snapshot()

	if got := img.RGBAAt(10, 10); got.A != 0 {
		t.Errorf("Stale centroid still drawn: %v", got)
	}
	if got := img.RGBAAt(40, 40); got.B == 0 {
		t.Errorf("New centroid missing: %v", got)
	}
}

func TestDumpWritesPNG(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.Width, opts.Height = 20, 20
	opts.DumpDir = dir
	opts.DumpEvery = 2
	c, err := New(opts, quiet)
	if err != nil {
		t.Fatal(err)
	}

	c.Draw(20, 20, types.Pose{}, types.Point2D{X: 5, Y: 5})
	c.Draw(20, 20, types.Pose{}, types.Point2D{X: 5, Y: 5})

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 dumped frame, got %d", len(entries))
	}
	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("Dumped frame is not a PNG: %v", err)
	}
}

func TestWritePNG(t *testing.T) {
	c, err := New(DefaultOptions(), quiet)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := c.WritePNG(&buf); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 301 || img.Bounds().Dy() != 160 {
		t.Errorf("Unexpected PNG size %v", img.Bounds())
	}
}
