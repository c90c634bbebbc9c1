package scene

import (
	"log/slog"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Snapshot is what a renderer saw on one frame.
type Snapshot struct {
	Frame    int64
	Loaded   bool
	Position mgl64.Vec3
	ScreenX  float64
	ScreenY  float64
	OnScreen bool
}

// LogRenderer is a headless renderer. It projects the model into a virtual viewport and logs
// the result every Every frames.
type LogRenderer struct {
	Width  int
	Height int
	Every  int64
	log    *slog.Logger

	mu    sync.Mutex
	frame int64
	last  Snapshot
}

// NewLogRenderer creates a headless renderer for a width x height viewport.
func NewLogRenderer(width, height int, every int64, log *slog.Logger) *LogRenderer {
	if every < 1 {
		every = 1
	}
	return &LogRenderer{Width: width, Height: height, Every: every, log: log}
}

// Render implements Renderer.
func (r *LogRenderer) Render(s *Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frame++
	snap := Snapshot{Frame: r.frame}
	if m := s.Model(); m != nil {
		snap.Loaded = true
		snap.Position = m.Position
		snap.ScreenX, snap.ScreenY, snap.OnScreen = s.Camera.Project(m.Position, r.Width, r.Height)
	}
	r.last = snap

	if r.frame%r.Every == 0 {
		if snap.Loaded {
			r.log.Info("frame rendered",
				"frame", snap.Frame,
				"x", snap.Position.X(), "y", snap.Position.Y(), "z", snap.Position.Z(),
				"screen_x", snap.ScreenX, "screen_y", snap.ScreenY, "on_screen", snap.OnScreen)
		} else {
			r.log.Info("frame rendered", "frame", snap.Frame, "model", "loading")
		}
	}
	return nil
}

// Last returns the most recent snapshot.
func (r *LogRenderer) Last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
