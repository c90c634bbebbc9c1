package scene

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/posesync/internal/types"
	"github.com/go-gl/mathgl/mgl64"
)

// Transform maps a pixel-space centroid into scene coordinates:
// x' = x*ScaleX + OffsetX, y' = y*ScaleY + OffsetY, z' = Z.
type Transform struct {
	ScaleX  float64
	ScaleY  float64
	OffsetX float64
	OffsetY float64
	Z       float64
}

// DefaultTransform divides x by 25 and y by 20, the calibration used with 720p capture.
func DefaultTransform() Transform {
	return Transform{ScaleX: 1.0 / 25, ScaleY: 1.0 / 20}
}

// FitTransform maps a frameW x frameH image onto a worldW x worldH rectangle centred on the
// origin, flipping Y so image-down becomes scene-down.
func FitTransform(frameW, frameH int, worldW, worldH float64) Transform {
	if frameW <= 0 || frameH <= 0 {
		return DefaultTransform()
	}
	return Transform{
		ScaleX:  worldW / float64(frameW),
		ScaleY:  -worldH / float64(frameH),
		OffsetX: -worldW / 2,
		OffsetY: worldH / 2,
	}
}

// Apply maps p into the scene.
func (t Transform) Apply(p types.Point2D) mgl64.Vec3 {
	return mgl64.Vec3{p.X*t.ScaleX + t.OffsetX, p.Y*t.ScaleY + t.OffsetY, t.Z}
}

// Reader is the read side of the shared centroid.
type Reader interface {
	Get() types.Point2D
}

// Renderer draws the scene once.
type Renderer interface {
	Render(s *Scene) error
}

// Stats counts render ticks.
type Stats struct {
	Frames       int64
	Positioned   int64
	RenderErrors int64
}

// Sync is the render loop. Each tick reads the latest centroid, moves the model and renders.
type Sync struct {
	src       Reader
	scene     *Scene
	renderer  Renderer
	transform Transform
	log       *slog.Logger

	waitingLogged atomic.Bool
	frames        atomic.Int64
	positioned    atomic.Int64
	renderErrors  atomic.Int64
}

// Option configures a Sync.
type Option func(*Sync)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Sync) { s.log = log }
}

// WithTransform overrides DefaultTransform.
func WithTransform(t Transform) Option {
	return func(s *Sync) { s.transform = t }
}

// NewSync creates the render loop.
func NewSync(src Reader, sc *Scene, r Renderer, opts ...Option) *Sync {
	s := &Sync{
		src:       src,
		scene:     sc,
		renderer:  r,
		transform: DefaultTransform(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick positions the model from the latest centroid (if the model is loaded) and renders once.
func (s *Sync) Tick() {
	if err := s.position(); err != nil {
		if s.waitingLogged.CompareAndSwap(false, true) {
			s.log.Debug("rendering without model", "reason", err)
		}
	} else {
		s.positioned.Add(1)
	}

	s.frames.Add(1)
	if err := s.render(); err != nil {
		s.renderErrors.Add(1)
		s.log.Warn("render failed", "error", err)
	}
}

func (s *Sync) render() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("renderer panicked: %v", rec)
		}
	}()
	return s.renderer.Render(s.scene)
}

func (s *Sync) position() error {
	m := s.scene.Model()
	if m == nil {
		return ErrAssetNotReady
	}
	m.Position = s.transform.Apply(s.src.Get())
	return nil
}

// Run renders on every tick for as long as ctx lives. There is no separate stop: the render
// surface stays up for the lifetime of the process.
func (s *Sync) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			s.Tick()
		}
	}
}

// Stats returns a snapshot of the counters.
func (s *Sync) Stats() Stats {
	return Stats{
		Frames:       s.frames.Load(),
		Positioned:   s.positioned.Load(),
		RenderErrors: s.renderErrors.Load(),
	}
}

// Scene returns the scene being rendered.
func (s *Sync) Scene() *Scene {
	return s.scene
}
