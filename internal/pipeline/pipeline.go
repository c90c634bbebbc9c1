// Package pipeline wires capture, pose reduction and the scene together around one shared
// centroid register.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/posesync/internal/capture"
	"github.com/andresmejia3/posesync/internal/centroid"
	"github.com/andresmejia3/posesync/internal/pose"
	"github.com/andresmejia3/posesync/internal/scene"
	"github.com/andresmejia3/posesync/internal/store"
	"github.com/andresmejia3/posesync/internal/types"
	"github.com/google/uuid"
)

// sessionTimeout bounds each bookkeeping write so a slow database never stalls capture.
const sessionTimeout = 5 * time.Second

// Config holds the tunables of a pipeline.
type Config struct {
	Constraints  capture.Constraints
	CaptureEvery time.Duration
	RenderEvery  time.Duration
	Estimation   pose.EstimationConfig
	ModelPath    string
	ModelOptions scene.LoadOptions
	Camera       scene.Camera
	Transform    scene.Transform
	StartOnRun   bool
}

// SessionRecorder persists capture session bookkeeping.
type SessionRecorder interface {
	CreateSession(ctx context.Context, s store.Session) error
	FinishSession(ctx context.Context, id uuid.UUID, stoppedAt time.Time, frames, detections int64) error
}

// Deps are the pluggable parts.
type Deps struct {
	Source        capture.Source
	LoadEstimator func(ctx context.Context) (pose.Estimator, error)
	LoadModel     scene.Loader
	Renderer      scene.Renderer
	Overlay       pose.Overlay
	Sessions      SessionRecorder
	Log           *slog.Logger
}

// Stats is a point-in-time view of the whole pipeline.
type Stats struct {
	Session   uuid.UUID
	Capturing bool
	Centroid  types.Point2D
	Capture   capture.Stats
	Reducer   pose.Stats
	Scene     scene.Stats
}

type session struct {
	id         uuid.UUID
	frames     int64
	detections int64
}

// Pipeline owns every component. The register is the only state shared between the capture
// side and the render side.
type Pipeline struct {
	Register *centroid.Register
	Detector *pose.Detector
	Reducer  *pose.Reducer
	Capture  *capture.Loop
	Scene    *scene.Scene
	Sync     *scene.Sync

	cfg  Config
	deps Deps
	log  *slog.Logger

	mu      sync.Mutex
	current *session
}

// New builds a pipeline. Nothing runs until Run.
func New(cfg Config, deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{cfg: cfg, deps: deps, log: log}

	p.Register = centroid.New(centroid.WithObserver(centroid.LogObserver(log.With("component", "centroid"))))
	p.Detector = pose.NewDetector()

	pool := capture.NewFramePool()
	reducerOpts := []pose.Option{
		pose.WithLogger(log.With("component", "pose")),
		pose.WithConfig(cfg.Estimation),
		pose.WithRelease(pool.Put),
	}
	if deps.Overlay != nil {
		reducerOpts = append(reducerOpts, pose.WithOverlay(deps.Overlay))
	}
	p.Reducer = pose.NewReducer(p.Detector, p.Register, reducerOpts...)

	p.Capture = capture.NewLoop(deps.Source, p.Reducer.Submit,
		capture.WithLogger(log.With("component", "capture")),
		capture.WithPool(pool),
		capture.OnStart(p.sessionStarted),
		capture.OnStop(p.sessionStopped),
	)

	p.Scene = scene.New()
	if cfg.Camera.FOV > 0 {
		p.Scene.Camera = cfg.Camera
	}
	syncOpts := []scene.Option{scene.WithLogger(log.With("component", "scene"))}
	if cfg.Transform != (scene.Transform{}) {
		syncOpts = append(syncOpts, scene.WithTransform(cfg.Transform))
	}
	p.Sync = scene.NewSync(p.Register, p.Scene, deps.Renderer, syncOpts...)
	return p
}

// Start opens the capture stream.
func (p *Pipeline) Start(ctx context.Context) error {
	_, err := p.Capture.Start(ctx, p.cfg.Constraints)
	return err
}

// Stop releases the capture stream. The render loop keeps going.
func (p *Pipeline) Stop() {
	p.Capture.Stop()
}

// Toggle starts or stops capture and reports whether capture is now active.
func (p *Pipeline) Toggle(ctx context.Context) (bool, error) {
	return p.Capture.Toggle(ctx, p.cfg.Constraints)
}

// Run loads the detector and model in the background, then drives the capture, reduction and
// render loops until ctx is cancelled. Capture is released before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.deps.LoadEstimator != nil {
		p.Detector.Load(ctx, p.log.With("component", "detector"), p.deps.LoadEstimator)
	}
	if p.cfg.ModelPath != "" && p.deps.LoadModel != nil {
		p.Scene.Load(ctx, p.cfg.ModelPath, p.deps.LoadModel, p.cfg.ModelOptions, p.log.With("component", "scene"))
	}

	if p.cfg.StartOnRun {
		if err := p.Start(ctx); err != nil {
			p.closeDetector()
			return err
		}
	}

	captureTicker := time.NewTicker(orDefault(p.cfg.CaptureEvery))
	defer captureTicker.Stop()
	renderTicker := time.NewTicker(orDefault(p.cfg.RenderEvery))
	defer renderTicker.Stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		p.Reducer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		p.Capture.Run(ctx, captureTicker.C)
	}()
	go func() {
		defer wg.Done()
		p.Sync.Run(ctx, renderTicker.C)
	}()

	<-ctx.Done()
	wg.Wait()

	p.Capture.Stop()
	p.closeDetector()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *Pipeline) closeDetector() {
	if err := p.Detector.Close(); err != nil {
		p.log.Warn("pose detector did not shut down cleanly", "error", err)
	}
}

// Stats returns a snapshot of every counter.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Capturing: p.Capture.Active(),
		Centroid:  p.Register.Get(),
		Capture:   p.Capture.Stats(),
		Reducer:   p.Reducer.Stats(),
		Scene:     p.Sync.Stats(),
	}
	p.mu.Lock()
	if p.current != nil {
		s.Session = p.current.id
	}
	p.mu.Unlock()
	return s
}

func (p *Pipeline) sessionStarted(st capture.Stream) {
	sess := &session{
		id:         uuid.New(),
		frames:     p.Capture.Stats().Sampled,
		detections: p.Reducer.Stats().Committed,
	}
	p.mu.Lock()
	p.current = sess
	p.mu.Unlock()

	if p.deps.Sessions == nil {
		return
	}
	w, h := st.Dimensions()
	ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
	defer cancel()
	err := p.deps.Sessions.CreateSession(ctx, store.Session{
		ID:        sess.id,
		Device:    p.deps.Source.Device(),
		Width:     w,
		Height:    h,
		StartedAt: time.Now(),
	})
	if err != nil {
		p.log.Warn("failed to record capture session", "session", sess.id, "error", err)
	}
}

func (p *Pipeline) sessionStopped() {
	p.mu.Lock()
	sess := p.current
	p.current = nil
	p.mu.Unlock()

	if sess == nil || p.deps.Sessions == nil {
		return
	}
	frames := p.Capture.Stats().Sampled - sess.frames
	detections := p.Reducer.Stats().Committed - sess.detections

	ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
	defer cancel()
	if err := p.deps.Sessions.FinishSession(ctx, sess.id, time.Now(), frames, detections); err != nil {
		p.log.Warn("failed to finish capture session", "session", sess.id, "error", err)
	}
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second / 60
	}
	return d
}
