// Package pose turns video frames into a single centroid for the shared register.
//
// The Reducer calls an Estimator (the external pose-estimation capability), keeps only the
// first candidate, averages its keypoints and commits the result. Per-frame failures are
// logged and swallowed so the detection loop keeps running.
package pose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/posesync/internal/types"
)

var (
	// ErrModelNotReady means a frame arrived before the detector finished loading.
	ErrModelNotReady = errors.New("pose: detector not loaded yet")
	// ErrNoKeypoints means a candidate carried no keypoints, which the detector never should.
	ErrNoKeypoints = errors.New("pose: candidate has no keypoints")
	// ErrNonFinite means the centroid came out as NaN or Inf.
	ErrNonFinite = errors.New("pose: centroid is not finite")
)

// EstimationError wraps a failure of the estimator on one frame.
type EstimationError struct {
	Frame int
	Err   error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("pose estimation failed on frame %d: %v", e.Frame, e.Err)
}

func (e *EstimationError) Unwrap() error { return e.Err }

// EstimationConfig is passed to the estimator on every call.
type EstimationConfig struct {
	MaxPoses       int     `yaml:"max_poses" msgpack:"max_poses"`
	FlipHorizontal bool    `yaml:"flip_horizontal" msgpack:"flip_horizontal"`
	ScoreThreshold float64 `yaml:"score_threshold" msgpack:"score_threshold"`
	NMSRadius      float64 `yaml:"nms_radius" msgpack:"nms_radius"`
}

// DefaultEstimationConfig mirrors the settings the tracker was tuned with.
func DefaultEstimationConfig() EstimationConfig {
	return EstimationConfig{
		MaxPoses:       5,
		FlipHorizontal: false,
		ScoreThreshold: 0.5,
		NMSRadius:      20,
	}
}

// Validate checks the configuration is usable.
func (c EstimationConfig) Validate() error {
	if c.MaxPoses < 1 {
		return fmt.Errorf("max poses must be >= 1, got %d", c.MaxPoses)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be between 0.0 and 1.0, got %f", c.ScoreThreshold)
	}
	if c.NMSRadius <= 0 {
		return fmt.Errorf("nms radius must be > 0, got %f", c.NMSRadius)
	}
	return nil
}

// Estimator detects poses in one image. Candidates are ordered by the estimator; keypoints are
// in image pixel space.
type Estimator interface {
	EstimatePoses(ctx context.Context, img *image.RGBA, cfg EstimationConfig) ([]types.Pose, error)
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(ctx context.Context, img *image.RGBA, cfg EstimationConfig) ([]types.Pose, error)

func (f EstimatorFunc) EstimatePoses(ctx context.Context, img *image.RGBA, cfg EstimationConfig) ([]types.Pose, error) {
	return f(ctx, img, cfg)
}

type estimatorBox struct{ Estimator }

// Detector holds the estimator once it has finished loading. A nil result from Get means the
// model is still loading (or failed to).
type Detector struct {
	est   atomic.Pointer[estimatorBox]
	ready chan struct{}
	once  sync.Once

	mu  sync.Mutex
	err error
}

// NewDetector returns an empty detector.
func NewDetector() *Detector {
	return &Detector{ready: make(chan struct{})}
}

// Get returns the loaded estimator or nil.
func (d *Detector) Get() Estimator {
	b := d.est.Load()
	if b == nil {
		return nil
	}
	return b.Estimator
}

// Set publishes a loaded estimator.
func (d *Detector) Set(e Estimator) {
	d.est.Store(&estimatorBox{e})
	d.once.Do(func() { close(d.ready) })
}

// Ready is closed once Load finishes, successfully or not.
func (d *Detector) Ready() <-chan struct{} {
	return d.ready
}

// Err returns the load error, if any.
func (d *Detector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Load initializes the estimator in the background. Frames reduced before it completes are
// skipped with ErrModelNotReady.
func (d *Detector) Load(ctx context.Context, log *slog.Logger, load func(context.Context) (Estimator, error)) {
	go func() {
		e, err := load(ctx)
		if err != nil {
			d.mu.Lock()
			d.err = err
			d.mu.Unlock()
			d.once.Do(func() { close(d.ready) })
			log.Error("pose detector failed to load", "error", err)
			return
		}
		d.Set(e)
		log.Info("pose detector loaded")
	}()
}

// Close releases the estimator if it holds resources.
func (d *Detector) Close() error {
	b := d.est.Swap(nil)
	if b == nil {
		return nil
	}
	if c, ok := b.Estimator.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
