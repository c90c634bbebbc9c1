package pose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"

	"github.com/andresmejia3/posesync/internal/types"
)

// Writer is the write side of the shared centroid.
type Writer interface {
	Set(x, y float64)
}

// Overlay draws the 2D debug view of one reduction: it clears the previous drawing, marks every
// keypoint and marks the centroid. frameW and frameH are the source image size.
type Overlay interface {
	Draw(frameW, frameH int, p types.Pose, c types.Point2D)
}

// Outcome says what a single Reduce call did.
type Outcome int

const (
	// Committed means a new centroid was written.
	Committed Outcome = iota
	// NoCandidates means the estimator found nobody; the register kept its value.
	NoCandidates
	// NotReady means the detector had not loaded.
	NotReady
	// Failed means estimation or the centroid computation failed.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case NoCandidates:
		return "no-candidates"
	case NotReady:
		return "not-ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Stats counts reduction outcomes.
type Stats struct {
	Committed    int64
	NoCandidates int64
	NotReady     int64
	Failed       int64
	Dropped      int64
}

// Reducer estimates poses and writes their centroid to the register.
type Reducer struct {
	detector *Detector
	out      Writer
	overlay  Overlay
	cfg      EstimationConfig
	release  func(*image.RGBA)
	log      *slog.Logger

	slot          chan types.Frame
	warnedLoading atomic.Bool

	committed    atomic.Int64
	noCandidates atomic.Int64
	notReady     atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithLogger sets the reducer's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reducer) { r.log = log }
}

// WithOverlay draws every committed pose.
func WithOverlay(o Overlay) Option {
	return func(r *Reducer) { r.overlay = o }
}

// WithConfig overrides the estimation configuration.
func WithConfig(cfg EstimationConfig) Option {
	return func(r *Reducer) { r.cfg = cfg }
}

// WithRelease returns frame buffers to their owner once the reducer is done with them.
func WithRelease(fn func(*image.RGBA)) Option {
	return func(r *Reducer) { r.release = fn }
}

// NewReducer creates a reducer writing to out.
func NewReducer(d *Detector, out Writer, opts ...Option) *Reducer {
	r := &Reducer{
		detector: d,
		out:      out,
		cfg:      DefaultEstimationConfig(),
		release:  func(*image.RGBA) {},
		log:      slog.Default(),
		slot:     make(chan types.Frame, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit queues a frame for Run without blocking. Only the newest frame is kept: a frame that
// is still waiting when a newer one arrives is dropped, since its centroid would be stale.
func (r *Reducer) Submit(f types.Frame) {
	for {
		select {
		case r.slot <- f:
			return
		default:
		}
		select {
		case old := <-r.slot:
			r.dropped.Add(1)
			r.release(old.Image)
		default:
		}
	}
}

// Run reduces submitted frames one at a time until ctx is done.
func (r *Reducer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			select {
			case f := <-r.slot:
				r.release(f.Image)
			default:
			}
			return
		case f := <-r.slot:
			r.Reduce(ctx, f)
			r.release(f.Image)
		}
	}
}

// Reduce runs one estimation and commits the centroid of the first candidate. It never panics
// and never returns an error; the Outcome reports what happened.
func (r *Reducer) Reduce(ctx context.Context, f types.Frame) Outcome {
	est := r.detector.Get()
	if est == nil {
		r.notReady.Add(1)
		if r.warnedLoading.CompareAndSwap(false, true) {
			r.log.Warn("model not loaded yet, skipping frames until it is", "frame", f.Index, "error", ErrModelNotReady)
		} else {
			r.log.Debug("model not loaded yet", "frame", f.Index)
		}
		return NotReady
	}

	poses, err := r.estimate(ctx, est, f)
	if err != nil {
		r.failed.Add(1)
		r.log.Error("error detecting poses", "error", err)
		return Failed
	}
	if len(poses) == 0 {
		// Keep the previous centroid rather than snapping back to the origin.
		r.noCandidates.Add(1)
		return NoCandidates
	}

	// Single subject: only the first candidate is used.
	first := poses[0]
	c, err := Centroid(first)
	if err != nil {
		r.failed.Add(1)
		r.log.Error("invalid pose candidate", "frame", f.Index, "keypoints", len(first.Keypoints), "error", err)
		return Failed
	}

	if r.overlay != nil {
		r.overlay.Draw(f.Width(), f.Height(), first, c)
	}
	r.out.Set(c.X, c.Y)
	r.committed.Add(1)
	return Committed
}

func (r *Reducer) estimate(ctx context.Context, est Estimator, f types.Frame) (poses []types.Pose, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			poses = nil
			err = &EstimationError{Frame: f.Index, Err: fmt.Errorf("estimator panicked: %v", rec)}
		}
	}()

	poses, err = est.EstimatePoses(ctx, f.Image, r.cfg)
	if err != nil {
		var ee *EstimationError
		if !errors.As(err, &ee) {
			err = &EstimationError{Frame: f.Index, Err: err}
		}
		return nil, err
	}
	return poses, nil
}

// Stats returns a snapshot of the outcome counters.
func (r *Reducer) Stats() Stats {
	return Stats{
		Committed:    r.committed.Load(),
		NoCandidates: r.noCandidates.Load(),
		NotReady:     r.notReady.Load(),
		Failed:       r.failed.Load(),
		Dropped:      r.dropped.Load(),
	}
}
