// Package centroid holds the single point shared between the detection loop and the render loop.
//
// A Register is a last-writer-wins register: the detection side overwrites it with the latest
// centroid and the render side reads whatever is newest at the moment it ticks. Older values are
// never queued. Both coordinates are published together, so a reader never observes an X from one
// write paired with a Y from another.
package centroid

import (
	"log/slog"
	"sync/atomic"

	"github.com/andresmejia3/posesync/internal/types"
)

// Observer is notified after every committed write. It receives a copy and must return quickly,
// since it runs on the writer's goroutine.
type Observer func(p types.Point2D)

// Register is the shared centroid. The zero value is not usable; construct with New.
type Register struct {
	p        atomic.Pointer[types.Point2D]
	version  atomic.Uint64
	observer Observer
}

// Option configures a Register.
type Option func(*Register)

// WithObserver attaches a diagnostic hook called after each Set.
func WithObserver(o Observer) Option {
	return func(r *Register) { r.observer = o }
}

// WithInitial sets the value returned by Get before the first Set. Defaults to the origin.
func WithInitial(p types.Point2D) Option {
	return func(r *Register) { r.p.Store(&p) }
}

// LogObserver logs every write at debug level.
func LogObserver(log *slog.Logger) Observer {
	return func(p types.Point2D) {
		log.Debug("centroid updated", "x", p.X, "y", p.Y)
	}
}

// New creates a register holding the origin (or the WithInitial value).
func New(opts ...Option) *Register {
	r := &Register{}
	r.p.Store(&types.Point2D{})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Set overwrites both coordinates in a single atomic swap.
func (r *Register) Set(x, y float64) {
	p := &types.Point2D{X: x, Y: y}
	r.p.Store(p)
	r.version.Add(1)
	if r.observer != nil {
		r.observer(*p)
	}
}

// Get returns the most recently committed point.
func (r *Register) Get() types.Point2D {
	return *r.p.Load()
}

// Version returns the number of writes committed so far.
func (r *Register) Version() uint64 {
	return r.version.Load()
}
