// Package capture acquires a live video stream and samples it once per display refresh tick.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/posesync/internal/types"
)

var (
	// ErrStreamActive is returned by Start when a stream is already running or being opened.
	ErrStreamActive = errors.New("capture: stream already active")
	// ErrStartCancelled is returned by Start when Stop or Toggle abandoned the pending open.
	ErrStartCancelled = errors.New("capture: start cancelled")
	// ErrNoDevice means no compatible capture device is available.
	ErrNoDevice = errors.New("no compatible capture device")
	// ErrPermissionDenied means the device exists but cannot be opened.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrOverconstrained means the device cannot satisfy the requested constraints.
	ErrOverconstrained = errors.New("constraints cannot be satisfied")
)

// DeviceError reports a failure to acquire a stream. It is user visible and never retried
// automatically; acquiring again needs a new request from the user.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device %q: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Range bounds one dimension of the requested video.
type Range struct {
	Min   int `yaml:"min"`
	Ideal int `yaml:"ideal"`
	Max   int `yaml:"max"`
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) validate(name string) error {
	if r.Min <= 0 || r.Ideal < r.Min || r.Max < r.Ideal {
		return fmt.Errorf("%w: %s must satisfy 0 < min <= ideal <= max, got %d/%d/%d",
			ErrOverconstrained, name, r.Min, r.Ideal, r.Max)
	}
	return nil
}

// Constraints describe the stream the caller wants.
type Constraints struct {
	Width     Range   `yaml:"width"`
	Height    Range   `yaml:"height"`
	FrameRate float64 `yaml:"frame_rate"`
}

// DefaultConstraints asks for 720p, accepting anything from 1024x576 up to 1080p.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:  Range{Min: 1024, Ideal: 1280, Max: 1920},
		Height: Range{Min: 576, Ideal: 720, Max: 1080},
	}
}

// Validate checks the ranges are well formed.
func (c Constraints) Validate() error {
	if err := c.Width.validate("width"); err != nil {
		return err
	}
	if err := c.Height.validate("height"); err != nil {
		return err
	}
	if c.FrameRate < 0 {
		return fmt.Errorf("%w: frame rate must not be negative", ErrOverconstrained)
	}
	return nil
}

// Accepts reports whether a negotiated size satisfies the constraints.
func (c Constraints) Accepts(width, height int) bool {
	return c.Width.Contains(width) && c.Height.Contains(height)
}

// Source opens streams on one device. ctx only bounds the open; the returned stream lives until
// its Stop.
type Source interface {
	Device() string
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an active capture session.
type Stream interface {
	// Dimensions returns the negotiated frame size, or zeros until it is known.
	Dimensions() (width, height int)
	// Snapshot copies the latest frame into dst, scaling if needed, and returns its sequence
	// number. Sequence 0 means no frame has arrived yet.
	Snapshot(dst *image.RGBA) (uint64, error)
	// Stop releases every underlying track. Calling it twice is safe.
	Stop() error
}

// FrameHandler receives each sampled frame. It must not block the loop.
type FrameHandler func(types.Frame)

// Stats counts what the loop did with its ticks.
type Stats struct {
	Ticks    int64
	Sampled  int64
	Skipped  int64
	Failures int64
}

// Loop samples the active stream on every tick and hands frames to a handler.
type Loop struct {
	source  Source
	handler FrameHandler
	pool    *FramePool
	log     *slog.Logger

	mu       sync.Mutex
	stream   Stream
	starting bool
	abort    context.CancelFunc
	aborted  bool
	lastSeq  uint64
	index    int

	// hookMu keeps the OnStart and OnStop hooks of each stream in order without holding mu.
	// It is always taken before mu.
	hookMu  sync.Mutex
	onStart []func(Stream)
	onStop  []func()

	ticks    atomic.Int64
	sampled  atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// WithPool shares a frame pool with the consumer so it can return buffers.
func WithPool(p *FramePool) Option {
	return func(l *Loop) { l.pool = p }
}

// OnStart registers a hook run after a stream is acquired.
func OnStart(fn func(Stream)) Option {
	return func(l *Loop) { l.onStart = append(l.onStart, fn) }
}

// OnStop registers a hook run after the stream is released (dependent affordances).
func OnStop(fn func()) Option {
	return func(l *Loop) { l.onStop = append(l.onStop, fn) }
}

// NewLoop creates an idle loop. Nothing is captured until Start.
func NewLoop(source Source, handler FrameHandler, opts ...Option) *Loop {
	l := &Loop{
		source:  source,
		handler: handler,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.pool == nil {
		l.pool = NewFramePool()
	}
	return l
}

// Start acquires a stream matching c. Failures are returned as *DeviceError. The loop stays
// responsive while the device is opening: Active reports false, Tick skips and Stop abandons
// the pending open.
func (l *Loop) Start(ctx context.Context, c Constraints) (Stream, error) {
	l.mu.Lock()
	openCtx, err := l.beginLocked(ctx, c)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.open(openCtx, c)
}

// beginLocked reserves the loop for one open. l.mu must be held.
func (l *Loop) beginLocked(ctx context.Context, c Constraints) (context.Context, error) {
	if l.stream != nil || l.starting {
		return nil, ErrStreamActive
	}
	if err := c.Validate(); err != nil {
		return nil, &DeviceError{Device: l.source.Device(), Err: err}
	}
	openCtx, cancel := context.WithCancel(ctx)
	l.starting = true
	l.aborted = false
	l.abort = cancel
	return openCtx, nil
}

func (l *Loop) open(ctx context.Context, c Constraints) (Stream, error) {
	s, err := l.source.Open(ctx, c)

	l.hookMu.Lock()
	defer l.hookMu.Unlock()

	l.mu.Lock()
	aborted := l.aborted
	l.abort()
	l.starting, l.aborted, l.abort = false, false, nil
	if err == nil && !aborted {
		l.stream = s
		l.lastSeq = 0
	}
	l.mu.Unlock()

	if aborted {
		if err == nil {
			l.release(s)
		}
		l.log.Info("capture start cancelled", "device", l.source.Device())
		return nil, ErrStartCancelled
	}
	if err != nil {
		var de *DeviceError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DeviceError{Device: l.source.Device(), Err: err}
	}

	w, h := s.Dimensions()
	l.log.Info("capture stream started", "device", l.source.Device(), "width", w, "height", h)
	for _, fn := range l.onStart {
		fn(s)
	}
	return s, nil
}

// Stop releases the active stream, or abandons an open in progress. It is a no-op when nothing
// is streaming.
func (l *Loop) Stop() {
	l.hookMu.Lock()
	defer l.hookMu.Unlock()

	l.mu.Lock()
	s := l.stopLocked()
	l.mu.Unlock()

	if s == nil {
		return
	}
	l.release(s)
	l.log.Info("capture stream stopped", "device", l.source.Device())
	for _, fn := range l.onStop {
		fn()
	}
}

// stopLocked detaches the active stream, or cancels a pending open. l.mu must be held.
func (l *Loop) stopLocked() Stream {
	if l.starting && !l.aborted {
		l.aborted = true
		l.abort()
	}
	s := l.stream
	l.stream = nil
	return s
}

func (l *Loop) release(s Stream) {
	if err := s.Stop(); err != nil {
		l.log.Warn("capture stream did not stop cleanly", "device", l.source.Device(), "error", err)
	}
}

// Toggle starts the loop when idle and stops it when streaming or opening. It reports whether
// a stream is active afterwards.
func (l *Loop) Toggle(ctx context.Context, c Constraints) (bool, error) {
	l.mu.Lock()
	if l.stream != nil || l.starting {
		l.mu.Unlock()
		l.Stop()
		return false, nil
	}
	openCtx, err := l.beginLocked(ctx, c)
	l.mu.Unlock()
	if err != nil {
		return false, err
	}

	if _, err := l.open(openCtx, c); err != nil {
		if errors.Is(err, ErrStartCancelled) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Active reports whether a stream is running.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream != nil
}

// Tick samples the stream once. It returns true when a frame was handed to the handler.
// Errors never escape: a failed snapshot is logged and the next tick tries again.
func (l *Loop) Tick(ctx context.Context) bool {
	l.ticks.Add(1)

	frame, ok := l.sample()
	if !ok {
		return false
	}
	if ctx.Err() != nil {
		l.pool.Put(frame.Image)
		return false
	}

	l.sampled.Add(1)
	l.handler(frame)
	return true
}

func (l *Loop) sample() (types.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stream == nil {
		return types.Frame{}, false
	}

	// The sink may not have negotiated a size yet.
	w, h := l.stream.Dimensions()
	if w <= 0 || h <= 0 {
		l.skipped.Add(1)
		return types.Frame{}, false
	}

	img := l.pool.Get(w, h)
	seq, err := snapshot(l.stream, img)
	if err != nil {
		l.pool.Put(img)
		l.failures.Add(1)
		l.log.Warn("frame snapshot failed", "device", l.source.Device(), "error", err)
		return types.Frame{}, false
	}
	if seq == 0 || seq == l.lastSeq {
		// Nothing new since the previous tick.
		l.pool.Put(img)
		l.skipped.Add(1)
		return types.Frame{}, false
	}
	l.lastSeq = seq
	l.index++

	return types.Frame{Index: l.index, Image: img, Captured: time.Now()}, true
}

func snapshot(s Stream, dst *image.RGBA) (seq uint64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			seq, err = 0, fmt.Errorf("snapshot panicked: %v", rec)
		}
	}()
	return s.Snapshot(dst)
}

// Run ticks the loop until ctx is done. The stream is left running; call Stop to release it.
func (l *Loop) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			l.Tick(ctx)
		}
	}
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:    l.ticks.Load(),
		Sampled:  l.sampled.Load(),
		Skipped:  l.skipped.Load(),
		Failures: l.failures.Load(),
	}
}

// Pool returns the frame pool used for snapshots.
func (l *Loop) Pool() *FramePool {
	return l.pool
}
