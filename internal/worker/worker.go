package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/posesync/internal/pose"
	"github.com/andresmejia3/posesync/internal/types"
	"github.com/andresmejia3/posesync/internal/utils" // Using the SafeCommand wrapper
	"github.com/vmihailenco/msgpack/v5"
)

// maxMessage caps a single response so a corrupt length header cannot allocate gigabytes.
const maxMessage = 64 * 1024 * 1024

// ModelConfig selects and sizes the pose model the worker loads at startup.
type ModelConfig struct {
	Architecture string  `yaml:"architecture" msgpack:"architecture"`
	OutputStride int     `yaml:"output_stride" msgpack:"output_stride"`
	InputWidth   int     `yaml:"input_width" msgpack:"input_width"`
	InputHeight  int     `yaml:"input_height" msgpack:"input_height"`
	Multiplier   float64 `yaml:"multiplier" msgpack:"multiplier"`
}

// DefaultModelConfig is a MobileNetV1 PoseNet at 640x480, stride 16, multiplier 0.75.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Architecture: "MobileNetV1",
		OutputStride: 16,
		InputWidth:   640,
		InputHeight:  480,
		Multiplier:   0.75,
	}
}

// DefaultCommand is where the pose worker script is expected relative to the working directory.
var DefaultCommand = []string{"python3", "-u", "python/pose_worker.py"}

// Config describes how to launch the pose worker.
type Config struct {
	Command     []string      // argv of the worker process
	Model       ModelConfig   // sent in the init handshake
	ReadTimeout time.Duration // per-response deadline, 0 disables
}

type request struct {
	Type   string                 `msgpack:"type"` // "init" or "frame"
	Model  *ModelConfig           `msgpack:"model,omitempty"`
	Config *pose.EstimationConfig `msgpack:"config,omitempty"`
	Width  int                    `msgpack:"width,omitempty"`
	Height int                    `msgpack:"height,omitempty"`
	Pixels []byte                 `msgpack:"pixels,omitempty"` // RGBA, row-major, no padding
}

type response struct {
	Status string       `msgpack:"status"` // "ok" or "error"
	Error  string       `msgpack:"error,omitempty"`
	Poses  []types.Pose `msgpack:"poses,omitempty"`
}

// PoseWorker drives one pose-estimation subprocess. Requests go to its stdin and responses come
// back on a dedicated pipe (FD 3) so the worker's own logging on stdout/stderr cannot corrupt
// the protocol. Calls are serialized.
type PoseWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	mu      sync.Mutex
	closed  bool
}

// NewPoseWorker starts the subprocess and performs the init handshake, which blocks until the
// model is loaded. Run it off the hot path (see pose.Detector.Load).
func NewPoseWorker(ctx context.Context, id int, cfg Config) (*PoseWorker, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("worker command is empty")
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Command[0], cfg.Command[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PoseWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}

	model := cfg.Model
	if _, err := pw.call(&request{Type: "init", Model: &model}); err != nil {
		pw.Close()
		return nil, fmt.Errorf("worker %d failed to load model: %w", id, err)
	}
	return pw, nil
}

// Communicate sends one length-prefixed message and reads one length-prefixed reply.
func (w *PoseWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if w.timeout > 0 {
		if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = d.SetReadDeadline(time.Now().Add(w.timeout))
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the worker crashing on import
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxMessage {
		return nil, fmt.Errorf("worker response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

func (w *PoseWorker) call(req *request) (*response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, errors.New("worker is closed")
	}

	payload, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	raw, err := w.Communicate(payload)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := msgpack.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("worker response malformed: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("pose worker error: %s", resp.Error)
	}
	return &resp, nil
}

// ProcessFrame sends one frame and returns the candidates in the worker's order.
func (w *PoseWorker) ProcessFrame(img *image.RGBA, cfg pose.EstimationConfig) ([]types.Pose, error) {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	resp, err := w.call(&request{
		Type:   "frame",
		Config: &cfg,
		Width:  width,
		Height: height,
		Pixels: packPixels(img),
	})
	if err != nil {
		return nil, err
	}
	return resp.Poses, nil
}

// EstimatePoses implements pose.Estimator.
func (w *PoseWorker) EstimatePoses(ctx context.Context, img *image.RGBA, cfg pose.EstimationConfig) ([]types.Pose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.ProcessFrame(img, cfg)
}

// Close shuts the worker down and reaps the process.
func (w *PoseWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		return w.Cmd.Wait()
	}
	return nil
}

// packPixels returns the RGBA bytes without row padding.
func packPixels(img *image.RGBA) []byte {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	rowLen := width * 4
	if img.Stride == rowLen && img.Rect.Min == (image.Point{}) {
		return img.Pix[:rowLen*height]
	}
	out := make([]byte, 0, rowLen*height)
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		off := img.PixOffset(img.Rect.Min.X, y)
		out = append(out, img.Pix[off:off+rowLen]...)
	}
	return out
}
