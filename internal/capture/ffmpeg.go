package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/andresmejia3/posesync/internal/utils"
	xdraw "golang.org/x/image/draw"
)

const megabyte = 1024 * 1024

// FFmpegSource captures a live device through an ffmpeg subprocess emitting MJPEG.
type FFmpegSource struct {
	device string
	format string
}

// NewFFmpegSource creates a source for device using the given ffmpeg input format (e.g. v4l2).
func NewFFmpegSource(device, format string) *FFmpegSource {
	return &FFmpegSource{device: device, format: format}
}

// Device returns the device path or name.
func (s *FFmpegSource) Device() string { return s.device }

// Open starts ffmpeg and waits until the first frame arrives or ffmpeg exits. There is no
// timeout; cancel ctx to abandon the request.
func (s *FFmpegSource) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := checkDevice(s.device); err != nil {
		return nil, &DeviceError{Device: s.device, Err: err}
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, &DeviceError{Device: s.device, Err: fmt.Errorf("%w: ffmpeg not found", ErrNoDevice)}
	}

	// The process must outlive the Open call, so it gets its own context.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := utils.NewFFmpegCaptureCmd(procCtx, utils.CaptureArgs{
		Device:    s.device,
		Format:    s.format,
		Width:     c.Width.Ideal,
		Height:    c.Height.Ideal,
		FrameRate: c.FrameRate,
	})

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &DeviceError{Device: s.device, Err: fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &DeviceError{Device: s.device, Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	st := newJpegStream(stdout, func() error {
		cancel()
		stdout.Close() // Unblock the reader if ffmpeg is slow to die
		return nil
	})
	// Closed once ffmpeg is reaped; only then has its stderr been fully copied.
	waited := make(chan struct{})
	go func() {
		defer close(waited)
		<-st.done
		// Reap the process so it does not become a zombie.
		_ = cmd.Wait()
	}()

	select {
	case <-st.first:
	case <-st.done:
		// stdout can close before ffmpeg has finished explaining why.
		select {
		case <-waited:
		case <-ctx.Done():
		}
		st.Stop()
		<-waited
		return nil, &DeviceError{Device: s.device, Err: ffmpegFailure(cmd, st.Err())}
	case <-ctx.Done():
		st.Stop()
		return nil, &DeviceError{Device: s.device, Err: ctx.Err()}
	}

	if w, h := st.Dimensions(); !c.Accepts(w, h) {
		st.Stop()
		return nil, &DeviceError{Device: s.device, Err: fmt.Errorf("%w: device negotiated %dx%d", ErrOverconstrained, w, h)}
	}
	return st, nil
}

func checkDevice(device string) error {
	if device == "" {
		return ErrNoDevice
	}
	// Only filesystem devices can be checked up front; names like "0" (avfoundation) or
	// "video=Camera" (dshow) are resolved by ffmpeg.
	if !strings.HasPrefix(device, "/") {
		return nil
	}
	f, err := os.Open(device)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ErrNoDevice
	case errors.Is(err, os.ErrPermission):
		return ErrPermissionDenied
	case err != nil:
		return err
	}
	return f.Close()
}

func ffmpegFailure(cmd *utils.SafeCommand, readErr error) error {
	msg := strings.TrimSpace(cmd.Stderr.String())
	switch {
	case strings.Contains(msg, "Permission denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	case strings.Contains(msg, "No such file or directory"):
		return fmt.Errorf("%w: %s", ErrNoDevice, msg)
	case msg != "":
		return fmt.Errorf("ffmpeg exited before the first frame: %s", msg)
	case readErr != nil:
		return fmt.Errorf("ffmpeg exited before the first frame: %w", readErr)
	}
	return errors.New("ffmpeg exited before the first frame")
}

// jpegStream keeps only the most recent JPEG read from an MJPEG byte stream.
type jpegStream struct {
	stop     func() error
	stopOnce sync.Once
	stopErr  error

	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	latest []byte
	spare  []byte
	seq    uint64
	width  int
	height int
	err    error
}

func newJpegStream(r io.Reader, stop func() error) *jpegStream {
	s := &jpegStream{
		stop:  stop,
		first: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.read(r)
	return s
}

func (s *jpegStream) read(r io.Reader) {
	defer close(s.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		tok := scanner.Bytes()
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(tok))
		if err != nil {
			continue // Torn or corrupt frame; wait for the next one
		}

		s.mu.Lock()
		// Double buffer: the scanner reuses its memory, so copy into the spare slice.
		buf := append(s.spare[:0], tok...)
		s.spare = s.latest
		s.latest = buf
		s.seq++
		s.width, s.height = cfg.Width, cfg.Height
		s.mu.Unlock()

		s.firstOnce.Do(func() { close(s.first) })
	}

	s.mu.Lock()
	s.err = scanner.Err()
	s.mu.Unlock()
}

func (s *jpegStream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *jpegStream) Snapshot(dst *image.RGBA) (uint64, error) {
	s.mu.Lock()
	if s.seq == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	data := append([]byte(nil), s.latest...)
	seq := s.seq
	s.mu.Unlock()

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode frame %d: %w", seq, err)
	}
	if img.Bounds().Size() == dst.Bounds().Size() {
		xdraw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, xdraw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	}
	return seq, nil
}

func (s *jpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stopErr = s.stop()
		}
		<-s.done
	})
	return s.stopErr
}

// Err returns the reader error once the stream has ended.
func (s *jpegStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
