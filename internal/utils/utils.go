package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (worker and ffmpeg logs)
// This ensures we don't lose critical crash information if a subprocess dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps subprocess logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 POSESYNC ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nSUBPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for commands that cannot return an error.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Video Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// CaptureArgs describes a live device read by ffmpeg.
type CaptureArgs struct {
	Device    string  // e.g. /dev/video0
	Format    string  // ffmpeg input format, e.g. v4l2, avfoundation, dshow
	Width     int     // requested width, 0 lets the device choose
	Height    int     // requested height, 0 lets the device choose
	FrameRate float64 // requested frame rate, 0 lets the device choose
}

func (a CaptureArgs) inputArgs() []string {
	var args []string
	if a.Format != "" {
		args = append(args, "-f", a.Format)
	}
	if a.Width > 0 && a.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", a.Width, a.Height))
	}
	if a.FrameRate > 0 {
		args = append(args, "-framerate", strconv.FormatFloat(a.FrameRate, 'f', -1, 64))
	}
	return append(args, "-i", a.Device)
}

// NewFFmpegCaptureCmd creates a decoder pipe reading a live device.
// It configures FFmpeg to output raw MJPEG frames to Stdout for ingestion.
func NewFFmpegCaptureCmd(ctx context.Context, a CaptureArgs) *SafeCommand {
	// -hide_banner and -loglevel error keep the stderr buffer small on long sessions
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, a.inputArgs()...)
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// ProbeDevice uses ffprobe to read the size a device negotiates for the requested arguments.
func ProbeDevice(ctx context.Context, a CaptureArgs) (width, height int, err error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, 0, fmt.Errorf("ffprobe not found: %w", err)
	}

	type ffprobeOutput struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
	}

	args := []string{"-v", "error"}
	args = append(args, a.inputArgs()...)
	args = append(args, "-select_streams", "v:0", "-show_entries", "stream=width,height", "-of", "json")

	out, err := exec.CommandContext(ctx, "ffprobe", args...).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe failed for %s: %w", a.Device, err)
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, 0, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return 0, 0, fmt.Errorf("no video stream on %s", a.Device)
	}
	return res.Streams[0].Width, res.Streams[0].Height, nil
}
