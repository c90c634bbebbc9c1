// Package overlay draws the 2D debug view: a small ring per keypoint and a filled marker at the
// centroid, on a canvas that is usually smaller than the captured frame.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/posesync/internal/types"
	"golang.org/x/image/vector"
)

// circleSegments is the number of edges used to approximate a circle.
const circleSegments = 24

// Options configure a Canvas.
type Options struct {
	Width          int
	Height         int
	KeypointRadius float64
	CentroidRadius float64
	LineWidth      float64
	KeypointColor  color.RGBA
	CentroidColor  color.RGBA
	DumpDir        string
	DumpEvery      int
	Background     color.Color
}

// DefaultOptions returns a 301x160 canvas with red keypoints and a blue centroid.
func DefaultOptions() Options {
	return Options{
		Width:          301,
		Height:         160,
		KeypointRadius: 1,
		CentroidRadius: 3,
		LineWidth:      2,
		KeypointColor:  color.RGBA{R: 255, A: 255},
		CentroidColor:  color.RGBA{B: 255, A: 255},
		DumpEvery:      30,
		Background:     color.Transparent,
	}
}

// Canvas is safe for concurrent Draw and Snapshot calls.
type Canvas struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	img    *image.RGBA
	raster *vector.Rasterizer
	draws  int
}

// New allocates a canvas.
func New(opts Options, log *slog.Logger) (*Canvas, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("overlay size must be positive, got %dx%d", opts.Width, opts.Height)
	}
	if opts.Background == nil {
		opts.Background = color.Transparent
	}
	if opts.DumpEvery < 1 {
		opts.DumpEvery = 1
	}
	if opts.DumpDir != "" {
		if err := os.MkdirAll(opts.DumpDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create overlay dump dir: %w", err)
		}
	}
	return &Canvas{
		opts:   opts,
		log:    log,
		img:    image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
		raster: vector.NewRasterizer(opts.Width, opts.Height),
	}, nil
}

// Scale maps source pixels onto the canvas: canvas size divided by frame size per axis.
func (c *Canvas) Scale(frameW, frameH int) (sx, sy float64) {
	if frameW <= 0 || frameH <= 0 {
		return 1, 1
	}
	return float64(c.opts.Width) / float64(frameW), float64(c.opts.Height) / float64(frameH)
}

// Draw clears the canvas, then draws every keypoint and the centroid.
func (c *Canvas) Draw(frameW, frameH int, p types.Pose, centroid types.Point2D) {
	sx, sy := c.Scale(frameW, frameH)

	c.mu.Lock()
	defer c.mu.Unlock()

	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(c.opts.Background), image.Point{}, draw.Src)

	for _, kp := range p.Keypoints {
		c.ring(kp.X*sx, kp.Y*sy, c.opts.KeypointRadius, c.opts.LineWidth, c.opts.KeypointColor)
	}
	c.disc(centroid.X*sx, centroid.Y*sy, c.opts.CentroidRadius, c.opts.CentroidColor)

	c.draws++
	if c.opts.DumpDir != "" && c.draws%c.opts.DumpEvery == 0 {
		c.dump()
	}
}

// Snapshot returns a copy of the current canvas.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}

// WritePNG encodes the current canvas.
func (c *Canvas) WritePNG(w io.Writer) error {
	return png.Encode(w, c.Snapshot())
}

func (c *Canvas) dump() {
	name := filepath.Join(c.opts.DumpDir, fmt.Sprintf("overlay_%06d.png", c.draws))
	f, err := os.Create(name)
	if err != nil {
		c.log.Warn("failed to write overlay frame", "path", name, "error", err)
		return
	}
	defer f.Close()
	if err := png.Encode(f, c.img); err != nil {
		c.log.Warn("failed to encode overlay frame", "path", name, "error", err)
	}
}

// ring strokes a circle of radius r with the given line width. Thin rings degrade to discs.
func (c *Canvas) ring(x, y, r, width float64, col color.RGBA) {
	outer := r + width/2
	inner := r - width/2
	if inner <= 0 {
		c.disc(x, y, outer, col)
		return
	}
	c.raster.Reset(c.opts.Width, c.opts.Height)
	circle(c.raster, x, y, outer, false)
	circle(c.raster, x, y, inner, true)
	c.fill(col)
}

func (c *Canvas) disc(x, y, r float64, col color.RGBA) {
	c.raster.Reset(c.opts.Width, c.opts.Height)
	circle(c.raster, x, y, r, false)
	c.fill(col)
}

func (c *Canvas) fill(col color.RGBA) {
	c.raster.DrawOp = draw.Over
	c.raster.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{})
}

// circle adds a closed polygon approximating a circle. Reversed winding cuts a hole under the
// rasterizer's non-zero fill rule.
func circle(z *vector.Rasterizer, cx, cy, r float64, reverse bool) {
	dir := 1.0
	if reverse {
		dir = -1.0
	}
	z.MoveTo(float32(cx+r), float32(cy))
	for i := 1; i < circleSegments; i++ {
		a := dir * 2 * math.Pi * float64(i) / circleSegments
		z.LineTo(float32(cx+r*math.Cos(a)), float32(cy+r*math.Sin(a)))
	}
	z.ClosePath()
}
