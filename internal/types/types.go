package types

import (
	"image"
	"math"
	"time"
)

// Point2D is a position in source-image pixel space.
type Point2D struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Finite reports whether both coordinates are real numbers.
func (p Point2D) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Keypoint is a single anatomical landmark returned by the pose detector.
type Keypoint struct {
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	Score float64 `json:"score" msgpack:"score"`
	Name  string  `json:"name,omitempty" msgpack:"name,omitempty"`
}

// Pose is one detected subject (a candidate) made of keypoints in image pixel space.
type Pose struct {
	Keypoints []Keypoint `json:"keypoints" msgpack:"keypoints"`
	Score     float64    `json:"score" msgpack:"score"`
}

// Frame is a snapshot of the video sink handed from the capture loop to the reducer.
type Frame struct {
	Index    int
	Image    *image.RGBA
	Captured time.Time
}

// Width returns the pixel width of the snapshot, or 0 if it has no image.
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

// Height returns the pixel height of the snapshot, or 0 if it has no image.
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}
