// Package view is the terminal front end: a bubbletea program that draws the tracked model on a
// character grid and lets the user start and stop capture.
package view

import (
	"sync"

	"github.com/andresmejia3/posesync/internal/scene"
	"github.com/go-gl/mathgl/mgl64"
)

// FrameMsg is one rendered scene, delivered to the bubbletea program.
type FrameMsg struct {
	Frame    int64
	Loaded   bool
	Position mgl64.Vec3
	Camera   scene.Camera
}

// Renderer implements scene.Renderer by handing snapshots to the TUI. If the TUI falls behind,
// the oldest pending snapshot is replaced.
type Renderer struct {
	frames chan FrameMsg

	mu            sync.Mutex
	frame         int64
	width, height int
	resized       bool
}

// NewRenderer creates a renderer with a single pending slot.
func NewRenderer() *Renderer {
	return &Renderer{frames: make(chan FrameMsg, 1)}
}

// Frames is read by the TUI.
func (r *Renderer) Frames() <-chan FrameMsg {
	return r.frames
}

// Resize records a new terminal size. The camera picks it up on the next render so the scene is
// only ever mutated from the render loop.
func (r *Renderer) Resize(width, height int) {
	r.mu.Lock()
	r.width, r.height = width, height
	r.resized = true
	r.mu.Unlock()
}

// Render implements scene.Renderer.
func (r *Renderer) Render(s *scene.Scene) error {
	r.mu.Lock()
	r.frame++
	msg := FrameMsg{Frame: r.frame}
	if r.resized {
		s.Camera.SetAspect(cellAspect(r.width, r.height))
		r.resized = false
	}
	r.mu.Unlock()

	msg.Camera = s.Camera
	if m := s.Model(); m != nil {
		msg.Loaded = true
		msg.Position = m.Position
	}

	for {
		select {
		case r.frames <- msg:
			return nil
		default:
		}
		select {
		case <-r.frames:
		default:
		}
	}
}

// cellAspect converts a grid size to pixel proportions. Terminal cells are about twice as tall
// as they are wide.
func cellAspect(cols, rows int) (int, int) {
	return cols, rows * 2
}
