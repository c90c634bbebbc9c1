// Package scene holds the 3D side of the tracker: a camera, lights and one tracked model whose
// position follows the shared centroid.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
)

// ErrAssetNotReady means the tracked model has not finished loading. It is not a failure: the
// scene still renders without it.
var ErrAssetNotReady = errors.New("scene: model not loaded yet")

// Camera is a perspective camera.
type Camera struct {
	Position mgl64.Vec3
	Target   mgl64.Vec3
	Up       mgl64.Vec3
	FOV      float64 // vertical field of view in degrees
	Aspect   float64
	Near     float64
	Far      float64
}

// DefaultCamera sits 70 units back on +Z looking at the origin.
func DefaultCamera() Camera {
	return Camera{
		Position: mgl64.Vec3{0, 0, 70},
		Target:   mgl64.Vec3{0, 0, 0},
		Up:       mgl64.Vec3{0, 1, 0},
		FOV:      75,
		Aspect:   16.0 / 9.0,
		Near:     0.1,
		Far:      1000,
	}
}

// SetAspect updates the aspect ratio after the viewport is resized.
func (c *Camera) SetAspect(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.Aspect = float64(width) / float64(height)
}

// View returns the world-to-camera matrix.
func (c Camera) View() mgl64.Mat4 {
	return mgl64.LookAtV(c.Position, c.Target, c.Up)
}

// Projection returns the perspective matrix.
func (c Camera) Projection() mgl64.Mat4 {
	return mgl64.Perspective(mgl64.DegToRad(c.FOV), c.Aspect, c.Near, c.Far)
}

// Project maps a world point to viewport coordinates with the origin at the top left. ok is
// false when the point is behind the camera or outside the view volume.
func (c Camera) Project(p mgl64.Vec3, width, height int) (x, y float64, ok bool) {
	clip := c.Projection().Mul4(c.View()).Mul4x1(p.Vec4(1))
	if clip.W() <= 0 {
		return 0, 0, false
	}
	ndc := clip.Vec3().Mul(1 / clip.W())
	x = (ndc.X() + 1) / 2 * float64(width)
	y = (1 - ndc.Y()) / 2 * float64(height)
	ok = math.Abs(ndc.X()) <= 1 && math.Abs(ndc.Y()) <= 1 && math.Abs(ndc.Z()) <= 1
	return x, y, ok
}

// LightKind distinguishes light types.
type LightKind int

const (
	Ambient LightKind = iota
	Directional
)

func (k LightKind) String() string {
	if k == Directional {
		return "directional"
	}
	return "ambient"
}

// Light is a scene light. Position is ignored for ambient lights.
type Light struct {
	Kind      LightKind
	Color     uint32 // 0xRRGGBB
	Intensity float64
	Position  mgl64.Vec3
}

// DefaultLights is a white ambient light plus a white light from above.
func DefaultLights() []Light {
	return []Light{
		{Kind: Ambient, Color: 0xffffff, Intensity: 1},
		{Kind: Directional, Color: 0xffffff, Intensity: 1, Position: mgl64.Vec3{0, 20, 0}},
	}
}

// Model is the tracked asset.
type Model struct {
	Path     string
	Meshes   int
	Nodes    int
	Position mgl64.Vec3
	Scale    mgl64.Vec3
}

// Loader loads a model asset from path.
type Loader func(ctx context.Context, path string) (*Model, error)

// LoadGLTF reads a .gltf or .glb file.
func LoadGLTF(_ context.Context, path string) (*Model, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", path, err)
	}
	return &Model{
		Path:   path,
		Meshes: len(doc.Meshes),
		Nodes:  len(doc.Nodes),
		Scale:  mgl64.Vec3{1, 1, 1},
	}, nil
}

// Scene is owned by Sync. The model pointer is published by the loader goroutine; everything
// else is only touched from the render loop.
type Scene struct {
	Camera Camera
	Lights []Light

	model atomic.Pointer[Model]
}

// New creates a scene with the default camera and lights and no model.
func New() *Scene {
	return &Scene{
		Camera: DefaultCamera(),
		Lights: DefaultLights(),
	}
}

// Model returns the tracked model, or nil while it is loading.
func (s *Scene) Model() *Model {
	return s.model.Load()
}

// SetModel publishes a loaded model.
func (s *Scene) SetModel(m *Model) {
	s.model.Store(m)
}

// LoadOptions are applied to the model before it is published.
type LoadOptions struct {
	Scale    mgl64.Vec3
	Position mgl64.Vec3
}

// Load fetches the model in the background and publishes it when done. The returned channel
// receives the load error (nil on success) and is then closed.
func (s *Scene) Load(ctx context.Context, path string, load Loader, opts LoadOptions, log *slog.Logger) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		m, err := load(ctx, path)
		if err != nil {
			log.Error("model failed to load", "path", path, "error", err)
			done <- err
			return
		}
		if opts.Scale != (mgl64.Vec3{}) {
			m.Scale = opts.Scale
		}
		m.Position = opts.Position
		s.SetModel(m)
		log.Info("model loaded", "path", path, "meshes", m.Meshes, "nodes", m.Nodes)
		done <- nil
	}()
	return done
}
