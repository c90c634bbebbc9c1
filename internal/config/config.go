// Package config loads the tracker's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/posesync/internal/capture"
	"github.com/andresmejia3/posesync/internal/overlay"
	"github.com/andresmejia3/posesync/internal/pose"
	"github.com/andresmejia3/posesync/internal/scene"
	"github.com/andresmejia3/posesync/internal/worker"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "config/posesync.yaml"

// Config is the whole file.
type Config struct {
	Capture    Capture               `yaml:"capture"`
	Detector   Detector              `yaml:"detector"`
	Estimation pose.EstimationConfig `yaml:"estimation"`
	Overlay    Overlay               `yaml:"overlay"`
	Scene      Scene                 `yaml:"scene"`
}

// Capture configures the video source and how often it is sampled.
type Capture struct {
	Device      string              `yaml:"device"`
	Format      string              `yaml:"format"`
	Constraints capture.Constraints `yaml:"constraints"`
	RefreshRate float64             `yaml:"refresh_rate"` // samples per second
}

// Detector configures the pose worker process.
type Detector struct {
	Command     []string           `yaml:"command"`
	Model       worker.ModelConfig `yaml:"model"`
	ReadTimeout string             `yaml:"read_timeout"`
}

// Overlay configures the 2D debug canvas. Colours are #rrggbb.
type Overlay struct {
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	KeypointRadius float64 `yaml:"keypoint_radius"`
	CentroidRadius float64 `yaml:"centroid_radius"`
	LineWidth      float64 `yaml:"line_width"`
	KeypointColor  string  `yaml:"keypoint_color"`
	CentroidColor  string  `yaml:"centroid_color"`
	DumpDir        string  `yaml:"dump_dir"`
	DumpEvery      int     `yaml:"dump_every"`
}

// Scene configures the 3D side.
type Scene struct {
	RefreshRate float64    `yaml:"refresh_rate"` // frames per second
	Model       string     `yaml:"model"`
	ModelScale  [3]float64 `yaml:"model_scale"`
	Camera      Camera     `yaml:"camera"`
	Transform   Transform  `yaml:"transform"`
	LogEvery    int        `yaml:"log_every"`
}

// Camera is the perspective camera.
type Camera struct {
	Position [3]float64 `yaml:"position"`
	FOV      float64    `yaml:"fov"`
	Near     float64    `yaml:"near"`
	Far      float64    `yaml:"far"`
}

// Transform maps the pixel centroid into scene units.
type Transform struct {
	ScaleX  float64 `yaml:"scale_x"`
	ScaleY  float64 `yaml:"scale_y"`
	OffsetX float64 `yaml:"offset_x"`
	OffsetY float64 `yaml:"offset_y"`
	Z       float64 `yaml:"z"`
}

// Default returns the built-in configuration.
func Default() Config {
	cam := scene.DefaultCamera()
	tr := scene.DefaultTransform()
	ov := overlay.DefaultOptions()
	return Config{
		Capture: Capture{
			Device:      "/dev/video0",
			Format:      "v4l2",
			Constraints: capture.DefaultConstraints(),
			RefreshRate: 60,
		},
		Detector: Detector{
			Command:     append([]string(nil), worker.DefaultCommand...),
			Model:       worker.DefaultModelConfig(),
			ReadTimeout: "10s",
		},
		Estimation: pose.DefaultEstimationConfig(),
		Overlay: Overlay{
			Width:          ov.Width,
			Height:         ov.Height,
			KeypointRadius: ov.KeypointRadius,
			CentroidRadius: ov.CentroidRadius,
			LineWidth:      ov.LineWidth,
			KeypointColor:  "#ff0000",
			CentroidColor:  "#0000ff",
			DumpEvery:      ov.DumpEvery,
		},
		Scene: Scene{
			RefreshRate: 60,
			Model:       "assets/tshirt1/scene.gltf",
			ModelScale:  [3]float64{1.4, 1, 1},
			Camera: Camera{
				Position: [3]float64(cam.Position),
				FOV:      cam.FOV,
				Near:     cam.Near,
				Far:      cam.Far,
			},
			Transform: Transform{
				ScaleX:  tr.ScaleX,
				ScaleY:  tr.ScaleY,
				OffsetX: tr.OffsetX,
				OffsetY: tr.OffsetY,
				Z:       tr.Z,
			},
			LogEvery: 60,
		},
	}
}

// Load reads path on top of Default. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Marshal encodes cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.Capture.Device == "" {
		return errors.New("capture.device is required")
	}
	if err := c.Capture.Constraints.Validate(); err != nil {
		return fmt.Errorf("capture.constraints: %w", err)
	}
	if c.Capture.RefreshRate <= 0 {
		return fmt.Errorf("capture.refresh_rate must be positive, got %v", c.Capture.RefreshRate)
	}
	if len(c.Detector.Command) == 0 {
		return errors.New("detector.command is required")
	}
	if _, err := c.DetectorTimeout(); err != nil {
		return err
	}
	if err := c.Estimation.Validate(); err != nil {
		return fmt.Errorf("estimation: %w", err)
	}
	if _, err := c.OverlayOptions(); err != nil {
		return err
	}
	if c.Scene.RefreshRate <= 0 {
		return fmt.Errorf("scene.refresh_rate must be positive, got %v", c.Scene.RefreshRate)
	}
	cam := c.Scene.Camera
	if cam.FOV <= 0 || cam.FOV >= 180 {
		return fmt.Errorf("scene.camera.fov must be in (0, 180), got %v", cam.FOV)
	}
	if cam.Near <= 0 || cam.Far <= cam.Near {
		return fmt.Errorf("scene.camera needs 0 < near < far, got %v/%v", cam.Near, cam.Far)
	}
	return nil
}

// DetectorTimeout parses detector.read_timeout. Empty means no deadline.
func (c Config) DetectorTimeout() (time.Duration, error) {
	if c.Detector.ReadTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Detector.ReadTimeout)
	if err != nil {
		return 0, fmt.Errorf("detector.read_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("detector.read_timeout must not be negative, got %s", d)
	}
	return d, nil
}

// WorkerConfig is the detector section in the worker's terms.
func (c Config) WorkerConfig() (worker.Config, error) {
	timeout, err := c.DetectorTimeout()
	if err != nil {
		return worker.Config{}, err
	}
	return worker.Config{
		Command:     c.Detector.Command,
		Model:       c.Detector.Model,
		ReadTimeout: timeout,
	}, nil
}

// OverlayOptions converts the overlay section.
func (c Config) OverlayOptions() (overlay.Options, error) {
	o := overlay.DefaultOptions()
	o.Width = c.Overlay.Width
	o.Height = c.Overlay.Height
	o.KeypointRadius = c.Overlay.KeypointRadius
	o.CentroidRadius = c.Overlay.CentroidRadius
	o.LineWidth = c.Overlay.LineWidth
	o.DumpDir = c.Overlay.DumpDir
	o.DumpEvery = c.Overlay.DumpEvery
	if o.Width <= 0 || o.Height <= 0 {
		return o, fmt.Errorf("overlay size must be positive, got %dx%d", o.Width, o.Height)
	}

	var err error
	if o.KeypointColor, err = ParseHexColor(c.Overlay.KeypointColor); err != nil {
		return o, fmt.Errorf("overlay.keypoint_color: %w", err)
	}
	if o.CentroidColor, err = ParseHexColor(c.Overlay.CentroidColor); err != nil {
		return o, fmt.Errorf("overlay.centroid_color: %w", err)
	}
	return o, nil
}

// SceneCamera converts the camera section.
func (c Config) SceneCamera() scene.Camera {
	cam := scene.DefaultCamera()
	cam.Position = mgl64.Vec3(c.Scene.Camera.Position)
	cam.FOV = c.Scene.Camera.FOV
	cam.Near = c.Scene.Camera.Near
	cam.Far = c.Scene.Camera.Far
	return cam
}

// SceneTransform converts the transform section.
func (c Config) SceneTransform() scene.Transform {
	t := c.Scene.Transform
	return scene.Transform{ScaleX: t.ScaleX, ScaleY: t.ScaleY, OffsetX: t.OffsetX, OffsetY: t.OffsetY, Z: t.Z}
}

// ModelLoadOptions converts the model scale.
func (c Config) ModelLoadOptions() scene.LoadOptions {
	return scene.LoadOptions{Scale: mgl64.Vec3(c.Scene.ModelScale)}
}

// Interval converts a rate in Hz to a tick period.
func Interval(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// ParseHexColor parses #rgb or #rrggbb.
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("bad colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("bad colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
