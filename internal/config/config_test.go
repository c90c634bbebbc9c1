package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1280, cfg.Capture.Constraints.Width.Ideal)
	assert.Equal(t, 720, cfg.Capture.Constraints.Height.Ideal)
	assert.Equal(t, 5, cfg.Estimation.MaxPoses)
	assert.Equal(t, "MobileNetV1", cfg.Detector.Model.Architecture)
	assert.Equal(t, [3]float64{1.4, 1, 1}, cfg.Scene.ModelScale)
	assert.Equal(t, [3]float64{0, 0, 70}, cfg.Scene.Camera.Position)
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posesync.yaml")
	doc := `
capture:
  device: /dev/video2
  refresh_rate: 30
estimation:
  max_poses: 1
scene:
  transform:
    scale_x: 0.1
    z: -5
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/video2", cfg.Capture.Device)
	assert.Equal(t, 30.0, cfg.Capture.RefreshRate)
	assert.Equal(t, 1, cfg.Estimation.MaxPoses)
	assert.Equal(t, 0.5, cfg.Estimation.ScoreThreshold, "unset keys keep their defaults")
	assert.Equal(t, "v4l2", cfg.Capture.Format)

	tr := cfg.SceneTransform()
	assert.Equal(t, 0.1, tr.ScaleX)
	assert.Equal(t, 1.0/20, tr.ScaleY)
	assert.Equal(t, -5.0, tr.Z)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       "capture: [",
		"empty device":   "capture:\n  device: \"\"\n",
		"bad timeout":    "detector:\n  read_timeout: soon\n",
		"bad colour":     "overlay:\n  keypoint_color: red\n",
		"no command":     "detector:\n  command: []\n",
		"bad range":      "capture:\n  constraints:\n    width: {min: 10, ideal: 5, max: 20}\n",
		"zero refresh":   "scene:\n  refresh_rate: 0\n",
		"inverted clip":  "scene:\n  camera:\n    near: 10\n    far: 1\n",
		"short position": "scene:\n  camera:\n    position: [1, 2]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "posesync.yaml")
	cfg := Default()
	cfg.Capture.Device = "/dev/video9"
	cfg.Overlay.DumpDir = "/tmp/overlays"

	require.NoError(t, Save(path, cfg))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConversions(t *testing.T) {
	cfg := Default()

	wc, err := cfg.WorkerConfig()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, wc.ReadTimeout)
	assert.Equal(t, cfg.Detector.Command, wc.Command)

	ov, err := cfg.OverlayOptions()
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, ov.KeypointColor)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, ov.CentroidColor)
	assert.Equal(t, 301, ov.Width)

	cam := cfg.SceneCamera()
	assert.Equal(t, mgl64.Vec3{0, 0, 70}, cam.Position)
	assert.Equal(t, 75.0, cam.FOV)

	assert.Equal(t, mgl64.Vec3{1.4, 1, 1}, cfg.ModelLoadOptions().Scale)
}

func TestEmptyTimeoutDisablesDeadline(t *testing.T) {
	cfg := Default()
	cfg.Detector.ReadTimeout = ""
	d, err := cfg.DetectorTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, Interval(50))
	assert.Zero(t, Interval(0))
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#0f8")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 0xff, B: 0x88, A: 255}, c)

	_, err = ParseHexColor("#12345")
	assert.Error(t, err)
	_, err = ParseHexColor("zzzzzz")
	assert.Error(t, err)
}
