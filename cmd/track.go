package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/posesync/internal/capture"
	"github.com/andresmejia3/posesync/internal/config"
	"github.com/andresmejia3/posesync/internal/overlay"
	"github.com/andresmejia3/posesync/internal/pipeline"
	"github.com/andresmejia3/posesync/internal/pose"
	"github.com/andresmejia3/posesync/internal/scene"
	"github.com/andresmejia3/posesync/internal/utils"
	"github.com/andresmejia3/posesync/internal/view"
	"github.com/andresmejia3/posesync/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const (
	viewLog = "log"
	viewTUI = "tui"

	// tuiLogFile keeps log lines off the terminal while the TUI owns it.
	tuiLogFile = "posesync.log"
	// headless viewport used to report where the model lands on screen
	logViewWidth  = 1280
	logViewHeight = 720
)

var trackOpts Options

var trackCmd = &cobra.Command{
	Use:         "track",
	Short:       "Capture video, estimate the pose and move the 3D model with its centroid",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		runTrack(cmd.Context(), trackOpts)
	},
}

func init() {
	trackCmd.Flags().StringVarP(&trackOpts.Device, "device", "d", "", "Capture device (e.g. /dev/video0)")
	trackCmd.Flags().StringVar(&trackOpts.Format, "format", "", "FFmpeg input format (v4l2, avfoundation, dshow)")
	trackCmd.Flags().StringVar(&trackOpts.View, "view", viewTUI, "Render surface: tui or log")
	trackCmd.Flags().StringVar(&trackOpts.OverlayDir, "overlay-dir", "", "Save overlay PNGs to this directory")
	trackCmd.Flags().StringVar(&trackOpts.ModelPath, "model", "", "glTF model to drive")
	trackCmd.Flags().Float64VarP(&trackOpts.RefreshRate, "refresh-rate", "r", 0, "Capture and render rate in Hz")
	trackCmd.Flags().BoolVar(&trackOpts.NoDB, "no-db", false, "Do not record capture sessions")

	rootCmd.AddCommand(trackCmd)
}

// runTrack loads the configuration, builds the pipeline and hands it to the chosen view.
func runTrack(ctx context.Context, opts Options) {
	cfg, err := config.Load(configPath)
	if err != nil {
		utils.Die("Failed to load configuration", err, nil)
	}
	if err := applyTrackFlags(&cfg, opts); err != nil {
		utils.Die("Invalid flags", err, nil)
	}

	if opts.View == viewTUI && logFile == "" {
		// Re-open the logger so it does not draw over the TUI.
		if logCloser != nil {
			logCloser.Close()
		}
		logger, logCloser, err = newLogger(logLevel, tuiLogFile)
		if err != nil {
			utils.Die("Failed to open log file", err, nil)
		}
		slog.SetDefault(logger)
	}

	workerCfg, err := cfg.WorkerConfig()
	if err != nil {
		utils.Die("Invalid detector configuration", err, nil)
	}
	overlayOpts, err := cfg.OverlayOptions()
	if err != nil {
		utils.Die("Invalid overlay configuration", err, nil)
	}
	canvas, err := overlay.New(overlayOpts, logger.With("component", "overlay"))
	if err != nil {
		utils.Die("Failed to create overlay", err, nil)
	}

	var renderer scene.Renderer
	var tuiRenderer *view.Renderer
	if opts.View == viewTUI {
		tuiRenderer = view.NewRenderer()
		renderer = tuiRenderer
	} else {
		renderer = scene.NewLogRenderer(logViewWidth, logViewHeight, int64(cfg.Scene.LogEvery), logger.With("component", "render"))
	}

	deps := pipeline.Deps{
		Source: capture.NewFFmpegSource(cfg.Capture.Device, cfg.Capture.Format),
		LoadEstimator: func(ctx context.Context) (pose.Estimator, error) {
			return worker.NewPoseWorker(ctx, 0, workerCfg)
		},
		LoadModel: scene.LoadGLTF,
		Renderer:  renderer,
		Overlay:   canvas,
		Log:       logger,
	}
	if DB != nil {
		deps.Sessions = DB
	}

	p := pipeline.New(pipelineConfig(cfg, opts.View == viewLog), deps)

	if opts.View == viewTUI {
		runTUI(ctx, p, tuiRenderer)
		return
	}
	runHeadless(ctx, p)
}

func pipelineConfig(cfg config.Config, startOnRun bool) pipeline.Config {
	return pipeline.Config{
		Constraints:  cfg.Capture.Constraints,
		CaptureEvery: config.Interval(cfg.Capture.RefreshRate),
		RenderEvery:  config.Interval(cfg.Scene.RefreshRate),
		Estimation:   cfg.Estimation,
		ModelPath:    cfg.Scene.Model,
		ModelOptions: cfg.ModelLoadOptions(),
		Camera:       cfg.SceneCamera(),
		Transform:    cfg.SceneTransform(),
		StartOnRun:   startOnRun,
	}
}

// runHeadless streams straight away and shows a spinner with live counters.
func runHeadless(ctx context.Context, p *pipeline.Pipeline) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🎥 PoseSync Tracking"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reportProgress(runCtx, p, bar)
	}()
	go func() {
		select {
		case <-p.Detector.Ready():
			if err := p.Detector.Err(); err != nil {
				utils.ShowError("Pose worker failed to start, frames will not be reduced", err, nil)
			}
		case <-runCtx.Done():
		}
	}()

	err := p.Run(runCtx)
	cancel()
	wg.Wait()
	bar.Finish()

	if err != nil {
		var de *capture.DeviceError
		if errors.As(err, &de) {
			utils.Die(deviceHint(de), err, nil)
		}
		utils.Die("Tracking failed", err, nil)
	}

	s := p.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 Tracking stopped. Sampled %d frames, committed %d poses (%d dropped, %d failed).\n",
		s.Capture.Sampled, s.Reducer.Committed, s.Reducer.Dropped, s.Reducer.Failed)
}

func reportProgress(ctx context.Context, p *pipeline.Pipeline, bar *progressbar.ProgressBar) {
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := p.Stats()
			bar.Describe(fmt.Sprintf("🎥 centroid (%.0f, %.0f)", s.Centroid.X, s.Centroid.Y))
			bar.Set64(s.Capture.Sampled)
		}
	}
}

// runTUI runs the pipeline behind the terminal UI. Capture starts immediately and the user can
// toggle it with the "s" key.
func runTUI(ctx context.Context, p *pipeline.Pipeline, r *view.Renderer) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(runCtx) }()

	startErr := p.Start(runCtx)
	if startErr != nil {
		logger.Error("capture did not start", "error", startErr)
	}

	model := view.NewModel(r,
		func() (bool, error) { return p.Toggle(runCtx) },
		func() view.Status {
			s := p.Stats()
			return view.Status{
				Centroid:  s.Centroid,
				Capturing: s.Capturing,
				Sampled:   s.Capture.Sampled,
				Committed: s.Reducer.Committed,
			}
		},
	)
	uiErr := view.Run(runCtx, model)

	cancel()
	if err := <-done; err != nil {
		utils.Die("Tracking failed", err, nil)
	}
	if uiErr != nil {
		utils.Die("Terminal UI failed", uiErr, nil)
	}
	if startErr != nil {
		var de *capture.DeviceError
		if errors.As(startErr, &de) {
			utils.ShowError(deviceHint(de), startErr, nil)
		}
	}
}

// applyTrackFlags lays command-line overrides over the loaded configuration.
func applyTrackFlags(cfg *config.Config, opts Options) error {
	if opts.View != viewTUI && opts.View != viewLog {
		return fmt.Errorf("--view must be %q or %q, got %q", viewTUI, viewLog, opts.View)
	}
	if opts.Device != "" {
		cfg.Capture.Device = opts.Device
	}
	if opts.Format != "" {
		cfg.Capture.Format = opts.Format
	}
	if opts.OverlayDir != "" {
		cfg.Overlay.DumpDir = opts.OverlayDir
	}
	if opts.ModelPath != "" {
		cfg.Scene.Model = opts.ModelPath
	}
	if opts.RefreshRate < 0 {
		return fmt.Errorf("--refresh-rate must be positive, got %v", opts.RefreshRate)
	}
	if opts.RefreshRate > 0 {
		cfg.Capture.RefreshRate = opts.RefreshRate
		cfg.Scene.RefreshRate = opts.RefreshRate
	}
	return cfg.Validate()
}

// deviceHint turns a capture failure into something the user can act on.
func deviceHint(de *capture.DeviceError) string {
	switch {
	case errors.Is(de, capture.ErrNoDevice):
		return fmt.Sprintf("No camera found at %s", de.Device)
	case errors.Is(de, capture.ErrPermissionDenied):
		return fmt.Sprintf("Permission denied opening %s (is your user in the video group?)", de.Device)
	case errors.Is(de, capture.ErrOverconstrained):
		return fmt.Sprintf("Camera %s cannot satisfy the requested resolution", de.Device)
	default:
		return fmt.Sprintf("Failed to open camera %s", de.Device)
	}
}
