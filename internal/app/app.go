// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/api"
	"github.com/JakeFAU/siteshot/internal/capture"
	"github.com/JakeFAU/siteshot/internal/clock/system"
	"github.com/JakeFAU/siteshot/internal/composite"
	"github.com/JakeFAU/siteshot/internal/config"
	"github.com/JakeFAU/siteshot/internal/id/uuid"
	"github.com/JakeFAU/siteshot/internal/memory/procfs"
	"github.com/JakeFAU/siteshot/internal/palette"
	"github.com/JakeFAU/siteshot/internal/pipeline"
	"github.com/JakeFAU/siteshot/internal/progress"
	"github.com/JakeFAU/siteshot/internal/progress/sinks"
	"github.com/JakeFAU/siteshot/internal/shot"
	"github.com/JakeFAU/siteshot/internal/store"
	historyMemory "github.com/JakeFAU/siteshot/internal/store/memory"
	"github.com/JakeFAU/siteshot/internal/telemetry"
	"github.com/JakeFAU/siteshot/internal/video"
	"github.com/JakeFAU/siteshot/internal/workspace"
)

// Options overrides collaborators, mostly for tests. Zero values select the production wiring.
type Options struct {
	// Capturer replaces the chromedp-backed capturer.
	Capturer shot.Capturer
	// Renderer replaces the ffmpeg-backed renderer.
	Renderer shot.VideoRenderer
	// Memory replaces the procfs sampler.
	Memory shot.MemorySampler
	// Registerer receives the progress metrics; prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and closed by the command that built it.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	tracer       *sdktrace.TracerProvider
	hub          *progress.Hub
	history      *historyMemory.History
	orchestrator *pipeline.Orchestrator
	server       *api.Server
}

// New wires every service from cfg. It fails fast when a required service cannot start; the
// memory gate and the encoder degrade with a warning instead.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("initializing application services")

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	workDir := cfg.Pipeline.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "siteshot")
	}
	workspaces, err := workspace.New(workspace.Config{BaseDir: workDir})
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	capturer := opts.Capturer
	if capturer == nil {
		launcher := capture.NewChromedp(capture.ChromedpConfig{
			ExecPath:  cfg.Capture.ChromePath,
			UserAgent: cfg.Capture.UserAgent,
		}, logger.Named("chromedp"))
		capturer = capture.New(launcher, capture.Config{
			NavigationTimeout: cfg.Capture.NavTimeout(),
			Settle:            cfg.Capture.Settle(),
		}, logger.Named("capture"))
	}

	renderer := opts.Renderer
	if renderer == nil {
		runner := video.NewFFmpegRunner(cfg.Video.FFmpegPath, cfg.Video.StderrTailBytes, logger.Named("ffmpeg"))
		if err := runner.Available(); err != nil {
			logger.Warn("ffmpeg not found; video jobs will fail", zap.Error(err))
		}
		renderer = video.NewRenderer(runner, video.Config{Preset: cfg.Video.Preset, CRF: cfg.Video.CRF}, logger.Named("video"))
	}

	memory := opts.Memory
	if memory == nil {
		sampler, err := procfs.New(procfs.Config{
			LimitBytes: cfg.Memory.LimitBytes,
			CgroupRoot: cfg.Memory.CgroupRoot,
			ProcRoot:   cfg.Memory.ProcRoot,
		})
		if err != nil {
			logger.Warn("memory sampler unavailable; admission memory gate disabled", zap.Error(err))
		} else {
			memory = sampler
		}
	}

	compositor, err := composite.New(logger.Named("composite"))
	if err != nil {
		return nil, fmt.Errorf("init compositor: %w", err)
	}

	history := historyMemory.New(cfg.Progress.HistorySize)
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{
		BufferSize: cfg.Progress.BufferSize,
		Logger:     logger.Named("progress"),
	},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
		sinks.NewHistorySink(history, logger.Named("history")),
	)

	orchestrator, err := pipeline.New(pipeline.Config{
		Viewport:        cfg.Capture.Viewport(),
		DefaultMode:     cfg.Capture.Mode(),
		Composite:       cfg.Composite.Spec(),
		Caption:         cfg.Composite.Caption,
		Video:           cfg.Video.Spec(),
		FrameSettle:     cfg.Capture.FrameSettle(),
		CleanupGrace:    cfg.Pipeline.CleanupGrace(),
		JobTimeout:      cfg.Pipeline.JobTimeout(),
		MemoryThreshold: cfg.Memory.Threshold,
	}, pipeline.Deps{
		Capturer:   capturer,
		Colors:     palette.New(),
		Compositor: compositor,
		Renderer:   renderer,
		Workspaces: pipeline.LocalWorkspaces(workspaces),
		Memory:     memory,
		Clock:      system.New(),
		IDs:        uuid.New(),
		Events:     hub,
		Logger:     logger.Named("pipeline"),
	})
	if err != nil {
		closeErr := hub.Close(ctx)
		return nil, errors.Join(fmt.Errorf("init pipeline: %w", err), closeErr)
	}

	logger.Info("application services initialized", zap.String("work_dir", workspaces.BaseDir()))
	return &App{
		cfg:          cfg,
		logger:       logger,
		tracer:       tp,
		hub:          hub,
		history:      history,
		orchestrator: orchestrator,
		server:       api.NewServer(orchestrator, history, cfg, logger.Named("api")),
	}, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Orchestrator returns the job pipeline.
func (a *App) Orchestrator() *pipeline.Orchestrator {
	return a.orchestrator
}

// Generate runs one job through the pipeline.
func (a *App) Generate(ctx context.Context, req pipeline.GenerateRequest) (shot.GeneratedAssets, error) {
	return a.orchestrator.Generate(ctx, req)
}

// History returns the recent-jobs store.
func (a *App) History() store.JobHistory {
	return a.history
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Close drains the progress hub and flushes traces. The logger is left to its owner.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close progress hub: %w", err))
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	return errors.Join(errs...)
}
