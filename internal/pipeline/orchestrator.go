package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/metrics"
	"github.com/JakeFAU/siteshot/internal/progress"
	"github.com/JakeFAU/siteshot/internal/shot"
	"github.com/JakeFAU/siteshot/internal/telemetry"
	"github.com/JakeFAU/siteshot/internal/video"
)

// Artifact file names reported to callers.
const (
	ScreenshotFilename         = "screenshot-full.png"
	ViewportScreenshotFilename = "screenshot-viewport.png"
	CollageFilename            = "screenshot-collage.png"
	VideoFilename              = "scroll-video.mp4"

	stillName = "screenshot.png"
)

const defaultMemoryThreshold = 0.8

// State is a job's position in its lifecycle.
type State string

// Job states. Completed and Failed are terminal.
const (
	StateIdle       State = "idle"
	StateAdmitted   State = "admitted"
	StateCapturing  State = "capturing"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Config holds the per-job knobs.
type Config struct {
	Viewport    shot.Viewport
	DefaultMode shot.CaptureMode
	Composite   shot.CompositeSpec
	// Caption draws the page host under the collage screenshot.
	Caption     bool
	Video       shot.VideoSpec
	FrameSettle time.Duration
	// CleanupGrace delays workspace removal so child processes can release their files.
	CleanupGrace time.Duration
	// JobTimeout bounds a whole job; zero means only the caller's context applies.
	JobTimeout      time.Duration
	MemoryThreshold float64
}

// Deps are the collaborators a job runs against. Compositor and Renderer may be nil when the
// corresponding asset is never requested; Memory may be nil to disable the memory gate.
type Deps struct {
	Capturer   shot.Capturer
	Colors     shot.ColorExtractor
	Compositor shot.Compositor
	Renderer   shot.VideoRenderer
	Workspaces Workspaces
	Memory     shot.MemorySampler
	Clock      shot.Clock
	IDs        shot.IDGenerator
	Lease      *Lease
	Events     progress.Emitter
	Logger     *zap.Logger
}

// GenerateRequest is one job's input.
type GenerateRequest struct {
	URL   string
	Kinds shot.Kinds
	// Mode overrides the capture mode; empty selects it from the requested kinds.
	Mode shot.CaptureMode
}

// Orchestrator runs jobs.
type Orchestrator struct {
	cfg        Config
	capturer   shot.Capturer
	colors     shot.ColorExtractor
	compositor shot.Compositor
	renderer   shot.VideoRenderer
	workspaces Workspaces
	memory     shot.MemorySampler
	clock      shot.Clock
	ids        shot.IDGenerator
	lease      *Lease
	events     progress.Emitter
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Capturer == nil:
		return nil, errors.New("pipeline: capturer is required")
	case deps.Colors == nil:
		return nil, errors.New("pipeline: color extractor is required")
	case deps.Workspaces == nil:
		return nil, errors.New("pipeline: workspaces are required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	}
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		return nil, fmt.Errorf("pipeline: invalid viewport %dx%d", cfg.Viewport.Width, cfg.Viewport.Height)
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = defaultMemoryThreshold
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = shot.ModeViewport
	}
	if deps.Lease == nil {
		deps.Lease = NewLease()
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	metrics.Init()
	return &Orchestrator{
		cfg:        cfg,
		capturer:   deps.Capturer,
		colors:     deps.Colors,
		compositor: deps.Compositor,
		renderer:   deps.Renderer,
		workspaces: deps.Workspaces,
		memory:     deps.Memory,
		clock:      deps.Clock,
		ids:        deps.IDs,
		lease:      deps.Lease,
		events:     deps.Events,
		logger:     deps.Logger,
		tracer:     telemetry.Tracer(),
	}, nil
}

// Busy reports whether a job currently holds the lease.
func (o *Orchestrator) Busy() bool {
	return o.lease.Busy()
}

// LastMemory returns the reading taken at the most recent admission.
func (o *Orchestrator) LastMemory() shot.MemoryReading {
	return o.lease.LastReading()
}

type job struct {
	id      string
	url     *url.URL
	kinds   shot.Kinds
	mode    shot.CaptureMode
	started time.Time
	state   State
	logger  *zap.Logger
}

func (j *job) transition(next State) {
	j.logger.Debug("job state", zap.String("from", string(j.state)), zap.String("to", string(next)))
	j.state = next
}

// Generate runs one job. Invalid input is rejected before any resource is touched; a busy
// lease or high memory use is rejected with a Busy error. Once admitted, the job workspace is
// removed and the lease released on every path, and a cleanup failure never replaces the
// job's own error.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (shot.GeneratedAssets, error) {
	target, err := validate(req)
	if err != nil {
		o.logger.Info("request rejected", zap.String("url", req.URL), zap.Error(err))
		return shot.GeneratedAssets{}, err
	}

	jobID, err := o.ids.NewID()
	if err != nil {
		return shot.GeneratedAssets{}, shot.Wrap(shot.CaptureUnavailable, err, "allocate job id")
	}

	release, ok := o.lease.TryAcquire(jobID)
	if !ok {
		busy := shot.Errorf(shot.Busy, "another job is running")
		o.reject(jobID, target, busy, metrics.AdmissionBusy)
		return shot.GeneratedAssets{}, busy
	}
	metrics.SetLeaseHeld(true)
	defer func() {
		release()
		metrics.SetLeaseHeld(false)
	}()

	if busy := o.checkMemory(); busy != nil {
		o.reject(jobID, target, busy, metrics.AdmissionMemory)
		return shot.GeneratedAssets{}, busy
	}
	metrics.ObserveAdmission(metrics.AdmissionAdmitted)

	j := &job{
		id:      jobID,
		url:     target,
		kinds:   req.Kinds,
		mode:    o.resolveMode(req),
		started: time.Now(),
		state:   StateIdle,
		logger:  o.logger.With(zap.String("job_id", jobID), zap.String("url", target.String())),
	}
	j.transition(StateAdmitted)
	j.logger.Info("job admitted", zap.Stringer("kinds", req.Kinds), zap.String("mode", string(j.mode)))
	o.emit(j, progress.Event{Stage: progress.StageJobStart, Kinds: kindNames(req.Kinds)})

	ctx, span := o.tracer.Start(ctx, "siteshot.generate", trace.WithAttributes(
		attribute.String("siteshot.job_id", jobID),
		attribute.String("url.full", target.String()),
		attribute.String("siteshot.kinds", req.Kinds.String()),
		attribute.String("siteshot.mode", string(j.mode)),
	))
	defer span.End()

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, o.cfg.JobTimeout)
	}
	defer cancel()

	ws, err := o.workspaces.Create(jobID)
	if err != nil {
		err = shot.Wrap(shot.CaptureUnavailable, err, "create job workspace")
		o.finish(j, span, shot.GeneratedAssets{}, err)
		return shot.GeneratedAssets{}, err
	}
	cleanup := sync.OnceFunc(func() { o.cleanup(j, ws) })
	defer cleanup()

	assets, err := o.run(jobCtx, j, ws)
	err = o.jobTimeout(ctx, jobCtx, err)
	cleanup()
	o.finish(j, span, assets, err)
	if err != nil {
		return shot.GeneratedAssets{}, err
	}
	return assets, nil
}

func (o *Orchestrator) run(ctx context.Context, j *job, ws Workspace) (shot.GeneratedAssets, error) {
	out := shot.GeneratedAssets{JobID: j.id, URL: j.url.String()}
	framesVideo := j.kinds.Has(shot.KindVideo) && o.cfg.Video.Strategy == shot.StrategyFrames
	needStill := j.kinds.Has(shot.KindScreenshot) || j.kinds.Has(shot.KindCollage) ||
		(j.kinds.Has(shot.KindVideo) && !framesVideo)

	j.transition(StateCapturing)
	var still *shot.CapturedImage
	if needStill {
		img, err := o.captureStill(ctx, j, ws)
		if err != nil {
			return out, err
		}
		still = &img
	}
	var frames *shot.FrameSequence
	if framesVideo {
		seq, err := o.captureFrames(ctx, j, ws)
		if err != nil {
			return out, err
		}
		frames = &seq
	}

	j.transition(StateProcessing)
	out.Colors = o.extractColors(ctx, j, ws, still, frames)

	if j.kinds.Has(shot.KindScreenshot) {
		out.Screenshot = &shot.Artifact{
			Kind:        shot.KindScreenshot,
			ContentType: "image/png",
			Filename:    screenshotFilename(j.mode),
			Width:       still.Width,
			Height:      still.Height,
			Data:        still.Data,
		}
	}
	if j.kinds.Has(shot.KindCollage) {
		art, err := o.composeCollage(ctx, j, still, out.Colors)
		if err != nil {
			return out, err
		}
		out.Collage = art
	}
	if j.kinds.Has(shot.KindVideo) {
		art, err := o.renderVideo(ctx, j, ws, shot.VideoSource{Image: still, Frames: frames})
		if err != nil {
			return out, err
		}
		out.Video = art
	}
	out.GeneratedAt = o.clock.Now()
	return out, nil
}

func (o *Orchestrator) captureStill(ctx context.Context, j *job, ws Workspace) (shot.CapturedImage, error) {
	var img shot.CapturedImage
	err := o.step(ctx, j, progress.StepCapture, func(ctx context.Context) (int64, error) {
		captured, err := o.capturer.Capture(ctx, shot.CaptureRequest{URL: j.url, Mode: j.mode, Viewport: o.cfg.Viewport})
		metrics.ObserveCapture(j.url.String(), string(j.mode), resultLabel(err))
		if err != nil {
			return 0, ensureKind(err, shot.CaptureFailed, "capture page")
		}
		// The pan encoder reads the still from disk.
		path, err := ws.WriteFile(stillName, captured.Data)
		if err != nil {
			return 0, shot.Wrap(shot.CaptureFailed, err, "store screenshot")
		}
		captured.Path = path
		img = captured
		return int64(len(captured.Data)), nil
	})
	return img, err
}

func (o *Orchestrator) captureFrames(ctx context.Context, j *job, ws Workspace) (shot.FrameSequence, error) {
	var seq shot.FrameSequence
	err := o.step(ctx, j, progress.StepCapture, func(ctx context.Context) (int64, error) {
		req := shot.CaptureRequest{
			URL:  j.url,
			Mode: shot.ModeViewport,
			// Frames are shot at the output size so the encoder never rescales them.
			Viewport: shot.Viewport{Width: o.cfg.Video.Width, Height: o.cfg.Video.Height, DeviceScaleFactor: 1},
		}
		plan := shot.FramePlan{Frames: o.cfg.Video.Frames(), Settle: o.cfg.FrameSettle}
		captured, err := o.capturer.CaptureFrames(ctx, req, plan, ws.Path())
		metrics.ObserveCapture(j.url.String(), "frames", resultLabel(err))
		if err != nil {
			return 0, ensureKind(err, shot.CaptureFailed, "capture frames")
		}
		seq = captured
		return 0, nil
	})
	return seq, err
}

func (o *Orchestrator) extractColors(
	ctx context.Context,
	j *job,
	ws Workspace,
	still *shot.CapturedImage,
	frames *shot.FrameSequence,
) shot.ColorSample {
	var colors shot.ColorSample
	_ = o.step(ctx, j, progress.StepColors, func(context.Context) (int64, error) {
		var data []byte
		switch {
		case still != nil:
			data = still.Data
		case frames != nil && frames.Count > 0:
			first, err := ws.ReadFile(fmt.Sprintf(frames.Pattern, 0))
			if err != nil {
				j.logger.Warn("first frame unreadable; using fallback colors", zap.Error(err))
			}
			data = first
		}
		// Extraction never fails; undecodable input yields the fallback pair.
		colors = o.colors.Extract(data)
		return 0, nil
	})
	return colors
}

func (o *Orchestrator) composeCollage(
	ctx context.Context,
	j *job,
	still *shot.CapturedImage,
	colors shot.ColorSample,
) (*shot.Artifact, error) {
	if o.compositor == nil {
		return nil, shot.Errorf(shot.CompositeFailed, "no compositor configured")
	}
	spec := o.cfg.Composite
	if o.cfg.Caption {
		spec.Caption = j.url.Hostname()
	}
	var art *shot.Artifact
	err := o.step(ctx, j, progress.StepComposite, func(context.Context) (int64, error) {
		data, err := o.compositor.Compose(still.Data, colors, spec)
		if err != nil {
			return 0, ensureKind(err, shot.CompositeFailed, "compose collage")
		}
		art = &shot.Artifact{
			Kind:        shot.KindCollage,
			ContentType: "image/png",
			Filename:    CollageFilename,
			Width:       spec.Width,
			Height:      spec.Height,
			Data:        data,
		}
		return int64(len(data)), nil
	})
	return art, err
}

func (o *Orchestrator) renderVideo(ctx context.Context, j *job, ws Workspace, src shot.VideoSource) (*shot.Artifact, error) {
	if o.renderer == nil {
		return nil, shot.Errorf(shot.EncodeFailed, "no video renderer configured")
	}
	var art *shot.Artifact
	err := o.step(ctx, j, progress.StepVideo, func(ctx context.Context) (int64, error) {
		ctx = video.WithProgress(ctx, func(p video.Progress) {
			o.emit(j, progress.Event{Stage: progress.StageEncode, Step: progress.StepVideo, Frame: p.Frame, Dur: p.OutTime})
		})
		data, err := o.renderer.Render(ctx, src, o.cfg.Video, ws.Path())
		if err != nil {
			return 0, ensureKind(err, shot.EncodeFailed, "render video")
		}
		art = &shot.Artifact{
			Kind:        shot.KindVideo,
			ContentType: "video/mp4",
			Filename:    VideoFilename,
			Width:       o.cfg.Video.Width,
			Height:      o.cfg.Video.Height,
			Data:        data,
		}
		return int64(len(data)), nil
	})
	return art, err
}

// step runs fn as a traced, logged pipeline step and reports it to the progress sinks.
func (o *Orchestrator) step(ctx context.Context, j *job, step progress.Step, fn func(context.Context) (int64, error)) error {
	ctx, span := o.tracer.Start(ctx, "siteshot."+string(step))
	defer span.End()

	o.emit(j, progress.Event{Stage: progress.StageStepStart, Step: step})
	start := time.Now()
	n, err := fn(ctx)
	took := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(shot.KindOf(err)))
		j.logger.Warn("step failed",
			zap.String("stage", string(step)),
			zap.String("kind", string(shot.KindOf(err))),
			zap.Duration("took", took),
			zap.Error(err),
			diagnosticsField(err),
		)
		return err
	}
	span.SetAttributes(attribute.Int64("siteshot.bytes", n))
	o.emit(j, progress.Event{Stage: progress.StageStepDone, Step: step, Dur: took, Bytes: n})
	j.logger.Debug("step done", zap.String("stage", string(step)), zap.Duration("took", took), zap.Int64("bytes", n))
	return nil
}

func screenshotFilename(mode shot.CaptureMode) string {
	if mode == shot.ModeViewport {
		return ViewportScreenshotFilename
	}
	return ScreenshotFilename
}

func (o *Orchestrator) resolveMode(req GenerateRequest) shot.CaptureMode {
	if req.Mode != "" {
		return req.Mode
	}
	if req.Kinds.Has(shot.KindVideo) && o.cfg.Video.Strategy != shot.StrategyFrames {
		return shot.ModeFullPage
	}
	return o.cfg.DefaultMode
}

func (o *Orchestrator) checkMemory() *shot.Error {
	if o.memory == nil {
		return nil
	}
	reading, err := o.memory.Sample()
	if err != nil {
		o.logger.Warn("memory sample failed; admitting without the memory gate", zap.Error(err))
		return nil
	}
	o.lease.Record(reading)
	ratio := reading.Ratio()
	metrics.ObserveMemory(reading.UsedBytes, ratio)
	if ratio > o.cfg.MemoryThreshold {
		return shot.Errorf(shot.Busy, "memory use at %.0f%% of limit exceeds %.0f%%", ratio*100, o.cfg.MemoryThreshold*100)
	}
	return nil
}

// jobTimeout turns an error caused by the job's own deadline into CaptureTimeout. Errors after
// the caller went away are left alone.
func (o *Orchestrator) jobTimeout(parent, jobCtx context.Context, err error) error {
	if err == nil || parent.Err() != nil || !errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return err
	}
	if shot.KindOf(err) == shot.CaptureTimeout {
		return err
	}
	return shot.Wrap(shot.CaptureTimeout, err, fmt.Sprintf("job exceeded %s", o.cfg.JobTimeout))
}

func (o *Orchestrator) cleanup(j *job, ws Workspace) {
	if o.cfg.CleanupGrace > 0 {
		time.Sleep(o.cfg.CleanupGrace)
	}
	if err := ws.Remove(); err != nil {
		cerr := shot.Wrap(shot.InternalCleanupError, err, "remove job workspace")
		j.logger.Error("cleanup failed", zap.String("kind", string(cerr.Kind)), zap.Error(cerr))
		o.emit(j, progress.Event{
			Stage:     progress.StageCleanup,
			Step:      progress.StepCleanup,
			ErrorKind: string(cerr.Kind),
			Note:      err.Error(),
		})
		return
	}
	j.logger.Debug("workspace removed", zap.String("path", ws.Path()))
}

func (o *Orchestrator) finish(j *job, span trace.Span, assets shot.GeneratedAssets, err error) {
	took := time.Since(j.started)
	if err != nil {
		j.transition(StateFailed)
		kind := shot.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		j.logger.Warn("job failed",
			zap.String("kind", string(kind)),
			zap.Duration("took", took),
			zap.Error(err),
			diagnosticsField(err),
		)
		o.emit(j, progress.Event{Stage: progress.StageJobError, ErrorKind: string(kind), Dur: took, Note: err.Error()})
		return
	}
	var total int64
	for _, kind := range shot.AllKinds() {
		if art := assets.Get(kind); art != nil {
			total += int64(len(art.Data))
		}
	}
	j.transition(StateCompleted)
	span.SetStatus(codes.Ok, "")
	j.logger.Info("job completed", zap.Duration("took", took), zap.Int64("bytes", total))
	o.emit(j, progress.Event{Stage: progress.StageJobDone, Dur: took, Bytes: total})
}

// diagnosticsField logs encoder output when err carries any.
func diagnosticsField(err error) zap.Field {
	if diag := shot.DiagnosticsOf(err); diag != "" {
		return zap.String("diagnostics", diag)
	}
	return zap.Skip()
}

func (o *Orchestrator) reject(jobID string, target *url.URL, err *shot.Error, outcome string) {
	metrics.ObserveAdmission(outcome)
	o.logger.Warn("job rejected",
		zap.String("job_id", jobID),
		zap.String("url", target.String()),
		zap.String("kind", string(err.Kind)),
		zap.String("reason", err.Message),
	)
	o.events.Emit(progress.Event{
		JobID:     jobID,
		TS:        o.clock.Now(),
		Stage:     progress.StageJobRejected,
		URL:       target.String(),
		ErrorKind: string(err.Kind),
		Note:      err.Message,
	})
}

func (o *Orchestrator) emit(j *job, evt progress.Event) {
	evt.JobID = j.id
	evt.TS = o.clock.Now()
	evt.URL = j.url.String()
	o.events.Emit(evt)
}

func validate(req GenerateRequest) (*url.URL, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, shot.Errorf(shot.InvalidInput, "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, shot.Wrap(shot.InvalidInput, err, "url is malformed")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, shot.Errorf(shot.InvalidInput, "url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, shot.Errorf(shot.InvalidInput, "url must include a host")
	}
	if len(req.Kinds) == 0 {
		return nil, shot.Errorf(shot.InvalidInput, "at least one asset kind is required")
	}
	for kind := range req.Kinds {
		switch kind {
		case shot.KindScreenshot, shot.KindCollage, shot.KindVideo:
		default:
			return nil, shot.Errorf(shot.InvalidInput, "unknown asset kind %q", kind)
		}
	}
	switch req.Mode {
	case "", shot.ModeViewport, shot.ModeFullPage:
	default:
		return nil, shot.Errorf(shot.InvalidInput, "unknown capture mode %q", req.Mode)
	}
	return u, nil
}

// ensureKind keeps an existing failure kind and wraps anything else as kind.
func ensureKind(err error, kind shot.ErrorKind, msg string) error {
	if shot.KindOf(err) != "" {
		return err
	}
	return shot.Wrap(kind, err, msg)
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if kind := shot.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func kindNames(kinds shot.Kinds) []string {
	sorted := kinds.Sorted()
	out := make([]string, 0, len(sorted))
	for _, k := range sorted {
		out = append(out, string(k))
	}
	return out
}
