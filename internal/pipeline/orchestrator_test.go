package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/siteshot/internal/progress"
	"github.com/JakeFAU/siteshot/internal/shot"
	"github.com/JakeFAU/siteshot/internal/workspace"
)

var testClockTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCapturer struct {
	mu        sync.Mutex
	captures  int
	frameRuns int
	modes     []shot.CaptureMode
	plans     []shot.FramePlan
	viewports []shot.Viewport
	err       error
	frameErr  error
	// gate, when set, holds Capture until closed or ctx ends.
	gate chan struct{}
	// waitCtx makes Capture block until ctx ends.
	waitCtx bool
}

func (c *fakeCapturer) Capture(ctx context.Context, req shot.CaptureRequest) (shot.CapturedImage, error) {
	c.mu.Lock()
	c.captures++
	c.modes = append(c.modes, req.Mode)
	c.viewports = append(c.viewports, req.Viewport)
	gate := c.gate
	c.mu.Unlock()

	if c.waitCtx {
		<-ctx.Done()
		return shot.CapturedImage{}, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return shot.CapturedImage{}, ctx.Err()
		}
	}
	if c.err != nil {
		return shot.CapturedImage{}, c.err
	}
	return shot.CapturedImage{Data: []byte("still-png"), Width: req.Viewport.Width, Height: 900, Format: "png"}, nil
}

func (c *fakeCapturer) CaptureFrames(
	_ context.Context,
	req shot.CaptureRequest,
	plan shot.FramePlan,
	dir string,
) (shot.FrameSequence, error) {
	c.mu.Lock()
	c.frameRuns++
	c.plans = append(c.plans, plan)
	c.viewports = append(c.viewports, req.Viewport)
	c.mu.Unlock()
	if c.frameErr != nil {
		return shot.FrameSequence{}, c.frameErr
	}
	const pattern = "frame-%05d.png"
	for i := 0; i < plan.Frames; i++ {
		name := filepath.Join(dir, fmt.Sprintf(pattern, i))
		if err := os.WriteFile(name, []byte(fmt.Sprintf("frame-%d", i)), 0o600); err != nil {
			return shot.FrameSequence{}, err
		}
	}
	return shot.FrameSequence{
		Dir:     dir,
		Pattern: pattern,
		Count:   plan.Frames,
		Width:   req.Viewport.Width,
		Height:  req.Viewport.Height,
	}, nil
}

func (c *fakeCapturer) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures, c.frameRuns
}

type fakeColors struct {
	mu     sync.Mutex
	inputs [][]byte
}

var testColors = shot.ColorSample{Primary: shot.RGB{R: 10, G: 20, B: 30}, Secondary: shot.RGB{R: 200, G: 210, B: 220}}

func (f *fakeColors) Extract(data []byte) shot.ColorSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, data)
	return testColors
}

type fakeCompositor struct {
	calls int
	spec  shot.CompositeSpec
	err   error
}

func (f *fakeCompositor) Compose(_ []byte, _ shot.ColorSample, spec shot.CompositeSpec) ([]byte, error) {
	f.calls++
	f.spec = spec
	if f.err != nil {
		return nil, f.err
	}
	return []byte("collage-png"), nil
}

type fakeRenderer struct {
	calls       int
	src         shot.VideoSource
	stillExists bool
	err         error
}

func (f *fakeRenderer) Render(_ context.Context, src shot.VideoSource, _ shot.VideoSpec, dir string) ([]byte, error) {
	f.calls++
	f.src = src
	if src.Image != nil {
		_, err := os.Stat(src.Image.Path)
		f.stillExists = err == nil
	}
	if err := os.WriteFile(filepath.Join(dir, "scroll-video.mp4"), []byte("mp4"), 0o600); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp4"), nil
}

type fakeSampler struct {
	reading shot.MemoryReading
	err     error
}

func (f fakeSampler) Sample() (shot.MemoryReading, error) {
	return f.reading, f.err
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testClockTime }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%03d", s.n.Add(1)), nil
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) snapshot() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func (r *recorder) stages() []progress.Stage {
	var out []progress.Stage
	for _, evt := range r.snapshot() {
		out = append(out, evt.Stage)
	}
	return out
}

type brokenDir struct {
	Workspace
}

func (brokenDir) Remove() error { return errors.New("device busy") }

type brokenRemoval struct {
	inner Workspaces
}

func (b brokenRemoval) Create(jobID string) (Workspace, error) {
	ws, err := b.inner.Create(jobID)
	if err != nil {
		return nil, err
	}
	return brokenDir{Workspace: ws}, nil
}

type noWorkspaces struct{}

func (noWorkspaces) Create(string) (Workspace, error) { return nil, errors.New("disk full") }

type fixture struct {
	base       string
	capturer   *fakeCapturer
	colors     *fakeColors
	compositor *fakeCompositor
	renderer   *fakeRenderer
	events     *recorder
	lease      *Lease
}

func testConfig() Config {
	return Config{
		Viewport:    shot.Viewport{Width: 320, Height: 240, DeviceScaleFactor: 1},
		DefaultMode: shot.ModeViewport,
		Composite:   shot.CompositeSpec{Width: 100, Height: 200},
		Video:       shot.VideoSpec{Width: 64, Height: 48, FPS: 5, Duration: time.Second, Strategy: shot.StrategyPan},
	}
}

func newFixture(t *testing.T, mutate func(*Config, *Deps)) (*Orchestrator, *fixture) {
	t.Helper()
	base := t.TempDir()
	mgr, err := workspace.New(workspace.Config{BaseDir: base})
	require.NoError(t, err)

	fx := &fixture{
		base:       base,
		capturer:   &fakeCapturer{},
		colors:     &fakeColors{},
		compositor: &fakeCompositor{},
		renderer:   &fakeRenderer{},
		events:     &recorder{},
		lease:      NewLease(),
	}
	cfg := testConfig()
	deps := Deps{
		Capturer:   fx.capturer,
		Colors:     fx.colors,
		Compositor: fx.compositor,
		Renderer:   fx.renderer,
		Workspaces: LocalWorkspaces(mgr),
		Clock:      fixedClock{},
		IDs:        &seqIDs{},
		Lease:      fx.lease,
		Events:     fx.events,
		Logger:     zap.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	o, err := New(cfg, deps)
	require.NoError(t, err)
	return o, fx
}

func (fx *fixture) assertClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(fx.base)
	require.NoError(t, err)
	assert.Empty(t, entries, "job workspace left behind")
	assert.False(t, fx.lease.Busy(), "lease still held")
}

func allKinds() shot.Kinds {
	return shot.NewKinds(shot.KindScreenshot, shot.KindCollage, shot.KindVideo)
}

func TestGenerateAllKinds(t *testing.T) {
	o, fx := newFixture(t, func(cfg *Config, _ *Deps) { cfg.Caption = true })

	assets, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com/pricing", Kinds: allKinds()})
	require.NoError(t, err)

	assert.Equal(t, "job-001", assets.JobID)
	assert.Equal(t, "https://example.com/pricing", assets.URL)
	assert.Equal(t, testClockTime, assets.GeneratedAt)
	assert.Equal(t, testColors, assets.Colors)

	require.NotNil(t, assets.Screenshot)
	assert.Equal(t, ScreenshotFilename, assets.Screenshot.Filename)
	assert.Equal(t, []byte("still-png"), assets.Screenshot.Data)
	require.NotNil(t, assets.Collage)
	assert.Equal(t, CollageFilename, assets.Collage.Filename)
	assert.Equal(t, 100, assets.Collage.Width)
	require.NotNil(t, assets.Video)
	assert.Equal(t, VideoFilename, assets.Video.Filename)
	assert.Equal(t, "video/mp4", assets.Video.ContentType)

	// Video with the pan strategy needs the whole page.
	assert.Equal(t, []shot.CaptureMode{shot.ModeFullPage}, fx.capturer.modes)
	assert.Equal(t, "example.com", fx.compositor.spec.Caption)
	assert.True(t, fx.renderer.stillExists, "still must be on disk while encoding")
	require.NotNil(t, fx.renderer.src.Image)
	assert.Nil(t, fx.renderer.src.Frames)

	fx.assertClean(t)

	stages := fx.events.stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageJobStart, stages[0])
	assert.Equal(t, progress.StageJobDone, stages[len(stages)-1])

	var done []progress.Step
	for _, evt := range fx.events.snapshot() {
		assert.Equal(t, "job-001", evt.JobID)
		assert.NoError(t, evt.Validate())
		if evt.Stage == progress.StageStepDone {
			done = append(done, evt.Step)
		}
	}
	assert.Equal(t, []progress.Step{
		progress.StepCapture, progress.StepColors, progress.StepComposite, progress.StepVideo,
	}, done)
}

func TestGenerateScreenshotOnly(t *testing.T) {
	o, fx := newFixture(t, nil)

	assets, err := o.Generate(context.Background(), GenerateRequest{
		URL:   "http://example.com",
		Kinds: shot.NewKinds(shot.KindScreenshot),
	})
	require.NoError(t, err)

	assert.NotNil(t, assets.Screenshot)
	assert.Nil(t, assets.Collage)
	assert.Nil(t, assets.Video)
	assert.Zero(t, fx.compositor.calls)
	assert.Zero(t, fx.renderer.calls)
	assert.Equal(t, []shot.CaptureMode{shot.ModeViewport}, fx.capturer.modes)
	assert.Equal(t, ViewportScreenshotFilename, assets.Screenshot.Filename)
	fx.assertClean(t)
}

func TestGenerateNamesScreenshotByMode(t *testing.T) {
	tests := []struct {
		mode shot.CaptureMode
		want string
	}{
		{shot.ModeViewport, "screenshot-viewport.png"},
		{shot.ModeFullPage, "screenshot-full.png"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			o, _ := newFixture(t, nil)
			assets, err := o.Generate(context.Background(), GenerateRequest{
				URL:   "https://example.com",
				Kinds: shot.NewKinds(shot.KindScreenshot),
				Mode:  tt.mode,
			})
			require.NoError(t, err)
			require.NotNil(t, assets.Screenshot)
			assert.Equal(t, tt.want, assets.Screenshot.Filename)
		})
	}
}

func TestGenerateExplicitModeWins(t *testing.T) {
	o, fx := newFixture(t, nil)

	_, err := o.Generate(context.Background(), GenerateRequest{
		URL:   "https://example.com",
		Kinds: shot.NewKinds(shot.KindVideo),
		Mode:  shot.ModeViewport,
	})
	require.NoError(t, err)
	assert.Equal(t, []shot.CaptureMode{shot.ModeViewport}, fx.capturer.modes)
}

func TestGenerateFramesStrategy(t *testing.T) {
	o, fx := newFixture(t, func(cfg *Config, _ *Deps) {
		cfg.Video.Strategy = shot.StrategyFrames
		cfg.FrameSettle = 10 * time.Millisecond
	})

	assets, err := o.Generate(context.Background(), GenerateRequest{
		URL:   "https://example.com",
		Kinds: shot.NewKinds(shot.KindVideo),
	})
	require.NoError(t, err)
	require.NotNil(t, assets.Video)

	captures, frameRuns := fx.capturer.counts()
	assert.Zero(t, captures, "frames-only video takes no still")
	assert.Equal(t, 1, frameRuns)
	require.Len(t, fx.capturer.plans, 1)
	assert.Equal(t, shot.FramePlan{Frames: 5, Settle: 10 * time.Millisecond}, fx.capturer.plans[0])
	assert.Equal(t, shot.Viewport{Width: 64, Height: 48, DeviceScaleFactor: 1}, fx.capturer.viewports[0])

	require.NotNil(t, fx.renderer.src.Frames)
	assert.Nil(t, fx.renderer.src.Image)
	require.Len(t, fx.colors.inputs, 1)
	assert.Equal(t, []byte("frame-0"), fx.colors.inputs[0], "colors come from the first frame")
	fx.assertClean(t)
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	cases := map[string]GenerateRequest{
		"empty url":    {URL: "", Kinds: allKinds()},
		"blank url":    {URL: "   ", Kinds: allKinds()},
		"ftp scheme":   {URL: "ftp://example.com", Kinds: allKinds()},
		"relative":     {URL: "/just/a/path", Kinds: allKinds()},
		"no host":      {URL: "http://", Kinds: allKinds()},
		"malformed":    {URL: "http://exa mple.com/%zz", Kinds: allKinds()},
		"no kinds":     {URL: "https://example.com"},
		"unknown kind": {URL: "https://example.com", Kinds: shot.NewKinds("gif")},
		"unknown mode": {URL: "https://example.com", Kinds: allKinds(), Mode: "sideways"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			o, fx := newFixture(t, nil)

			_, err := o.Generate(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, shot.InvalidInput, shot.KindOf(err))

			captures, frames := fx.capturer.counts()
			assert.Zero(t, captures+frames)
			assert.Empty(t, fx.events.snapshot())
			fx.assertClean(t)
		})
	}
}

func TestGenerateBusyWhileLeaseHeld(t *testing.T) {
	o, fx := newFixture(t, nil)
	release, ok := fx.lease.TryAcquire("other")
	require.True(t, ok)
	defer release()

	_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
	require.Error(t, err)
	assert.Equal(t, shot.Busy, shot.KindOf(err))

	captures, _ := fx.capturer.counts()
	assert.Zero(t, captures)
	events := fx.events.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, progress.StageJobRejected, events[0].Stage)
	assert.Equal(t, string(shot.Busy), events[0].ErrorKind)
}

func TestGenerateConcurrentJobsRunOneAtATime(t *testing.T) {
	o, fx := newFixture(t, nil)
	fx.capturer.gate = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := o.Generate(context.Background(), GenerateRequest{
			URL:   "https://example.com/a",
			Kinds: shot.NewKinds(shot.KindScreenshot),
		})
		first <- err
	}()
	require.Eventually(t, o.Busy, time.Second, time.Millisecond)

	_, err := o.Generate(context.Background(), GenerateRequest{
		URL:   "https://example.com/b",
		Kinds: shot.NewKinds(shot.KindScreenshot),
	})
	assert.Equal(t, shot.Busy, shot.KindOf(err))

	close(fx.capturer.gate)
	require.NoError(t, <-first)

	captures, _ := fx.capturer.counts()
	assert.Equal(t, 1, captures, "only one browser launch")
	fx.assertClean(t)

	_, err = o.Generate(context.Background(), GenerateRequest{
		URL:   "https://example.com/c",
		Kinds: shot.NewKinds(shot.KindScreenshot),
	})
	assert.NoError(t, err, "lease is free again")
}

func TestGenerateMemoryGate(t *testing.T) {
	high := shot.MemoryReading{UsedBytes: 90, LimitBytes: 100}
	low := shot.MemoryReading{UsedBytes: 50, LimitBytes: 100}

	t.Run("over threshold", func(t *testing.T) {
		o, fx := newFixture(t, func(_ *Config, d *Deps) { d.Memory = fakeSampler{reading: high} })
		_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
		assert.Equal(t, shot.Busy, shot.KindOf(err))
		captures, _ := fx.capturer.counts()
		assert.Zero(t, captures)
		assert.Equal(t, high, o.LastMemory())
		fx.assertClean(t)
	})

	t.Run("under threshold", func(t *testing.T) {
		o, _ := newFixture(t, func(_ *Config, d *Deps) { d.Memory = fakeSampler{reading: low} })
		_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
		require.NoError(t, err)
		assert.Equal(t, low, o.LastMemory())
	})

	t.Run("custom threshold", func(t *testing.T) {
		o, _ := newFixture(t, func(c *Config, d *Deps) {
			c.MemoryThreshold = 0.4
			d.Memory = fakeSampler{reading: low}
		})
		_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
		assert.Equal(t, shot.Busy, shot.KindOf(err))
	})

	t.Run("sampler error admits", func(t *testing.T) {
		o, _ := newFixture(t, func(_ *Config, d *Deps) { d.Memory = fakeSampler{err: errors.New("no procfs")} })
		_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
		require.NoError(t, err)
	})
}

func TestGeneratePreservesFailureKinds(t *testing.T) {
	encodeErr := &shot.Error{Kind: shot.EncodeFailed, Message: "ffmpeg exited 1", Diagnostics: "Invalid argument"}
	cases := []struct {
		name   string
		setup  func(fx *fixture)
		expect shot.ErrorKind
	}{
		{
			name:   "browser unavailable",
			setup:  func(fx *fixture) { fx.capturer.err = shot.Errorf(shot.CaptureUnavailable, "no chrome") },
			expect: shot.CaptureUnavailable,
		},
		{
			name:   "navigation timeout",
			setup:  func(fx *fixture) { fx.capturer.err = shot.Errorf(shot.CaptureTimeout, "navigation") },
			expect: shot.CaptureTimeout,
		},
		{
			name:   "untyped capture error",
			setup:  func(fx *fixture) { fx.capturer.err = errors.New("boom") },
			expect: shot.CaptureFailed,
		},
		{
			name:   "compositor error",
			setup:  func(fx *fixture) { fx.compositor.err = errors.New("decode") },
			expect: shot.CompositeFailed,
		},
		{
			name:   "encoder error",
			setup:  func(fx *fixture) { fx.renderer.err = encodeErr },
			expect: shot.EncodeFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, fx := newFixture(t, nil)
			tc.setup(fx)

			assets, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
			require.Error(t, err)
			assert.Equal(t, tc.expect, shot.KindOf(err))
			assert.Empty(t, assets.JobID, "no partial result")
			fx.assertClean(t)

			events := fx.events.snapshot()
			last := events[len(events)-1]
			assert.Equal(t, progress.StageJobError, last.Stage)
			assert.Equal(t, string(tc.expect), last.ErrorKind)
		})
	}
}

func TestGenerateKeepsEncoderDiagnostics(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	o, fx := newFixture(t, func(_ *Config, deps *Deps) { deps.Logger = zap.New(core) })
	fx.renderer.err = &shot.Error{Kind: shot.EncodeFailed, Message: "ffmpeg exited 1", Diagnostics: "Invalid argument"}

	_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: shot.NewKinds(shot.KindVideo)})
	var serr *shot.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Invalid argument", serr.Diagnostics)

	for _, msg := range []string{"step failed", "job failed"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		assert.Equal(t, "Invalid argument", entries[0].ContextMap()["diagnostics"], msg)
	}
}

func TestGenerateSequentialJobsLeaveNothingBehind(t *testing.T) {
	o, fx := newFixture(t, nil)
	for i := 0; i < 6; i++ {
		fx.capturer.err = nil
		if i%2 == 1 {
			fx.capturer.err = errors.New("flaky")
		}
		_, err := o.Generate(context.Background(), GenerateRequest{
			URL:   fmt.Sprintf("https://example.com/%d", i),
			Kinds: allKinds(),
		})
		if i%2 == 1 {
			require.Error(t, err)
		} else {
			require.NoError(t, err)
		}
		fx.assertClean(t)
	}
}

func TestGenerateCleanupFailureDoesNotMaskResult(t *testing.T) {
	withBrokenRemoval := func(_ *Config, d *Deps) { d.Workspaces = brokenRemoval{inner: d.Workspaces} }

	t.Run("primary error kept", func(t *testing.T) {
		o, fx := newFixture(t, withBrokenRemoval)
		fx.capturer.err = shot.Errorf(shot.CaptureUnavailable, "no chrome")

		_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
		assert.Equal(t, shot.CaptureUnavailable, shot.KindOf(err))
		assert.Contains(t, fx.events.stages(), progress.StageCleanup)
		assert.False(t, fx.lease.Busy())
	})

	t.Run("success still returned", func(t *testing.T) {
		o, fx := newFixture(t, withBrokenRemoval)

		assets, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
		require.NoError(t, err)
		assert.NotNil(t, assets.Collage)

		var cleanup *progress.Event
		for _, evt := range fx.events.snapshot() {
			if evt.Stage == progress.StageCleanup {
				e := evt
				cleanup = &e
			}
		}
		require.NotNil(t, cleanup)
		assert.Equal(t, string(shot.InternalCleanupError), cleanup.ErrorKind)
		assert.Equal(t, progress.StepCleanup, cleanup.Step)
	})
}

func TestGenerateJobTimeout(t *testing.T) {
	o, fx := newFixture(t, func(c *Config, _ *Deps) { c.JobTimeout = 50 * time.Millisecond })
	fx.capturer.waitCtx = true

	start := time.Now()
	_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
	require.Error(t, err)
	assert.Equal(t, shot.CaptureTimeout, shot.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	fx.assertClean(t)
}

func TestGenerateCallerCancel(t *testing.T) {
	o, fx := newFixture(t, func(c *Config, _ *Deps) { c.JobTimeout = time.Minute })
	fx.capturer.waitCtx = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(ctx, GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
		done <- err
	}()
	require.Eventually(t, func() bool {
		captures, _ := fx.capturer.counts()
		return captures == 1
	}, time.Second, time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, shot.CaptureTimeout, shot.KindOf(err))
	fx.assertClean(t)
}

func TestGenerateWorkspaceUnavailable(t *testing.T) {
	o, fx := newFixture(t, func(_ *Config, d *Deps) { d.Workspaces = noWorkspaces{} })

	_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: allKinds()})
	assert.Equal(t, shot.CaptureUnavailable, shot.KindOf(err))
	captures, _ := fx.capturer.counts()
	assert.Zero(t, captures)
	assert.False(t, fx.lease.Busy())
}

func TestGenerateWithoutRendererFailsVideo(t *testing.T) {
	o, fx := newFixture(t, func(_ *Config, d *Deps) { d.Renderer = nil })

	_, err := o.Generate(context.Background(), GenerateRequest{URL: "https://example.com", Kinds: shot.NewKinds(shot.KindVideo)})
	assert.Equal(t, shot.EncodeFailed, shot.KindOf(err))
	fx.assertClean(t)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, fx := newFixture(t, nil)
	full := Deps{
		Capturer:   fx.capturer,
		Colors:     fx.colors,
		Workspaces: noWorkspaces{},
		Clock:      fixedClock{},
		IDs:        &seqIDs{},
	}
	_, err := New(testConfig(), full)
	require.NoError(t, err)

	for name, strip := range map[string]func(*Deps){
		"capturer":   func(d *Deps) { d.Capturer = nil },
		"colors":     func(d *Deps) { d.Colors = nil },
		"workspaces": func(d *Deps) { d.Workspaces = nil },
		"clock":      func(d *Deps) { d.Clock = nil },
		"ids":        func(d *Deps) { d.IDs = nil },
	} {
		t.Run(name, func(t *testing.T) {
			d := full
			strip(&d)
			_, err := New(testConfig(), d)
			assert.Error(t, err)
		})
	}

	cfg := testConfig()
	cfg.Viewport = shot.Viewport{}
	_, err = New(cfg, full)
	assert.Error(t, err)
}
