package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png" // register decoder
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/shot"
)

// FramePattern names the files written by CaptureFrames.
const FramePattern = "frame_%05d.png"

// Config controls navigation bounds.
type Config struct {
	NavigationTimeout time.Duration
	// Settle is the pause after the document is ready, for late-painting content.
	Settle time.Duration
}

// Capturer implements shot.Capturer on top of a Launcher.
type Capturer struct {
	launcher Launcher
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Capturer.
func New(launcher Launcher, cfg Config, logger *zap.Logger) *Capturer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{launcher: launcher, cfg: cfg, logger: logger}
}

// Capture launches a browser, loads the page, and returns a PNG. The browser is closed before
// Capture returns, on success and on every failure.
func (c *Capturer) Capture(ctx context.Context, req shot.CaptureRequest) (shot.CapturedImage, error) {
	if req.URL == nil {
		return shot.CapturedImage{}, shot.Errorf(shot.InvalidInput, "capture url is required")
	}
	target := req.URL.String()

	browser, err := c.launch(ctx, req.Viewport)
	if err != nil {
		return shot.CapturedImage{}, err
	}
	defer c.closeBrowser(browser, target)

	if err := c.open(ctx, browser, target); err != nil {
		return shot.CapturedImage{}, err
	}

	shotCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
	defer cancel()
	data, err := browser.Screenshot(shotCtx, req.Mode == shot.ModeFullPage)
	if err != nil {
		return shot.CapturedImage{}, classify(ctx, err, "screenshot "+target)
	}
	// Release the browser before anything downstream runs.
	c.closeBrowser(browser, target)

	width, height, err := pngSize(data)
	if err != nil {
		return shot.CapturedImage{}, shot.Wrap(shot.CaptureFailed, err, "browser returned an unreadable screenshot")
	}
	c.logger.Debug("page captured",
		zap.String("url", target),
		zap.String("mode", string(req.Mode)),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("bytes", len(data)),
	)
	return shot.CapturedImage{Data: data, Width: width, Height: height, Format: "png"}, nil
}

// CaptureFrames scrolls the page from top to bottom in plan.Frames even steps and writes one
// viewport screenshot per step into dir. The browser stays open for the whole loop and is
// closed before CaptureFrames returns.
func (c *Capturer) CaptureFrames(
	ctx context.Context,
	req shot.CaptureRequest,
	plan shot.FramePlan,
	dir string,
) (shot.FrameSequence, error) {
	if req.URL == nil {
		return shot.FrameSequence{}, shot.Errorf(shot.InvalidInput, "capture url is required")
	}
	if plan.Frames <= 0 {
		return shot.FrameSequence{}, shot.Errorf(shot.InvalidInput, "frame budget must be > 0")
	}
	target := req.URL.String()

	browser, err := c.launch(ctx, req.Viewport)
	if err != nil {
		return shot.FrameSequence{}, err
	}
	defer c.closeBrowser(browser, target)

	if err := c.open(ctx, browser, target); err != nil {
		return shot.FrameSequence{}, err
	}

	height, err := browser.ScrollHeight(ctx)
	if err != nil {
		return shot.FrameSequence{}, classify(ctx, err, "measure "+target)
	}
	offsets := ScrollOffsets(height, req.Viewport.Height, plan.Frames)

	seq := shot.FrameSequence{Dir: dir, Pattern: FramePattern}
	for i, y := range offsets {
		if err := browser.ScrollTo(ctx, y); err != nil {
			return shot.FrameSequence{}, classify(ctx, err, fmt.Sprintf("scroll to %d", y))
		}
		if err := sleep(ctx, plan.Settle); err != nil {
			return shot.FrameSequence{}, classify(ctx, err, "frame settle")
		}
		frameCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
		data, err := browser.Screenshot(frameCtx, false)
		cancel()
		if err != nil {
			return shot.FrameSequence{}, classify(ctx, err, fmt.Sprintf("frame %d", i))
		}
		if i == 0 {
			if seq.Width, seq.Height, err = pngSize(data); err != nil {
				return shot.FrameSequence{}, shot.Wrap(shot.CaptureFailed, err, "browser returned an unreadable frame")
			}
		}
		path := filepath.Join(dir, fmt.Sprintf(FramePattern, i))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return shot.FrameSequence{}, shot.Wrap(shot.CaptureFailed, err, "write frame")
		}
		seq.Count++
	}
	c.closeBrowser(browser, target)

	c.logger.Debug("frames captured",
		zap.String("url", target),
		zap.Int("frames", seq.Count),
		zap.Int("scroll_height", height),
	)
	return seq, nil
}

// ScrollOffsets spreads frames evenly over [0, max(0, pageHeight-viewportHeight)].
func ScrollOffsets(pageHeight, viewportHeight, frames int) []int {
	if frames <= 0 {
		return nil
	}
	maxScroll := max(0, pageHeight-viewportHeight)
	out := make([]int, frames)
	if frames == 1 {
		return out
	}
	for i := range out {
		out[i] = maxScroll * i / (frames - 1)
	}
	return out
}

func (c *Capturer) launch(ctx context.Context, vp shot.Viewport) (Browser, error) {
	browser, err := c.launcher.Launch(ctx, vp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, shot.Wrap(shot.CaptureFailed, ctx.Err(), "capture canceled before browser launch")
		}
		return nil, shot.Wrap(shot.CaptureUnavailable, err, "browser launch failed")
	}
	return browser, nil
}

func (c *Capturer) open(ctx context.Context, browser Browser, target string) error {
	navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
	defer cancel()
	if err := browser.Navigate(navCtx, target); err != nil {
		return classify(ctx, err, "navigate "+target)
	}
	if err := sleep(ctx, c.cfg.Settle); err != nil {
		return classify(ctx, err, "settle "+target)
	}
	return nil
}

func (c *Capturer) closeBrowser(browser Browser, target string) {
	if err := browser.Close(); err != nil {
		c.logger.Warn("browser close failed", zap.String("url", target), zap.Error(err))
	}
}

// classify maps a browser error onto the capture failure kinds. A deadline that fired while the
// caller's own context is still live is a navigation timeout.
func classify(ctx context.Context, err error, op string) error {
	var se *shot.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return shot.Wrap(shot.CaptureTimeout, err, op+" timed out")
	}
	return shot.Wrap(shot.CaptureFailed, err, op+" failed")
}

func pngSize(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode screenshot header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	}
}
