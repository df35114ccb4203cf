package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/shot"
)

// readyExpression is truthy once DOMContentLoaded has fired for the navigated document. It does
// not wait for network idle: pages with long-polling or streaming connections never get there.
const readyExpression = `document.readyState !== "loading" && location.href !== "about:blank"`

// ChromedpConfig controls the headless Chrome launcher.
type ChromedpConfig struct {
	// ExecPath overrides Chrome discovery.
	ExecPath  string
	UserAgent string
}

// ChromedpLauncher implements Launcher with a fresh headless Chrome process per launch.
type ChromedpLauncher struct {
	cfg    ChromedpConfig
	logger *zap.Logger
}

// NewChromedp creates a launcher backed by chromedp.
func NewChromedp(cfg ChromedpConfig, logger *zap.Logger) *ChromedpLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpLauncher{cfg: cfg, logger: logger}
}

// allocatorOptions keeps Chrome usable on small containers: no sandbox (needs privileges the
// container lacks), no GPU, and no /dev/shm (tmpfs there is often only 64MB).
func (l *ChromedpLauncher) allocatorOptions(vp shot.Viewport) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(vp.Width, vp.Height),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	return opts
}

// Launch starts Chrome and applies the viewport. The process is tied to ctx: canceling it
// kills the browser.
func (l *ChromedpLauncher) Launch(ctx context.Context, vp shot.Viewport) (Browser, error) {
	if vp.Width <= 0 || vp.Height <= 0 {
		return nil, fmt.Errorf("invalid viewport %dx%d", vp.Width, vp.Height)
	}
	scale := vp.DeviceScaleFactor
	if scale <= 0 {
		scale = 1
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions(vp)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	start := time.Now()
	if err := chromedp.Run(browserCtx,
		l.networkSetupAction(),
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height), chromedp.EmulateScale(scale)),
	); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp launch: %w", err)
	}
	l.logger.Debug("browser launched", zap.Duration("took", time.Since(start)))

	return &chromeBrowser{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (l *ChromedpLauncher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if l.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type chromeBrowser struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func (b *chromeBrowser) Navigate(ctx context.Context, url string) error {
	var ready bool
	return b.run(ctx,
		navigateAction(url),
		chromedp.Poll(readyExpression, &ready, chromedp.WithPollingInterval(100*time.Millisecond)),
	)
}

func (b *chromeBrowser) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// Quality 100 selects PNG.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := b.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *chromeBrowser) ScrollHeight(ctx context.Context) (int, error) {
	var height float64
	expr := `Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight)`
	if err := b.run(ctx, chromedp.Evaluate(expr, &height)); err != nil {
		return 0, err
	}
	return int(height), nil
}

func (b *chromeBrowser) ScrollTo(ctx context.Context, y int) error {
	var scrolled float64
	return b.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d); window.scrollY", y), &scrolled))
}

// Close asks Chrome to exit, then cancels the allocator, which waits for the process to go
// away and removes its temporary profile.
func (b *chromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("close browser: %w", err)
		}
		b.browserCancel()
		b.allocCancel()
	})
	return b.closeErr
}

// run executes actions on the browser's page while honoring ctx's deadline and cancellation.
// Actions cannot run on ctx directly because the chromedp target lives on b.ctx.
func (b *chromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("chromedp run: %w", context.DeadlineExceeded)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// navigateAction starts the navigation without waiting for the load event.
func navigateAction(url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if errorText != "" {
			return fmt.Errorf("navigate: %s", errorText)
		}
		return nil
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
