package capture

import (
	"context"

	"github.com/JakeFAU/siteshot/internal/shot"
)

// Browser is one launched browser process with a single page.
type Browser interface {
	// Navigate loads url and returns once the document is ready.
	Navigate(ctx context.Context, url string) error
	// Screenshot returns PNG bytes of the viewport or of the whole page.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	// ScrollHeight reports the document's scrollable height in CSS pixels.
	ScrollHeight(ctx context.Context) (int, error)
	// ScrollTo moves the window to vertical offset y.
	ScrollTo(ctx context.Context, y int) error
	// Close terminates the browser process. It is safe to call more than once.
	Close() error
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context, viewport shot.Viewport) (Browser, error)
}
