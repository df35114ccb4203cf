package shot

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image/color"
	"net/url"
	"strings"
	"time"
)

// CaptureMode selects how much of the page the capturer rasterizes.
type CaptureMode string

const (
	// ModeViewport captures only the visible viewport.
	ModeViewport CaptureMode = "viewport"
	// ModeFullPage captures the entire scrollable page.
	ModeFullPage CaptureMode = "full-page"
)

// ParseCaptureMode validates a mode string. The empty string is accepted and means "auto".
func ParseCaptureMode(raw string) (CaptureMode, error) {
	switch CaptureMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case ModeViewport:
		return ModeViewport, nil
	case ModeFullPage, "full", "fullpage":
		return ModeFullPage, nil
	default:
		return "", fmt.Errorf("unknown capture mode %q", raw)
	}
}

// Viewport describes the emulated browser window.
type Viewport struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor"`
}

// CaptureRequest is the immutable input of a single capture.
type CaptureRequest struct {
	URL      *url.URL
	Mode     CaptureMode
	Viewport Viewport
}

// CapturedImage is the raster produced by the capturer.
type CapturedImage struct {
	Data   []byte
	Width  int
	Height int
	Format string
	// Path is the workspace file holding Data, once the orchestrator has spilled it to disk.
	Path string
}

// FramePlan tells the capturer how to sample a scrolling page.
type FramePlan struct {
	Frames int
	// Settle is an optional pause between a scroll step and its screenshot.
	Settle time.Duration
}

// FrameSequence describes numbered frame files written into a directory.
type FrameSequence struct {
	Dir     string
	Pattern string
	Count   int
	Width   int
	Height  int
}

// RGB is an opaque 8-bit color.
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// Hex renders the color as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// RGBA converts the color to an opaque color.RGBA.
func (c RGB) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}

// MarshalText renders the color as #rrggbb in JSON payloads.
func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// UnmarshalText parses #rrggbb.
func (c *RGB) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseHex parses a #rrggbb color; digits may be either case.
func ParseHex(raw string) (RGB, error) {
	if len(raw) != 7 || raw[0] != '#' {
		return RGB{}, fmt.Errorf("color %q is not #rrggbb", raw)
	}
	b, err := hex.DecodeString(raw[1:])
	if err != nil {
		return RGB{}, fmt.Errorf("color %q is not #rrggbb: %w", raw, err)
	}
	return RGB{R: b[0], G: b[1], B: b[2]}, nil
}

// ColorSample is the color pair used to style the collage background.
type ColorSample struct {
	Primary   RGB `json:"primary"`
	Secondary RGB `json:"secondary"`
}

// BackgroundStyle picks the collage background treatment.
type BackgroundStyle string

const (
	// BackgroundSolid fills the canvas with the primary color.
	BackgroundSolid BackgroundStyle = "solid"
	// BackgroundGradient blends primary into secondary along a diagonal.
	BackgroundGradient BackgroundStyle = "gradient"
)

// GradientDirection is the axis a linear gradient runs along.
type GradientDirection string

const (
	// DiagonalDown runs from the top-left corner to the bottom-right corner.
	DiagonalDown GradientDirection = "diagonal-down"
	// DiagonalUp runs from the bottom-left corner to the top-right corner.
	DiagonalUp GradientDirection = "diagonal-up"
	// Vertical runs from top to bottom.
	Vertical GradientDirection = "vertical"
)

// Gradient is a two-stop linear gradient descriptor.
type Gradient struct {
	From      RGB
	To        RGB
	Direction GradientDirection
}

// Background describes how the canvas is painted before the screenshot is placed.
type Background struct {
	Style     BackgroundStyle
	Direction GradientDirection
}

// Resolve binds the descriptor to a sampled color pair.
func (b Background) Resolve(colors ColorSample) Gradient {
	if b.Style == BackgroundSolid {
		return Gradient{From: colors.Primary, To: colors.Primary, Direction: Vertical}
	}
	dir := b.Direction
	if dir == "" {
		dir = DiagonalDown
	}
	return Gradient{From: colors.Primary, To: colors.Secondary, Direction: dir}
}

// Anchor is the edge the resized screenshot is pinned to.
type Anchor string

const (
	// AnchorTop keeps the page header visible and crops the bottom.
	AnchorTop Anchor = "top"
	// AnchorCenter fits the whole screenshot and centers it in the region.
	AnchorCenter Anchor = "center"
)

// Placement positions the screenshot on the collage canvas.
type Placement struct {
	RegionWidth  int
	RegionHeight int
	// Top is the y offset of the region on the canvas.
	Top        int
	Anchor     Anchor
	FramePad   int
	FrameColor color.RGBA
}

// CompositeSpec configures the collage.
type CompositeSpec struct {
	Width      int
	Height     int
	Background Background
	Placement  Placement
	// Caption is drawn under the framed screenshot when non-empty.
	Caption     string
	CaptionSize float64
	CaptionRGB  RGB
}

// VideoStrategy chooses how the scrolling video is produced.
type VideoStrategy string

const (
	// StrategyPan animates a crop window over a single full-page image.
	StrategyPan VideoStrategy = "pan"
	// StrategyFrames re-renders the page once per frame while scrolling it.
	StrategyFrames VideoStrategy = "frames"
)

// VideoSpec configures the rendered video.
type VideoSpec struct {
	Width    int
	Height   int
	FPS      int
	Duration time.Duration
	Strategy VideoStrategy
}

// Frames returns the total frame budget.
func (v VideoSpec) Frames() int {
	return int(v.Duration.Seconds() * float64(v.FPS))
}

// Artifact is one generated binary asset.
type Artifact struct {
	Kind        Kind
	ContentType string
	Filename    string
	Width       int
	Height      int
	Data        []byte
}

// GeneratedAssets is the successful result of a job.
type GeneratedAssets struct {
	JobID       string
	URL         string
	GeneratedAt time.Time
	Colors      ColorSample
	Screenshot  *Artifact
	Collage     *Artifact
	Video       *Artifact
}

// Get returns the artifact for a kind, or nil.
func (g GeneratedAssets) Get(kind Kind) *Artifact {
	switch kind {
	case KindScreenshot:
		return g.Screenshot
	case KindCollage:
		return g.Collage
	case KindVideo:
		return g.Video
	default:
		return nil
	}
}

// ArtifactPayload is the JSON view of an artifact.
type ArtifactPayload struct {
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Bytes       int    `json:"bytes"`
	Data        string `json:"data"`
}

// Payload is the JSON view of GeneratedAssets with base64 data.
type Payload struct {
	JobID       string                   `json:"job_id"`
	URL         string                   `json:"url"`
	GeneratedAt string                   `json:"generated_at"`
	Colors      ColorSample              `json:"colors"`
	Assets      map[Kind]ArtifactPayload `json:"assets"`
}

// Payload encodes every present artifact as base64 for embedding in a single JSON document.
func (g GeneratedAssets) Payload() Payload {
	out := Payload{
		JobID:       g.JobID,
		URL:         g.URL,
		GeneratedAt: g.GeneratedAt.UTC().Format(time.RFC3339),
		Colors:      g.Colors,
		Assets:      map[Kind]ArtifactPayload{},
	}
	for _, kind := range AllKinds() {
		art := g.Get(kind)
		if art == nil {
			continue
		}
		out.Assets[kind] = ArtifactPayload{
			ContentType: art.ContentType,
			Filename:    art.Filename,
			Width:       art.Width,
			Height:      art.Height,
			Bytes:       len(art.Data),
			Data:        base64.StdEncoding.EncodeToString(art.Data),
		}
	}
	return out
}
