package shot

import (
	"context"
	"time"
)

// Capturer produces rasters of web pages.
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) (CapturedImage, error)
	CaptureFrames(ctx context.Context, req CaptureRequest, plan FramePlan, dir string) (FrameSequence, error)
}

// ColorExtractor derives a color pair from an encoded image.
type ColorExtractor interface {
	Extract(image []byte) ColorSample
}

// Compositor builds the collage.
type Compositor interface {
	Compose(screenshot []byte, colors ColorSample, spec CompositeSpec) ([]byte, error)
}

// VideoSource is either a single image or a frame sequence.
type VideoSource struct {
	Image  *CapturedImage
	Frames *FrameSequence
}

// VideoRenderer encodes a video into dir and returns its bytes.
type VideoRenderer interface {
	Render(ctx context.Context, src VideoSource, spec VideoSpec, dir string) ([]byte, error)
}

// MemoryReading is one observation of memory usage against the hard ceiling.
type MemoryReading struct {
	UsedBytes  uint64
	LimitBytes uint64
	At         time.Time
}

// Ratio returns used/limit, or 0 when no limit is known.
func (m MemoryReading) Ratio() float64 {
	if m.LimitBytes == 0 {
		return 0
	}
	return float64(m.UsedBytes) / float64(m.LimitBytes)
}

// MemorySampler observes process memory.
type MemorySampler interface {
	Sample() (MemoryReading, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
