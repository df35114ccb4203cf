// Package palette approximates the dominant colors of a captured page.
package palette

import (
	"bytes"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"golang.org/x/image/draw"

	"github.com/JakeFAU/siteshot/internal/shot"
)

const (
	// SampleSize is the edge of the square grid the image is downsampled to.
	SampleSize = 64
	// BrightenDelta is added to each primary channel to derive the secondary color.
	BrightenDelta = 40
)

// Fallback is returned whenever the image cannot be decoded.
var Fallback = shot.ColorSample{
	Primary:   shot.RGB{R: 0x66, G: 0x7e, B: 0xea},
	Secondary: shot.RGB{R: 0x76, G: 0x4b, B: 0xa2},
}

// Extractor implements shot.ColorExtractor with a channel mean over a downsampled grid.
type Extractor struct{}

// New returns an Extractor.
func New() Extractor {
	return Extractor{}
}

// Extract never fails; undecodable input yields Fallback.
func (Extractor) Extract(data []byte) shot.ColorSample {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil || src.Bounds().Empty() {
		return Fallback
	}
	grid := image.NewRGBA(image.Rect(0, 0, SampleSize, SampleSize))
	draw.ApproxBiLinear.Scale(grid, grid.Bounds(), src, src.Bounds(), draw.Src, nil)

	var r, g, b uint64
	pix := grid.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		r += uint64(pix[i])
		g += uint64(pix[i+1])
		b += uint64(pix[i+2])
	}
	n := uint64(SampleSize * SampleSize)
	primary := shot.RGB{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n)}
	return shot.ColorSample{Primary: primary, Secondary: Brighten(primary, BrightenDelta)}
}

// Brighten offsets every channel by delta, clamped to [0, 255].
func Brighten(c shot.RGB, delta int) shot.RGB {
	return shot.RGB{R: clamp(int(c.R) + delta), G: clamp(int(c.G) + delta), B: clamp(int(c.B) + delta)}
}

func clamp(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}
