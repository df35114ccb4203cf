package composite

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const minCaptionSize = 12

// captioner draws a single centered line of text with the embedded Go Regular font.
type captioner struct {
	font    *opentype.Font
	newFace func(*opentype.Font, *opentype.FaceOptions) (font.Face, error)
	mu      sync.Mutex
	faces   map[float64]font.Face
}

func newCaptioner() (*captioner, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse caption font: %w", err)
	}
	return &captioner{font: f, newFace: opentype.NewFace, faces: make(map[float64]font.Face)}, nil
}

func (c *captioner) face(size float64) (font.Face, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if face, ok := c.faces[size]; ok {
		return face, nil
	}
	face, err := c.newFace(c.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create caption face: %w", err)
	}
	c.faces[size] = face
	return face, nil
}

// draw places text centered below top and reports whether it was drawn. Text wider than the
// canvas is shrunk down to minCaptionSize; past that, or below the canvas bottom, it is skipped.
func (c *captioner) draw(dst *image.RGBA, text string, size float64, col color.RGBA, top int) (bool, error) {
	if size <= 0 {
		size = 44
	}
	face, err := c.face(size)
	if err != nil {
		return false, err
	}
	b := dst.Bounds()
	avail := b.Dx() * 9 / 10
	width := font.MeasureString(face, text).Ceil()
	if width > avail {
		size = math.Floor(size * float64(avail) / float64(width))
		if size < minCaptionSize {
			return false, nil
		}
		if face, err = c.face(size); err != nil {
			return false, err
		}
		width = font.MeasureString(face, text).Ceil()
		if width > b.Dx() {
			return false, nil
		}
	}
	baseline := top + int(size*1.8)
	if baseline > b.Max.Y {
		return false, nil
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P((b.Dx()-width)/2, baseline),
	}
	d.DrawString(text)
	return true, nil
}
