// Package composite renders the vertical collage: a gradient background with the resized page
// screenshot framed on top of it.
package composite

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	"image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/JakeFAU/siteshot/internal/shot"
)

// Canvas dimensions of the collage.
const (
	CanvasWidth  = 1080
	CanvasHeight = 1920
)

// DefaultSpec is the house style: diagonal gradient, screenshot pinned to the top of a
// 920x1400 region with a translucent white frame.
func DefaultSpec() shot.CompositeSpec {
	return shot.CompositeSpec{
		Width:  CanvasWidth,
		Height: CanvasHeight,
		Background: shot.Background{
			Style:     shot.BackgroundGradient,
			Direction: shot.DiagonalDown,
		},
		Placement: shot.Placement{
			RegionWidth:  920,
			RegionHeight: 1400,
			Top:          200,
			Anchor:       shot.AnchorTop,
			FramePad:     24,
			FrameColor:   color.RGBA{R: 96, G: 96, B: 96, A: 96}, // premultiplied white
		},
		CaptionSize: 44,
		CaptionRGB:  shot.RGB{R: 255, G: 255, B: 255},
	}
}

// Compositor implements shot.Compositor.
type Compositor struct {
	captions *captioner
	logger   *zap.Logger
}

// New returns a Compositor.
func New(logger *zap.Logger) (*Compositor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := newCaptioner()
	if err != nil {
		return nil, err
	}
	return &Compositor{captions: c, logger: logger}, nil
}

// Compose builds the collage PNG. The output is always spec.Width x spec.Height.
func (c *Compositor) Compose(screenshot []byte, colors shot.ColorSample, spec shot.CompositeSpec) ([]byte, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, shot.Errorf(shot.CompositeFailed, "invalid canvas %dx%d", spec.Width, spec.Height)
	}
	src, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, shot.Wrap(shot.CompositeFailed, err, "decode screenshot")
	}
	if src.Bounds().Empty() {
		return nil, shot.Errorf(shot.CompositeFailed, "screenshot has no pixels")
	}

	canvas := image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	paintGradient(canvas, spec.Background.Resolve(colors))

	place := normalizePlacement(spec)
	fg, err := fit(src, place)
	if err != nil {
		return nil, err
	}
	framed := frame(fg, place.FramePad, place.FrameColor)

	fb := framed.Bounds()
	x := (spec.Width - fb.Dx()) / 2
	y := place.Top
	if place.Anchor == shot.AnchorCenter {
		y = place.Top + (place.RegionHeight+2*place.FramePad-fb.Dy())/2
	}
	dst := image.Rect(x, y, x+fb.Dx(), y+fb.Dy())
	draw.Draw(canvas, dst, framed, fb.Min, draw.Over)

	if spec.Caption != "" && c.captions != nil {
		drawn, err := c.captions.draw(canvas, spec.Caption, spec.CaptionSize, spec.CaptionRGB.RGBA(), dst.Max.Y)
		if err != nil {
			return nil, shot.Wrap(shot.CompositeFailed, err, "draw caption")
		}
		if !drawn {
			c.logger.Warn("caption skipped; no room on canvas",
				zap.String("caption", spec.Caption),
				zap.Int("canvas_width", spec.Width),
				zap.Int("space_below", spec.Height-dst.Max.Y),
			)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, shot.Wrap(shot.CompositeFailed, err, "encode collage")
	}
	return buf.Bytes(), nil
}

// normalizePlacement keeps the framed region inside the canvas.
func normalizePlacement(spec shot.CompositeSpec) shot.Placement {
	p := spec.Placement
	if p.FramePad < 0 {
		p.FramePad = 0
	}
	maxW := spec.Width - 2*p.FramePad
	if p.RegionWidth <= 0 || p.RegionWidth > maxW {
		p.RegionWidth = maxW
	}
	if p.Top < 0 {
		p.Top = 0
	}
	maxH := spec.Height - p.Top - 2*p.FramePad
	if p.RegionHeight <= 0 || p.RegionHeight > maxH {
		p.RegionHeight = maxH
	}
	if p.RegionWidth < 1 {
		p.RegionWidth = 1
	}
	if p.RegionHeight < 1 {
		p.RegionHeight = 1
	}
	if p.Anchor == "" {
		p.Anchor = shot.AnchorTop
	}
	return p
}

// fit resizes src into the placement region, then crops. Resizing first keeps the crop
// rectangle within the scaled bounds whatever the source size.
func fit(src image.Image, p shot.Placement) (*image.RGBA, error) {
	sb := src.Bounds()
	sw, sh := float64(sb.Dx()), float64(sb.Dy())

	scale := float64(p.RegionWidth) / sw
	if p.Anchor == shot.AnchorCenter {
		if hs := float64(p.RegionHeight) / sh; hs < scale {
			scale = hs
		}
	}
	w := max(1, int(sw*scale+0.5))
	h := max(1, int(sh*scale+0.5))
	if w > p.RegionWidth {
		w = p.RegionWidth
	}

	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, sb, draw.Src, nil)

	if h <= p.RegionHeight {
		return scaled, nil
	}
	// Top anchor: keep the header slice.
	cropped := scaled.SubImage(image.Rect(0, 0, w, p.RegionHeight))
	out, ok := cropped.(*image.RGBA)
	if !ok {
		return nil, shot.Errorf(shot.CompositeFailed, "unexpected crop type %T", cropped)
	}
	return out, nil
}

// frame surrounds img with pad pixels of fill.
func frame(img *image.RGBA, pad int, fill color.RGBA) *image.RGBA {
	if pad <= 0 {
		return img
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()+2*pad, b.Dy()+2*pad))
	if fill.A > 0 {
		draw.Draw(out, out.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)
	}
	draw.Draw(out, image.Rect(pad, pad, pad+b.Dx(), pad+b.Dy()), img, b.Min, draw.Src)
	return out
}

// paintGradient fills dst from g.From to g.To along g.Direction.
func paintGradient(dst *image.RGBA, g shot.Gradient) {
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()
	if g.From == g.To {
		draw.Draw(dst, b, &image.Uniform{C: g.From.RGBA()}, image.Point{}, draw.Src)
		return
	}
	denom := float64(w*w + h*h)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for x := 0; x < w; x++ {
			var t float64
			switch g.Direction {
			case shot.Vertical:
				t = float64(y) / float64(max(1, h-1))
			case shot.DiagonalUp:
				t = (float64(x*w) + float64((h-1-y)*h)) / denom
			default:
				t = (float64(x*w) + float64(y*h)) / denom
			}
			i := x * 4
			row[i] = lerp(g.From.R, g.To.R, t)
			row[i+1] = lerp(g.From.G, g.To.G, t)
			row[i+2] = lerp(g.From.B, g.To.B, t)
			row[i+3] = 0xff
		}
	}
}

func lerp(a, b uint8, t float64) uint8 {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}
