// Package render turns raw 16-bit thermal frames into viewable PNGs with
// a one-line caption, the way the field operators see them: auto-contrast
// scaled with outliers clipped, capture time and telemetry context drawn
// along the top edge.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sort"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/roman-kulish/thermal-logger/internal/capture"
)

const (
	dpi      = 72.0
	fontSize = 10.0

	captionMargin = 3

	// Auto-contrast clips to the 2nd and 98th percentile so a single
	// hot pixel does not wash out the scene.
	lowPercentile  = 0.02
	highPercentile = 0.98
)

// Config holds renderer options. Zero values select the defaults above.
type Config struct {
	FontSize float64
	Scale    int // integer upscale factor, 1 = native resolution
}

// Renderer rasterizes frames. Safe for use from a single goroutine; the
// persistence task is the only caller.
type Renderer struct {
	config Config
	ctx    *freetype.Context
	face   font.Face
}

// New creates a Renderer.
func New(config Config) (*Renderer, error) {
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.Scale <= 0 {
		config.Scale = 1
	}

	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.White)

	return &Renderer{
		config: config,
		ctx:    ctx,
		face: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

// Render produces an encoded PNG of the frame with the caption drawn
// along the top edge. An empty caption skips the text pass.
func (r *Renderer) Render(f *capture.Frame, caption string) ([]byte, error) {
	if f == nil || len(f.Pix) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	img := r.rasterize(f)

	if caption != "" {
		if err := r.drawCaption(img, caption); err != nil {
			return nil, fmt.Errorf("drawing caption: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// rasterize maps the 16-bit frame onto an 8-bit grayscale canvas with
// percentile auto-contrast, optionally upscaled.
func (r *Renderer) rasterize(f *capture.Frame) *image.RGBA {
	lo, hi := percentileBounds(f.Pix)
	span := int(hi) - int(lo)
	if span < 1 {
		span = 1
	}

	scale := r.config.Scale
	img := image.NewRGBA(image.Rect(0, 0, f.Width*scale, f.Height*scale))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)

	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := int(f.Pix[y*f.Width+x]) - int(lo)
			if v < 0 {
				v = 0
			}
			v = v * 255 / span
			if v > 255 {
				v = 255
			}

			c := color.RGBA{uint8(v), uint8(v), uint8(v), 255}
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetRGBA(x*scale+dx, y*scale+dy, c)
				}
			}
		}
	}
	return img
}

func (r *Renderer) drawCaption(img *image.RGBA, caption string) error {
	r.ctx.SetClip(img.Bounds())
	r.ctx.SetDst(img)

	height := r.face.Metrics().Height.Round()
	pt := freetype.Pt(captionMargin, captionMargin+height)
	_, err := r.ctx.DrawString(caption, pt)
	return err
}

// percentileBounds returns the clip bounds for auto-contrast.
func percentileBounds(pix []uint16) (lo, hi uint16) {
	sorted := make([]uint16, len(pix))
	copy(sorted, pix)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	loIdx := int(float64(len(sorted)-1) * lowPercentile)
	hiIdx := int(float64(len(sorted)-1) * highPercentile)
	return sorted[loIdx], sorted[hiIdx]
}
