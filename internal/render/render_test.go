package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/roman-kulish/thermal-logger/internal/capture"
)

func testFrame() *capture.Frame {
	pix := make([]uint16, 16*8)
	for i := range pix {
		pix[i] = uint16(27000 + i*10)
	}
	return &capture.Frame{Width: 16, Height: 8, Pix: pix}
}

func TestRenderProducesDecodablePNG(t *testing.T) {
	r, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	data, err := r.Render(testFrame(), "2024-01-01 12:00:00 min=27000 max=28270")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a valid PNG: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != 16 || bounds.Dy() != 8 {
		t.Errorf("image size = %dx%d, want 16x8", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderUpscales(t *testing.T) {
	r, err := New(Config{Scale: 4})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	data, err := r.Render(testFrame(), "")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 32 {
		t.Errorf("image size = %dx%d, want 64x32", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestRenderFlatFrame(t *testing.T) {
	r, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// A uniform frame has zero dynamic range; rendering must not
	// divide by zero.
	pix := make([]uint16, 4*4)
	for i := range pix {
		pix[i] = 30000
	}
	if _, err := r.Render(&capture.Frame{Width: 4, Height: 4, Pix: pix}, "flat"); err != nil {
		t.Fatalf("Render failed on flat frame: %v", err)
	}
}

func TestRenderRejectsEmptyFrame(t *testing.T) {
	r, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := r.Render(&capture.Frame{}, ""); err == nil {
		t.Error("Render succeeded on empty frame, want error")
	}
	if _, err := r.Render(nil, ""); err == nil {
		t.Error("Render succeeded on nil frame, want error")
	}
}
