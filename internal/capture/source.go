package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// ErrSourceClosed is returned by Capture after Close.
var ErrSourceClosed = errors.New("frame source closed")

// StreamSource reads length-fixed gray16 frames from a byte stream, most
// commonly a FIFO fed by the camera driver process. Each frame is
// width*height big-endian uint16 values, row major, no header.
type StreamSource struct {
	width  int
	height int

	mu     sync.Mutex
	r      io.ReadCloser
	closed bool
}

// OpenStream opens path and returns a StreamSource for the given frame
// geometry.
func OpenStream(path string, width, height int) (*StreamSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", width, height)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening frame stream: %w", err)
	}

	return &StreamSource{width: width, height: height, r: f}, nil
}

// NewStreamSource wraps an already open stream. Used by tests.
func NewStreamSource(r io.ReadCloser, width, height int) *StreamSource {
	return &StreamSource{width: width, height: height, r: r}
}

// Capture reads one full frame. A short read is a recoverable failure:
// the stream stays open and the next tick retries.
func (s *StreamSource) Capture(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := make([]byte, s.width*s.height*2)
	if _, err := io.ReadFull(s.r, raw); err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}

	pix := make([]uint16, s.width*s.height)
	for i := range pix {
		pix[i] = binary.BigEndian.Uint16(raw[i*2:])
	}

	return &Frame{Width: s.width, Height: s.height, Pix: pix}, nil
}

func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.r.Close()
}

// SyntheticSource generates a moving radial gradient with a hot spot.
// It stands in for the camera on the bench and in tests.
type SyntheticSource struct {
	width  int
	height int

	mu    sync.Mutex
	phase float64
}

// NewSyntheticSource creates a SyntheticSource with the reference Lepton
// geometry when width or height is zero.
func NewSyntheticSource(width, height int) *SyntheticSource {
	if width <= 0 {
		width = 160
	}
	if height <= 0 {
		height = 120
	}
	return &SyntheticSource{width: width, height: height}
}

func (s *SyntheticSource) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	phase := s.phase
	s.phase += 0.35
	s.mu.Unlock()

	cx := float64(s.width)/2 + float64(s.width)/4*math.Cos(phase)
	cy := float64(s.height)/2 + float64(s.height)/4*math.Sin(phase)

	pix := make([]uint16, s.width*s.height)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			v := 30000 - 80*d
			if v < 27000 {
				v = 27000
			}
			pix[y*s.width+x] = uint16(v)
		}
	}

	return &Frame{Width: s.width, Height: s.height, Pix: pix}, nil
}

func (s *SyntheticSource) Close() error { return nil }
