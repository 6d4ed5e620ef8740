// Package capture drives the thermal camera on a fixed cadence and hands
// captured frames to the correlator. The camera driver itself lives
// outside this process; it is reached through the FrameSource contract.
package capture

import (
	"context"
	"time"
)

// Frame is one raw thermal image: 16-bit grayscale, row major.
type Frame struct {
	Width  int
	Height int
	Pix    []uint16
}

// Stats returns the minimum, maximum and mean pixel values. An empty
// frame reports zeros.
func (f *Frame) Stats() (minVal, maxVal uint16, avg float64) {
	if len(f.Pix) == 0 {
		return 0, 0, 0
	}

	minVal, maxVal = f.Pix[0], f.Pix[0]
	var sum uint64
	for _, p := range f.Pix {
		if p < minVal {
			minVal = p
		}
		if p > maxVal {
			maxVal = p
		}
		sum += uint64(p)
	}
	return minVal, maxVal, float64(sum) / float64(len(f.Pix))
}

// Event is one capture handed to the correlator. The event owns the frame
// buffer until the persistence layer commits it.
type Event struct {
	ID         string
	CapturedAt time.Time
	Frame      *Frame
}

// FrameSource yields one frame per call. Capture blocks until a frame is
// available or ctx is cancelled; a recoverable failure returns an error
// and the scheduler skips that tick.
type FrameSource interface {
	Capture(ctx context.Context) (*Frame, error)
	Close() error
}
