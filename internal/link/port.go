package link

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// ErrNoDevice is returned when none of the configured serial ports could
// be opened.
var ErrNoDevice = errors.New("no serial device available")

// Opener opens the inbound byte channel. Production uses SerialOpener;
// tests substitute an in-memory pipe.
type Opener interface {
	Open() (io.ReadCloser, error)
}

// SerialOpener opens the radio serial port, probing the configured device
// paths in order. The read timeout keeps reads bounded so the reader can
// observe shutdown.
type SerialOpener struct {
	Ports       []string
	Baud        int
	ReadTimeout time.Duration
}

func (o *SerialOpener) Open() (io.ReadCloser, error) {
	var errs []error
	for _, name := range o.Ports {
		port, err := serial.OpenPort(&serial.Config{
			Name:        name,
			Baud:        o.Baud,
			ReadTimeout: o.ReadTimeout,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		return port, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrNoDevice, errors.Join(errs...))
}
