package beacon

import (
	"errors"
	"sync"
	"time"
)

// ErrClockNotConnected is reported by NullClock.
var ErrClockNotConnected = errors.New("clock not connected")

// SystemClock reads the host RTC.
type SystemClock struct{}

func (SystemClock) Now() (time.Time, error) { return time.Now(), nil }

// NullClock models an absent RTC, to exercise the NOT_CONNECTED path on
// the bench.
type NullClock struct{}

func (NullClock) Now() (time.Time, error) { return time.Time{}, ErrClockNotConnected }

// ReplaySource cycles through a scripted list of fixes, one per poll.
// With an empty script it reports a permanent no-fix.
type ReplaySource struct {
	mu    sync.Mutex
	fixes []Fix
	next  int
}

func NewReplaySource(fixes []Fix) *ReplaySource {
	return &ReplaySource{fixes: fixes}
}

func (s *ReplaySource) Fix() (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.fixes) == 0 {
		return Fix{}, nil
	}

	fix := s.fixes[s.next]
	s.next = (s.next + 1) % len(s.fixes)
	return fix, nil
}
