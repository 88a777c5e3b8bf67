package sysclock

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/osa030/timedetector/internal/syncutil"
)

// Simulated is a Clock whose wall clock is an offset over a clockwork clock.
// Set moves only the offset, so nothing on the host changes. Used for dry runs
// and tests.
type Simulated struct {
	clock  clockwork.Clock
	boot   time.Time
	mu     syncutil.Mutex
	offset time.Duration
	sets   int
}

// NewSimulated starts a simulated clock at boot, with the wall clock at wall.
func NewSimulated(clock clockwork.Clock, wall time.Time) *Simulated {
	now := clock.Now()
	return &Simulated{
		clock:  clock,
		boot:   now,
		offset: wall.Sub(now),
	}
}

func (s *Simulated) ElapsedRealtime() time.Duration {
	return s.clock.Since(s.boot)
}

func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Add(s.offset)
}

func (s *Simulated) Set(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = t.Sub(s.clock.Now())
	s.sets++
	return nil
}

// Sets returns how many times Set was called.
func (s *Simulated) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}
