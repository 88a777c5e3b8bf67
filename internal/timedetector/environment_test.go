package timedetector

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/osa030/timedetector/internal/sysclock"
)

// fakeEnvironment drives the strategy from a clockwork fake clock and records
// every side effect.
type fakeEnvironment struct {
	advance func(time.Duration)
	clock   *sysclock.Simulated

	autoEnabled bool
	threshold   int64
	setErr      error

	wakeLockHeld     bool
	wakeLockAcquires int
	wakeLockReleases int
	setWithoutLock   bool

	sets       []int64
	broadcasts []int64
}

var arbitraryWallTime = time.Date(2010, 5, 23, 12, 0, 0, 0, time.UTC)

func newFakeEnvironment() *fakeEnvironment {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	return &fakeEnvironment{
		advance:     fc.Advance,
		clock:       sysclock.NewSimulated(fc, arbitraryWallTime),
		autoEnabled: true,
		threshold:   2000,
	}
}

func (e *fakeEnvironment) ElapsedRealtimeMillis() int64 {
	return sysclock.ElapsedRealtimeMillis(e.clock)
}

func (e *fakeEnvironment) SystemClockMillis() int64 {
	return sysclock.NowMillis(e.clock)
}

func (e *fakeEnvironment) SetSystemClock(millis int64) error {
	if !e.wakeLockHeld {
		e.setWithoutLock = true
	}
	if e.setErr != nil {
		return e.setErr
	}
	e.sets = append(e.sets, millis)
	return e.clock.Set(time.UnixMilli(millis))
}

func (e *fakeEnvironment) IsAutoTimeDetectionEnabled() bool {
	return e.autoEnabled
}

func (e *fakeEnvironment) AcquireWakeLock() {
	e.wakeLockHeld = true
	e.wakeLockAcquires++
}

func (e *fakeEnvironment) ReleaseWakeLock() {
	e.wakeLockHeld = false
	e.wakeLockReleases++
}

func (e *fakeEnvironment) SystemClockUpdateThresholdMillis() int64 {
	return e.threshold
}

func (e *fakeEnvironment) SendNetworkTimeSet(millis int64) {
	e.broadcasts = append(e.broadcasts, millis)
}

func (e *fakeEnvironment) advanceMillis(ms int64) {
	e.advance(time.Duration(ms) * time.Millisecond)
}

// setSystemClockDirectly simulates something other than the strategy setting the clock.
func (e *fakeEnvironment) setSystemClockDirectly(millis int64) {
	_ = e.clock.Set(time.UnixMilli(millis))
}

func (e *fakeEnvironment) lastSet() (int64, bool) {
	if len(e.sets) == 0 {
		return 0, false
	}
	return e.sets[len(e.sets)-1], true
}

// sourceSuggestion builds a suggestion observed now with the given UTC time.
func (e *fakeEnvironment) sourceSuggestion(sourceID int, utcMillis int64) SourceTimeSuggestion {
	return NewSourceTimeSuggestion(sourceID, &TimestampedValue{
		ReferenceTimeMillis: e.ElapsedRealtimeMillis(),
		Value:               utcMillis,
	})
}

func (e *fakeEnvironment) manualSuggestion(utcMillis int64) ManualTimeSuggestion {
	return NewManualTimeSuggestion(TimestampedValue{
		ReferenceTimeMillis: e.ElapsedRealtimeMillis(),
		Value:               utcMillis,
	})
}
