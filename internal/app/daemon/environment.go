package daemon

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/osa030/timedetector/internal/broadcast"
	"github.com/osa030/timedetector/internal/sysclock"
	"github.com/osa030/timedetector/internal/timedetector"
	"github.com/osa030/timedetector/internal/wakelock"
	zlog "github.com/rs/zerolog/log"
)

// environment connects the strategy to the device. The settings are atomics
// because feed commands change them while the strategy reads them.
type environment struct {
	clock sysclock.Clock
	lock  wakelock.Lock
	hub   *broadcast.Hub

	autoEnabled     atomic.Bool
	thresholdMillis atomic.Int64
}

var _ timedetector.Environment = (*environment)(nil)

func newEnvironment(clock sysclock.Clock, lock wakelock.Lock, hub *broadcast.Hub, cfg Config) *environment {
	e := &environment{
		clock: clock,
		lock:  lock,
		hub:   hub,
	}
	e.autoEnabled.Store(cfg.AutoDetection)
	e.thresholdMillis.Store(cfg.UpdateThreshold.Milliseconds())
	return e
}

func (e *environment) ElapsedRealtimeMillis() int64 {
	return sysclock.ElapsedRealtimeMillis(e.clock)
}

func (e *environment) SystemClockMillis() int64 {
	return sysclock.NowMillis(e.clock)
}

func (e *environment) SetSystemClock(millis int64) error {
	return e.clock.Set(time.UnixMilli(millis))
}

func (e *environment) IsAutoTimeDetectionEnabled() bool {
	return e.autoEnabled.Load()
}

// AcquireWakeLock is best effort: the clock is still set if the lock fails.
func (e *environment) AcquireWakeLock() {
	if err := e.lock.Acquire(); err != nil {
		zlog.Warn().Msgf("Error acquiring wake lock: %v", err)
	}
}

func (e *environment) ReleaseWakeLock() {
	// ErrNotHeld follows a failed acquire, which was already logged.
	if err := e.lock.Release(); err != nil && !errors.Is(err, wakelock.ErrNotHeld) {
		zlog.Warn().Msgf("Error releasing wake lock: %v", err)
	}
}

func (e *environment) SystemClockUpdateThresholdMillis() int64 {
	return e.thresholdMillis.Load()
}

func (e *environment) SendNetworkTimeSet(millis int64) {
	n := e.hub.Publish(broadcast.Notification{
		Type:       broadcast.NotificationTypeNetworkTimeSet,
		TimeMillis: millis,
	})
	zlog.Debug().Msgf("Network time set sent to %d listeners", n)
}

// setAutoDetection returns whether the setting changed.
func (e *environment) setAutoDetection(enabled bool) bool {
	if e.autoEnabled.Swap(enabled) == enabled {
		return false
	}
	e.hub.Publish(broadcast.Notification{
		Type:    broadcast.NotificationTypeAutoDetectionChanged,
		Enabled: enabled,
	})
	return true
}

func (e *environment) setUpdateThreshold(d time.Duration) {
	e.thresholdMillis.Store(d.Milliseconds())
	e.hub.Publish(broadcast.Notification{
		Type:            broadcast.NotificationTypeThresholdChanged,
		ThresholdMillis: d.Milliseconds(),
	})
}
