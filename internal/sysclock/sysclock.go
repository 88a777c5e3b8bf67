// Package sysclock reads and sets the device clocks.
package sysclock

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnsupported is returned by Set where the platform cannot set the clock.
var ErrUnsupported = errors.New("setting the system clock is not supported on this platform")

// Clock is a pair of clocks: an elapsed realtime clock counting from boot that
// is never adjusted, and the adjustable wall clock.
type Clock interface {
	ElapsedRealtime() time.Duration
	Now() time.Time
	Set(t time.Time) error
}

// processStart anchors the fallback elapsed clock. time.Since reads the
// monotonic clock, so wall clock changes do not affect it.
var processStart = time.Now()

// ElapsedRealtimeMillis returns c's elapsed realtime in milliseconds.
func ElapsedRealtimeMillis(c Clock) int64 {
	return c.ElapsedRealtime().Milliseconds()
}

// NowMillis returns c's wall clock as Unix milliseconds.
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}
