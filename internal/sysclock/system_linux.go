//go:build linux

package sysclock

import (
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// System is the real device clock. Setting it needs CAP_SYS_TIME.
type System struct{}

// ElapsedRealtime reads CLOCK_BOOTTIME, which keeps counting during suspend.
func (System) ElapsedRealtime() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		zlog.Warn().Err(err).Msg("CLOCK_BOOTTIME unavailable, using process monotonic clock")
		return time.Since(processStart)
	}
	return time.Duration(ts.Nano())
}

func (System) Now() time.Time {
	return time.Now()
}

// Set steps CLOCK_REALTIME to t.
func (System) Set(t time.Time) error {
	ts := unix.NsecToTimespec(t.UnixNano())
	if err := unix.ClockSettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return errors.Wrap(err, "clock_settime(CLOCK_REALTIME)")
	}
	return nil
}
