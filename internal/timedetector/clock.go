package timedetector

import (
	"fmt"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

func (s *Strategy) setSystemClockIfRequired(origin Origin, utcTime TimestampedValue, cause string) error {
	autoEnabled := s.env.IsAutoTimeDetectionEnabled()
	if origin.isAutomatic() && !autoEnabled {
		zlog.Debug().Msgf("Auto time detection is not enabled. origin=%v, time=%v, cause=%s", origin, utcTime, cause)
		return nil
	}
	if !origin.isAutomatic() && autoEnabled {
		zlog.Debug().Msgf("Auto time detection is enabled. origin=%v, time=%v, cause=%s", origin, utcTime, cause)
		return nil
	}

	s.env.AcquireWakeLock()
	defer s.env.ReleaseWakeLock()

	return s.setSystemClockUnderWakeLock(origin, utcTime, cause)
}

func (s *Strategy) setSystemClockUnderWakeLock(origin Origin, newTime TimestampedValue, cause string) error {
	elapsed := s.env.ElapsedRealtimeMillis()
	actualSystemClockMillis := s.env.SystemClockMillis()

	if origin.isAutomatic() {
		s.checkClockParanoia(elapsed, actualSystemClockMillis, cause)
	}

	// Adjust for the time that has passed since the signal was received.
	newSystemClockMillis := newTime.TimeAt(elapsed)

	absTimeDifference := abs(newSystemClockMillis - actualSystemClockMillis)
	threshold := s.env.SystemClockUpdateThresholdMillis()
	if absTimeDifference < threshold {
		zlog.Debug().Msgf("Not setting system clock. New time and system clock are close enough. elapsedRealtimeMillis=%d newTime=%v cause=%s systemClockUpdateThreshold=%d absTimeDifference=%d",
			elapsed, newTime, cause, threshold, absTimeDifference)
		return nil
	}

	if err := s.env.SetSystemClock(newSystemClockMillis); err != nil {
		zlog.Error().Err(err).Msgf("Unable to set system clock. newSystemClockMillis=%d cause=%s", newSystemClockMillis, cause)
		return errors.Wrapf(errors.Mark(err, ErrSetSystemClock), "set system clock to %d", newSystemClockMillis)
	}

	msg := fmt.Sprintf("Set system clock using time=%v cause=%s elapsedRealtimeMillis=%d newSystemClockMillis=%d",
		newTime, cause, elapsed, newSystemClockMillis)
	zlog.Info().Msg(msg)
	s.logTimeChange(elapsed, msg)

	if origin.isAutomatic() {
		v := newTime
		s.lastAutoSystemClockTimeSet = &v
	} else {
		s.lastAutoSystemClockTimeSet = nil
	}

	// Legacy: listeners of the old telephony broadcast expect it after every
	// clock change made from network time, and never after manual changes.
	if origin == OriginSource {
		s.env.SendNetworkTimeSet(newSystemClockMillis)
	}
	return nil
}

// checkClockParanoia warns when the clock is not where the last automatic set
// predicts, which means the clocks drift or something else sets the clock.
func (s *Strategy) checkClockParanoia(elapsed, actualSystemClockMillis int64, cause string) {
	if s.lastAutoSystemClockTimeSet == nil {
		return
	}
	expected := s.lastAutoSystemClockTimeSet.TimeAt(elapsed)
	if abs(expected-actualSystemClockMillis) > SystemClockParanoiaThresholdMillis {
		zlog.Warn().Msgf("System clock has not tracked elapsed real time clock. A clock may be inaccurate or something unexpectedly set the system clock. elapsedRealtimeMillis=%d expectedTimeMillis=%d actualTimeMillis=%d cause=%s",
			elapsed, expected, actualSystemClockMillis, cause)
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
