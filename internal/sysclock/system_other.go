//go:build !linux

package sysclock

import "time"

// System is the device clock. Off Linux it can be read but not set.
type System struct{}

// ElapsedRealtime counts from process start on the monotonic clock.
func (System) ElapsedRealtime() time.Duration {
	return time.Since(processStart)
}

func (System) Now() time.Time {
	return time.Now()
}

func (System) Set(time.Time) error {
	return ErrUnsupported
}
