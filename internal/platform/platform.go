// Package platform reads device settings that override the configuration.
package platform

import (
	"strconv"
	"strings"
	"time"
)

// Overrides holds the device settings found. Nil fields were not found.
type Overrides struct {
	AutoDetection   *bool
	UpdateThreshold *time.Duration
}

// parseAutoTime parses the output of "settings get global auto_time".
func parseAutoTime(out string) (bool, bool) {
	switch strings.TrimSpace(out) {
	case "1":
		return true, true
	case "0":
		return false, true
	default:
		// "null" when the setting was never written.
		return false, false
	}
}

// parseThresholdMillis parses a non-negative millisecond system property.
func parseThresholdMillis(out string) (time.Duration, bool) {
	ms, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func overridesFrom(autoTime, thresholdMillis string) Overrides {
	var o Overrides
	if v, ok := parseAutoTime(autoTime); ok {
		o.AutoDetection = &v
	}
	if d, ok := parseThresholdMillis(thresholdMillis); ok {
		o.UpdateThreshold = &d
	}
	return o
}
