//go:build android

package platform

import (
	"os/exec"
	"strings"
	"time"
	_ "time/tzdata" // Embed timezone database for Android
)

const thresholdProperty = "ro.sys.time_detector_update_diff"

// Init sets time.Local to the device's timezone so log timestamps are local.
// On Android, time.Local defaults to UTC and stays UTC if detection fails.
func Init() {
	tzName := run("getprop", "persist.sys.timezone")
	if tzName == "" {
		return
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return
	}
	time.Local = loc
}

// Detect reads the automatic time setting and the update threshold property.
func Detect() Overrides {
	return overridesFrom(
		run("settings", "get", "global", "auto_time"),
		run("getprop", thresholdProperty),
	)
}

func run(name string, args ...string) string {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
