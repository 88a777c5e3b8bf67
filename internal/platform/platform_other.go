//go:build !android

package platform

// Init is a no-op on non-Android platforms, where Go initializes time.Local
// from the system.
func Init() {}

// Detect finds nothing on non-Android platforms.
func Detect() Overrides {
	return Overrides{}
}
