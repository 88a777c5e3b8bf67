// Package wakelock keeps the device awake while the clock is being set.
package wakelock

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/osa030/timedetector/internal/syncutil"
	"github.com/spf13/afero"
)

const (
	// DefaultDir is where the kernel exposes the wake lock interface.
	DefaultDir = "/sys/power"
	// DefaultName is the lock name written to the kernel.
	DefaultName = "timedetector"

	lockFile   = "wake_lock"
	unlockFile = "wake_unlock"
)

// ErrNotHeld is returned by Release when the lock is not held.
var ErrNotHeld = errors.New("wake lock not held")

// Lock is an exclusive wake lock.
type Lock interface {
	Acquire() error
	Release() error
}

// Noop is a Lock for devices without wake lock support.
type Noop struct{}

func (Noop) Acquire() error { return nil }
func (Noop) Release() error { return nil }

// Sysfs takes a kernel wake lock by writing its name to wake_lock and drops
// it by writing the name to wake_unlock.
type Sysfs struct {
	fs   afero.Fs
	dir  string
	name string
	mu   syncutil.Mutex
	held bool
}

// NewSysfs returns a wake lock using the files in dir.
func NewSysfs(fs afero.Fs, dir, name string) *Sysfs {
	if dir == "" {
		dir = DefaultDir
	}
	if name == "" {
		name = DefaultName
	}
	return &Sysfs{fs: fs, dir: dir, name: name}
}

func (l *Sysfs) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}
	if err := l.write(lockFile); err != nil {
		return err
	}
	l.held = true
	return nil
}

func (l *Sysfs) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return ErrNotHeld
	}
	// Consider the lock dropped even if the write fails; retrying would not help.
	l.held = false
	return l.write(unlockFile)
}

// Held reports whether the lock is held.
func (l *Sysfs) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Sysfs) write(file string) error {
	path := filepath.Join(l.dir, file)
	f, err := l.fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	if _, err := f.WriteString(l.name); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
