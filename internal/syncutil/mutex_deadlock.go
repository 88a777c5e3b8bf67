//go:build deadlock

// Package syncutil picks the lock implementation at build time. Building with
// -tags=deadlock swaps in go-deadlock, which reports lock order inversions and
// locks held longer than DeadlockTimeout.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockTimeout is how long a lock may be waited on before it is reported.
const DeadlockTimeout = 30 * time.Second

func init() {
	deadlock.Opts.DeadlockTimeout = DeadlockTimeout
}

type (
	Mutex   = deadlock.Mutex
	RWMutex = deadlock.RWMutex
)
