//go:build !deadlock

// Package syncutil picks the lock implementation at build time. Building with
// -tags=deadlock swaps in go-deadlock, which reports lock order inversions and
// locks held longer than a timeout.
package syncutil

import "sync"

type (
	Mutex   = sync.Mutex
	RWMutex = sync.RWMutex
)
