// Package ringlog provides fixed-capacity logs used for diagnostics.
//
// Storage for a Log is allocated once; appending past capacity overwrites the
// oldest entry. KeyedHistory keeps one such log per key alongside the latest
// value, so old entries are dropped eagerly rather than left for the collector.
package ringlog

import (
	"fmt"
	"io"
)

// Log is a bounded, append-only circular log.
type Log[T any] struct {
	entries []T
	next    int
	full    bool
}

// New creates a log holding at most capacity entries. A capacity below 1 is
// treated as 1.
func New[T any](capacity int) *Log[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Log[T]{entries: make([]T, capacity)}
}

// Append adds v, evicting the oldest entry when the log is full.
func (l *Log[T]) Append(v T) {
	l.entries[l.next] = v
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
}

// Len returns the number of entries currently held.
func (l *Log[T]) Len() int {
	if l.full {
		return len(l.entries)
	}
	return l.next
}

// Cap returns the capacity of the log.
func (l *Log[T]) Cap() int {
	return len(l.entries)
}

// Entries returns a copy of the held entries, oldest first.
func (l *Log[T]) Entries() []T {
	out := make([]T, 0, l.Len())
	if l.full {
		out = append(out, l.entries[l.next:]...)
	}
	return append(out, l.entries[:l.next]...)
}

// Dump writes one line per entry, oldest first, each prefixed by indent.
func (l *Log[T]) Dump(w io.Writer, indent string) {
	for _, e := range l.Entries() {
		fmt.Fprintf(w, "%s%v\n", indent, e)
	}
}
