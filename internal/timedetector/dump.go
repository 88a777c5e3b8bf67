package timedetector

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes the strategy state for debugging.
func (s *Strategy) Dump(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintln(w, "TimeDetectorStrategy:")
	fmt.Fprintf(w, " lastAutoSystemClockTimeSet=%s\n", formatUTCTime(s.lastAutoSystemClockTimeSet))

	fmt.Fprintln(w, " Time change log:")
	s.timeChangesLog.Dump(w, "  ")

	fmt.Fprintln(w, " Source suggestion history:")
	s.suggestionBySource.Dump(w, "  ")
}

// DumpString returns the output of Dump.
func (s *Strategy) DumpString() string {
	var b strings.Builder
	s.Dump(&b)
	return b.String()
}
