package timedetector

import (
	"fmt"
	"slices"
	"strings"
)

// TimestampedValue pairs a UTC time in milliseconds with the elapsed realtime
// reading taken when the value was observed.
type TimestampedValue struct {
	ReferenceTimeMillis int64
	Value               int64
}

// TimeAt projects the value to the given elapsed realtime.
func (v TimestampedValue) TimeAt(elapsedRealtimeMillis int64) int64 {
	return v.Value + (elapsedRealtimeMillis - v.ReferenceTimeMillis)
}

func (v TimestampedValue) String() string {
	return fmt.Sprintf("{referenceTimeMillis=%d, value=%d}", v.ReferenceTimeMillis, v.Value)
}

// ReferenceTimeDifference returns a.ReferenceTimeMillis - b.ReferenceTimeMillis.
func ReferenceTimeDifference(a, b TimestampedValue) int64 {
	return a.ReferenceTimeMillis - b.ReferenceTimeMillis
}

func formatUTCTime(v *TimestampedValue) string {
	if v == nil {
		return "null"
	}
	return v.String()
}

func formatDebugInfo(info []string) string {
	return "[" + strings.Join(info, ", ") + "]"
}

// ManualTimeSuggestion is a time suggestion made by a user or administrator.
type ManualTimeSuggestion struct {
	UTCTime   *TimestampedValue
	DebugInfo []string
}

// NewManualTimeSuggestion returns a manual suggestion for utcTime.
func NewManualTimeSuggestion(utcTime TimestampedValue) ManualTimeSuggestion {
	return ManualTimeSuggestion{UTCTime: &utcTime}
}

// AddDebugInfo records information about how the suggestion was determined.
func (s *ManualTimeSuggestion) AddDebugInfo(info ...string) {
	s.DebugInfo = append(s.DebugInfo, info...)
}

// Equal compares the suggested time only. Debug info is ignored.
func (s ManualTimeSuggestion) Equal(o ManualTimeSuggestion) bool {
	return equalUTCTime(s.UTCTime, o.UTCTime)
}

func (s ManualTimeSuggestion) String() string {
	return fmt.Sprintf("ManualTimeSuggestion{utcTime=%s, debugInfo=%s}",
		formatUTCTime(s.UTCTime), formatDebugInfo(s.DebugInfo))
}

// SourceTimeSuggestion is a time suggestion from a radio source, identified by
// a small stable integer. A nil UTCTime means the source has no time to offer,
// usually because it lost network connectivity.
type SourceTimeSuggestion struct {
	SourceID  int
	UTCTime   *TimestampedValue
	DebugInfo []string
}

// NewSourceTimeSuggestion returns a suggestion from sourceID. utcTime may be nil.
func NewSourceTimeSuggestion(sourceID int, utcTime *TimestampedValue) SourceTimeSuggestion {
	s := SourceTimeSuggestion{SourceID: sourceID}
	if utcTime != nil {
		v := *utcTime
		s.UTCTime = &v
	}
	return s
}

// AddDebugInfo records information about how the suggestion was determined.
func (s *SourceTimeSuggestion) AddDebugInfo(info ...string) {
	s.DebugInfo = append(s.DebugInfo, info...)
}

// Equal compares source and suggested time. Debug info is ignored.
func (s SourceTimeSuggestion) Equal(o SourceTimeSuggestion) bool {
	return s.SourceID == o.SourceID && equalUTCTime(s.UTCTime, o.UTCTime)
}

func (s SourceTimeSuggestion) String() string {
	return fmt.Sprintf("SourceTimeSuggestion{sourceID=%d, utcTime=%s, debugInfo=%s}",
		s.SourceID, formatUTCTime(s.UTCTime), formatDebugInfo(s.DebugInfo))
}

// clone detaches the suggestion from caller-owned memory before it is stored.
func (s SourceTimeSuggestion) clone() SourceTimeSuggestion {
	c := NewSourceTimeSuggestion(s.SourceID, s.UTCTime)
	c.DebugInfo = slices.Clone(s.DebugInfo)
	return c
}

func equalUTCTime(a, b *TimestampedValue) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Origin tells where a suggested time came from. It decides which detection
// mode must be active for the time to be applied.
type Origin int

const (
	// OriginSource is time derived from radio source signals. It is automatic.
	OriginSource Origin = iota + 1
	// OriginManual is time entered by a user.
	OriginManual
)

func (o Origin) String() string {
	switch o {
	case OriginSource:
		return "source"
	case OriginManual:
		return "manual"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

func (o Origin) isAutomatic() bool {
	return o == OriginSource
}
