// Package timedetector decides when and how the system clock is set from
// manual input and from time signals reported by radio sources.
//
// When there are several sources, the freshest suggestion wins, compared in
// one-hour buckets. Ties go to the lowest source ID. Manual suggestions only
// apply while automatic detection is off, and source suggestions only while
// it is on.
package timedetector

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/osa030/timedetector/internal/ringlog"
	"github.com/osa030/timedetector/internal/syncutil"
	zlog "github.com/rs/zerolog/log"
)

const (
	// InvalidScore marks a suggestion that failed validation or is too old.
	InvalidScore = -1
	// SourceBucketCount is the number of age buckets source suggestions are sorted into.
	SourceBucketCount = 24
	// SourceBucketSizeMillis is the width of each age bucket.
	SourceBucketSizeMillis int64 = 60 * 60 * 1000
	// SourceMaxAgeMillis is the age beyond which a source suggestion is ignored.
	SourceMaxAgeMillis = SourceBucketCount * SourceBucketSizeMillis

	// SystemClockParanoiaThresholdMillis is how far the system clock may drift
	// from where the last automatic set predicts before a warning is logged.
	SystemClockParanoiaThresholdMillis int64 = 2 * 1000

	// KeepSuggestionHistorySize is the number of suggestions kept per source for debugging.
	KeepSuggestionHistorySize = 30
	// TimeChangesLogSize is the number of clock changes kept for debugging.
	TimeChangesLogSize = 30
)

// ErrSetSystemClock wraps failures reported by Environment.SetSystemClock.
var ErrSetSystemClock = errors.New("set system clock failed")

// Environment is everything the strategy needs from the device.
type Environment interface {
	// ElapsedRealtimeMillis is a monotonic reading since boot that is not
	// affected by changes to the system clock.
	ElapsedRealtimeMillis() int64
	SystemClockMillis() int64
	SetSystemClock(millis int64) error
	IsAutoTimeDetectionEnabled() bool
	// AcquireWakeLock keeps the device awake until ReleaseWakeLock.
	AcquireWakeLock()
	ReleaseWakeLock()
	// SystemClockUpdateThresholdMillis is the smallest change worth applying.
	SystemClockUpdateThresholdMillis() int64
	// SendNetworkTimeSet notifies listeners that the clock was set from
	// network time. Legacy: only kept for listeners of the old telephony
	// broadcast.
	SendNetworkTimeSet(millis int64)
}

// Strategy holds the suggestions and decides when to set the clock. It is
// safe for concurrent use; every exported method runs under one lock.
type Strategy struct {
	mu  syncutil.Mutex
	env Environment

	timeChangesLog *ringlog.Log[string]

	// The value the clock was last set to automatically. Used to notice when
	// something other than this strategy changes the clock.
	lastAutoSystemClockTimeSet *TimestampedValue

	suggestionBySource *ringlog.KeyedHistory[int, SourceTimeSuggestion]
}

// NewStrategy returns a strategy that acts through env.
func NewStrategy(env Environment) *Strategy {
	return &Strategy{
		env:                env,
		timeChangesLog:     ringlog.New[string](TimeChangesLogSize),
		suggestionBySource: ringlog.NewKeyedHistory[int, SourceTimeSuggestion](KeepSuggestionHistorySize),
	}
}

// SuggestManualTime applies a user-entered time if automatic detection is off.
// Invalid suggestions are logged and dropped. The only error returned is a
// failure to set the clock.
func (s *Strategy) SuggestManualTime(suggestion ManualTimeSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validateSuggestionTime(suggestion.UTCTime, suggestion) {
		return nil
	}

	cause := "Manual time suggestion received: suggestion=" + suggestion.String()
	return s.setSystemClockIfRequired(OriginManual, *suggestion.UTCTime, cause)
}

// SuggestSourceTime records a suggestion from a radio source and reruns
// automatic detection. Invalid and out-of-order suggestions are logged and
// dropped. The only error returned is a failure to set the clock.
func (s *Strategy) SuggestSourceTime(suggestion SourceTimeSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// An empty suggestion means the source lost connectivity. Time keeps
	// moving, so earlier suggestions stay usable until they age out.
	if suggestion.UTCTime == nil {
		zlog.Debug().Msgf("Empty source suggestion ignored: suggestion=%v", suggestion)
		return nil
	}

	if !s.validateAndStoreSourceSuggestion(suggestion) {
		return nil
	}

	reason := "New source time suggested. suggestion=" + suggestion.String()
	return s.doAutoTimeDetection(reason)
}

// HandleAutoTimeDetectionChanged must be called after the automatic detection
// setting changes. Enabling it sets the clock straight away if a good source
// suggestion is known; disabling it leaves the clock alone.
func (s *Strategy) HandleAutoTimeDetectionChanged() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.env.IsAutoTimeDetectionEnabled() {
		return s.doAutoTimeDetection("Auto time detection setting enabled.")
	}

	// The strategy no longer owns the clock, so it cannot predict its value.
	s.lastAutoSystemClockTimeSet = nil
	return nil
}

// FindBestSourceSuggestionForTests returns the suggestion automatic detection
// would use now, or nil.
func (s *Strategy) FindBestSourceSuggestionForTests() *SourceTimeSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.findBestSourceSuggestion()
}

// LatestSourceSuggestion returns the last accepted suggestion for sourceID, or nil.
func (s *Strategy) LatestSourceSuggestion(sourceID int) *SourceTimeSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, ok := s.suggestionBySource.Get(sourceID)
	if !ok {
		return nil
	}
	c := latest.clone()
	return &c
}

// SourceSuggestionHistory returns the retained suggestions for sourceID, oldest first.
func (s *Strategy) SourceSuggestionHistory(sourceID int) []SourceTimeSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.suggestionBySource.History(sourceID)
	for i := range history {
		history[i] = history[i].clone()
	}
	return history
}

// LastAutoSystemClockTimeSet returns the time the clock was last set to
// automatically, or nil if the strategy does not currently own the clock.
func (s *Strategy) LastAutoSystemClockTimeSet() *TimestampedValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastAutoSystemClockTimeSet == nil {
		return nil
	}
	v := *s.lastAutoSystemClockTimeSet
	return &v
}

// TimeChanges returns the clock change log, oldest first.
func (s *Strategy) TimeChanges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timeChangesLog.Entries()
}

func (s *Strategy) validateAndStoreSourceSuggestion(suggestion SourceTimeSuggestion) bool {
	if !s.validateSuggestionTime(suggestion.UTCTime, suggestion) {
		return false
	}

	previous, ok := s.suggestionBySource.Get(suggestion.SourceID)
	if ok {
		if previous.UTCTime == nil {
			// Only validated suggestions are stored.
			zlog.Warn().Msgf("Previous suggestion has no time. previousSuggestion=%v, suggestion=%v",
				previous, suggestion)
			return false
		}

		diff := ReferenceTimeDifference(*suggestion.UTCTime, *previous.UTCTime)
		if diff < 0 {
			zlog.Warn().Msgf("Out of order source suggestion received. referenceTimeDifference=%d previousSuggestion=%v suggestion=%v",
				diff, previous, suggestion)
			return false
		}
	}

	s.suggestionBySource.Put(suggestion.SourceID, suggestion.clone())
	return true
}

func (s *Strategy) validateSuggestionTime(utcTime *TimestampedValue, suggestion fmt.Stringer) bool {
	if utcTime == nil {
		zlog.Warn().Msgf("Suggested time value is null. suggestion=%v", suggestion)
		return false
	}

	elapsed := s.env.ElapsedRealtimeMillis()
	if elapsed < utcTime.ReferenceTimeMillis {
		// Either the reference time is wrong or the elapsed clock went backwards.
		zlog.Warn().Msgf("New reference time is in the future? Ignoring. elapsedRealtimeMillis=%d, suggestion=%v",
			elapsed, suggestion)
		return false
	}
	return true
}

func (s *Strategy) doAutoTimeDetection(detectionReason string) error {
	if !s.env.IsAutoTimeDetectionEnabled() {
		return nil
	}

	best := s.findBestSourceSuggestion()
	if best == nil {
		zlog.Debug().Msgf("Could not determine time: No best source suggestion. detectionReason=%s", detectionReason)
		return nil
	}

	cause := fmt.Sprintf("Found good suggestion. bestSourceSuggestion=%v, detectionReason=%s", best, detectionReason)
	return s.setSystemClockIfRequired(OriginSource, *best.UTCTime, cause)
}

func (s *Strategy) logTimeChange(elapsedRealtimeMillis int64, msg string) {
	at := time.Duration(elapsedRealtimeMillis) * time.Millisecond
	s.timeChangesLog.Append(at.String() + " - " + msg)
}
