package timedetector

import (
	zlog "github.com/rs/zerolog/log"
)

// findBestSourceSuggestion picks the suggestion automatic detection should use.
//
// Source suggestions come from NITZ or NITZ-like signals. Their accuracy is
// in the order of minutes and they arrive irregularly. Sources usually agree,
// but not always, and without another reference there is no telling which one
// is right. So the choice values recency first, then a stable preference for
// the lowest source ID: each source's latest suggestion is scored by a
// one-hour age bucket, so signals received around the same time score the
// same and detection does not flip between sources.
func (s *Strategy) findBestSourceSuggestion() *SourceTimeSuggestion {
	elapsed := s.env.ElapsedRealtimeMillis()

	var best *SourceTimeSuggestion
	bestScore := InvalidScore
	for _, sourceID := range s.suggestionBySource.Keys() {
		candidate, _ := s.suggestionBySource.Get(sourceID)
		if candidate.UTCTime == nil {
			zlog.Warn().Msgf("Latest suggestion unexpectedly empty. candidateSuggestion=%v", candidate)
			continue
		}

		score := scoreSourceSuggestion(elapsed, candidate)
		if score == InvalidScore {
			continue
		}

		switch {
		case best == nil || bestScore < score:
			c := candidate.clone()
			best = &c
			bestScore = score
		case bestScore == score && candidate.SourceID < best.SourceID:
			c := candidate.clone()
			best = &c
		}
	}
	return best
}

// scoreSourceSuggestion returns a score in [0, SourceBucketCount], higher
// being fresher, or InvalidScore for suggestions from the future or older than
// SourceMaxAgeMillis.
func scoreSourceSuggestion(elapsedRealtimeMillis int64, suggestion SourceTimeSuggestion) int {
	referenceTimeMillis := suggestion.UTCTime.ReferenceTimeMillis
	if referenceTimeMillis > elapsedRealtimeMillis {
		// The reference time is wrong or the elapsed clock went backwards.
		zlog.Warn().Msgf("Existing suggestion found to be in the future. elapsedRealtimeMillis=%d, suggestion=%v",
			elapsedRealtimeMillis, suggestion)
		return InvalidScore
	}

	ageMillis := elapsedRealtimeMillis - referenceTimeMillis

	// The reference clock drifts over long periods, and a bad suggestion that
	// is never replaced must not be trusted forever.
	if ageMillis > SourceMaxAgeMillis {
		return InvalidScore
	}

	bucketIndex := int(ageMillis / SourceBucketSizeMillis)
	return SourceBucketCount - bucketIndex
}
