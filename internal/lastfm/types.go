package lastfm

import "time"

// ScrobbleTrack contains track metadata for scrobbling.
type ScrobbleTrack struct {
	Artist    string
	Track     string
	Album     string
	Duration  time.Duration
	Timestamp time.Time // When playback started
}

// ScrobbleState tracks listening time of the current track.
type ScrobbleState struct {
	Track     ScrobbleTrack
	URI       string        // Track URI (for dedup)
	Played    time.Duration // Listening time accumulated before the last resume
	ResumedAt time.Time     // Zero while paused
	Scrobbled bool
}

// listened returns the total listening time at now.
func (s *ScrobbleState) listened(now time.Time) time.Duration {
	if s.ResumedAt.IsZero() {
		return s.Played
	}
	return s.Played + now.Sub(s.ResumedAt)
}

// pause stops the listening clock.
func (s *ScrobbleState) pause(now time.Time) {
	s.Played = s.listened(now)
	s.ResumedAt = time.Time{}
}

// resume restarts the listening clock.
func (s *ScrobbleState) resume(now time.Time) {
	if s.ResumedAt.IsZero() {
		s.ResumedAt = now
	}
}

// scrobbleThreshold returns how long a track must be listened to before it
// is scrobbled: half its duration, at most 4 minutes. Tracks under 30
// seconds are never scrobbled.
func scrobbleThreshold(duration time.Duration) (time.Duration, bool) {
	if duration < 30*time.Second {
		return 0, false
	}
	return min(duration/2, 4*time.Minute), true
}
