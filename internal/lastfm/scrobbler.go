package lastfm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/waves-connect/internal/playback"
	"github.com/llehouerou/waves-connect/internal/state"
)

const (
	// RetryInterval is how often queued scrobbles are resubmitted.
	RetryInterval = 5 * time.Minute

	maxAttempts = 10
)

// Submitter sends plays to Last.fm.
type Submitter interface {
	UpdateNowPlaying(track ScrobbleTrack) error
	Scrobble(track ScrobbleTrack) error
}

// Queue stores scrobbles that could not be submitted.
type Queue interface {
	AddPendingScrobble(s state.PendingScrobble) error
	GetPendingScrobbles() ([]state.PendingScrobble, error)
	DeletePendingScrobble(id int64) error
	UpdatePendingScrobbleAttempt(id int64, errMsg string) error
}

// Scrobbler follows a playback session and scrobbles what was listened to.
type Scrobbler struct {
	client Submitter
	queue  Queue
	log    zerolog.Logger

	mu      sync.Mutex
	current *ScrobbleState
}

// NewScrobbler creates a scrobbler submitting through client. Failed
// scrobbles are kept in queue.
func NewScrobbler(client Submitter, queue Queue, logger zerolog.Logger) *Scrobbler {
	return &Scrobbler{
		client: client,
		queue:  queue,
		log:    logger.With().Str("component", "scrobbler").Logger(),
	}
}

// Run handles events from sub until it closes or ctx is done. Queued
// scrobbles are retried every RetryInterval.
func (s *Scrobbler) Run(ctx context.Context, sub *playback.Subscription) error {
	ticker := time.NewTicker(RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return ctx.Err()
		case <-sub.Done:
			s.Flush()
			return nil
		case e := <-sub.Events:
			s.HandleEvent(e)
		case <-ticker.C:
			if _, _, err := s.RetryPending(); err != nil {
				s.log.Warn().Err(err).Msg("retry pending scrobbles")
			}
		}
	}
}

// HandleEvent updates listening time from a session event.
func (s *Scrobbler) HandleEvent(e playback.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	switch e := e.(type) {
	case playback.PlayEvent:
		s.finish(now)
		s.start(now, e.Track, e.Paused)
	case playback.PauseEvent:
		if s.current != nil {
			s.current.pause(now)
		}
	case playback.ResumeEvent:
		if s.current != nil {
			s.current.resume(now)
		}
	case playback.StopEvent:
		s.finish(now)
	}
}

// Flush scrobbles the current track if it qualifies and forgets it.
func (s *Scrobbler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish(time.Now())
}

func (s *Scrobbler) start(now time.Time, track *playback.Track, paused bool) {
	if track == nil || track.Artist == "" || track.Title == "" {
		return
	}

	s.current = &ScrobbleState{
		URI: track.URI,
		Track: ScrobbleTrack{
			Artist:    track.Artist,
			Track:     track.Title,
			Album:     track.Album,
			Duration:  track.Duration,
			Timestamp: now,
		},
	}
	if !paused {
		s.current.resume(now)
	}

	if err := s.client.UpdateNowPlaying(s.current.Track); err != nil {
		s.log.Debug().Err(err).Str("uri", track.URI).Msg("now playing update failed")
	}
}

func (s *Scrobbler) finish(now time.Time) {
	cur := s.current
	s.current = nil
	if cur == nil || cur.Scrobbled {
		return
	}

	threshold, ok := scrobbleThreshold(cur.Track.Duration)
	if !ok || cur.listened(now) < threshold {
		return
	}
	cur.Scrobbled = true

	err := s.client.Scrobble(cur.Track)
	if err == nil {
		s.log.Debug().Str("uri", cur.URI).Msg("scrobbled")
		return
	}

	s.log.Warn().Err(err).Str("uri", cur.URI).Msg("scrobble failed, queued for retry")
	qerr := s.queue.AddPendingScrobble(state.PendingScrobble{
		Artist:       cur.Track.Artist,
		Track:        cur.Track.Track,
		Album:        cur.Track.Album,
		DurationSecs: int(cur.Track.Duration.Seconds()),
		Timestamp:    cur.Track.Timestamp,
	})
	if qerr != nil {
		s.log.Error().Err(qerr).Msg("queue scrobble")
	}
}

// RetryPending resubmits queued scrobbles. Entries that failed too often
// are skipped.
func (s *Scrobbler) RetryPending() (succeeded, failed int, err error) {
	pending, err := s.queue.GetPendingScrobbles()
	if err != nil {
		return 0, 0, err
	}

	for i := range pending {
		p := &pending[i]
		if p.Attempts >= maxAttempts {
			continue
		}

		track := ScrobbleTrack{
			Artist:    p.Artist,
			Track:     p.Track,
			Album:     p.Album,
			Duration:  time.Duration(p.DurationSecs) * time.Second,
			Timestamp: p.Timestamp,
		}

		if err := s.client.Scrobble(track); err != nil {
			failed++
			if qerr := s.queue.UpdatePendingScrobbleAttempt(p.ID, err.Error()); qerr != nil {
				s.log.Error().Err(qerr).Int64("id", p.ID).Msg("record scrobble attempt")
			}
		} else {
			succeeded++
			if qerr := s.queue.DeletePendingScrobble(p.ID); qerr != nil {
				s.log.Error().Err(qerr).Int64("id", p.ID).Msg("delete pending scrobble")
			}
		}
	}

	if succeeded+failed > 0 {
		s.log.Info().Int("succeeded", succeeded).Int("failed", failed).Msg("retried pending scrobbles")
	}
	return succeeded, failed, nil
}
