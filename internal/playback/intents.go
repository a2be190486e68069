package playback

import (
	"time"

	"github.com/llehouerou/waves-connect/internal/statemachine"
)

// NextTrack moves to the next state: skip_next when skipped by the user,
// advance otherwise.
func (s *Session) NextTrack(skipped bool) error {
	reason := statemachine.ReasonUnknown
	if skipped {
		reason = statemachine.ReasonForwardButton
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ErrNoContext
	}
	tr, err := s.model.Next(reason)
	if err != nil {
		return err
	}
	s.trackChanged(tr)
	return nil
}

// PreviousTrack moves to the previous state.
func (s *Session) PreviousTrack() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ErrNoContext
	}
	tr, err := s.model.Previous()
	if err != nil {
		return err
	}
	s.trackChanged(tr)
	return nil
}

func (s *Session) trackChanged(tr statemachine.Transition) {
	track := s.model.CurrentTrack()
	s.duration = 0
	if track != nil && track.Metadata != nil {
		s.duration = track.Metadata.Duration
	}
	pos := tr.Position
	s.setAllTrackPositions(&pos)

	s.emit(PlayEvent{
		Position: time.Duration(pos) * time.Millisecond,
		Paused:   s.model.IsPaused(),
		Track:    trackFrom(track),
	})
	s.updateState(SourceBeforeTrackLoad)
}

// Pause reports that local playback paused at position.
func (s *Session) Pause(position time.Duration) error {
	return s.playPause(true, position)
}

// Resume reports that local playback resumed at position.
func (s *Session) Resume(position time.Duration) error {
	return s.playPause(false, position)
}

func (s *Session) playPause(paused bool, position time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ErrNoContext
	}
	pos := position.Milliseconds()
	s.onPlayPause(paused, &pos)
	return nil
}

// Seek reports a local seek.
func (s *Session) Seek(position time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ErrNoContext
	}
	s.onPositionChanged(position.Milliseconds())
	return nil
}

// ReportProgress reports the playback position during normal playback.
func (s *Session) ReportProgress(position time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return ErrNoContext
	}
	s.setCurrentTrackPosition(position.Milliseconds())
	s.updateState(SourceProgress)
	return nil
}
