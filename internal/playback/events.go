package playback

import (
	"sync"
	"time"
)

// Event is emitted by a Session. The concrete types below are the only
// implementations.
type Event interface {
	// Name is the event name: ready, play, pause, resume, seek, activate,
	// stop, modify_state, volume, close or fetch-pos.
	Name() string
}

// ReadyEvent is emitted when the channel announces a new connection id.
// The device can be registered from here.
type ReadyEvent struct {
	ConnectionID string
}

// PlayEvent is emitted when playback should start on a different track.
//
// Emitted by:
//   - replace_state commands that move to another state
//   - NextTrack/PreviousTrack
type PlayEvent struct {
	Position time.Duration
	Paused   bool
	Track    *Track
}

// PauseEvent is emitted when the server pauses playback.
type PauseEvent struct{}

// ResumeEvent is emitted when the server resumes playback.
type ResumeEvent struct{}

// SeekEvent is emitted when the server seeks within the current track.
type SeekEvent struct {
	Position time.Duration
}

// ActivateEvent is emitted the first time the device receives a state
// after being idle.
type ActivateEvent struct{}

// StopEvent is emitted when the server clears the playback state.
type StopEvent struct{}

// ModifyStateEvent is emitted when the server updates the current state
// without changing track, pause or position.
type ModifyStateEvent struct{}

// VolumeEvent is emitted on set_volume. Volume is in 0..65535.
type VolumeEvent struct {
	Volume int
}

// CloseEvent is emitted when the channel connection goes away.
type CloseEvent struct{}

// FetchPositionEvent asks the player for its current position. The
// first Reply wins; later replies are ignored.
type FetchPositionEvent struct {
	once  *sync.Once
	reply chan<- time.Duration
}

// Reply answers the position request.
func (e FetchPositionEvent) Reply(position time.Duration) {
	if e.once == nil {
		return
	}
	e.once.Do(func() { e.reply <- position })
}

func (ReadyEvent) Name() string         { return "ready" }
func (PlayEvent) Name() string          { return "play" }
func (PauseEvent) Name() string         { return "pause" }
func (ResumeEvent) Name() string        { return "resume" }
func (SeekEvent) Name() string          { return "seek" }
func (ActivateEvent) Name() string      { return "activate" }
func (StopEvent) Name() string          { return "stop" }
func (ModifyStateEvent) Name() string   { return "modify_state" }
func (VolumeEvent) Name() string        { return "volume" }
func (CloseEvent) Name() string         { return "close" }
func (FetchPositionEvent) Name() string { return "fetch-pos" }
