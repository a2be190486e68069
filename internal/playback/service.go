package playback

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/waves-connect/internal/dealer"
	"github.com/llehouerou/waves-connect/internal/trackplayback"
)

// Channel URIs the session listens on.
const (
	ConnectionsURI = "hm://pusher/v1/connections/"
	CommandURI     = "hm://track-playback/v1/command"
)

// DefaultFetchTimeout bounds how long a position request waits for a
// subscriber to reply before falling back to the tracked position.
const DefaultFetchTimeout = 2 * time.Second

var (
	// ErrNoContext is returned by local intents when nothing is loaded.
	ErrNoContext = errors.New("no playback context")

	// ErrNotRegistered is returned when the channel has not announced a
	// connection id yet.
	ErrNotRegistered = errors.New("session not registered")

	// ErrUnknownCommand is returned for a command type outside the
	// supported set.
	ErrUnknownCommand = errors.New("unknown command type")
)

// Dealer is the push channel the session listens on.
type Dealer interface {
	Connect(ctx context.Context) error
	Disconnect()
	Close()
	OnClose(fn func())
	AddMessageListener(l dealer.MessageListener, uris ...string) error
	RemoveMessageListener(l dealer.MessageListener)
}

// API is the track-playback REST collaborator.
type API interface {
	RegisterDevice(ctx context.Context, d trackplayback.Device) (*trackplayback.RegisterResponse, error)
	PutState(ctx context.Context, deviceID string, payload *trackplayback.StatePayload) (*trackplayback.StateUpdateResponse, error)
	PostStateConflict(ctx context.Context, deviceID string, payload *trackplayback.StatePayload) (*trackplayback.ConflictResponse, error)
	PutVolume(ctx context.Context, deviceID string, volume int, seq int64) error
}

// Options configures a Session.
type Options struct {
	// DeviceID identifies this device. Required.
	DeviceID string

	// FetchTimeout defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration

	Logger zerolog.Logger
}

// DebugSource names what triggered a state push.
type DebugSource string

const (
	SourceBeforeTrackLoad    DebugSource = "before_track_load"
	SourcePause              DebugSource = "pause"
	SourceResume             DebugSource = "resume"
	SourcePositionChanged    DebugSource = "position_changed"
	SourceProgress           DebugSource = "progress"
	SourcePing               DebugSource = "ping"
	SourceModifyCurrentState DebugSource = "modify_current_state"
	SourceStateClear         DebugSource = "state_clear"
)
