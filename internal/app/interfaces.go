package app

import (
	"context"
	"time"

	"github.com/llehouerou/waves-connect/internal/lastfm"
	"github.com/llehouerou/waves-connect/internal/playback"
	"github.com/llehouerou/waves-connect/internal/state"
)

// Compile-time assertions that the real components satisfy the interfaces.
var (
	_ Session   = (*playback.Session)(nil)
	_ Store     = (*state.Manager)(nil)
	_ Scrobbler = (*lastfm.Scrobbler)(nil)
)

// Session is the playback session the app drives.
type Session interface {
	Connect(ctx context.Context) error
	Close()
	Subscribe() *playback.Subscription
	RegisterDevice(ctx context.Context, name string, volume int) error
	Position() time.Duration
	State() playback.State
	RepeatMode() playback.RepeatMode
	Shuffle() bool
}

// Store persists the device volume between runs.
type Store interface {
	GetVolume() (int, error)
	SaveVolume(volume int)
}

// Scrobbler consumes session events on its own subscription.
type Scrobbler interface {
	Run(ctx context.Context, sub *playback.Subscription) error
}
