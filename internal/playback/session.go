// Package playback keeps a remote playback session in sync: it follows the
// server's state machine, applies commands received over the push channel
// and reports local state back with sequenced, debounced pushes.
package playback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/waves-connect/internal/dealer"
	"github.com/llehouerou/waves-connect/internal/metrics"
	"github.com/llehouerou/waves-connect/internal/statemachine"
	"github.com/llehouerou/waves-connect/internal/trackplayback"
)

// Session is one device's playback session.
//
// All session state is guarded by mu. REST calls run in their own
// goroutines and take mu again when they complete.
type Session struct {
	dealer Dealer
	api    API
	opts   Options
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	connectionID string
	seq          int64
	model        *statemachine.Model
	active       bool

	position         *int64
	previousPosition *int64
	duration         int64

	resolving bool
	rejected  []*statemachine.StateRef

	pushing     bool
	hasTrailing bool
	trailing    DebugSource
	lastSent    *trackplayback.StatePayload

	subs   []*Subscription
	subsMu sync.Mutex
	closed bool
}

// New creates a session on d and registers it as a message listener.
func New(d Dealer, api API, opts Options) (*Session, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("device id is required")
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		dealer: d,
		api:    api,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "session").Str("device_id", opts.DeviceID).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := d.AddMessageListener(s, ConnectionsURI, CommandURI); err != nil {
		cancel()
		return nil, fmt.Errorf("add message listener: %w", err)
	}
	d.OnClose(s.onDealerClose)
	return s, nil
}

// Connect opens the push channel.
func (s *Session) Connect(ctx context.Context) error {
	return s.dealer.Connect(ctx)
}

// Close shuts the session down. It is safe to call more than once.
func (s *Session) Close() {
	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		return
	}
	s.subsMu.Unlock()

	s.dealer.RemoveMessageListener(s)
	s.dealer.Close()
	s.cancel()

	s.subsMu.Lock()
	s.closed = true
	for _, sub := range s.subs {
		sub.close()
	}
	s.subs = nil
	s.subsMu.Unlock()
}

// Subscribe creates a new event subscription.
func (s *Session) Subscribe() *Subscription {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	sub := newSubscription()
	if s.closed {
		sub.close()
		return sub
	}
	s.subs = append(s.subs, sub)
	return sub
}

// emit delivers e to every subscriber and reports whether any accepted it.
func (s *Session) emit(e Event) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	accepted := false
	for _, sub := range s.subs {
		if sub.send(e) {
			accepted = true
		}
	}
	return accepted
}

// DeviceID returns the device id.
func (s *Session) DeviceID() string {
	return s.opts.DeviceID
}

// Registered reports whether the channel has announced a connection id.
func (s *Session) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered()
}

func (s *Session) registered() bool {
	return s.connectionID != ""
}

// ConnectionID returns the current channel connection id.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// RegisterDevice announces the device on the current connection and
// restarts sequence numbering from the server's initial value.
func (s *Session) RegisterDevice(ctx context.Context, name string, volume int) error {
	s.mu.Lock()
	connID := s.connectionID
	s.mu.Unlock()
	if connID == "" {
		return ErrNotRegistered
	}

	resp, err := s.api.RegisterDevice(ctx, trackplayback.Device{
		ConnectionID: connID,
		DeviceID:     s.opts.DeviceID,
		Name:         name,
		Volume:       volume,
	})
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = resp.InitialSeqNum
	s.lastSent = nil
	metrics.SetSequence(s.seq)
	return nil
}

// State returns the playback state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.model == nil || s.model.StateRef() == nil:
		return StateStopped
	case s.model.IsPaused():
		return StatePaused
	default:
		return StatePlaying
	}
}

// StateRef returns the current state ref, or nil when nothing is loaded.
func (s *Session) StateRef() *statemachine.StateRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRef()
}

func (s *Session) currentRef() *statemachine.StateRef {
	if s.model == nil {
		return nil
	}
	return s.model.StateRef()
}

// CurrentTrack returns the current track, or nil if none.
func (s *Session) CurrentTrack() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil
	}
	return trackFrom(s.model.CurrentTrack())
}

// Position returns the last tracked position, translated by the current
// state's offset.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.localPosition()
	if s.model != nil {
		pos = s.model.TranslatePosition(pos)
	}
	return time.Duration(pos) * time.Millisecond
}

// RepeatMode returns the repeat mode of the loaded state machine.
func (s *Session) RepeatMode() RepeatMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil || s.model.StateMachine() == nil {
		return RepeatOff
	}
	return repeatModeOf(s.model.StateMachine().Attributes.Options)
}

// Shuffle returns whether the loaded state machine is shuffled.
func (s *Session) Shuffle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil || s.model.StateMachine() == nil {
		return false
	}
	return s.model.StateMachine().Attributes.Options.ShufflingContext
}

// OnMessage handles connection-id announcements and playback commands.
func (s *Session) OnMessage(uri string, headers dealer.Headers, payload []byte) {
	switch {
	case strings.HasPrefix(uri, ConnectionsURI):
		s.updateConnectionID(headers.Get("spotify-connection-id"))

	case uri == CommandURI:
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.performCommand(payload); err != nil {
			s.log.Error().Err(err).Msg("command failed")
		}
	}
}

func (s *Session) updateConnectionID(raw string) {
	id, err := url.QueryUnescape(raw)
	if err != nil {
		id = raw
	}
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectionID == id {
		return
	}
	s.connectionID = id
	s.log.Info().Str("connection_id", id).Msg("session ready")
	s.emit(ReadyEvent{ConnectionID: id})
}

func (s *Session) onDealerClose() {
	s.mu.Lock()
	s.connectionID = ""
	s.mu.Unlock()

	s.log.Info().Msg("session unregistered")
	s.emit(CloseEvent{})
}

func (s *Session) nextSeq() int64 {
	s.seq++
	metrics.SetSequence(s.seq)
	return s.seq
}

func (s *Session) localPosition() int64 {
	if s.position == nil {
		return 0
	}
	return *s.position
}

func (s *Session) setCurrentTrackPosition(pos int64) {
	s.previousPosition = s.position
	s.position = &pos
}

func (s *Session) setAllTrackPositions(pos *int64) {
	if pos == nil {
		s.position, s.previousPosition = nil, nil
		return
	}
	p, prev := *pos, *pos
	s.position, s.previousPosition = &p, &prev
}

// fetchPosition asks subscribers for the player position and runs then
// with mu held once it is known. When no subscriber takes the request,
// or none replies in time, the tracked position is used. The continuation
// is dropped if the loaded model changed meanwhile.
//
// Must be called with mu held.
func (s *Session) fetchPosition(then func(pos int64)) {
	reply := make(chan time.Duration, 1)
	ev := FetchPositionEvent{once: new(sync.Once), reply: reply}
	if !s.emit(ev) {
		then(s.localPosition())
		return
	}

	model := s.model
	go func() {
		timer := time.NewTimer(s.opts.FetchTimeout)
		defer timer.Stop()

		var pos int64
		replied := false
		select {
		case d := <-reply:
			pos, replied = d.Milliseconds(), true
		case <-timer.C:
			s.log.Debug().Msg("position request timed out")
		case <-s.ctx.Done():
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.model != model {
			return
		}
		if !replied {
			pos = s.localPosition()
		}
		then(pos)
	}()
}
