// Package statemachine models the server-issued playback graph: a state
// machine of states and tracks, and a Model that tracks where the local
// device currently is in that graph.
package statemachine

import "encoding/json"

// StateRef points at a node of the playback graph.
//
// Externally a ref is identified by machine id, state id and paused flag.
// StateIndex only resolves the ref inside the machine it came with and is
// never part of its identity.
type StateRef struct {
	StateMachineID string `json:"state_machine_id,omitempty"`
	StateID        string `json:"state_id,omitempty"`
	Paused         bool   `json:"paused"`
	StateIndex     int    `json:"state_index,omitempty"`
}

// Same reports whether two refs identify the same position.
// Two nil refs are the same; a nil and a non-nil ref are not.
func (r *StateRef) Same(other *StateRef) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return r.StateMachineID == other.StateMachineID &&
		r.StateID == other.StateID &&
		r.Paused == other.Paused
}

// StateMachine is one delivery of the playback graph. It is replaced
// wholesale, never patched.
type StateMachine struct {
	StateMachineID string     `json:"state_machine_id"`
	Attributes     Attributes `json:"attributes"`
	States         []State    `json:"states"`
	Tracks         []Track    `json:"tracks"`
}

// Attributes carries machine-wide playback options.
type Attributes struct {
	PlaybackSessionID string  `json:"playback_session_id,omitempty"`
	Options           Options `json:"options"`
}

// Options are the repeat/shuffle flags the graph was built with.
type Options struct {
	RepeatingContext bool `json:"repeating_context"`
	RepeatingTrack   bool `json:"repeating_track"`
	ShufflingContext bool `json:"shuffling_context"`
}

// State returns the state at index, or nil when the index is out of range.
func (m *StateMachine) State(index int) *State {
	if m == nil || index < 0 || index >= len(m.States) {
		return nil
	}
	return &m.States[index]
}

// Track returns the track at index, or nil when the index is out of range.
func (m *StateMachine) Track(index int) *Track {
	if m == nil || index < 0 || index >= len(m.Tracks) {
		return nil
	}
	return &m.Tracks[index]
}

// Ref builds the external ref for a ref resolved against this machine.
// It returns ErrInvalidStateRef when the index does not name a state.
func (m *StateMachine) Ref(ref *StateRef) (*StateRef, error) {
	if ref == nil {
		return nil, nil //nolint:nilnil // no ref means "no state", not an error
	}
	st := m.State(ref.StateIndex)
	if st == nil {
		return nil, invalidRef(ref.StateIndex)
	}
	return &StateRef{
		StateMachineID: m.StateMachineID,
		StateID:        st.StateID,
		Paused:         ref.Paused,
	}, nil
}

// State is a node of the playback graph.
type State struct {
	StateID                 string      `json:"state_id"`
	Track                   int         `json:"track"`
	TrackUID                string      `json:"track_uid,omitempty"`
	Paused                  bool        `json:"paused"`
	DisallowSeeking         bool        `json:"disallow_seeking,omitempty"`
	DurationOverride        int64       `json:"duration_override,omitempty"`
	PositionOffset          int64       `json:"position_offset,omitempty"`
	InitialPlaybackPosition *int64      `json:"initial_playback_position,omitempty"`
	PlayerCookie            string      `json:"player_cookie,omitempty"`
	Transitions             Transitions `json:"transitions"`
}

// Transitions are the outgoing edges of a state. A nil edge means the
// transition is not allowed.
type Transitions struct {
	Advance  *StateRef `json:"advance,omitempty"`
	SkipNext *StateRef `json:"skip_next,omitempty"`
	SkipPrev *StateRef `json:"skip_prev,omitempty"`
	ShowNext *StateRef `json:"show_next,omitempty"`
	ShowPrev *StateRef `json:"show_prev,omitempty"`
}

// Track is a playable item referenced by states.
type Track struct {
	ContentType             string         `json:"content_type,omitempty"`
	TrackType               string         `json:"track_type,omitempty"`
	Metadata                *TrackMetadata `json:"metadata,omitempty"`
	Manifest                TrackManifest  `json:"manifest"`
	MsPlayedUntilUpdate     int64          `json:"ms_played_until_update,omitempty"`
	MsPlayingUpdateInterval int64          `json:"ms_playing_update_interval,omitempty"`
}

// URI returns the track uri, or "" when the track has no metadata.
func (t *Track) URI() string {
	if t == nil || t.Metadata == nil {
		return ""
	}
	return t.Metadata.URI
}

// TrackMetadata describes a track for display and scrobbling.
type TrackMetadata struct {
	URI                string          `json:"uri"`
	Name               string          `json:"name"`
	Duration           int64           `json:"duration"`
	Authors            []TrackAuthor   `json:"authors,omitempty"`
	Images             []TrackImage    `json:"images,omitempty"`
	GroupName          string          `json:"group_name,omitempty"`
	GroupURI           string          `json:"group_uri,omitempty"`
	ContextURI         string          `json:"context_uri,omitempty"`
	ContextDescription json.RawMessage `json:"context_description,omitempty"`
	LinkedFromURI      json.RawMessage `json:"linked_from_uri,omitempty"`
}

// TrackAuthor is an artist credited on a track.
type TrackAuthor struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// TrackImage is a cover image variant.
type TrackImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// TrackManifest lists the playable file variants.
type TrackManifest struct {
	FileIDsMP4     []TrackFile `json:"file_ids_mp4,omitempty"`
	FileIDsMP4Dual []TrackFile `json:"file_ids_mp4_dual,omitempty"`
}

// TrackFile is a single encoded variant of a track.
type TrackFile struct {
	FileID       string `json:"file_id"`
	FileURL      string `json:"file_url,omitempty"`
	Format       string `json:"format"`
	AudioQuality string `json:"audio_quality,omitempty"`
	Bitrate      int    `json:"bitrate,omitempty"`
	TrackType    string `json:"track_type,omitempty"`
}
