package trackplayback

import (
	"encoding/json"

	"github.com/llehouerou/waves-connect/internal/statemachine"
)

// SubState is the playback progress reported with a state ref.
type SubState struct {
	PlaybackSpeed int    `json:"playback_speed"`
	Position      *int64 `json:"position,omitempty"`
	Duration      int64  `json:"duration,omitempty"`
}

// StatePayload is the body of a state push or a conflict report.
type StatePayload struct {
	SeqNum            int64                    `json:"seq_num,omitempty"`
	SeqNums           []int64                  `json:"seq_nums,omitempty"`
	StateRef          *statemachine.StateRef   `json:"state_ref"`
	SubState          SubState                 `json:"sub_state"`
	PreviousPosition  *int64                   `json:"previous_position,omitempty"`
	RejectedStateRefs []*statemachine.StateRef `json:"rejected_state_refs,omitempty"`
	DebugSource       string                   `json:"debug_source,omitempty"`
}

// StateUpdateResponse is returned by a successful state push.
type StateUpdateResponse struct {
	StateMachine    *statemachine.StateMachine `json:"state_machine"`
	UpdatedStateRef *statemachine.StateRef     `json:"updated_state_ref"`
}

// ConflictResponse carries the commands the server wants replayed after a
// conflict report.
type ConflictResponse struct {
	Commands []json.RawMessage `json:"commands"`
}

// Device describes this client when registering.
type Device struct {
	ConnectionID string
	DeviceID     string
	Name         string
	Volume       int
}

// RegisterResponse is returned by device registration.
type RegisterResponse struct {
	InitialSeqNum int64 `json:"initial_seq_num"`
}

type registerRequest struct {
	ClientVersion           string     `json:"client_version"`
	ConnectionID            string     `json:"connection_id"`
	Device                  deviceInfo `json:"device"`
	OutroEndcontentSnooping bool       `json:"outro_endcontent_snooping"`
	Volume                  int        `json:"volume"`
}

type deviceInfo struct {
	Brand              string         `json:"brand"`
	Capabilities       capabilities   `json:"capabilities"`
	DeviceID           string         `json:"device_id"`
	DeviceType         string         `json:"device_type"`
	IsGroup            bool           `json:"is_group"`
	Metadata           map[string]any `json:"metadata"`
	Model              string         `json:"model"`
	Name               string         `json:"name"`
	PlatformIdentifier string         `json:"platform_identifier"`
}

type capabilities struct {
	AudioPodcasts           bool     `json:"audio_podcasts"`
	ChangeVolume            bool     `json:"change_volume"`
	DisableConnect          bool     `json:"disable_connect"`
	EnablePlayToken         bool     `json:"enable_play_token"`
	ManifestFormats         []string `json:"manifest_formats"`
	PlayTokenLostBehavior   string   `json:"play_token_lost_behavior"`
	SupportsFileMediaType   bool     `json:"supports_file_media_type"`
	SupportsLogout          bool     `json:"supports_logout"`
	IsControllable          bool     `json:"is_controllable"`
	SupportsTransferCommand bool     `json:"supports_transfer_command"`
	SupportsCommandRequest  bool     `json:"supports_command_request"`
	SupportedTypes          []string `json:"supported_types"`
}

type volumeRequest struct {
	Volume int   `json:"volume"`
	SeqNum int64 `json:"seq_num"`
}

func newRegisterRequest(d Device) registerRequest {
	return registerRequest{
		ClientVersion: ClientVersion,
		ConnectionID:  d.ConnectionID,
		Device: deviceInfo{
			Brand: "public_js-sdk",
			Capabilities: capabilities{
				AudioPodcasts:           true,
				ChangeVolume:            true,
				EnablePlayToken:         true,
				ManifestFormats:         []string{"file_ids_mp4"},
				PlayTokenLostBehavior:   "pause",
				SupportsFileMediaType:   true,
				SupportsLogout:          true,
				IsControllable:          true,
				SupportsTransferCommand: true,
				SupportsCommandRequest:  true,
				SupportedTypes:          []string{"audio/track"},
			},
			DeviceID:           d.DeviceID,
			DeviceType:         "speaker",
			Metadata:           map[string]any{},
			Model:              "waves-connect",
			Name:               d.Name,
			PlatformIdentifier: "Partner public_js-sdk waves-connect",
		},
		Volume: d.Volume,
	}
}
