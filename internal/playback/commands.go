package playback

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/llehouerou/waves-connect/internal/metrics"
	"github.com/llehouerou/waves-connect/internal/statemachine"
)

// CommandType is the type of a command received on CommandURI.
type CommandType string

const (
	CommandSetVolume    CommandType = "set_volume"
	CommandLogOut       CommandType = "log_out"
	CommandReplaceState CommandType = "replace_state"
	CommandPing         CommandType = "ping"
)

// ParseCommandType validates a command type string.
func ParseCommandType(s string) (CommandType, error) {
	switch t := CommandType(s); t {
	case CommandSetVolume, CommandLogOut, CommandReplaceState, CommandPing:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

type command struct {
	Type         string                     `json:"type"`
	Volume       *int                       `json:"volume"`
	PrevStateRef *statemachine.StateRef     `json:"prev_state_ref"`
	StateRef     *statemachine.StateRef     `json:"state_ref"`
	StateMachine *statemachine.StateMachine `json:"state_machine"`
	SeekTo       seekTo                     `json:"seek_to"`
}

// seekTo accepts a number or a numeric string. Anything else leaves it
// invalid.
type seekTo struct {
	ms    int64
	valid bool
}

func (s *seekTo) UnmarshalJSON(data []byte) error {
	*s = seekTo{}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		text = string(data)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return nil //nolint:nilerr // an unparseable seek is ignored, like a missing one
	}
	s.ms, s.valid = int64(v), true
	return nil
}

func decodeCommand(payload []byte) (*command, CommandType, error) {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, "", fmt.Errorf("decode command: %w", err)
	}
	typ, err := ParseCommandType(cmd.Type)
	if err != nil {
		return nil, "", err
	}

	switch typ {
	case CommandSetVolume:
		if cmd.Volume == nil {
			return nil, typ, errors.New("set_volume without volume")
		}
	case CommandReplaceState:
		if cmd.StateRef != nil && cmd.StateMachine == nil {
			return nil, typ, errors.New("replace_state with a state ref but no state machine")
		}
	}
	return &cmd, typ, nil
}

// performCommand decodes and applies one command. Must be called with mu
// held.
func (s *Session) performCommand(payload []byte) error {
	cmd, typ, err := decodeCommand(payload)
	if err != nil {
		status := "invalid"
		if typ == "" {
			status = "unknown"
		}
		metrics.RecordCommand(string(typ), status)
		return err
	}
	s.log.Debug().Str("type", string(typ)).Msg("command received")

	switch typ {
	case CommandSetVolume:
		s.onVolumeChanged(*cmd.Volume)
	case CommandLogOut:
		// Dropping the channel calls back into the session. The listener
		// stays so the next connection registers again.
		go s.dealer.Disconnect()
	case CommandReplaceState:
		if err := s.replaceState(cmd); err != nil {
			metrics.RecordCommand(string(typ), "failed")
			return err
		}
	case CommandPing:
		s.updateState(SourcePing)
	}
	metrics.RecordCommand(string(typ), "ok")
	return nil
}

func (s *Session) onVolumeChanged(volume int) {
	seq := s.nextSeq()
	s.emit(VolumeEvent{Volume: volume})

	go func() {
		if err := s.api.PutVolume(s.ctx, s.opts.DeviceID, volume, seq); err != nil {
			s.log.Warn().Err(err).Int("volume", volume).Msg("volume update failed")
		}
	}()
}

// replaceState reconciles a replace_state command with the local state.
func (s *Session) replaceState(cmd *command) error {
	newRef, err := cmd.StateMachine.Ref(cmd.StateRef)
	if err != nil {
		return fmt.Errorf("replace_state: %w", err)
	}

	if !s.currentRef().Same(cmd.PrevStateRef) {
		s.log.Debug().
			Interface("prev", cmd.PrevStateRef).
			Interface("current", s.currentRef()).
			Msg("rejecting state")
		s.rejectState(newRef)
		return nil
	}

	if cmd.StateRef == nil {
		s.clearContextAndState()
		return nil
	}

	if !s.active {
		s.active = true
		s.emit(ActivateEvent{})
	}

	cur := s.currentRef()
	if s.model != nil && cur != nil && cur.StateID == newRef.StateID {
		return s.updateInPlace(cmd)
	}

	model := statemachine.New()
	model.SetStateMachine(cmd.StateMachine)
	if err := model.StartAtState(*cmd.StateRef); err != nil {
		return fmt.Errorf("replace_state: %w", err)
	}
	s.model = model

	var seek int64
	if cmd.SeekTo.valid {
		seek = cmd.SeekTo.ms
	}
	s.emit(PlayEvent{
		Position: time.Duration(seek) * time.Millisecond,
		Paused:   cmd.StateRef.Paused,
		Track:    trackFrom(model.CurrentTrack()),
	})
	s.onBeforeTrackLoad(seek)
	return nil
}

// updateInPlace applies a new machine for the state already playing.
func (s *Session) updateInPlace(cmd *command) error {
	ref := *cmd.StateRef
	if cmd.StateMachine.State(ref.StateIndex) == nil {
		return fmt.Errorf("replace_state: %w", statemachine.ErrInvalidStateRef)
	}
	s.model.SetStateMachine(cmd.StateMachine)
	if err := s.model.SetCurrentState(ref); err != nil {
		return fmt.Errorf("replace_state: %w", err)
	}

	switch {
	case s.model.IsPaused() != ref.Paused:
		paused := ref.Paused
		s.model.SetPaused(paused)
		s.fetchPosition(func(pos int64) {
			if paused {
				s.emit(PauseEvent{})
			} else {
				s.emit(ResumeEvent{})
			}
			s.onPlayPause(paused, &pos)
		})

	case cmd.SeekTo.valid && s.model.AllowSeeking():
		s.emit(SeekEvent{Position: time.Duration(cmd.SeekTo.ms) * time.Millisecond})
		s.onPositionChanged(cmd.SeekTo.ms)

	default:
		s.fetchPosition(func(pos int64) {
			s.emit(ModifyStateEvent{})
			s.setAllTrackPositions(&pos)
			s.updateState(SourceModifyCurrentState)
		})
	}
	return nil
}

func (s *Session) clearContextAndState() {
	s.active = false
	s.model = nil
	s.updateState(SourceStateClear)
	s.setAllTrackPositions(nil)
	s.emit(StopEvent{})
}

func (s *Session) onBeforeTrackLoad(position int64) {
	s.duration = 0
	if t := s.model.CurrentTrack(); t != nil && t.Metadata != nil {
		s.duration = t.Metadata.Duration
	}
	s.setCurrentTrackPosition(position)
	s.updateState(SourceBeforeTrackLoad)
}

func (s *Session) onPlayPause(paused bool, position *int64) {
	if s.model == nil {
		return
	}
	s.model.SetPaused(paused)
	if position != nil {
		s.setAllTrackPositions(position)
	}
	source := SourceResume
	if paused {
		source = SourcePause
	}
	s.updateState(source)
}

func (s *Session) onPositionChanged(position int64) {
	s.setCurrentTrackPosition(position)
	s.updateState(SourcePositionChanged)
}
