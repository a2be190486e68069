package playback

import (
	"slices"

	"github.com/llehouerou/waves-connect/internal/metrics"
	"github.com/llehouerou/waves-connect/internal/statemachine"
	"github.com/llehouerou/waves-connect/internal/trackplayback"
)

// maxRejectedPerBatch caps how many rejected refs go into one conflict
// report.
const maxRejectedPerBatch = 5

func (s *Session) statePayload(ref *statemachine.StateRef, source DebugSource) *trackplayback.StatePayload {
	speed := 1
	if ref != nil && ref.Paused {
		speed = 0
	}
	return &trackplayback.StatePayload{
		StateRef: ref,
		SubState: trackplayback.SubState{
			PlaybackSpeed: speed,
			Position:      clonePosition(s.position),
			Duration:      s.duration,
		},
		PreviousPosition: clonePosition(s.previousPosition),
		DebugSource:      string(source),
	}
}

func clonePosition(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func samePosition(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// changedSince reports whether next differs from the last sent payload.
// Payloads without a state ref on either side always count as changed.
func changedSince(last, next *trackplayback.StatePayload) bool {
	if last == nil || last.StateRef == nil || next.StateRef == nil {
		return true
	}
	if !last.StateRef.Same(next.StateRef) {
		return true
	}
	return last.SubState.PlaybackSpeed != next.SubState.PlaybackSpeed ||
		!samePosition(last.SubState.Position, next.SubState.Position) ||
		last.SubState.Duration != next.SubState.Duration ||
		!samePosition(last.PreviousPosition, next.PreviousPosition)
}

// updateState pushes the local state unless it matches the last push.
// While a push is in flight only the newest source is kept and pushed
// once the current call completes. Must be called with mu held.
func (s *Session) updateState(source DebugSource) {
	if !s.registered() {
		return
	}

	ref := s.currentRef()
	payload := s.statePayload(ref, source)
	if !changedSince(s.lastSent, payload) {
		metrics.RecordStatePush("suppressed")
		s.log.Debug().Str("source", string(source)).Msg("state push suppressed")
		return
	}

	if s.pushing {
		s.trailing, s.hasTrailing = source, true
		metrics.RecordStatePush("coalesced")
		return
	}

	s.pushing = true
	s.hasTrailing = false
	payload.SeqNum = s.nextSeq()
	s.lastSent = payload

	go s.sendState(payload, ref)
}

func (s *Session) sendState(payload *trackplayback.StatePayload, ref *statemachine.StateRef) {
	resp, err := s.api.PutState(s.ctx, s.opts.DeviceID, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		metrics.RecordStatePush("failed")
		s.log.Warn().Err(err).Str("source", payload.DebugSource).Int64("seq", payload.SeqNum).Msg("state push failed")
	} else {
		metrics.RecordStatePush("sent")
		s.adoptStateUpdate(ref, resp)
	}

	s.pushing = false
	if s.hasTrailing {
		source := s.trailing
		s.hasTrailing = false
		s.updateState(source)
	}
}

// adoptStateUpdate takes the server's view of the state if nothing moved
// locally since the push was made.
func (s *Session) adoptStateUpdate(ref *statemachine.StateRef, resp *trackplayback.StateUpdateResponse) {
	if s.model == nil || !s.currentRef().Same(ref) {
		return
	}
	if resp.StateMachine == nil || resp.UpdatedStateRef == nil {
		return
	}
	if resp.StateMachine.State(resp.UpdatedStateRef.StateIndex) == nil {
		s.log.Error().Int("index", resp.UpdatedStateRef.StateIndex).Msg("state update names an unknown state")
		return
	}

	s.model.SetStateMachine(resp.StateMachine)
	_ = s.model.SetCurrentState(*resp.UpdatedStateRef)
}

// rejectState queues ref for conflict resolution and sends the next batch
// when none is in flight. Must be called with mu held.
func (s *Session) rejectState(ref *statemachine.StateRef) {
	if ref != nil {
		s.rejected = append(s.rejected, ref)
		metrics.RecordRejected()
	}
	if !s.registered() || s.resolving || len(s.rejected) == 0 {
		return
	}

	s.resolving = true
	n := min(maxRejectedPerBatch, len(s.rejected))
	batch := slices.Clone(s.rejected[:n])
	s.rejected = slices.Delete(s.rejected, 0, n)

	payload := s.statePayload(s.currentRef(), "")
	payload.RejectedStateRefs = batch
	payload.SeqNums = make([]int64, 0, n)
	for range n {
		payload.SeqNums = append(payload.SeqNums, s.nextSeq())
	}

	go s.sendConflict(payload)
}

func (s *Session) sendConflict(payload *trackplayback.StatePayload) {
	resp, err := s.api.PostStateConflict(s.ctx, s.opts.DeviceID, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		metrics.RecordConflictBatch("failed")
		s.log.Warn().Err(err).Int("rejected", len(payload.RejectedStateRefs)).Msg("state conflict report failed")
	} else {
		metrics.RecordConflictBatch("ok")
		for _, raw := range resp.Commands {
			if err := s.performCommand(raw); err != nil {
				s.log.Error().Err(err).Msg("conflict command failed")
			}
		}
	}

	s.resolving = false
	s.rejectState(nil)
}
