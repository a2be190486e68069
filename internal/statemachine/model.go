package statemachine

// cursor is where the model currently sits in the graph: nil (nothing
// loaded), a committed state, or a decoy.
type cursor interface {
	state(m *StateMachine) *State
}

// committed points at a state the server knows about.
type committed struct {
	index int
}

func (c committed) state(m *StateMachine) *State { return m.State(c.index) }

// decoy is a local, unconfirmed lookahead. Its synthetic state advances
// to target, and every query resolves through target.
type decoy struct {
	synthetic State
	target    StateRef
}

func (d *decoy) state(_ *StateMachine) *State { return &d.synthetic }

// Transition is the outcome of a successful navigation.
type Transition struct {
	// Position is where playback of the new state should start, in ms.
	// Always 0 for peeks.
	Position int64
}

// Model tracks the local position in a server-issued state machine.
// It performs no I/O and is not safe for concurrent use.
type Model struct {
	machine         *StateMachine
	cur             cursor
	paused          bool
	initialPosition int64
}

// New creates an empty model.
func New() *Model {
	return &Model{}
}

// SetStateMachine swaps the machine. The cursor is kept as is; callers
// follow up with SetCurrentState or StartAtState.
func (m *Model) SetStateMachine(machine *StateMachine) {
	m.machine = machine
}

// StateMachine returns the loaded machine, or nil.
func (m *Model) StateMachine() *StateMachine {
	return m.machine
}

// SetPaused sets the local paused flag.
func (m *Model) SetPaused(paused bool) {
	m.paused = paused
}

// IsPaused reports the paused flag. In decoy mode it is the paused flag
// of the peeked target.
func (m *Model) IsPaused() bool {
	if d, ok := m.cur.(*decoy); ok {
		return d.target.Paused
	}
	return m.paused
}

// SetInitialPosition sets a start position consumed by the next
// committing transition.
func (m *Model) SetInitialPosition(position int64) {
	m.initialPosition = position
}

// StartAtState enters decoy mode pointing at ref.
func (m *Model) StartAtState(ref StateRef) error {
	st := m.machine.State(ref.StateIndex)
	if st == nil {
		return invalidRef(ref.StateIndex)
	}

	target := ref
	m.cur = &decoy{
		target: target,
		synthetic: State{
			Paused: ref.Paused,
			Track:  -1,
			Transitions: Transitions{
				Advance:  &target,
				SkipNext: &target,
				SkipPrev: st.Transitions.SkipPrev,
				ShowNext: st.Transitions.ShowNext,
				ShowPrev: st.Transitions.ShowPrev,
			},
			DurationOverride: st.DurationOverride,
			PositionOffset:   st.PositionOffset,
		},
	}
	m.paused = ref.Paused
	return nil
}

// SetCurrentState commits to the state at ref.StateIndex, ending decoy
// mode. The paused flag is left untouched.
func (m *Model) SetCurrentState(ref StateRef) error {
	if m.machine.State(ref.StateIndex) == nil {
		return invalidRef(ref.StateIndex)
	}
	m.cur = committed{index: ref.StateIndex}
	return nil
}

// InDecoy reports whether the model is peeking ahead of the last
// committed state.
func (m *Model) InDecoy() bool {
	_, ok := m.cur.(*decoy)
	return ok
}

// CurrentState returns the state navigation starts from. In decoy mode
// this is the synthetic state.
func (m *Model) CurrentState() *State {
	if m.cur == nil || m.machine == nil {
		return nil
	}
	return m.cur.state(m.machine)
}

// resolved returns the real state the cursor stands for and its paused flag.
func (m *Model) resolved() (*State, bool) {
	if m.machine == nil || m.cur == nil {
		return nil, false
	}
	switch c := m.cur.(type) {
	case *decoy:
		return m.machine.State(c.target.StateIndex), c.target.Paused
	case committed:
		return m.machine.State(c.index), m.paused
	}
	return nil, false
}

// StateRef returns the external ref of the current position, resolving
// through a decoy. It returns nil when nothing is loaded.
func (m *Model) StateRef() *StateRef {
	st, paused := m.resolved()
	if st == nil {
		return nil
	}
	return &StateRef{
		StateMachineID: m.machine.StateMachineID,
		StateID:        st.StateID,
		Paused:         paused,
	}
}

// CurrentTrack returns the track of the current position, resolving
// through a decoy.
func (m *Model) CurrentTrack() *Track {
	st, _ := m.resolved()
	if st == nil {
		return nil
	}
	return m.machine.Track(st.Track)
}

// Next follows skip_next for the forward button and advance otherwise.
func (m *Model) Next(reason Reason) (Transition, error) {
	return m.transitionTo(m.nextEdge(reason), false)
}

// PeekNext resolves the same edge as Next without moving.
func (m *Model) PeekNext(reason Reason) (Transition, error) {
	return m.transitionTo(m.nextEdge(reason), true)
}

// Previous follows skip_prev.
func (m *Model) Previous() (Transition, error) {
	var edge *StateRef
	if st := m.CurrentState(); st != nil {
		edge = st.Transitions.SkipPrev
	}
	return m.transitionTo(edge, false)
}

func (m *Model) nextEdge(reason Reason) *StateRef {
	st := m.CurrentState()
	if st == nil {
		return nil
	}
	if reason == ReasonForwardButton {
		return st.Transitions.SkipNext
	}
	return st.Transitions.Advance
}

func (m *Model) transitionTo(ref *StateRef, peek bool) (Transition, error) {
	if ref == nil {
		return Transition{}, ErrForbidden
	}
	if m.machine == nil {
		return Transition{}, ErrNullValue
	}
	target := m.machine.State(ref.StateIndex)
	if target == nil {
		return Transition{}, ErrNullValue
	}
	if m.machine.Track(target.Track).URI() == "" {
		return Transition{}, ErrNullValue
	}
	cur := m.CurrentState()
	if cur == nil {
		return Transition{}, ErrNullValue
	}
	if peek {
		return Transition{}, nil
	}

	paused := ref.Paused
	if _, ok := m.cur.(*decoy); ok {
		paused = cur.Paused
	}
	m.cur = committed{index: ref.StateIndex}
	m.paused = paused

	var pos int64
	if m.initialPosition != 0 {
		pos = m.initialPosition
		m.initialPosition = 0
	} else if target.InitialPlaybackPosition != nil {
		pos = *target.InitialPlaybackPosition
	}
	return Transition{Position: pos}, nil
}

// AllowSeeking reports whether the current state permits seeking.
func (m *Model) AllowSeeking() bool {
	st := m.CurrentState()
	return st != nil && !st.DisallowSeeking
}

// TranslatePosition adds the current state's position offset to pos.
func (m *Model) TranslatePosition(pos int64) int64 {
	if st := m.CurrentState(); st != nil {
		return st.PositionOffset + pos
	}
	return pos
}

// TranslateDuration adds the current state's duration override to d.
func (m *Model) TranslateDuration(d int64) int64 {
	if st := m.CurrentState(); st != nil {
		return st.DurationOverride + d
	}
	return d
}
