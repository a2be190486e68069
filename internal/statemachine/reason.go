package statemachine

import (
	"errors"
	"fmt"
)

// Reason explains why a transition was requested.
type Reason string

// Transition reasons sent by players.
const (
	ReasonAppLoad       Reason = "appload"
	ReasonBackButton    Reason = "backbtn"
	ReasonClickRow      Reason = "clickrow"
	ReasonClickSide     Reason = "clickside"
	ReasonEndPlay       Reason = "endplay"
	ReasonForwardButton Reason = "fwdbtn"
	ReasonLogout        Reason = "logout"
	ReasonPlayButton    Reason = "playbtn"
	ReasonPopup         Reason = "popup"
	ReasonRemote        Reason = "remote"
	ReasonTrackDone     Reason = "trackdone"
	ReasonTrackError    Reason = "trackerror"
	ReasonUnknown       Reason = "unknown"
	ReasonURIOpen       Reason = "uriopen"
	ReasonCapped        Reason = "capped"
	ReasonSeek          Reason = "seek"
)

var (
	// ErrForbidden is returned when the current state has no edge for the
	// requested transition.
	ErrForbidden = errors.New("FORBIDDEN")

	// ErrNullValue is returned when a transition cannot resolve its target:
	// no current state, no machine, a missing target state, or a target
	// track without a uri.
	ErrNullValue = errors.New("NULL_VALUE")

	// ErrInvalidStateRef is returned when a ref handed to the model does not
	// name a state of the loaded machine. It signals a protocol error, not an
	// ordinary navigation failure.
	ErrInvalidStateRef = errors.New("invalid state reference")
)

func invalidRef(index int) error {
	return fmt.Errorf("%w: no state at index %d", ErrInvalidStateRef, index)
}
