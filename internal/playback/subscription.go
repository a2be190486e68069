package playback

const eventBufferSize = 16

// Subscription provides the event channel for a subscriber.
type Subscription struct {
	Events <-chan Event
	Done   <-chan struct{}

	// Internal write channels
	eventCh chan Event
	doneCh  chan struct{}
}

// newSubscription creates a new subscription with a buffered channel.
func newSubscription() *Subscription {
	s := &Subscription{
		eventCh: make(chan Event, eventBufferSize),
		doneCh:  make(chan struct{}),
	}
	s.Events = s.eventCh
	s.Done = s.doneCh
	return s
}

// close signals subscribers to stop by closing doneCh.
func (s *Subscription) close() {
	close(s.doneCh)
}

// send delivers an event (non-blocking) and reports whether it was
// buffered.
func (s *Subscription) send(e Event) bool {
	select {
	case s.eventCh <- e:
		return true
	default:
		// Drop if buffer full
		return false
	}
}
