package dealer

import (
	"encoding/json"
	"strings"
	"sync"
)

// MessageListener receives messages whose uri matches one of the prefixes
// it was registered with. Implementations must be comparable (typically
// pointers) so they can be registered and removed by identity.
type MessageListener interface {
	OnMessage(uri string, headers Headers, payload []byte)
}

// RequestListener handles requests whose message ident starts with the
// prefix it was registered under. A returned error, or a panic, is
// answered with RequestUpstreamError.
type RequestListener interface {
	OnRequest(req Request) (RequestResult, error)
}

// Request is a decoded inbound request.
type Request struct {
	MessageIdent   string
	MessageID      int64
	SenderDeviceID string
	Command        json.RawMessage
}

// RequestResult is the outcome reported back for a request.
type RequestResult int

// Request results. Only RequestSuccess is reported as a success.
const (
	RequestUnknownSendCommandResult RequestResult = iota
	RequestSuccess
	RequestDeviceNotFound
	RequestContextPlayerError
	RequestDeviceDisappeared
	RequestUpstreamError
	RequestDeviceDoesNotSupportCommand
	RequestRateLimited
)

// String returns the result name.
func (r RequestResult) String() string {
	switch r {
	case RequestUnknownSendCommandResult:
		return "UNKNOWN_SEND_COMMAND_RESULT"
	case RequestSuccess:
		return "SUCCESS"
	case RequestDeviceNotFound:
		return "DEVICE_NOT_FOUND"
	case RequestContextPlayerError:
		return "CONTEXT_PLAYER_ERROR"
	case RequestDeviceDisappeared:
		return "DEVICE_DISAPPEARED"
	case RequestUpstreamError:
		return "UPSTREAM_ERROR"
	case RequestDeviceDoesNotSupportCommand:
		return "DEVICE_DOES_NOT_SUPPORT_COMMAND"
	case RequestRateLimited:
		return "RATE_LIMITED"
	default:
		return "Unknown"
	}
}

// Headers is a case-insensitive header set.
type Headers map[string]string

func newHeaders(raw map[string]string) Headers {
	h := make(Headers, len(raw))
	for k, v := range raw {
		h[strings.ToLower(k)] = v
	}
	return h
}

// Get returns the header value for key, ignoring case.
func (h Headers) Get(key string) string {
	return h[strings.ToLower(key)]
}

type messageSubscription struct {
	listener MessageListener
	prefixes []string
	box      *mailbox
}

func (s messageSubscription) matches(uri string) bool {
	for _, p := range s.prefixes {
		if strings.HasPrefix(uri, p) {
			return true
		}
	}
	return false
}

type requestSubscription struct {
	prefix   string
	listener RequestListener
	box      *mailbox
}

// mailbox runs posted deliveries one at a time, in posting order, on a
// goroutine that exits once the queue is empty.
type mailbox struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	go m.drain()
}

func (m *mailbox) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.running = false
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}
