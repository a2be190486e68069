package dealer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrUnknownEnvelope is returned for an envelope type outside
	// message, request, ping and pong. It fails the connection.
	ErrUnknownEnvelope = errors.New("unknown envelope type")

	// ErrUnsupportedPayload is returned for a JSON or plain-text message
	// carrying more than one payload item. It fails the connection.
	ErrUnsupportedPayload = errors.New("unsupported payload")

	// errUndecodable marks a payload that is dropped without notice.
	errUndecodable = errors.New("undecodable payload")
)

// Envelope types.
const (
	typeMessage = "message"
	typeRequest = "request"
	typePing    = "ping"
	typePong    = "pong"
	typeReply   = "reply"
)

// envelope is the union of all inbound frame shapes.
type envelope struct {
	Type         string            `json:"type"`
	URI          string            `json:"uri,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Payloads     []json.RawMessage `json:"payloads,omitempty"`
	MessageIdent string            `json:"message_ident,omitempty"`
	Key          string            `json:"key,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
}

type replyEnvelope struct {
	Type    string       `json:"type"`
	Key     string       `json:"key"`
	Payload replyPayload `json:"payload"`
}

type replyPayload struct {
	Success bool `json:"success"`
}

type requestPayload struct {
	MessageID      int64           `json:"message_id"`
	SentByDeviceID string          `json:"sent_by_device_id"`
	Command        json.RawMessage `json:"command"`
}

type compressedPayload struct {
	Compressed string `json:"compressed"`
}

var pingFrame = []byte(`{"type":"ping"}`)

// decodeMessagePayload turns the payload list of a message into one
// buffer according to its content-type and transfer-encoding headers.
func decodeMessagePayload(h Headers, payloads []json.RawMessage) ([]byte, error) {
	if len(payloads) == 0 {
		return []byte{}, nil
	}

	switch h.Get("content-type") {
	case "application/json":
		if len(payloads) > 1 {
			return nil, fmt.Errorf("%w: %d json payloads", ErrUnsupportedPayload, len(payloads))
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, payloads[0]); err != nil {
			return nil, fmt.Errorf("compact json payload: %w", err)
		}
		return buf.Bytes(), nil

	case "text/plain":
		if len(payloads) > 1 {
			return nil, fmt.Errorf("%w: %d text payloads", ErrUnsupportedPayload, len(payloads))
		}
		var text string
		if err := json.Unmarshal(payloads[0], &text); err != nil {
			return nil, fmt.Errorf("%w: text payload is not a string", ErrUnsupportedPayload)
		}
		return []byte(text), nil
	}

	var buf []byte
	for _, p := range payloads {
		var chunk string
		if err := json.Unmarshal(p, &chunk); err != nil {
			return nil, errUndecodable
		}
		b, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			return nil, errUndecodable
		}
		buf = append(buf, b...)
	}

	if h.Get("transfer-encoding") == "gzip" {
		out, err := gunzip(buf)
		if err != nil {
			return nil, errUndecodable
		}
		buf = out
	}
	return buf, nil
}

// decodeRequestPayload unwraps an optionally gzip+base64 encoded request
// payload.
func decodeRequestPayload(h Headers, raw json.RawMessage) (*requestPayload, error) {
	if h.Get("transfer-encoding") == "gzip" {
		var c compressedPayload
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode compressed payload: %w", err)
		}
		b, err := base64.StdEncoding.DecodeString(c.Compressed)
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		raw, err = gunzip(b)
		if err != nil {
			return nil, fmt.Errorf("gunzip payload: %w", err)
		}
	}

	var p requestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode request payload: %w", err)
	}
	return &p, nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
