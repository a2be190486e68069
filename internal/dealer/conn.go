package dealer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/llehouerou/waves-connect/internal/metrics"
)

// Conn is the transport used by a connection. *websocket.Conn implements it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a transport to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// DialWebsocket dials url with gorilla/websocket.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultDialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Close reasons reported to metrics and logs.
const (
	closeClient     = "client"
	closeDisconnect = "disconnect"
	closeReplaced   = "replaced"
	closeTransport  = "transport"
	closeHeartbeat  = "heartbeat"
	closeProtocol   = "protocol"
	closeWrite      = "write"
)

// connection is one live transport plus its heartbeat.
type connection struct {
	client *Client
	ws     Conn
	log    zerolog.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	receivedPong bool

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(c *Client, ws Conn) *connection {
	return &connection{
		client: c,
		ws:     ws,
		log:    c.log,
		done:   make(chan struct{}),
	}
}

func (c *connection) start() {
	go c.readLoop()
	go c.heartbeatLoop()
}

func (c *connection) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Info().Err(err).Msg("dealer connection lost")
			}
			c.close(closeTransport)
			return
		}

		if err := c.client.handleFrame(c, data); err != nil {
			c.log.Error().Err(err).Msg("dealer protocol violation")
			c.close(closeProtocol)
			return
		}
	}
}

// heartbeatLoop pings every interval and tears the connection down when
// no pong arrived within the pong timeout.
func (c *connection) heartbeatLoop() {
	ticker := time.NewTicker(c.client.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		c.receivedPong = false
		c.mu.Unlock()

		if err := c.send(pingFrame); err != nil {
			c.log.Warn().Err(err).Msg("dealer ping failed")
			c.close(closeWrite)
			return
		}
		c.log.Debug().Msg("dealer ping sent")

		deadline := time.NewTimer(c.client.opts.PongTimeout)
		select {
		case <-c.done:
			deadline.Stop()
			return
		case <-deadline.C:
		}

		c.mu.Lock()
		alive := c.receivedPong
		c.receivedPong = false
		c.mu.Unlock()

		if !alive {
			c.log.Warn().Dur("timeout", c.client.opts.PongTimeout).Msg("dealer pong not received")
			c.close(closeHeartbeat)
			return
		}
	}
}

func (c *connection) pong() {
	c.mu.Lock()
	c.receivedPong = true
	c.mu.Unlock()
}

func (c *connection) send(data []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(DefaultWriteWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *connection) sendReply(key string, result RequestResult) error {
	data, err := json.Marshal(replyEnvelope{
		Type:    typeReply,
		Key:     key,
		Payload: replyPayload{Success: result == RequestSuccess},
	})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return c.send(data)
}

// close tears the connection down once and notifies the client.
func (c *connection) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(DefaultCloseGracePeriod))
		c.writeMu.Unlock()
		_ = c.ws.Close()

		metrics.RecordClose(reason)
		c.log.Info().Str("reason", reason).Msg("dealer connection closed")
		c.client.connectionInvalidated(c)
	})
}
