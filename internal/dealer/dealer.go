// Package dealer maintains the persistent push channel: it decodes inbound
// envelopes, keeps the connection alive with a ping/pong heartbeat, routes
// messages and requests to registered listeners, and answers requests.
package dealer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/waves-connect/internal/metrics"
)

// Default connection settings.
const (
	DefaultURL               = "wss://gew-dealer.spotify.com/"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPongTimeout       = 3 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteWait         = 10 * time.Second
	DefaultCloseGracePeriod  = 5 * time.Second
)

// ErrListenerRegistered is returned when a listener instance, or a request
// prefix, is registered twice.
var ErrListenerRegistered = errors.New("listener already registered")

// TokenProvider supplies the bearer credential used to open a connection.
type TokenProvider interface {
	RetrieveToken(ctx context.Context) (string, error)
}

// Options configures a Client. Zero values get defaults.
type Options struct {
	URL               string
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	Dial              DialFunc
	Logger            zerolog.Logger
}

func (o *Options) defaults() {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.PongTimeout == 0 {
		o.PongTimeout = DefaultPongTimeout
	}
	if o.Dial == nil {
		o.Dial = DialWebsocket
	}
}

// Client owns at most one live connection to the dealer.
type Client struct {
	tokens TokenProvider
	opts   Options
	log    zerolog.Logger

	mu            sync.Mutex
	conn          *connection
	msgListeners  []messageSubscription
	reqListeners  []requestSubscription
	closeHandlers []func()
}

// New creates a dealer client. Call Connect to open the channel.
func New(tokens TokenProvider, opts Options) *Client {
	opts.defaults()
	return &Client{
		tokens: tokens,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "dealer").Logger(),
	}
}

// Connect opens a new connection with a freshly retrieved token. A
// previous connection, if any, is closed first.
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.tokens.RetrieveToken(ctx)
	if err != nil {
		return fmt.Errorf("retrieve token: %w", err)
	}

	endpoint, err := url.Parse(c.opts.URL)
	if err != nil {
		return fmt.Errorf("parse dealer url: %w", err)
	}
	q := endpoint.Query()
	q.Set("access_token", token)
	endpoint.RawQuery = q.Encode()

	c.mu.Lock()
	old := c.conn
	c.conn = nil
	c.mu.Unlock()
	if old != nil {
		old.close(closeReplaced)
	}

	ws, err := c.opts.Dial(ctx, endpoint.String())
	if err != nil {
		return fmt.Errorf("dial dealer: %w", err)
	}

	conn := newConnection(c, ws)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	conn.start()

	c.log.Info().Str("host", endpoint.Host).Msg("dealer connected")
	return nil
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// Close closes the current connection and clears all listeners. It is
// safe to call more than once. Use Disconnect to keep the listeners.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.msgListeners = nil
	c.reqListeners = nil
	c.mu.Unlock()

	if conn != nil {
		conn.close(closeClient)
	}
}

// Disconnect closes the current connection and keeps every listener, so
// a later Connect resumes routing to them.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.close(closeDisconnect)
	}
}

// OnClose registers fn to run every time a connection goes away, whether
// closed explicitly, by the transport, or by a heartbeat timeout.
func (c *Client) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeHandlers = append(c.closeHandlers, fn)
}

// AddMessageListener registers l for messages whose uri starts with any
// of uris.
func (c *Client) AddMessageListener(l MessageListener, uris ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.msgListeners {
		if s.listener == l {
			return fmt.Errorf("%w: message listener for %s", ErrListenerRegistered, strings.Join(uris, ", "))
		}
	}
	c.msgListeners = append(c.msgListeners, messageSubscription{
		listener: l,
		prefixes: slices.Clone(uris),
		box:      &mailbox{},
	})
	return nil
}

// RemoveMessageListener unregisters l.
func (c *Client) RemoveMessageListener(l MessageListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgListeners = slices.DeleteFunc(c.msgListeners, func(s messageSubscription) bool {
		return s.listener == l
	})
}

// AddRequestListener registers l for requests whose message ident starts
// with prefix.
func (c *Client) AddRequestListener(l RequestListener, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.reqListeners {
		if s.prefix == prefix {
			return fmt.Errorf("%w: request listener for %s", ErrListenerRegistered, prefix)
		}
	}
	c.reqListeners = append(c.reqListeners, requestSubscription{prefix: prefix, listener: l, box: &mailbox{}})
	return nil
}

// RemoveRequestListener unregisters every prefix l was registered under.
func (c *Client) RemoveRequestListener(l RequestListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqListeners = slices.DeleteFunc(c.reqListeners, func(s requestSubscription) bool {
		return s.listener == l
	})
}

func (c *Client) current() *connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) connectionInvalidated(conn *connection) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	handlers := slices.Clone(c.closeHandlers)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

func (c *Client) handleFrame(conn *connection, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	metrics.RecordFrame(env.Type)

	switch env.Type {
	case typeMessage:
		return c.handleMessage(&env)
	case typeRequest:
		c.handleRequest(&env)
	case typePong:
		conn.pong()
	case typePing:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEnvelope, env.Type)
	}
	return nil
}

func (c *Client) handleMessage(env *envelope) error {
	headers := newHeaders(env.Headers)
	payload, err := decodeMessagePayload(headers, env.Payloads)
	if errors.Is(err, errUndecodable) {
		metrics.RecordDropped()
		c.log.Debug().Str("uri", env.URI).Msg("dropping undecodable message")
		return nil
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	subs := slices.Clone(c.msgListeners)
	c.mu.Unlock()

	uri := env.URI
	for _, s := range subs {
		if s.matches(uri) {
			s.box.post(func() { c.deliverMessage(s.listener, uri, headers, payload) })
		}
	}
	return nil
}

func (c *Client) deliverMessage(l MessageListener, uri string, headers Headers, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordListenerFailure("message")
			c.log.Warn().Interface("panic", r).Str("uri", uri).Msg("message listener failed")
		}
	}()
	l.OnMessage(uri, headers, payload)
}

func (c *Client) handleRequest(env *envelope) {
	headers := newHeaders(env.Headers)
	p, err := decodeRequestPayload(headers, env.Payload)
	if err != nil {
		c.log.Warn().Err(err).Str("ident", env.MessageIdent).Msg("dropping undecodable request")
		return
	}

	req := Request{
		MessageIdent:   env.MessageIdent,
		MessageID:      p.MessageID,
		SenderDeviceID: p.SentByDeviceID,
		Command:        p.Command,
	}

	c.mu.Lock()
	subs := slices.Clone(c.reqListeners)
	c.mu.Unlock()

	key := env.Key
	for _, s := range subs {
		if strings.HasPrefix(req.MessageIdent, s.prefix) {
			s.box.post(func() { c.deliverRequest(s.listener, key, req) })
		}
	}
}

func (c *Client) deliverRequest(l RequestListener, key string, req Request) {
	result := c.runRequestListener(l, req)

	conn := c.current()
	if conn == nil {
		return
	}
	if err := conn.sendReply(key, result); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to send reply")
	}
}

func (c *Client) runRequestListener(l RequestListener, req Request) (result RequestResult) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordListenerFailure("request")
			c.log.Warn().Interface("panic", r).Str("ident", req.MessageIdent).Msg("request listener failed")
			result = RequestUpstreamError
		}
	}()

	res, err := l.OnRequest(req)
	if err != nil {
		metrics.RecordListenerFailure("request")
		c.log.Warn().Err(err).Str("ident", req.MessageIdent).Msg("request listener failed")
		return RequestUpstreamError
	}
	return res
}
