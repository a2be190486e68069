// Package trackplayback is a client for the track-playback REST API:
// device registration, state pushes, conflict reports and volume changes.
package trackplayback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Defaults.
const (
	DefaultBaseURL = "https://api.spotify.com/v1/track-playback/v1"
	ClientVersion  = "harmony:4.19.0-9f444d2"
	MaxVolume      = 65535
)

// ErrEmptyBody is returned when a state push succeeds without a body.
var ErrEmptyBody = errors.New("empty response body")

// StatusError is returned when the API answers with an unexpected status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// TokenProvider supplies bearer tokens for requests.
type TokenProvider interface {
	RetrieveToken(ctx context.Context) (string, error)
}

// Client provides access to the track-playback API.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new track-playback API client.
func NewClient(baseURL string, tokens TokenProvider, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger.With().Str("component", "trackplayback").Logger(),
	}
}

// RegisterDevice announces the device on the given connection and returns
// the initial sequence number.
func (c *Client) RegisterDevice(ctx context.Context, d Device) (*RegisterResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/devices", newRegisterRequest(d))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, false); err != nil {
		return nil, err
	}

	var result RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.log.Info().Str("device_id", d.DeviceID).Int64("seq", result.InitialSeqNum).Msg("device registered")
	return &result, nil
}

// PutState pushes the local playback state. Only a 200 with a body is a
// success.
func (c *Client) PutState(ctx context.Context, deviceID string, payload *StatePayload) (*StateUpdateResponse, error) {
	resp, err := c.do(ctx, http.MethodPut, devicePath(deviceID, "state"), payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, true); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	var result StateUpdateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// PostStateConflict reports rejected state refs and returns the commands
// the server wants replayed.
func (c *Client) PostStateConflict(ctx context.Context, deviceID string, payload *StatePayload) (*ConflictResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, devicePath(deviceID, "state_conflict"), payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, false); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var result ConflictResponse
	if len(bytes.TrimSpace(body)) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// PutVolume reports a volume change in the 0..MaxVolume range.
func (c *Client) PutVolume(ctx context.Context, deviceID string, volume int, seq int64) error {
	resp, err := c.do(ctx, http.MethodPut, devicePath(deviceID, "volume"), volumeRequest{Volume: volume, SeqNum: seq})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp, false)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	token, err := c.tokens.RetrieveToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug().Str("method", method).Str("path", path).Msg("request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, exactOK bool) error {
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if exactOK {
		ok = resp.StatusCode == http.StatusOK
	}
	if ok {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}

func devicePath(deviceID, endpoint string) string {
	return "/devices/" + url.PathEscape(deviceID) + "/" + endpoint
}
