package lastfm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AuthTimeout bounds how long Login waits for the user to authorize.
const AuthTimeout = 5 * time.Minute

// ErrAuthTimeout is returned when no authorization arrives in time.
var ErrAuthTimeout = errors.New("authorization timed out")

// Authenticator is the part of Client used by Login.
type Authenticator interface {
	GetToken() (string, error)
	GetAuthURL(token, callback string) string
	GetSession(token string) (username, sessionKey string, err error)
}

// WaitForToken waits for the callback to deliver a token. An empty token
// from the callback is an authorization failure.
func WaitForToken(ctx context.Context, tokenChan <-chan string, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case token := <-tokenChan:
		if token == "" {
			return "", errors.New("callback carried no token")
		}
		return token, nil
	case <-timer.C:
		return "", ErrAuthTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Login runs the desktop authorization flow: it requests a token, has
// open show the authorization page, waits for the callback on addr and
// exchanges the token for a session key.
func Login(ctx context.Context, auth Authenticator, addr string, open func(url string) error) (username, sessionKey string, err error) {
	server, err := StartAuthServer(addr)
	if err != nil {
		return "", "", err
	}
	defer server.Shutdown()

	token, err := auth.GetToken()
	if err != nil {
		return "", "", err
	}

	if err := open(auth.GetAuthURL(token, server.CallbackURL())); err != nil {
		return "", "", fmt.Errorf("open authorization page: %w", err)
	}

	authorized, err := WaitForToken(ctx, server.TokenChan(), AuthTimeout)
	if err != nil {
		return "", "", err
	}
	return auth.GetSession(authorized)
}
