// Package token provides bearer tokens for the dealer and the REST API.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is the OAuth2 token endpoint used for refreshes.
const DefaultTokenURL = "https://accounts.spotify.com/api/token"

// refreshThreshold is how close to expiry a token gets refreshed.
const refreshThreshold = time.Minute

// ErrNoToken is returned when no token is available and none can be
// refreshed.
var ErrNoToken = errors.New("no access token provided and cannot be refreshed")

// Static is a fixed access token.
type Static string

// RetrieveToken returns the token, or ErrNoToken when it is empty.
func (s Static) RetrieveToken(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// RefreshConfig configures a RefreshProvider.
type RefreshConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string

	// AccessToken and Expiry seed the cache. A zero Expiry means the
	// token is refreshed on first use when refreshing is possible.
	AccessToken string
	Expiry      time.Time

	// OnToken is called with every newly refreshed access token.
	OnToken func(accessToken string)
}

// RefreshProvider returns a cached access token and refreshes it through
// the OAuth2 refresh-token grant shortly before it expires.
type RefreshProvider struct {
	cfg     oauth2.Config
	onToken func(string)

	mu      sync.Mutex
	current *oauth2.Token
}

// NewRefreshProvider creates a provider from cfg.
func NewRefreshProvider(cfg RefreshConfig) *RefreshProvider {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &RefreshProvider{
		cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		onToken: cfg.OnToken,
		current: &oauth2.Token{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
			Expiry:       cfg.Expiry,
		},
	}
}

// CanRefresh reports whether client credentials and a refresh token are
// all present.
func (p *RefreshProvider) CanRefresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canRefresh()
}

func (p *RefreshProvider) canRefresh() bool {
	return p.current.RefreshToken != "" && p.cfg.ClientID != "" && p.cfg.ClientSecret != ""
}

// RetrieveToken returns a usable access token, refreshing it when it is
// within a minute of expiry.
func (p *RefreshProvider) RetrieveToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.canRefresh() {
		if p.current.AccessToken == "" {
			return "", ErrNoToken
		}
		return p.current.AccessToken, nil
	}

	if p.current.AccessToken != "" && time.Now().Before(p.current.Expiry.Add(-refreshThreshold)) {
		return p.current.AccessToken, nil
	}

	src := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: p.current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = p.current.RefreshToken
	}
	p.current = tok

	if p.onToken != nil {
		p.onToken(tok.AccessToken)
	}
	return tok.AccessToken, nil
}
