package lastfm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"testing/synctest"
	"time"
)

func TestWaitForToken_ReceivesToken(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tokenChan := make(chan string, 1)
		tokenChan <- "test-token-123"

		token, err := WaitForToken(context.Background(), tokenChan, AuthTimeout)
		if err != nil {
			t.Fatalf("WaitForToken() error = %v", err)
		}
		if token != "test-token-123" {
			t.Errorf("token = %q, want %q", token, "test-token-123")
		}
	})
}

func TestWaitForToken_Timeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tokenChan := make(chan string)

		start := time.Now()
		_, err := WaitForToken(context.Background(), tokenChan, AuthTimeout)
		if !errors.Is(err, ErrAuthTimeout) {
			t.Fatalf("err = %v, want ErrAuthTimeout", err)
		}
		if elapsed := time.Since(start); elapsed != AuthTimeout {
			t.Errorf("gave up after %v, want %v", elapsed, AuthTimeout)
		}
	})
}

func TestWaitForToken_TokenBeforeTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tokenChan := make(chan string)

		go func() {
			time.Sleep(2 * time.Minute)
			tokenChan <- "delayed-token"
		}()

		token, err := WaitForToken(context.Background(), tokenChan, AuthTimeout)
		if err != nil {
			t.Fatalf("WaitForToken() error = %v", err)
		}
		if token != "delayed-token" {
			t.Errorf("token = %q, want %q", token, "delayed-token")
		}
	})
}

func TestWaitForToken_EmptyTokenFails(t *testing.T) {
	tokenChan := make(chan string, 1)
	tokenChan <- ""

	if _, err := WaitForToken(context.Background(), tokenChan, time.Minute); err == nil {
		t.Error("expected an error for an empty callback token")
	}
}

func TestWaitForToken_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WaitForToken(ctx, make(chan string), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAuthServer_Callback(t *testing.T) {
	server, err := StartAuthServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartAuthServer() error = %v", err)
	}
	defer server.Shutdown()

	resp, err := http.Get(server.CallbackURL() + "?token=abc")
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), "Authorization Successful") {
		t.Errorf("body = %q, want a success page", body)
	}
	if got := <-server.TokenChan(); got != "abc" {
		t.Errorf("token = %q, want abc", got)
	}

	// A second callback does not block the handler
	resp, err = http.Get(server.CallbackURL())
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "Authorization Failed") {
		t.Errorf("body = %q, want a failure page", body)
	}
}

type fakeAuthenticator struct {
	token       string
	tokenErr    error
	authorized  string
	sessionUser string
}

func (f *fakeAuthenticator) GetToken() (string, error) { return f.token, f.tokenErr }

func (f *fakeAuthenticator) GetAuthURL(token, callback string) string {
	return New("key", "secret").GetAuthURL(token, callback)
}

func (f *fakeAuthenticator) GetSession(token string) (string, string, error) {
	f.authorized = token
	return f.sessionUser, "session-" + token, nil
}

func TestLogin(t *testing.T) {
	auth := &fakeAuthenticator{token: "tok", sessionUser: "listener"}

	// The browser: follow the authorization page back to the callback.
	open := func(raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		q := u.Query()
		resp, err := http.Get(q.Get("cb") + "?token=" + q.Get("token"))
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	user, key, err := Login(context.Background(), auth, "127.0.0.1:0", open)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user != "listener" || key != "session-tok" {
		t.Errorf("Login() = (%q, %q), want (listener, session-tok)", user, key)
	}
	if auth.authorized != "tok" {
		t.Errorf("session requested for %q, want tok", auth.authorized)
	}
}

func TestLogin_Failures(t *testing.T) {
	t.Run("token request", func(t *testing.T) {
		auth := &fakeAuthenticator{tokenErr: errors.New("boom")}
		_, _, err := Login(context.Background(), auth, "127.0.0.1:0", func(string) error { return nil })
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("browser", func(t *testing.T) {
		auth := &fakeAuthenticator{token: "tok"}
		_, _, err := Login(context.Background(), auth, "127.0.0.1:0", func(string) error { return errors.New("no browser") })
		if err == nil || !strings.Contains(err.Error(), "open authorization page") {
			t.Errorf("err = %v, want open failure", err)
		}
	})
}

func TestClient_GetAuthURL(t *testing.T) {
	c := New("key", "secret")

	got, err := url.Parse(c.GetAuthURL("tok", "http://127.0.0.1:9847/callback"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Host != "www.last.fm" || got.Path != "/api/auth/" {
		t.Errorf("url = %v, want the Last.fm auth page", got)
	}
	q := got.Query()
	if q.Get("api_key") != "key" || q.Get("token") != "tok" || q.Get("cb") != "http://127.0.0.1:9847/callback" {
		t.Errorf("query = %v", q)
	}

	if strings.Contains(c.GetAuthURL("tok", ""), "cb=") {
		t.Error("empty callback should be omitted")
	}
}

func TestClient_RequiresSession(t *testing.T) {
	c := New("key", "secret")
	if c.IsAuthenticated() {
		t.Fatal("new client should not be authenticated")
	}

	if err := c.Scrobble(ScrobbleTrack{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Scrobble() = %v, want ErrNotAuthenticated", err)
	}
	if err := c.UpdateNowPlaying(ScrobbleTrack{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("UpdateNowPlaying() = %v, want ErrNotAuthenticated", err)
	}

	c.SetSessionKey("sk")
	if !c.IsAuthenticated() || c.SessionKey() != "sk" {
		t.Error("session key not applied")
	}
}
