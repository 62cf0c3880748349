package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/store"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func newLoginFixture(t *testing.T) (*SpotifyAuthenticator, *config.Config, *TokenCache) {
	t.Helper()
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "abc123" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"AT1","token_type":"Bearer","scope":"user-read-private","expires_in":3600,"refresh_token":"RT1"}`))
	}))
	t.Cleanup(tokenServer.Close)

	cfg := &config.Config{
		RedirectURI: fmt.Sprintf("http://127.0.0.1:%d/callback", freePort(t)),
		Scopes:      []string{config.DefaultScope},
		AuthURL:     config.DefaultAuthURL,
		TokenURL:    tokenServer.URL,
	}
	client := spotify.NewSpotifyAuthWithClient(cfg, config.ClientCredentials{ClientID: "id", ClientSecret: "secret"}, tokenServer.Client())
	cache := NewTokenCache(store.NewMemoryStore())
	return NewSpotifyAuthenticator(NewManager(cache, client, client)), cfg, cache
}

// redirectBrowser plays the browser: it reads the state from the consent URL and
// hits the callback with the query built by params.
func redirectBrowser(t *testing.T, cfg *config.Config, params func(state string) url.Values) func(string) error {
	return func(authURL string) error {
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		state := parsed.Query().Get("state")
		if state == "" {
			t.Errorf("consent URL has no state: %s", authURL)
		}
		resp, err := http.Get(cfg.RedirectURI + "?" + params(state).Encode())
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}

func TestLoginStoresCredentials(t *testing.T) {
	authenticator, cfg, cache := newLoginFixture(t)
	authenticator.OpenURL = redirectBrowser(t, cfg, func(state string) url.Values {
		return url.Values{"code": {"abc123"}, "state": {state}}
	})

	if err := authenticator.Login(context.Background(), cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	if token, _ := cache.CurrentAccessToken(ctx); token != "AT1" {
		t.Fatalf("access token = %q", token)
	}
	if refresh, _ := cache.StoredRefreshToken(ctx); refresh != "RT1" {
		t.Fatalf("refresh token = %q", refresh)
	}
	if !authenticator.Manager.IsSignedIn(ctx) {
		t.Fatal("expected signed in")
	}
}

func TestLoginRejectsStateMismatch(t *testing.T) {
	authenticator, cfg, cache := newLoginFixture(t)
	authenticator.OpenURL = redirectBrowser(t, cfg, func(string) url.Values {
		return url.Values{"code": {"abc123"}, "state": {"forged"}}
	})

	err := authenticator.Login(context.Background(), cfg, nil)
	authErr, ok := errors.AsType[*spotify.AuthenticationError](err)
	if !ok || authErr.Type != spotify.ErrInvalidState.Type {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	if _, ok = cache.CurrentAccessToken(context.Background()); ok {
		t.Fatal("no credentials should be stored")
	}
}

func TestLoginReportsProviderError(t *testing.T) {
	authenticator, cfg, _ := newLoginFixture(t)
	authenticator.OpenURL = redirectBrowser(t, cfg, func(state string) url.Values {
		return url.Values{"error": {"access_denied"}, "state": {state}}
	})

	err := authenticator.Login(context.Background(), cfg, nil)
	oauthErr, ok := errors.AsType[*spotify.OAuthError](err)
	if !ok || oauthErr.Code != "access_denied" {
		t.Fatalf("expected access_denied, got %v", err)
	}
}

func TestLoginWrapsExchangeFailure(t *testing.T) {
	authenticator, cfg, _ := newLoginFixture(t)
	authenticator.OpenURL = redirectBrowser(t, cfg, func(state string) url.Values {
		return url.Values{"code": {"expired"}, "state": {state}}
	})

	err := authenticator.Login(context.Background(), cfg, nil)
	authErr, ok := errors.AsType[*spotify.AuthenticationError](err)
	if !ok || authErr.Type != spotify.ErrCodeExchangeFailed.Type {
		t.Fatalf("expected code_exchange_failed, got %v", err)
	}
	if !errors.Is(err, spotify.ServerError(http.StatusBadRequest)) {
		t.Fatalf("expected serverError(400) cause, got %v", err)
	}
}

func TestLoginPortInUse(t *testing.T) {
	authenticator, cfg, _ := newLoginFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	if err = cfg.SetCallbackPort(port); err != nil {
		t.Fatalf("SetCallbackPort: %v", err)
	}
	opts := &LoginOptions{NoBrowser: true, CallbackPort: port}
	err = authenticator.Login(context.Background(), cfg, opts)
	authErr, ok := errors.AsType[*spotify.AuthenticationError](err)
	if !ok || authErr.Type != spotify.ErrPortInUse.Type {
		t.Fatalf("expected port_in_use, got %v", err)
	}
}

func TestLoginRejectsCallbackPortMismatch(t *testing.T) {
	authenticator, cfg, _ := newLoginFixture(t)
	opened := false
	authenticator.OpenURL = func(string) error {
		opened = true
		return nil
	}

	opts := &LoginOptions{CallbackPort: cfg.CallbackPort() + 1}
	if err := authenticator.Login(context.Background(), cfg, opts); err == nil {
		t.Fatal("expected an error for a callback port the redirect URI does not name")
	}
	if opened {
		t.Fatal("consent page opened despite the port mismatch")
	}
}

func TestLoginHonoursContext(t *testing.T) {
	authenticator, cfg, _ := newLoginFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	authenticator.OpenURL = func(string) error {
		cancel()
		return nil
	}
	if err := authenticator.Login(ctx, cfg, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
