package spotify

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/spotifyauth/tokenkeeper/internal/config"
)

func newTestAuth(t *testing.T, tokenURL string) *SpotifyAuth {
	t.Helper()
	cfg := &config.Config{
		RedirectURI: "http://localhost:8888/callback",
		Scopes:      []string{"user-read-private", "user-read-email"},
		AuthURL:     config.DefaultAuthURL,
		TokenURL:    tokenURL,
	}
	creds := config.ClientCredentials{ClientID: "client-id", ClientSecret: "client-secret"}
	auth := NewSpotifyAuthWithClient(cfg, creds, &http.Client{Timeout: 5 * time.Second})
	auth.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return auth
}

func TestGenerateAuthURL(t *testing.T) {
	auth := newTestAuth(t, config.DefaultTokenURL)

	want := "https://accounts.spotify.com/authorize?response_type=code&client_id=client-id" +
		"&scope=user-read-private%20user-read-email" +
		"&redirect_uri=http%3A%2F%2Flocalhost%3A8888%2Fcallback&show_dialog=TRUE"
	if got := auth.GenerateAuthURL(""); got != want {
		t.Fatalf("GenerateAuthURL() =\n%s\nwant\n%s", got, want)
	}
	if got := auth.GenerateAuthURL("a b&c"); got != want+"&state=a%20b%26c" {
		t.Fatalf("GenerateAuthURL(state) = %s", got)
	}
}

func TestExchangeCodeForTokens(t *testing.T) {
	var gotForm url.Values
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		gotForm, _ = url.ParseQuery(string(body))
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT1","token_type":"Bearer","scope":"user-read-private","expires_in":3600,"refresh_token":"RT1"}`))
	}))
	defer srv.Close()

	auth := newTestAuth(t, srv.URL)
	record, err := auth.ExchangeCodeForTokens(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotForm.Get("grant_type") != "authorization_code" || gotForm.Get("code") != "abc123" ||
		gotForm.Get("redirect_uri") != "http://localhost:8888/callback" {
		t.Fatalf("unexpected form %v", gotForm)
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
	if gotAuth != wantAuth {
		t.Fatalf("Authorization = %q, want %q", gotAuth, wantAuth)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("Content-Type = %q", gotContentType)
	}
	if record.AccessToken != "AT1" || record.RefreshToken != "RT1" {
		t.Fatalf("unexpected record %+v", record)
	}
	if !record.ExpiresAt.Equal(time.Unix(1_700_003_600, 0)) {
		t.Fatalf("ExpiresAt = %v", record.ExpiresAt)
	}
}

func TestRefreshTokensForm(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.PostForm
		_, _ = w.Write([]byte(`{"access_token":"AT2","token_type":"Bearer","scope":"user-read-private","expires_in":3600}`))
	}))
	defer srv.Close()

	record, err := newTestAuth(t, srv.URL).RefreshTokens(context.Background(), "RT1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotForm.Get("grant_type") != "refresh_token" || gotForm.Get("refresh_token") != "RT1" {
		t.Fatalf("unexpected form %v", gotForm)
	}
	if gotForm.Has("code") || gotForm.Has("redirect_uri") {
		t.Fatalf("refresh form carries exchange fields: %v", gotForm)
	}
	if record.HasRefreshToken() {
		t.Fatalf("expected no refresh token, got %q", record.RefreshToken)
	}
}

func TestRequestTokenFailures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantKind FailureKind
		status   int
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantKind: KindServerError,
			status:   http.StatusInternalServerError,
		},
		{
			name: "invalid grant",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid refresh token"}`))
			},
			wantKind: KindServerError,
			status:   http.StatusBadRequest,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"access_token":42}`))
			},
			wantKind: KindDecodingError,
		},
		{
			name:     "empty body",
			handler:  func(w http.ResponseWriter, r *http.Request) {},
			wantKind: KindNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestAuth(t, srv.URL).RefreshTokens(context.Background(), "RT1")
			failure, ok := errors.AsType[*AuthFailure](err)
			if !ok {
				t.Fatalf("expected *AuthFailure, got %T: %v", err, err)
			}
			if failure.Kind != tt.wantKind || failure.StatusCode != tt.status {
				t.Fatalf("failure = %+v", failure)
			}
		})
	}
}

func TestRequestTokenEmptyBodyMatchesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := newTestAuth(t, srv.URL).ExchangeCodeForTokens(context.Background(), "abc123")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrDecoding) {
		t.Fatalf("empty body matched another kind: %v", err)
	}
}

func TestRequestTokenOAuthErrorCause(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid refresh token"}`))
	}))
	defer srv.Close()

	_, err := newTestAuth(t, srv.URL).RefreshTokens(context.Background(), "RT1")
	oauthErr, ok := errors.AsType[*OAuthError](err)
	if !ok || oauthErr.Code != "invalid_grant" {
		t.Fatalf("expected OAuthError cause, got %v", err)
	}
}

func TestRequestTokenNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tokenURL := srv.URL
	srv.Close()

	_, err := newTestAuth(t, tokenURL).ExchangeCodeForTokens(context.Background(), "abc123")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected networkError, got %v", err)
	}
}

func TestRequestTokenTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	auth := newTestAuth(t, srv.URL)
	auth.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := auth.RefreshTokens(context.Background(), "RT1")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected networkError on timeout, got %v", err)
	}
}

func TestRequestTokenInvalidURL(t *testing.T) {
	_, err := newTestAuth(t, "::not a url").RefreshTokens(context.Background(), "RT1")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected invalidURL, got %v", err)
	}
}
