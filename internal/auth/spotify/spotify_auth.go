// Package spotify implements the Spotify Accounts service side of the OAuth2
// authorization-code flow: building the consent URL, exchanging an authorization
// code, refreshing an access token and the local callback server that receives
// the redirect.
package spotify

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/logging"
	"github.com/spotifyauth/tokenkeeper/internal/util"
)

// RequestTimeout bounds every token endpoint request, connection included.
const RequestTimeout = 30 * time.Second

// maxErrorBody caps how much of a rejected response is kept on the error.
const maxErrorBody = 2048

// SpotifyAuth talks to the Spotify Accounts service. It is safe for concurrent use.
type SpotifyAuth struct {
	authURL     string
	tokenURL    string
	redirectURI string
	scopes      []string
	creds       config.ClientCredentials
	httpClient  *http.Client
	now         func() time.Time
}

// NewSpotifyAuth creates a client using cfg's endpoints, scopes and proxy settings.
func NewSpotifyAuth(cfg *config.Config, creds config.ClientCredentials) *SpotifyAuth {
	return NewSpotifyAuthWithClient(cfg, creds, util.NewHTTPClient(&cfg.SDKConfig, RequestTimeout))
}

// NewSpotifyAuthWithClient is NewSpotifyAuth with a caller supplied HTTP client.
func NewSpotifyAuthWithClient(cfg *config.Config, creds config.ClientCredentials, httpClient *http.Client) *SpotifyAuth {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: RequestTimeout}
	}
	return &SpotifyAuth{
		authURL:     cfg.AuthURL,
		tokenURL:    cfg.TokenURL,
		redirectURI: cfg.RedirectURI,
		scopes:      append([]string(nil), cfg.Scopes...),
		creds:       creds,
		httpClient:  httpClient,
		now:         time.Now,
	}
}

// GenerateAuthURL builds the consent page URL. Parameter order is fixed:
// response_type, client_id, scope, redirect_uri, show_dialog and, when non-empty,
// state. Every value is percent-encoded and scopes are joined with %20.
func (o *SpotifyAuth) GenerateAuthURL(state string) string {
	var b strings.Builder
	b.WriteString(o.authURL)
	b.WriteString("?response_type=code")
	b.WriteString("&client_id=" + escape(o.creds.ClientID))
	b.WriteString("&scope=" + escape(strings.Join(o.scopes, " ")))
	b.WriteString("&redirect_uri=" + escape(o.redirectURI))
	b.WriteString("&show_dialog=TRUE")
	if state != "" {
		b.WriteString("&state=" + escape(state))
	}
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// RedirectURI returns the redirect URI sent with authorization requests.
func (o *SpotifyAuth) RedirectURI() string { return o.redirectURI }

// ExchangeCodeForTokens trades a one-time authorization code for a TokenRecord.
func (o *SpotifyAuth) ExchangeCodeForTokens(ctx context.Context, code string) (*TokenRecord, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {o.redirectURI},
	}
	return o.requestToken(ctx, form)
}

// RefreshTokens obtains a fresh access token. The returned record's RefreshToken is
// empty unless the server rotated it.
func (o *SpotifyAuth) RefreshTokens(ctx context.Context, refreshToken string) (*TokenRecord, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return o.requestToken(ctx, form)
}

func (o *SpotifyAuth) requestToken(ctx context.Context, form url.Values) (*TokenRecord, error) {
	entry := log.WithField("cycle", logging.GetCycleID(ctx))
	grant := form.Get("grant_type")

	endpoint, err := url.Parse(o.tokenURL)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, &AuthFailure{Kind: KindInvalidURL, Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthFailure{Kind: KindInvalidURL, Cause: err}
	}
	req.Header.Set("Authorization", "Basic "+basicCredentials(o.creds))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	entry.Debugf("requesting token (grant_type=%s)", grant)
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, &AuthFailure{Kind: KindNetworkError, Cause: err}
	}
	if resp == nil || resp.Body == nil {
		return nil, ErrInvalidResponse
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			entry.Errorf("failed to close response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthFailure{Kind: KindNetworkError, Cause: fmt.Errorf("read token response: %w", err)}
	}
	issuedAt := o.now()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failure := &AuthFailure{
			Kind:       KindServerError,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
		}
		if oauthErr := parseOAuthError(body, resp.StatusCode); oauthErr != nil {
			failure.Cause = oauthErr
		}
		entry.WithField("status", resp.StatusCode).Debugf("token request rejected (grant_type=%s)", grant)
		return nil, failure
	}
	if len(body) == 0 {
		return nil, ErrNoData
	}

	record, err := ParseTokenResponse(body, issuedAt)
	if err != nil {
		return nil, err
	}
	entry.Debugf("token issued (grant_type=%s, expires %s, refresh token %t)",
		grant, record.ExpiresAt.Format(time.RFC3339), record.HasRefreshToken())
	return record, nil
}

func basicCredentials(creds config.ClientCredentials) string {
	return base64.StdEncoding.EncodeToString([]byte(creds.ClientID + ":" + creds.ClientSecret))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
