// Package webapi calls the Web API on behalf of the signed-in user. Every request
// obtains its bearer token from the token manager, so a burst of calls made while
// the token is expiring shares a single refresh.
package webapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/util"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// RequestTimeout bounds every API request.
const RequestTimeout = 30 * time.Second

// maxConcurrentFetches caps the goroutines Fetch runs at once.
const maxConcurrentFetches = 8

// TokenProvider hands out valid access tokens. *auth.Manager implements it.
type TokenProvider interface {
	WithValidToken(ctx context.Context, fn func(token string, err error))
	TokenSource(ctx context.Context) oauth2.TokenSource
}

// APIError is returned for non-2xx API responses.
type APIError struct {
	StatusCode int
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("web api %s: status %d: %s", e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("web api %s: status %d", e.Path, e.StatusCode)
}

// UserProfile is the subset of the current user's profile the CLI prints.
type UserProfile struct {
	ID          string
	DisplayName string
	Email       string
	Country     string
	Product     string
	Followers   int64
	ImageURL    string
}

// Client issues authenticated GET requests against the API base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
}

// NewClient builds a client for cfg.APIBaseURL, honouring the configured proxy.
func NewClient(cfg *config.Config, tokens TokenProvider) *Client {
	return NewClientWithHTTP(cfg.APIBaseURL, tokens, util.NewHTTPClient(&cfg.SDKConfig, RequestTimeout))
}

// NewClientWithHTTP builds a client around an existing HTTP client.
func NewClientWithHTTP(baseURL string, tokens TokenProvider, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: RequestTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
	}
}

// CurrentUserProfile fetches GET /me.
func (c *Client) CurrentUserProfile(ctx context.Context) (*UserProfile, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, c.httpClient, "/me", token)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("web api /me: response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	profile := &UserProfile{
		ID:          root.Get("id").String(),
		DisplayName: root.Get("display_name").String(),
		Email:       root.Get("email").String(),
		Country:     root.Get("country").String(),
		Product:     root.Get("product").String(),
		Followers:   root.Get("followers.total").Int(),
		ImageURL:    root.Get("images.0.url").String(),
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("web api /me: response missing id")
	}
	return profile, nil
}

// Fetch GETs every path concurrently and returns the bodies in the order given.
// The first failure cancels the remaining requests.
func (c *Client) Fetch(ctx context.Context, paths ...string) ([][]byte, error) {
	authed := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), c.tokens.TokenSource(ctx))
	authed.Timeout = c.httpClient.Timeout

	results := make([][]byte, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, path := range paths {
		g.Go(func() error {
			body, err := c.get(gctx, authed, path, "")
			if err != nil {
				return err
			}
			results[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// accessToken waits for the token manager, giving up when ctx is done.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	type tokenResult struct {
		token string
		err   error
	}
	ch := make(chan tokenResult, 1)
	c.tokens.WithValidToken(ctx, func(token string, err error) {
		ch <- tokenResult{token: token, err: err}
	})
	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// get performs one GET. When bearer is empty the client is expected to authorize the request itself.
func (c *Client) get(ctx context.Context, httpClient *http.Client, path, bearer string) ([]byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("web api %s: create request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	// Setting Accept-Encoding disables the transport's transparent gzip handling.
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web api %s: execute request: %w", path, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("web api %s: close body error: %v", path, errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("web api %s: read response: %w", path, err)
	}
	if body, err = decodeBody(resp.Header.Get("Content-Encoding"), body); err != nil {
		return nil, fmt.Errorf("web api %s: %w", path, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode, Path: path}
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			apiErr.Message = msg.String()
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		log.WithFields(log.Fields{"path": path, "status": resp.StatusCode}).Debug("web api request rejected")
		return nil, apiErr
	}
	return body, nil
}
