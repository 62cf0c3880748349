package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	"github.com/spotifyauth/tokenkeeper/internal/logging"
	"golang.org/x/oauth2"
)

// TokenResult is the outcome delivered to a token request.
type TokenResult struct {
	AccessToken string
	Err         error
}

// Manager hands out valid access tokens. When the cached token is missing or close
// to expiry it refreshes it, running at most one refresh at a time: callers arriving
// while a refresh is in flight are queued and released in arrival order with that
// refresh's outcome.
//
// Build one Manager per credential set and share it; it holds no global state.
type Manager struct {
	cache  *TokenCache
	client TokenExchanger
	urls   AuthURLBuilder

	mu         sync.Mutex
	refreshing bool
	cycleID    string
	waiters    []func(TokenResult)
	// epoch advances once a code exchange has written its credentials, so a
	// refresh that started earlier does not overwrite them.
	epoch uint64

	// writeMu serializes credential writes. It is never taken while holding mu,
	// and store writes never run under mu, so a slow backend delays only the
	// outcome of a refresh, never a caller of WithValidToken.
	writeMu sync.Mutex
}

// NewManager wires a Manager. urls may be nil when sign-in URLs are not needed.
func NewManager(cache *TokenCache, client TokenExchanger, urls AuthURLBuilder) *Manager {
	return &Manager{cache: cache, client: client, urls: urls}
}

// Cache exposes the underlying token cache.
func (m *Manager) Cache() *TokenCache { return m.cache }

// WithValidToken calls fn exactly once, on another goroutine, with either a token
// that is not about to expire or the reason none is available. It never blocks.
// ctx scopes store reads and logging; cancelling it does not abort a refresh other
// callers may be waiting on.
func (m *Manager) WithValidToken(ctx context.Context, fn func(token string, err error)) {
	m.acquire(ctx, func(r TokenResult) { fn(r.AccessToken, r.Err) })
}

// Acquire is WithValidToken in channel form. The channel receives exactly one value.
func (m *Manager) Acquire(ctx context.Context) <-chan TokenResult {
	ch := make(chan TokenResult, 1)
	m.acquire(ctx, func(r TokenResult) { ch <- r })
	return ch
}

// ValidToken blocks until a token is available or ctx is done.
func (m *Manager) ValidToken(ctx context.Context) (string, error) {
	select {
	case r := <-m.Acquire(ctx):
		return r.AccessToken, r.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) acquire(ctx context.Context, deliver func(TokenResult)) {
	m.mu.Lock()

	if m.refreshing {
		m.waiters = append(m.waiters, deliver)
		cycle, queued := m.cycleID, len(m.waiters)
		m.mu.Unlock()
		log.WithFields(log.Fields{"cycle": cycle, "waiters": queued}).Debug("refresh in flight, request queued")
		return
	}

	accessToken, hasAccess := m.cache.CurrentAccessToken(ctx)
	if hasAccess && !m.cache.IsExpiringSoon(ctx) {
		m.mu.Unlock()
		go deliver(TokenResult{AccessToken: accessToken})
		return
	}

	refreshToken, hasRefresh := m.cache.StoredRefreshToken(ctx)
	if !hasRefresh {
		m.mu.Unlock()
		err := error(spotify.ErrMissingRefreshToken)
		if !hasAccess {
			err = spotify.ErrMissingToken
		}
		go deliver(TokenResult{Err: err})
		return
	}

	cycle := uuid.NewString()
	m.refreshing = true
	m.cycleID = cycle
	m.waiters = []func(TokenResult){deliver}
	epoch := m.epoch
	m.mu.Unlock()

	log.WithField("cycle", cycle).Debug("access token missing or expiring, refreshing")
	go m.runRefresh(logging.WithCycleID(context.WithoutCancel(ctx), cycle), cycle, epoch, refreshToken)
}

// runRefresh performs one refresh cycle and releases every queued caller. Callers
// arriving while the result is being persisted still queue on this cycle.
func (m *Manager) runRefresh(ctx context.Context, cycle string, epoch uint64, refreshToken string) {
	entry := log.WithField("cycle", cycle)
	record, err := m.client.RefreshTokens(ctx, refreshToken)

	var result TokenResult
	if err != nil {
		result.Err = err
		entry.WithField("kind", spotify.KindOf(err)).Warnf("token refresh failed: %v", err)
	} else {
		result.AccessToken = record.AccessToken
		m.persistRefreshed(ctx, entry, epoch, record)
	}

	m.mu.Lock()
	waiters := m.waiters
	m.waiters = nil
	m.refreshing = false
	m.cycleID = ""
	m.mu.Unlock()

	entry.WithField("waiters", len(waiters)).Debug("refresh cycle finished")
	for _, deliver := range waiters {
		deliver(result)
	}
}

func (m *Manager) persistRefreshed(ctx context.Context, entry *log.Entry, epoch uint64, record *spotify.TokenRecord) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	stale := m.epoch != epoch
	m.mu.Unlock()
	if stale {
		entry.Info("credentials replaced by a new sign-in during refresh; refreshed token not persisted")
		return
	}
	if errStore := m.cache.Store(ctx, record); errStore != nil {
		entry.Errorf("refreshed token could not be persisted: %v", errStore)
	}
}

// SignInURL returns the consent page URL for state.
func (m *Manager) SignInURL(state string) string {
	if m.urls == nil {
		return ""
	}
	return m.urls.GenerateAuthURL(state)
}

// ExchangeCodeForToken exchanges code on another goroutine and reports the outcome
// through completion. On success the new credentials are persisted first.
func (m *Manager) ExchangeCodeForToken(ctx context.Context, code string, completion func(error)) {
	go func() {
		err := m.Exchange(ctx, code)
		if completion != nil {
			completion(err)
		}
	}()
}

// Exchange is the blocking form of ExchangeCodeForToken.
func (m *Manager) Exchange(ctx context.Context, code string) error {
	record, err := m.client.ExchangeCodeForTokens(ctx, code)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	errStore := m.cache.Store(ctx, record)
	// Bumped even after a failed write: some keys may already hold the new credentials.
	m.mu.Lock()
	m.epoch++
	m.mu.Unlock()
	if errStore != nil {
		return fmt.Errorf("persist credentials: %w", errStore)
	}
	log.Info("signed in, credentials stored")
	return nil
}

// IsSignedIn reports whether a stored access token exists that is not about to expire.
func (m *Manager) IsSignedIn(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cache.CurrentAccessToken(ctx)
	return ok && !m.cache.IsExpiringSoon(ctx)
}

// TokenSource adapts the Manager for oauth2.NewClient. Each Token call goes
// through ValidToken, so refreshes stay single-flight. The reported expiry is moved
// ExpirySkew earlier so oauth2's reuse wrapper asks again once the token enters the
// refresh window.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, m: m}
}

type managerTokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.m.ValidToken(s.ctx)
	if err != nil {
		return nil, err
	}
	record := &spotify.TokenRecord{AccessToken: token}
	if expiresAt, ok := s.m.cache.ExpiresAt(s.ctx); ok {
		record.ExpiresAt = expiresAt.Add(-ExpirySkew)
	}
	return record.OAuth2Token(), nil
}
