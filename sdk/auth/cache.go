package auth

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	"github.com/spotifyauth/tokenkeeper/internal/store"
)

// Keys under which credentials are persisted.
const (
	KeyAccessToken     = "access_token"
	KeyRefreshToken    = "refresh_token"
	KeyTokenExpiration = "token_expiration"
)

// ExpirySkew is how long before the recorded expiry a token is already treated as expired.
const ExpirySkew = 5 * time.Minute

// StoreTimeout bounds each read and each Store call against the SecretStore.
// Remote backends (postgres, object storage, git) are otherwise unbounded.
const StoreTimeout = 30 * time.Second

// TokenCache reads and writes the three credential keys. Each key is written
// independently; an absent access token means signed out whatever else is stored.
type TokenCache struct {
	store   store.SecretStore
	now     func() time.Time
	timeout time.Duration
}

// NewTokenCache wraps s.
func NewTokenCache(s store.SecretStore) *TokenCache {
	return &TokenCache{store: s, now: time.Now, timeout: StoreTimeout}
}

// WithStoreTimeout replaces StoreTimeout for this cache and returns c.
func (c *TokenCache) WithStoreTimeout(d time.Duration) *TokenCache {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *TokenCache) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// WithClock replaces the time source and returns c.
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	if now != nil {
		c.now = now
	}
	return c
}

// CurrentAccessToken returns the stored access token, if any.
func (c *TokenCache) CurrentAccessToken(ctx context.Context) (string, bool) {
	return c.loadString(ctx, KeyAccessToken)
}

// StoredRefreshToken returns the stored refresh token, if any.
func (c *TokenCache) StoredRefreshToken(ctx context.Context) (string, bool) {
	return c.loadString(ctx, KeyRefreshToken)
}

// ExpiresAt returns the stored expiry instant, if any.
func (c *TokenCache) ExpiresAt(ctx context.Context) (time.Time, bool) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	expiresAt, ok, err := store.LoadTime(ctx, c.store, KeyTokenExpiration)
	if err != nil {
		log.WithField("key", KeyTokenExpiration).Warnf("failed to read token expiry: %v", err)
		return time.Time{}, false
	}
	return expiresAt, ok
}

// IsExpiringSoon reports whether no expiry is stored or now+ExpirySkew has reached it.
func (c *TokenCache) IsExpiringSoon(ctx context.Context) bool {
	expiresAt, ok := c.ExpiresAt(ctx)
	if !ok {
		return true
	}
	return !c.now().Add(ExpirySkew).Before(expiresAt)
}

// Store persists record: access token, then refresh token (only when the record
// carries one, so an earlier refresh token survives), then expiry. A crash between
// writes leaves a new access token with an older expiry, which only causes an
// early refresh.
func (c *TokenCache) Store(ctx context.Context, record *spotify.TokenRecord) error {
	if record == nil {
		return nil
	}
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	if err := store.SaveString(ctx, c.store, KeyAccessToken, record.AccessToken); err != nil {
		return err
	}
	if record.HasRefreshToken() {
		if err := store.SaveString(ctx, c.store, KeyRefreshToken, record.RefreshToken); err != nil {
			return err
		}
	}
	return store.SaveTime(ctx, c.store, KeyTokenExpiration, record.ExpiresAt)
}

func (c *TokenCache) loadString(ctx context.Context, key string) (string, bool) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	value, ok, err := store.LoadString(ctx, c.store, key)
	if err != nil {
		log.WithField("key", key).Warnf("failed to read credential: %v", err)
		return "", false
	}
	return value, ok
}
