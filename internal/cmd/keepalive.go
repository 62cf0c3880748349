package cmd

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	sdkAuth "github.com/spotifyauth/tokenkeeper/sdk/auth"
)

const (
	keepAliveMinWait = 30 * time.Second
	keepAliveMaxWait = 30 * time.Minute
)

// DoKeepAlive keeps the stored session fresh until ctx is done: it asks for a valid
// token whenever the current one enters the refresh window. Failures are logged and
// retried after keepAliveMinWait; a missing sign-in ends the loop.
func DoKeepAlive(ctx context.Context, manager *sdkAuth.Manager) {
	log.Info("keep-alive started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("keep-alive stopped")
			return
		case <-timer.C:
		}

		_, err := manager.ValidToken(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			continue
		case spotify.KindOf(err) == spotify.KindMissingToken, spotify.KindOf(err) == spotify.KindMissingRefreshToken:
			log.Error(spotify.GetUserFriendlyMessage(err))
			return
		default:
			log.Warnf("keep-alive refresh failed: %v", err)
			timer.Reset(keepAliveMinWait)
			continue
		}

		wait := nextKeepAliveCheck(ctx, manager.Cache(), time.Now())
		log.Debugf("keep-alive: next check in %s", wait.Round(time.Second))
		timer.Reset(wait)
	}
}

// nextKeepAliveCheck returns how long until the stored token enters the refresh window,
// clamped to [keepAliveMinWait, keepAliveMaxWait].
func nextKeepAliveCheck(ctx context.Context, cache *sdkAuth.TokenCache, now time.Time) time.Duration {
	expiresAt, ok := cache.ExpiresAt(ctx)
	if !ok {
		return keepAliveMinWait
	}
	wait := expiresAt.Add(-sdkAuth.ExpirySkew).Sub(now)
	if wait < keepAliveMinWait {
		return keepAliveMinWait
	}
	if wait > keepAliveMaxWait {
		return keepAliveMaxWait
	}
	return wait
}
