package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/util"
	"github.com/spotifyauth/tokenkeeper/internal/webapi"
	sdkAuth "github.com/spotifyauth/tokenkeeper/sdk/auth"
)

// DoStatus prints what the secret store holds without touching the network.
func DoStatus(ctx context.Context, manager *sdkAuth.Manager, storeDescription string) {
	cache := manager.Cache()
	fmt.Printf("Secret store: %s\n", storeDescription)

	token, ok := cache.CurrentAccessToken(ctx)
	if !ok {
		fmt.Println("Not signed in.")
		return
	}
	fmt.Printf("Access token: %s\n", util.MaskSecret(token))
	if refresh, okRefresh := cache.StoredRefreshToken(ctx); okRefresh {
		fmt.Printf("Refresh token: %s\n", util.MaskSecret(refresh))
	} else {
		fmt.Println("Refresh token: none")
	}
	if expiresAt, okExpiry := cache.ExpiresAt(ctx); okExpiry {
		fmt.Printf("Expires: %s (in %s)\n", expiresAt.Local().Format(time.RFC3339), time.Until(expiresAt).Round(time.Second))
	} else {
		fmt.Println("Expires: unknown")
	}
	if manager.IsSignedIn(ctx) {
		fmt.Println("Status: signed in")
	} else {
		fmt.Println("Status: token expiring; it will be refreshed on next use")
	}
}

// DoPrintToken prints a valid access token, refreshing it first when needed.
func DoPrintToken(ctx context.Context, manager *sdkAuth.Manager) bool {
	token, err := manager.ValidToken(ctx)
	if err != nil {
		log.Error(spotify.GetUserFriendlyMessage(err))
		log.Debugf("token unavailable: %v", err)
		return false
	}
	fmt.Println(token)
	return true
}

// DoProfile fetches and prints the signed-in user's profile.
func DoProfile(ctx context.Context, cfg *config.Config, manager *sdkAuth.Manager) bool {
	client := webapi.NewClient(cfg, manager)
	profile, err := client.CurrentUserProfile(ctx)
	if err != nil {
		if _, ok := errors.AsType[*webapi.APIError](err); ok {
			log.Errorf("profile request failed: %v", err)
		} else {
			log.Error(spotify.GetUserFriendlyMessage(err))
			log.Debugf("profile request failed: %v", err)
		}
		return false
	}
	fmt.Printf("User: %s (%s)\n", profile.DisplayName, profile.ID)
	if profile.Email != "" {
		fmt.Printf("Email: %s\n", profile.Email)
	}
	if profile.Country != "" || profile.Product != "" {
		fmt.Printf("Country: %s, plan: %s\n", profile.Country, profile.Product)
	}
	fmt.Printf("Followers: %d\n", profile.Followers)
	return true
}
