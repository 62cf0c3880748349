package cmd

import (
	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/store"
	sdkAuth "github.com/spotifyauth/tokenkeeper/sdk/auth"
)

// NewAuthManager wires the token manager: a cache over secrets and the token
// endpoint client built from cfg and creds.
func NewAuthManager(cfg *config.Config, creds config.ClientCredentials, secrets store.SecretStore) *sdkAuth.Manager {
	client := spotify.NewSpotifyAuth(cfg, creds)
	return sdkAuth.NewManager(sdkAuth.NewTokenCache(secrets), client, client)
}
