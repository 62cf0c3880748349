// Package auth keeps a signed-in session usable: it caches credentials in a
// SecretStore, hands out access tokens that are not about to expire and runs at
// most one refresh at a time on behalf of every concurrent caller.
package auth

import (
	"context"

	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
)

// TokenExchanger performs the network side of the authorization-code flow.
// *spotify.SpotifyAuth implements it.
type TokenExchanger interface {
	ExchangeCodeForTokens(ctx context.Context, code string) (*spotify.TokenRecord, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*spotify.TokenRecord, error)
}

// AuthURLBuilder produces the consent page URL.
type AuthURLBuilder interface {
	GenerateAuthURL(state string) string
}

// LoginOptions captures knobs for the interactive sign-in flow.
type LoginOptions struct {
	NoBrowser    bool
	CallbackPort int
	// Prompt, when set, lets the user paste the redirect URL if the local callback
	// never arrives (for example over SSH).
	Prompt func(prompt string) (string, error)
}
