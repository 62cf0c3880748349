package spotify

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenRecord is one response from the token endpoint. Records are replaced,
// never modified.
type TokenRecord struct {
	AccessToken string
	// RefreshToken is empty when the server did not issue a new one.
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// HasRefreshToken reports whether the response carried a refresh token.
func (r *TokenRecord) HasRefreshToken() bool {
	return r != nil && r.RefreshToken != ""
}

// OAuth2Token converts the record for use with golang.org/x/oauth2 clients.
func (r *TokenRecord) OAuth2Token() *oauth2.Token {
	if r == nil {
		return nil
	}
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    tokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.ExpiresAt,
	}
	return tok.WithExtra(map[string]any{"scope": r.Scope})
}
