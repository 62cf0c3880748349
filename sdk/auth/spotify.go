package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	"github.com/spotifyauth/tokenkeeper/internal/browser"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/misc"
)

const (
	callbackWaitTimeout = 5 * time.Minute
	manualPromptDelay   = 15 * time.Second
)

// SpotifyAuthenticator runs the interactive sign-in: it opens the consent page,
// waits for the redirect on a local callback server (or a pasted URL) and hands the
// authorization code to the Manager.
type SpotifyAuthenticator struct {
	Manager *Manager
	// OpenURL launches the browser. Defaults to browser.OpenURL.
	OpenURL func(string) error
}

// NewSpotifyAuthenticator creates an authenticator that signs in through m.
func NewSpotifyAuthenticator(m *Manager) *SpotifyAuthenticator {
	return &SpotifyAuthenticator{Manager: m, OpenURL: browser.OpenURL}
}

// Login performs the full sign-in and stores the resulting credentials.
func (a *SpotifyAuthenticator) Login(ctx context.Context, cfg *config.Config, opts *LoginOptions) error {
	if cfg == nil {
		return fmt.Errorf("spotify auth: configuration is required")
	}
	if a.Manager == nil {
		return fmt.Errorf("spotify auth: manager is required")
	}
	if opts == nil {
		opts = &LoginOptions{}
	}

	// The provider redirects to the registered redirect URI, so the listener must
	// bind the port that URI names. Use config.SetCallbackPort to move both.
	callbackPort := cfg.CallbackPort()
	if opts.CallbackPort > 0 && opts.CallbackPort != callbackPort {
		return fmt.Errorf("spotify auth: callback port %d does not match redirect URI %s", opts.CallbackPort, cfg.RedirectURI)
	}

	state, err := misc.GenerateRandomState()
	if err != nil {
		return fmt.Errorf("spotify state generation failed: %w", err)
	}

	oauthServer := spotify.NewOAuthServer(callbackPort, cfg.CallbackPath())
	if err = oauthServer.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if stopErr := oauthServer.Stop(stopCtx); stopErr != nil {
			log.Warnf("spotify oauth server stop error: %v", stopErr)
		}
	}()

	authURL := a.Manager.SignInURL(state)
	a.presentURL(authURL, opts.NoBrowser)

	fmt.Println("Waiting for Spotify authentication callback...")
	result, manualDescription, err := a.awaitCallback(ctx, oauthServer, cfg.RedirectURI, opts.Prompt)
	if err != nil {
		return err
	}

	if result.Error != "" {
		description := result.ErrorDescription
		if description == "" {
			description = manualDescription
		}
		return spotify.NewOAuthError(result.Error, description, http.StatusBadRequest)
	}
	if result.State != state {
		log.Errorf("State mismatch: expected %s, got %s", state, result.State)
		return spotify.NewAuthenticationError(spotify.ErrInvalidState, fmt.Errorf("state mismatch"))
	}

	log.Debug("Spotify authorization code received; exchanging for tokens")
	if err = a.Manager.Exchange(ctx, result.Code); err != nil {
		log.Errorf("Token exchange failed: %v", err)
		return spotify.NewAuthenticationError(spotify.ErrCodeExchangeFailed, err)
	}
	fmt.Println("Spotify authentication successful")
	return nil
}

func (a *SpotifyAuthenticator) presentURL(authURL string, noBrowser bool) {
	if !noBrowser {
		fmt.Println("Opening browser for Spotify authentication")
		openURL := a.OpenURL
		if openURL == nil {
			openURL = browser.OpenURL
		}
		if err := openURL(authURL); err == nil {
			return
		} else {
			log.Warnf("Failed to open browser automatically: %v", err)
		}
	}
	if err := browser.CopyURL(authURL); err == nil {
		fmt.Println("The authorization URL has been copied to your clipboard.")
	} else {
		log.Debugf("clipboard unavailable: %v", err)
	}
	fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
}

// awaitCallback waits for the local redirect. When prompt is set and nothing has
// arrived after manualPromptDelay, the user may paste the redirect URL instead.
func (a *SpotifyAuthenticator) awaitCallback(ctx context.Context, server *spotify.OAuthServer, redirectURI string, prompt func(string) (string, error)) (*spotify.OAuthResult, string, error) {
	if prompt == nil {
		result, err := server.WaitForCallback(ctx, callbackWaitTimeout)
		return result, "", err
	}

	deadline := time.NewTimer(callbackWaitTimeout)
	defer deadline.Stop()

	manualTimer := time.NewTimer(manualPromptDelay)
	defer manualTimer.Stop()
	manualC := manualTimer.C

	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case result := <-server.Results():
			return result, "", nil
		case err := <-server.Errors():
			return nil, "", err
		case <-deadline.C:
			return nil, "", spotify.NewAuthenticationError(spotify.ErrCallbackTimeout, nil)
		case <-manualC:
			manualC = nil
			select {
			case result := <-server.Results():
				return result, "", nil
			default:
			}
			input, errPrompt := prompt("Paste the Spotify redirect URL (or press Enter to keep waiting): ")
			if errPrompt != nil {
				return nil, "", errPrompt
			}
			if strings.Contains(input, "://") && !misc.HasRedirectPrefix(input, redirectURI) {
				return nil, "", spotify.NewAuthenticationError(spotify.ErrInvalidRedirect, fmt.Errorf("got %s", input))
			}
			parsed, errParse := misc.ParseOAuthCallback(input)
			if errParse != nil {
				return nil, "", errParse
			}
			if parsed == nil {
				continue
			}
			return &spotify.OAuthResult{
				Code:  parsed.Code,
				State: parsed.State,
				Error: parsed.Error,
			}, parsed.ErrorDescription, nil
		}
	}
}
