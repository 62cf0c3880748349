package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	"github.com/spotifyauth/tokenkeeper/internal/browser"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/misc"
	"github.com/spotifyauth/tokenkeeper/internal/util"
	sdkAuth "github.com/spotifyauth/tokenkeeper/sdk/auth"
)

// DoSpotifyLogin runs the interactive sign-in and stores the resulting credentials
// through manager. A busy callback port exits the process with ErrPortInUse.Code.
func DoSpotifyLogin(ctx context.Context, cfg *config.Config, manager *sdkAuth.Manager, options *LoginOptions) {
	if options == nil {
		options = &LoginOptions{}
	}

	promptFn := options.Prompt
	if promptFn == nil {
		promptFn = stdinPrompt()
	}

	authOpts := &sdkAuth.LoginOptions{
		NoBrowser:    browserDisabled(options.NoBrowser, browser.IsAvailable),
		CallbackPort: options.CallbackPort,
		Prompt:       promptFn,
	}

	misc.LogCredentialSeparator()
	defer misc.LogCredentialSeparator()

	authenticator := sdkAuth.NewSpotifyAuthenticator(manager)
	if err := authenticator.Login(ctx, cfg, authOpts); err != nil {
		log.Error(spotify.GetUserFriendlyMessage(err))
		log.Debugf("sign-in failed: %v", err)
		if authErr, ok := errors.AsType[*spotify.AuthenticationError](err); ok && authErr.Type == spotify.ErrPortInUse.Type {
			os.Exit(spotify.ErrPortInUse.Code)
		}
		return
	}

	if token, ok := manager.Cache().CurrentAccessToken(ctx); ok {
		fmt.Printf("Signed in; access token %s stored\n", util.MaskSecret(token))
	}
}

// browserDisabled reports whether the consent URL should only be printed.
func browserDisabled(noBrowser bool, available func() bool) bool {
	if noBrowser {
		return true
	}
	if !available() {
		log.Warn("no web browser found; open the printed URL manually")
		return true
	}
	return false
}
