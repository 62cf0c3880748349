package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/logging"
	"github.com/spotifyauth/tokenkeeper/internal/tui"
	"github.com/spotifyauth/tokenkeeper/internal/webapi"
	sdkAuth "github.com/spotifyauth/tokenkeeper/sdk/auth"
)

// DoTUI runs the terminal session monitor. Log output is redirected into its logs
// tab for the duration and restored afterwards.
func DoTUI(ctx context.Context, cfg *config.Config, manager *sdkAuth.Manager, storeDescription string) {
	hook := tui.NewLogHook(2000, &logging.LogFormatter{})
	log.AddHook(hook)
	origLogOutput := log.StandardLogger().Out
	log.SetOutput(io.Discard)
	defer func() {
		log.SetOutput(origLogOutput)
		log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	}()

	api := webapi.NewClient(cfg, manager)
	if err := tui.Run(ctx, manager, api, storeDescription, hook, os.Stdout); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		_, _ = fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
	}
}
