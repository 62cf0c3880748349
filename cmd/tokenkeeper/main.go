// Package main provides the tokenkeeper command: it signs in to Spotify with the
// Authorization Code flow, keeps the resulting credentials in a secret store and
// hands out access tokens that are refreshed before they expire.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/buildinfo"
	"github.com/spotifyauth/tokenkeeper/internal/cmd"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/logging"
	"github.com/spotifyauth/tokenkeeper/internal/misc"
	"github.com/spotifyauth/tokenkeeper/internal/util"
	"github.com/spotifyauth/tokenkeeper/internal/watcher"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var login bool
	var noBrowser bool
	var oauthCallbackPort int
	var configPath string
	var status bool
	var profile bool
	var printToken bool
	var keepAlive bool
	var showVersion bool
	var tuiMode bool

	flag.BoolVar(&login, "login", false, "Sign in to Spotify using OAuth")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.IntVar(&oauthCallbackPort, "oauth-callback-port", 0, "Override OAuth callback port (defaults to the redirect URI port)")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&status, "status", false, "Show the stored credentials")
	flag.BoolVar(&profile, "profile", false, "Fetch the signed-in user's profile")
	flag.BoolVar(&printToken, "token", false, "Print a valid access token, refreshing it if needed")
	flag.BoolVar(&keepAlive, "keepalive", false, "Keep the session fresh until interrupted")
	flag.BoolVar(&tuiMode, "tui", false, "Start the terminal session monitor")
	flag.BoolVar(&showVersion, "version", false, "Print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("tokenkeeper Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := configPath
	if configFilePath == "" {
		configFilePath = filepath.Join(wd, "config.yaml")
		if created, errTemplate := misc.WriteConfigTemplate(configFilePath, []byte(config.ExampleConfig)); errTemplate != nil {
			log.Warnf("failed to write config template: %v", errTemplate)
		} else if created {
			log.Infof("wrote default configuration to %s", configFilePath)
		}
	}
	if migrated, errMigrate := config.MigrateLegacyScope(configFilePath); errMigrate != nil {
		log.Warnf("failed to migrate legacy scope setting: %v", errMigrate)
	} else if migrated {
		log.Infof("migrated legacy scope setting in %s", configFilePath)
	}

	cfg, err := config.LoadConfigOptional(configFilePath, configPath == "")
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	cmd.ApplyStoreEnvOverrides(cfg)
	if oauthCallbackPort > 0 {
		if errPort := cfg.SetCallbackPort(oauthCallbackPort); errPort != nil {
			log.Errorf("invalid -oauth-callback-port: %v", errPort)
			os.Exit(1)
		}
		log.Infof("redirect URI overridden to %s; it must be registered for the client", cfg.RedirectURI)
	}

	if resolvedAuthDir, errResolveAuthDir := util.ResolveAuthDir(cfg.AuthDir); errResolveAuthDir != nil {
		log.Errorf("failed to resolve auth directory: %v", errResolveAuthDir)
		os.Exit(1)
	} else {
		cfg.AuthDir = resolvedAuthDir
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}
	util.SetLogLevel(cfg)
	log.Debugf("tokenkeeper Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	creds, err := config.LoadClientCredentials()
	if err != nil {
		log.Fatalf("%v (set them in the environment or in %s)", err, filepath.Join(wd, ".env"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secrets, err := cmd.OpenSecretStore(ctx, cfg)
	if err != nil {
		log.Errorf("failed to open secret store: %v", err)
		os.Exit(1)
	}
	defer func() {
		if errClose := secrets.Close(); errClose != nil {
			log.Warnf("failed to close secret store: %v", errClose)
		}
	}()

	manager := cmd.NewAuthManager(cfg, creds, secrets.Store)

	if login || keepAlive || tuiMode {
		configWatcher, errWatcher := watcher.NewWatcher(configFilePath, secrets.FilePath, nil)
		if errWatcher != nil {
			log.Warnf("config watcher unavailable: %v", errWatcher)
		} else {
			configWatcher.SetConfig(cfg)
			configWatcher.OnSecretsChanged(func() {
				log.Info("stored credentials changed on disk")
			})
			if errStart := configWatcher.Start(ctx); errStart != nil {
				log.Warnf("config watcher unavailable: %v", errStart)
			}
			defer func() {
				_ = configWatcher.Stop()
			}()
		}
	}

	options := &cmd.LoginOptions{
		NoBrowser:    noBrowser,
		CallbackPort: oauthCallbackPort,
	}

	exitCode := 0
	switch {
	case login:
		cmd.DoSpotifyLogin(ctx, cfg, manager, options)
	case printToken:
		if !cmd.DoPrintToken(ctx, manager) {
			exitCode = 1
		}
	case profile:
		if !cmd.DoProfile(ctx, cfg, manager) {
			exitCode = 1
		}
	case keepAlive:
		cmd.DoKeepAlive(ctx, manager)
	case tuiMode:
		cmd.DoTUI(ctx, cfg, manager, secrets.Description)
	default:
		cmd.DoStatus(ctx, manager, secrets.Description)
		if !status {
			fmt.Println("Run with -login to sign in, -token to print an access token or -h for all options.")
		}
	}
	if exitCode != 0 {
		_ = secrets.Close()
		os.Exit(exitCode)
	}
}
