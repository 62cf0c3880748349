// Package watcher watches the configuration file and the on-disk secrets document
// and applies changes while a command is running.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/config"
)

// Watcher reloads the configuration when config.yaml changes and reports writes to
// the secrets file made by other processes.
type Watcher struct {
	configPath  string
	secretsPath string

	mu              sync.RWMutex
	config          *config.Config
	lastConfigHash  string
	lastSecretsHash string

	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer

	reloadCallback  func(*config.Config)
	secretsCallback func()
	watcher         *fsnotify.Watcher
}

const (
	configReloadDebounce = 150 * time.Millisecond
	// replaceCheckDelay lets an atomic rename settle before the file is re-read.
	replaceCheckDelay = 50 * time.Millisecond
)

// NewWatcher creates a watcher for configPath. secretsPath may be empty when the
// secret store is not file based.
func NewWatcher(configPath, secretsPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	watcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	return &Watcher{
		configPath:     configPath,
		secretsPath:    secretsPath,
		reloadCallback: reloadCallback,
		watcher:        watcher,
	}, nil
}

// OnSecretsChanged registers fn to run after the secrets file changed on disk.
func (w *Watcher) OnSecretsChanged(fn func()) {
	w.mu.Lock()
	w.secretsCallback = fn
	w.mu.Unlock()
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	return w.start(ctx)
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	return w.watcher.Close()
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
	if hash, err := fileHash(w.configPath); err == nil {
		w.lastConfigHash = hash
	} else {
		log.WithError(err).Debug("config hash unavailable; first change will reload")
	}
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}
