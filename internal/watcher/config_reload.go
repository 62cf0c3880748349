// config_reload.go implements debounced configuration hot reload.
package watcher

import (
	"fmt"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/logging"
	"github.com/spotifyauth/tokenkeeper/internal/util"
)

func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(configReloadDebounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func (w *Watcher) reloadConfigIfChanged() {
	newHash, err := fileHash(w.configPath)
	if err != nil {
		log.Debugf("ignoring config event: %v", err)
		return
	}

	w.mu.RLock()
	currentHash := w.lastConfigHash
	w.mu.RUnlock()

	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}
	log.Infof("config file changed, reloading: %s", w.configPath)
	if w.reloadConfig() {
		w.mu.Lock()
		w.lastConfigHash = newHash
		w.mu.Unlock()
	}
}

// reloadConfig applies the settings that can change at runtime: log level, log
// output and the log directory cap. Everything else takes effect on the next run.
func (w *Watcher) reloadConfig() bool {
	newConfig, errLoadConfig := config.LoadConfig(w.configPath)
	if errLoadConfig != nil {
		log.Errorf("failed to reload config: %v", errLoadConfig)
		return false
	}

	w.mu.Lock()
	oldConfig := w.config
	w.config = newConfig
	callback := w.reloadCallback
	w.mu.Unlock()

	util.SetLogLevel(newConfig)
	if oldConfig == nil || oldConfig.LoggingToFile != newConfig.LoggingToFile || oldConfig.LogsMaxTotalSizeMB != newConfig.LogsMaxTotalSizeMB {
		if err := logging.ConfigureLogOutput(newConfig); err != nil {
			log.Errorf("failed to apply logging settings: %v", err)
		}
	}

	if oldConfig != nil {
		details, restart := describeConfigChanges(oldConfig, newConfig)
		for _, d := range details {
			log.Debugf("  %s", d)
		}
		if len(restart) > 0 {
			log.Warnf("config changes to %v take effect on the next run", restart)
		}
	}

	if callback != nil {
		callback(newConfig)
	}
	return true
}

// describeConfigChanges lists the changed fields, and separately the ones that only
// apply after a restart.
func describeConfigChanges(oldCfg, newCfg *config.Config) (details []string, restart []string) {
	if oldCfg.Debug != newCfg.Debug {
		details = append(details, fmt.Sprintf("debug: %t -> %t", oldCfg.Debug, newCfg.Debug))
	}
	if oldCfg.LoggingToFile != newCfg.LoggingToFile {
		details = append(details, fmt.Sprintf("logging-to-file: %t -> %t", oldCfg.LoggingToFile, newCfg.LoggingToFile))
	}
	if oldCfg.LogsMaxTotalSizeMB != newCfg.LogsMaxTotalSizeMB {
		details = append(details, fmt.Sprintf("logs-max-total-size-mb: %d -> %d", oldCfg.LogsMaxTotalSizeMB, newCfg.LogsMaxTotalSizeMB))
	}
	if oldCfg.ProxyURL != newCfg.ProxyURL {
		details = append(details, fmt.Sprintf("proxy-url: %s -> %s", util.MaskSecret(oldCfg.ProxyURL), util.MaskSecret(newCfg.ProxyURL)))
		restart = append(restart, "proxy-url")
	}
	for name, changed := range map[string]bool{
		"redirect-uri": oldCfg.RedirectURI != newCfg.RedirectURI,
		"scopes":       !slices.Equal(oldCfg.Scopes, newCfg.Scopes),
		"auth-url":     oldCfg.AuthURL != newCfg.AuthURL,
		"token-url":    oldCfg.TokenURL != newCfg.TokenURL,
		"api-base-url": oldCfg.APIBaseURL != newCfg.APIBaseURL,
		"auth-dir":     oldCfg.AuthDir != newCfg.AuthDir,
		"secret-store": oldCfg.SecretStore != newCfg.SecretStore,
	} {
		if changed {
			details = append(details, name+" changed")
			restart = append(restart, name)
		}
	}
	slices.Sort(restart)
	return details, restart
}
