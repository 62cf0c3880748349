// events.go implements fsnotify event handling for the config and secrets files.
// The parent directories are watched so editors that save by rename keep working.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) start(ctx context.Context) error {
	dirs := []string{filepath.Dir(w.configPath)}
	if w.secretsPath != "" {
		if dir := filepath.Dir(w.secretsPath); normalizePath(dir) != normalizePath(dirs[0]) {
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		if errAdd := w.watcher.Add(dir); errAdd != nil {
			log.Errorf("failed to watch directory %s: %v", dir, errAdd)
			return errAdd
		}
		log.Debugf("watching directory: %s", dir)
	}
	if hash, err := fileHash(w.secretsPath); err == nil {
		w.mu.Lock()
		w.lastSecretsHash = hash
		w.mu.Unlock()
	}

	go w.processEvents(ctx)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	ops := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	if event.Op&ops == 0 {
		return
	}
	name := normalizePath(event.Name)
	switch {
	case name == normalizePath(w.configPath):
		log.Debugf("config file event: %s", event.Op.String())
		w.scheduleConfigReload()
	case w.secretsPath != "" && name == normalizePath(w.secretsPath):
		if event.Op&fsnotify.Rename != 0 {
			time.Sleep(replaceCheckDelay)
		}
		w.checkSecretsChanged()
	}
}

// checkSecretsChanged fires the secrets callback when the document's content changed.
func (w *Watcher) checkSecretsChanged() {
	hash, err := fileHash(w.secretsPath)
	if err != nil {
		log.Debugf("secrets file unreadable after change: %v", err)
		return
	}
	w.mu.Lock()
	if hash == w.lastSecretsHash {
		w.mu.Unlock()
		return
	}
	w.lastSecretsHash = hash
	callback := w.secretsCallback
	w.mu.Unlock()

	log.Debug("secrets file changed on disk")
	if callback != nil {
		callback()
	}
}

// fileHash returns the hex SHA-256 of a non-empty file.
func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", os.ErrNotExist
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	cleaned := filepath.Clean(trimmed)
	if abs, err := filepath.Abs(cleaned); err == nil {
		cleaned = abs
	}
	if runtime.GOOS == "windows" {
		cleaned = strings.TrimPrefix(cleaned, `\\?\`)
		cleaned = strings.ToLower(cleaned)
	}
	return cleaned
}
