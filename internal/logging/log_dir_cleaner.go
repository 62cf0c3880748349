package logging

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanerInterval = time.Minute

var logDirCleanerCancel context.CancelFunc

type logFile struct {
	path    string
	size    int64
	modTime time.Time
}

func restartLogDirCleanerLocked(logDir string, maxTotalSizeMB int, activePath string) {
	stopLogDirCleanerLocked()

	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return
	}
	maxBytes := int64(maxTotalSizeMB) << 20

	ctx, cancel := context.WithCancel(context.Background())
	logDirCleanerCancel = cancel
	go func() {
		ticker := time.NewTicker(logDirCleanerInterval)
		defer ticker.Stop()
		for {
			if deleted, err := pruneLogDir(filepath.Clean(dir), maxBytes, activePath); err != nil {
				log.WithError(err).Warn("logging: failed to enforce log directory size limit")
			} else if deleted > 0 {
				log.Debugf("logging: removed %d old log file(s)", deleted)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func stopLogDirCleanerLocked() {
	if logDirCleanerCancel != nil {
		logDirCleanerCancel()
		logDirCleanerCancel = nil
	}
}

// listLogFiles returns the regular *.log and *.log.gz files in dir, oldest first.
func listLogFiles(dir string) ([]logFile, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	var (
		files []logFile
		total int64
	)
	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if entry.IsDir() || !(strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".log.gz")) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFile{path: filepath.Join(dir, entry.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	return files, total, nil
}

// pruneLogDir deletes the oldest log files until the directory fits in maxBytes.
// The file currently written to is never removed.
func pruneLogDir(dir string, maxBytes int64, activePath string) (int, error) {
	if maxBytes <= 0 {
		return 0, nil
	}
	files, total, err := listLogFiles(dir)
	if err != nil {
		return 0, err
	}
	if activePath != "" {
		activePath = filepath.Clean(activePath)
	}
	deleted := 0
	for _, file := range files {
		if total <= maxBytes {
			break
		}
		if file.path == activePath {
			continue
		}
		if errRemove := os.Remove(file.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove old log file: %s", filepath.Base(file.path))
			continue
		}
		total -= file.size
		deleted++
	}
	return deleted, nil
}
