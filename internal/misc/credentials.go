package misc

import (
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

var credentialSeparator = strings.Repeat("-", 67)

// LogSavingCredentials records where auth material is being written.
// Values are never logged.
func LogSavingCredentials(path string) {
	if path == "" {
		return
	}
	log.Debugf("Saving credentials to %s", filepath.Clean(path))
}

// LogCredentialSeparator adds a visual separator to group auth processing logs.
func LogCredentialSeparator() {
	log.Debug(credentialSeparator)
}
