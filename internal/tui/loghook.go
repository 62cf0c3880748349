package tui

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LogHook is a logrus hook that forwards formatted entries to the logs tab.
// When the buffer is full the oldest line is dropped; logging never blocks.
type LogHook struct {
	ch        chan string
	mu        sync.Mutex
	formatter log.Formatter
}

// NewLogHook creates a hook buffering up to bufSize lines.
func NewLogHook(bufSize int, formatter log.Formatter) *LogHook {
	return &LogHook{ch: make(chan string, bufSize), formatter: formatter}
}

// Levels implements log.Hook.
func (h *LogHook) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements log.Hook.
func (h *LogHook) Fire(entry *log.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	line := fmt.Sprintf("[%s] %s", entry.Level, entry.Message)
	if h.formatter != nil {
		if b, err := h.formatter.Format(entry); err == nil {
			line = strings.TrimRight(string(b), "\r\n")
		}
	}
	for {
		select {
		case h.ch <- line:
			return nil
		default:
		}
		select {
		case <-h.ch:
		default:
		}
	}
}

// Chan returns the channel to read log lines from.
func (h *LogHook) Chan() <-chan string {
	return h.ch
}
