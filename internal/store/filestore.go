package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spotifyauth/tokenkeeper/internal/misc"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultSecretsFile is the file name used inside the auth directory.
const DefaultSecretsFile = "spotify-secrets.json"

// FileStore persists every key as a top-level string in a single JSON document.
// Writes replace the document atomically (temp file + rename) with 0600 permissions.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed store rooted at path.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("file store: resolve path: %w", err)
	}
	return &FileStore{path: abs}, nil
}

// Path returns the backing document location.
func (s *FileStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *FileStore) Save(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	updated, err := sjson.SetBytes(doc, escapeKey(key), string(value))
	if err != nil {
		return fmt.Errorf("file store: set %s: %w", key, err)
	}
	return s.writeLocked(updated)
}

func (s *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	result := gjson.GetBytes(doc, escapeKey(key))
	if !result.Exists() {
		return nil, ErrNotFound
	}
	if result.Type != gjson.String {
		return nil, fmt.Errorf("file store: value for %s is not a string", key)
	}
	return []byte(result.String()), nil
}

func (s *FileStore) readLocked() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("file store: read %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("file store: %s is not valid JSON", s.path)
	}
	return data, nil
}

func (s *FileStore) writeLocked(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("file store: create dir failed: %w", err)
	}
	misc.LogSavingCredentials(s.path)
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("file store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("file store: replace %s: %w", s.path, err)
	}
	return nil
}

// escapeKey turns a raw key into a gjson/sjson path addressing a single top-level member.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
