// Package store provides the durable key/value backends that hold OAuth credentials
// between process restarts. Every backend implements SecretStore; values are opaque
// byte slices and each key is written independently of the others.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by Load when no value is stored under the requested key.
var ErrNotFound = errors.New("secret store: key not found")

// SecretStore persists opaque values by key.
type SecretStore interface {
	// Save stores value under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error
	// Load returns the value stored under key or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
}

// SaveString stores a string value.
func SaveString(ctx context.Context, s SecretStore, key, value string) error {
	return s.Save(ctx, key, []byte(value))
}

// LoadString reads a string value. The boolean reports whether a non-empty value exists.
func LoadString(ctx context.Context, s SecretStore, key string) (string, bool, error) {
	raw, err := s.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	value := string(raw)
	return value, value != "", nil
}

// SaveTime stores an instant as decimal seconds since the Unix epoch.
func SaveTime(ctx context.Context, s SecretStore, key string, value time.Time) error {
	seconds := float64(value.Unix()) + float64(value.Nanosecond())/float64(time.Second)
	return s.Save(ctx, key, []byte(strconv.FormatFloat(seconds, 'f', -1, 64)))
}

// LoadTime reads an instant written by SaveTime.
func LoadTime(ctx context.Context, s SecretStore, key string) (time.Time, bool, error) {
	raw, err := s.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return time.Time{}, false, nil
	}
	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("secret store: parse timestamp %q: %w", key, err)
	}
	whole := int64(seconds)
	frac := int64((seconds - float64(whole)) * float64(time.Second))
	return time.Unix(whole, frac), true, nil
}
