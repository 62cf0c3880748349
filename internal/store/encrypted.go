package store

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	saltKey    = "encryption_salt"
	saltLength = 16
	scryptN    = 1 << 15
	scryptR    = 8
	scryptP    = 1
)

// ErrDecrypt is returned when a stored value cannot be authenticated with the configured passphrase.
var ErrDecrypt = errors.New("encrypted store: unable to decrypt value")

// EncryptedStore seals every value with XChaCha20-Poly1305 before handing it to the
// wrapped backend. The key is derived from a passphrase with scrypt; the salt lives
// in the wrapped backend under "encryption_salt". The stored key name is bound to the
// ciphertext as associated data, so values cannot be swapped between keys.
type EncryptedStore struct {
	inner      SecretStore
	passphrase []byte

	mu   sync.Mutex
	aead cipher.AEAD
}

// NewEncryptedStore wraps inner with passphrase-based encryption.
func NewEncryptedStore(inner SecretStore, passphrase string) (*EncryptedStore, error) {
	if inner == nil {
		return nil, fmt.Errorf("encrypted store: backend is nil")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("encrypted store: passphrase is required")
	}
	return &EncryptedStore{inner: inner, passphrase: []byte(passphrase)}, nil
}

func (s *EncryptedStore) Save(ctx context.Context, key string, value []byte) error {
	aead, err := s.sealer(ctx)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+chacha20poly1305.Overhead)
	if _, err = rand.Read(nonce); err != nil {
		return fmt.Errorf("encrypted store: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, value, []byte(key))
	encoded := base64.StdEncoding.EncodeToString(sealed)
	return s.inner.Save(ctx, key, []byte(encoded))
}

func (s *EncryptedStore) Load(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.inner.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	aead, err := s.sealer(ctx)
	if err != nil {
		return nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecrypt, key, err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: %s: ciphertext too short", ErrDecrypt, key)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, key)
	}
	return plain, nil
}

func (s *EncryptedStore) sealer(ctx context.Context) (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead != nil {
		return s.aead, nil
	}

	salt, err := s.inner.Load(ctx, saltKey)
	switch {
	case errors.Is(err, ErrNotFound):
		salt = make([]byte, saltLength)
		if _, err = rand.Read(salt); err != nil {
			return nil, fmt.Errorf("encrypted store: generate salt: %w", err)
		}
		encoded := []byte(base64.StdEncoding.EncodeToString(salt))
		if err = s.inner.Save(ctx, saltKey, encoded); err != nil {
			return nil, fmt.Errorf("encrypted store: persist salt: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("encrypted store: load salt: %w", err)
	default:
		decoded, errDecode := base64.StdEncoding.DecodeString(string(salt))
		if errDecode != nil {
			return nil, fmt.Errorf("encrypted store: decode salt: %w", errDecode)
		}
		salt = decoded
	}

	derived, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("encrypted store: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("encrypted store: init cipher: %w", err)
	}
	s.aead = aead
	return aead, nil
}
