package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/store"
)

// EnvSecretStorePassphrase enables the encryption layer over any backend.
const EnvSecretStorePassphrase = "SECRETSTORE_PASSPHRASE"

const storeInitTimeout = 30 * time.Second

// SecretStoreHandle is the opened secret store plus what the caller needs to manage it.
type SecretStoreHandle struct {
	Store store.SecretStore
	// FilePath is the on-disk secrets document for the file and git backends.
	FilePath string
	// Description names the backend for status output.
	Description string
	closer      func() error
}

// Close releases backend resources.
func (h *SecretStoreHandle) Close() error {
	if h == nil || h.closer == nil {
		return nil
	}
	return h.closer()
}

// lookupEnv returns the first non-empty value among keys.
func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

// ApplyStoreEnvOverrides lets deployments select and configure the backend through the
// environment. PGSTORE_DSN wins over OBJECTSTORE_ENDPOINT, which wins over GITSTORE_GIT_URL.
func ApplyStoreEnvOverrides(cfg *config.Config) {
	applyStoreEnvOverrides(&cfg.SecretStore, lookupEnv)
}

func applyStoreEnvOverrides(sc *config.SecretStoreConfig, lookup func(keys ...string) (string, bool)) {
	if value, ok := lookup("GITSTORE_GIT_URL", "gitstore_git_url"); ok {
		sc.Type = "git"
		sc.Git.URL = value
	}
	if value, ok := lookup("GITSTORE_GIT_USERNAME", "gitstore_git_username"); ok {
		sc.Git.Username = value
	}
	if value, ok := lookup("GITSTORE_GIT_TOKEN", "gitstore_git_token"); ok {
		sc.Git.Token = value
	}
	if value, ok := lookup("GITSTORE_LOCAL_PATH", "gitstore_local_path"); ok {
		sc.Git.Dir = value
	}
	if value, ok := lookup("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		sc.Type = "object"
		sc.Object.Endpoint = value
	}
	if value, ok := lookup("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key"); ok {
		sc.Object.AccessKey = value
	}
	if value, ok := lookup("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key"); ok {
		sc.Object.SecretKey = value
	}
	if value, ok := lookup("OBJECTSTORE_BUCKET", "objectstore_bucket"); ok {
		sc.Object.Bucket = value
	}
	if value, ok := lookup("PGSTORE_DSN", "pgstore_dsn"); ok {
		sc.Type = "postgres"
		sc.Postgres.DSN = value
	}
	if value, ok := lookup("PGSTORE_SCHEMA", "pgstore_schema"); ok {
		sc.Postgres.Schema = value
	}
	if _, ok := lookup(EnvSecretStorePassphrase); ok {
		sc.Encrypt = true
	}
}

// OpenSecretStore opens the backend selected by cfg.SecretStore. cfg.AuthDir must
// already be resolved.
func OpenSecretStore(ctx context.Context, cfg *config.Config) (*SecretStoreHandle, error) {
	sc := cfg.SecretStore
	handle := &SecretStoreHandle{}

	initCtx, cancel := context.WithTimeout(ctx, storeInitTimeout)
	defer cancel()

	switch sc.Type {
	case "", "file":
		path := filepath.Join(cfg.AuthDir, store.DefaultSecretsFile)
		fileStore, err := store.NewFileStore(path)
		if err != nil {
			return nil, err
		}
		handle.Store = fileStore
		handle.FilePath = fileStore.Path()
		handle.Description = "file " + fileStore.Path()
	case "postgres":
		pgStore, err := store.NewPostgresStore(initCtx, store.PostgresStoreConfig{
			DSN:    sc.Postgres.DSN,
			Schema: sc.Postgres.Schema,
			Table:  sc.Postgres.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres secret store: %w", err)
		}
		handle.Store = pgStore
		handle.Description = "postgres"
		handle.closer = pgStore.Close
	case "object":
		endpoint, useSSL, err := parseObjectEndpoint(sc.Object.Endpoint, sc.Object.UseSSL)
		if err != nil {
			return nil, err
		}
		objStore, err := store.NewObjectStore(initCtx, store.ObjectStoreConfig{
			Endpoint:  endpoint,
			Bucket:    sc.Object.Bucket,
			AccessKey: sc.Object.AccessKey,
			SecretKey: sc.Object.SecretKey,
			Region:    sc.Object.Region,
			Prefix:    sc.Object.Prefix,
			UseSSL:    useSSL,
			PathStyle: sc.Object.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object secret store: %w", err)
		}
		handle.Store = objStore
		handle.Description = "object bucket " + sc.Object.Bucket
	case "git":
		dir := sc.Git.Dir
		if dir == "" {
			dir = filepath.Join(cfg.AuthDir, "gitstore")
		}
		gitStore, err := store.NewGitStore(dir, sc.Git.URL, sc.Git.Username, sc.Git.Token)
		if err != nil {
			return nil, err
		}
		if err = gitStore.EnsureRepository(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare git secret store: %w", err)
		}
		handle.Store = gitStore
		handle.FilePath = filepath.Join(dir, store.DefaultSecretsFile)
		handle.Description = "git repository " + dir
	default:
		return nil, fmt.Errorf("unknown secret-store type %q", sc.Type)
	}

	if sc.Encrypt {
		passphrase, ok := lookupEnv(EnvSecretStorePassphrase)
		if !ok {
			_ = handle.Close()
			return nil, fmt.Errorf("secret-store encryption requires %s", EnvSecretStorePassphrase)
		}
		encrypted, err := store.NewEncryptedStore(handle.Store, passphrase)
		if err != nil {
			_ = handle.Close()
			return nil, err
		}
		handle.Store = encrypted
		handle.Description += " (encrypted)"
	}
	log.Debugf("secret store: %s", handle.Description)
	return handle, nil
}

// parseObjectEndpoint accepts host[:port][/path] or an http(s) URL, whose scheme
// decides TLS.
func parseObjectEndpoint(raw string, useSSL bool) (string, bool, error) {
	resolved := strings.TrimSpace(raw)
	if strings.Contains(resolved, "://") {
		parsed, err := url.Parse(resolved)
		if err != nil {
			return "", false, fmt.Errorf("failed to parse object store endpoint %q: %w", raw, err)
		}
		switch strings.ToLower(parsed.Scheme) {
		case "http":
			useSSL = false
		case "https":
			useSSL = true
		default:
			return "", false, fmt.Errorf("unsupported object store scheme %q (only http and https are allowed)", parsed.Scheme)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("object store endpoint %q is missing host information", raw)
		}
		resolved = parsed.Host
		if parsed.Path != "" && parsed.Path != "/" {
			resolved = strings.TrimSuffix(parsed.Host+parsed.Path, "/")
		}
	}
	return strings.TrimRight(resolved, "/"), useSSL, nil
}
