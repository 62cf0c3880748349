// Package config loads tokenkeeper's YAML configuration and the client credentials
// supplied through the environment.
package config

// SDKConfig holds the settings shared by every outbound HTTP client.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// socks5://, http:// and https:// schemes are supported.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`
}

// SecretStoreConfig selects and configures the durable credential backend.
// Secrets (DSNs, keys, tokens) are normally supplied through the environment and
// override anything set here.
type SecretStoreConfig struct {
	// Type is one of file, postgres, object or git. Empty means file.
	Type string `yaml:"type" json:"type"`

	// Encrypt seals every value with a passphrase-derived key before it reaches the backend.
	// The passphrase comes from SECRETSTORE_PASSPHRASE.
	Encrypt bool `yaml:"encrypt" json:"encrypt"`

	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	Object   ObjectConfig   `yaml:"object" json:"object"`
	Git      GitConfig      `yaml:"git" json:"git"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN    string `yaml:"dsn" json:"dsn"`
	Schema string `yaml:"schema" json:"schema"`
	Table  string `yaml:"table" json:"table"`
}

// ObjectConfig configures the S3-compatible object storage backend.
type ObjectConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Region    string `yaml:"region" json:"region"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	AccessKey string `yaml:"access-key" json:"-"`
	SecretKey string `yaml:"secret-key" json:"-"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	PathStyle bool   `yaml:"path-style" json:"path-style"`
}

// GitConfig configures the git-backed store.
type GitConfig struct {
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Token    string `yaml:"token" json:"-"`
	// Dir is the local working tree. Empty means <auth-dir>/gitstore.
	Dir string `yaml:"dir" json:"dir"`
}
