package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRedirectURI = "http://localhost:8888/callback"
	DefaultAuthURL     = "https://accounts.spotify.com/authorize"
	DefaultTokenURL    = "https://accounts.spotify.com/api/token"
	DefaultAPIBaseURL  = "https://api.spotify.com/v1"
	DefaultAuthDir     = "~/.tokenkeeper"
	DefaultScope       = "user-read-private"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	SDKConfig `yaml:",inline"`

	// RedirectURI is registered with the provider and receives the authorization code.
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`

	// Scopes requested during sign-in.
	Scopes []string `yaml:"scopes" json:"scopes"`

	AuthURL    string `yaml:"auth-url" json:"auth-url"`
	TokenURL   string `yaml:"token-url" json:"token-url"`
	APIBaseURL string `yaml:"api-base-url" json:"api-base-url"`

	// AuthDir is the directory holding the file-backed secret store and logs.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes application logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the total size of the log directory. 0 disables the cap.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	SecretStore SecretStoreConfig `yaml:"secret-store" json:"secret-store"`
}

// LoadConfig reads configFile. A missing file is an error.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads configFile and applies defaults. When optional is true a
// missing or empty file yields the default configuration.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	switch {
	case err == nil:
	case optional && errors.Is(err, fs.ErrNotExist):
		data = nil
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !optional {
		return nil, fmt.Errorf("config file %s is empty", configFile)
	}
	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.RedirectURI = strings.TrimSpace(c.RedirectURI)
	if c.RedirectURI == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	scopes := make([]string, 0, len(c.Scopes))
	for _, scope := range c.Scopes {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	c.Scopes = scopes
	if strings.TrimSpace(c.AuthURL) == "" {
		c.AuthURL = DefaultAuthURL
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		c.TokenURL = DefaultTokenURL
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if strings.TrimSpace(c.AuthDir) == "" {
		c.AuthDir = DefaultAuthDir
	}
	if c.LogsMaxTotalSizeMB < 0 {
		c.LogsMaxTotalSizeMB = 0
	}
	c.SecretStore.Type = strings.ToLower(strings.TrimSpace(c.SecretStore.Type))
}

// Validate checks the URLs and the store selection.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"redirect-uri": c.RedirectURI,
		"auth-url":     c.AuthURL,
		"token-url":    c.TokenURL,
		"api-base-url": c.APIBaseURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("config: %s %q is not an absolute URL", name, raw)
		}
	}
	switch c.SecretStore.Type {
	case "", "file", "postgres", "object", "git":
	default:
		return fmt.Errorf("config: unknown secret-store type %q", c.SecretStore.Type)
	}
	return nil
}

// CallbackPort returns the port of the redirect URI, defaulting by scheme.
func (c *Config) CallbackPort() int {
	parsed, err := url.Parse(c.RedirectURI)
	if err != nil {
		return 0
	}
	if port := parsed.Port(); port != "" {
		if n, errAtoi := strconv.Atoi(port); errAtoi == nil {
			return n
		}
	}
	if parsed.Scheme == "https" {
		return 443
	}
	return 80
}

// SetCallbackPort rewrites the port of the redirect URI. The new URI must also be
// registered with the provider.
func (c *Config) SetCallbackPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("config: invalid callback port %d", port)
	}
	parsed, err := url.Parse(c.RedirectURI)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("config: redirect-uri %q is not an absolute URL", c.RedirectURI)
	}
	parsed.Host = net.JoinHostPort(parsed.Hostname(), strconv.Itoa(port))
	c.RedirectURI = parsed.String()
	return nil
}

// CallbackPath returns the path component of the redirect URI.
func (c *Config) CallbackPath() string {
	parsed, err := url.Parse(c.RedirectURI)
	if err != nil || parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}
