package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	EnvClientID     = "CLIENT_ID"
	EnvClientSecret = "CLIENT_SECRET"
)

// ClientCredentials identify this application to the authorization server.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// LoadClientCredentials reads CLIENT_ID and CLIENT_SECRET from the environment.
// Both are required; the error names every missing variable.
func LoadClientCredentials() (ClientCredentials, error) {
	return clientCredentialsFrom(os.LookupEnv)
}

func clientCredentialsFrom(lookup func(string) (string, bool)) (ClientCredentials, error) {
	var creds ClientCredentials
	var missing []string
	if v, ok := lookup(EnvClientID); ok && strings.TrimSpace(v) != "" {
		creds.ClientID = strings.TrimSpace(v)
	} else {
		missing = append(missing, EnvClientID)
	}
	if v, ok := lookup(EnvClientSecret); ok && strings.TrimSpace(v) != "" {
		creds.ClientSecret = strings.TrimSpace(v)
	} else {
		missing = append(missing, EnvClientSecret)
	}
	if len(missing) > 0 {
		return ClientCredentials{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	return creds, nil
}
