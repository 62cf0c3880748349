package misc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// GenerateRandomState returns a hex encoded 16-byte value suitable for the OAuth
// state parameter.
func GenerateRandomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// OAuthCallback captures the parameters of an authorization redirect.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseOAuthCallback extracts OAuth parameters from a pasted redirect URL.
// Bare query strings ("code=...&state=...") and host-relative forms are accepted.
// It returns nil when the input is empty.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		switch {
		case strings.HasPrefix(candidate, "?"):
			candidate = "http://localhost/" + candidate
		case strings.ContainsAny(candidate, "/?#:"):
			candidate = "http://" + candidate
		case strings.Contains(candidate, "="):
			candidate = "http://localhost/?" + candidate
		default:
			return nil, fmt.Errorf("invalid callback URL")
		}
	}

	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return nil, err
	}

	values := parsedURL.Query()
	if parsedURL.Fragment != "" {
		// Some browsers hand back the parameters in the fragment instead of the query.
		if fragment, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			for key, vals := range fragment {
				if strings.TrimSpace(values.Get(key)) == "" {
					values[key] = vals
				}
			}
		}
	}

	cb := &OAuthCallback{
		Code:             strings.TrimSpace(values.Get("code")),
		State:            strings.TrimSpace(values.Get("state")),
		Error:            strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}
	if cb.Error == "" && cb.ErrorDescription != "" {
		cb.Error, cb.ErrorDescription = cb.ErrorDescription, ""
	}
	if cb.Code == "" && cb.Error == "" {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return cb, nil
}

// HasRedirectPrefix reports whether rawURL is a redirect back to redirectURI.
// Query and fragment are ignored; scheme and host compare case-insensitively.
func HasRedirectPrefix(rawURL, redirectURI string) bool {
	got, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	want, err := url.Parse(strings.TrimSpace(redirectURI))
	if err != nil {
		return false
	}
	return strings.EqualFold(got.Scheme, want.Scheme) &&
		strings.EqualFold(got.Host, want.Host) &&
		strings.TrimSuffix(got.Path, "/") == strings.TrimSuffix(want.Path, "/")
}
