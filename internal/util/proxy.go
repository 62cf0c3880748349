// Package util provides helpers shared across tokenkeeper: outbound HTTP client
// setup with proxy support, log level management and path resolution.
package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"golang.org/x/net/proxy"
)

// SetProxy configures httpClient with the proxy named by cfg.ProxyURL.
// SOCKS5, HTTP and HTTPS proxies are supported; an empty or unparsable URL leaves
// the client untouched.
func SetProxy(cfg *config.SDKConfig, httpClient *http.Client) *http.Client {
	if cfg == nil || strings.TrimSpace(cfg.ProxyURL) == "" {
		return httpClient
	}
	proxyURL, errParse := url.Parse(cfg.ProxyURL)
	if errParse != nil {
		log.Errorf("parse proxy URL failed: %v", errParse)
		return httpClient
	}

	var transport *http.Transport
	switch proxyURL.Scheme {
	case "socks5":
		var proxyAuth *proxy.Auth
		if proxyURL.User != nil {
			username := proxyURL.User.Username()
			password, _ := proxyURL.User.Password()
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return httpClient
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	default:
		log.Warnf("unsupported proxy scheme %q, ignoring proxy-url", proxyURL.Scheme)
	}
	if transport != nil {
		httpClient.Transport = transport
	}
	return httpClient
}

// NewHTTPClient returns a client with the given overall timeout, routed through the
// configured proxy.
func NewHTTPClient(cfg *config.SDKConfig, timeout time.Duration) *http.Client {
	return SetProxy(cfg, &http.Client{Timeout: timeout})
}
