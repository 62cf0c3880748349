package spotify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spotifyauth/tokenkeeper/internal/logging"
)

// OAuthResult is what the redirect delivered: a code and state on success, or
// the provider's error code.
type OAuthResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// OAuthServer is the local HTTP endpoint the browser is redirected to after consent.
type OAuthServer struct {
	port       int
	path       string
	server     *http.Server
	listener   net.Listener
	resultChan chan *OAuthResult
	errorChan  chan error
	mu         sync.Mutex
	running    bool
}

// NewOAuthServer creates a callback server for port and callbackPath
// (for example 8888 and "/callback"). Port 0 picks a free port on Start.
func NewOAuthServer(port int, callbackPath string) *OAuthServer {
	if !strings.HasPrefix(callbackPath, "/") {
		callbackPath = "/" + callbackPath
	}
	return &OAuthServer{
		port:       port,
		path:       callbackPath,
		resultChan: make(chan *OAuthResult, 1),
		errorChan:  make(chan error, 1),
	}
}

// Start binds the port and serves the callback route in the background.
func (s *OAuthServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return NewAuthenticationError(ErrPortInUse, err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.server = &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func(srv *http.Server, ln net.Listener) {
		if errServe := srv.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			select {
			case s.errorChan <- NewAuthenticationError(ErrServerStartFailed, errServe):
			default:
			}
		}
	}(s.server, listener)

	log.WithField("port", s.port).Debug("OAuth callback server listening")
	return nil
}

// Stop shuts the server down gracefully.
func (s *OAuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}
	log.Debug("Stopping OAuth callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	s.listener = nil
	return err
}

// Port returns the bound port once Start succeeded.
func (s *OAuthServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// IsRunning reports whether the server is serving.
func (s *OAuthServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// WaitForCallback blocks until a redirect arrives, the server fails, ctx is done
// or timeout elapses.
func (s *OAuthServer) WaitForCallback(ctx context.Context, timeout time.Duration) (*OAuthResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrCallbackTimeout
	}
}

// Results exposes the callback channel for callers multiplexing with other inputs.
func (s *OAuthServer) Results() <-chan *OAuthResult { return s.resultChan }

// Errors exposes server failures.
func (s *OAuthServer) Errors() <-chan error { return s.errorChan }

func (s *OAuthServer) handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	engine.GET(s.path, s.handleCallback)
	engine.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "not found")
	})
	return engine
}

func (s *OAuthServer) handleCallback(c *gin.Context) {
	result := &OAuthResult{
		Code:             strings.TrimSpace(c.Query("code")),
		State:            strings.TrimSpace(c.Query("state")),
		Error:            strings.TrimSpace(c.Query("error")),
		ErrorDescription: strings.TrimSpace(c.Query("error_description")),
	}
	if result.Error == "" && result.Code == "" {
		// Prefetches and stray hits carry neither; keep waiting for the real redirect.
		log.Debug("OAuth callback without code or error ignored")
		page := strings.ReplaceAll(loginFailureHTML, "{{ERROR}}", "missing authorization code")
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(page))
		return
	}

	if result.Error != "" {
		log.Warnf("OAuth callback returned error: %s", result.Error)
		s.sendResult(result)
		page := strings.ReplaceAll(loginFailureHTML, "{{ERROR}}", html.EscapeString(result.Error))
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(page))
		return
	}

	s.sendResult(result)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(loginSuccessHTML))
}

// sendResult hands the first callback to the waiter; later ones are dropped.
func (s *OAuthServer) sendResult(result *OAuthResult) {
	select {
	case s.resultChan <- result:
		log.Debug("OAuth result sent to channel")
	default:
		log.Warn("OAuth result channel is full, result dropped")
	}
}
