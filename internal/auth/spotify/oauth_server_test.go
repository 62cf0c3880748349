package spotify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOAuthServerCallbackCode(t *testing.T) {
	s := NewOAuthServer(0, "callback")
	recorder := httptest.NewRecorder()
	s.handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/callback?code=abc123&state=s1", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	result, err := s.WaitForCallback(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Code != "abc123" || result.State != "s1" || result.Error != "" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestOAuthServerCallbackError(t *testing.T) {
	tests := []struct {
		query     string
		wantError string
	}{
		{"error=access_denied&state=s1", "access_denied"},
		{"error=%3Cscript%3E", "<script>"},
	}
	for _, tt := range tests {
		s := NewOAuthServer(0, "/callback")
		recorder := httptest.NewRecorder()
		s.handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tt.query, recorder.Code)
		}
		if strings.Contains(recorder.Body.String(), "<script>") {
			t.Fatalf("%s: error code rendered unescaped", tt.query)
		}
		result, err := s.WaitForCallback(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.query, err)
		}
		if result.Error != tt.wantError {
			t.Fatalf("%s: Error = %q, want %q", tt.query, result.Error, tt.wantError)
		}
	}
}

func TestOAuthServerIgnoresRequestWithoutCode(t *testing.T) {
	s := NewOAuthServer(0, "/callback")
	for _, query := range []string{"", "state=s1"} {
		recorder := httptest.NewRecorder()
		s.handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/callback?"+query, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%q: status = %d", query, recorder.Code)
		}
	}
	if _, err := s.WaitForCallback(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("expected no result, got %v", err)
	}

	recorder := httptest.NewRecorder()
	s.handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/callback?code=abc123&state=s1", nil))
	result, err := s.WaitForCallback(context.Background(), time.Second)
	if err != nil || result.Code != "abc123" {
		t.Fatalf("WaitForCallback = %+v, %v", result, err)
	}
}

func TestOAuthServerWaitHonoursContext(t *testing.T) {
	s := NewOAuthServer(0, "/callback")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.WaitForCallback(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOAuthServerUnknownPath(t *testing.T) {
	s := NewOAuthServer(0, "/callback")
	recorder := httptest.NewRecorder()
	s.handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/other?code=x", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d", recorder.Code)
	}
	if _, err := s.WaitForCallback(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestOAuthServerStartServeStop(t *testing.T) {
	s := NewOAuthServer(0, "/callback")
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	if !s.IsRunning() || s.Port() == 0 {
		t.Fatalf("server not running on a port: running=%v port=%d", s.IsRunning(), s.Port())
	}
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=live&state=s", s.Port()))
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	_ = resp.Body.Close()

	result, err := s.WaitForCallback(context.Background(), 2*time.Second)
	if err != nil || result.Code != "live" {
		t.Fatalf("WaitForCallback = %+v, %v", result, err)
	}
	if err = s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.IsRunning() {
		t.Fatal("server still running after Stop")
	}
}

func TestOAuthServerPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	s := NewOAuthServer(ln.Addr().(*net.TCPAddr).Port, "/callback")
	err = s.Start()
	authErr, ok := errors.AsType[*AuthenticationError](err)
	if !ok || authErr.Type != ErrPortInUse.Type {
		t.Fatalf("expected port_in_use, got %v", err)
	}
}
