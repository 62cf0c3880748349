package webapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const profileJSON = `{"id":"u2","display_name":"Grace"}`

func encodeBody(t *testing.T, encoding string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, _ = w.Write(data)
		if err := w.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
	case "br":
		w := brotli.NewWriter(&buf)
		_, _ = w.Write(data)
		if err := w.Close(); err != nil {
			t.Fatalf("brotli close: %v", err)
		}
	case "zstd":
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatalf("zstd writer: %v", err)
		}
		_, _ = w.Write(data)
		if err = w.Close(); err != nil {
			t.Fatalf("zstd close: %v", err)
		}
	default:
		buf.Write(data)
	}
	return buf.Bytes()
}

func TestCurrentUserProfileDecodesCompressedBodies(t *testing.T) {
	for _, encoding := range []string{"", "gzip", "br", "zstd"} {
		t.Run("encoding="+encoding, func(t *testing.T) {
			payload := encodeBody(t, encoding, []byte(profileJSON))
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Accept-Encoding"); got != acceptEncoding {
					t.Errorf("Accept-Encoding = %q", got)
				}
				if encoding != "" {
					w.Header().Set("Content-Encoding", encoding)
				}
				_, _ = w.Write(payload)
			}))
			defer srv.Close()

			client := NewClientWithHTTP(srv.URL, &staticTokens{token: "AT1"}, srv.Client())
			profile, err := client.CurrentUserProfile(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if profile.ID != "u2" || profile.DisplayName != "Grace" {
				t.Fatalf("profile = %+v", profile)
			}
		})
	}
}

func TestDecodeBodyRejectsCorruptData(t *testing.T) {
	for _, encoding := range []string{"gzip", "zstd"} {
		if _, err := decodeBody(encoding, []byte("definitely not compressed")); err == nil {
			t.Fatalf("%s: expected error", encoding)
		}
	}
	got, err := decodeBody("identity", []byte("plain"))
	if err != nil || string(got) != "plain" {
		t.Fatalf("decodeBody(identity) = %q, %v", got, err)
	}
}
