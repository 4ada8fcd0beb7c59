package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCredentialAcquire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/realtime/sessions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"model":"gpt-4o-realtime-preview-2024-12-17"`) {
			t.Errorf("request body missing model: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"client_secret":{"value":"eph_abc123","expires_at":1735689600}}`))
	}))
	defer srv.Close()

	p := NewCredentialProvider(srv.URL, "sk-test")
	cred, err := p.Acquire(context.Background(), "gpt-4o-realtime-preview-2024-12-17", "alloy")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if cred.Token != "eph_abc123" {
		t.Errorf("token = %q", cred.Token)
	}
	if cred.ExpiresAt.Unix() != 1735689600 {
		t.Errorf("expiry = %v", cred.ExpiresAt)
	}
}

func TestCredentialAcquireRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	p := NewCredentialProvider(srv.URL, "sk-bad")
	if _, err := p.Acquire(context.Background(), "model", "alloy"); err == nil {
		t.Fatal("expected an error for 401")
	}
}

func TestCredentialAcquireMalformed(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not JSON", `<html>gateway error</html>`},
		{"missing secret", `{"id":"sess_1"}`},
		{"empty secret", `{"client_secret":{"value":""}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := NewCredentialProvider(srv.URL, "sk-test")
			if _, err := p.Acquire(context.Background(), "model", "alloy"); err == nil {
				t.Fatal("expected an error for malformed response")
			}
		})
	}
}

func TestCredentialAcquireNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	p := NewCredentialProvider(srv.URL, "sk-test")
	if _, err := p.Acquire(context.Background(), "model", "alloy"); err == nil {
		t.Fatal("expected an error when the endpoint is unreachable")
	}
}
