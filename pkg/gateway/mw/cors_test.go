package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/tranceguide/pkg/gateway/config"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func origins(list ...string) config.Config {
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{}}
	for _, o := range list {
		cfg.CORSAllowedOrigins[o] = struct{}{}
	}
	return cfg
}

func TestCORS_DisabledByDefault_NoHeaders(t *testing.T) {
	h := CORS(origins(), http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/api/realtime/token", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestCORS_AllowlistedOrigin(t *testing.T) {
	h := CORS(origins("http://localhost:3000"), http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/api/realtime/token", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("Vary=%q", got)
	}
	if got := rr.Header().Get("Access-Control-Expose-Headers"); got == "" {
		t.Fatalf("expected exposed headers")
	}
}

func TestCORS_Wildcard(t *testing.T) {
	h := CORS(origins(config.CORSAllowAll), http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/api/realtime/token", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
	if got := rr.Header().Get("Vary"); got != "" {
		t.Fatalf("Vary=%q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.Config
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"allowlisted", origins("https://app.example.com"), "https://app.example.com", http.StatusNoContent, "https://app.example.com"},
		{"wildcard", origins(config.CORSAllowAll), "https://app.example.com", http.StatusNoContent, "*"},
		{"unknown origin", origins("https://app.example.com"), "https://evil.example", http.StatusForbidden, ""},
		{"cors disabled", origins(), "https://app.example.com", http.StatusForbidden, ""},
		{"no origin", origins("https://app.example.com"), "", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called for preflight")
			}))
			req := httptest.NewRequest(http.MethodOptions, "/api/realtime/token", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			req.Header.Set("Access-Control-Request-Method", "POST")
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("Access-Control-Allow-Origin=%q", got)
			}
			if tt.wantStatus == http.StatusNoContent {
				if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
					t.Fatalf("Access-Control-Allow-Methods=%q", got)
				}
				if got := rr.Header().Get("Access-Control-Allow-Headers"); got == "" {
					t.Fatalf("expected allow-headers")
				}
			}
		})
	}
}
