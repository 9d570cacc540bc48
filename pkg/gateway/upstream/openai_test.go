package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/tranceguide/pkg/core"
)

func newMinter(t *testing.T, h http.HandlerFunc) (*OpenAI, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	var logs bytes.Buffer
	return &OpenAI{
		APIKey:     "sk-test-secret",
		BaseURL:    srv.URL + "/",
		Model:      "gpt-realtime",
		HTTPClient: srv.Client(),
		Logger:     slog.New(slog.NewTextHandler(&logs, nil)),
	}, &logs
}

func TestMint_SendsSessionAndParsesSecret(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	m, _ := newMinter(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = io.WriteString(w, `{"value":"ek_abc","expires_at":1760000000,"session":{"type":"realtime"}}`)
	})

	secret, err := m.Mint(context.Background())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if secret.Value != "ek_abc" || !secret.ExpiresAt.Equal(time.Unix(1760000000, 0)) {
		t.Fatalf("secret = %+v", secret)
	}
	if gotAuth != "Bearer sk-test-secret" || gotPath != "/v1/realtime/client_secrets" {
		t.Fatalf("auth=%q path=%q", gotAuth, gotPath)
	}
	session, _ := gotBody["session"].(map[string]any)
	if session["type"] != "realtime" || session["model"] != "gpt-realtime" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestMint_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType core.ErrorType
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided: sk-test-secret"}}`, core.ErrAPI},
		{"server error", http.StatusInternalServerError, `oops`, core.ErrAPI},
		{"rate limited", http.StatusTooManyRequests, `{}`, core.ErrRateLimit},
		{"empty value", http.StatusOK, `{"value":"","expires_at":1}`, core.ErrAPI},
		{"not json", http.StatusOK, `<html>`, core.ErrAPI},
		{"bad expiry", http.StatusOK, `{"value":"ek","expires_at":"soon"}`, core.ErrAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, logs := newMinter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := m.Mint(context.Background())
			if got := core.TypeOf(err); got != tt.wantType {
				t.Fatalf("type = %q (%v)", got, err)
			}
			if strings.Contains(err.Error(), "sk-test-secret") || strings.Contains(logs.String(), "sk-test-secret") {
				t.Fatalf("secret leaked: err=%q logs=%q", err, logs.String())
			}
		})
	}
}

func TestMint_UpstreamStatusInCode(t *testing.T) {
	m, _ := newMinter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := m.Mint(context.Background())
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Code != "upstream_401" || coreErr.Message != mintFailed {
		t.Fatalf("err = %#v", err)
	}
}

func TestMint_RateLimitCarriesRetryAfter(t *testing.T) {
	m, _ := newMinter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := m.Mint(context.Background())
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.RetryAfter == nil || *coreErr.RetryAfter != 7 {
		t.Fatalf("err = %#v", err)
	}
}

func TestMint_ContextCanceled(t *testing.T) {
	m, _ := newMinter(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Mint(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseExpiresAt(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		raw     string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"null", time.Time{}, false},
		{"1767323045", want, false},
		{`"2026-01-02T03:04:05Z"`, want, false},
		{`"tomorrow"`, time.Time{}, true},
		{`{}`, time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseExpiresAt(json.RawMessage(tt.raw))
		if (err != nil) != tt.wantErr || !got.Equal(tt.want) {
			t.Errorf("parseExpiresAt(%q) = %v, %v", tt.raw, got, err)
		}
	}
}
