// Package credential fetches the short-lived realtime credential from the
// trusted token backend.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/tranceguide/pkg/core"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 64 << 10
	redacted       = "[redacted]"
)

// Credential is an ephemeral realtime credential. It is single-use and must
// never be logged; every formatting path prints a redacted placeholder.
type Credential struct {
	secret    string
	ExpiresAt time.Time
}

// New wraps a raw secret.
func New(secret string, expiresAt time.Time) Credential {
	return Credential{secret: secret, ExpiresAt: expiresAt}
}

// Secret returns the raw credential for the transport's auth header.
func (c Credential) Secret() string { return c.secret }

// Empty reports whether the credential carries no secret.
func (c Credential) Empty() bool { return strings.TrimSpace(c.secret) == "" }

// Expired reports whether the credential has a known expiry at or before now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

func (c Credential) String() string   { return redacted }
func (c Credential) GoString() string { return "credential.Credential{" + redacted + "}" }

func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("secret", redacted),
		slog.Time("expires_at", c.ExpiresAt),
	)
}

func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt,omitzero"`
	}{Token: redacted, ExpiresAt: c.ExpiresAt})
}

// Fetcher requests credentials from the token backend.
type Fetcher struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher returns a Fetcher posting to url. A nil client uses a client with
// a 10s timeout; a nil logger uses slog.Default().
func NewFetcher(url string, httpClient *http.Client, logger *slog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{url: strings.TrimSpace(url), httpClient: httpClient, logger: logger}
}

type tokenResponse struct {
	Token     string          `json:"token"`
	ExpiresAt json.RawMessage `json:"expiresAt"`
}

// Fetch issues one POST with no body. Every failure is a token error carrying
// the fixed user-safe message; it never retries.
func (f *Fetcher) Fetch(ctx context.Context) (Credential, error) {
	if f == nil || f.url == "" {
		return Credential{}, core.NewTokenError(errors.New("token url is not configured"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, nil)
	if err != nil {
		return Credential{}, core.NewTokenError(fmt.Errorf("build token request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Debug("token request failed", "error", err)
		return Credential{}, core.NewTokenError(fmt.Errorf("token request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Credential{}, core.NewTokenError(fmt.Errorf("read token response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// the body is opaque and may echo upstream detail; only the status is kept
		f.logger.Debug("token endpoint returned non-success", "status", resp.StatusCode)
		return Credential{}, core.NewTokenError(fmt.Errorf("token endpoint status %d", resp.StatusCode))
	}

	var decoded tokenResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Credential{}, core.NewTokenError(fmt.Errorf("decode token response: %w", err))
	}
	if strings.TrimSpace(decoded.Token) == "" {
		return Credential{}, core.NewTokenError(errors.New("token response missing token"))
	}
	expiresAt, err := parseExpiresAt(decoded.ExpiresAt)
	if err != nil {
		return Credential{}, core.NewTokenError(err)
	}
	return New(decoded.Token, expiresAt), nil
}

// parseExpiresAt accepts an RFC3339 string or epoch seconds. Absent or null is
// the zero time.
func parseExpiresAt(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, fmt.Errorf("decode expiresAt: %w", err)
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339, str); err == nil {
			return t, nil
		}
		if secs, err := strconv.ParseInt(str, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("invalid expiresAt %q", str)
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiresAt: %w", err)
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}
