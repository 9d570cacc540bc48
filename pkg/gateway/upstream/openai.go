// Package upstream mints ephemeral realtime client secrets from OpenAI.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/tranceguide/pkg/core"
)

const clientSecretsPath = "/v1/realtime/client_secrets"

// maxResponseBytes bounds how much of an upstream response is read.
const maxResponseBytes = 64 << 10

const mintFailed = "unable to generate ephemeral token"

// Secret is a minted client secret.
type Secret struct {
	Value     string
	ExpiresAt time.Time
}

// Minter issues client secrets.
type Minter interface {
	Mint(ctx context.Context) (Secret, error)
}

type OpenAI struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type sessionConfig struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

type clientSecretsRequest struct {
	Session sessionConfig `json:"session"`
}

type clientSecretsResponse struct {
	Value     string          `json:"value"`
	ExpiresAt json.RawMessage `json:"expires_at"`
}

// Mint requests one client secret scoped to a realtime session on Model.
// Upstream failures surface as generic errors; the status is kept in the
// error code and logs, the body is never echoed.
func (o *OpenAI) Mint(ctx context.Context) (Secret, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(clientSecretsRequest{Session: sessionConfig{Type: "realtime", Model: o.Model}})
	if err != nil {
		return Secret{}, err
	}
	endpoint := strings.TrimRight(o.BaseURL, "/") + clientSecretsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Secret{}, err
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Secret{}, ctxErr
		}
		logger.Warn("client secret request failed", "error", err)
		return Secret{}, core.NewAPIError(mintFailed)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logger.Warn("client secret response read failed", "status", resp.StatusCode, "error", err)
		return Secret{}, core.NewAPIError(mintFailed)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("client secret rejected upstream", "status", resp.StatusCode, "body_bytes", len(raw))
		if resp.StatusCode == http.StatusTooManyRequests {
			return Secret{}, core.NewRateLimitError("upstream rate limit exceeded", retryAfterSeconds(resp.Header.Get("Retry-After")))
		}
		return Secret{}, &core.Error{
			Type:    core.ErrAPI,
			Message: mintFailed,
			Code:    "upstream_" + strconv.Itoa(resp.StatusCode),
		}
	}

	var decoded clientSecretsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || strings.TrimSpace(decoded.Value) == "" {
		logger.Warn("client secret response malformed", "body_bytes", len(raw))
		return Secret{}, core.NewAPIError(mintFailed)
	}
	expiresAt, err := parseExpiresAt(decoded.ExpiresAt)
	if err != nil {
		logger.Warn("client secret expiry malformed", "error", err)
		return Secret{}, core.NewAPIError(mintFailed)
	}
	return Secret{Value: decoded.Value, ExpiresAt: expiresAt}, nil
}

// parseExpiresAt accepts epoch seconds or an RFC3339 string. Absent means
// unknown and yields the zero time.
func parseExpiresAt(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var seconds int64
	if err := json.Unmarshal(raw, &seconds); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("expires_at: unsupported value %s", raw)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expires_at: %w", err)
	}
	return t.UTC(), nil
}

func retryAfterSeconds(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
