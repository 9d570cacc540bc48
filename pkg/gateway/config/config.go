package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// CORSAllowAll in TRANCEGUIDE_CORS_ORIGINS allows every origin.
const CORSAllowAll = "*"

type Config struct {
	Addr string

	// AuthMode gates the token route behind client API keys. Browser clients
	// usually run with it disabled and rely on CORS plus rate limits.
	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the backend is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// OpenAI credentials and the session every issued token is scoped to.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	RealtimeModel string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("TRANCEGUIDE_TOKEN_ADDR", ":8787"),
		AuthMode:                      AuthMode(envOr("TRANCEGUIDE_TOKEN_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                       make(map[string]struct{}),
		TrustProxyHeaders:             envBoolOr("TRANCEGUIDE_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:                  envInt64Or("TRANCEGUIDE_MAX_BODY_BYTES", 4<<10), // 4 KiB
		OpenAIAPIKey:                  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:                 envOr("TRANCEGUIDE_OPENAI_BASE_URL", "https://api.openai.com"),
		RealtimeModel:                 envOr("TRANCEGUIDE_REALTIME_MODEL", "gpt-realtime"),
		CORSAllowedOrigins:            make(map[string]struct{}),
		LimitRPS:                      envFloat64Or("TRANCEGUIDE_RATE_LIMIT_RPS", 0.5),
		LimitBurst:                    envIntOr("TRANCEGUIDE_RATE_LIMIT_BURST", 3),
		LimitMaxConcurrentRequests:    envIntOr("TRANCEGUIDE_MAX_CONCURRENT_REQUESTS", 4),
		ReadHeaderTimeout:             envDurationOr("TRANCEGUIDE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("TRANCEGUIDE_READ_TIMEOUT", 15*time.Second),
		HandlerTimeout:                envDurationOr("TRANCEGUIDE_TOTAL_REQUEST_TIMEOUT", 20*time.Second),
		ShutdownGracePeriod:           envDurationOr("TRANCEGUIDE_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		UpstreamConnectTimeout:        envDurationOr("TRANCEGUIDE_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("TRANCEGUIDE_RESPONSE_HEADER_TIMEOUT", 15*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("TRANCEGUIDE_TOKEN_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("TRANCEGUIDE_TOKEN_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("TRANCEGUIDE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if u, err := url.Parse(cfg.OpenAIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("TRANCEGUIDE_OPENAI_BASE_URL must be an absolute URL")
	}
	if strings.TrimSpace(cfg.RealtimeModel) == "" {
		return Config{}, fmt.Errorf("TRANCEGUIDE_REALTIME_MODEL must not be empty")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_RESPONSE_HEADER_TIMEOUT must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_MAX_CONCURRENT_REQUESTS must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("TRANCEGUIDE_TOKEN_API_KEYS must be set when TRANCEGUIDE_TOKEN_AUTH_MODE=required")
	}

	return cfg, nil
}

// CORSAllowsAll reports whether every origin is allowed.
func (c Config) CORSAllowsAll() bool {
	_, ok := c.CORSAllowedOrigins[CORSAllowAll]
	return ok
}

// LimitsEnabled reports whether any per-principal limit is active.
func (c Config) LimitsEnabled() bool {
	return (c.LimitRPS > 0 && c.LimitBurst > 0) || c.LimitMaxConcurrentRequests > 0
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
