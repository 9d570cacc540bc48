// Package config reads the tranceguide client configuration: a YAML file
// layered over defaults, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/connector"
)

// DefaultPath is where the client looks for its config file.
const DefaultPath = "tranceguide.yaml"

type Config struct {
	// TokenURL is the credential endpoint of a tranceguide-token server.
	TokenURL string `yaml:"token_url"`
	// RealtimeURL is the realtime websocket endpoint.
	RealtimeURL string `yaml:"realtime_url"`

	Profile    live.SessionProfile `yaml:"profile"`
	Microphone MicrophoneConfig    `yaml:"microphone"`
	Playback   PlaybackConfig      `yaml:"playback"`
	Retry      RetryConfig         `yaml:"retry"`
	Log        LogConfig           `yaml:"log"`
}

type MicrophoneConfig struct {
	FFmpeg           string              `yaml:"ffmpeg"`
	Device           string              `yaml:"device"`
	EchoCancelDevice string              `yaml:"echo_cancel_device"`
	ProbeTimeout     time.Duration       `yaml:"probe_timeout"`
	Constraints      live.MicConstraints `yaml:"constraints"`
}

type PlaybackConfig struct {
	Enabled bool   `yaml:"enabled"`
	FFplay  string `yaml:"ffplay"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      time.Duration `yaml:"jitter"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TokenURL:    "http://localhost:8787/api/realtime/token",
		RealtimeURL: "wss://api.openai.com/v1/realtime",
		Profile:     live.DefaultSessionProfile(),
		Microphone: MicrophoneConfig{
			FFmpeg:       "ffmpeg",
			ProbeTimeout: 5 * time.Second,
			Constraints:  live.DefaultMicConstraints(),
		},
		Playback: PlaybackConfig{
			Enabled: true,
			FFplay:  "ffplay",
		},
		Retry: RetryConfig{
			MaxAttempts: connector.DefaultMaxAttempts,
			BaseDelay:   connector.DefaultBaseDelay,
			Multiplier:  connector.DefaultMultiplier,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file at DefaultPath is not an error; an explicitly named file must
// exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write stores cfg as YAML at path, creating parent directories.
func Write(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := envString("TRANCEGUIDE_TOKEN_URL"); v != "" {
		c.TokenURL = v
	}
	if v := envString("TRANCEGUIDE_REALTIME_URL"); v != "" {
		c.RealtimeURL = v
	}
	if v := envString("TRANCEGUIDE_MODEL"); v != "" {
		c.Profile.Model = v
	}
	if v := envString("TRANCEGUIDE_VOICE"); v != "" {
		c.Profile.Voice = v
	}
	if v := envString("TRANCEGUIDE_MIC_DEVICE"); v != "" {
		c.Microphone.Device = v
	}
	if v := envString("TRANCEGUIDE_ECHO_CANCEL_DEVICE"); v != "" {
		c.Microphone.EchoCancelDevice = v
	}
	if v := envString("TRANCEGUIDE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := envString("TRANCEGUIDE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := envString("TRANCEGUIDE_PLAYBACK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRANCEGUIDE_PLAYBACK must be a boolean")
		}
		c.Playback.Enabled = b
	}
	if v := envString("TRANCEGUIDE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRANCEGUIDE_MAX_ATTEMPTS must be an integer")
		}
		c.Retry.MaxAttempts = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := validURL(c.TokenURL, "http", "https"); err != nil {
		return fmt.Errorf("token_url: %w", err)
	}
	if err := validURL(c.RealtimeURL, "ws", "wss"); err != nil {
		return fmt.Errorf("realtime_url: %w", err)
	}
	if strings.TrimSpace(c.Profile.Model) == "" {
		return errors.New("profile.model must not be empty")
	}
	if c.Profile.Temperature < 0 || c.Profile.Temperature > 2 {
		return errors.New("profile.temperature must be within [0, 2]")
	}
	if c.Microphone.Constraints.Audio.SampleRate <= 0 {
		return errors.New("microphone.constraints.audio.sample_rate must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be > 0")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.Jitter < 0 {
		return errors.New("retry delays must be >= 0")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

// RetryPolicy converts the retry section for the connector.
func (c Config) RetryPolicy() connector.RetryPolicy {
	return connector.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		Multiplier:  c.Retry.Multiplier,
		Jitter:      c.Retry.Jitter,
	}
}

// NewLogger builds the slog logger described by the log section.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log.level must be one of debug|info|warn|error")
	}
	return level, nil
}

func validURL(raw string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, "|"))
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
