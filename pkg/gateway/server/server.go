package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/tranceguide/pkg/gateway/config"
	"github.com/vango-go/tranceguide/pkg/gateway/handlers"
	"github.com/vango-go/tranceguide/pkg/gateway/lifecycle"
	"github.com/vango-go/tranceguide/pkg/gateway/mw"
	"github.com/vango-go/tranceguide/pkg/gateway/ratelimit"
	"github.com/vango-go/tranceguide/pkg/gateway/upstream"
)

// TokenPath is the route browsers and the CLI fetch credentials from.
const TokenPath = "/api/realtime/token"

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	minter    upstream.Minter
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   cfg.UpstreamConnectTimeout,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		minter: &upstream.OpenAI{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.RealtimeModel,
			HTTPClient: httpClient,
			Logger:     logger,
		},
		lifecycle: &lifecycle.Lifecycle{},
	}
	if cfg.LimitsEnabled() {
		s.limiter = ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
		})
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle(TokenPath, handlers.TokenHandler{
		Config:    s.cfg,
		Minter:    s.minter,
		Lifecycle: s.lifecycle,
		Logger:    s.logger,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, s.logger, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes readiness fail and stops issuing new tokens.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
	s.logger.Info("draining")
}
