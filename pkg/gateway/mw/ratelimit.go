package mw

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/gateway/config"
	"github.com/vango-go/tranceguide/pkg/gateway/principal"
	"github.com/vango-go/tranceguide/pkg/gateway/ratelimit"
)

// RateLimit charges each token request to its principal: the client API key
// when one authenticated, otherwise the caller's address.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, logger *slog.Logger, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		p := principal.Resolve(r, cfg.TrustProxyHeaders)
		dec := limiter.Acquire(p.Key, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if logger != nil {
				logger.Warn("rate limited", "request_id", reqID, "principal_kind", p.Kind, "principal", p.Key)
			}
			var retryAfter *int
			if dec.RetryAfter > 0 {
				v := dec.RetryAfter
				retryAfter = &v
				w.Header().Set("Retry-After", strconv.Itoa(v))
			}
			writeJSONError(w, http.StatusTooManyRequests, &core.Error{
				Type:       core.ErrRateLimit,
				Message:    "rate limit exceeded",
				RequestID:  reqID,
				RetryAfter: retryAfter,
			})
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
