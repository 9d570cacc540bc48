package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/tranceguide/pkg/gateway/config"
)

const (
	corsAllowedMethods = "POST, OPTIONS"
	corsExposedHeaders = "X-Request-ID, Retry-After"
)

var corsAllowedHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-Request-ID",
}, ", ")

// CORS attaches headers for allowlisted origins. With "*" in the allowlist
// every origin is answered with a wildcard.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	allowed := cfg.CORSAllowedOrigins
	allowAll := cfg.CORSAllowsAll()

	allowOrigin := func(origin string) (string, bool) {
		if allowAll {
			return "*", true
		}
		if origin == "" {
			return "", false
		}
		if _, ok := allowed[origin]; ok {
			return origin, true
		}
		return "", false
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))

		if r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != "" {
			value, ok := allowOrigin(origin)
			if !ok {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", value)
			if value != "*" {
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if value, ok := allowOrigin(origin); ok {
			w.Header().Set("Access-Control-Allow-Origin", value)
			if value != "*" {
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}

		next.ServeHTTP(w, r)
	})
}
