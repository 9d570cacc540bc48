package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/gateway/apierror"
	"github.com/vango-go/tranceguide/pkg/gateway/config"
	"github.com/vango-go/tranceguide/pkg/gateway/lifecycle"
	"github.com/vango-go/tranceguide/pkg/gateway/mw"
	"github.com/vango-go/tranceguide/pkg/gateway/upstream"
)

// TokenHandler serves POST /api/realtime/token: it mints one ephemeral
// realtime credential per request.
type TokenHandler struct {
	Config    config.Config
	Minter    upstream.Minter
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

func (h TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrAPI, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}
	if h.Minter == nil {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrAPI, Message: "server configuration error"}, http.StatusInternalServerError)
		return
	}

	// The request carries no parameters; a body is read only to enforce the limit.
	if r.Body != nil {
		body := http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
		if _, err := io.Copy(io.Discard, body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeCoreErrorJSON(w, reqID, &core.Error{
					Type:    core.ErrInvalidRequest,
					Message: "request body too large",
					Param:   "body",
				}, http.StatusRequestEntityTooLarge)
				return
			}
			writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("unable to read request body"), http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	if h.Config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.HandlerTimeout)
		defer cancel()
	}

	secret, err := h.Minter.Mint(ctx)
	if err != nil {
		coreErr, status := apierror.FromError(err, reqID)
		if coreErr.RetryAfter != nil {
			w.Header().Set("Retry-After", strconv.Itoa(*coreErr.RetryAfter))
		}
		logger.Warn("token mint failed", "request_id", reqID, "type", coreErr.Type, "code", coreErr.Code, "status", status)
		writeCoreErrorJSON(w, reqID, coreErr, status)
		return
	}

	resp := tokenResponse{Token: secret.Value}
	if !secret.ExpiresAt.IsZero() {
		resp.ExpiresAt = secret.ExpiresAt.Unix()
	}
	w.Header().Set("Cache-Control", "no-store")
	logger.Info("token issued", "request_id", reqID, "expires_at", secret.ExpiresAt)
	writeJSON(w, http.StatusOK, resp)
}
