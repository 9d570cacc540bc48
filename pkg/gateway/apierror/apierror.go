// Package apierror maps errors onto the JSON error envelope and HTTP status.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/tranceguide/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError returns the client-visible error for err. Only fields of a
// *core.Error are copied; causes and unknown errors never reach the body.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return &core.Error{
			Type:       coreErr.Type,
			Message:    coreErr.Message,
			Param:      coreErr.Param,
			Code:       coreErr.Code,
			RetryAfter: coreErr.RetryAfter,
			RequestID:  requestID,
		}, statusFromType(coreErr.Type)
	}

	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrToken, core.ErrConnection, core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
