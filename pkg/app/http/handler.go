// Package http provides HTTP utilities including chi-compatible error handling
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
)

// HandlerFunc defines a function that returns an error for clean error handling
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// HandleError wraps an error-returning HandlerFunc into a standard http.HandlerFunc
// This allows using clean error-returning handlers with any router (chi, http.ServeMux, etc.)
//
// Usage with chi:
//
//	r.Post("/transfers", http.HandleError(handler.beginTransfer))
func HandleError(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			DefaultErrorHandler(w, err)
		}
	}
}

type errorResponse struct {
	ErrMsg  string `json:"error"`
	ErrCode string `json:"code,omitempty"`
	Phase   string `json:"phase,omitempty"`
}

// DefaultErrorHandler handles errors returned from HTTP handlers, mapping
// bridge error codes onto HTTP statuses.
func DefaultErrorHandler(w http.ResponseWriter, err error) {
	var bridgeErr *bridge.Error

	w.Header().Set("Content-Type", "application/json")

	if errors.As(err, &bridgeErr) {
		w.WriteHeader(StatusForCode(bridgeErr.Code))
		_ = json.NewEncoder(w).Encode(&errorResponse{
			ErrMsg:  bridgeErr.Error(),
			ErrCode: string(bridgeErr.Code),
			Phase:   string(bridgeErr.Phase),
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(&errorResponse{
		ErrMsg: "Unexpected Service Error",
	})
}

// StatusForCode maps a bridge error code onto an HTTP status.
func StatusForCode(code bridge.Code) int {
	switch code {
	case bridge.CodeInvalidIntent:
		return http.StatusBadRequest
	case bridge.CodeNotFound:
		return http.StatusNotFound
	case bridge.CodeDuplicateTransfer, bridge.CodeIllegalTransition:
		return http.StatusConflict
	case bridge.CodeQuoteExpired, bridge.CodeClaimExpired:
		return http.StatusGone
	case bridge.CodeRateLimited:
		return http.StatusTooManyRequests
	case bridge.CodeInsufficientFunds, bridge.CodeInsufficientGas:
		return http.StatusPaymentRequired
	case bridge.CodeRouteUnavailable:
		return http.StatusUnprocessableEntity
	case bridge.CodeBackendUnreachable, bridge.CodeTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
