package bridge

import (
	"errors"
	"fmt"
)

// Code classifies every failure the orchestrator and adapters can surface.
type Code string

const (
	CodeInvalidIntent      Code = "invalid_intent"
	CodeDuplicateTransfer  Code = "duplicate_transfer_id"
	CodeRouteUnavailable   Code = "route_unavailable"
	CodeRateLimited        Code = "rate_limited"
	CodeQuoteExpired       Code = "quote_expired"
	CodeApprovalRejected   Code = "approval_rejected"
	CodeInsufficientFunds  Code = "insufficient_balance"
	CodeInsufficientGas    Code = "insufficient_gas"
	CodeSubmissionRejected Code = "submission_rejected"
	CodeClaimRejected      Code = "claim_rejected"
	CodeClaimExpired       Code = "claim_expired"
	// CodeAlreadyClaimed is not a failure: the orchestrator maps it to
	// idempotent completion.
	CodeAlreadyClaimed     Code = "already_claimed"
	CodeTimeout            Code = "timeout"
	CodeIllegalTransition  Code = "illegal_transition"
	CodeNotFound           Code = "not_found"
	CodeBackendUnreachable Code = "backend_unreachable"
)

// Phase names the lifecycle step a failure occurred in, so a terminal
// record tells the caller whether a fresh attempt makes sense.
type Phase string

const (
	PhaseQuote   Phase = "quote"
	PhaseApprove Phase = "approve"
	PhaseSubmit  Phase = "submit"
	PhasePoll    Phase = "poll"
	PhaseClaim   Phase = "claim"
)

// Error is the error type shared across the orchestrator, registry and
// adapters. It wraps an underlying cause and stays errors.Is/As friendly.
type Error struct {
	Code  Code
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Phase, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Code, e.Phase)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two bridge errors by code, ignoring phase and cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError wraps err with a code and phase.
func NewError(code Code, phase Phase, err error) *Error {
	return &Error{Code: code, Phase: phase, Err: err}
}

// Errorf builds a bridge error from a format string.
func Errorf(code Code, phase Phase, format string, args ...any) *Error {
	return &Error{Code: code, Phase: phase, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the classification code from err, or "" when err is not
// a bridge error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Transient reports whether err is worth retrying automatically.
func Transient(err error) bool {
	switch CodeOf(err) {
	case CodeBackendUnreachable, CodeRateLimited, CodeInsufficientGas:
		return true
	}
	return false
}
