// Package registry is the in-memory single source of truth for transfer
// records. All mutation goes through atomic Update calls that enforce the
// state machine's transition table.
package registry

import (
	"time"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
)

// State is a transfer's position in the lifecycle state machine.
type State string

const (
	StateQuoting              State = "quoting"
	StateApproving            State = "approving"
	StateSubmitting           State = "submitting"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateAwaitingClaim        State = "awaiting_claim"
	StateClaiming             State = "claiming"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// transitions is the allowed forward edges of the state machine.
// Claiming -> AwaitingClaim is the one deliberate back edge: a failed claim
// returns to AwaitingClaim so the caller can retry without resubmitting.
var transitions = map[State][]State{
	StateQuoting:   {StateApproving, StateSubmitting, StateFailed, StateCancelled},
	StateApproving: {StateSubmitting, StateFailed, StateCancelled},
	// Submitting may jump straight to AwaitingClaim or Completed when a
	// poll observes the destination side before the local submission
	// acknowledgment lands.
	StateSubmitting:           {StateAwaitingConfirmation, StateAwaitingClaim, StateCompleted, StateFailed},
	StateAwaitingConfirmation: {StateAwaitingClaim, StateCompleted, StateFailed},
	StateAwaitingClaim:        {StateClaiming, StateFailed},
	StateClaiming:             {StateCompleted, StateAwaitingClaim, StateFailed},
	StateCompleted:            nil,
	StateFailed:               nil,
	StateCancelled:            nil,
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether the edge from -> to exists in the table.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransferRecord is the mutable unit of work for one cross-chain transfer,
// keyed by a caller-supplied id that is unique per attempt.
type TransferRecord struct {
	ID         string                `json:"id"`
	Intent     bridge.TransferIntent `json:"intent"`
	Quote      *bridge.Quote         `json:"quote,omitempty"`
	BridgeKind string                `json:"bridge_kind"`
	State      State                 `json:"state"`

	SourceTxRef      bridge.TxRef `json:"source_tx_ref,omitempty"`
	DestinationTxRef bridge.TxRef `json:"destination_tx_ref,omitempty"`

	// ClaimPayload is protocol-specific claim data captured from polling,
	// passed through to the adapter unexamined.
	ClaimPayload []byte `json:"claim_payload,omitempty"`

	// QuoteConfirmedAt is set when the caller accepts the quote; execution
	// never proceeds on an unconfirmed quote.
	QuoteConfirmedAt *time.Time `json:"quote_confirmed_at,omitempty"`

	// CancelRequested is the cooperative cancellation flag, applied at the
	// next phase boundary.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	Attempt       int    `json:"attempt"`
	TransientErrs int    `json:"transient_errs"`
	LastError     string `json:"last_error,omitempty"`
	FailedPhase   string `json:"failed_phase,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy safe to hand outside the registry. The intent and
// quote are treated as immutable and shared; the claim payload is copied.
func (r *TransferRecord) Clone() *TransferRecord {
	cp := *r
	if r.ClaimPayload != nil {
		cp.ClaimPayload = append([]byte(nil), r.ClaimPayload...)
	}
	if r.QuoteConfirmedAt != nil {
		t := *r.QuoteConfirmedAt
		cp.QuoteConfirmedAt = &t
	}
	return &cp
}
