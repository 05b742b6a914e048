package bridge

import (
	"context"
	"math/big"
)

// Adapter is the uniform capability set every bridge protocol implements.
// The orchestrator drives a transfer through exactly one adapter, chosen
// at creation time; a transfer never switches protocols mid-flight.
//
// Every method may block on the network and must honor ctx cancellation.
// Failures are reported as *Error values with the codes from errors.go.
type Adapter interface {
	// Kind returns the protocol tag ("celer", "nxtp", ...) recorded as the
	// transfer's bridgeKind.
	Kind() string

	// NeedsClaim reports whether this protocol requires an explicit
	// destination-chain claim step after the destination side is prepared.
	// Claimless protocols complete directly from polling.
	NeedsClaim() bool

	// Quote prices the intent. Fails with CodeRouteUnavailable when no path
	// connects the chains/assets, CodeRateLimited when the backend throttles.
	Quote(ctx context.Context, intent *TransferIntent) (*Quote, error)

	// NeedsApproval is a pure function of the source asset. Native assets
	// never need approval.
	NeedsApproval(intent *TransferIntent) bool

	// Spender returns the protocol contract that must be granted the
	// source-token allowance for this intent.
	Spender(intent *TransferIntent) string

	// Approve grants the protocol's spender contract an allowance of at
	// least amount. Adapters may over-approve to avoid repeat approvals.
	Approve(ctx context.Context, intent *TransferIntent, amount *big.Int) (TxRef, error)

	// SubmitSource submits the source-chain transaction for the accepted
	// quote and returns its reference as soon as the chain accepts it.
	SubmitSource(ctx context.Context, intent *TransferIntent, quote *Quote) (TxRef, error)

	// PollStatus reports cross-chain progress for a submitted transfer.
	// "Still pending" is a normal StatusPending result, never an error;
	// only backend-unreachable conditions are returned as errors.
	PollStatus(ctx context.Context, sourceTxRef TxRef, intent *TransferIntent) (*PollResult, error)

	// ClaimDestination performs the destination-chain claim with the
	// payload captured from polling. Must be safely retryable: a repeat
	// claim fails with CodeAlreadyClaimed, which callers treat as success.
	ClaimDestination(ctx context.Context, intent *TransferIntent, claimPayload []byte) (TxRef, error)
}
