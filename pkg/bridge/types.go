// Package bridge defines the protocol-neutral types and the capability
// interface every bridge protocol adapter implements.
package bridge

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// TxRef is an opaque reference to an on-chain transaction (hash or an
// adapter-internal id). The orchestrator never interprets it.
type TxRef string

// Token identifies an asset on one chain.
type Token struct {
	Address  string `json:"address" validate:"required_unless=Native true"`
	Symbol   string `json:"symbol" validate:"required"`
	Decimals int    `json:"decimals" validate:"gte=0,lte=36"`
	Native   bool   `json:"native"`
}

// TransferIntent is the immutable description of a desired cross-chain
// transfer. Created once by the caller and never mutated afterwards.
type TransferIntent struct {
	SourceChainID int64    `json:"source_chain_id" validate:"required,gt=0"`
	DestChainID   int64    `json:"dest_chain_id" validate:"required,gt=0,nefield=SourceChainID"`
	SourceToken   Token    `json:"source_token"`
	DestToken     Token    `json:"dest_token"`
	Amount        *big.Int `json:"amount" validate:"required"`
	Sender        string   `json:"sender" validate:"required"`
	Recipient     string   `json:"recipient" validate:"required"`
	RouteHint     string   `json:"route_hint,omitempty"`

	// Deadline bounds how long the transfer may stay in flight. Zero means
	// the orchestrator applies its configured maximum transfer duration.
	Deadline time.Time `json:"deadline,omitempty"`
}

var validate = validator.New()

// Validate checks structural validity of the intent. Both reference
// adapters target EVM chains, so sender and recipient must be hex
// addresses.
func (in *TransferIntent) Validate() error {
	if err := validate.Struct(in); err != nil {
		return NewError(CodeInvalidIntent, PhaseQuote, err)
	}
	if in.Amount == nil || in.Amount.Sign() <= 0 {
		return Errorf(CodeInvalidIntent, PhaseQuote, "amount must be a positive integer in the token's smallest unit")
	}
	if !common.IsHexAddress(in.Sender) {
		return Errorf(CodeInvalidIntent, PhaseQuote, "invalid sender address %q", in.Sender)
	}
	if !common.IsHexAddress(in.Recipient) {
		return Errorf(CodeInvalidIntent, PhaseQuote, "invalid recipient address %q", in.Recipient)
	}
	if !in.SourceToken.Native && !common.IsHexAddress(in.SourceToken.Address) {
		return Errorf(CodeInvalidIntent, PhaseQuote, "invalid source token address %q", in.SourceToken.Address)
	}
	return nil
}

// FeeBreakdown splits the quoted cost between the protocol itself and
// whichever relayer or bonder advances liquidity on the destination chain.
// Values are denominated in the source token.
type FeeBreakdown struct {
	Protocol decimal.Decimal `json:"protocol"`
	Relayer  decimal.Decimal `json:"relayer"`
}

// Total returns protocol + relayer fee.
func (f FeeBreakdown) Total() decimal.Decimal {
	return f.Protocol.Add(f.Relayer)
}

// RouteHop is one leg of a quoted route.
type RouteHop struct {
	Bridge  string `json:"bridge"`
	ChainID int64  `json:"chain_id"`
	Channel string `json:"channel,omitempty"`
}

// Quote is a time-bounded estimate of a transfer's outcome and cost.
// Quotes are advisory; the orchestrator re-validates expiry before
// submission and re-quotes when stale.
type Quote struct {
	DestAmount *big.Int     `json:"dest_amount"`
	Fees       FeeBreakdown `json:"fees"`
	Route      []RouteHop   `json:"route"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

// Expired reports whether the quote is past its expiry at the given time.
func (q *Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt)
}

// TransferStatus is the protocol-neutral cross-chain status an adapter
// reports from PollStatus.
type TransferStatus string

const (
	// StatusPending means the transfer has not been observed on the
	// destination side yet. This is a normal result, not an error.
	StatusPending TransferStatus = "pending"
	// StatusDestinationPrepared means funds are locked or prepared on the
	// destination chain and an explicit claim is required to release them.
	StatusDestinationPrepared TransferStatus = "destination_prepared"
	// StatusDestinationFulfilled means the recipient has been paid out on
	// the destination chain with no further action required.
	StatusDestinationFulfilled TransferStatus = "destination_fulfilled"
	// StatusExpired means the protocol-level transfer window has elapsed.
	StatusExpired TransferStatus = "expired"
	// StatusReverted means the source-chain transaction reverted.
	StatusReverted TransferStatus = "reverted"
)

// rank orders statuses by progress so noisy polls can never move a
// transfer backwards.
var statusRank = map[TransferStatus]int{
	StatusPending:              0,
	StatusDestinationPrepared:  1,
	StatusDestinationFulfilled: 2,
}

// MoreAdvanced reports whether s represents strictly more progress than
// other. Terminal failure statuses are not ranked; they always apply.
func (s TransferStatus) MoreAdvanced(other TransferStatus) bool {
	return statusRank[s] > statusRank[other]
}

// PollResult is what an adapter observed for an in-flight transfer.
type PollResult struct {
	Status TransferStatus
	// ClaimPayload carries protocol-specific data needed for the claim step
	// (signature, encoded bid, proof bytes). Opaque to the orchestrator.
	ClaimPayload []byte
	// DestTxRef is the destination-side transaction, when the adapter
	// already knows it (fulfilled transfers).
	DestTxRef TxRef
}

func (r *PollResult) String() string {
	return fmt.Sprintf("poll{status=%s dest=%s payload=%dB}", r.Status, r.DestTxRef, len(r.ClaimPayload))
}
