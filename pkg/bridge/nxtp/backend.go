package nxtp

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Backend is the nxtp messaging surface the adapter depends on: the router
// auction for pricing, prepare-transaction construction, cross-chain status
// and fulfill-transaction construction. The production implementation is
// the HTTP router client in router.go; tests substitute fakes.
type Backend interface {
	// RequestBid runs the router auction and returns the winning bid.
	RequestBid(ctx context.Context, req *BidRequest) (*Bid, error)

	// BuildPrepareTx returns the source-chain prepare calldata for a bid.
	BuildPrepareTx(ctx context.Context, bid *Bid) (*UnsignedTx, error)

	// TransferStatus reports cross-chain progress for a prepared transfer.
	TransferStatus(ctx context.Context, transactionID string) (*StatusReport, error)

	// BuildFulfillTx returns the destination-chain fulfill calldata from a
	// claim's signed bid material.
	BuildFulfillTx(ctx context.Context, claim *ClaimData) (*UnsignedTx, error)
}

// BidRequest asks the router network for a price.
type BidRequest struct {
	SourceChainID int64
	DestChainID   int64
	SourceToken   string
	DestToken     string
	Amount        *big.Int
	Sender        string
	Recipient     string
	Expiry        int64
}

// Bid is a router's signed offer to fulfill a transfer.
type Bid struct {
	TransactionID string
	Router        string
	DestAmount    *big.Int
	RouterFee     decimal.Decimal
	GasFee        decimal.Decimal
	EncodedBid    []byte
	BidSignature  []byte
	ExpiresAt     int64
}

// UnsignedTx is calldata targeting a transaction-manager contract.
type UnsignedTx struct {
	To       string
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Cross-chain transaction statuses reported by TransferStatus.
const (
	StatusNone              = "NONE"
	StatusPrepared          = "PREPARED"
	StatusReceiverPrepared  = "RECEIVER_PREPARED"
	StatusReceiverFulfilled = "RECEIVER_FULFILLED"
	StatusReceiverCancelled = "RECEIVER_CANCELLED"
	StatusSenderCancelled   = "SENDER_CANCELLED"
	StatusExpired           = "EXPIRED"
)

// StatusReport is the router network's view of one transfer.
type StatusReport struct {
	Status          string
	FulfilledTxHash string
	// Signed bid material, present once the receiver side is prepared.
	EncodedBid   []byte
	BidSignature []byte
}

// ClaimData is the material needed to fulfill on the destination chain.
// It round-trips through the transfer record as the opaque claim payload.
type ClaimData struct {
	TransactionID string `json:"transaction_id"`
	EncodedBid    []byte `json:"encoded_bid"`
	BidSignature  []byte `json:"bid_signature"`
	RelayerFee    string `json:"relayer_fee"`
}
