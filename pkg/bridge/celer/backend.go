package celer

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Backend is the cBridge gateway surface the adapter depends on. The
// production implementation is the HTTP gateway client in gateway.go;
// tests substitute fakes.
type Backend interface {
	// EstimateFee prices a transfer between two chains.
	EstimateFee(ctx context.Context, req *FeeRequest) (*FeeEstimate, error)

	// BuildTransferTx returns the calldata for the source-chain send
	// against the cBridge pool contract.
	BuildTransferTx(ctx context.Context, req *TransferRequest) (*UnsignedTx, error)

	// TransferStatus reports gateway-side progress for a source transaction.
	TransferStatus(ctx context.Context, sourceTxHash string) (*StatusReport, error)
}

// FeeRequest asks the gateway to price a transfer.
type FeeRequest struct {
	SourceChainID int64
	DestChainID   int64
	TokenSymbol   string
	Amount        *big.Int
	Slippage      decimal.Decimal
}

// FeeEstimate is the gateway's price for a transfer. Fees are denominated
// in the source token's smallest unit.
type FeeEstimate struct {
	BaseFee       decimal.Decimal
	ProtocolFee   decimal.Decimal
	EstimatedOut  *big.Int
	MaxSlippageMs int64
}

// TransferRequest asks the gateway for source-chain send calldata.
type TransferRequest struct {
	SourceChainID int64
	DestChainID   int64
	TokenAddress  string
	Amount        *big.Int
	Sender        string
	Recipient     string
	MaxSlippageMs int64
	Nonce         uint64
}

// UnsignedTx is calldata targeting a contract, ready for signing.
type UnsignedTx struct {
	To       string
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Gateway-side transfer statuses, as reported by TransferStatus.
const (
	StatusUnknown          = "TRANSFER_UNKNOWN"
	StatusSubmitting       = "TRANSFER_SUBMITTING"
	StatusWaitingConfirm   = "TRANSFER_WAITING_FOR_SGN_CONFIRMATION"
	StatusWaitingRelease   = "TRANSFER_WAITING_FOR_FUND_RELEASE"
	StatusCompleted        = "TRANSFER_COMPLETED"
	StatusToBeRefunded     = "TRANSFER_TO_BE_REFUNDED"
	StatusRequestingRefund = "TRANSFER_REQUESTING_REFUND"
	StatusRefunded         = "TRANSFER_REFUNDED"
	StatusFailed           = "TRANSFER_FAILED"
)

// StatusReport is the gateway's view of one transfer.
type StatusReport struct {
	Status     string
	DestTxHash string
}
