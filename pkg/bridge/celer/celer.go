// Package celer adapts the cBridge liquidity-pool protocol. cBridge is
// claimless: once the source send is confirmed, off-chain relayers release
// funds on the destination chain with no action from the sender.
package celer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/chain"
)

// Kind is the protocol tag transfers through this adapter carry.
const Kind = "celer"

var approveSelector = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]

// Config holds the adapter's per-deployment settings.
type Config struct {
	// PoolContracts maps chain id to the cBridge pool contract granted the
	// token allowance and targeted by the source send.
	PoolContracts map[int64]string
	// QuoteTTL bounds how long a quote stays executable. Default 5m.
	QuoteTTL time.Duration
	// Slippage tolerance forwarded to the gateway, as a fraction.
	Slippage decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 5 * time.Minute
	}
	if c.Slippage.IsZero() {
		c.Slippage = decimal.NewFromFloat(0.005)
	}
	return c
}

// Adapter implements bridge.Adapter over a cBridge gateway backend.
type Adapter struct {
	cfg     Config
	backend Backend
	chains  map[int64]chain.Accessor
	logger  *zap.Logger
}

// New builds a cBridge adapter.
func New(cfg Config, backend Backend, chains map[int64]chain.Accessor, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg.withDefaults(),
		backend: backend,
		chains:  chains,
		logger:  logger.Named("celer"),
	}
}

func (a *Adapter) Kind() string { return Kind }

// NeedsClaim is false: relayers release destination funds automatically.
func (a *Adapter) NeedsClaim() bool { return false }

// NeedsApproval is true for any non-native source token.
func (a *Adapter) NeedsApproval(intent *bridge.TransferIntent) bool {
	return !intent.SourceToken.Native
}

// Spender returns the pool contract for the intent's source chain.
func (a *Adapter) Spender(intent *bridge.TransferIntent) string {
	return a.cfg.PoolContracts[intent.SourceChainID]
}

// Quote prices the intent through the gateway's fee estimator.
func (a *Adapter) Quote(ctx context.Context, intent *bridge.TransferIntent) (*bridge.Quote, error) {
	pool, ok := a.cfg.PoolContracts[intent.SourceChainID]
	if !ok || pool == "" {
		return nil, bridge.Errorf(bridge.CodeRouteUnavailable, bridge.PhaseQuote,
			"no cBridge pool configured on chain %d", intent.SourceChainID)
	}
	if _, ok := a.cfg.PoolContracts[intent.DestChainID]; !ok {
		return nil, bridge.Errorf(bridge.CodeRouteUnavailable, bridge.PhaseQuote,
			"no cBridge pool configured on chain %d", intent.DestChainID)
	}

	est, err := a.backend.EstimateFee(ctx, &FeeRequest{
		SourceChainID: intent.SourceChainID,
		DestChainID:   intent.DestChainID,
		TokenSymbol:   intent.SourceToken.Symbol,
		Amount:        intent.Amount,
		Slippage:      a.cfg.Slippage,
	})
	if err != nil {
		return nil, err
	}
	if est.EstimatedOut == nil || est.EstimatedOut.Sign() <= 0 {
		return nil, bridge.Errorf(bridge.CodeRouteUnavailable, bridge.PhaseQuote,
			"pool liquidity too thin for %s %s on chain %d",
			intent.Amount, intent.SourceToken.Symbol, intent.DestChainID)
	}

	return &bridge.Quote{
		DestAmount: est.EstimatedOut,
		Fees: bridge.FeeBreakdown{
			Protocol: est.ProtocolFee,
			Relayer:  est.BaseFee,
		},
		Route: []bridge.RouteHop{
			{Bridge: Kind, ChainID: intent.SourceChainID, Channel: "pool"},
			{Bridge: Kind, ChainID: intent.DestChainID, Channel: "pool"},
		},
		ExpiresAt: time.Now().Add(a.cfg.QuoteTTL),
	}, nil
}

// Approve grants the pool contract twice the transfer amount so an
// immediate re-quote and retry does not need a second approval.
func (a *Adapter) Approve(ctx context.Context, intent *bridge.TransferIntent, amount *big.Int) (bridge.TxRef, error) {
	accessor, ok := a.chains[intent.SourceChainID]
	if !ok {
		return "", bridge.Errorf(bridge.CodeApprovalRejected, bridge.PhaseApprove,
			"chain %d not connected", intent.SourceChainID)
	}
	allowance := new(big.Int).Lsh(amount, 1)
	ref, err := accessor.Submit(ctx, chain.TxRequest{
		To:   intent.SourceToken.Address,
		Data: approveCalldata(a.Spender(intent), allowance),
	})
	if err != nil {
		return "", bridge.NewError(bridge.CodeApprovalRejected, bridge.PhaseApprove, err)
	}
	a.logger.Info("Approval submitted",
		zap.String("token", intent.SourceToken.Address),
		zap.String("spender", a.Spender(intent)),
		zap.String("allowance", allowance.String()),
		zap.String("tx", string(ref)))
	return ref, nil
}

// SubmitSource checks funds and sends the pool transfer transaction.
func (a *Adapter) SubmitSource(ctx context.Context, intent *bridge.TransferIntent, quote *bridge.Quote) (bridge.TxRef, error) {
	accessor, ok := a.chains[intent.SourceChainID]
	if !ok {
		return "", bridge.Errorf(bridge.CodeSubmissionRejected, bridge.PhaseSubmit,
			"chain %d not connected", intent.SourceChainID)
	}

	balance, err := accessor.GetBalance(ctx, intent.Sender, intent.SourceToken)
	if err != nil {
		return "", bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhaseSubmit, err)
	}
	if balance.Cmp(intent.Amount) < 0 {
		return "", bridge.Errorf(bridge.CodeInsufficientFunds, bridge.PhaseSubmit,
			"balance %s below transfer amount %s", balance, intent.Amount)
	}

	unsigned, err := a.backend.BuildTransferTx(ctx, &TransferRequest{
		SourceChainID: intent.SourceChainID,
		DestChainID:   intent.DestChainID,
		TokenAddress:  intent.SourceToken.Address,
		Amount:        intent.Amount,
		Sender:        intent.Sender,
		Recipient:     intent.Recipient,
		MaxSlippageMs: slippageMillis(a.cfg.Slippage),
		Nonce:         uint64(time.Now().UnixNano()),
	})
	if err != nil {
		return "", err
	}

	ref, err := accessor.Submit(ctx, chain.TxRequest{
		To:       unsigned.To,
		Data:     unsigned.Data,
		Value:    unsigned.Value,
		GasLimit: unsigned.GasLimit,
	})
	if err != nil {
		return "", bridge.NewError(bridge.CodeSubmissionRejected, bridge.PhaseSubmit, err)
	}
	return ref, nil
}

// PollStatus maps gateway statuses onto the neutral transfer statuses.
// Refund paths surface as reverted: from the sender's perspective the
// transfer did not happen and funds return to the source chain.
func (a *Adapter) PollStatus(ctx context.Context, sourceTxRef bridge.TxRef, intent *bridge.TransferIntent) (*bridge.PollResult, error) {
	report, err := a.backend.TransferStatus(ctx, string(sourceTxRef))
	if err != nil {
		return nil, bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhasePoll, err)
	}

	switch report.Status {
	case StatusCompleted:
		return &bridge.PollResult{
			Status:    bridge.StatusDestinationFulfilled,
			DestTxRef: bridge.TxRef(report.DestTxHash),
		}, nil
	case StatusToBeRefunded, StatusRequestingRefund, StatusRefunded, StatusFailed:
		return &bridge.PollResult{Status: bridge.StatusReverted}, nil
	default:
		// Unknown, submitting, waiting for SGN or fund release: in flight.
		return &bridge.PollResult{Status: bridge.StatusPending}, nil
	}
}

// ClaimDestination is never reached for cBridge; NeedsClaim is false.
func (a *Adapter) ClaimDestination(ctx context.Context, intent *bridge.TransferIntent, claimPayload []byte) (bridge.TxRef, error) {
	return "", bridge.Errorf(bridge.CodeClaimRejected, bridge.PhaseClaim,
		"cBridge transfers complete without a claim")
}

func approveCalldata(spender string, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, approveSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(spender).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

func slippageMillis(s decimal.Decimal) int64 {
	// The gateway expects slippage in units of 1e-6.
	return s.Mul(decimal.NewFromInt(1_000_000)).IntPart()
}
