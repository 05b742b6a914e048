// Package nxtp adapts the nxtp locking protocol. nxtp transfers prepare
// funds on both chains and require an explicit destination-chain fulfill,
// so the adapter reports NeedsClaim and surfaces the signed bid material
// as the claim payload.
package nxtp

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/chain"
)

// Kind is the protocol tag transfers through this adapter carry.
const Kind = "nxtp"

var approveSelector = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]

// Config holds the adapter's per-deployment settings.
type Config struct {
	// TransactionManagers maps chain id to the nxtp transaction-manager
	// contract granted the token allowance and targeted by prepare/fulfill.
	TransactionManagers map[int64]string
	// QuoteTTL bounds how long a bid-backed quote stays executable.
	// Default 5m.
	QuoteTTL time.Duration
	// PrepareWindow is the protocol-level expiry requested for prepared
	// transfers. Default 48h, the protocol minimum plus margin.
	PrepareWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 5 * time.Minute
	}
	if c.PrepareWindow <= 0 {
		c.PrepareWindow = 48 * time.Hour
	}
	return c
}

// Adapter implements bridge.Adapter over an nxtp router backend.
type Adapter struct {
	cfg     Config
	backend Backend
	chains  map[int64]chain.Accessor
	logger  *zap.Logger

	// bids remembers the winning bid per intent so SubmitSource executes
	// the same bid that was quoted. Keyed by intent identity.
	bids bidCache
}

// New builds an nxtp adapter.
func New(cfg Config, backend Backend, chains map[int64]chain.Accessor, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg.withDefaults(),
		backend: backend,
		chains:  chains,
		logger:  logger.Named("nxtp"),
	}
}

func (a *Adapter) Kind() string { return Kind }

// NeedsClaim is true: prepared funds are released only by an explicit
// destination-chain fulfill.
func (a *Adapter) NeedsClaim() bool { return true }

// NeedsApproval is true for any non-native source token.
func (a *Adapter) NeedsApproval(intent *bridge.TransferIntent) bool {
	return !intent.SourceToken.Native
}

// Spender returns the transaction-manager contract for the source chain.
func (a *Adapter) Spender(intent *bridge.TransferIntent) string {
	return a.cfg.TransactionManagers[intent.SourceChainID]
}

// Quote runs the router auction and converts the winning bid to a quote.
func (a *Adapter) Quote(ctx context.Context, intent *bridge.TransferIntent) (*bridge.Quote, error) {
	if a.cfg.TransactionManagers[intent.SourceChainID] == "" {
		return nil, bridge.Errorf(bridge.CodeRouteUnavailable, bridge.PhaseQuote,
			"no transaction manager configured on chain %d", intent.SourceChainID)
	}
	if a.cfg.TransactionManagers[intent.DestChainID] == "" {
		return nil, bridge.Errorf(bridge.CodeRouteUnavailable, bridge.PhaseQuote,
			"no transaction manager configured on chain %d", intent.DestChainID)
	}

	bid, err := a.backend.RequestBid(ctx, &BidRequest{
		SourceChainID: intent.SourceChainID,
		DestChainID:   intent.DestChainID,
		SourceToken:   intent.SourceToken.Address,
		DestToken:     intent.DestToken.Address,
		Amount:        intent.Amount,
		Sender:        intent.Sender,
		Recipient:     intent.Recipient,
		Expiry:        time.Now().Add(a.cfg.PrepareWindow).Unix(),
	})
	if err != nil {
		return nil, err
	}
	if bid.DestAmount == nil || bid.DestAmount.Sign() <= 0 {
		return nil, bridge.Errorf(bridge.CodeRouteUnavailable, bridge.PhaseQuote,
			"no router bid for %s on chain %d", intent.SourceToken.Symbol, intent.DestChainID)
	}
	a.bids.put(intent, bid)

	expiresAt := time.Now().Add(a.cfg.QuoteTTL)
	if bid.ExpiresAt > 0 {
		if bidExpiry := time.Unix(bid.ExpiresAt, 0); bidExpiry.Before(expiresAt) {
			expiresAt = bidExpiry
		}
	}
	return &bridge.Quote{
		DestAmount: bid.DestAmount,
		Fees: bridge.FeeBreakdown{
			Protocol: bid.GasFee,
			Relayer:  bid.RouterFee,
		},
		Route: []bridge.RouteHop{
			{Bridge: Kind, ChainID: intent.SourceChainID, Channel: bid.Router},
			{Bridge: Kind, ChainID: intent.DestChainID, Channel: bid.Router},
		},
		ExpiresAt: expiresAt,
	}, nil
}

// Approve grants the transaction manager twice the transfer amount so an
// immediate re-quote and retry does not need a second approval.
func (a *Adapter) Approve(ctx context.Context, intent *bridge.TransferIntent, amount *big.Int) (bridge.TxRef, error) {
	accessor, ok := a.chains[intent.SourceChainID]
	if !ok {
		return "", bridge.Errorf(bridge.CodeApprovalRejected, bridge.PhaseApprove,
			"chain %d not connected", intent.SourceChainID)
	}
	allowance := new(big.Int).Lsh(amount, 1)
	data := make([]byte, 0, 4+32+32)
	data = append(data, approveSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(a.Spender(intent)).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(allowance.Bytes(), 32)...)

	ref, err := accessor.Submit(ctx, chain.TxRequest{
		To:   intent.SourceToken.Address,
		Data: data,
	})
	if err != nil {
		return "", bridge.NewError(bridge.CodeApprovalRejected, bridge.PhaseApprove, err)
	}
	a.logger.Info("Approval submitted",
		zap.String("token", intent.SourceToken.Address),
		zap.String("spender", a.Spender(intent)),
		zap.String("tx", string(ref)))
	return ref, nil
}

// SubmitSource prepares the transfer on the source chain with the bid that
// backed the quote.
func (a *Adapter) SubmitSource(ctx context.Context, intent *bridge.TransferIntent, quote *bridge.Quote) (bridge.TxRef, error) {
	accessor, ok := a.chains[intent.SourceChainID]
	if !ok {
		return "", bridge.Errorf(bridge.CodeSubmissionRejected, bridge.PhaseSubmit,
			"chain %d not connected", intent.SourceChainID)
	}
	bid := a.bids.get(intent)
	if bid == nil {
		return "", bridge.Errorf(bridge.CodeSubmissionRejected, bridge.PhaseSubmit,
			"no live router bid, re-quote required")
	}

	balance, err := accessor.GetBalance(ctx, intent.Sender, intent.SourceToken)
	if err != nil {
		return "", bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhaseSubmit, err)
	}
	if balance.Cmp(intent.Amount) < 0 {
		return "", bridge.Errorf(bridge.CodeInsufficientFunds, bridge.PhaseSubmit,
			"balance %s below transfer amount %s", balance, intent.Amount)
	}

	unsigned, err := a.backend.BuildPrepareTx(ctx, bid)
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
	a.logger.Info("Prepare submitted",
		zap.String("transaction_id", bid.TransactionID),
		zap.String("router", bid.Router),
		zap.String("tx", string(ref)))
	return ref, nil
}

// PollStatus maps router-network statuses onto the neutral statuses.
// RECEIVER_PREPARED produces the claim payload the fulfill step needs.
func (a *Adapter) PollStatus(ctx context.Context, sourceTxRef bridge.TxRef, intent *bridge.TransferIntent) (*bridge.PollResult, error) {
	txID := a.transactionID(intent, sourceTxRef)
	report, err := a.backend.TransferStatus(ctx, txID)
	if err != nil {
		return nil, bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhasePoll, err)
	}

	switch report.Status {
	case StatusReceiverFulfilled:
		return &bridge.PollResult{
			Status:    bridge.StatusDestinationFulfilled,
			DestTxRef: bridge.TxRef(report.FulfilledTxHash),
		}, nil
	case StatusReceiverPrepared:
		payload, err := json.Marshal(ClaimData{
			TransactionID: txID,
			EncodedBid:    report.EncodedBid,
			BidSignature:  report.BidSignature,
		})
		if err != nil {
			return nil, bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhasePoll, err)
		}
		return &bridge.PollResult{
			Status:       bridge.StatusDestinationPrepared,
			ClaimPayload: payload,
		}, nil
	case StatusExpired:
		return &bridge.PollResult{Status: bridge.StatusExpired}, nil
	case StatusReceiverCancelled, StatusSenderCancelled:
		return &bridge.PollResult{Status: bridge.StatusReverted}, nil
	default:
		return &bridge.PollResult{Status: bridge.StatusPending}, nil
	}
}

// ClaimDestination fulfills the prepared transfer on the destination chain.
func (a *Adapter) ClaimDestination(ctx context.Context, intent *bridge.TransferIntent, claimPayload []byte) (bridge.TxRef, error) {
	accessor, ok := a.chains[intent.DestChainID]
	if !ok {
		return "", bridge.Errorf(bridge.CodeClaimRejected, bridge.PhaseClaim,
			"chain %d not connected", intent.DestChainID)
	}

	var claim ClaimData
	if err := json.Unmarshal(claimPayload, &claim); err != nil {
		return "", bridge.Errorf(bridge.CodeClaimRejected, bridge.PhaseClaim, "malformed claim payload")
	}
	if len(claim.BidSignature) == 0 || len(claim.EncodedBid) == 0 {
		return "", bridge.Errorf(bridge.CodeClaimRejected, bridge.PhaseClaim, "claim payload missing signed bid")
	}

	// The prepared transfer may have been fulfilled by a relayer or an
	// earlier retry in the meantime.
	report, err := a.backend.TransferStatus(ctx, claim.TransactionID)
	if err == nil && report.Status == StatusReceiverFulfilled {
		return "", bridge.Errorf(bridge.CodeAlreadyClaimed, bridge.PhaseClaim,
			"transfer %s already fulfilled in %s", claim.TransactionID, report.FulfilledTxHash)
	}
	if err == nil && report.Status == StatusExpired {
		return "", bridge.Errorf(bridge.CodeClaimExpired, bridge.PhaseClaim,
			"prepare window for %s elapsed", claim.TransactionID)
	}

	unsigned, err := a.backend.BuildFulfillTx(ctx, &claim)
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
		if strings.Contains(strings.ToLower(err.Error()), "already fulfilled") {
			return "", bridge.NewError(bridge.CodeAlreadyClaimed, bridge.PhaseClaim, err)
		}
		return "", bridge.NewError(bridge.CodeClaimRejected, bridge.PhaseClaim, err)
	}
	a.logger.Info("Fulfill submitted",
		zap.String("transaction_id", claim.TransactionID),
		zap.String("tx", string(ref)))
	return ref, nil
}

// transactionID resolves the protocol transaction id for an in-flight
// transfer. The cached bid is authoritative; the source tx hash is the
// fallback after a process restart, which routers also index by.
func (a *Adapter) transactionID(intent *bridge.TransferIntent, sourceTxRef bridge.TxRef) string {
	if bid := a.bids.get(intent); bid != nil {
		return bid.TransactionID
	}
	return string(sourceTxRef)
}
