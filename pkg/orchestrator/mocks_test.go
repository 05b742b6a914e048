package orchestrator

import (
	"context"
	"math/big"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/chain"
)

// MockAdapter is a mock implementation of bridge.Adapter
type MockAdapter struct {
	KindValue       string
	NeedsClaimValue bool

	QuoteFunc            func(ctx context.Context, intent *bridge.TransferIntent) (*bridge.Quote, error)
	NeedsApprovalFunc    func(intent *bridge.TransferIntent) bool
	SpenderFunc          func(intent *bridge.TransferIntent) string
	ApproveFunc          func(ctx context.Context, intent *bridge.TransferIntent, amount *big.Int) (bridge.TxRef, error)
	SubmitSourceFunc     func(ctx context.Context, intent *bridge.TransferIntent, quote *bridge.Quote) (bridge.TxRef, error)
	PollStatusFunc       func(ctx context.Context, sourceTxRef bridge.TxRef, intent *bridge.TransferIntent) (*bridge.PollResult, error)
	ClaimDestinationFunc func(ctx context.Context, intent *bridge.TransferIntent, claimPayload []byte) (bridge.TxRef, error)
}

func (m *MockAdapter) Kind() string {
	if m.KindValue != "" {
		return m.KindValue
	}
	return "mock"
}

func (m *MockAdapter) NeedsClaim() bool {
	return m.NeedsClaimValue
}

func (m *MockAdapter) Quote(ctx context.Context, intent *bridge.TransferIntent) (*bridge.Quote, error) {
	if m.QuoteFunc != nil {
		return m.QuoteFunc(ctx, intent)
	}
	return nil, nil
}

func (m *MockAdapter) NeedsApproval(intent *bridge.TransferIntent) bool {
	if m.NeedsApprovalFunc != nil {
		return m.NeedsApprovalFunc(intent)
	}
	return !intent.SourceToken.Native
}

func (m *MockAdapter) Spender(intent *bridge.TransferIntent) string {
	if m.SpenderFunc != nil {
		return m.SpenderFunc(intent)
	}
	return "0x00000000000000000000000000000000000000aa"
}

func (m *MockAdapter) Approve(ctx context.Context, intent *bridge.TransferIntent, amount *big.Int) (bridge.TxRef, error) {
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, intent, amount)
	}
	return "0xapprove", nil
}

func (m *MockAdapter) SubmitSource(ctx context.Context, intent *bridge.TransferIntent, quote *bridge.Quote) (bridge.TxRef, error) {
	if m.SubmitSourceFunc != nil {
		return m.SubmitSourceFunc(ctx, intent, quote)
	}
	return "0xsource", nil
}

func (m *MockAdapter) PollStatus(ctx context.Context, sourceTxRef bridge.TxRef, intent *bridge.TransferIntent) (*bridge.PollResult, error) {
	if m.PollStatusFunc != nil {
		return m.PollStatusFunc(ctx, sourceTxRef, intent)
	}
	return &bridge.PollResult{Status: bridge.StatusPending}, nil
}

func (m *MockAdapter) ClaimDestination(ctx context.Context, intent *bridge.TransferIntent, claimPayload []byte) (bridge.TxRef, error) {
	if m.ClaimDestinationFunc != nil {
		return m.ClaimDestinationFunc(ctx, intent, claimPayload)
	}
	return "0xclaim", nil
}

// MockAccessor is a mock implementation of chain.Accessor
type MockAccessor struct {
	ChainIDValue int64

	GetBalanceFunc          func(ctx context.Context, owner string, token bridge.Token) (*big.Int, error)
	GetAllowanceFunc        func(ctx context.Context, owner, tokenAddress, spender string) (*big.Int, error)
	SubmitFunc              func(ctx context.Context, req chain.TxRequest) (bridge.TxRef, error)
	WaitForConfirmationFunc func(ctx context.Context, ref bridge.TxRef) (*chain.Receipt, error)
}

func (m *MockAccessor) ChainID() int64 {
	return m.ChainIDValue
}

func (m *MockAccessor) GetBalance(ctx context.Context, owner string, token bridge.Token) (*big.Int, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, owner, token)
	}
	return big.NewInt(1_000_000), nil
}

func (m *MockAccessor) GetAllowance(ctx context.Context, owner, tokenAddress, spender string) (*big.Int, error) {
	if m.GetAllowanceFunc != nil {
		return m.GetAllowanceFunc(ctx, owner, tokenAddress, spender)
	}
	return big.NewInt(0), nil
}

func (m *MockAccessor) Submit(ctx context.Context, req chain.TxRequest) (bridge.TxRef, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return "0xtx", nil
}

func (m *MockAccessor) WaitForConfirmation(ctx context.Context, ref bridge.TxRef) (*chain.Receipt, error) {
	if m.WaitForConfirmationFunc != nil {
		return m.WaitForConfirmationFunc(ctx, ref)
	}
	return &chain.Receipt{Success: true, BlockNumber: 1}, nil
}
