package celer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/chain"
)

const (
	poolMainnet = "0x00000000000000000000000000000000000000c1"
	poolPolygon = "0x00000000000000000000000000000000000000c2"
)

// fakeBackend is a func-field test double for the gateway.
type fakeBackend struct {
	EstimateFeeFunc     func(ctx context.Context, req *FeeRequest) (*FeeEstimate, error)
	BuildTransferTxFunc func(ctx context.Context, req *TransferRequest) (*UnsignedTx, error)
	TransferStatusFunc  func(ctx context.Context, sourceTxHash string) (*StatusReport, error)
}

func (f *fakeBackend) EstimateFee(ctx context.Context, req *FeeRequest) (*FeeEstimate, error) {
	if f.EstimateFeeFunc != nil {
		return f.EstimateFeeFunc(ctx, req)
	}
	return &FeeEstimate{
		BaseFee:      decimal.NewFromInt(100),
		ProtocolFee:  decimal.NewFromInt(400),
		EstimatedOut: big.NewInt(999_500),
	}, nil
}

func (f *fakeBackend) BuildTransferTx(ctx context.Context, req *TransferRequest) (*UnsignedTx, error) {
	if f.BuildTransferTxFunc != nil {
		return f.BuildTransferTxFunc(ctx, req)
	}
	return &UnsignedTx{To: poolMainnet, Data: []byte{0x01}, GasLimit: 200_000}, nil
}

func (f *fakeBackend) TransferStatus(ctx context.Context, sourceTxHash string) (*StatusReport, error) {
	if f.TransferStatusFunc != nil {
		return f.TransferStatusFunc(ctx, sourceTxHash)
	}
	return &StatusReport{Status: StatusWaitingRelease}, nil
}

// fakeAccessor is a func-field test double for a chain connection.
type fakeAccessor struct {
	chainID        int64
	GetBalanceFunc func(ctx context.Context, owner string, token bridge.Token) (*big.Int, error)
	SubmitFunc     func(ctx context.Context, req chain.TxRequest) (bridge.TxRef, error)
}

func (f *fakeAccessor) ChainID() int64 { return f.chainID }

func (f *fakeAccessor) GetBalance(ctx context.Context, owner string, token bridge.Token) (*big.Int, error) {
	if f.GetBalanceFunc != nil {
		return f.GetBalanceFunc(ctx, owner, token)
	}
	return big.NewInt(10_000_000), nil
}

func (f *fakeAccessor) GetAllowance(ctx context.Context, owner, tokenAddress, spender string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeAccessor) Submit(ctx context.Context, req chain.TxRequest) (bridge.TxRef, error) {
	if f.SubmitFunc != nil {
		return f.SubmitFunc(ctx, req)
	}
	return "0xsubmitted", nil
}

func (f *fakeAccessor) WaitForConfirmation(ctx context.Context, ref bridge.TxRef) (*chain.Receipt, error) {
	return &chain.Receipt{Success: true}, nil
}

func testAdapter(backend Backend, accessors map[int64]chain.Accessor) *Adapter {
	if accessors == nil {
		accessors = map[int64]chain.Accessor{
			1:   &fakeAccessor{chainID: 1},
			137: &fakeAccessor{chainID: 137},
		}
	}
	return New(Config{
		PoolContracts: map[int64]string{1: poolMainnet, 137: poolPolygon},
	}, backend, accessors, zap.NewNop())
}

func testIntent() *bridge.TransferIntent {
	return &bridge.TransferIntent{
		SourceChainID: 1,
		DestChainID:   137,
		SourceToken:   bridge.Token{Address: "0x3333333333333333333333333333333333333333", Symbol: "USDC", Decimals: 6},
		DestToken:     bridge.Token{Address: "0x3333333333333333333333333333333333333333", Symbol: "USDC", Decimals: 6},
		Amount:        big.NewInt(1_000_000),
		Sender:        "0x1111111111111111111111111111111111111111",
		Recipient:     "0x2222222222222222222222222222222222222222",
	}
}

func TestQuote(t *testing.T) {
	var seen *FeeRequest
	backend := &fakeBackend{
		EstimateFeeFunc: func(_ context.Context, req *FeeRequest) (*FeeEstimate, error) {
			seen = req
			return &FeeEstimate{
				BaseFee:      decimal.NewFromInt(100),
				ProtocolFee:  decimal.NewFromInt(400),
				EstimatedOut: big.NewInt(999_500),
			}, nil
		},
	}
	a := testAdapter(backend, nil)

	quote, err := a.Quote(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(999_500), quote.DestAmount)
	assert.True(t, quote.Fees.Total().Equal(decimal.NewFromInt(500)))
	assert.False(t, quote.ExpiresAt.IsZero())
	require.Len(t, quote.Route, 2)
	assert.Equal(t, Kind, quote.Route[0].Bridge)

	require.NotNil(t, seen)
	assert.Equal(t, "USDC", seen.TokenSymbol)
	assert.True(t, seen.Slippage.Equal(decimal.NewFromFloat(0.005)), "default slippage applies")
}

func TestQuoteUnconfiguredChain(t *testing.T) {
	a := testAdapter(&fakeBackend{}, nil)
	intent := testIntent()
	intent.DestChainID = 42161

	_, err := a.Quote(context.Background(), intent)
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeRouteUnavailable))
}

func TestQuoteThinLiquidity(t *testing.T) {
	backend := &fakeBackend{
		EstimateFeeFunc: func(_ context.Context, _ *FeeRequest) (*FeeEstimate, error) {
			return &FeeEstimate{EstimatedOut: big.NewInt(0)}, nil
		},
	}
	a := testAdapter(backend, nil)

	_, err := a.Quote(context.Background(), testIntent())
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeRouteUnavailable))
}

func TestClaimSemantics(t *testing.T) {
	a := testAdapter(&fakeBackend{}, nil)
	assert.False(t, a.NeedsClaim())

	_, err := a.ClaimDestination(context.Background(), testIntent(), nil)
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeClaimRejected))
}

func TestApprovalSemantics(t *testing.T) {
	a := testAdapter(&fakeBackend{}, nil)
	intent := testIntent()
	assert.True(t, a.NeedsApproval(intent))
	assert.Equal(t, poolMainnet, a.Spender(intent))

	native := testIntent()
	native.SourceToken = bridge.Token{Symbol: "ETH", Decimals: 18, Native: true}
	assert.False(t, a.NeedsApproval(native))
}

func TestApproveOverApproves(t *testing.T) {
	var submitted chain.TxRequest
	accessors := map[int64]chain.Accessor{
		1: &fakeAccessor{chainID: 1, SubmitFunc: func(_ context.Context, req chain.TxRequest) (bridge.TxRef, error) {
			submitted = req
			return "0xapprove", nil
		}},
		137: &fakeAccessor{chainID: 137},
	}
	a := testAdapter(&fakeBackend{}, accessors)
	intent := testIntent()

	ref, err := a.Approve(context.Background(), intent, intent.Amount)
	require.NoError(t, err)
	assert.Equal(t, bridge.TxRef("0xapprove"), ref)
	assert.Equal(t, intent.SourceToken.Address, submitted.To)

	// approve(address,uint256) with double the transfer amount.
	require.Len(t, submitted.Data, 4+32+32)
	assert.Equal(t, approveSelector, submitted.Data[:4])
	granted := new(big.Int).SetBytes(submitted.Data[36:])
	assert.Equal(t, new(big.Int).Lsh(intent.Amount, 1), granted)
}

func TestSubmitSourceInsufficientBalance(t *testing.T) {
	accessors := map[int64]chain.Accessor{
		1: &fakeAccessor{chainID: 1, GetBalanceFunc: func(_ context.Context, _ string, _ bridge.Token) (*big.Int, error) {
			return big.NewInt(10), nil
		}},
		137: &fakeAccessor{chainID: 137},
	}
	a := testAdapter(&fakeBackend{}, accessors)

	_, err := a.SubmitSource(context.Background(), testIntent(), &bridge.Quote{DestAmount: big.NewInt(1)})
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeInsufficientFunds))
}

func TestSubmitSourceSendsGatewayCalldata(t *testing.T) {
	var submitted chain.TxRequest
	accessors := map[int64]chain.Accessor{
		1: &fakeAccessor{chainID: 1, SubmitFunc: func(_ context.Context, req chain.TxRequest) (bridge.TxRef, error) {
			submitted = req
			return "0xsource", nil
		}},
		137: &fakeAccessor{chainID: 137},
	}
	backend := &fakeBackend{
		BuildTransferTxFunc: func(_ context.Context, req *TransferRequest) (*UnsignedTx, error) {
			assert.Equal(t, int64(5000), req.MaxSlippageMs, "0.5% as 1e-6 units")
			assert.NotZero(t, req.Nonce)
			return &UnsignedTx{To: poolMainnet, Data: []byte{0xaa, 0xbb}, GasLimit: 250_000}, nil
		},
	}
	a := testAdapter(backend, accessors)

	ref, err := a.SubmitSource(context.Background(), testIntent(), &bridge.Quote{DestAmount: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, bridge.TxRef("0xsource"), ref)
	assert.Equal(t, poolMainnet, submitted.To)
	assert.Equal(t, []byte{0xaa, 0xbb}, submitted.Data)
	assert.Equal(t, uint64(250_000), submitted.GasLimit)
}

func TestPollStatusMapping(t *testing.T) {
	cases := []struct {
		gateway string
		want    bridge.TransferStatus
	}{
		{StatusUnknown, bridge.StatusPending},
		{StatusSubmitting, bridge.StatusPending},
		{StatusWaitingConfirm, bridge.StatusPending},
		{StatusWaitingRelease, bridge.StatusPending},
		{StatusCompleted, bridge.StatusDestinationFulfilled},
		{StatusToBeRefunded, bridge.StatusReverted},
		{StatusRequestingRefund, bridge.StatusReverted},
		{StatusRefunded, bridge.StatusReverted},
		{StatusFailed, bridge.StatusReverted},
	}
	for _, tc := range cases {
		t.Run(tc.gateway, func(t *testing.T) {
			backend := &fakeBackend{
				TransferStatusFunc: func(_ context.Context, _ string) (*StatusReport, error) {
					return &StatusReport{Status: tc.gateway, DestTxHash: "0xdest"}, nil
				},
			}
			a := testAdapter(backend, nil)

			result, err := a.PollStatus(context.Background(), "0xsource", testIntent())
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Status)
			if tc.want == bridge.StatusDestinationFulfilled {
				assert.Equal(t, bridge.TxRef("0xdest"), result.DestTxRef)
			}
		})
	}
}

func TestPollStatusGatewayDown(t *testing.T) {
	backend := &fakeBackend{
		TransferStatusFunc: func(_ context.Context, _ string) (*StatusReport, error) {
			return nil, errors.New("connection refused")
		},
	}
	a := testAdapter(backend, nil)

	_, err := a.PollStatus(context.Background(), "0xsource", testIntent())
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeBackendUnreachable))
}
