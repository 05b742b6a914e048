package nxtp

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/chain"
)

const (
	tmMainnet = "0x00000000000000000000000000000000000000e1"
	tmPolygon = "0x00000000000000000000000000000000000000e2"
)

// fakeBackend is a func-field test double for the router network.
type fakeBackend struct {
	RequestBidFunc     func(ctx context.Context, req *BidRequest) (*Bid, error)
	BuildPrepareTxFunc func(ctx context.Context, bid *Bid) (*UnsignedTx, error)
	TransferStatusFunc func(ctx context.Context, transactionID string) (*StatusReport, error)
	BuildFulfillTxFunc func(ctx context.Context, claim *ClaimData) (*UnsignedTx, error)
}

func winningBid() *Bid {
	return &Bid{
		TransactionID: "0xtxid",
		Router:        "0x00000000000000000000000000000000000000f1",
		DestAmount:    big.NewInt(998_000),
		RouterFee:     decimal.NewFromInt(1500),
		GasFee:        decimal.NewFromInt(500),
		EncodedBid:    []byte{0x01, 0x02},
		BidSignature:  []byte{0x03, 0x04},
		ExpiresAt:     time.Now().Add(time.Hour).Unix(),
	}
}

func (f *fakeBackend) RequestBid(ctx context.Context, req *BidRequest) (*Bid, error) {
	if f.RequestBidFunc != nil {
		return f.RequestBidFunc(ctx, req)
	}
	return winningBid(), nil
}

func (f *fakeBackend) BuildPrepareTx(ctx context.Context, bid *Bid) (*UnsignedTx, error) {
	if f.BuildPrepareTxFunc != nil {
		return f.BuildPrepareTxFunc(ctx, bid)
	}
	return &UnsignedTx{To: tmMainnet, Data: []byte{0xaa}, GasLimit: 400_000}, nil
}

func (f *fakeBackend) TransferStatus(ctx context.Context, transactionID string) (*StatusReport, error) {
	if f.TransferStatusFunc != nil {
		return f.TransferStatusFunc(ctx, transactionID)
	}
	return &StatusReport{Status: StatusPrepared}, nil
}

func (f *fakeBackend) BuildFulfillTx(ctx context.Context, claim *ClaimData) (*UnsignedTx, error) {
	if f.BuildFulfillTxFunc != nil {
		return f.BuildFulfillTxFunc(ctx, claim)
	}
	return &UnsignedTx{To: tmPolygon, Data: []byte{0xbb}, GasLimit: 400_000}, nil
}

// fakeAccessor is a func-field test double for a chain connection.
type fakeAccessor struct {
	chainID    int64
	SubmitFunc func(ctx context.Context, req chain.TxRequest) (bridge.TxRef, error)
}

func (f *fakeAccessor) ChainID() int64 { return f.chainID }

func (f *fakeAccessor) GetBalance(ctx context.Context, owner string, token bridge.Token) (*big.Int, error) {
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

func testAdapter(backend Backend) *Adapter {
	return New(Config{
		TransactionManagers: map[int64]string{1: tmMainnet, 137: tmPolygon},
	}, backend, map[int64]chain.Accessor{
		1:   &fakeAccessor{chainID: 1},
		137: &fakeAccessor{chainID: 137},
	}, zap.NewNop())
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

func TestQuoteFromWinningBid(t *testing.T) {
	a := testAdapter(&fakeBackend{})

	quote, err := a.Quote(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(998_000), quote.DestAmount)
	assert.True(t, quote.Fees.Total().Equal(decimal.NewFromInt(2000)))
	require.Len(t, quote.Route, 2)
	assert.Equal(t, "0x00000000000000000000000000000000000000f1", quote.Route[0].Channel)
}

func TestQuoteExpiryBoundedByBid(t *testing.T) {
	bidExpiry := time.Now().Add(30 * time.Second).Unix()
	backend := &fakeBackend{
		RequestBidFunc: func(_ context.Context, _ *BidRequest) (*Bid, error) {
			bid := winningBid()
			bid.ExpiresAt = bidExpiry
			return bid, nil
		},
	}
	a := testAdapter(backend)

	quote, err := a.Quote(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, time.Unix(bidExpiry, 0), quote.ExpiresAt,
		"a bid expiring before the configured TTL caps the quote")
}

func TestQuoteNoBid(t *testing.T) {
	backend := &fakeBackend{
		RequestBidFunc: func(_ context.Context, _ *BidRequest) (*Bid, error) {
			return &Bid{DestAmount: big.NewInt(0)}, nil
		},
	}
	a := testAdapter(backend)

	_, err := a.Quote(context.Background(), testIntent())
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeRouteUnavailable))
}

func TestSubmitSourceUsesQuotedBid(t *testing.T) {
	var prepared *Bid
	backend := &fakeBackend{
		BuildPrepareTxFunc: func(_ context.Context, bid *Bid) (*UnsignedTx, error) {
			prepared = bid
			return &UnsignedTx{To: tmMainnet, Data: []byte{0xaa}}, nil
		},
	}
	a := testAdapter(backend)
	intent := testIntent()

	_, err := a.Quote(context.Background(), intent)
	require.NoError(t, err)

	ref, err := a.SubmitSource(context.Background(), intent, &bridge.Quote{DestAmount: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, bridge.TxRef("0xsubmitted"), ref)
	require.NotNil(t, prepared)
	assert.Equal(t, "0xtxid", prepared.TransactionID)
}

func TestSubmitSourceWithoutLiveBid(t *testing.T) {
	a := testAdapter(&fakeBackend{})

	// No quote was taken, so there is no cached bid to execute.
	_, err := a.SubmitSource(context.Background(), testIntent(), &bridge.Quote{DestAmount: big.NewInt(1)})
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeSubmissionRejected))
}

func TestSubmitSourceExpiredBid(t *testing.T) {
	backend := &fakeBackend{
		RequestBidFunc: func(_ context.Context, _ *BidRequest) (*Bid, error) {
			bid := winningBid()
			bid.ExpiresAt = time.Now().Add(-time.Minute).Unix()
			return bid, nil
		},
	}
	a := testAdapter(backend)
	intent := testIntent()

	_, err := a.Quote(context.Background(), intent)
	require.NoError(t, err)

	_, err = a.SubmitSource(context.Background(), intent, &bridge.Quote{DestAmount: big.NewInt(1)})
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeSubmissionRejected))
}

func TestPollStatusPreparedCarriesClaimPayload(t *testing.T) {
	backend := &fakeBackend{
		TransferStatusFunc: func(_ context.Context, txID string) (*StatusReport, error) {
			return &StatusReport{
				Status:       StatusReceiverPrepared,
				EncodedBid:   []byte{0x01},
				BidSignature: []byte{0x02},
			}, nil
		},
	}
	a := testAdapter(backend)
	intent := testIntent()

	_, err := a.Quote(context.Background(), intent)
	require.NoError(t, err)

	result, err := a.PollStatus(context.Background(), "0xsource", intent)
	require.NoError(t, err)
	assert.Equal(t, bridge.StatusDestinationPrepared, result.Status)

	var claim ClaimData
	require.NoError(t, json.Unmarshal(result.ClaimPayload, &claim))
	assert.Equal(t, "0xtxid", claim.TransactionID, "cached bid resolves the transaction id")
	assert.Equal(t, []byte{0x01}, claim.EncodedBid)
	assert.Equal(t, []byte{0x02}, claim.BidSignature)
}

func TestPollStatusFallsBackToSourceTx(t *testing.T) {
	var asked string
	backend := &fakeBackend{
		TransferStatusFunc: func(_ context.Context, txID string) (*StatusReport, error) {
			asked = txID
			return &StatusReport{Status: StatusReceiverFulfilled, FulfilledTxHash: "0xdest"}, nil
		},
	}
	a := testAdapter(backend)

	// No cached bid, as after a restart: the source tx hash is the key.
	result, err := a.PollStatus(context.Background(), "0xsource", testIntent())
	require.NoError(t, err)
	assert.Equal(t, "0xsource", asked)
	assert.Equal(t, bridge.StatusDestinationFulfilled, result.Status)
	assert.Equal(t, bridge.TxRef("0xdest"), result.DestTxRef)
}

func TestPollStatusMapping(t *testing.T) {
	cases := []struct {
		router string
		want   bridge.TransferStatus
	}{
		{StatusNone, bridge.StatusPending},
		{StatusPrepared, bridge.StatusPending},
		{StatusReceiverFulfilled, bridge.StatusDestinationFulfilled},
		{StatusExpired, bridge.StatusExpired},
		{StatusReceiverCancelled, bridge.StatusReverted},
		{StatusSenderCancelled, bridge.StatusReverted},
	}
	for _, tc := range cases {
		t.Run(tc.router, func(t *testing.T) {
			backend := &fakeBackend{
				TransferStatusFunc: func(_ context.Context, _ string) (*StatusReport, error) {
					return &StatusReport{Status: tc.router}, nil
				},
			}
			a := testAdapter(backend)

			result, err := a.PollStatus(context.Background(), "0xsource", testIntent())
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Status)
		})
	}
}

func claimPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(ClaimData{
		TransactionID: "0xtxid",
		EncodedBid:    []byte{0x01},
		BidSignature:  []byte{0x02},
	})
	require.NoError(t, err)
	return payload
}

func TestClaimDestinationFulfills(t *testing.T) {
	a := testAdapter(&fakeBackend{})

	ref, err := a.ClaimDestination(context.Background(), testIntent(), claimPayload(t))
	require.NoError(t, err)
	assert.Equal(t, bridge.TxRef("0xsubmitted"), ref)
}

func TestClaimDestinationMalformedPayload(t *testing.T) {
	a := testAdapter(&fakeBackend{})

	_, err := a.ClaimDestination(context.Background(), testIntent(), []byte("not json"))
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeClaimRejected))

	_, err = a.ClaimDestination(context.Background(), testIntent(), []byte(`{"transaction_id":"0xtxid"}`))
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeClaimRejected))
}

func TestClaimDestinationAlreadyFulfilled(t *testing.T) {
	backend := &fakeBackend{
		TransferStatusFunc: func(_ context.Context, _ string) (*StatusReport, error) {
			return &StatusReport{Status: StatusReceiverFulfilled, FulfilledTxHash: "0xdest"}, nil
		},
	}
	a := testAdapter(backend)

	_, err := a.ClaimDestination(context.Background(), testIntent(), claimPayload(t))
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeAlreadyClaimed))
}

func TestClaimDestinationExpiredWindow(t *testing.T) {
	backend := &fakeBackend{
		TransferStatusFunc: func(_ context.Context, _ string) (*StatusReport, error) {
			return &StatusReport{Status: StatusExpired}, nil
		},
	}
	a := testAdapter(backend)

	_, err := a.ClaimDestination(context.Background(), testIntent(), claimPayload(t))
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeClaimExpired))
}

func TestClaimDestinationRaceDetectedOnSubmit(t *testing.T) {
	a := New(Config{
		TransactionManagers: map[int64]string{1: tmMainnet, 137: tmPolygon},
	}, &fakeBackend{}, map[int64]chain.Accessor{
		1: &fakeAccessor{chainID: 1},
		137: &fakeAccessor{chainID: 137, SubmitFunc: func(_ context.Context, _ chain.TxRequest) (bridge.TxRef, error) {
			return "", errors.New("execution reverted: already fulfilled")
		}},
	}, zap.NewNop())

	_, err := a.ClaimDestination(context.Background(), testIntent(), claimPayload(t))
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeAlreadyClaimed))
}

func TestClaimSemantics(t *testing.T) {
	a := testAdapter(&fakeBackend{})
	assert.True(t, a.NeedsClaim())
	assert.Equal(t, tmMainnet, a.Spender(testIntent()))
}
