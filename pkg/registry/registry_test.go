package registry

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
)

func testIntent() bridge.TransferIntent {
	return bridge.TransferIntent{
		SourceChainID: 1,
		DestChainID:   137,
		SourceToken:   bridge.Token{Address: "0x3333333333333333333333333333333333333333", Symbol: "USDC", Decimals: 6},
		DestToken:     bridge.Token{Address: "0x3333333333333333333333333333333333333333", Symbol: "USDC", Decimals: 6},
		Amount:        big.NewInt(1000),
		Sender:        "0x1111111111111111111111111111111111111111",
		Recipient:     "0x2222222222222222222222222222222222222222",
	}
}

func TestCreateAndGet(t *testing.T) {
	r := New()

	rec, err := r.Create("t-1", testIntent(), "celer")
	require.NoError(t, err)
	assert.Equal(t, StateQuoting, rec.State)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := r.Get("t-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.ID)
	assert.Equal(t, "celer", got.BridgeKind)
}

func TestCreateDuplicateRejected(t *testing.T) {
	r := New()

	_, err := r.Create("t-1", testIntent(), "celer")
	require.NoError(t, err)

	_, err = r.Create("t-1", testIntent(), "nxtp")
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeDuplicateTransfer))
}

func TestGetUnknownID(t *testing.T) {
	r := New()

	_, err := r.Get("missing")
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeNotFound))
}

func TestUpdateFollowsTransitionTable(t *testing.T) {
	r := New()
	_, err := r.Create("t-1", testIntent(), "celer")
	require.NoError(t, err)

	rec, err := r.Update("t-1", func(rec *TransferRecord) error {
		rec.State = StateSubmitting
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateSubmitting, rec.State)

	// Submitting cannot go back to Quoting.
	_, err = r.Update("t-1", func(rec *TransferRecord) error {
		rec.State = StateQuoting
		return nil
	})
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeIllegalTransition))
}

func TestUpdateRejectsBridgeKindChange(t *testing.T) {
	r := New()
	_, err := r.Create("t-1", testIntent(), "celer")
	require.NoError(t, err)

	_, err = r.Update("t-1", func(rec *TransferRecord) error {
		rec.BridgeKind = "nxtp"
		return nil
	})
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeIllegalTransition))
}

func TestDestinationTxRefOnlyOnCompletion(t *testing.T) {
	r := New()
	_, err := r.Create("t-1", testIntent(), "celer")
	require.NoError(t, err)

	_, err = r.Update("t-1", func(rec *TransferRecord) error {
		rec.DestinationTxRef = "0xdest"
		return nil
	})
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeIllegalTransition))

	for _, next := range []State{StateSubmitting, StateAwaitingConfirmation} {
		_, err = r.Update("t-1", func(rec *TransferRecord) error {
			rec.State = next
			return nil
		})
		require.NoError(t, err)
	}
	rec, err := r.Update("t-1", func(rec *TransferRecord) error {
		rec.State = StateCompleted
		rec.DestinationTxRef = "0xdest"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, bridge.TxRef("0xdest"), rec.DestinationTxRef)
}

func TestUpdateRollsBackOnMutatorError(t *testing.T) {
	r := New()
	_, err := r.Create("t-1", testIntent(), "celer")
	require.NoError(t, err)

	_, err = r.Update("t-1", func(rec *TransferRecord) error {
		rec.LastError = "half-applied"
		return assert.AnError
	})
	require.Error(t, err)

	rec, err := r.Get("t-1")
	require.NoError(t, err)
	assert.Empty(t, rec.LastError)
}

func TestClaimingBackEdge(t *testing.T) {
	assert.True(t, CanTransition(StateClaiming, StateAwaitingClaim))
	assert.True(t, CanTransition(StateClaiming, StateCompleted))
	assert.False(t, CanTransition(StateAwaitingClaim, StateAwaitingConfirmation))
	assert.False(t, CanTransition(StateCompleted, StateFailed))
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateQuoting, StateApproving, StateSubmitting, StateAwaitingConfirmation, StateAwaitingClaim, StateClaiming} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestListActiveExcludesTerminal(t *testing.T) {
	r := New()
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		_, err := r.Create(id, testIntent(), "celer")
		require.NoError(t, err)
	}
	_, err := r.Update("t-2", func(rec *TransferRecord) error {
		rec.State = StateFailed
		return nil
	})
	require.NoError(t, err)

	active := r.ListActive()
	require.Len(t, active, 2)
	assert.Equal(t, "t-1", active[0].ID)
	assert.Equal(t, "t-3", active[1].ID)

	assert.Len(t, r.List(), 3)
}

func TestPutRestoresSnapshot(t *testing.T) {
	r := New()
	now := time.Now().UTC()
	require.NoError(t, r.Put(&TransferRecord{
		ID:          "t-1",
		Intent:      testIntent(),
		BridgeKind:  "nxtp",
		State:       StateAwaitingConfirmation,
		SourceTxRef: "0xsource",
		CreatedAt:   now,
		UpdatedAt:   now,
	}))

	rec, err := r.Get("t-1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, rec.State)

	err = r.Put(&TransferRecord{ID: "t-1"})
	require.Error(t, err)
	assert.True(t, bridge.IsCode(err, bridge.CodeDuplicateTransfer))
}

func TestEvictRemovesAgedTerminalRecords(t *testing.T) {
	r := New()
	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, r.Put(&TransferRecord{ID: "aged", State: StateCompleted, UpdatedAt: old}))
	require.NoError(t, r.Put(&TransferRecord{ID: "fresh", State: StateCompleted, UpdatedAt: time.Now().UTC()}))
	require.NoError(t, r.Put(&TransferRecord{ID: "active", State: StateQuoting, UpdatedAt: old}))

	removed := r.Evict(24 * time.Hour)
	assert.Equal(t, 1, removed)

	_, err := r.Get("aged")
	require.Error(t, err)
	_, err = r.Get("fresh")
	require.NoError(t, err)
	_, err = r.Get("active")
	require.NoError(t, err)
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	r := New()
	_, err := r.Create("t-1", testIntent(), "celer")
	require.NoError(t, err)

	rec, err := r.Get("t-1")
	require.NoError(t, err)
	rec.State = StateFailed
	rec.LastError = "mutated outside"

	fresh, err := r.Get("t-1")
	require.NoError(t, err)
	assert.Equal(t, StateQuoting, fresh.State)
	assert.Empty(t, fresh.LastError)
}
