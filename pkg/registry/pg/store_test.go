package pg

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/pgutil"
	mghelper "github.com/swapall/bridge-orchestrator/pkg/pgutil/migrations"
	"github.com/swapall/bridge-orchestrator/pkg/registry"
)

func setupStore(t *testing.T) (*Store, func()) {
	t.Helper()
	db, cleanup := pgutil.SetupTestDB(t)

	ctx := context.Background()
	if err := mghelper.CreateSchema(ctx, db, &TransferDao{}); err != nil {
		cleanup()
		t.Fatalf("failed to create schema: %v", err)
	}
	return NewStore(db), cleanup
}

func sampleRecord(id string, state registry.State) *registry.TransferRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	confirmed := now.Add(-time.Minute)
	return &registry.TransferRecord{
		ID: id,
		Intent: bridge.TransferIntent{
			SourceChainID: 1,
			DestChainID:   137,
			SourceToken:   bridge.Token{Address: "0x3333333333333333333333333333333333333333", Symbol: "USDC", Decimals: 6},
			DestToken:     bridge.Token{Address: "0x3333333333333333333333333333333333333333", Symbol: "USDC", Decimals: 6},
			Amount:        big.NewInt(1_000_000),
			Sender:        "0x1111111111111111111111111111111111111111",
			Recipient:     "0x2222222222222222222222222222222222222222",
		},
		Quote: &bridge.Quote{
			DestAmount: big.NewInt(995_000),
			ExpiresAt:  now.Add(time.Hour),
		},
		BridgeKind:       "nxtp",
		State:            state,
		SourceTxRef:      "0xsource",
		ClaimPayload:     []byte(`{"transaction_id":"0xtxid"}`),
		QuoteConfirmedAt: &confirmed,
		Attempt:          1,
		CreatedAt:        now.Add(-time.Hour),
		UpdatedAt:        now,
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	want := sampleRecord("t-1", registry.StateAwaitingClaim)
	require.NoError(t, store.Save(ctx, want))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.BridgeKind, got.BridgeKind)
	assert.Equal(t, want.SourceTxRef, got.SourceTxRef)
	assert.Equal(t, want.ClaimPayload, got.ClaimPayload)
	assert.Equal(t, want.Attempt, got.Attempt)
	assert.Equal(t, want.Intent.Amount, got.Intent.Amount)
	assert.Equal(t, want.Intent.SourceToken.Symbol, got.Intent.SourceToken.Symbol)
	require.NotNil(t, got.Quote)
	assert.Equal(t, want.Quote.DestAmount, got.Quote.DestAmount)
	require.NotNil(t, got.QuoteConfirmedAt)
	assert.WithinDuration(t, *want.QuoteConfirmedAt, *got.QuoteConfirmedAt, time.Millisecond)
}

func TestSaveUpsertsOnConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	rec := sampleRecord("t-1", registry.StateAwaitingConfirmation)
	require.NoError(t, store.Save(ctx, rec))

	rec.State = registry.StateCompleted
	rec.DestinationTxRef = "0xdest"
	rec.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Save(ctx, rec))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, registry.StateCompleted, records[0].State)
	assert.Equal(t, bridge.TxRef("0xdest"), records[0].DestinationTxRef)
}

func TestLoadOrdersByCreation(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	newer := sampleRecord("newer", registry.StateQuoting)
	older := sampleRecord("older", registry.StateQuoting)
	older.CreatedAt = newer.CreatedAt.Add(-time.Hour)
	require.NoError(t, store.Save(ctx, newer))
	require.NoError(t, store.Save(ctx, older))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "older", records[0].ID)
	assert.Equal(t, "newer", records[1].ID)
}

func TestDeleteOlderThanPrunesTerminalOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	aged := sampleRecord("aged", registry.StateCompleted)
	aged.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	fresh := sampleRecord("fresh", registry.StateCompleted)
	active := sampleRecord("active", registry.StateAwaitingClaim)
	active.UpdatedAt = aged.UpdatedAt
	for _, rec := range []*registry.TransferRecord{aged, fresh, active} {
		require.NoError(t, store.Save(ctx, rec))
	}

	n, err := store.DeleteOlderThan(ctx, int64((24 * time.Hour).Seconds()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := store.Load(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []string{"fresh", "active"}, ids)
}
