// Package pg persists transfer-record snapshots to PostgreSQL. The
// in-memory registry stays the source of truth at runtime; rows here exist
// so a restarted process can reload its book and resume polling.
package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/registry"
)

// Store reads and writes transfer snapshots.
type Store struct {
	db *bun.DB
}

// NewStore builds a snapshot store over an open database.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Save upserts the record's current snapshot.
func (s *Store) Save(ctx context.Context, rec *registry.TransferRecord) error {
	dao, err := toDao(rec)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().
		Model(dao).
		On("CONFLICT (id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("quote = EXCLUDED.quote").
		Set("source_tx_ref = EXCLUDED.source_tx_ref").
		Set("destination_tx_ref = EXCLUDED.destination_tx_ref").
		Set("claim_payload = EXCLUDED.claim_payload").
		Set("quote_confirmed_at = EXCLUDED.quote_confirmed_at").
		Set("cancel_requested = EXCLUDED.cancel_requested").
		Set("attempt = EXCLUDED.attempt").
		Set("transient_errs = EXCLUDED.transient_errs").
		Set("last_error = EXCLUDED.last_error").
		Set("failed_phase = EXCLUDED.failed_phase").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Load returns every stored transfer record.
func (s *Store) Load(ctx context.Context) ([]*registry.TransferRecord, error) {
	var daos []TransferDao
	if err := s.db.NewSelect().
		Model(&daos).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load transfers: %w", err)
	}

	records := make([]*registry.TransferRecord, 0, len(daos))
	for i := range daos {
		rec, err := fromDao(&daos[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteOlderThan prunes terminal records whose last update is before
// cutoff seconds ago, mirroring the in-memory registry's eviction.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoffSeconds int64) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*TransferDao)(nil)).
		Where("state IN (?)", bun.In([]string{
			string(registry.StateCompleted),
			string(registry.StateFailed),
			string(registry.StateCancelled),
		})).
		Where("updated_at < now() - make_interval(secs => ?)", cutoffSeconds).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transfers: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func toDao(rec *registry.TransferRecord) (*TransferDao, error) {
	intent, err := json.Marshal(rec.Intent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode intent for %s: %w", rec.ID, err)
	}
	var quote []byte
	if rec.Quote != nil {
		if quote, err = json.Marshal(rec.Quote); err != nil {
			return nil, fmt.Errorf("failed to encode quote for %s: %w", rec.ID, err)
		}
	}
	return &TransferDao{
		ID:               rec.ID,
		BridgeKind:       rec.BridgeKind,
		State:            string(rec.State),
		Intent:           intent,
		Quote:            quote,
		SourceTxRef:      string(rec.SourceTxRef),
		DestinationTxRef: string(rec.DestinationTxRef),
		ClaimPayload:     rec.ClaimPayload,
		QuoteConfirmedAt: rec.QuoteConfirmedAt,
		CancelRequested:  rec.CancelRequested,
		Attempt:          rec.Attempt,
		TransientErrs:    rec.TransientErrs,
		LastError:        rec.LastError,
		FailedPhase:      rec.FailedPhase,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}

func fromDao(dao *TransferDao) (*registry.TransferRecord, error) {
	rec := &registry.TransferRecord{
		ID:               dao.ID,
		BridgeKind:       dao.BridgeKind,
		State:            registry.State(dao.State),
		SourceTxRef:      bridge.TxRef(dao.SourceTxRef),
		DestinationTxRef: bridge.TxRef(dao.DestinationTxRef),
		ClaimPayload:     dao.ClaimPayload,
		QuoteConfirmedAt: dao.QuoteConfirmedAt,
		CancelRequested:  dao.CancelRequested,
		Attempt:          dao.Attempt,
		TransientErrs:    dao.TransientErrs,
		LastError:        dao.LastError,
		FailedPhase:      dao.FailedPhase,
		CreatedAt:        dao.CreatedAt,
		UpdatedAt:        dao.UpdatedAt,
	}
	if err := json.Unmarshal(dao.Intent, &rec.Intent); err != nil {
		return nil, fmt.Errorf("failed to decode intent for %s: %w", dao.ID, err)
	}
	if len(dao.Quote) > 0 {
		rec.Quote = new(bridge.Quote)
		if err := json.Unmarshal(dao.Quote, rec.Quote); err != nil {
			return nil, fmt.Errorf("failed to decode quote for %s: %w", dao.ID, err)
		}
	}
	return rec, nil
}
