package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
)

// Registry holds every in-flight and completed transfer record. Exactly one
// record exists per transfer id; duplicate creation is rejected. Terminal
// records stay queryable until the owner evicts them.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*TransferRecord
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{records: make(map[string]*TransferRecord)}
}

// Create inserts a new record in state Quoting.
func (r *Registry) Create(id string, intent bridge.TransferIntent, bridgeKind string) (*TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; exists {
		return nil, bridge.Errorf(bridge.CodeDuplicateTransfer, bridge.PhaseQuote, "transfer %q already exists", id)
	}

	now := time.Now().UTC()
	rec := &TransferRecord{
		ID:         id,
		Intent:     intent,
		BridgeKind: bridgeKind,
		State:      StateQuoting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.records[id] = rec
	return rec.Clone(), nil
}

// Get returns a copy of the record.
func (r *Registry) Get(id string) (*TransferRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, bridge.Errorf(bridge.CodeNotFound, bridge.PhaseQuote, "transfer %q not found", id)
	}
	return rec.Clone(), nil
}

// Update applies mutate to the record atomically. The mutator works on a
// copy; the change is committed only if the mutator succeeds and any state
// change follows the transition table. BridgeKind and CreatedAt are
// immutable, and DestinationTxRef may only be set on a Completed record.
func (r *Registry) Update(id string, mutate func(*TransferRecord) error) (*TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, bridge.Errorf(bridge.CodeNotFound, bridge.PhaseQuote, "transfer %q not found", id)
	}

	next := rec.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	if next.State != rec.State && !CanTransition(rec.State, next.State) {
		return nil, bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseQuote,
			"transfer %q cannot move %s -> %s", id, rec.State, next.State)
	}
	if next.BridgeKind != rec.BridgeKind {
		return nil, bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseQuote,
			"transfer %q cannot switch bridge %s -> %s", id, rec.BridgeKind, next.BridgeKind)
	}
	if next.DestinationTxRef != rec.DestinationTxRef && next.State != StateCompleted {
		return nil, bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseQuote,
			"transfer %q destination tx ref may only be set on completion", id)
	}

	next.CreatedAt = rec.CreatedAt
	next.ID = rec.ID
	next.UpdatedAt = time.Now().UTC()
	r.records[id] = next
	return next.Clone(), nil
}

// ListActive returns all non-terminal records, stable-ordered by creation
// time.
func (r *Registry) ListActive() []*TransferRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*TransferRecord
	for _, rec := range r.records {
		if !rec.State.Terminal() {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// List returns every record, terminal included, ordered by creation time.
func (r *Registry) List() []*TransferRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*TransferRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Put inserts a record as-is, used when reloading a snapshot. Fails on
// duplicate ids like Create.
func (r *Registry) Put(rec *TransferRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return bridge.Errorf(bridge.CodeDuplicateTransfer, bridge.PhaseQuote, "transfer %q already exists", rec.ID)
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

// Evict removes terminal records whose last update is older than maxAge.
// Retention policy is the owner's concern; the orchestrator never calls
// this.
func (r *Registry) Evict(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, rec := range r.records {
		if rec.State.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(r.records, id)
			removed++
		}
	}
	return removed
}
