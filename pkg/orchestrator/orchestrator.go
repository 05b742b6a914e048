// Package orchestrator drives a cross-chain transfer through its lifecycle:
// quote, approval, source submission, cross-chain status polling and an
// optional destination claim. One record per transfer id, serialized by a
// per-id lock; transfers on different ids proceed fully in parallel.
package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/internal/metrics"
	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/chain"
	"github.com/swapall/bridge-orchestrator/pkg/eventbus"
	"github.com/swapall/bridge-orchestrator/pkg/registry"
)

// Store is the registry surface the orchestrator depends on.
type Store interface {
	Create(id string, intent bridge.TransferIntent, bridgeKind string) (*registry.TransferRecord, error)
	Get(id string) (*registry.TransferRecord, error)
	Update(id string, mutate func(*registry.TransferRecord) error) (*registry.TransferRecord, error)
	ListActive() []*registry.TransferRecord
}

// Orchestrator owns the transfer state machine. Adapters and chain
// accessors are injected at construction; there is no ambient global state.
type Orchestrator struct {
	cfg      Config
	adapters map[string]bridge.Adapter
	chains   map[int64]chain.Accessor
	store    Store
	bus      *eventbus.Bus
	logger   *zap.Logger

	// locks serializes phase operations per transfer id.
	locks sync.Map // transferId -> *sync.Mutex
	// pollers tracks the cancel function of each running poll loop.
	pollers sync.Map // transferId -> context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an orchestrator over the given adapters and chain accessors.
func New(
	cfg Config,
	adapters map[string]bridge.Adapter,
	chains map[int64]chain.Accessor,
	store Store,
	bus *eventbus.Bus,
	logger *zap.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		adapters: adapters,
		chains:   chains,
		store:    store,
		bus:      bus,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Stop cancels background quoting and polling and waits for them to drain.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.pollers.Range(func(_, v any) bool {
		v.(context.CancelFunc)()
		return true
	})
	o.wg.Wait()
}

// Events returns the bus transfers publish their transitions on.
func (o *Orchestrator) Events() *eventbus.Bus {
	return o.bus
}

// Get returns the current record for a transfer.
func (o *Orchestrator) Get(id string) (*registry.TransferRecord, error) {
	return o.store.Get(id)
}

// ListActive returns all non-terminal transfers ordered by creation time.
func (o *Orchestrator) ListActive() []*registry.TransferRecord {
	return o.store.ListActive()
}

// BeginTransfer validates the intent, creates the record in state Quoting
// and returns immediately; quoting proceeds asynchronously.
func (o *Orchestrator) BeginTransfer(ctx context.Context, id string, intent bridge.TransferIntent, bridgeKind string) error {
	adapter, ok := o.adapters[bridgeKind]
	if !ok {
		return bridge.Errorf(bridge.CodeInvalidIntent, bridge.PhaseQuote, "unsupported bridge %q", bridgeKind)
	}
	if err := intent.Validate(); err != nil {
		return err
	}
	if _, ok := o.chains[intent.SourceChainID]; !ok {
		return bridge.Errorf(bridge.CodeInvalidIntent, bridge.PhaseQuote, "source chain %d not connected", intent.SourceChainID)
	}
	if _, ok := o.chains[intent.DestChainID]; !ok {
		return bridge.Errorf(bridge.CodeInvalidIntent, bridge.PhaseQuote, "destination chain %d not connected", intent.DestChainID)
	}

	if _, err := o.store.Create(id, intent, bridgeKind); err != nil {
		return err
	}
	metrics.ActiveTransfers.WithLabelValues(bridgeKind).Inc()

	o.logger.Info("Transfer created",
		zap.String("transfer_id", id),
		zap.String("bridge", bridgeKind),
		zap.Int64("source_chain", intent.SourceChainID),
		zap.Int64("dest_chain", intent.DestChainID),
		zap.String("amount", intent.Amount.String()))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runQuote(id, adapter)
	}()
	return nil
}

// runQuote obtains a quote for the record, retrying throttled or
// unreachable backends with backoff.
func (o *Orchestrator) runQuote(id string, adapter bridge.Adapter) {
	mu := o.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.store.Get(id)
	if err != nil || rec.State != registry.StateQuoting {
		return
	}
	if o.applyCancelIfRequested(rec) {
		return
	}

	started := time.Now()
	for attempt := 0; ; attempt++ {
		quote, err := adapter.Quote(o.ctx, &rec.Intent)
		if err == nil {
			updated, uerr := o.store.Update(id, func(r *registry.TransferRecord) error {
				r.Quote = quote
				r.LastError = ""
				return nil
			})
			if uerr != nil {
				o.logger.Error("Failed to store quote", zap.String("transfer_id", id), zap.Error(uerr))
				return
			}
			metrics.PhaseDuration.WithLabelValues(rec.BridgeKind, string(bridge.PhaseQuote)).Observe(time.Since(started).Seconds())
			o.logger.Info("Quote ready",
				zap.String("transfer_id", id),
				zap.String("dest_amount", quote.DestAmount.String()),
				zap.Time("expires_at", quote.ExpiresAt))
			// Informational event: the machine stays in Quoting until the
			// caller confirms.
			o.publish(updated, registry.StateQuoting, "")
			return
		}

		code := bridge.CodeOf(err)
		metrics.AdapterErrors.WithLabelValues(rec.BridgeKind, string(bridge.PhaseQuote), string(code)).Inc()
		if !bridge.Transient(err) || attempt+1 >= o.cfg.MaxAttempts {
			o.fail(id, bridge.PhaseQuote, err)
			return
		}

		o.logger.Warn("Quote attempt failed, retrying",
			zap.String("transfer_id", id),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		metrics.RetryCount.WithLabelValues(rec.BridgeKind, string(bridge.PhaseQuote)).Inc()
		if !o.sleep(o.cfg.backoff(attempt)) {
			return
		}
		if r, gerr := o.store.Get(id); gerr != nil || o.applyCancelIfRequested(r) {
			return
		}
	}
}

// ConfirmQuote is the caller's explicit acceptance gate between quote and
// execution. An expired quote triggers an automatic re-quote and the call
// fails with QuoteExpired.
func (o *Orchestrator) ConfirmQuote(ctx context.Context, id string) error {
	mu := o.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if rec.SourceTxRef != "" || (rec.State != registry.StateQuoting && rec.State != registry.StateSubmitting) {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseQuote,
			"transfer %q is %s, quote confirmation no longer applicable", id, rec.State)
	}
	if rec.Quote == nil {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseQuote, "transfer %q has no quote yet", id)
	}
	if o.applyCancelIfRequested(rec) {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseQuote, "transfer %q cancelled", id)
	}

	if rec.Quote.Expired(time.Now()) {
		o.requoteLocked(id)
		return bridge.Errorf(bridge.CodeQuoteExpired, bridge.PhaseQuote,
			"quote for %q expired at %s, re-quoted", id, rec.Quote.ExpiresAt.Format(time.RFC3339))
	}

	_, err = o.store.Update(id, func(r *registry.TransferRecord) error {
		now := time.Now().UTC()
		r.QuoteConfirmedAt = &now
		return nil
	})
	return err
}

// requoteLocked refreshes the quote in place. Callers hold the per-id lock.
func (o *Orchestrator) requoteLocked(id string) {
	rec, err := o.store.Get(id)
	if err != nil {
		return
	}
	adapter, ok := o.adapters[rec.BridgeKind]
	if !ok {
		return
	}
	quote, err := adapter.Quote(o.ctx, &rec.Intent)
	if err != nil {
		o.logger.Warn("Re-quote failed", zap.String("transfer_id", id), zap.Error(err))
		return
	}
	updated, err := o.store.Update(id, func(r *registry.TransferRecord) error {
		r.Quote = quote
		r.QuoteConfirmedAt = nil
		return nil
	})
	if err == nil {
		o.publish(updated, updated.State, "")
	}
}

// ExecuteApprovalIfNeeded checks the source-token allowance and runs the
// approval transaction when it is insufficient. The state advances to
// Submitting only once the approval is confirmed on chain; transfers whose
// allowance already suffices stay in Quoting for Submit to pick up.
func (o *Orchestrator) ExecuteApprovalIfNeeded(ctx context.Context, id string) error {
	mu := o.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if rec.State != registry.StateQuoting {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseApprove,
			"transfer %q is %s, approval not applicable", id, rec.State)
	}
	if rec.QuoteConfirmedAt == nil {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseApprove, "quote for %q not confirmed", id)
	}
	if o.applyCancelIfRequested(rec) {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseApprove, "transfer %q cancelled", id)
	}

	adapter := o.adapters[rec.BridgeKind]
	if !adapter.NeedsApproval(&rec.Intent) {
		return nil
	}

	accessor := o.chains[rec.Intent.SourceChainID]
	allowance, err := accessor.GetAllowance(ctx, rec.Intent.Sender, rec.Intent.SourceToken.Address, adapter.Spender(&rec.Intent))
	if err != nil {
		return err
	}
	if allowance.Cmp(rec.Intent.Amount) >= 0 {
		o.logger.Debug("Allowance sufficient, skipping approval",
			zap.String("transfer_id", id),
			zap.String("allowance", allowance.String()))
		return nil
	}

	if _, err := o.transition(id, registry.StateApproving, nil); err != nil {
		return err
	}

	started := time.Now()
	for attempt := 0; ; attempt++ {
		err := o.approveOnce(ctx, adapter, accessor, rec.Intent, rec.Intent.Amount)
		if err == nil {
			_, terr := o.transition(id, registry.StateSubmitting, func(r *registry.TransferRecord) {
				r.LastError = ""
				r.Attempt = 0
			})
			metrics.PhaseDuration.WithLabelValues(rec.BridgeKind, string(bridge.PhaseApprove)).Observe(time.Since(started).Seconds())
			return terr
		}

		metrics.AdapterErrors.WithLabelValues(rec.BridgeKind, string(bridge.PhaseApprove), string(bridge.CodeOf(err))).Inc()
		if attempt+1 >= o.cfg.MaxAttempts {
			o.fail(id, bridge.PhaseApprove, err)
			return err
		}
		o.logger.Warn("Approval attempt failed, retrying",
			zap.String("transfer_id", id),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		metrics.RetryCount.WithLabelValues(rec.BridgeKind, string(bridge.PhaseApprove)).Inc()
		if _, uerr := o.store.Update(id, func(r *registry.TransferRecord) error {
			r.Attempt++
			r.LastError = err.Error()
			return nil
		}); uerr != nil {
			return uerr
		}
		if !o.sleep(o.cfg.backoff(attempt)) {
			return err
		}
		if r, gerr := o.store.Get(id); gerr != nil || o.applyCancelIfRequested(r) {
			return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseApprove, "transfer %q cancelled", id)
		}
	}
}

func (o *Orchestrator) approveOnce(ctx context.Context, adapter bridge.Adapter, accessor chain.Accessor, intent bridge.TransferIntent, amount *big.Int) error {
	ref, err := adapter.Approve(ctx, &intent, amount)
	if err != nil {
		return err
	}
	receipt, err := accessor.WaitForConfirmation(ctx, ref)
	if err != nil {
		return err
	}
	if !receipt.Success {
		return bridge.Errorf(bridge.CodeApprovalRejected, bridge.PhaseApprove, "approval transaction %s reverted", ref)
	}
	return nil
}

// Submit invokes the adapter's source-chain submission with bounded
// retries and starts the polling loop once the chain accepts it.
func (o *Orchestrator) Submit(ctx context.Context, id string) error {
	mu := o.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if rec.SourceTxRef != "" {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseSubmit, "transfer %q already submitted", id)
	}
	if rec.State != registry.StateQuoting && rec.State != registry.StateSubmitting {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseSubmit,
			"transfer %q is %s, submission not applicable", id, rec.State)
	}
	if rec.QuoteConfirmedAt == nil {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseSubmit, "quote for %q not confirmed", id)
	}
	if rec.Quote == nil {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseSubmit, "transfer %q has no quote", id)
	}
	if rec.State == registry.StateQuoting && o.applyCancelIfRequested(rec) {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseSubmit, "transfer %q cancelled", id)
	}

	// Stale quotes are never executed: refresh and make the caller
	// re-confirm the new price.
	if rec.Quote.Expired(time.Now()) {
		o.requoteLocked(id)
		return bridge.Errorf(bridge.CodeQuoteExpired, bridge.PhaseSubmit,
			"quote for %q expired before submission, re-quoted", id)
	}

	if rec.State == registry.StateQuoting {
		if _, err := o.transition(id, registry.StateSubmitting, nil); err != nil {
			return err
		}
	}

	adapter := o.adapters[rec.BridgeKind]
	started := time.Now()
	for attempt := 0; ; attempt++ {
		ref, err := adapter.SubmitSource(ctx, &rec.Intent, rec.Quote)
		if err == nil {
			updated, terr := o.transition(id, registry.StateAwaitingConfirmation, func(r *registry.TransferRecord) {
				r.SourceTxRef = ref
				r.LastError = ""
				r.Attempt = 0
			})
			if terr != nil {
				return terr
			}
			metrics.PhaseDuration.WithLabelValues(rec.BridgeKind, string(bridge.PhaseSubmit)).Observe(time.Since(started).Seconds())
			o.logger.Info("Source transaction submitted",
				zap.String("transfer_id", id),
				zap.String("source_tx", string(ref)))
			o.startPolling(updated)
			return nil
		}

		metrics.AdapterErrors.WithLabelValues(rec.BridgeKind, string(bridge.PhaseSubmit), string(bridge.CodeOf(err))).Inc()
		if _, uerr := o.store.Update(id, func(r *registry.TransferRecord) error {
			r.Attempt++
			r.LastError = err.Error()
			return nil
		}); uerr != nil {
			return uerr
		}
		if attempt+1 >= o.cfg.MaxAttempts {
			o.fail(id, bridge.PhaseSubmit, err)
			return err
		}
		o.logger.Warn("Submission attempt failed, retrying",
			zap.String("transfer_id", id),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		metrics.RetryCount.WithLabelValues(rec.BridgeKind, string(bridge.PhaseSubmit)).Inc()
		if !o.sleep(o.cfg.backoff(attempt)) {
			return err
		}
	}
}

// Claim performs the destination-chain claim. Only legal in AwaitingClaim;
// a failed claim returns there so the caller can retry without ever
// resubmitting the source transaction.
func (o *Orchestrator) Claim(ctx context.Context, id string) error {
	mu := o.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if rec.State != registry.StateAwaitingClaim {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseClaim,
			"transfer %q is %s, claim not applicable", id, rec.State)
	}

	if _, err := o.transition(id, registry.StateClaiming, nil); err != nil {
		return err
	}

	adapter := o.adapters[rec.BridgeKind]
	started := time.Now()
	ref, err := adapter.ClaimDestination(ctx, &rec.Intent, rec.ClaimPayload)
	if err != nil {
		switch bridge.CodeOf(err) {
		case bridge.CodeAlreadyClaimed:
			// Idempotent completion: an earlier claim landed.
			_, terr := o.transition(id, registry.StateCompleted, func(r *registry.TransferRecord) {
				r.LastError = ""
			})
			if terr != nil {
				return terr
			}
			o.finish(rec.BridgeKind, registry.StateCompleted)
			return nil
		case bridge.CodeClaimExpired:
			o.fail(id, bridge.PhaseClaim, err)
			return err
		default:
			metrics.AdapterErrors.WithLabelValues(rec.BridgeKind, string(bridge.PhaseClaim), string(bridge.CodeOf(err))).Inc()
			_, terr := o.transition(id, registry.StateAwaitingClaim, func(r *registry.TransferRecord) {
				r.Attempt++
				r.LastError = err.Error()
			})
			if terr != nil {
				return terr
			}
			return err
		}
	}

	receipt, err := o.chains[rec.Intent.DestChainID].WaitForConfirmation(ctx, ref)
	if err != nil || !receipt.Success {
		if err == nil {
			err = bridge.Errorf(bridge.CodeClaimRejected, bridge.PhaseClaim, "claim transaction %s reverted", ref)
		}
		metrics.AdapterErrors.WithLabelValues(rec.BridgeKind, string(bridge.PhaseClaim), string(bridge.CodeOf(err))).Inc()
		if _, terr := o.transition(id, registry.StateAwaitingClaim, func(r *registry.TransferRecord) {
			r.Attempt++
			r.LastError = err.Error()
		}); terr != nil {
			return terr
		}
		return err
	}

	_, err = o.transition(id, registry.StateCompleted, func(r *registry.TransferRecord) {
		r.DestinationTxRef = ref
		r.LastError = ""
	})
	if err != nil {
		return err
	}
	metrics.PhaseDuration.WithLabelValues(rec.BridgeKind, string(bridge.PhaseClaim)).Observe(time.Since(started).Seconds())
	o.logger.Info("Transfer completed",
		zap.String("transfer_id", id),
		zap.String("dest_tx", string(ref)))
	o.finish(rec.BridgeKind, registry.StateCompleted)
	return nil
}

// Cancel requests cooperative cancellation. Only transfers that have not
// reached an irreversible on-chain submission can be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	rec, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if rec.State != registry.StateQuoting && rec.State != registry.StateApproving {
		return bridge.Errorf(bridge.CodeIllegalTransition, bridge.PhaseQuote,
			"transfer %q is %s, cancellation no longer possible", id, rec.State)
	}

	if _, err := o.store.Update(id, func(r *registry.TransferRecord) error {
		r.CancelRequested = true
		return nil
	}); err != nil {
		return err
	}

	// Apply immediately when no phase operation is in flight; otherwise the
	// flag is honored at the next phase boundary.
	mu := o.lock(id)
	if mu.TryLock() {
		defer mu.Unlock()
		if rec, err := o.store.Get(id); err == nil {
			o.applyCancelIfRequested(rec)
		}
	}
	return nil
}

// Resume re-enters the polling loop for snapshot-restored transfers with a
// known source transaction. Resume never re-submits: re-polling is always
// safe, re-submitting is not.
func (o *Orchestrator) Resume(ctx context.Context) {
	for _, rec := range o.store.ListActive() {
		if rec.SourceTxRef == "" {
			continue
		}
		switch rec.State {
		case registry.StateSubmitting:
			updated, err := o.transition(rec.ID, registry.StateAwaitingConfirmation, nil)
			if err != nil {
				o.logger.Error("Failed to resume transfer", zap.String("transfer_id", rec.ID), zap.Error(err))
				continue
			}
			o.startPolling(updated)
		case registry.StateAwaitingConfirmation:
			o.startPolling(rec)
		}
	}
}

// lock returns the per-id mutex, creating it on first use.
func (o *Orchestrator) lock(id string) *sync.Mutex {
	m, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// transition moves the record to a new state, applying extra mutation under
// the same registry update, and publishes the transition.
func (o *Orchestrator) transition(id string, to registry.State, mutate func(*registry.TransferRecord)) (*registry.TransferRecord, error) {
	var prev registry.State
	updated, err := o.store.Update(id, func(r *registry.TransferRecord) error {
		prev = r.State
		r.State = to
		if mutate != nil {
			mutate(r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.StateTransitions.WithLabelValues(updated.BridgeKind, string(prev), string(to)).Inc()
	o.publish(updated, prev, updated.LastError)
	return updated, nil
}

// fail moves the record to Failed, recording the phase and cause.
func (o *Orchestrator) fail(id string, phase bridge.Phase, cause error) {
	updated, err := o.transition(id, registry.StateFailed, func(r *registry.TransferRecord) {
		r.LastError = cause.Error()
		r.FailedPhase = string(phase)
	})
	if err != nil {
		o.logger.Error("Failed to mark transfer failed",
			zap.String("transfer_id", id), zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	o.stopPolling(id)
	o.logger.Error("Transfer failed",
		zap.String("transfer_id", id),
		zap.String("phase", string(phase)),
		zap.NamedError("cause", cause))
	o.finish(updated.BridgeKind, registry.StateFailed)
}

// applyCancelIfRequested honors a pending cancellation flag at a phase
// boundary. Returns true when the record was moved to Cancelled.
func (o *Orchestrator) applyCancelIfRequested(rec *registry.TransferRecord) bool {
	if rec == nil || !rec.CancelRequested || rec.State.Terminal() {
		return rec != nil && rec.State == registry.StateCancelled
	}
	if rec.State != registry.StateQuoting && rec.State != registry.StateApproving {
		return false
	}
	if _, err := o.transition(rec.ID, registry.StateCancelled, nil); err != nil {
		return false
	}
	o.logger.Info("Transfer cancelled", zap.String("transfer_id", rec.ID))
	o.finish(rec.BridgeKind, registry.StateCancelled)
	return true
}

func (o *Orchestrator) publish(rec *registry.TransferRecord, prev registry.State, errMsg string) {
	o.bus.Publish(eventbus.Event{
		TransferID: rec.ID,
		Previous:   prev,
		New:        rec.State,
		Error:      errMsg,
		Timestamp:  rec.UpdatedAt,
	})
}

// finish updates terminal-state metrics.
func (o *Orchestrator) finish(bridgeKind string, state registry.State) {
	metrics.TransfersTotal.WithLabelValues(bridgeKind, string(state)).Inc()
	metrics.ActiveTransfers.WithLabelValues(bridgeKind).Dec()
}

// sleep waits for d unless the orchestrator is stopping. Returns false
// when interrupted.
func (o *Orchestrator) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-o.ctx.Done():
		return false
	}
}

func (o *Orchestrator) String() string {
	return fmt.Sprintf("orchestrator{adapters=%d chains=%d}", len(o.adapters), len(o.chains))
}
