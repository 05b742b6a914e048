package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/internal/metrics"
	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/registry"
)

// startPolling launches the per-transfer status poll loop. Exactly one
// loop runs per transfer; it stops the instant a terminal or claim-ready
// status is observed, or once the transfer deadline plus grace elapses.
func (o *Orchestrator) startPolling(rec *registry.TransferRecord) {
	if _, loaded := o.pollers.Load(rec.ID); loaded {
		return
	}

	deadline := rec.Intent.Deadline
	if deadline.IsZero() {
		deadline = rec.CreatedAt.Add(o.cfg.MaxTransferDuration)
	}
	giveUpAt := deadline.Add(o.cfg.PollGrace)

	pollCtx, cancel := context.WithCancel(o.ctx)
	o.pollers.Store(rec.ID, cancel)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.pollers.Delete(rec.ID)
		defer cancel()

		ticker := time.NewTicker(o.cfg.PollInterval)
		defer ticker.Stop()

		o.logger.Debug("Polling started",
			zap.String("transfer_id", rec.ID),
			zap.Time("give_up_at", giveUpAt))

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
			if done := o.pollOnce(rec.ID, giveUpAt); done {
				return
			}
		}
	}()
}

// pollOnce performs a single poll tick. The adapter call runs without the
// per-id lock; the lock is reacquired only to apply the result.
func (o *Orchestrator) pollOnce(id string, giveUpAt time.Time) bool {
	rec, err := o.store.Get(id)
	if err != nil {
		return true
	}
	if rec.State.Terminal() || rec.State == registry.StateAwaitingClaim {
		return true
	}

	if time.Now().After(giveUpAt) {
		mu := o.lock(id)
		mu.Lock()
		defer mu.Unlock()
		if cur, err := o.store.Get(id); err != nil || cur.State.Terminal() {
			return true
		}
		o.fail(id, bridge.PhasePoll, bridge.Errorf(bridge.CodeTimeout, bridge.PhasePoll,
			"no terminal status before deadline %s", giveUpAt.Format(time.RFC3339)))
		return true
	}

	adapter, ok := o.adapters[rec.BridgeKind]
	if !ok {
		return true
	}

	result, err := adapter.PollStatus(o.ctx, rec.SourceTxRef, &rec.Intent)
	if err != nil {
		// Transient by contract: adapters only error on unreachable
		// backends. Keep polling, surface the count for observability.
		metrics.PollTicks.WithLabelValues(rec.BridgeKind, "error").Inc()
		o.logger.Warn("Status poll failed, will retry",
			zap.String("transfer_id", id), zap.Error(err))
		_, _ = o.store.Update(id, func(r *registry.TransferRecord) error {
			r.TransientErrs++
			r.LastError = err.Error()
			return nil
		})
		return false
	}

	metrics.PollTicks.WithLabelValues(rec.BridgeKind, string(result.Status)).Inc()

	mu := o.lock(id)
	mu.Lock()
	defer mu.Unlock()
	return o.applyPollResult(id, adapter, result)
}

// applyPollResult drives the state machine from an observed status. The
// record may have advanced while the poll was in flight, so everything is
// re-checked under the lock; the machine keeps the most-advanced status
// ever observed and never regresses on polling noise.
func (o *Orchestrator) applyPollResult(id string, adapter bridge.Adapter, result *bridge.PollResult) bool {
	rec, err := o.store.Get(id)
	if err != nil || rec.State.Terminal() {
		return true
	}
	if rec.State == registry.StateAwaitingClaim || rec.State == registry.StateClaiming {
		return true
	}

	switch result.Status {
	case bridge.StatusReverted:
		o.fail(id, bridge.PhasePoll, bridge.Errorf(bridge.CodeSubmissionRejected, bridge.PhasePoll,
			"source transaction %s reverted", rec.SourceTxRef))
		return true

	case bridge.StatusExpired:
		o.fail(id, bridge.PhasePoll, bridge.Errorf(bridge.CodeTimeout, bridge.PhasePoll,
			"protocol transfer window expired for %s", rec.SourceTxRef))
		return true
	}

	// Only AwaitingConfirmation reaches this point, so pending is the
	// baseline: a result that is not strictly beyond it is polling noise.
	if !result.Status.MoreAdvanced(bridge.StatusPending) {
		return false
	}

	switch result.Status {
	case bridge.StatusDestinationFulfilled:
		_, err := o.transition(id, registry.StateCompleted, func(r *registry.TransferRecord) {
			r.DestinationTxRef = result.DestTxRef
			r.LastError = ""
		})
		if err != nil {
			o.logger.Error("Failed to complete transfer from poll",
				zap.String("transfer_id", id), zap.Error(err))
			return true
		}
		o.logger.Info("Transfer fulfilled on destination",
			zap.String("transfer_id", id),
			zap.String("dest_tx", string(result.DestTxRef)))
		o.finish(rec.BridgeKind, registry.StateCompleted)
		return true

	case bridge.StatusDestinationPrepared:
		if !adapter.NeedsClaim() {
			// Claimless protocols report prepared while relayers finish the
			// payout; keep polling until fulfilled.
			return false
		}
		_, err := o.transition(id, registry.StateAwaitingClaim, func(r *registry.TransferRecord) {
			r.ClaimPayload = result.ClaimPayload
			r.LastError = ""
		})
		if err != nil {
			o.logger.Error("Failed to mark transfer claimable",
				zap.String("transfer_id", id), zap.Error(err))
			return true
		}
		o.logger.Info("Destination prepared, claim required",
			zap.String("transfer_id", id),
			zap.Int("payload_bytes", len(result.ClaimPayload)))
		return true

	default:
		return false
	}
}

// stopPolling cancels the poll loop for a transfer, if one is running.
func (o *Orchestrator) stopPolling(id string) {
	if cancel, loaded := o.pollers.LoadAndDelete(id); loaded {
		cancel.(context.CancelFunc)()
	}
}
