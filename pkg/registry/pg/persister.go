package pg

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/pkg/eventbus"
	"github.com/swapall/bridge-orchestrator/pkg/registry"
)

const saveTimeout = 10 * time.Second

// Source is where the persister reads current records from. The in-memory
// registry satisfies it.
type Source interface {
	Get(id string) (*registry.TransferRecord, error)
	List() []*registry.TransferRecord
}

// Persister mirrors registry state to PostgreSQL by following the event
// bus. Persistence is best effort: a failed write is logged and the next
// transition (or the shutdown flush) retries the snapshot.
type Persister struct {
	store  *Store
	source Source
	sub    *eventbus.Subscription
	logger *zap.Logger

	wg   sync.WaitGroup
	once sync.Once
}

// NewPersister subscribes to the bus and starts mirroring transitions.
func NewPersister(store *Store, source Source, bus *eventbus.Bus, logger *zap.Logger) *Persister {
	p := &Persister{
		store:  store,
		source: source,
		sub:    bus.Subscribe(256),
		logger: logger.Named("persister"),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Persister) run() {
	defer p.wg.Done()
	for ev := range p.sub.C {
		rec, err := p.source.Get(ev.TransferID)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := p.store.Save(ctx, rec); err != nil {
			p.logger.Warn("Failed to persist transfer snapshot",
				zap.String("transfer_id", ev.TransferID),
				zap.Error(err))
		}
		cancel()
	}
}

// Flush writes every record the source knows about. Called on shutdown to
// capture transitions whose events were dropped under load.
func (p *Persister) Flush(ctx context.Context) error {
	var firstErr error
	for _, rec := range p.source.List() {
		if err := p.store.Save(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close detaches from the bus and waits for the mirror loop to drain.
func (p *Persister) Close() {
	p.once.Do(func() {
		p.sub.Detach()
		p.wg.Wait()
	})
}
