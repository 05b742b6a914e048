// Package orchestrator implements app.Runner for the orchestrator process.
package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/pkg/api"
	apphttp "github.com/swapall/bridge-orchestrator/pkg/app/http"
	"github.com/swapall/bridge-orchestrator/pkg/auth"
	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/bridge/celer"
	"github.com/swapall/bridge-orchestrator/pkg/bridge/nxtp"
	"github.com/swapall/bridge-orchestrator/pkg/chain"
	"github.com/swapall/bridge-orchestrator/pkg/chain/evm"
	"github.com/swapall/bridge-orchestrator/pkg/config"
	"github.com/swapall/bridge-orchestrator/pkg/eventbus"
	orchpkg "github.com/swapall/bridge-orchestrator/pkg/orchestrator"
	"github.com/swapall/bridge-orchestrator/pkg/pgutil"
	"github.com/swapall/bridge-orchestrator/pkg/registry"
	registrypg "github.com/swapall/bridge-orchestrator/pkg/registry/pg"
)

// Server holds cfg to init the orchestrator server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new orchestrator server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("orchestrator config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting bridge orchestrator",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("chains", len(cfg.Chains)),
	)

	chains, closeChains, err := s.connectChains(logger)
	if err != nil {
		return err
	}
	defer closeChains()

	adapters, err := s.buildAdapters(chains, logger)
	if err != nil {
		return err
	}

	reg := registry.New()
	bus := eventbus.New()

	var (
		persister *registrypg.Persister
		store     *registrypg.Store
	)
	if cfg.Database.Enabled() {
		persister, store, err = s.openStore(ctx, reg, bus, logger)
		if err != nil {
			return err
		}
		defer persister.Close()
	}

	orch := orchpkg.New(
		orchpkg.Config{
			PollInterval:        cfg.Orchestrator.PollInterval,
			PollGrace:           cfg.Orchestrator.PollGrace,
			MaxAttempts:         cfg.Orchestrator.MaxAttempts,
			RetryBaseDelay:      cfg.Orchestrator.RetryBaseDelay,
			RetryMaxDelay:       cfg.Orchestrator.RetryMaxDelay,
			MaxTransferDuration: cfg.Orchestrator.MaxTransferDuration,
		},
		adapters, chains, reg, bus, logger,
	)
	orch.Resume(ctx)

	stopEvict := s.startEviction(reg, store, logger)
	defer stopEvict()

	if cfg.Monitoring.Enabled {
		s.startMetricsServer(ctx, logger)
	}

	var validator *auth.JWTValidator
	if cfg.Auth.Enabled() {
		validator = auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}
	router := api.NewHandler(orch, logger).Router(validator)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	err = apphttp.ServeAndWait(ctx, router, logger, addr, cfg.Shutdown.Timeout)

	// Stop background work before deferred closes kick in.
	orch.Stop()
	if persister != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		if ferr := persister.Flush(flushCtx); ferr != nil {
			logger.Warn("Failed to flush transfer snapshots", zap.Error(ferr))
		}
		cancel()
	}

	return err
}

func (s *Server) connectChains(logger *zap.Logger) (map[int64]chain.Accessor, func(), error) {
	chains := make(map[int64]chain.Accessor, len(s.cfg.Chains))
	clients := make([]*evm.Client, 0, len(s.cfg.Chains))
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	for _, cc := range s.cfg.Chains {
		var maxGasPrice *big.Int
		if cc.MaxGasPrice != "" {
			maxGasPrice = new(big.Int)
			if _, ok := maxGasPrice.SetString(cc.MaxGasPrice, 10); !ok {
				closeAll()
				return nil, nil, fmt.Errorf("invalid max_gas_price %q for chain %d", cc.MaxGasPrice, cc.ChainID)
			}
		}
		client, err := evm.NewClient(evm.Config{
			ChainID:         cc.ChainID,
			RPCURL:          cc.RPCURL,
			PrivateKey:      cc.PrivateKey,
			GasLimit:        cc.GasLimit,
			MaxGasPrice:     maxGasPrice,
			ConfirmInterval: cc.ConfirmInterval,
			ConfirmTimeout:  cc.ConfirmTimeout,
		}, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect chain %d: %w", cc.ChainID, err)
		}
		clients = append(clients, client)
		chains[cc.ChainID] = client
		logger.Info("Connected to chain",
			zap.Int64("chain_id", cc.ChainID),
			zap.String("signer", client.Address()))
	}
	return chains, closeAll, nil
}

func (s *Server) buildAdapters(chains map[int64]chain.Accessor, logger *zap.Logger) (map[string]bridge.Adapter, error) {
	adapters := make(map[string]bridge.Adapter, 2)

	if s.cfg.Celer.Enabled {
		slippage, err := decimal.NewFromString(s.cfg.Celer.Slippage)
		if err != nil {
			return nil, fmt.Errorf("invalid celer slippage %q: %w", s.cfg.Celer.Slippage, err)
		}
		gateway := celer.NewGateway(s.cfg.Celer.GatewayURL, nil)
		adapters[celer.Kind] = celer.New(celer.Config{
			PoolContracts: s.cfg.Celer.PoolContracts,
			QuoteTTL:      s.cfg.Celer.QuoteTTL,
			Slippage:      slippage,
		}, gateway, chains, logger)
		logger.Info("cBridge adapter enabled", zap.String("gateway", s.cfg.Celer.GatewayURL))
	}

	if s.cfg.Nxtp.Enabled {
		router := nxtp.NewRouter(s.cfg.Nxtp.RouterURL, nil)
		adapters[nxtp.Kind] = nxtp.New(nxtp.Config{
			TransactionManagers: s.cfg.Nxtp.TransactionManagers,
			QuoteTTL:            s.cfg.Nxtp.QuoteTTL,
			PrepareWindow:       s.cfg.Nxtp.PrepareWindow,
		}, router, chains, logger)
		logger.Info("nxtp adapter enabled", zap.String("router", s.cfg.Nxtp.RouterURL))
	}

	return adapters, nil
}

// openStore connects to PostgreSQL, reloads the in-memory registry from
// the stored snapshots and starts the mirroring persister.
func (s *Server) openStore(
	ctx context.Context,
	reg *registry.Registry,
	bus *eventbus.Bus,
	logger *zap.Logger,
) (*registrypg.Persister, *registrypg.Store, error) {
	db, err := pgutil.ConnectDB(&s.cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	store := registrypg.NewStore(db)
	records, err := store.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reload transfers: %w", err)
	}
	for _, rec := range records {
		if err := reg.Put(rec); err != nil {
			logger.Warn("Skipping unloadable transfer snapshot",
				zap.String("transfer_id", rec.ID), zap.Error(err))
		}
	}
	logger.Info("Reloaded transfer snapshots", zap.Int("count", len(records)))

	return registrypg.NewPersister(store, reg, bus, logger), store, nil
}

// startEviction prunes aged terminal records on a fixed cadence, both in
// memory and, when persistence is on, in the snapshot table.
func (s *Server) startEviction(reg *registry.Registry, store *registrypg.Store, logger *zap.Logger) func() {
	if s.cfg.Orchestrator.EvictAfter <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if n := reg.Evict(s.cfg.Orchestrator.EvictAfter); n > 0 {
					logger.Info("Evicted terminal transfers", zap.Int("count", n))
				}
				if store != nil {
					pruneCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
					n, err := store.DeleteOlderThan(pruneCtx, int64(s.cfg.Orchestrator.EvictAfter.Seconds()))
					cancel()
					if err != nil {
						logger.Warn("Failed to prune transfer snapshots", zap.Error(err))
					} else if n > 0 {
						logger.Info("Pruned transfer snapshots", zap.Int64("count", n))
					}
				}
			}
		}
	}()
	return func() { close(done) }
}

func (s *Server) startMetricsServer(ctx context.Context, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", s.cfg.Monitoring.MetricsPort)

	go func() {
		logger.Info("Metrics server listening", zap.String("address", addr))
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
}
