package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"sponsorcoin/pkg/config"
	"sponsorcoin/pkg/hydrate"
	"sponsorcoin/pkg/metrics"
	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/networks"
	"sponsorcoin/pkg/persist"
	"sponsorcoin/pkg/reconcile"
	"sponsorcoin/pkg/rpc"
	"sponsorcoin/pkg/store"
	"sponsorcoin/pkg/watcher"

	"go.uber.org/zap"
)

// app owns every long-lived component of a session.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	table      *networks.Table
	persister  persist.Persister
	wallet     *rpc.Wallet
	chain      *rpc.Chain
	store      *store.Store
	controller *reconcile.Controller
	watcher    *watcher.Watcher

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func tableFor(cfg config.Config) *networks.Table {
	return networks.DefaultTable().Restrict(cfg.SupportedChains)
}

func openPersister(cfg config.Config) (persist.Persister, error) {
	if cfg.StoreBackend == config.BackendMemory {
		return persist.NewMemStore(), nil
	}
	path, err := cfg.ResolveStorePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}
	if cfg.StoreBackend == config.BackendLevelDB {
		return persist.NewLevelStore(path)
	}
	return persist.NewFileStore(path), nil
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	p, err := openPersister(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		table:     tableFor(cfg),
		persister: p,
		wallet:    rpc.NewWallet(cfg.WalletRPCURL),
		chain:     rpc.NewChain(cfg.BalanceURL()),
	}
	m := metrics.Default()

	pipeline := hydrate.New(rpc.NewMetadataClient(cfg.MetadataURL),
		hydrate.WithTimeout(cfg.HydrationTimeoutDuration()),
		hydrate.WithRateLimit(cfg.HydrationRate, cfg.HydrationBurst),
		hydrate.WithBalanceReader(a.chain),
		hydrate.WithLogger(logger),
		hydrate.WithMetrics(m),
	)
	a.store = store.New(a.table, p,
		store.WithHydrator(pipeline),
		store.WithLogger(logger),
		store.WithMetrics(m),
	)
	a.controller = reconcile.New(a.store, a.wallet,
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(m),
		reconcile.WithSwitchTimeout(cfg.SwitchTimeoutDuration()),
	)
	a.watcher = watcher.NewWatcher(a.wallet,
		watcher.WithInterval(cfg.PollIntervalDuration()),
		watcher.WithLogger(logger),
	)
	return a, nil
}

// start restores the persisted state and begins following the wallet.
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.controller.Boot(a.store.Load(ctx))

	events := a.watcher.Subscribe()
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer a.watcher.Unsubscribe(events)
		if err := a.controller.Run(ctx, events); err != nil && ctx.Err() == nil {
			a.logger.Warn("Reconciler stopped", zap.Error(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		a.hydrate(ctx)
	}()
	a.watcher.Start(ctx)
}

// hydrate refreshes persisted accounts, then applies the configured lists.
func (a *app) hydrate(ctx context.Context) {
	if err := a.store.HydrateReferenced(ctx); err != nil {
		a.logger.Warn("Failed to hydrate persisted accounts", zap.Error(err))
	}
	for role, addrs := range configuredLists(a.cfg.Accounts) {
		if _, err := a.store.SetAccountList(ctx, role, addrs); err != nil {
			a.logger.Warn("Failed to load configured accounts",
				zap.String("role", string(role)), zap.Error(err))
		}
	}
}

// configuredLists groups configured addresses by role, keeping file order.
func configuredLists(accounts []config.AccountConfig) map[models.AccountRole][]string {
	out := map[models.AccountRole][]string{}
	for _, a := range accounts {
		role := models.AccountRole(strings.ToLower(a.Role))
		out[role] = append(out[role], a.Address)
	}
	return out
}

func (a *app) close() {
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.watcher.Stop()
		a.wg.Wait()
		a.controller.Close()

		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HydrationTimeoutDuration())
		defer cancel()
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("Failed to persist final state", zap.Error(err))
		}
		if err := a.persister.Close(); err != nil {
			a.logger.Warn("Failed to close state store", zap.Error(err))
		}
		a.wallet.Close()
		a.chain.Close()
		_ = a.logger.Sync()
	})
}
