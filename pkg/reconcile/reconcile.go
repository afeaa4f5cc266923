// Package reconcile keeps the application's network in step with the wallet.
//
// Three sources disagree about the current network: the wallet (which can
// change at any time), the persisted app network from the last session, and
// the user's in-app choice. The Controller applies a fixed rule set on every
// wallet event and app-driven change, and writes the outcome through the
// store. It never mutates state directly.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sponsorcoin/pkg/metrics"
	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/networks"
	"sponsorcoin/pkg/panels"
	"sponsorcoin/pkg/store"
	"sponsorcoin/pkg/wallet"

	"go.uber.org/zap"
)

const DefaultSwitchTimeout = 60 * time.Second

// Error record sources written by the controller.
const (
	SourceNetwork = "network"
	SourceWallet  = "wallet"
)

var ErrUnsupportedChain = errors.New("unsupported network")

type Controller struct {
	store   *store.Store
	table   *networks.Table
	wallet  wallet.Provider
	logger  *zap.Logger
	metrics *metrics.Metrics

	switchTimeout time.Duration

	mu           sync.Mutex
	hadPersisted bool
	adoptionDone bool
	generation   uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithSwitchTimeout bounds how long a wallet switch request may stay pending.
func WithSwitchTimeout(d time.Duration) Option {
	return func(c *Controller) { c.switchTimeout = d }
}

func New(s *store.Store, w wallet.Provider, opts ...Option) *Controller {
	c := &Controller{
		store:         s,
		table:         s.Table(),
		wallet:        w,
		logger:        zap.NewNop(),
		switchTimeout: DefaultSwitchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Boot must be called once after the store has loaded, before any event is
// handled. hadPersisted reports whether the store found a usable snapshot.
func (c *Controller) Boot(hadPersisted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hadPersisted = hadPersisted
	c.store.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.Network.Connected = false
		st.Network.ChainID = 0
		if !c.table.Supported(st.Network.AppChainID) {
			c.applyAppNetwork(&st, networks.DefaultChainID)
		}
		return st
	}, "boot")
	c.logger.Info("Reconciler booted",
		zap.Bool("persisted", hadPersisted),
		zap.Int64("appChainId", c.store.GetState().Network.AppChainID))
}

// Run handles wallet events until ctx is done or events is closed.
func (c *Controller) Run(ctx context.Context, events <-chan wallet.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(ev)
		}
	}
}

// HandleEvent applies one wallet event.
func (c *Controller) HandleEvent(ev wallet.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("Wallet event", zap.String("type", string(ev.Type)), zap.Int64("chainId", ev.ChainID))
	switch ev.Type {
	case wallet.EventConnected:
		c.onConnect(ev.ChainID)
		c.onAccounts(ev.Accounts)
	case wallet.EventDisconnected:
		c.onDisconnect()
	case wallet.EventChainChanged:
		c.onChainChanged(ev.ChainID)
	case wallet.EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			c.onDisconnect()
			return
		}
		c.onAccounts(ev.Accounts)
	default:
		c.logger.Warn("Ignoring unknown wallet event", zap.String("type", string(ev.Type)))
	}
}

// SetAppNetwork is the user choosing a network in the app. While the wallet
// is connected on another chain a switch is requested; its outcome is applied
// asynchronously.
func (c *Controller) SetAppNetwork(chainID int64) error {
	if !c.table.Supported(chainID) {
		return fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// An explicit choice always beats first-connect adoption, and any switch
	// still pending for an earlier choice no longer applies.
	c.adoptionDone = true
	c.generation++

	var switchNeeded bool
	c.store.SetState(func(st models.ExchangeState) models.ExchangeState {
		c.applyAppNetwork(&st, chainID)
		switchNeeded = st.Network.Connected && st.Network.ChainID != chainID
		return st
	}, fmt.Sprintf("app network %d", chainID))
	if switchNeeded {
		c.requestSwitch(chainID)
	}
	return nil
}

// Close cancels pending switch requests and hydrations and waits for them.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) onConnect(chainID int64) {
	first := !c.adoptionDone
	c.adoptionDone = true
	c.generation++

	if !c.table.Supported(chainID) {
		c.unsupported(chainID)
		return
	}

	var switchTo int64
	c.store.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.Network.Connected = true
		st.Network.ChainID = chainID
		clearNetworkError(&st)
		switch {
		case st.Network.AppChainID == chainID:
		case first && !c.hadPersisted && st.Network.AppChainID == networks.DefaultChainID:
			c.applyAppNetwork(&st, chainID)
		default:
			switchTo = st.Network.AppChainID
		}
		return st
	}, fmt.Sprintf("wallet connected on %d", chainID))
	if switchTo != 0 {
		c.requestSwitch(switchTo)
	}
}

func (c *Controller) onDisconnect() {
	c.generation++
	c.store.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.Network.Connected = false
		st.Network.ChainID = 0
		return st
	}, "wallet disconnected")
	if err := c.store.ClearRoleAccount(models.RoleActive); err != nil {
		c.logger.Warn("Failed to clear active account", zap.Error(err))
	}
}

// onChainChanged handles the user switching network inside the wallet. Any
// pending app-driven switch is superseded.
func (c *Controller) onChainChanged(chainID int64) {
	if !c.store.GetState().Network.Connected {
		c.logger.Debug("Ignoring chain change while disconnected", zap.Int64("chainId", chainID))
		return
	}
	c.generation++
	if !c.table.Supported(chainID) {
		c.unsupported(chainID)
		return
	}
	c.store.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.Network.ChainID = chainID
		clearNetworkError(&st)
		c.applyAppNetwork(&st, chainID)
		return st
	}, fmt.Sprintf("wallet switched to %d", chainID))
}

func (c *Controller) onAccounts(accounts []string) {
	if len(accounts) == 0 {
		return
	}
	addr := accounts[0]
	if cur := c.store.GetState().Accounts.ActiveAccount; cur != nil &&
		cur.Status != models.StatusError && models.SameAddress(cur.Address, addr) {
		return
	}
	pending, err := c.store.ReserveRoleAccount(models.RoleActive, addr)
	if err != nil {
		c.logger.Warn("Cannot set active account", zap.String("address", addr), zap.Error(err))
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, err := pending(c.ctx)
		switch {
		case err == nil, errors.Is(err, store.ErrSuperseded), errors.Is(err, context.Canceled):
		default:
			c.logger.Warn("Failed to set active account", zap.String("address", addr), zap.Error(err))
		}
	}()
}

// unsupported mirrors the wallet's chain for display but leaves the app
// network where it was and surfaces the problem.
func (c *Controller) unsupported(chainID int64) {
	if c.metrics != nil {
		c.metrics.UnsupportedChains.Inc()
	}
	c.logger.Warn("Wallet is on an unsupported network", zap.Int64("chainId", chainID))
	rec := models.ErrorRecord{
		Source:  SourceNetwork,
		Name:    "UnsupportedNetwork",
		Message: fmt.Sprintf("Your wallet is connected to network %d, which is not supported. Switch to a supported network in your wallet.", chainID),
	}
	c.store.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.Network.Connected = true
		st.Network.ChainID = chainID
		st.ErrorMessage = &rec
		if tree, ok, err := panels.Open(st.Settings.PanelTree, models.ErrorMessagePanel); err == nil && ok {
			st.Settings.PanelTree = tree
		}
		return st
	}, fmt.Sprintf("wallet on unsupported network %d", chainID))
}

// requestSwitch asks the wallet to move to target. Called with c.mu held.
func (c *Controller) requestSwitch(target int64) {
	c.generation++
	gen := c.generation
	c.count("requested")
	c.logger.Info("Requesting wallet network switch", zap.Int64("target", target))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.switchTimeout)
		err := c.wallet.SwitchChain(ctx, target)
		cancel()
		c.switchDone(gen, target, err)
	}()
}

func (c *Controller) switchDone(gen uint64, target int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.count("superseded")
		c.logger.Debug("Discarding superseded switch result", zap.Int64("target", target), zap.Error(err))
		return
	}

	switch {
	case err == nil:
		c.count("ok")
		c.store.SetState(func(st models.ExchangeState) models.ExchangeState {
			if st.Network.Connected && st.Network.AppChainID == target {
				st.Network.ChainID = target
				clearNetworkError(&st)
			}
			return st
		}, fmt.Sprintf("wallet switched to %d", target))
	case errors.Is(err, wallet.ErrUserRejected):
		c.count("rejected")
		c.logger.Info("Network switch rejected in wallet", zap.Int64("target", target))
	case errors.Is(err, wallet.ErrChainNotAdded):
		c.count("not_added")
		name := fmt.Sprint(target)
		if info, ok := c.table.Info(target); ok {
			name = fmt.Sprintf("%s (%d)", info.Name, target)
		}
		c.store.ReportError(models.ErrorRecord{
			Source:  SourceWallet,
			Name:    "ChainNotAdded",
			Message: fmt.Sprintf("Network %s is not configured in your wallet. Add this network to your wallet, then try again.", name),
			Code:    wallet.CodeChainNotAdded,
		})
	case errors.Is(err, context.Canceled):
		c.count("cancelled")
	default:
		c.count("failed")
		c.logger.Warn("Network switch failed", zap.Int64("target", target), zap.Error(err))
		c.store.ReportError(models.ErrorRecord{
			Source:  SourceWallet,
			Name:    "SwitchFailed",
			Message: fmt.Sprintf("Could not switch wallet to network %d: %v", target, err),
		})
	}
}

func (c *Controller) count(result string) {
	if c.metrics != nil {
		c.metrics.SwitchRequests.WithLabelValues(result).Inc()
	}
}

// applyAppNetwork moves the app network to chainID, refreshing display
// fields and resetting the trade tokens to that network's defaults.
func (c *Controller) applyAppNetwork(st *models.ExchangeState, chainID int64) {
	if st.Network.AppChainID == chainID && st.Network.Name != "" {
		return
	}
	def := c.table.Default(chainID)
	c.table.ApplyNetwork(st, chainID)
	st.TradeData.SellTokenContract = def.TradeData.SellTokenContract
	st.TradeData.BuyTokenContract = def.TradeData.BuyTokenContract
	st.TradeData.RateRatio = 0
}

// clearNetworkError drops an unsupported-network error once the wallet is
// back on a supported chain.
func clearNetworkError(st *models.ExchangeState) {
	if st.ErrorMessage == nil || st.ErrorMessage.Source != SourceNetwork {
		return
	}
	st.ErrorMessage = nil
	if tree, ok, err := panels.Close(st.Settings.PanelTree, models.ErrorMessagePanel); err == nil && ok {
		st.Settings.PanelTree = tree
	}
}
