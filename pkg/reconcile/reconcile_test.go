package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"sponsorcoin/pkg/codec"
	"sponsorcoin/pkg/metrics"
	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/networks"
	"sponsorcoin/pkg/panels"
	"sponsorcoin/pkg/persist"
	"sponsorcoin/pkg/store"
	"sponsorcoin/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const walletAddress = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeWallet blocks every SwitchChain call until a reply is sent on replies
// or the request context ends.
type fakeWallet struct {
	mu      sync.Mutex
	targets []int64
	replies chan error
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{replies: make(chan error)}
}

func (w *fakeWallet) ChainID(ctx context.Context) (int64, error)    { return 0, nil }
func (w *fakeWallet) Accounts(ctx context.Context) ([]string, error) { return nil, nil }

func (w *fakeWallet) SwitchChain(ctx context.Context, chainID int64) error {
	w.mu.Lock()
	w.targets = append(w.targets, chainID)
	w.mu.Unlock()
	select {
	case err := <-w.replies:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *fakeWallet) Targets() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int64(nil), w.targets...)
}

type okHydrator struct{}

func (okHydrator) Hydrate(ctx context.Context, address string) *models.Account {
	return &models.Account{
		Address: common.HexToAddress(address).Hex(),
		Name:    "Wallet",
		Status:  models.StatusOK,
		Balance: big.NewInt(0),
	}
}

type fixture struct {
	store  *store.Store
	ctrl   *Controller
	wallet *fakeWallet
}

// newFixture boots a controller. A non-zero persisted chain simulates a
// returning session whose last app network was that chain.
func newFixture(t *testing.T, persisted int64, opts ...Option) *fixture {
	t.Helper()
	var data []byte
	if persisted != 0 {
		var err error
		data, err = codec.Serialize(networks.DefaultTable().Default(persisted))
		require.NoError(t, err)
	}
	return newFixtureFromSnapshot(t, data, opts...)
}

// newFixtureFromSnapshot boots a controller over a store holding data as its
// persisted snapshot, or nothing when data is nil.
func newFixtureFromSnapshot(t *testing.T, data []byte, opts ...Option) *fixture {
	t.Helper()
	mem := persist.NewMemStore()
	if data != nil {
		require.NoError(t, mem.Save(context.Background(), data))
	}
	s := store.New(networks.DefaultTable(), mem, store.WithHydrator(okHydrator{}))
	w := newFakeWallet()
	opts = append([]Option{WithMetrics(metrics.Default())}, opts...)
	c := New(s, w, opts...)
	c.Boot(s.Load(context.Background()))

	t.Cleanup(func() {
		c.Close()
		_ = s.Close(context.Background())
	})
	return &fixture{store: s, ctrl: c, wallet: w}
}

// settle waits for every switch and hydration started so far.
func (f *fixture) settle() { f.ctrl.wg.Wait() }

// reply answers the pending switch request and waits for its outcome.
func (f *fixture) reply(err error) {
	f.wallet.replies <- err
	f.settle()
}

func (f *fixture) connect(chainID int64) {
	f.ctrl.HandleEvent(wallet.Event{Type: wallet.EventConnected, ChainID: chainID, Accounts: []string{walletAddress}})
}

func (f *fixture) network() models.Network {
	return f.store.GetState().Network
}

func switchCount(result string) float64 {
	return testutil.ToFloat64(metrics.Default().SwitchRequests.WithLabelValues(result))
}

func TestBoot_FreshDisconnected(t *testing.T) {
	f := newFixture(t, 0)
	n := f.network()
	assert.Equal(t, networks.DefaultChainID, n.AppChainID)
	assert.False(t, n.Connected)
	assert.Zero(t, n.ChainID)
	assert.False(t, f.store.GetState().Settings.HydratedFromLocalStorage)
}

func TestConnect_FreshSessionAdoptsWalletChain(t *testing.T) {
	f := newFixture(t, 0)
	f.connect(networks.Polygon)
	f.settle()

	n := f.network()
	assert.Equal(t, networks.Polygon, n.AppChainID)
	assert.Equal(t, "Polygon", n.Name)
	assert.Equal(t, networks.Polygon, n.ChainID)
	assert.True(t, n.Connected)
	assert.Empty(t, f.wallet.Targets(), "no switch when adopting")

	st := f.store.GetState()
	require.NotNil(t, st.TradeData.SellTokenContract)
	assert.Equal(t, networks.Polygon, st.TradeData.SellTokenContract.ChainID)
	require.NotNil(t, st.Accounts.ActiveAccount)
	assert.Equal(t, walletAddress, st.Accounts.ActiveAccount.Address)
}

func TestConnect_ReturningSessionRequestsSwitch(t *testing.T) {
	f := newFixture(t, networks.Sepolia)
	require.True(t, f.store.GetState().Settings.HydratedFromLocalStorage)

	before := switchCount("ok")
	f.connect(networks.EthereumMainnet)

	n := f.network()
	assert.Equal(t, networks.Sepolia, n.AppChainID, "persisted choice is kept")
	assert.Equal(t, networks.EthereumMainnet, n.ChainID, "mirrors the wallet until it switches")

	require.Eventually(t, func() bool { return len(f.wallet.Targets()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []int64{networks.Sepolia}, f.wallet.Targets())

	f.reply(nil)
	n = f.network()
	assert.Equal(t, networks.Sepolia, n.ChainID)
	assert.Equal(t, networks.Sepolia, n.AppChainID)
	assert.Equal(t, before+1, switchCount("ok"))
}

func TestConnect_AppMatchesWallet(t *testing.T) {
	f := newFixture(t, networks.Base)
	f.connect(networks.Base)
	f.settle()

	assert.Empty(t, f.wallet.Targets())
	assert.Equal(t, networks.Base, f.network().ChainID)
}

func TestConnect_UnsupportedChain(t *testing.T) {
	f := newFixture(t, 0)
	f.connect(56)
	f.settle()

	st := f.store.GetState()
	assert.Equal(t, networks.DefaultChainID, st.Network.AppChainID, "app network unchanged")
	assert.Equal(t, int64(56), st.Network.ChainID)
	assert.True(t, st.Network.Connected)
	require.NotNil(t, st.ErrorMessage)
	assert.Equal(t, SourceNetwork, st.ErrorMessage.Source)
	assert.Contains(t, st.ErrorMessage.Message, "56")
	assert.True(t, panels.Find(st.Settings.PanelTree, models.ErrorMessagePanel).Visible)
	assert.Empty(t, f.wallet.Targets())

	// Moving back to a supported chain clears the error.
	f.ctrl.HandleEvent(wallet.Event{Type: wallet.EventChainChanged, ChainID: networks.Polygon})
	st = f.store.GetState()
	assert.Nil(t, st.ErrorMessage)
	assert.False(t, panels.Find(st.Settings.PanelTree, models.ErrorMessagePanel).Visible)
	assert.Equal(t, networks.Polygon, st.Network.AppChainID)
}

func TestSwitchOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantError *models.ErrorRecord
	}{
		{name: "rejected", err: fmt.Errorf("switch: %w", wallet.ErrUserRejected)},
		{
			name: "not added",
			err:  fmt.Errorf("switch: %w", wallet.ErrChainNotAdded),
			wantError: &models.ErrorRecord{
				Source:  SourceWallet,
				Name:    "ChainNotAdded",
				Message: "Network Polygon (137) is not configured in your wallet. Add this network to your wallet, then try again.",
				Code:    wallet.CodeChainNotAdded,
			},
		},
		{
			name: "other failure",
			err:  errors.New("boom"),
			wantError: &models.ErrorRecord{
				Source:  SourceWallet,
				Name:    "SwitchFailed",
				Message: "Could not switch wallet to network 137: boom",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, networks.Polygon)
			f.connect(networks.EthereumMainnet)
			require.Eventually(t, func() bool { return len(f.wallet.Targets()) == 1 }, time.Second, time.Millisecond)
			f.reply(tt.err)

			st := f.store.GetState()
			assert.Equal(t, networks.Polygon, st.Network.AppChainID)
			assert.Equal(t, networks.EthereumMainnet, st.Network.ChainID, "wallet stayed where it was")
			assert.Equal(t, tt.wantError, st.ErrorMessage)
			assert.Equal(t, tt.wantError != nil, panels.Find(st.Settings.PanelTree, models.ErrorMessagePanel).Visible)
		})
	}
}

func TestSwitch_Timeout(t *testing.T) {
	f := newFixture(t, networks.Polygon, WithSwitchTimeout(10*time.Millisecond))
	f.connect(networks.EthereumMainnet)
	f.settle()

	st := f.store.GetState()
	require.NotNil(t, st.ErrorMessage)
	assert.Equal(t, "SwitchFailed", st.ErrorMessage.Name)
}

func TestSwitch_SupersededByWalletChange(t *testing.T) {
	f := newFixture(t, networks.Polygon)
	before := switchCount("superseded")

	f.connect(networks.EthereumMainnet)
	require.Eventually(t, func() bool { return len(f.wallet.Targets()) == 1 }, time.Second, time.Millisecond)

	// The user picks Base in the wallet while our request is still open.
	f.ctrl.HandleEvent(wallet.Event{Type: wallet.EventChainChanged, ChainID: networks.Base})
	n := f.network()
	assert.Equal(t, networks.Base, n.AppChainID)
	assert.Equal(t, networks.Base, n.ChainID)

	f.reply(nil)
	n = f.network()
	assert.Equal(t, networks.Base, n.AppChainID, "stale result discarded")
	assert.Equal(t, networks.Base, n.ChainID)
	assert.Equal(t, before+1, switchCount("superseded"))
}

func TestSwitch_SupersededByAppChoice(t *testing.T) {
	f := newFixture(t, networks.Polygon)
	before := switchCount("superseded")

	f.connect(networks.EthereumMainnet)
	require.Eventually(t, func() bool { return len(f.wallet.Targets()) == 1 }, time.Second, time.Millisecond)

	// Picking the wallet's own chain needs no switch but still retires the
	// pending one.
	require.NoError(t, f.ctrl.SetAppNetwork(networks.EthereumMainnet))
	f.reply(fmt.Errorf("switch: %w", wallet.ErrChainNotAdded))

	st := f.store.GetState()
	assert.Equal(t, networks.EthereumMainnet, st.Network.AppChainID)
	assert.Equal(t, networks.EthereumMainnet, st.Network.ChainID)
	assert.Nil(t, st.ErrorMessage, "late failure of the old switch is discarded")
	assert.False(t, panels.Find(st.Settings.PanelTree, models.ErrorMessagePanel).Visible)
	assert.Equal(t, []int64{networks.Polygon}, f.wallet.Targets(), "no new switch requested")
	assert.Equal(t, before+1, switchCount("superseded"))
}

func TestAdoption_SnapshotWithoutAppNetwork(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unsupported", data: `{"version":1,"state":{"network":{"appChainId":56}}}`},
		{name: "missing", data: `{"version":1,"state":{"settings":{"apiTradingProvider":"API_1INCH"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureFromSnapshot(t, []byte(tt.data))
			assert.True(t, f.store.GetState().Settings.HydratedFromLocalStorage)

			f.connect(networks.Polygon)
			f.settle()
			assert.Equal(t, networks.Polygon, f.network().AppChainID, "wallet chain adopted")
			assert.Empty(t, f.wallet.Targets())
		})
	}
}

func TestAdoption_OnlyOnFirstConnect(t *testing.T) {
	f := newFixture(t, 0)
	f.connect(networks.Polygon)
	f.ctrl.HandleEvent(wallet.Event{Type: wallet.EventDisconnected})
	f.connect(networks.Base)

	n := f.network()
	assert.Equal(t, networks.Polygon, n.AppChainID, "second connect does not adopt")
	assert.Equal(t, networks.Base, n.ChainID)
	require.Eventually(t, func() bool { return len(f.wallet.Targets()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []int64{networks.Polygon}, f.wallet.Targets())
	f.reply(nil)
}

func TestDisconnect(t *testing.T) {
	tests := []struct {
		name string
		ev   wallet.Event
	}{
		{name: "disconnected", ev: wallet.Event{Type: wallet.EventDisconnected}},
		{name: "no accounts", ev: wallet.Event{Type: wallet.EventAccountsChanged, Accounts: []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			f.connect(networks.Polygon)
			f.settle()
			require.NotNil(t, f.store.GetState().Accounts.ActiveAccount)

			f.ctrl.HandleEvent(tt.ev)
			st := f.store.GetState()
			assert.False(t, st.Network.Connected)
			assert.Zero(t, st.Network.ChainID)
			assert.Equal(t, networks.Polygon, st.Network.AppChainID, "app network survives a disconnect")
			assert.Nil(t, st.Accounts.ActiveAccount)
		})
	}
}

func TestChainChangeWhileDisconnected(t *testing.T) {
	f := newFixture(t, 0)
	f.ctrl.HandleEvent(wallet.Event{Type: wallet.EventChainChanged, ChainID: networks.Polygon})
	n := f.network()
	assert.Equal(t, networks.DefaultChainID, n.AppChainID)
	assert.Zero(t, n.ChainID)
}

func TestAccountsChanged(t *testing.T) {
	f := newFixture(t, 0)
	f.connect(networks.EthereumMainnet)
	other := "0x0000000000000000000000000000000000000007"
	f.ctrl.HandleEvent(wallet.Event{Type: wallet.EventAccountsChanged, Accounts: []string{other, walletAddress}})
	f.settle()

	acc := f.store.GetState().Accounts.ActiveAccount
	require.NotNil(t, acc)
	assert.Equal(t, other, acc.Address, "first account is active")
}

func TestSetAppNetwork(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		f := newFixture(t, 0)
		assert.ErrorIs(t, f.ctrl.SetAppNetwork(56), ErrUnsupportedChain)
		assert.Equal(t, networks.DefaultChainID, f.network().AppChainID)
	})

	t.Run("disconnected", func(t *testing.T) {
		f := newFixture(t, 0)
		require.NoError(t, f.ctrl.SetAppNetwork(networks.Base))
		assert.Equal(t, networks.Base, f.network().AppChainID)
		assert.Equal(t, "Base", f.network().Name)

		// The explicit choice wins over first-connect adoption.
		f.connect(networks.Polygon)
		assert.Equal(t, networks.Base, f.network().AppChainID)
		require.Eventually(t, func() bool { return len(f.wallet.Targets()) == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, []int64{networks.Base}, f.wallet.Targets())
		f.reply(nil)
		assert.Equal(t, networks.Base, f.network().ChainID)
	})

	t.Run("connected", func(t *testing.T) {
		f := newFixture(t, 0)
		f.connect(networks.EthereumMainnet)
		require.NoError(t, f.ctrl.SetAppNetwork(networks.Sepolia))

		n := f.network()
		assert.Equal(t, networks.Sepolia, n.AppChainID)
		assert.Equal(t, networks.EthereumMainnet, n.ChainID)
		require.Eventually(t, func() bool { return len(f.wallet.Targets()) == 1 }, time.Second, time.Millisecond)
		f.reply(nil)
		assert.Equal(t, networks.Sepolia, f.network().ChainID)
	})
}

func TestRun(t *testing.T) {
	f := newFixture(t, 0)

	events := make(chan wallet.Event, 1)
	events <- wallet.Event{Type: wallet.EventConnected, ChainID: networks.Polygon}
	close(events)
	assert.NoError(t, f.ctrl.Run(context.Background(), events))
	assert.Equal(t, networks.Polygon, f.network().AppChainID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.ctrl.Run(ctx, make(chan wallet.Event)), context.Canceled)
}
