package tui

import (
	"context"
	"testing"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/networks"
	"sponsorcoin/pkg/panels"
	"sponsorcoin/pkg/persist"
	"sponsorcoin/pkg/reconcile"
	"sponsorcoin/pkg/store"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noWallet struct{}

func (noWallet) ChainID(context.Context) (int64, error)     { return 0, nil }
func (noWallet) Accounts(context.Context) ([]string, error) { return nil, nil }
func (noWallet) SwitchChain(context.Context, int64) error   { return nil }

func TestPanelRows(t *testing.T) {
	tree := panels.DefaultTree()
	tree, _, err := panels.Open(tree, models.ManageAgentsPanel)
	require.NoError(t, err)

	rows := panelRows(tree)
	assert.Len(t, rows, len(panels.Flatten(tree)))
	assert.Equal(t, models.MainTradingPanel, rows[0].ID)
	assert.Equal(t, 0, rows[0].Depth)

	for _, r := range rows {
		if r.ID == models.ManageAgentsPanel {
			assert.True(t, r.Visible)
			assert.False(t, r.Effective, "parent is closed")
			assert.Equal(t, 2, r.Depth)
		}
		if r.ID == models.SellSelectPanel {
			assert.True(t, r.Effective)
		}
	}
}

func TestGroupFor(t *testing.T) {
	assert.Equal(t, panels.ManageSponsorshipGroup, groupFor(models.ManageSponsorsPanel))
	assert.Equal(t, panels.MainOverlayGroup, groupFor(models.ConfigSettingsPanel))
	assert.Nil(t, groupFor(models.SwapActionButton))
}

func TestNextNetwork(t *testing.T) {
	ids := []int64{137, 1, 8453}
	assert.Equal(t, int64(137), nextNetwork(ids, 1))
	assert.Equal(t, int64(8453), nextNetwork(ids, 137))
	assert.Equal(t, int64(1), nextNetwork(ids, 8453))
	assert.Equal(t, int64(5), nextNetwork(nil, 5))
}

func TestAccountRows(t *testing.T) {
	acc := models.FallbackAccount("0x0000000000000000000000000000000000000001")
	rows := accountRows(models.Accounts{
		SponsorAccount:  acc,
		SponsorAccounts: []*models.Account{acc},
	})
	require.Len(t, rows, 5)
	assert.Same(t, acc, rows[1].Account)
	assert.Equal(t, "Sponsors[]", rows[4].Role)
}

func TestUpdate_KeysDriveStore(t *testing.T) {
	st := store.New(networks.DefaultTable(), persist.NewMemStore())
	ctrl := reconcile.New(st, noWallet{})
	defer func() {
		ctrl.Close()
		_ = st.Close(context.Background())
	}()

	m := initialModel(st, ctrl)

	// Move to TRADE_CONTAINER_HEADER and toggle it.
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m = next.(model)
	assert.Equal(t, 1, m.cursor)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)

	change := <-m.sub
	assert.False(t, panels.Find(change.State.Settings.PanelTree, models.TradeContainerHeader).Visible)

	next, _ = m.Update(change)
	m = next.(model)
	assert.Equal(t, "toggle TRADE_CONTAINER_HEADER", m.lastReason)
	assert.NotEmpty(t, m.View())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	m = next.(model)
	assert.Equal(t, int64(137), st.GetState().Network.AppChainID)
}
