package sanitize

import (
	"encoding/json"
	"math/big"
	"testing"

	"sponsorcoin/pkg/codec"
	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/networks"
	"sponsorcoin/pkg/panels"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrLower = "0xab5801a7d398351b8be11c439e05c5b3259aec9b"
	addrSum   = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
)

var bigIntComparer = cmp.Comparer(func(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
})

func decode(t *testing.T, text string) map[string]any {
	t.Helper()
	v, err := codec.Decode([]byte(text))
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	return m
}

func TestSanitize_NilIsDefault(t *testing.T) {
	table := networks.DefaultTable()
	got := Sanitize(nil, 137, table)
	if diff := cmp.Diff(table.Default(137), got, bigIntComparer); diff != "" {
		t.Errorf("Sanitize(nil) mismatch (-want +got):\n%s", diff)
	}
}

func TestSanitize_Totality(t *testing.T) {
	table := networks.DefaultTable()
	inputs := []string{
		`{}`,
		`{"network": 5}`,
		`{"network": {"appChainId": "137", "chainId": -4, "connected": "yes"}}`,
		`{"accounts": [], "tradeData": null, "settings": "x"}`,
		`{"accounts": {"activeAccount": {"address": 12}, "sponsorAccounts": {"a": 1}}}`,
		`{"tradeData": {"sellTokenContract": "weth", "slippage": {"bps": 1e30}}}`,
		`{"settings": {"panelTree": [[[{"id": 3}]]]}}`,
		`{"errorMessage": {"message": 42}, "apiErrorMessage": []}`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got := Sanitize(decode(t, in), 1, table)

			assert.True(t, table.Supported(got.Network.AppChainID))
			assert.NotNil(t, got.Accounts.SponsorAccounts)
			assert.NotNil(t, got.Accounts.RecipientAccounts)
			assert.NotNil(t, got.Accounts.AgentAccounts)
			assert.True(t, got.TradeData.TradeDirection.Valid())
			assert.True(t, got.Settings.APITradingProvider.Valid())
			require.NoError(t, panels.Validate(got.Settings.PanelTree))
			assert.GreaterOrEqual(t, got.Network.ChainID, int64(0))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	table := networks.DefaultTable()
	raw := decode(t, `{
		"network": {"appChainId": 8453, "chainId": 1, "connected": true, "name": "Wrong"},
		"accounts": {
			"activeAccount": {"address": "`+addrLower+`", "name": "Sponsor One", "status": "OK", "balance": "0x10"},
			"sponsorAccounts": [{"address": "`+addrSum+`"}, {"address": "not-an-address"}]
		},
		"tradeData": {"tradeDirection": "BUY_EXACT_OUT", "rateRatio": 1.5, "slippage": {"bps": 250}},
		"settings": {"apiTradingProvider": "API_UNISWAP", "panelTree": {"id": "MAIN_TRADING_PANEL", "visible": true,
			"children": [{"id": "CONFIG_SETTINGS_PANEL", "visible": true}]}},
		"errorMessage": {"source": "wallet", "name": "Oops", "message": "boom", "code": 4001}
	}`)

	once := Sanitize(raw, PersistedChainID(raw, table), table)
	again, err := codec.ToRaw(once)
	require.NoError(t, err)
	twice := Sanitize(again, PersistedChainID(again, table), table)

	if diff := cmp.Diff(once, twice, bigIntComparer); diff != "" {
		t.Errorf("sanitize is not idempotent (-once +twice):\n%s", diff)
	}

	assert.Equal(t, int64(8453), once.Network.AppChainID)
	assert.Equal(t, "Base", once.Network.Name, "display fields follow the table")
	assert.Equal(t, models.BuyExactOut, once.TradeData.TradeDirection)
	assert.Equal(t, 250, once.TradeData.Slippage.BPS)
	assert.Equal(t, "2.50%", once.TradeData.Slippage.PercentageString)
	assert.Equal(t, models.APIUniswap, once.Settings.APITradingProvider)
	assert.True(t, panels.Find(once.Settings.PanelTree, models.ConfigSettingsPanel).Visible)
	require.NotNil(t, once.ErrorMessage)
	assert.Equal(t, 4001, once.ErrorMessage.Code)
}

func TestSanitize_AccountsShareRecords(t *testing.T) {
	raw := decode(t, `{"accounts": {
		"activeAccount": {"address": "`+addrLower+`", "name": "A"},
		"sponsorAccount": {"address": "`+addrSum+`", "name": "B"},
		"sponsorAccounts": [{"address": "`+addrSum+`"}, {"address": "`+addrLower+`"}]
	}}`)
	got := Sanitize(raw, 1, networks.DefaultTable())

	require.NotNil(t, got.Accounts.ActiveAccount)
	assert.Equal(t, addrSum, got.Accounts.ActiveAccount.Address, "addresses are checksummed")
	assert.Same(t, got.Accounts.ActiveAccount, got.Accounts.SponsorAccount)
	assert.Equal(t, "A", got.Accounts.SponsorAccount.Name, "first occurrence wins")
	require.Len(t, got.Accounts.SponsorAccounts, 1, "duplicates collapse within a list")
	assert.Same(t, got.Accounts.ActiveAccount, got.Accounts.SponsorAccounts[0])
}

func TestSanitize_InvalidEnumsFallBack(t *testing.T) {
	raw := decode(t, `{
		"accounts": {"activeAccount": {"address": "`+addrSum+`", "status": "GREAT"}},
		"tradeData": {"tradeDirection": "SIDEWAYS", "rateRatio": -1},
		"settings": {"apiTradingProvider": "API_NOPE"}
	}`)
	got := Sanitize(raw, 1, networks.DefaultTable())

	assert.Equal(t, models.StatusError, got.Accounts.ActiveAccount.Status)
	assert.Equal(t, models.SellExactIn, got.TradeData.TradeDirection)
	assert.Equal(t, float64(0), got.TradeData.RateRatio)
	assert.Equal(t, models.API0x, got.Settings.APITradingProvider)
}

func TestSanitize_UnsupportedAppChain(t *testing.T) {
	table := networks.DefaultTable()
	raw := decode(t, `{"network": {"appChainId": 56, "chainId": 56, "connected": true}}`)

	id, ok := RecordedChainID(raw, table)
	assert.False(t, ok)
	assert.Equal(t, networks.DefaultChainID, id)
	got := Sanitize(raw, PersistedChainID(raw, table), table)
	assert.Equal(t, networks.DefaultChainID, got.Network.AppChainID)
	assert.Equal(t, int64(56), got.Network.ChainID, "wallet chain is recorded as seen")

	id, ok = RecordedChainID(decode(t, `{"network": {"appChainId": 8453}}`), table)
	assert.True(t, ok)
	assert.Equal(t, networks.Base, id)
	_, ok = RecordedChainID(decode(t, `{"network": {}}`), table)
	assert.False(t, ok, "missing app chain")
}

func TestSanitize_DisconnectedHasNoChain(t *testing.T) {
	table := networks.DefaultTable()
	tests := []struct {
		name string
		json string
		want int64
	}{
		{name: "not connected", json: `{"network": {"appChainId": 1, "chainId": 137, "connected": false}}`, want: 0},
		{name: "connected missing", json: `{"network": {"appChainId": 1, "chainId": 137}}`, want: 0},
		{name: "connected malformed", json: `{"network": {"appChainId": 1, "chainId": 137, "connected": "yes"}}`, want: 0},
		{name: "connected", json: `{"network": {"appChainId": 1, "chainId": 137, "connected": true}}`, want: 137},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(decode(t, tt.json), networks.DefaultChainID, table)
			assert.Equal(t, tt.want, got.Network.ChainID)
		})
	}
}

func TestSanitize_TokensFollowAppChain(t *testing.T) {
	table := networks.DefaultTable()
	raw := decode(t, `{
		"network": {"appChainId": 137},
		"tradeData": {"buyTokenContract": {"address": "0x1111111111111111111111111111111111111111", "symbol": "SPCOIN", "decimals": 18}}
	}`)
	got := Sanitize(raw, 137, table)
	def := table.Default(137)

	assert.Equal(t, def.TradeData.SellTokenContract.Address, got.TradeData.SellTokenContract.Address)
	require.NotNil(t, got.TradeData.BuyTokenContract)
	assert.Equal(t, "SPCOIN", got.TradeData.BuyTokenContract.Symbol)
	assert.Equal(t, int64(137), got.TradeData.BuyTokenContract.ChainID)
}

func TestSanitize_PanelTreeKeepsShape(t *testing.T) {
	raw := decode(t, `{"settings": {"panelTree": {"id": "MAIN_TRADING_PANEL", "visible": true, "children": [
		{"id": "MANAGE_SPONSORSHIPS_PANEL", "visible": true},
		{"id": "MANAGE_SPONSORSHIPS_PANEL", "visible": false},
		{"id": "LEGACY_PANEL", "visible": true},
		{"id": "SWAP_ACTION_BUTTON", "visible": "no"}
	]}}}`)
	got := Sanitize(raw, 1, networks.DefaultTable())
	tree := got.Settings.PanelTree

	assert.Len(t, panels.Flatten(tree), len(models.AllPanelIDs))
	assert.True(t, panels.Find(tree, models.ManageSponsorshipsPanel).Visible, "first occurrence wins")
	assert.True(t, panels.Find(tree, models.SwapActionButton).Visible, "bad flag keeps default")
}

func TestBalance(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	over := new(big.Int).Lsh(big.NewInt(1), 256)

	tests := []struct {
		name string
		in   any
		want *big.Int
	}{
		{"json number", json.Number("2500000000000000000"), big.NewInt(2500000000000000000)},
		{"decimal string", " 42 ", big.NewInt(42)},
		{"hex string", "0x2a", big.NewInt(42)},
		{"max uint256", json.Number(max.String()), max},
		{"big int", big.NewInt(7), big.NewInt(7)},
		{"int64", int64(9), big.NewInt(9)},
		{"overflow", json.Number(over.String()), nil},
		{"negative", json.Number("-1"), nil},
		{"fraction", json.Number("1.5"), nil},
		{"float", 1.0, nil},
		{"garbage", "lots", nil},
		{"nil big", (*big.Int)(nil), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Balance(tt.in)
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, 0, tt.want.Cmp(got), "got %s", got)
		})
	}
}
