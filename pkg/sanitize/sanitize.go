// Package sanitize repairs a decoded, possibly partial state object against
// the default state registered for a network.
package sanitize

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/networks"
	"sponsorcoin/pkg/panels"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const maxSlippageBPS = 10_000

// Sanitize returns a complete ExchangeState. Every field comes from raw when
// present and valid, otherwise from table.Default(chainID). It never panics.
//
// The network display fields (name, symbol, url, logo) are always taken from
// the table for the resulting app chain id so they cannot disagree with it.
func Sanitize(raw map[string]any, chainID int64, table *networks.Table) (out models.ExchangeState) {
	def := table.Default(chainID)
	if raw == nil {
		return def
	}
	defer func() {
		if r := recover(); r != nil {
			out = table.Default(chainID)
		}
	}()

	s := def.Clone()
	s.Network = sanitizeNetwork(object(raw, "network"), def.Network, table)
	table.ApplyNetwork(&s, s.Network.AppChainID)
	s.Accounts = sanitizeAccounts(object(raw, "accounts"))
	appDef := table.Default(s.Network.AppChainID)
	s.TradeData = sanitizeTradeData(object(raw, "tradeData"), appDef.TradeData, s.Network.AppChainID)
	s.Settings = sanitizeSettings(object(raw, "settings"), def.Settings)
	s.ErrorMessage = sanitizeError(raw["errorMessage"])
	s.APIErrorMessage = sanitizeError(raw["apiErrorMessage"])
	return s
}

// PersistedChainID returns the app chain id recorded in raw when it is
// supported, otherwise the default network.
func PersistedChainID(raw map[string]any, table *networks.Table) int64 {
	id, _ := RecordedChainID(raw, table)
	return id
}

// RecordedChainID is PersistedChainID that also reports whether raw held a
// supported app chain id.
func RecordedChainID(raw map[string]any, table *networks.Table) (int64, bool) {
	if id, ok := integer(object(raw, "network")["appChainId"]); ok && table.Supported(id) {
		return id, true
	}
	return networks.DefaultChainID, false
}

func sanitizeNetwork(m map[string]any, def models.Network, table *networks.Table) models.Network {
	n := def
	if m == nil {
		return n
	}
	if id, ok := integer(m["appChainId"]); ok && table.Supported(id) {
		n.AppChainID = id
	}
	if id, ok := integer(m["chainId"]); ok && id >= 0 {
		n.ChainID = id
	}
	if b, ok := m["connected"].(bool); ok {
		n.Connected = b
	}
	if !n.Connected {
		n.ChainID = 0
	}
	return n
}

// sanitizeAccounts keeps one *Account per address so every slot naming the
// same address shares the same record.
func sanitizeAccounts(m map[string]any) models.Accounts {
	accs := models.Accounts{
		SponsorAccounts:   []*models.Account{},
		RecipientAccounts: []*models.Account{},
		AgentAccounts:     []*models.Account{},
	}
	if m == nil {
		return accs
	}
	seen := make(map[string]*models.Account)
	one := func(v any) *models.Account {
		acc := sanitizeAccount(v)
		if acc == nil {
			return nil
		}
		key := models.NormalizeAddress(acc.Address)
		if prev, ok := seen[key]; ok {
			return prev
		}
		seen[key] = acc
		return acc
	}
	list := func(v any) []*models.Account {
		out := []*models.Account{}
		items, ok := v.([]any)
		if !ok {
			return out
		}
		dup := make(map[*models.Account]bool)
		for _, item := range items {
			if acc := one(item); acc != nil && !dup[acc] {
				dup[acc] = true
				out = append(out, acc)
			}
		}
		return out
	}

	accs.ActiveAccount = one(m["activeAccount"])
	accs.SponsorAccount = one(m["sponsorAccount"])
	accs.RecipientAccount = one(m["recipientAccount"])
	accs.AgentAccount = one(m["agentAccount"])
	accs.SponsorAccounts = list(m["sponsorAccounts"])
	accs.RecipientAccounts = list(m["recipientAccounts"])
	accs.AgentAccounts = list(m["agentAccounts"])
	return accs
}

func sanitizeAccount(v any) *models.Account {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	addr, ok := address(m["address"])
	if !ok {
		return nil
	}
	acc := models.FallbackAccount(addr)
	acc.Type = str(m["type"], acc.Type)
	acc.Name = str(m["name"], acc.Name)
	acc.Symbol = str(m["symbol"], acc.Symbol)
	acc.Website = str(m["website"], acc.Website)
	acc.Description = str(m["description"], acc.Description)
	acc.LogoURL = str(m["logoURL"], acc.LogoURL)
	if st, ok := m["status"].(string); ok && models.AccountStatus(st).Valid() {
		acc.Status = models.AccountStatus(st)
	}
	if bal, ok := Balance(m["balance"]); ok {
		acc.Balance = bal
	}
	return acc
}

func sanitizeToken(v any, def *models.TokenContract, chainID int64) *models.TokenContract {
	m, ok := v.(map[string]any)
	if !ok {
		return def.Clone()
	}
	addr, ok := address(m["address"])
	if !ok {
		return def.Clone()
	}
	t := &models.TokenContract{Address: addr, ChainID: chainID, Balance: new(big.Int)}
	if def != nil && models.SameAddress(def.Address, addr) {
		t = def.Clone()
	}
	t.Name = str(m["name"], t.Name)
	t.Symbol = str(m["symbol"], t.Symbol)
	t.LogoURL = str(m["logoURL"], t.LogoURL)
	if d, ok := integer(m["decimals"]); ok && d >= 0 && d <= 255 {
		t.Decimals = int(d)
	}
	if id, ok := integer(m["chainId"]); ok && id > 0 {
		t.ChainID = id
	}
	if bal, ok := Balance(m["balance"]); ok {
		t.Balance = bal
	}
	return t
}

func sanitizeTradeData(m map[string]any, def models.TradeData, chainID int64) models.TradeData {
	td := def.Clone()
	if m == nil {
		return td
	}
	if d, ok := m["tradeDirection"].(string); ok && models.TradeDirection(d).Valid() {
		td.TradeDirection = models.TradeDirection(d)
	}
	td.SellTokenContract = sanitizeToken(m["sellTokenContract"], def.SellTokenContract, chainID)
	td.BuyTokenContract = sanitizeToken(m["buyTokenContract"], def.BuyTokenContract, chainID)
	if r, ok := number(m["rateRatio"]); ok && r >= 0 {
		td.RateRatio = r
	}
	if sl := object(m, "slippage"); sl != nil {
		if bps, ok := integer(sl["bps"]); ok && bps >= 0 && bps <= maxSlippageBPS {
			td.Slippage = networks.SlippageFromBPS(int(bps))
		}
	}
	return td
}

func sanitizeSettings(m map[string]any, def models.Settings) models.Settings {
	st := def.Clone()
	if m == nil {
		return st
	}
	if p, ok := m["apiTradingProvider"].(string); ok && models.APITradingProvider(p).Valid() {
		st.APITradingProvider = models.APITradingProvider(p)
	}
	if b, ok := m["hydratedFromLocalStorage"].(bool); ok {
		st.HydratedFromLocalStorage = b
	}
	st.PanelTree = sanitizePanelTree(m["panelTree"], def.PanelTree)
	return st
}

// sanitizePanelTree keeps the shape of def and copies visibility flags from
// raw by id. Unknown ids are dropped and only the first occurrence of an id counts.
func sanitizePanelTree(raw any, def *models.PanelNode) *models.PanelNode {
	tree := def.Clone()
	if tree == nil {
		tree = panels.DefaultTree()
	}
	flags := make(map[models.PanelID]bool)
	var walk func(v any)
	walk = func(v any) {
		switch n := v.(type) {
		case []any:
			for _, c := range n {
				walk(c)
			}
		case map[string]any:
			if id, ok := n["id"].(string); ok && models.PanelID(id).Valid() {
				if vis, ok := n["visible"].(bool); ok {
					if _, dup := flags[models.PanelID(id)]; !dup {
						flags[models.PanelID(id)] = vis
					}
				}
			}
			walk(n["children"])
		}
	}
	walk(raw)
	for _, n := range panels.Flatten(tree) {
		if v, ok := flags[n.ID]; ok {
			n.Visible = v
		}
	}
	return tree
}

func sanitizeError(v any) *models.ErrorRecord {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	msg, ok := m["message"].(string)
	if !ok {
		return nil
	}
	rec := &models.ErrorRecord{
		Source:  str(m["source"], ""),
		Name:    str(m["name"], ""),
		Message: msg,
	}
	if c, ok := integer(m["code"]); ok && c >= math.MinInt32 && c <= math.MaxInt32 {
		rec.Code = int(c)
	}
	return rec
}

// Balance parses a non-negative integer that fits in 256 bits from a decoded
// JSON value. Decimal strings and "0x" hex strings are accepted.
func Balance(v any) (*big.Int, bool) {
	var text string
	switch b := v.(type) {
	case json.Number:
		text = b.String()
	case string:
		text = strings.TrimSpace(b)
	case *big.Int:
		if b == nil {
			return nil, false
		}
		text = b.String()
	case int64:
		text = big.NewInt(b).String()
	default:
		return nil, false
	}
	base := 10
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		text, base = text[2:], 16
	}
	n, ok := new(big.Int).SetString(text, base)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	if _, overflow := uint256.FromBig(n); overflow {
		return nil, false
	}
	return n, true
}

func object(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func str(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func address(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !common.IsHexAddress(s) {
		return "", false
	}
	return common.HexToAddress(s).Hex(), true
}

func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case float64:
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
