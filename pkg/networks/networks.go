// Package networks holds the immutable table of supported chains and the
// default exchange state registered for each of them.
package networks

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/panels"

	"github.com/ethereum/go-ethereum/common"
)

const (
	EthereumMainnet int64 = 1
	Polygon         int64 = 137
	Base            int64 = 8453
	Sepolia         int64 = 11155111
	Hardhat         int64 = 31337

	// DefaultChainID is used when nothing else says which network to show.
	DefaultChainID = EthereumMainnet

	DefaultSlippageBPS = 100
)

// NetworkInfo is the display and token metadata for one chain.
type NetworkInfo struct {
	ChainID   int64
	Name      string
	Symbol    string
	URL       string
	LogoURL   string
	Testnet   bool
	SellToken *models.TokenContract
	BuyToken  *models.TokenContract
}

// Table maps chain ids to their info. A Table is never modified after construction.
type Table struct {
	infos map[int64]NetworkInfo
}

func token(chainID int64, address, name, symbol string, decimals int) *models.TokenContract {
	addr := common.HexToAddress(address).Hex()
	return &models.TokenContract{
		Address:  addr,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
		ChainID:  chainID,
		LogoURL:  tokenLogoURL(chainID, addr),
		Balance:  new(big.Int),
	}
}

func tokenLogoURL(chainID int64, address string) string {
	return "/assets/blockchains/" + strconv.FormatInt(chainID, 10) + "/contracts/" + address + "/logo.png"
}

func networkLogoURL(chainID int64) string {
	return "/assets/blockchains/" + strconv.FormatInt(chainID, 10) + "/info/network.png"
}

var builtin = []NetworkInfo{
	{
		ChainID:   EthereumMainnet,
		Name:      "Ethereum",
		Symbol:    "ETH",
		URL:       "https://etherscan.io",
		SellToken: token(EthereumMainnet, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "Wrapped Ether", "WETH", 18),
		BuyToken:  token(EthereumMainnet, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "USD Coin", "USDC", 6),
	},
	{
		ChainID:   Polygon,
		Name:      "Polygon",
		Symbol:    "POL",
		URL:       "https://polygonscan.com",
		SellToken: token(Polygon, "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", "Wrapped Polygon", "WPOL", 18),
		BuyToken:  token(Polygon, "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", "USD Coin", "USDC", 6),
	},
	{
		ChainID:   Base,
		Name:      "Base",
		Symbol:    "ETH",
		URL:       "https://basescan.org",
		SellToken: token(Base, "0x4200000000000000000000000000000000000006", "Wrapped Ether", "WETH", 18),
		BuyToken:  token(Base, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin", "USDC", 6),
	},
	{
		ChainID:   Sepolia,
		Name:      "Sepolia",
		Symbol:    "ETH",
		URL:       "https://sepolia.etherscan.io",
		Testnet:   true,
		SellToken: token(Sepolia, "0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14", "Wrapped Ether", "WETH", 18),
		BuyToken:  token(Sepolia, "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", "USD Coin", "USDC", 6),
	},
	{
		ChainID: Hardhat,
		Name:    "Hardhat",
		Symbol:  "ETH",
		URL:     "http://localhost:8545",
		Testnet: true,
	},
}

// DefaultTable returns the built-in network table.
func DefaultTable() *Table {
	return NewTable(builtin...)
}

// NewTable builds a table from infos. Later entries win on duplicate ids.
func NewTable(infos ...NetworkInfo) *Table {
	t := &Table{infos: make(map[int64]NetworkInfo, len(infos))}
	for _, info := range infos {
		if info.LogoURL == "" {
			info.LogoURL = networkLogoURL(info.ChainID)
		}
		t.infos[info.ChainID] = info
	}
	return t
}

// Restrict returns a table holding only ids, plus the default network.
// Ids not present in t are ignored. An empty list returns t itself.
func (t *Table) Restrict(ids []int64) *Table {
	if len(ids) == 0 {
		return t
	}
	keep := []NetworkInfo{}
	if info, ok := t.infos[DefaultChainID]; ok {
		keep = append(keep, info)
	}
	for _, id := range ids {
		if info, ok := t.infos[id]; ok {
			keep = append(keep, info)
		}
	}
	return NewTable(keep...)
}

// Supported reports whether chainID is in the table.
func (t *Table) Supported(chainID int64) bool {
	_, ok := t.infos[chainID]
	return ok
}

// Info returns the metadata for chainID.
func (t *Table) Info(chainID int64) (NetworkInfo, bool) {
	info, ok := t.infos[chainID]
	return info, ok
}

// IDs returns the supported chain ids in ascending order.
func (t *Table) IDs() []int64 {
	ids := make([]int64, 0, len(t.infos))
	for id := range t.infos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resolve maps an unsupported chain id to DefaultChainID.
func (t *Table) Resolve(chainID int64) int64 {
	if t.Supported(chainID) {
		return chainID
	}
	return DefaultChainID
}

// ApplyNetwork sets the app network of s to chainID and refreshes the
// display fields from the table. ChainID and Connected are left alone.
func (t *Table) ApplyNetwork(s *models.ExchangeState, chainID int64) {
	info, ok := t.infos[chainID]
	if !ok {
		return
	}
	s.Network.AppChainID = chainID
	s.Network.Name = info.Name
	s.Network.Symbol = info.Symbol
	s.Network.URL = info.URL
	s.Network.LogoURL = info.LogoURL
}

// Default returns a fresh copy of the registered default state for chainID.
// Unknown ids get the default network's state.
func (t *Table) Default(chainID int64) models.ExchangeState {
	chainID = t.Resolve(chainID)
	info := t.infos[chainID]
	s := models.ExchangeState{
		Accounts: models.Accounts{
			SponsorAccounts:   []*models.Account{},
			RecipientAccounts: []*models.Account{},
			AgentAccounts:     []*models.Account{},
		},
		TradeData: models.TradeData{
			TradeDirection:    models.SellExactIn,
			SellTokenContract: info.SellToken.Clone(),
			BuyTokenContract:  info.BuyToken.Clone(),
			Slippage:          SlippageFromBPS(DefaultSlippageBPS),
		},
		Settings: models.Settings{
			APITradingProvider: models.API0x,
			PanelTree:          panels.DefaultTree(),
		},
	}
	t.ApplyNetwork(&s, chainID)
	return s
}

// SlippageFromBPS derives the display fields from a basis-point value.
func SlippageFromBPS(bps int) models.Slippage {
	pct := float64(bps) / 100
	return models.Slippage{
		BPS:              bps,
		Percentage:       pct,
		PercentageString: fmt.Sprintf("%.2f%%", pct),
	}
}
