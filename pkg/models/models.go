package models

import (
	"math/big"
)

// AccountStatus describes how much is known about an account.
type AccountStatus string

const (
	StatusOK    AccountStatus = "OK"
	StatusInfo  AccountStatus = "INFO"
	StatusError AccountStatus = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusOK, StatusInfo, StatusError:
		return true
	}
	return false
}

// TradeDirection selects which side of a swap is fixed.
type TradeDirection string

const (
	SellExactIn TradeDirection = "SELL_EXACT_IN"
	BuyExactOut TradeDirection = "BUY_EXACT_OUT"
)

func (d TradeDirection) Valid() bool {
	return d == SellExactIn || d == BuyExactOut
}

// APITradingProvider names the quoting backend used by the swap panels.
type APITradingProvider string

const (
	API0x       APITradingProvider = "API_0X"
	API1inch    APITradingProvider = "API_1INCH"
	APIParaswap APITradingProvider = "API_PARASWAP"
	APIUniswap  APITradingProvider = "API_UNISWAP"
)

func (p APITradingProvider) Valid() bool {
	switch p {
	case API0x, API1inch, APIParaswap, APIUniswap:
		return true
	}
	return false
}

// AccountRole names one of the role slots in Accounts.
type AccountRole string

const (
	RoleActive    AccountRole = "active"
	RoleSponsor   AccountRole = "sponsor"
	RoleRecipient AccountRole = "recipient"
	RoleAgent     AccountRole = "agent"
)

func (r AccountRole) Valid() bool {
	switch r {
	case RoleActive, RoleSponsor, RoleRecipient, RoleAgent:
		return true
	}
	return false
}

// Account is an enriched, displayable wallet address. Accounts are immutable
// once produced; a different address is a different Account.
type Account struct {
	Address     string        `json:"address"`
	Type        string        `json:"type"`
	Name        string        `json:"name"`
	Symbol      string        `json:"symbol"`
	Website     string        `json:"website"`
	Status      AccountStatus `json:"status"`
	Description string        `json:"description"`
	LogoURL     string        `json:"logoURL"`
	Balance     *big.Int      `json:"balance"`
}

// BalanceOrZero never returns nil.
func (a *Account) BalanceOrZero() *big.Int {
	if a == nil || a.Balance == nil {
		return new(big.Int)
	}
	return a.Balance
}

// TokenContract describes an ERC-20 token selectable in the trade panels.
type TokenContract struct {
	Address  string   `json:"address"`
	Name     string   `json:"name"`
	Symbol   string   `json:"symbol"`
	Decimals int      `json:"decimals"`
	ChainID  int64    `json:"chainId"`
	LogoURL  string   `json:"logoURL"`
	Balance  *big.Int `json:"balance"`
}

func (t *TokenContract) Clone() *TokenContract {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Balance != nil {
		cp.Balance = new(big.Int).Set(t.Balance)
	}
	return &cp
}

// Network holds both the wallet's active chain and the application's intended one.
type Network struct {
	ChainID    int64  `json:"chainId"`
	AppChainID int64  `json:"appChainId"`
	Connected  bool   `json:"connected"`
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	URL        string `json:"url"`
	LogoURL    string `json:"logoURL"`
}

// Accounts holds the role slots and the role lists.
type Accounts struct {
	ActiveAccount     *Account   `json:"activeAccount,omitempty"`
	SponsorAccount    *Account   `json:"sponsorAccount,omitempty"`
	RecipientAccount  *Account   `json:"recipientAccount,omitempty"`
	AgentAccount      *Account   `json:"agentAccount,omitempty"`
	SponsorAccounts   []*Account `json:"sponsorAccounts"`
	RecipientAccounts []*Account `json:"recipientAccounts"`
	AgentAccounts     []*Account `json:"agentAccounts"`
}

// Slot returns the role slot for r.
func (a *Accounts) Slot(r AccountRole) *Account {
	switch r {
	case RoleActive:
		return a.ActiveAccount
	case RoleSponsor:
		return a.SponsorAccount
	case RoleRecipient:
		return a.RecipientAccount
	case RoleAgent:
		return a.AgentAccount
	}
	return nil
}

// SetSlot replaces the role slot for r.
func (a *Accounts) SetSlot(r AccountRole, acc *Account) {
	switch r {
	case RoleActive:
		a.ActiveAccount = acc
	case RoleSponsor:
		a.SponsorAccount = acc
	case RoleRecipient:
		a.RecipientAccount = acc
	case RoleAgent:
		a.AgentAccount = acc
	}
}

// List returns the role list for r. The active role has no list.
func (a *Accounts) List(r AccountRole) []*Account {
	switch r {
	case RoleSponsor:
		return a.SponsorAccounts
	case RoleRecipient:
		return a.RecipientAccounts
	case RoleAgent:
		return a.AgentAccounts
	}
	return nil
}

// SetList replaces the role list for r.
func (a *Accounts) SetList(r AccountRole, list []*Account) {
	switch r {
	case RoleSponsor:
		a.SponsorAccounts = list
	case RoleRecipient:
		a.RecipientAccounts = list
	case RoleAgent:
		a.AgentAccounts = list
	}
}

// Clone copies the slot structure. Account values are shared since they are immutable.
func (a Accounts) Clone() Accounts {
	cp := a
	cp.SponsorAccounts = append([]*Account{}, a.SponsorAccounts...)
	cp.RecipientAccounts = append([]*Account{}, a.RecipientAccounts...)
	cp.AgentAccounts = append([]*Account{}, a.AgentAccounts...)
	return cp
}

// Slippage is kept in basis points; the percentage fields are derived for display.
type Slippage struct {
	BPS              int     `json:"bps"`
	Percentage       float64 `json:"percentage"`
	PercentageString string  `json:"percentageString"`
}

// TradeData is the current swap configuration.
type TradeData struct {
	TradeDirection    TradeDirection `json:"tradeDirection"`
	SellTokenContract *TokenContract `json:"sellTokenContract,omitempty"`
	BuyTokenContract  *TokenContract `json:"buyTokenContract,omitempty"`
	RateRatio         float64        `json:"rateRatio"`
	Slippage          Slippage       `json:"slippage"`
}

func (t TradeData) Clone() TradeData {
	cp := t
	cp.SellTokenContract = t.SellTokenContract.Clone()
	cp.BuyTokenContract = t.BuyTokenContract.Clone()
	return cp
}

// Settings holds UI-level preferences.
type Settings struct {
	APITradingProvider       APITradingProvider `json:"apiTradingProvider"`
	PanelTree                *PanelNode         `json:"panelTree"`
	HydratedFromLocalStorage bool               `json:"hydratedFromLocalStorage"`
}

func (s Settings) Clone() Settings {
	cp := s
	cp.PanelTree = s.PanelTree.Clone()
	return cp
}

// ErrorRecord is the last error surfaced to the user.
type ErrorRecord struct {
	Source  string `json:"source"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

func (e *ErrorRecord) Clone() *ErrorRecord {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

// ExchangeState is the root application state.
type ExchangeState struct {
	Network         Network      `json:"network"`
	Accounts        Accounts     `json:"accounts"`
	TradeData       TradeData    `json:"tradeData"`
	Settings        Settings     `json:"settings"`
	ErrorMessage    *ErrorRecord `json:"errorMessage,omitempty"`
	APIErrorMessage *ErrorRecord `json:"apiErrorMessage,omitempty"`
}

// Clone returns a copy that shares nothing mutable with s.
func (s ExchangeState) Clone() ExchangeState {
	return ExchangeState{
		Network:         s.Network,
		Accounts:        s.Accounts.Clone(),
		TradeData:       s.TradeData.Clone(),
		Settings:        s.Settings.Clone(),
		ErrorMessage:    s.ErrorMessage.Clone(),
		APIErrorMessage: s.APIErrorMessage.Clone(),
	}
}
