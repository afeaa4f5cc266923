// Package wallet describes the boundary to the user's wallet provider.
package wallet

import (
	"context"
	"errors"
)

// EIP-1193 / EIP-3326 provider error codes.
const (
	CodeUserRejected  = 4001
	CodeChainNotAdded = 4902
)

var (
	// ErrUserRejected means the user declined the request in the wallet.
	ErrUserRejected = errors.New("request rejected by user")
	// ErrChainNotAdded means the wallet does not know the requested network.
	ErrChainNotAdded = errors.New("network is not configured in the wallet")
)

// Provider is the wallet as seen by the application.
type Provider interface {
	// ChainID returns the wallet's active chain.
	ChainID(ctx context.Context) (int64, error)
	// Accounts returns the connected accounts; empty means disconnected.
	Accounts(ctx context.Context) ([]string, error)
	// SwitchChain asks the wallet to change network. It may fail with
	// ErrUserRejected or ErrChainNotAdded.
	SwitchChain(ctx context.Context, chainID int64) error
}

// EventType defines the kind of wallet event.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventChainChanged    EventType = "chain_changed"
	EventAccountsChanged EventType = "accounts_changed"
)

// Event is a change observed at the wallet. ChainID is set for connected and
// chain_changed events; Accounts for connected and accounts_changed.
type Event struct {
	Type     EventType `json:"type"`
	ChainID  int64     `json:"chainId,omitempty"`
	Accounts []string  `json:"accounts,omitempty"`
}
