package watcher

import "sponsorcoin/pkg/wallet"

// Subscriber is a channel that receives wallet events.
type Subscriber chan wallet.Event

// Status is the wallet as last observed by the poller.
type Status struct {
	Connected bool
	ChainID   int64
	Accounts  []string
	// Failures counts consecutive polls that could not reach the wallet.
	Failures int
}
