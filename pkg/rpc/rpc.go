package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"sponsorcoin/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

var DialTimeout = 10 * time.Second

// Wallet talks to a wallet provider over JSON-RPC (an EIP-1193 bridge or a
// node that exposes the wallet_* namespace).
type Wallet struct {
	url string

	mu     sync.Mutex
	client *gethrpc.Client
}

func NewWallet(url string) *Wallet {
	return &Wallet{url: url}
}

// conn dials lazily so that a wallet that is not running yet does not fail startup.
func (w *Wallet) conn(ctx context.Context) (*gethrpc.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return w.client, nil
	}
	dctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	c, err := gethrpc.DialContext(dctx, w.url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet %s: %w", w.url, err)
	}
	w.client = c
	return c, nil
}

func (w *Wallet) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	c, err := w.conn(ctx)
	if err != nil {
		return err
	}
	return mapError(c.CallContext(ctx, result, method, args...))
}

func (w *Wallet) ChainID(ctx context.Context) (int64, error) {
	var id hexutil.Uint64
	if err := w.call(ctx, &id, "eth_chainId"); err != nil {
		return 0, err
	}
	return int64(id), nil
}

func (w *Wallet) Accounts(ctx context.Context) ([]string, error) {
	var addrs []common.Address
	if err := w.call(ctx, &addrs, "eth_accounts"); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return out, nil
}

// SwitchChain sends wallet_switchEthereumChain (EIP-3326).
func (w *Wallet) SwitchChain(ctx context.Context, chainID int64) error {
	param := map[string]string{"chainId": hexutil.EncodeUint64(uint64(chainID))}
	return w.call(ctx, nil, "wallet_switchEthereumChain", param)
}

func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
}

// mapError turns provider error codes into wallet sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case wallet.CodeUserRejected:
			return fmt.Errorf("%w: %s", wallet.ErrUserRejected, rpcErr.Error())
		case wallet.CodeChainNotAdded:
			return fmt.Errorf("%w: %s", wallet.ErrChainNotAdded, rpcErr.Error())
		}
	}
	return err
}

// Chain reads on-chain data from a node.
type Chain struct {
	url string

	mu     sync.Mutex
	client *ethclient.Client
}

func NewChain(url string) *Chain {
	return &Chain{url: url}
}

func (c *Chain) conn(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	dctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	client, err := ethclient.DialContext(dctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("dial node %s: %w", c.url, err)
	}
	c.client = client
	return client, nil
}

// BalanceAt returns the latest native balance of address in wei.
func (c *Chain) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	client, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	return client.BalanceAt(ctx, common.HexToAddress(address), nil)
}

func (c *Chain) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// ProbeResult is the outcome of Probe.
type ProbeResult struct {
	URL     string
	ChainID int64
	Latency time.Duration
	Err     error
}

// Probe dials url, asks for its chain id and measures the round trip.
func Probe(ctx context.Context, url string) ProbeResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return ProbeResult{URL: url, Err: err}
	}
	defer client.Close()

	var id hexutil.Uint64
	if err := client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return ProbeResult{URL: url, Err: err}
	}
	return ProbeResult{URL: url, ChainID: int64(id), Latency: time.Since(start)}
}
