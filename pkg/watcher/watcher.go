// Package watcher turns a request/response wallet provider into an event
// stream by polling it and reporting what changed.
package watcher

import (
	"context"
	"sync"
	"time"

	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/wallet"

	"go.uber.org/zap"
)

const (
	DefaultInterval = 2 * time.Second
	// DefaultMaxFailures is how many consecutive failed polls are tolerated
	// before a connected wallet is reported as disconnected.
	DefaultMaxFailures = 3
)

// Watcher polls a wallet provider and notifies subscribers of changes.
type Watcher struct {
	provider    wallet.Provider
	interval    time.Duration
	maxFailures int
	logger      *zap.Logger

	mu          sync.RWMutex
	status      Status
	subscribers []Subscriber

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Watcher)

func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithMaxFailures(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.maxFailures = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

func NewWatcher(p wallet.Provider, opts ...Option) *Watcher {
	w := &Watcher{
		provider:    p,
		interval:    DefaultInterval,
		maxFailures: DefaultMaxFailures,
		logger:      zap.NewNop(),
		stopChan:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (w *Watcher) Subscribe() Subscriber {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(Subscriber, 100)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (w *Watcher) Unsubscribe(ch Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (w *Watcher) notify(ev wallet.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, sub := range w.subscribers {
		select {
		case sub <- ev:
		default:
			w.logger.Warn("Dropping wallet event for slow subscriber", zap.String("type", string(ev.Type)))
		}
	}
}

// Status returns the last observed wallet status.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := w.status
	st.Accounts = append([]string(nil), w.status.Accounts...)
	return st
}

// Start begins polling. The first poll happens immediately.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.pollingLoop(ctx)
}

// Stop ends polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

func (w *Watcher) pollingLoop(ctx context.Context) {
	defer w.wg.Done()
	w.Poll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Poll(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Poll queries the provider once and emits the events implied by the
// difference from the previous observation.
func (w *Watcher) Poll(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, w.interval+5*time.Second)
	defer cancel()

	next, err := w.observe(pctx)

	w.mu.Lock()
	prev := w.status
	if err != nil {
		w.status.Failures++
		failures := w.status.Failures
		w.mu.Unlock()
		w.logger.Debug("Wallet poll failed", zap.Int("failures", failures), zap.Error(err))
		if prev.Connected && failures >= w.maxFailures {
			w.mu.Lock()
			w.status = Status{Failures: failures}
			w.mu.Unlock()
			w.notify(wallet.Event{Type: wallet.EventDisconnected})
		}
		return
	}
	w.status = next
	w.mu.Unlock()

	for _, ev := range diff(prev, next) {
		w.logger.Debug("Wallet changed", zap.String("type", string(ev.Type)), zap.Int64("chainId", ev.ChainID))
		w.notify(ev)
	}
}

func (w *Watcher) observe(ctx context.Context) (Status, error) {
	accounts, err := w.provider.Accounts(ctx)
	if err != nil {
		return Status{}, err
	}
	if len(accounts) == 0 {
		return Status{}, nil
	}
	chainID, err := w.provider.ChainID(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Connected: true, ChainID: chainID, Accounts: accounts}, nil
}

func diff(prev, next Status) []wallet.Event {
	switch {
	case !prev.Connected && next.Connected:
		return []wallet.Event{{Type: wallet.EventConnected, ChainID: next.ChainID, Accounts: next.Accounts}}
	case prev.Connected && !next.Connected:
		return []wallet.Event{{Type: wallet.EventDisconnected}}
	case !next.Connected:
		return nil
	}
	var events []wallet.Event
	if prev.ChainID != next.ChainID {
		events = append(events, wallet.Event{Type: wallet.EventChainChanged, ChainID: next.ChainID})
	}
	if !sameAccounts(prev.Accounts, next.Accounts) {
		events = append(events, wallet.Event{Type: wallet.EventAccountsChanged, Accounts: next.Accounts})
	}
	return events
}

func sameAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !models.SameAddress(a[i], b[i]) {
			return false
		}
	}
	return true
}
