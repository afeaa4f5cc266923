// Package store owns the exchange state. All changes go through SetState,
// which serialises commits, notifies subscribers and persists the result.
package store

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"sponsorcoin/pkg/codec"
	"sponsorcoin/pkg/metrics"
	"sponsorcoin/pkg/models"
	"sponsorcoin/pkg/networks"
	"sponsorcoin/pkg/persist"
	"sponsorcoin/pkg/sanitize"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Updater derives the next state from a private copy of the current one.
type Updater func(prev models.ExchangeState) models.ExchangeState

// Change is delivered to subscribers after each commit.
type Change struct {
	State  models.ExchangeState
	Reason string
}

// Subscriber is a channel that receives committed changes.
type Subscriber chan Change

// Hydrator resolves an address into an account. It must not fail.
type Hydrator interface {
	Hydrate(ctx context.Context, address string) *models.Account
}

type Store struct {
	mu      sync.Mutex
	state   models.ExchangeState
	encoded []byte
	dirty   bool

	table     *networks.Table
	persister persist.Persister
	hydrator  Hydrator
	logger    *zap.Logger
	metrics   *metrics.Metrics
	session   string

	subMu       sync.RWMutex
	subscribers []Subscriber

	ticketMu sync.Mutex
	tickets  map[string]uint64

	persistCh chan []byte
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*Store)

func WithHydrator(h Hydrator) Option {
	return func(s *Store) { s.hydrator = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store holding the default state for the default network and
// starts its persistence worker. Call Close to flush and stop it.
func New(table *networks.Table, p persist.Persister, opts ...Option) *Store {
	s := &Store{
		table:     table,
		persister: p,
		logger:    zap.NewNop(),
		session:   uuid.NewString(),
		tickets:   make(map[string]uint64),
		persistCh: make(chan []byte, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.session))
	s.state = table.Default(networks.DefaultChainID)
	s.encoded, _ = codec.Serialize(s.state)

	s.wg.Add(1)
	go s.persistLoop()
	return s
}

// Table returns the network table the store was built with.
func (s *Store) Table() *networks.Table { return s.table }

// Load replaces the state with the sanitized persisted snapshot. It reports
// whether the snapshot recorded a supported app network. Missing, unreadable,
// malformed or incompatible snapshots all fall back to the defaults.
func (s *Store) Load(ctx context.Context) bool {
	var raw map[string]any
	data, err := []byte(nil), persist.ErrNotFound
	if s.persister != nil {
		data, err = s.persister.Load(ctx)
	}
	switch {
	case errors.Is(err, persist.ErrNotFound):
		s.logger.Debug("No persisted state")
	case err != nil:
		s.logger.Warn("Failed to read persisted state", zap.Error(err))
	default:
		raw, err = codec.Deserialize(data)
		if err != nil {
			s.logger.Info("Discarding persisted state", zap.Error(err))
			raw = nil
		}
	}

	chainID, recorded := sanitize.RecordedChainID(raw, s.table)
	next := sanitize.Sanitize(raw, chainID, s.table)
	next.Settings.HydratedFromLocalStorage = raw != nil
	// Wallet status is unknown until the provider reports it.
	next.Network.Connected = false
	next.Network.ChainID = 0

	s.SetState(func(models.ExchangeState) models.ExchangeState { return next }, "load persisted state")
	return raw != nil && recorded
}

// GetState returns a copy of the current state.
func (s *Store) GetState() models.ExchangeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// SetState applies updater and commits the result unless it equals the
// current state. It reports whether a commit happened. Calls are applied one
// at a time in the order they acquire the store.
func (s *Store) SetState(updater Updater, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := updater(s.state.Clone())
	data, err := codec.Serialize(next)
	if err != nil {
		s.logger.Error("Rejecting unserializable state", zap.String("reason", reason), zap.Error(err))
		return false
	}
	if bytes.Equal(data, s.encoded) {
		if s.metrics != nil {
			s.metrics.StoreNoops.Inc()
		}
		return false
	}

	s.state = next.Clone()
	s.encoded = data
	s.dirty = true
	if s.metrics != nil {
		s.metrics.StoreCommits.Inc()
	}
	s.logger.Debug("State committed", zap.String("reason", reason))
	s.notify(Change{State: s.state.Clone(), Reason: reason})
	s.schedulePersist(data)
	return true
}

// Subscribe adds a new subscriber and returns a channel to receive changes.
func (s *Store) Subscribe() Subscriber {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ch := make(Subscriber, 16)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(ch Subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (s *Store) notify(c Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subscribers {
		select {
		case sub <- c:
		default:
			s.logger.Debug("Dropping change for slow subscriber", zap.String("reason", c.Reason))
		}
	}
}

// schedulePersist replaces any pending write with data. Only the latest
// state is ever written. Called with s.mu held.
func (s *Store) schedulePersist(data []byte) {
	select {
	case <-s.persistCh:
	default:
	}
	s.persistCh <- data
}

func (s *Store) persistLoop() {
	defer s.wg.Done()
	for {
		select {
		case data := <-s.persistCh:
			s.write(data)
		case <-s.done:
			return
		}
	}
}

func (s *Store) write(data []byte) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(context.Background(), data); err != nil {
		if s.metrics != nil {
			s.metrics.PersistErrors.Inc()
		}
		s.logger.Warn("Failed to persist state", zap.Error(err))
	}
}

// Close stops the persistence worker and, if anything was committed during
// the session, writes the current state one last time.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		data, dirty := s.encoded, s.dirty
		s.mu.Unlock()
		if dirty && s.persister != nil {
			err = s.persister.Save(ctx, data)
		}
	})
	return err
}
