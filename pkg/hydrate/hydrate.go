// Package hydrate resolves wallet addresses into displayable account records.
//
// Hydrate never fails: any problem with the metadata endpoint yields the
// fallback account for the address. Concurrent requests for the same address
// share one fetch.
package hydrate

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"sponsorcoin/pkg/metrics"
	"sponsorcoin/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultRetryDelay = 250 * time.Millisecond
)

var (
	// ErrNotFound is returned by a Fetcher when the endpoint has no document for an address.
	ErrNotFound = errors.New("account metadata not found")
	// ErrMalformed is returned by a Fetcher when the document cannot be decoded.
	ErrMalformed = errors.New("malformed account metadata")
)

// Metadata is the optional account information published for an address.
// Balance is nil when the document does not carry one.
type Metadata struct {
	Type        string
	Name        string
	Symbol      string
	Website     string
	Description string
	LogoURL     string
	Balance     *big.Int
}

// Fetcher retrieves metadata for a checksummed address.
type Fetcher interface {
	FetchMetadata(ctx context.Context, address string) (Metadata, error)
}

// BalanceReader reads the native balance of an address on chain.
type BalanceReader interface {
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
}

// Pipeline hydrates addresses. The zero value is not usable; call New.
type Pipeline struct {
	fetcher    Fetcher
	balances   BalanceReader
	timeout    time.Duration
	retryDelay time.Duration
	limiter    *rate.Limiter
	group      singleflight.Group
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

type Option func(*Pipeline)

// WithTimeout bounds each metadata request.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithRetryDelay sets the pause before the single retry.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.retryDelay = d }
}

// WithRateLimit caps metadata requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Pipeline) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithBalanceReader fills balances that the metadata document omits.
func WithBalanceReader(r BalanceReader) Option {
	return func(p *Pipeline) { p.balances = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func New(f Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:    f,
		timeout:    DefaultTimeout,
		retryDelay: DefaultRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AccountLogoURL is the conventional logo location for an account.
func AccountLogoURL(address string) string {
	return "/assets/accounts/" + address + "/logo.png"
}

// Hydrate resolves address into an Account. Callers asking for the same
// address (ignoring case) while a fetch is in flight receive the same *Account.
// If ctx ends first the fallback account is returned and the shared fetch
// continues for the other callers.
func (p *Pipeline) Hydrate(ctx context.Context, address string) *models.Account {
	address = strings.TrimSpace(address)
	if p.metrics != nil {
		p.metrics.HydrationRequests.Inc()
	}
	if !common.IsHexAddress(address) {
		p.fail("invalid_address", address, nil)
		return models.FallbackAccount(address)
	}
	checksum := common.HexToAddress(address).Hex()

	ch := p.group.DoChan(models.NormalizeAddress(checksum), func() (interface{}, error) {
		return p.resolve(checksum), nil
	})
	select {
	case res := <-ch:
		if res.Shared && p.metrics != nil {
			p.metrics.HydrationDeduped.Inc()
		}
		return res.Val.(*models.Account)
	case <-ctx.Done():
		return models.FallbackAccount(checksum)
	}
}

// resolve runs detached from any single caller so that one caller giving up
// does not cancel the fetch for the others.
func (p *Pipeline) resolve(address string) *models.Account {
	ctx, cancel := context.WithTimeout(context.Background(), 2*p.timeout+p.retryDelay)
	defer cancel()

	md, err := p.fetch(ctx, address)
	if err != nil {
		p.fail(reason(err), address, err)
		return models.FallbackAccount(address)
	}

	acc := &models.Account{
		Address:     address,
		Type:        md.Type,
		Name:        md.Name,
		Symbol:      md.Symbol,
		Website:     md.Website,
		Description: md.Description,
		LogoURL:     md.LogoURL,
		Status:      models.StatusOK,
		Balance:     md.Balance,
	}
	if acc.Name == "" {
		acc.Status = models.StatusInfo
	}
	if acc.LogoURL == "" {
		acc.LogoURL = AccountLogoURL(address)
	}
	if acc.Balance == nil && p.balances != nil {
		bctx, bcancel := context.WithTimeout(ctx, p.timeout)
		bal, err := p.balances.BalanceAt(bctx, address)
		bcancel()
		if err != nil {
			p.logger.Debug("Balance lookup failed", zap.String("address", address), zap.Error(err))
		} else if bal != nil && bal.Sign() >= 0 {
			acc.Balance = bal
		}
	}
	if acc.Balance == nil {
		acc.Balance = new(big.Int)
	}
	return acc
}

// fetch makes one attempt and retries once if the failure looks transient.
func (p *Pipeline) fetch(ctx context.Context, address string) (Metadata, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
				return Metadata{}, ctx.Err()
			}
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return Metadata{}, err
			}
		}
		if p.metrics != nil {
			p.metrics.HydrationFetches.Inc()
		}
		actx, cancel := context.WithTimeout(ctx, p.timeout)
		md, err := p.fetcher.FetchMetadata(actx, address)
		cancel()
		if err == nil {
			return md, nil
		}
		lastErr = err
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformed) {
			break
		}
		p.logger.Debug("Metadata fetch failed", zap.String("address", address), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return Metadata{}, lastErr
}

func (p *Pipeline) fail(why, address string, err error) {
	if p.metrics != nil {
		p.metrics.HydrationFailures.WithLabelValues(why).Inc()
	}
	p.logger.Info("Using fallback account", zap.String("address", address), zap.String("reason", why), zap.Error(err))
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
