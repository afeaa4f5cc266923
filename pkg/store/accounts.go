package store

import (
	"context"
	"errors"
	"fmt"

	"sponsorcoin/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const hydrateConcurrency = 4

var (
	ErrInvalidAddress = errors.New("invalid account address")
	ErrInvalidRole    = errors.New("invalid account role")
	ErrNoHydrator     = errors.New("store has no hydrator")
	// ErrSuperseded means a newer request for the same slot arrived before
	// this one resolved, so its result was dropped.
	ErrSuperseded = errors.New("request superseded")
)

// nextTicket invalidates earlier requests for key and returns the new ticket.
func (s *Store) nextTicket(key string) uint64 {
	s.ticketMu.Lock()
	defer s.ticketMu.Unlock()
	s.tickets[key]++
	return s.tickets[key]
}

func (s *Store) ticketCurrent(key string, t uint64) bool {
	s.ticketMu.Lock()
	defer s.ticketMu.Unlock()
	return s.tickets[key] == t
}

func slotKey(r models.AccountRole) string { return "slot:" + string(r) }
func listKey(r models.AccountRole) string { return "list:" + string(r) }

// findAccount returns an already-hydrated account for address held anywhere in st.
func findAccount(st *models.ExchangeState, address string) *models.Account {
	key := models.NormalizeAddress(address)
	check := func(a *models.Account) bool {
		return a != nil && a.Status != models.StatusError && models.NormalizeAddress(a.Address) == key
	}
	a := &st.Accounts
	for _, acc := range []*models.Account{a.ActiveAccount, a.SponsorAccount, a.RecipientAccount, a.AgentAccount} {
		if check(acc) {
			return acc
		}
	}
	for _, list := range [][]*models.Account{a.SponsorAccounts, a.RecipientAccounts, a.AgentAccounts} {
		for _, acc := range list {
			if check(acc) {
				return acc
			}
		}
	}
	return nil
}

// shareAccount points every slot and list entry holding acc's address at acc,
// so a re-hydrated record replaces stale copies across the state.
func shareAccount(st *models.ExchangeState, acc *models.Account) {
	if acc == nil {
		return
	}
	key := models.NormalizeAddress(acc.Address)
	for _, r := range []models.AccountRole{models.RoleActive, models.RoleSponsor, models.RoleRecipient, models.RoleAgent} {
		if cur := st.Accounts.Slot(r); cur != nil && models.NormalizeAddress(cur.Address) == key {
			st.Accounts.SetSlot(r, acc)
		}
		if r == models.RoleActive {
			continue
		}
		list := st.Accounts.List(r)
		for i, cur := range list {
			if cur != nil && models.NormalizeAddress(cur.Address) == key {
				list[i] = acc
			}
		}
	}
}

func (s *Store) resolve(ctx context.Context, address string) *models.Account {
	st := s.GetState()
	if acc := findAccount(&st, address); acc != nil {
		return acc
	}
	return s.hydrator.Hydrate(ctx, address)
}

// SetRoleAccount hydrates address and places it in the role slot. The slot
// keeps its previous value until hydration finishes; if another request for
// the same slot starts in the meantime, this one is dropped with ErrSuperseded.
func (s *Store) SetRoleAccount(ctx context.Context, role models.AccountRole, address string) (*models.Account, error) {
	pending, err := s.ReserveRoleAccount(role, address)
	if err != nil {
		return nil, err
	}
	return pending(ctx)
}

// PendingAccount completes a reserved slot update.
type PendingAccount func(ctx context.Context) (*models.Account, error)

// ReserveRoleAccount claims the role slot for address now and returns the
// hydration step to run later, typically on another goroutine. Any slot
// change made after the reservation wins over it.
func (s *Store) ReserveRoleAccount(role models.AccountRole, address string) (PendingAccount, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if s.hydrator == nil {
		return nil, ErrNoHydrator
	}
	key := slotKey(role)
	ticket := s.nextTicket(key)

	return func(ctx context.Context) (*models.Account, error) {
		acc := s.resolve(ctx, address)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		applied := false
		s.SetState(func(st models.ExchangeState) models.ExchangeState {
			if !s.ticketCurrent(key, ticket) {
				return st
			}
			applied = true
			shareAccount(&st, acc)
			st.Accounts.SetSlot(role, acc)
			return st
		}, "set "+string(role)+" account")
		if !applied {
			s.logger.Debug("Dropping stale account", zap.String("role", string(role)), zap.String("address", acc.Address))
			return nil, ErrSuperseded
		}
		return acc, nil
	}, nil
}

// ClearRoleAccount empties the role slot and cancels any pending hydration for it.
func (s *Store) ClearRoleAccount(role models.AccountRole) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.nextTicket(slotKey(role))
	s.SetState(func(st models.ExchangeState) models.ExchangeState {
		st.Accounts.SetSlot(role, nil)
		return st
	}, "clear "+string(role)+" account")
	return nil
}

// SetAccountList hydrates addresses and replaces the role list. Duplicate
// addresses collapse to one entry and each address maps to a single shared
// *Account across the whole state.
func (s *Store) SetAccountList(ctx context.Context, role models.AccountRole, addresses []string) ([]*models.Account, error) {
	if role == models.RoleActive || !role.Valid() {
		return nil, fmt.Errorf("%w: %q has no list", ErrInvalidRole, role)
	}
	var unique []string
	seen := make(map[string]bool)
	for _, addr := range addresses {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
		key := models.NormalizeAddress(addr)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, addr)
		}
	}
	if len(unique) > 0 && s.hydrator == nil {
		return nil, ErrNoHydrator
	}

	key := listKey(role)
	ticket := s.nextTicket(key)
	list := make([]*models.Account, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateConcurrency)
	for i, addr := range unique {
		g.Go(func() error {
			list[i] = s.resolve(gctx, addr)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	applied := false
	s.SetState(func(st models.ExchangeState) models.ExchangeState {
		if !s.ticketCurrent(key, ticket) {
			return st
		}
		applied = true
		for _, acc := range list {
			shareAccount(&st, acc)
		}
		st.Accounts.SetList(role, list)
		return st
	}, "set "+string(role)+" accounts")
	if !applied {
		return nil, ErrSuperseded
	}
	return list, nil
}

// HydrateReferenced re-resolves every account held in the state, typically
// after loading a persisted snapshot whose metadata may be stale. Accounts
// whose slot changed while hydration ran are left alone.
func (s *Store) HydrateReferenced(ctx context.Context) error {
	if s.hydrator == nil {
		return ErrNoHydrator
	}
	st := s.GetState()
	var addrs []string
	seen := make(map[string]bool)
	collect := func(a *models.Account) {
		if a == nil {
			return
		}
		key := models.NormalizeAddress(a.Address)
		if !seen[key] {
			seen[key] = true
			addrs = append(addrs, a.Address)
		}
	}
	a := &st.Accounts
	for _, acc := range []*models.Account{a.ActiveAccount, a.SponsorAccount, a.RecipientAccount, a.AgentAccount} {
		collect(acc)
	}
	for _, list := range [][]*models.Account{a.SponsorAccounts, a.RecipientAccounts, a.AgentAccounts} {
		for _, acc := range list {
			collect(acc)
		}
	}
	if len(addrs) == 0 {
		return nil
	}

	results := make([]*models.Account, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateConcurrency)
	for i, addr := range addrs {
		g.Go(func() error {
			results[i] = s.hydrator.Hydrate(gctx, addr)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	byAddr := make(map[string]*models.Account, len(results))
	for _, acc := range results {
		byAddr[models.NormalizeAddress(acc.Address)] = acc
	}
	swap := func(acc *models.Account) *models.Account {
		if acc == nil {
			return nil
		}
		if fresh, ok := byAddr[models.NormalizeAddress(acc.Address)]; ok {
			return fresh
		}
		return acc
	}
	s.SetState(func(st models.ExchangeState) models.ExchangeState {
		for _, r := range []models.AccountRole{models.RoleActive, models.RoleSponsor, models.RoleRecipient, models.RoleAgent} {
			st.Accounts.SetSlot(r, swap(st.Accounts.Slot(r)))
			if r == models.RoleActive {
				continue
			}
			list := st.Accounts.List(r)
			for i := range list {
				list[i] = swap(list[i])
			}
		}
		return st
	}, "hydrate persisted accounts")
	return nil
}
