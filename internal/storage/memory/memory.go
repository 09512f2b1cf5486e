// Package memory реализует storage.Store в памяти процесса. Транзакции
// выполняются строго последовательно над копией состояния и подменяют
// его целиком при успехе. Используется в тестах и в режиме local.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

type state struct {
	registry      *models.Registry
	plans         map[solana.PublicKey]models.Plan
	vaults        map[solana.PublicKey]models.Vault
	subscriptions map[solana.PublicKey]models.UserSubscription
	accounts      map[solana.PublicKey]models.TokenAccount
}

func (s *state) clone() *state {
	c := &state{
		plans:         maps.Clone(s.plans),
		vaults:        maps.Clone(s.vaults),
		subscriptions: maps.Clone(s.subscriptions),
		accounts:      maps.Clone(s.accounts),
	}
	if s.registry != nil {
		r := *s.registry
		c.registry = &r
	}
	return c
}

// Store хранилище в памяти.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{state: &state{
		plans:         make(map[solana.PublicKey]models.Plan),
		vaults:        make(map[solana.PublicKey]models.Vault),
		subscriptions: make(map[solana.PublicKey]models.UserSubscription),
		accounts:      make(map[solana.PublicKey]models.TokenAccount),
	}}
}

// InTx выполняет fn над копией состояния и фиксирует её, если fn вернула nil.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	const op = "memory.InTx"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&tx{st: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

type tx struct {
	st *state
}

func (t *tx) Registry(_ context.Context) (*models.Registry, error) {
	if t.st.registry == nil {
		return nil, storage.ErrNotFound
	}
	r := *t.st.registry
	return &r, nil
}

func (t *tx) CreateRegistry(_ context.Context, r models.Registry) error {
	if t.st.registry != nil {
		return storage.ErrAlreadyExists
	}
	t.st.registry = &r
	return nil
}

func (t *tx) UpdateRegistry(_ context.Context, r models.Registry) error {
	if t.st.registry == nil {
		return storage.ErrNotFound
	}
	t.st.registry = &r
	return nil
}

func (t *tx) Plan(_ context.Context, addr solana.PublicKey) (*models.Plan, error) {
	p, ok := t.st.plans[addr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (t *tx) CreatePlan(_ context.Context, p models.Plan) error {
	if _, ok := t.st.plans[p.Address]; ok {
		return storage.ErrAlreadyExists
	}
	t.st.plans[p.Address] = p
	return nil
}

func (t *tx) UpdatePlan(_ context.Context, p models.Plan) error {
	if _, ok := t.st.plans[p.Address]; !ok {
		return storage.ErrNotFound
	}
	t.st.plans[p.Address] = p
	return nil
}

func (t *tx) Vault(_ context.Context, addr solana.PublicKey) (*models.Vault, error) {
	v, ok := t.st.vaults[addr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	v.Balance = t.st.accounts[addr].Balance
	return &v, nil
}

func (t *tx) CreateVault(_ context.Context, v models.Vault) error {
	if _, ok := t.st.vaults[v.Address]; ok {
		return storage.ErrAlreadyExists
	}
	v.Balance = 0
	t.st.vaults[v.Address] = v
	return nil
}

func (t *tx) DeleteVault(_ context.Context, addr solana.PublicKey) error {
	if _, ok := t.st.vaults[addr]; !ok {
		return storage.ErrNotFound
	}
	for _, s := range t.st.subscriptions {
		if s.Vault == addr {
			return storage.ErrReferenced
		}
	}
	delete(t.st.vaults, addr)
	return nil
}

func (t *tx) Subscription(_ context.Context, addr solana.PublicKey) (*models.UserSubscription, error) {
	s, ok := t.st.subscriptions[addr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &s, nil
}

// CreateSubscription требует существующих плана и хранилища, как внешние
// ключи user_subscriptions в postgres.
func (t *tx) CreateSubscription(_ context.Context, s models.UserSubscription) error {
	if _, ok := t.st.subscriptions[s.Address]; ok {
		return storage.ErrAlreadyExists
	}
	if _, ok := t.st.plans[s.Plan]; !ok {
		return fmt.Errorf("plan %s: %w", s.Plan, storage.ErrNotFound)
	}
	if _, ok := t.st.vaults[s.Vault]; !ok {
		return fmt.Errorf("vault %s: %w", s.Vault, storage.ErrNotFound)
	}
	t.st.subscriptions[s.Address] = s
	return nil
}

func (t *tx) UpdateSubscription(_ context.Context, s models.UserSubscription) error {
	if _, ok := t.st.subscriptions[s.Address]; !ok {
		return storage.ErrNotFound
	}
	t.st.subscriptions[s.Address] = s
	return nil
}

func (t *tx) DeleteSubscription(_ context.Context, addr solana.PublicKey) error {
	if _, ok := t.st.subscriptions[addr]; !ok {
		return storage.ErrNotFound
	}
	delete(t.st.subscriptions, addr)
	return nil
}

func (t *tx) SubscriptionsBySubscriber(_ context.Context, subscriber solana.PublicKey) ([]*models.UserSubscription, error) {
	var result []*models.UserSubscription
	for _, s := range t.st.subscriptions {
		if s.Subscriber == subscriber {
			result = append(result, &s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (t *tx) OpenAccount(_ context.Context, acc models.TokenAccount) error {
	if _, ok := t.st.accounts[acc.Address]; ok {
		return storage.ErrAlreadyExists
	}
	acc.Balance = 0
	t.st.accounts[acc.Address] = acc
	return nil
}

func (t *tx) Account(_ context.Context, addr solana.PublicKey) (*models.TokenAccount, error) {
	acc, ok := t.st.accounts[addr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &acc, nil
}

func (t *tx) Credit(_ context.Context, addr solana.PublicKey, amount uint64) error {
	acc, ok := t.st.accounts[addr]
	if !ok {
		return storage.ErrNotFound
	}
	if amount > models.MaxAmount || acc.Balance > models.MaxAmount-amount {
		return storage.ErrBalanceOverflow
	}
	acc.Balance += amount
	t.st.accounts[addr] = acc
	return nil
}

func (t *tx) Transfer(_ context.Context, from, to solana.PublicKey, amount uint64) error {
	src, ok := t.st.accounts[from]
	if !ok {
		return fmt.Errorf("source %s: %w", from, storage.ErrNotFound)
	}
	dst, ok := t.st.accounts[to]
	if !ok {
		return fmt.Errorf("destination %s: %w", to, storage.ErrNotFound)
	}
	if src.Balance < amount {
		return storage.ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	if amount > models.MaxAmount || dst.Balance > models.MaxAmount-amount {
		return storage.ErrBalanceOverflow
	}
	src.Balance -= amount
	dst.Balance += amount
	t.st.accounts[from] = src
	t.st.accounts[to] = dst
	return nil
}

func (t *tx) CloseAccount(ctx context.Context, addr, dest solana.PublicKey) (uint64, error) {
	acc, ok := t.st.accounts[addr]
	if !ok {
		return 0, storage.ErrNotFound
	}
	if acc.Balance > 0 {
		if err := t.Transfer(ctx, addr, dest, acc.Balance); err != nil {
			return 0, err
		}
	}
	delete(t.st.accounts, addr)
	return acc.Balance, nil
}
