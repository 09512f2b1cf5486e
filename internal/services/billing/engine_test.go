package billing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/escrow-billing/internal/automation"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/address"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
	"github.com/magabrotheeeer/escrow-billing/internal/storage/memory"
)

const testQueue = "billing"

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func (l *eventLog) RecordEvent(event models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) kinds() []models.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]models.EventKind, 0, len(l.events))
	for _, e := range l.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type testEnv struct {
	ctx        context.Context
	engine     *Engine
	store      *memory.Store
	queue      *automation.MemoryQueue
	addr       *address.Deriver
	clock      *testClock
	events     *eventLog
	admin      solana.PublicKey
	merchant   solana.PublicKey
	subscriber solana.PublicKey
	mint       solana.PublicKey
	registry   *models.Registry
}

type envConfig struct {
	feeBps   uint16
	capacity int
	opts     []Option
}

func newEnv(t *testing.T, cfgs ...func(*envConfig)) *testEnv {
	t.Helper()

	cfg := envConfig{capacity: 16}
	for _, fn := range cfgs {
		fn(&cfg)
	}

	addr, err := address.NewDeriver(solana.NewWallet().PublicKey(), 64)
	require.NoError(t, err)

	env := &testEnv{
		ctx:        context.Background(),
		store:      memory.New(),
		queue:      automation.NewMemoryQueue(cfg.capacity),
		addr:       addr,
		clock:      &testClock{now: time.Date(2025, 1, 1, 0, 10, 0, 0, time.UTC)},
		events:     &eventLog{},
		admin:      solana.NewWallet().PublicKey(),
		merchant:   solana.NewWallet().PublicKey(),
		subscriber: solana.NewWallet().PublicKey(),
		mint:       solana.NewWallet().PublicKey(),
	}
	opts := append([]Option{WithClock(env.clock.Now), WithRecorder(env.events)}, cfg.opts...)
	env.engine = New(env.store, env.queue, addr, env.admin, newNoopLogger(), opts...)

	env.registry, err = env.engine.Initialize(env.ctx, env.admin, testQueue, cfg.feeBps)
	require.NoError(t, err)
	return env
}

func withFee(bps uint16) func(*envConfig) {
	return func(c *envConfig) { c.feeBps = bps }
}

func withCapacity(n int) func(*envConfig) {
	return func(c *envConfig) { c.capacity = n }
}

func withOptions(opts ...Option) func(*envConfig) {
	return func(c *envConfig) { c.opts = append(c.opts, opts...) }
}

// scenarioPlan план из сценариев: 1_000_000 каждые 120 секунд, одна неудача допустима.
func (e *testEnv) scenarioPlan(t *testing.T) *models.Plan {
	t.Helper()
	plan, err := e.engine.CreatePlan(e.ctx, e.merchant, PlanParams{
		Name:            "pro",
		Mint:            e.mint,
		Amount:          1_000_000,
		Interval:        120,
		MaxFailureCount: 1,
	})
	require.NoError(t, err)
	return plan
}

func (e *testEnv) deposit(t *testing.T, owner solana.PublicKey, amount uint64) {
	t.Helper()
	_, err := e.engine.FundWallet(e.ctx, owner, e.mint, amount)
	require.NoError(t, err)
	_, err = e.engine.Deposit(e.ctx, owner, e.mint, amount)
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, addr solana.PublicKey) uint64 {
	t.Helper()
	var balance uint64
	require.NoError(t, e.store.InTx(e.ctx, func(tx storage.Tx) error {
		acc, err := tx.Account(e.ctx, addr)
		if err != nil {
			return err
		}
		balance = acc.Balance
		return nil
	}))
	return balance
}

// fire забирает созревшие задачи, вызывает исполнитель и освобождает слоты,
// как это делает crank.
func (e *testEnv) fire(t *testing.T) []*CycleResult {
	t.Helper()
	tasks, err := e.queue.ClaimDue(e.ctx, testQueue, e.clock.Now(), 0)
	require.NoError(t, err)

	results := make([]*CycleResult, 0, len(tasks))
	for _, task := range tasks {
		res, err := e.engine.ExecuteCycle(e.ctx, RequestFromTask(task))
		require.NoError(t, err)
		results = append(results, res)
		require.NoError(t, e.queue.Release(e.ctx, testQueue, task.ID))
	}
	return results
}

// feeAccount аккаунт комиссий реестра в минте окружения.
func (e *testEnv) feeAccount(t *testing.T) solana.PublicKey {
	t.Helper()
	addr, err := address.TokenAccount(e.registry.FeeVault, e.mint)
	require.NoError(t, err)
	return addr
}

func (e *testEnv) wallet(t *testing.T, owner solana.PublicKey) solana.PublicKey {
	t.Helper()
	addr, err := address.TokenAccount(owner, e.mint)
	require.NoError(t, err)
	return addr
}
