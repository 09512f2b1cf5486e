package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/escrow-billing/internal/automation"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(_ context.Context, event models.Event) error {
	return m.Called(event.Kind).Error(0)
}

func TestSubscribe(t *testing.T) {
	env := newEnv(t)
	plan := env.scenarioPlan(t)

	sub, err := env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.NoError(t, err)

	wantAddr, err := env.addr.Subscription(env.subscriber, plan.Address)
	require.NoError(t, err)
	wantVault, err := env.addr.Vault(env.subscriber)
	require.NoError(t, err)

	assert.Equal(t, wantAddr, sub.Address)
	assert.Equal(t, wantVault, sub.Vault)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Equal(t, uint16(0), sub.FailureCount)
	assert.Equal(t, env.clock.Now().Add(120*time.Second), sub.NextRunAt)

	task, ok := env.queue.Task(testQueue, sub.NextTaskID)
	require.True(t, ok)
	assert.Equal(t, sub.NextRunAt, task.RunAfter)
	assert.Equal(t, automation.Callback{
		Kind:            automation.KindCharge,
		Subscription:    sub.Address,
		Plan:            plan.Address,
		Vault:           sub.Vault,
		MerchantAccount: plan.MerchantAccount,
		FeeAccount:      env.feeAccount(t),
	}, task.Callback)

	vault, err := env.engine.GetVault(env.ctx, sub.Vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), vault.Balance)
	assert.Equal(t, env.mint, vault.Mint)
	assert.Equal(t, []models.EventKind{models.EventSubscribed}, env.events.kinds())
}

func TestSubscribe_SecondWhileActive(t *testing.T) {
	env := newEnv(t)
	plan := env.scenarioPlan(t)

	_, err := env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.NoError(t, err)

	_, err = env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.ErrorIs(t, err, ErrAlreadyExists)
	assert.Len(t, env.queue.Tasks(testQueue), 1, "failed subscribe must not leave a task behind")
}

func TestSubscribe_AfterCancelCreatesFreshRecord(t *testing.T) {
	env := newEnv(t)
	plan := env.scenarioPlan(t)

	first, err := env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.NoError(t, err)

	env.clock.Advance(120 * time.Second)
	results := env.fire(t)
	require.Len(t, results, 1)
	require.Equal(t, uint16(1), results[0].FailureCount)

	require.NoError(t, env.engine.CancelSubscription(env.ctx, env.subscriber, first.Address))

	second, err := env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, uint16(0), second.FailureCount)
	assert.Equal(t, models.StatusActive, second.Status)
	assert.Nil(t, second.LastExecutedAt)
}

func TestSubscribe_AfterAutoTermination(t *testing.T) {
	env := newEnv(t)
	plan := env.scenarioPlan(t)

	sub, err := env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.NoError(t, err)
	for range 2 {
		env.clock.Advance(120 * time.Second)
		env.fire(t)
	}

	stored, err := env.engine.GetSubscription(env.ctx, sub.Address)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, stored.Status)

	again, err := env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), again.FailureCount)
	assert.Equal(t, models.StatusActive, again.Status)
}

func TestSubscribe_UnknownPlan(t *testing.T) {
	env := newEnv(t)

	_, err := env.engine.Subscribe(env.ctx, env.subscriber, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribe_VaultMintMismatch(t *testing.T) {
	env := newEnv(t)
	env.deposit(t, env.subscriber, 10)

	other, err := env.engine.CreatePlan(env.ctx, env.merchant, PlanParams{
		Name: "other-mint", Mint: solana.NewWallet().PublicKey(), Amount: 1, Interval: 60,
	})
	require.NoError(t, err)

	_, err = env.engine.Subscribe(env.ctx, env.subscriber, other.Address)
	require.ErrorIs(t, err, ErrMintMismatch)
}

func TestSubscribe_QueueFull(t *testing.T) {
	env := newEnv(t, withCapacity(1))
	plan := env.scenarioPlan(t)

	_, err := env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.NoError(t, err)

	late := solana.NewWallet().PublicKey()
	_, err = env.engine.Subscribe(env.ctx, late, plan.Address)
	require.ErrorIs(t, err, automation.ErrQueueFull)

	subs, err := env.engine.ListSubscriptions(env.ctx, late)
	require.NoError(t, err)
	assert.Empty(t, subs)
	_, err = env.engine.VaultOf(env.ctx, late)
	require.ErrorIs(t, err, ErrNotFound, "vault creation must roll back with the subscription")
}

func TestSubscribe_CronSchedule(t *testing.T) {
	env := newEnv(t)
	plan, err := env.engine.CreatePlan(env.ctx, env.merchant, PlanParams{
		Name: "hourly", Mint: env.mint, Amount: 1, Interval: 600, Schedule: "@hourly",
	})
	require.NoError(t, err)

	sub, err := env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC), sub.NextRunAt.UTC())
}

func TestSubscribe_PublishesEvent(t *testing.T) {
	publisher := new(PublisherMock)
	publisher.On("Publish", models.EventSubscribed).Return(nil).Once()
	env := newEnv(t, withOptions(WithPublisher(publisher)))
	plan := env.scenarioPlan(t)

	_, err := env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.NoError(t, err)
	publisher.AssertExpectations(t)
}

func TestDeposit(t *testing.T) {
	env := newEnv(t)

	_, err := env.engine.Deposit(env.ctx, env.subscriber, env.mint, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.engine.Deposit(env.ctx, env.subscriber, env.mint, 5)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = env.engine.FundWallet(env.ctx, env.subscriber, env.mint, 100)
	require.NoError(t, err)

	_, err = env.engine.Deposit(env.ctx, env.subscriber, env.mint, 101)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	vault, err := env.engine.Deposit(env.ctx, env.subscriber, env.mint, 60)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), vault.Balance)
	assert.Equal(t, uint64(40), env.balance(t, env.wallet(t, env.subscriber)))
}

// Параллельные подписки одного подписчика на один план: проходит ровно
// одна, в очереди ровно одна задача.
func TestSubscribe_Concurrent(t *testing.T) {
	env := newEnv(t)
	plan := env.scenarioPlan(t)

	const callers = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyExists)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, env.queue.Tasks(testQueue), 1)

	subs, err := env.engine.ListSubscriptions(env.ctx, env.subscriber)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, env.queue.Tasks(testQueue)[0].ID, subs[0].NextTaskID)
}

// vaultRaceTx не видит хранилище при первом чтении, как транзакция,
// опередившая параллельное создание того же хранилища.
type vaultRaceTx struct {
	storage.Tx
	misses int
}

func (t *vaultRaceTx) Vault(ctx context.Context, addr solana.PublicKey) (*models.Vault, error) {
	if t.misses > 0 {
		t.misses--
		return nil, storage.ErrNotFound
	}
	return t.Tx.Vault(ctx, addr)
}

func TestEnsureVault_CreatedConcurrently(t *testing.T) {
	env := newEnv(t)
	env.deposit(t, env.subscriber, 500)
	vaultAddr, err := env.addr.Vault(env.subscriber)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mint    solana.PublicKey
		wantErr error
	}{
		{name: "same mint", mint: env.mint},
		{name: "other mint", mint: solana.NewWallet().PublicKey(), wantErr: ErrMintMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vault *models.Vault
			err := env.store.InTx(env.ctx, func(tx storage.Tx) error {
				var err error
				vault, err = env.engine.ensureVault(env.ctx, &vaultRaceTx{Tx: tx, misses: 1}, env.subscriber, tt.mint)
				return err
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, vaultAddr, vault.Address)
			assert.Equal(t, uint64(500), vault.Balance)
		})
	}
}

func TestEnsureVault_OtherError(t *testing.T) {
	env := newEnv(t)
	boom := errors.New("boom")
	err := env.store.InTx(env.ctx, func(tx storage.Tx) error {
		_, err := env.engine.ensureVault(env.ctx, failingVaultTx{Tx: tx, err: boom}, env.subscriber, env.mint)
		return err
	})
	require.ErrorIs(t, err, boom)
}

type failingVaultTx struct {
	storage.Tx
	err error
}

func (t failingVaultTx) Vault(context.Context, solana.PublicKey) (*models.Vault, error) {
	return nil, t.err
}
