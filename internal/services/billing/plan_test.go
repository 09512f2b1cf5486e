package billing

import (
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(key string, result any) (bool, error) {
	args := m.Called(key, result)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(key string, value any, expiration time.Duration) error {
	return m.Called(key, value, expiration).Error(0)
}

func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

func TestCreatePlan_Validation(t *testing.T) {
	env := newEnv(t)
	valid := PlanParams{Name: "pro", Mint: env.mint, Amount: 10, Interval: 60, MaxFailureCount: 2}

	tests := []struct {
		name    string
		mutate  func(p *PlanParams)
		wantErr error
	}{
		{name: "empty name", mutate: func(p *PlanParams) { p.Name = "" }, wantErr: ErrInvalidName},
		{name: "name too long", mutate: func(p *PlanParams) { p.Name = strings.Repeat("x", models.MaxPlanNameLen+1) }, wantErr: ErrInvalidName},
		{name: "zero amount", mutate: func(p *PlanParams) { p.Amount = 0 }, wantErr: ErrInvalidAmount},
		{name: "zero interval", mutate: func(p *PlanParams) { p.Interval = 0 }, wantErr: ErrInvalidInterval},
		{name: "bad schedule", mutate: func(p *PlanParams) { p.Schedule = "every tuesday" }, wantErr: ErrInvalidSchedule},
		{name: "max length name", mutate: func(p *PlanParams) { p.Name = strings.Repeat("x", models.MaxPlanNameLen) }},
		{name: "cron schedule", mutate: func(p *PlanParams) { p.Name = "cron"; p.Schedule = "@daily" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid
			tt.mutate(&params)

			plan, err := env.engine.CreatePlan(env.ctx, env.merchant, params)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, plan.Active)
			assert.Equal(t, params.Amount, plan.Amount)
		})
	}
}

func TestCreatePlan_AddressFromMerchantAndName(t *testing.T) {
	env := newEnv(t)
	plan := env.scenarioPlan(t)

	_, err := env.engine.CreatePlan(env.ctx, env.merchant, PlanParams{
		Name: "pro", Mint: env.mint, Amount: 5, Interval: 30,
	})
	require.ErrorIs(t, err, ErrAlreadyExists)

	other, err := env.engine.CreatePlan(env.ctx, solana.NewWallet().PublicKey(), PlanParams{
		Name: "pro", Mint: env.mint, Amount: 5, Interval: 30,
	})
	require.NoError(t, err)
	assert.NotEqual(t, plan.Address, other.Address)

	want, err := env.addr.Plan(env.merchant, "pro")
	require.NoError(t, err)
	assert.Equal(t, want, plan.Address)
}

func TestCreatePlan_OpensMerchantAccount(t *testing.T) {
	env := newEnv(t)
	plan := env.scenarioPlan(t)

	assert.Equal(t, env.wallet(t, env.merchant), plan.MerchantAccount)
	assert.Equal(t, uint64(0), env.balance(t, plan.MerchantAccount))
}

func TestDeactivatePlan(t *testing.T) {
	env := newEnv(t)
	plan := env.scenarioPlan(t)

	_, err := env.engine.DeactivatePlan(env.ctx, env.subscriber, plan.Address)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.engine.DeactivatePlan(env.ctx, env.merchant, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ErrNotFound)

	updated, err := env.engine.DeactivatePlan(env.ctx, env.merchant, plan.Address)
	require.NoError(t, err)
	assert.False(t, updated.Active)

	_, err = env.engine.Subscribe(env.ctx, env.subscriber, plan.Address)
	require.ErrorIs(t, err, ErrInactivePlan)
}

func TestGetPlan_Cache(t *testing.T) {
	cache := new(CacheMock)
	env := newEnv(t, withOptions(WithCache(cache, time.Minute)))
	planAddr := solana.NewWallet().PublicKey()
	key := planCacheKey(planAddr)

	cached := models.Plan{Address: planAddr, Name: "cached", Amount: 7, Interval: 60, Active: true}
	cache.On("Get", key, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(1).(*models.Plan) = cached
	}).Return(true, nil).Once()

	plan, err := env.engine.GetPlan(env.ctx, planAddr)
	require.NoError(t, err)
	assert.Equal(t, cached, *plan)
	cache.AssertExpectations(t)
}

func TestGetPlan_CacheMissFallsBackToStore(t *testing.T) {
	cache := new(CacheMock)
	cache.On("Set", mock.Anything, mock.Anything, time.Minute).Return(nil)
	env := newEnv(t, withOptions(WithCache(cache, time.Minute)))
	plan := env.scenarioPlan(t)

	cache.On("Get", planCacheKey(plan.Address), mock.Anything).Return(false, nil).Once()

	got, err := env.engine.GetPlan(env.ctx, plan.Address)
	require.NoError(t, err)
	assert.Equal(t, plan.Address, got.Address)
	cache.AssertNumberOfCalls(t, "Set", 2)
}

func TestDeactivatePlan_InvalidatesCache(t *testing.T) {
	cache := new(CacheMock)
	cache.On("Set", mock.Anything, mock.Anything, time.Minute).Return(nil)
	env := newEnv(t, withOptions(WithCache(cache, time.Minute)))
	plan := env.scenarioPlan(t)

	cache.On("Invalidate", planCacheKey(plan.Address)).Return(nil).Once()

	_, err := env.engine.DeactivatePlan(env.ctx, env.merchant, plan.Address)
	require.NoError(t, err)
	cache.AssertExpectations(t)
}
