package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/escrow-billing/internal/automation"
	"github.com/magabrotheeeer/escrow-billing/internal/config"
	"github.com/magabrotheeeer/escrow-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/address"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/escrow-billing/internal/metrics"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	billingservice "github.com/magabrotheeeer/escrow-billing/internal/services/billing"
	"github.com/magabrotheeeer/escrow-billing/internal/storage/memory"
)

const testQueue = "billing"

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

type apiEnv struct {
	t      *testing.T
	server *httptest.Server
	engine *billingservice.Engine
	queue  *automation.MemoryQueue
	tokens *jwt.MakerImpl

	mu  sync.Mutex
	now time.Time
}

func (e *apiEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *apiEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	deriver, err := address.NewDeriver(solana.NewWallet().PublicKey(), 64)
	require.NoError(t, err)

	env := &apiEnv{
		t:      t,
		queue:  automation.NewMemoryQueue(16),
		tokens: jwt.NewJWTMaker("test-secret", time.Hour),
		now:    time.Date(2025, 1, 1, 0, 10, 0, 0, time.UTC),
	}
	admin := solana.NewWallet().PublicKey()
	env.engine = billingservice.New(memory.New(), env.queue, deriver, admin, newNoopLogger(),
		billingservice.WithClock(env.clock))

	cfg := &config.Config{}
	cfg.Queue = testQueue
	require.NoError(t, bootstrap(context.Background(), env.engine, admin, cfg, newNoopLogger()))

	router := chi.NewRouter()
	RegisterRoutes(router, Deps{
		Logger:  newNoopLogger(),
		Engine:  env.engine,
		Tokens:  env.tokens,
		Limiter: middlewarectx.NewRateLimiter(1000, 1000),
		Metrics: metrics.New(prometheus.NewRegistry()),
		Faucet:  true,
	})
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

type apiResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`
}

func (e *apiEnv) do(method, path string, signer *solana.PublicKey, body any) (int, apiResponse) {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(e.t, err)
	if signer != nil {
		token, err := e.tokens.GenerateToken(*signer)
		require.NoError(e.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer func() { _ = resp.Body.Close() }()

	var out apiResponse
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// fire срабатывает созревшие задачи так же, как crank.
func (e *apiEnv) fire() {
	e.t.Helper()
	ctx := context.Background()
	tasks, err := e.queue.ClaimDue(ctx, testQueue, e.clock(), 0)
	require.NoError(e.t, err)
	for _, task := range tasks {
		_, err := e.engine.ExecuteCycle(ctx, billingservice.RequestFromTask(task))
		require.NoError(e.t, err)
		require.NoError(e.t, e.queue.Release(ctx, testQueue, task.ID))
	}
}

func TestAPI_SubscriptionLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	merchant := solana.NewWallet().PublicKey()
	subscriber := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	status, resp := env.do(http.MethodPost, "/api/v1/plans", &merchant, map[string]any{
		"name": "pro", "mint": mint.String(), "amount": 1_000_000, "interval": 120, "max_failure_count": 1,
	})
	require.Equal(t, http.StatusCreated, status, resp.Error)
	plan := decode[models.Plan](t, resp.Data)

	status, resp = env.do(http.MethodGet, "/api/v1/plans/"+plan.Address.String(), nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pro", decode[models.Plan](t, resp.Data).Name)

	status, _ = env.do(http.MethodPost, "/api/v1/wallet/fund", &subscriber, map[string]any{
		"mint": mint.String(), "amount": 3_000_000,
	})
	require.Equal(t, http.StatusOK, status)
	status, resp = env.do(http.MethodPost, "/api/v1/vault/deposit", &subscriber, map[string]any{
		"mint": mint.String(), "amount": 3_000_000,
	})
	require.Equal(t, http.StatusOK, status, resp.Error)
	vault := decode[models.Vault](t, resp.Data)
	assert.Equal(t, uint64(3_000_000), vault.Balance)

	status, resp = env.do(http.MethodPost, "/api/v1/subscriptions", &subscriber, map[string]any{
		"plan": plan.Address.String(),
	})
	require.Equal(t, http.StatusCreated, status, resp.Error)
	sub := decode[models.UserSubscription](t, resp.Data)
	assert.Equal(t, models.StatusActive, sub.Status)

	status, _ = env.do(http.MethodPost, "/api/v1/subscriptions", &subscriber, map[string]any{
		"plan": plan.Address.String(),
	})
	assert.Equal(t, http.StatusConflict, status)

	env.advance(120 * time.Second)
	env.fire()

	status, resp = env.do(http.MethodGet, "/api/v1/vault", &subscriber, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(2_000_000), decode[models.Vault](t, resp.Data).Balance)

	status, resp = env.do(http.MethodGet, "/api/v1/subscriptions", &subscriber, nil)
	require.Equal(t, http.StatusOK, status)
	subs := decode[[]models.UserSubscription](t, resp.Data)
	require.Len(t, subs, 1)
	assert.NotNil(t, subs[0].LastExecutedAt)

	status, _ = env.do(http.MethodDelete, "/api/v1/vault/"+vault.Address.String(), &subscriber, nil)
	assert.Equal(t, http.StatusConflict, status, "vault with an active subscription stays open")

	status, _ = env.do(http.MethodDelete, "/api/v1/subscriptions/"+sub.Address.String(), &merchant, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = env.do(http.MethodDelete, "/api/v1/subscriptions/"+sub.Address.String(), &subscriber, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = env.do(http.MethodGet, "/api/v1/subscriptions/"+sub.Address.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, resp = env.do(http.MethodDelete, "/api/v1/vault/"+vault.Address.String(), &subscriber, nil)
	require.Equal(t, http.StatusOK, status, resp.Error)
	closed := decode[map[string]any](t, resp.Data)
	assert.Equal(t, 2_000_000.0, closed["refunded"])
}

func TestAPI_RequiresToken(t *testing.T) {
	env := newAPIEnv(t)

	status, resp := env.do(http.MethodPost, "/api/v1/subscriptions", nil, map[string]any{
		"plan": solana.NewWallet().PublicKey().String(),
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing or invalid authorization header", resp.Error)
}

func TestAPI_DeactivatePlan(t *testing.T) {
	env := newAPIEnv(t)
	merchant := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()

	status, resp := env.do(http.MethodPost, "/api/v1/plans", &merchant, map[string]any{
		"name": "basic", "mint": solana.NewWallet().PublicKey().String(), "amount": 10, "interval": 60,
	})
	require.Equal(t, http.StatusCreated, status, resp.Error)
	plan := decode[models.Plan](t, resp.Data)

	path := fmt.Sprintf("/api/v1/plans/%s/deactivate", plan.Address)
	status, _ = env.do(http.MethodPost, path, &other, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = env.do(http.MethodPost, path, &merchant, nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[models.Plan](t, resp.Data).Active)

	subscriber := solana.NewWallet().PublicKey()
	status, _ = env.do(http.MethodPost, "/api/v1/subscriptions", &subscriber, map[string]any{
		"plan": plan.Address.String(),
	})
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPI_Registry(t *testing.T) {
	env := newAPIEnv(t)

	status, resp := env.do(http.MethodGet, "/api/v1/registry", nil, nil)
	require.Equal(t, http.StatusOK, status)
	reg := decode[models.Registry](t, resp.Data)
	assert.Equal(t, testQueue, reg.AutomationQueue)
}

func TestBootstrap_SyncsFee(t *testing.T) {
	deriver, err := address.NewDeriver(solana.NewWallet().PublicKey(), 0)
	require.NoError(t, err)
	admin := solana.NewWallet().PublicKey()
	engine := billingservice.New(memory.New(), automation.NewMemoryQueue(4), deriver, admin, newNoopLogger())
	ctx := context.Background()

	cfg := &config.Config{}
	cfg.Queue = testQueue
	cfg.FeeBasisPoints = 100
	require.NoError(t, bootstrap(ctx, engine, admin, cfg, newNoopLogger()))

	cfg.FeeBasisPoints = 250
	require.NoError(t, bootstrap(ctx, engine, admin, cfg, newNoopLogger()))

	reg, err := engine.GetRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(250), reg.FeeBasisPoints)
}

func TestBootstrap_ForeignAdmin(t *testing.T) {
	deriver, err := address.NewDeriver(solana.NewWallet().PublicKey(), 0)
	require.NoError(t, err)
	engine := billingservice.New(memory.New(), automation.NewMemoryQueue(4), deriver,
		solana.NewWallet().PublicKey(), newNoopLogger())

	cfg := &config.Config{}
	cfg.Queue = testQueue
	err = bootstrap(context.Background(), engine, solana.NewWallet().PublicKey(), cfg, newNoopLogger())
	require.ErrorIs(t, err, billingservice.ErrUnauthorized)
}
