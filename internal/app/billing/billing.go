// Package billing собирает сервис биллинга: хранилище, очередь
// автоматизации, движок, crank-воркер, публикацию событий и HTTP API.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/escrow-billing/internal/automation"
	"github.com/magabrotheeeer/escrow-billing/internal/cache"
	"github.com/magabrotheeeer/escrow-billing/internal/config"
	"github.com/magabrotheeeer/escrow-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/escrow-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/address"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/metrics"
	"github.com/magabrotheeeer/escrow-billing/internal/migrations"
	"github.com/magabrotheeeer/escrow-billing/internal/rabbitmq"
	billingservice "github.com/magabrotheeeer/escrow-billing/internal/services/billing"
	"github.com/magabrotheeeer/escrow-billing/internal/services/crank"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
	"github.com/magabrotheeeer/escrow-billing/internal/storage/memory"
	"github.com/magabrotheeeer/escrow-billing/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// App сервис биллинга.
type App struct {
	server  *http.Server
	crank   *crank.Service
	engine  *billingservice.Engine
	logger  *slog.Logger
	closers []func() error
}

const (
	dbConnectAttempts = 10
	dbConnectDelay    = 3 * time.Second
)

// connectDB ждёт, пока база начнёт принимать соединения: в docker compose
// она стартует одновременно с сервисом.
func connectDB(ctx context.Context, dsn string, attempts int, delay time.Duration) (*repository.Storage, error) {
	var lastErr error
	for i := range attempts {
		db, err := repository.New(dsn)
		if err == nil {
			return db, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("database not reachable after %d attempts: %w", attempts, lastErr)
}

// New собирает приложение по конфигу. Без строки подключения к базе
// используется хранилище в памяти, без адреса redis — очередь в памяти
// и работа без кеша планов, без URL брокера события не публикуются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	if err := a.build(ctx, cfg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	programID, err := cfg.ProgramKey()
	if err != nil {
		return err
	}
	admin, err := cfg.AdminKey()
	if err != nil {
		return err
	}
	deriver, err := address.NewDeriver(programID, cfg.AddressCacheSize)
	if err != nil {
		return err
	}

	checks := make(map[string]health.Check)

	store, err := a.openStore(ctx, cfg, checks)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.AddressRedis != "" {
		rdb, err = cache.NewClient(ctx, cfg.RedisConnection)
		if err != nil {
			return fmt.Errorf("cache not initialized: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	queue, err := newQueue(cfg.Automation, rdb)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	opts := []billingservice.Option{billingservice.WithRecorder(m)}
	if rdb != nil {
		opts = append(opts, billingservice.WithCache(cache.New(rdb, cfg.TimeoutRedis), cfg.PlanCacheTTL))
	}
	if cfg.RabbitMQURL != "" {
		publisher, err := a.openPublisher(cfg.RabbitMQ)
		if err != nil {
			return err
		}
		opts = append(opts, billingservice.WithPublisher(publisher))
	}

	a.engine = billingservice.New(store, queue, deriver, admin, a.logger, opts...)
	if err := bootstrap(ctx, a.engine, admin, cfg, a.logger); err != nil {
		return err
	}

	a.crank = crank.New(queue, a.engine, crank.Config{
		Queue:        cfg.Queue,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		Concurrency:  cfg.Concurrency,
		RetryDelay:   cfg.RetryDelay,
	}, a.logger, crank.WithObserver(m))

	router := chi.NewRouter()
	RegisterRoutes(router, Deps{
		Logger:  a.logger,
		Engine:  a.engine,
		Tokens:  jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Limiter: middlewarectx.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		Metrics: m,
		Checks:  checks,
		Faucet:  cfg.Env == config.EnvLocal,
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, checks map[string]health.Check) (storage.Store, error) {
	if cfg.StorageConnectionString == "" {
		a.logger.Warn("storage connection string is empty, using in-memory store")
		return memory.New(), nil
	}

	db, err := connectDB(ctx, cfg.StorageConnectionString, dbConnectAttempts, dbConnectDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}
	if err := repository.CheckDatabaseReady(db); err != nil {
		return nil, err
	}
	checks["postgres"] = db.Ping
	return db, nil
}

func (a *App) openPublisher(cfg config.RabbitMQ) (*rabbitmq.Publisher, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.closers = append(a.closers, conn.Close)

	ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.GetBillingQueues())
	if err != nil {
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	// канал закрывается раньше соединения
	a.closers = append(a.closers, ch.Close)

	go a.watchBroker(conn)
	return rabbitmq.NewPublisher(ch, cfg.Exchange), nil
}

func (a *App) watchBroker(conn *amqp.Connection) {
	if err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1)); ok && err != nil {
		a.logger.Error("rabbitmq connection closed, events are not published", slog.String("reason", err.Error()))
	}
}

func newQueue(cfg config.Automation, rdb *redis.Client) (automation.Queue, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, errors.New("automation backend redis requires redis_connection.addressredis")
		}
		return automation.NewRedisQueue(rdb, cfg.Capacity, automation.WithClaimLease(cfg.ClaimLease)), nil
	default:
		return automation.NewMemoryQueue(cfg.Capacity), nil
	}
}

// bootstrap создаёт реестр при первом запуске и приводит комиссию к конфигу.
func bootstrap(ctx context.Context, engine *billingservice.Engine, admin solana.PublicKey, cfg *config.Config, log *slog.Logger) error {
	const op = "app.bootstrap"

	reg, err := engine.Initialize(ctx, admin, cfg.Queue, cfg.FeeBasisPoints)
	switch {
	case err == nil:
		log.Info("registry initialized", sl.Key("registry", reg.Address), sl.Key("admin", admin))
		return nil
	case !errors.Is(err, billingservice.ErrAlreadyExists):
		return fmt.Errorf("%s: %w", op, err)
	}

	reg, err = engine.GetRegistry(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if reg.AutomationQueue != cfg.Queue {
		log.Warn("registry uses another automation queue, config value ignored",
			slog.String("registry_queue", reg.AutomationQueue), slog.String("config_queue", cfg.Queue))
	}
	if reg.FeeBasisPoints != cfg.FeeBasisPoints {
		if _, err := engine.SetFee(ctx, admin, cfg.FeeBasisPoints); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// Run запускает HTTP-сервер и crank-воркер до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.crank.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	})
	return g.Wait()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
}
