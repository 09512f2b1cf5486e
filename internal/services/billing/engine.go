// Package billing реализует движок рекуррентных списаний: глобальный
// реестр, планы мерчантов, escrow-хранилища подписчиков, подписки и
// исполнитель биллингового цикла, который вызывается очередью автоматизации.
//
// Каждая операция выполняется в одной транзакции хранилища. События
// публикуются только после фиксации транзакции.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/escrow-billing/internal/automation"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/address"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

// Cache описывает методы для кэширования планов.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(key string) error
}

// Publisher доставляет события внешним потребителям.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Recorder учитывает события в метриках.
type Recorder interface {
	RecordEvent(event models.Event)
}

// DefaultPlanTTL время жизни плана в кеше по умолчанию.
const DefaultPlanTTL = time.Hour

// Engine движок биллинга.
type Engine struct {
	store     storage.Store
	tasks     automation.Facility
	addr      *address.Deriver
	authority solana.PublicKey
	log       *slog.Logger

	now       func() time.Time
	cache     Cache
	planTTL   time.Duration
	publisher Publisher
	recorder  Recorder
}

// Option настраивает Engine.
type Option func(*Engine)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCache включает кеширование планов.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		if ttl > 0 {
			e.planTTL = ttl
		}
	}
}

// WithPublisher включает публикацию событий.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithRecorder включает учёт событий в метриках.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New создаёт движок. authority — единственная подпись, которой разрешено
// инициализировать реестр.
func New(store storage.Store, tasks automation.Facility, addr *address.Deriver,
	authority solana.PublicKey, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		tasks:     tasks,
		addr:      addr,
		authority: authority,
		log:       log,
		now:       time.Now,
		planTTL:   DefaultPlanTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func loadRegistry(ctx context.Context, tx storage.Tx) (*models.Registry, error) {
	reg, err := tx.Registry(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return reg, err
}

// registration запоминает задачи, зарегистрированные внутри транзакции,
// чтобы снять их, если транзакция откатится.
type registration struct {
	queue string
	ids   []models.TaskID
}

func (e *Engine) register(ctx context.Context, r *registration, queue string,
	runAfter time.Time, cb automation.Callback) (models.TaskID, error) {
	id, err := e.tasks.RegisterTask(ctx, queue, runAfter, cb)
	if err != nil {
		return 0, err
	}
	r.queue = queue
	r.ids = append(r.ids, id)
	return id, nil
}

func (e *Engine) rollback(ctx context.Context, r *registration) {
	for _, id := range r.ids {
		if err := e.tasks.DeregisterTask(ctx, r.queue, id); err != nil {
			e.log.Error("failed to deregister task after rollback",
				slog.String("queue", r.queue), slog.Any("task_id", id), sl.Err(err))
		}
	}
}

func (e *Engine) newEvent(kind models.EventKind, sub *models.UserSubscription) models.Event {
	return models.Event{
		ID:           newEventID(),
		Kind:         kind,
		Subscriber:   sub.Subscriber,
		Plan:         sub.Plan,
		Subscription: sub.Address,
		FailureCount: sub.FailureCount,
		OccurredAt:   e.now(),
	}
}

func newEventID() string {
	return uuid.NewString()
}

func (e *Engine) emit(ctx context.Context, events ...models.Event) {
	for _, event := range events {
		if e.recorder != nil {
			e.recorder.RecordEvent(event)
		}
		if e.publisher == nil {
			continue
		}
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.log.Warn("failed to publish event",
				slog.String("kind", string(event.Kind)), slog.String("event_id", event.ID), sl.Err(err))
		}
	}
}

func planCacheKey(plan solana.PublicKey) string {
	return fmt.Sprintf("plan:%s", plan)
}

func (e *Engine) cachePlan(plan *models.Plan) {
	if e.cache == nil {
		return
	}
	key := planCacheKey(plan.Address)
	if err := e.cache.Set(key, plan, e.planTTL); err != nil {
		e.log.Warn("failed to cache plan", slog.String("key", key), sl.Err(err))
	}
}

func (e *Engine) invalidatePlan(plan solana.PublicKey) {
	if e.cache == nil {
		return
	}
	key := planCacheKey(plan)
	if err := e.cache.Invalidate(key); err != nil {
		e.log.Warn("failed to remove plan from cache", slog.String("key", key), sl.Err(err))
	}
}

// feeAccount токен-аккаунт комиссий в минте mint. Владелец всех таких
// аккаунтов FeeVault реестра; каждый минт копится отдельно.
func feeAccount(reg *models.Registry, mint solana.PublicKey) (solana.PublicKey, error) {
	return address.TokenAccount(reg.FeeVault, mint)
}

// openAccount создаёт токен-аккаунт, если его ещё нет.
func openAccount(ctx context.Context, tx storage.Tx, acc models.TokenAccount) error {
	err := tx.OpenAccount(ctx, acc)
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return err
	}
	return nil
}
