// Package crank забирает созревшие задачи из очереди автоматизации и
// вызывает по ним исполнитель биллингового цикла.
package crank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/escrow-billing/internal/automation"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/services/billing"
)

// Executor исполнитель биллингового цикла.
type Executor interface {
	ExecuteCycle(ctx context.Context, req billing.CycleRequest) (*billing.CycleResult, error)
}

// Observer учитывает исходы обработки задач.
type Observer interface {
	RecordTask(result string)
}

// Исходы обработки задачи.
const (
	ResultExecuted  = "executed"
	ResultStale     = "stale"
	ResultCancelled = "cancelled"
	ResultUnknown   = "unknown_kind"
	ResultError     = "error"
)

// DefaultRetryDelay задержка повторного запуска задачи после ошибки исполнителя.
const DefaultRetryDelay = time.Minute

// Config параметры воркера.
type Config struct {
	Queue        string
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	// RetryDelay через сколько вернуть задачу, если исполнитель вернул ошибку.
	RetryDelay time.Duration
}

// Service периодически опрашивает очередь.
type Service struct {
	source   automation.Source
	executor Executor
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
	observer Observer
}

// Option настраивает Service.
type Option func(*Service)

// WithObserver включает учёт исходов задач.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// New создает новый экземпляр Service.
func New(source automation.Source, executor Executor, cfg Config, log *slog.Logger, opts ...Option) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	s := &Service{
		source:   source,
		executor: executor,
		cfg:      cfg,
		log:      log.With(slog.String("queue", cfg.Queue)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run опрашивает очередь до отмены ctx.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("starting crank", slog.Duration("poll_interval", s.cfg.PollInterval))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("crank tick failed", sl.Err(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("shutting down crank")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick забирает одну пачку созревших задач и обрабатывает её.
// Возвращает число обработанных задач.
func (s *Service) Tick(ctx context.Context) (int, error) {
	const op = "crank.Tick"

	tasks, err := s.source.ClaimDue(ctx, s.cfg.Queue, s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	s.log.Debug("claimed due tasks", slog.Int("count", len(tasks)))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, task := range tasks {
		g.Go(func() error {
			s.process(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	return len(tasks), nil
}

func (s *Service) process(ctx context.Context, task automation.Task) {
	log := s.log.With(slog.Any("task_id", task.ID), sl.Key("subscription", task.Callback.Subscription))

	result := s.execute(ctx, log, task)
	s.settle(ctx, log, task, result)
	if s.observer != nil {
		s.observer.RecordTask(result)
	}
}

// settle освобождает слот отработавшей задачи. После ошибки исполнителя
// транзакция цикла откатана и подписка всё ещё ссылается на эту задачу,
// поэтому задача возвращается в очередь с прежним идентификатором.
func (s *Service) settle(ctx context.Context, log *slog.Logger, task automation.Task, result string) {
	// слот нужно вернуть и при остановке воркера
	ctx = context.WithoutCancel(ctx)

	if result == ResultError {
		retryAt := s.now().Add(s.cfg.RetryDelay)
		if err := s.source.Requeue(ctx, s.cfg.Queue, task.ID, retryAt); err != nil {
			log.Error("failed to requeue task", sl.Err(err))
			return
		}
		log.Info("task requeued", slog.Time("run_after", retryAt))
		return
	}
	if err := s.source.Release(ctx, s.cfg.Queue, task.ID); err != nil {
		log.Error("failed to release task", sl.Err(err))
	}
}

func (s *Service) execute(ctx context.Context, log *slog.Logger, task automation.Task) string {
	if task.Cancelled {
		log.Info("skipping cancelled task")
		return ResultCancelled
	}
	if task.Callback.Kind != automation.KindCharge {
		log.Warn("unknown task kind", slog.String("kind", task.Callback.Kind))
		return ResultUnknown
	}

	res, err := s.executor.ExecuteCycle(ctx, billing.RequestFromTask(task))
	switch {
	case err == nil:
		log.Debug("cycle executed",
			slog.String("outcome", res.Outcome.String()), slog.String("status", string(res.Status)))
		return ResultExecuted
	case errors.Is(err, billing.ErrStaleTask), errors.Is(err, billing.ErrSubscriptionInactive):
		log.Info("dropping stale task", sl.Err(err))
		return ResultStale
	default:
		log.Error("failed to execute cycle", sl.Err(err))
		return ResultError
	}
}
