// Package cache реализует кеш планов поверх redis. Значения хранятся в JSON.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/escrow-billing/internal/config"
)

// Cache кеш с JSON-сериализацией значений.
type Cache struct {
	Db      *redis.Client
	timeout time.Duration
}

// NewClient создаёт клиента redis по настройкам и проверяет соединение.
// Клиент общий для кеша и очереди автоматизации.
func NewClient(ctx context.Context, cfg config.RedisConnection) (*redis.Client, error) {
	const op = "cache.NewClient"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return db, nil
}

// InitServer подключается к redis и возвращает кеш.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return New(db, cfg.TimeoutRedis), nil
}

// New оборачивает готовый клиент. timeout ограничивает каждую операцию,
// 0 означает без ограничения.
func New(db *redis.Client, timeout time.Duration) *Cache {
	return &Cache{Db: db, timeout: timeout}
}

func (c *Cache) context() (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), c.timeout)
}

// Get читает значение по ключу в result. false означает промах.
func (c *Cache) Get(key string, result any) (bool, error) {
	const op = "cache.Get"
	ctx, cancel := c.context()
	defer cancel()

	val, err := c.Db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(val, result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// Set сохраняет значение с временем жизни expiration.
func (c *Cache) Set(key string, value any, expiration time.Duration) error {
	const op = "cache.Set"
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ctx, cancel := c.context()
	defer cancel()
	if err := c.Db.Set(ctx, key, jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Invalidate удаляет ключ.
func (c *Cache) Invalidate(key string) error {
	const op = "cache.Invalidate"
	ctx, cancel := c.context()
	defer cancel()
	if err := c.Db.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает соединение.
func (c *Cache) Close() error {
	return c.Db.Close()
}
