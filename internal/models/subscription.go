// Package models содержит доменные структуры биллинга: глобальный реестр,
// план подписки, escrow-хранилище подписчика, подписку и события.
// Все записи адресуются детерминированными адресами (см. пакет address).
package models

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// SubscriptionStatus статус подписки пользователя.
type SubscriptionStatus string

const (
	// StatusActive подписка активна, следующая задача зарегистрирована.
	StatusActive SubscriptionStatus = "active"
	// StatusCancelled подписка завершена, живой задачи нет.
	StatusCancelled SubscriptionStatus = "cancelled"
)

// TaskID идентификатор задачи в очереди автоматизации. Идентификаторы
// уникальны только среди живых задач и переиспользуются после освобождения.
type TaskID uint32

// UserSubscription связывает подписчика с планом и хранит состояние
// жизненного цикла: статус, счётчик неудачных списаний и текущую задачу.
type UserSubscription struct {
	Address        solana.PublicKey   `json:"address"`
	Subscriber     solana.PublicKey   `json:"subscriber"`
	Plan           solana.PublicKey   `json:"plan"`
	Vault          solana.PublicKey   `json:"vault"`
	Status         SubscriptionStatus `json:"status"`
	NextTaskID     TaskID             `json:"next_task_id"`
	FailureCount   uint16             `json:"failure_count"`
	NextRunAt      time.Time          `json:"next_run_at"`
	LastExecutedAt *time.Time         `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// IsActive сообщает, ожидает ли подписка следующего списания.
func (s *UserSubscription) IsActive() bool {
	return s.Status == StatusActive
}
