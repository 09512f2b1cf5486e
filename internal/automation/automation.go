// Package automation описывает внешнюю очередь задач, которая вызывает
// исполнитель биллингового цикла в назначенное время.
//
// Движок видит очередь только через Facility: зарегистрировать задачу и
// снять её. Crank-воркер забирает созревшие задачи через Source.
// Идентификаторы задач плотные: новой задаче выдаётся наименьший
// свободный слот, освобождённые слоты переиспользуются.
package automation

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

var (
	// ErrTaskNotFound задачи с таким идентификатором нет в очереди.
	ErrTaskNotFound = errors.New("task not found")
	// ErrQueueFull в очереди не осталось свободных слотов.
	ErrQueueFull = errors.New("automation queue is full")
)

// KindCharge задача списания по подписке.
const KindCharge = "charge"

// DefaultCapacity число слотов очереди по умолчанию.
const DefaultCapacity = 10_000

// Callback инструкция, которую очередь передаёт исполнителю.
// Содержит все аккаунты, участвующие в списании.
type Callback struct {
	Kind            string           `json:"kind"`
	Subscription    solana.PublicKey `json:"subscription"`
	Plan            solana.PublicKey `json:"plan"`
	Vault           solana.PublicKey `json:"vault"`
	MerchantAccount solana.PublicKey `json:"merchant_account"`
	FeeAccount      solana.PublicKey `json:"fee_account"`
}

// Task задача в очереди.
type Task struct {
	ID       models.TaskID `json:"id"`
	Queue    string        `json:"queue"`
	RunAfter time.Time     `json:"run_after"`
	Callback Callback      `json:"callback"`
	// Claimed задача забрана воркером и ещё не освобождена.
	Claimed bool `json:"claimed"`
	// Cancelled задача снята, пока была забрана воркером.
	Cancelled bool `json:"cancelled"`
}

// Facility регистрация и снятие задач.
type Facility interface {
	RegisterTask(ctx context.Context, queue string, runAfter time.Time, cb Callback) (models.TaskID, error)
	// DeregisterTask снимает задачу. Забранная воркером задача только
	// помечается снятой, слот освобождается в Release.
	DeregisterTask(ctx context.Context, queue string, id models.TaskID) error
}

// Source выдача созревших задач воркеру.
type Source interface {
	// ClaimDue забирает до limit задач с RunAfter <= now. Слот забранной
	// задачи занят до вызова Release или Requeue.
	ClaimDue(ctx context.Context, queue string, now time.Time, limit int) ([]Task, error)
	// Release освобождает слот отработавшей задачи.
	Release(ctx context.Context, queue string, id models.TaskID) error
	// Requeue возвращает забранную задачу в очередь с новым временем
	// запуска, сохраняя её идентификатор. Снятая за это время задача
	// освобождается.
	Requeue(ctx context.Context, queue string, id models.TaskID, runAfter time.Time) error
}

// Queue полная реализация очереди.
type Queue interface {
	Facility
	Source
}
