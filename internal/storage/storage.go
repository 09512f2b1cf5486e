// Package storage описывает контракт хранилища биллинга: транзакцию над
// записями реестра, планов, хранилищ и подписок, а также токен-леджер,
// через который проходят все движения средств.
//
// Каждая операция движка выполняется в одной транзакции (InTx): либо все
// изменения фиксируются, либо ни одно.
package storage

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

var (
	// ErrNotFound запись по адресу отсутствует.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists запись по адресу уже существует.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInsufficientFunds на токен-аккаунте недостаточно средств.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrBalanceOverflow зачисление вывело бы баланс за models.MaxAmount.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrReferenced на запись ссылаются другие записи.
	ErrReferenced = errors.New("record is referenced")
)

// Ledger токен-леджер: создание аккаунтов, балансы и переводы.
type Ledger interface {
	// OpenAccount создаёт токен-аккаунт с нулевым балансом.
	OpenAccount(ctx context.Context, acc models.TokenAccount) error
	// Account возвращает токен-аккаунт по адресу.
	Account(ctx context.Context, addr solana.PublicKey) (*models.TokenAccount, error)
	// Credit зачисляет средства извне (минт, пополнение кошелька).
	// Баланс не превышает models.MaxAmount, иначе ErrBalanceOverflow.
	Credit(ctx context.Context, addr solana.PublicKey, amount uint64) error
	// Transfer переводит amount с from на to или возвращает ErrInsufficientFunds.
	Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error
	// CloseAccount переводит остаток на dest, удаляет аккаунт и возвращает остаток.
	CloseAccount(ctx context.Context, addr, dest solana.PublicKey) (uint64, error)
}

// Tx транзакция над записями биллинга.
type Tx interface {
	Ledger

	Registry(ctx context.Context) (*models.Registry, error)
	CreateRegistry(ctx context.Context, r models.Registry) error
	UpdateRegistry(ctx context.Context, r models.Registry) error

	Plan(ctx context.Context, addr solana.PublicKey) (*models.Plan, error)
	CreatePlan(ctx context.Context, p models.Plan) error
	UpdatePlan(ctx context.Context, p models.Plan) error

	// Vault возвращает хранилище с балансом из леджера.
	Vault(ctx context.Context, addr solana.PublicKey) (*models.Vault, error)
	CreateVault(ctx context.Context, v models.Vault) error
	DeleteVault(ctx context.Context, addr solana.PublicKey) error

	Subscription(ctx context.Context, addr solana.PublicKey) (*models.UserSubscription, error)
	CreateSubscription(ctx context.Context, s models.UserSubscription) error
	UpdateSubscription(ctx context.Context, s models.UserSubscription) error
	DeleteSubscription(ctx context.Context, addr solana.PublicKey) error
	SubscriptionsBySubscriber(ctx context.Context, subscriber solana.PublicKey) ([]*models.UserSubscription, error)
}

// Store запускает функцию в транзакции. Ошибка fn откатывает все изменения.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
