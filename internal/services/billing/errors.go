package billing

import (
	"errors"

	"github.com/magabrotheeeer/escrow-billing/internal/lib/cadence"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

// Ошибки движка. Проверяются через errors.Is.
var (
	ErrInvalidName          = errors.New("invalid plan name")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidInterval      = cadence.ErrInvalidInterval
	ErrInvalidSchedule      = cadence.ErrInvalidSchedule
	ErrInvalidFee           = errors.New("fee basis points out of range")
	ErrInvalidQueue         = errors.New("automation queue name is empty")
	ErrAlreadyExists        = storage.ErrAlreadyExists
	ErrNotFound             = storage.ErrNotFound
	ErrUnauthorized         = errors.New("signer is not authorized")
	ErrStaleTask            = errors.New("stale task")
	ErrInsufficientFunds    = storage.ErrInsufficientFunds
	ErrBalanceOverflow      = storage.ErrBalanceOverflow
	ErrInactivePlan         = errors.New("plan is inactive")
	ErrMintMismatch         = errors.New("mint mismatch")
	ErrAccountMismatch      = errors.New("account mismatch")
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrVaultInUse           = errors.New("vault is referenced by an active subscription")
	ErrNotInitialized       = errors.New("registry is not initialized")
)
