package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/lib/address"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/cadence"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

// PlanParams параметры нового плана.
type PlanParams struct {
	Name            string
	Mint            solana.PublicKey
	Amount          uint64
	Interval        uint64
	Schedule        string
	MaxFailureCount uint8
}

// Validate проверяет параметры плана.
func (p PlanParams) Validate() error {
	if p.Name == "" || len(p.Name) > models.MaxPlanNameLen {
		return ErrInvalidName
	}
	if p.Amount == 0 || p.Amount > models.MaxAmount {
		return ErrInvalidAmount
	}
	return cadence.Validate(p.Interval, p.Schedule)
}

// CreatePlan создаёт план мерчанта. Адрес плана выводится из (merchant, name),
// поэтому второй план с тем же именем у мерчанта невозможен. Средства не движутся.
func (e *Engine) CreatePlan(ctx context.Context, merchant solana.PublicKey, params PlanParams) (*models.Plan, error) {
	const op = "billing.CreatePlan"

	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	planAddr, err := e.addr.Plan(merchant, params.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	merchantAccount, err := address.TokenAccount(merchant, params.Mint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	plan := models.Plan{
		Address:         planAddr,
		Merchant:        merchant,
		Name:            params.Name,
		Mint:            params.Mint,
		MerchantAccount: merchantAccount,
		Amount:          params.Amount,
		Interval:        params.Interval,
		Schedule:        params.Schedule,
		MaxFailureCount: params.MaxFailureCount,
		Active:          true,
		CreatedAt:       e.now(),
	}

	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreatePlan(ctx, plan); err != nil {
			return err
		}
		return openAccount(ctx, tx, models.TokenAccount{
			Address: merchantAccount,
			Owner:   merchant,
			Mint:    params.Mint,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.log.Info("plan created", sl.Key("plan", planAddr), sl.Key("merchant", merchant), slog.String("name", plan.Name))
	e.cachePlan(&plan)
	return &plan, nil
}

// DeactivatePlan выключает план. Новые подписки на него запрещены, а
// списания по существующим считаются неудачными.
func (e *Engine) DeactivatePlan(ctx context.Context, merchant, planAddr solana.PublicKey) (*models.Plan, error) {
	const op = "billing.DeactivatePlan"

	var plan *models.Plan
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		plan, err = tx.Plan(ctx, planAddr)
		if err != nil {
			return err
		}
		if plan.Merchant != merchant {
			return ErrUnauthorized
		}
		if !plan.Active {
			return nil
		}
		plan.Active = false
		return tx.UpdatePlan(ctx, *plan)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.invalidatePlan(planAddr)
	e.log.Info("plan deactivated", sl.Key("plan", planAddr))
	return plan, nil
}

// GetPlan возвращает план, используя кеш или хранилище.
func (e *Engine) GetPlan(ctx context.Context, planAddr solana.PublicKey) (*models.Plan, error) {
	const op = "billing.GetPlan"

	if e.cache != nil {
		var cached models.Plan
		found, err := e.cache.Get(planCacheKey(planAddr), &cached)
		if err != nil {
			e.log.Warn("failed to read plan from cache", sl.Key("plan", planAddr), sl.Err(err))
		}
		if found {
			return &cached, nil
		}
	}

	var plan *models.Plan
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		plan, err = tx.Plan(ctx, planAddr)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.cachePlan(plan)
	return plan, nil
}
