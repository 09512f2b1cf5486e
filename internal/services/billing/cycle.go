package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/automation"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/cadence"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/lifecycle"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

// CycleRequest вызов исполнителя очередью: задача и все аккаунты списания.
type CycleRequest struct {
	TaskID          models.TaskID
	Subscription    solana.PublicKey
	Plan            solana.PublicKey
	Vault           solana.PublicKey
	MerchantAccount solana.PublicKey
	FeeAccount      solana.PublicKey
}

// RequestFromTask собирает запрос из задачи очереди.
func RequestFromTask(task automation.Task) CycleRequest {
	return CycleRequest{
		TaskID:          task.ID,
		Subscription:    task.Callback.Subscription,
		Plan:            task.Callback.Plan,
		Vault:           task.Callback.Vault,
		MerchantAccount: task.Callback.MerchantAccount,
		FeeAccount:      task.Callback.FeeAccount,
	}
}

// CycleResult итог одного цикла. Неудачное списание ошибкой не считается.
type CycleResult struct {
	Outcome      lifecycle.Outcome
	Status       models.SubscriptionStatus
	FailureCount uint16
	// NextTaskID и NextRunAt заполнены, только если подписка осталась активной.
	NextTaskID *models.TaskID
	NextRunAt  time.Time
	Amount     uint64
	Fee        uint64
}

// ExecuteCycle выполняет одно плановое списание по подписке и либо
// перепланирует следующее, либо завершает подписку по исчерпании
// допустимого числа неудач.
func (e *Engine) ExecuteCycle(ctx context.Context, req CycleRequest) (*CycleResult, error) {
	const op = "billing.ExecuteCycle"

	var (
		result CycleResult
		sub    *models.UserSubscription
		regs   registration
	)
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		reg, err := loadRegistry(ctx, tx)
		if err != nil {
			return err
		}

		sub, err = tx.Subscription(ctx, req.Subscription)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrStaleTask, err)
		}
		if err != nil {
			return err
		}
		plan, err := tx.Plan(ctx, sub.Plan)
		if err != nil {
			return err
		}
		if err := e.verifyAccounts(req, reg, plan, sub); err != nil {
			return err
		}
		if req.TaskID != sub.NextTaskID {
			return ErrStaleTask
		}
		if !sub.IsActive() {
			return ErrSubscriptionInactive
		}

		now := e.now()
		result.Outcome, err = e.charge(ctx, tx, reg, plan, sub, req.FeeAccount, &result)
		if err != nil {
			return err
		}

		state, err := lifecycle.Next(lifecycle.Of(sub), result.Outcome, plan.MaxFailureCount)
		if err != nil {
			return err
		}
		state.Apply(sub)
		sub.UpdatedAt = now
		if result.Outcome == lifecycle.Charged {
			sub.LastExecutedAt = &now
		}

		if !state.Terminal() {
			cad, err := cadence.New(plan.Interval, plan.Schedule)
			if err != nil {
				return err
			}
			runAt := cad.Retry(now)
			if result.Outcome == lifecycle.Charged {
				runAt = cad.Next(now)
			}
			taskID, err := e.register(ctx, &regs, reg.AutomationQueue, runAt, automation.Callback{
				Kind:            automation.KindCharge,
				Subscription:    sub.Address,
				Plan:            plan.Address,
				Vault:           sub.Vault,
				MerchantAccount: plan.MerchantAccount,
				FeeAccount:      req.FeeAccount,
			})
			if err != nil {
				return err
			}
			sub.NextTaskID = taskID
			sub.NextRunAt = runAt
			result.NextTaskID = &taskID
			result.NextRunAt = runAt
		}

		result.Status = sub.Status
		result.FailureCount = sub.FailureCount
		return tx.UpdateSubscription(ctx, *sub)
	})
	if err != nil {
		e.rollback(ctx, &regs)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log := e.log.With(slog.String("op", op), sl.Key("subscription", sub.Address))
	events := make([]models.Event, 0, 2)
	if result.Outcome == lifecycle.Charged {
		log.Info("subscription charged", slog.Uint64("amount", result.Amount), slog.Uint64("fee", result.Fee))
		event := e.newEvent(models.EventCharged, sub)
		event.Amount = result.Amount
		event.Fee = result.Fee
		events = append(events, event)
	} else {
		log.Warn("charge failed", slog.Int("failure_count", int(sub.FailureCount)))
		events = append(events, e.newEvent(models.EventChargeFailed, sub))
	}
	if result.Status == models.StatusCancelled {
		log.Warn("subscription terminated after repeated failures")
		events = append(events, e.newEvent(models.EventSubscriptionFailed, sub))
	}
	e.emit(ctx, events...)

	return &result, nil
}

// verifyAccounts сверяет аккаунты вызова с записанными и выведенными.
func (e *Engine) verifyAccounts(req CycleRequest, reg *models.Registry, plan *models.Plan, sub *models.UserSubscription) error {
	derived, err := e.addr.Subscription(sub.Subscriber, sub.Plan)
	if err != nil {
		return err
	}
	fees, err := feeAccount(reg, plan.Mint)
	if err != nil {
		return err
	}
	switch {
	case derived != req.Subscription:
		return fmt.Errorf("%w: subscription", ErrAccountMismatch)
	case req.Plan != sub.Plan:
		return fmt.Errorf("%w: plan", ErrAccountMismatch)
	case req.Vault != sub.Vault:
		return fmt.Errorf("%w: vault", ErrAccountMismatch)
	case req.MerchantAccount != plan.MerchantAccount:
		return fmt.Errorf("%w: merchant account", ErrAccountMismatch)
	case req.FeeAccount != fees:
		return fmt.Errorf("%w: fee account", ErrAccountMismatch)
	}
	return nil
}

// charge списывает plan.Amount из хранилища: комиссию на аккаунт комиссий
// минта плана, остаток мерчанту. Нехватка средств и выключенный план дают
// Failed без движения средств.
func (e *Engine) charge(ctx context.Context, tx storage.Tx, reg *models.Registry,
	plan *models.Plan, sub *models.UserSubscription, feeAddr solana.PublicKey, result *CycleResult) (lifecycle.Outcome, error) {
	if !plan.Active {
		return lifecycle.Failed, nil
	}

	vault, err := tx.Account(ctx, sub.Vault)
	if err != nil {
		return 0, err
	}
	if vault.Balance < plan.Amount {
		return lifecycle.Failed, nil
	}

	fee := reg.Fee(plan.Amount)
	if fee > 0 {
		if err := openAccount(ctx, tx, models.TokenAccount{Address: feeAddr, Owner: reg.FeeVault, Mint: plan.Mint}); err != nil {
			return 0, err
		}
		if err := tx.Transfer(ctx, sub.Vault, feeAddr, fee); err != nil {
			return 0, err
		}
	}
	if err := tx.Transfer(ctx, sub.Vault, plan.MerchantAccount, plan.Amount-fee); err != nil {
		return 0, err
	}

	result.Amount = plan.Amount
	result.Fee = fee
	return lifecycle.Charged, nil
}
