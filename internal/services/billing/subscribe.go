package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/automation"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/cadence"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

// ensureVault возвращает хранилище подписчика, создавая его с нулевым
// балансом в минте mint. Хранилище с другим минтом даёт ErrMintMismatch.
// Если хранилище успела создать параллельная транзакция, оно перечитывается.
func (e *Engine) ensureVault(ctx context.Context, tx storage.Tx, owner, mint solana.PublicKey) (*models.Vault, error) {
	vaultAddr, err := e.addr.Vault(owner)
	if err != nil {
		return nil, err
	}

	vault, err := existingVault(ctx, tx, vaultAddr, mint)
	if !errors.Is(err, storage.ErrNotFound) {
		return vault, err
	}

	vault = &models.Vault{
		Address:   vaultAddr,
		Owner:     owner,
		Mint:      mint,
		CreatedAt: e.now(),
	}
	err = tx.CreateVault(ctx, *vault)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return existingVault(ctx, tx, vaultAddr, mint)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.OpenAccount(ctx, models.TokenAccount{Address: vaultAddr, Owner: owner, Mint: mint}); err != nil {
		return nil, err
	}
	return vault, nil
}

func existingVault(ctx context.Context, tx storage.Tx, addr, mint solana.PublicKey) (*models.Vault, error) {
	vault, err := tx.Vault(ctx, addr)
	if err != nil {
		return nil, err
	}
	if vault.Mint != mint {
		return nil, ErrMintMismatch
	}
	return vault, nil
}

// Subscribe подписывает subscriber на план: создаёт хранилище при
// необходимости, регистрирует первую задачу списания и сохраняет подписку.
// Средства не движутся.
func (e *Engine) Subscribe(ctx context.Context, subscriber, planAddr solana.PublicKey) (*models.UserSubscription, error) {
	const op = "billing.Subscribe"

	subAddr, err := e.addr.Subscription(subscriber, planAddr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		sub  models.UserSubscription
		regs registration
	)
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		reg, err := loadRegistry(ctx, tx)
		if err != nil {
			return err
		}
		plan, err := tx.Plan(ctx, planAddr)
		if err != nil {
			return err
		}
		if !plan.Active {
			return ErrInactivePlan
		}

		vault, err := e.ensureVault(ctx, tx, subscriber, plan.Mint)
		if err != nil {
			return err
		}

		existing, err := tx.Subscription(ctx, subAddr)
		switch {
		case err == nil && existing.IsActive():
			return ErrAlreadyExists
		case err == nil:
			// запись, оставшаяся после автозавершения, заменяется новой
			if err := tx.DeleteSubscription(ctx, subAddr); err != nil {
				return err
			}
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		cad, err := cadence.New(plan.Interval, plan.Schedule)
		if err != nil {
			return err
		}
		now := e.now()
		runAt := cad.Next(now)

		fees, err := feeAccount(reg, plan.Mint)
		if err != nil {
			return err
		}
		taskID, err := e.register(ctx, &regs, reg.AutomationQueue, runAt, automation.Callback{
			Kind:            automation.KindCharge,
			Subscription:    subAddr,
			Plan:            plan.Address,
			Vault:           vault.Address,
			MerchantAccount: plan.MerchantAccount,
			FeeAccount:      fees,
		})
		if err != nil {
			return err
		}

		sub = models.UserSubscription{
			Address:    subAddr,
			Subscriber: subscriber,
			Plan:       plan.Address,
			Vault:      vault.Address,
			Status:     models.StatusActive,
			NextTaskID: taskID,
			NextRunAt:  runAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.CreateSubscription(ctx, sub)
	})
	if err != nil {
		e.rollback(ctx, &regs)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.log.Info("subscribed", sl.Key("subscription", subAddr), sl.Key("subscriber", subscriber), sl.Key("plan", planAddr))
	e.emit(ctx, e.newEvent(models.EventSubscribed, &sub))
	return &sub, nil
}
