package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/automation"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

// CancelSubscription удаляет подписку и снимает её ожидающую задачу.
// Повторная отмена даёт ErrNotFound.
func (e *Engine) CancelSubscription(ctx context.Context, signer, subAddr solana.PublicKey) error {
	const op = "billing.CancelSubscription"

	var (
		sub   *models.UserSubscription
		queue string
	)
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		reg, err := loadRegistry(ctx, tx)
		if err != nil {
			return err
		}
		queue = reg.AutomationQueue

		sub, err = tx.Subscription(ctx, subAddr)
		if err != nil {
			return err
		}
		if !sub.IsActive() {
			return ErrNotFound
		}
		if sub.Subscriber != signer {
			return ErrUnauthorized
		}
		derived, err := e.addr.Subscription(signer, sub.Plan)
		if err != nil {
			return err
		}
		if derived != subAddr {
			return ErrUnauthorized
		}
		return tx.DeleteSubscription(ctx, subAddr)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// запись уже удалена: задача, которую не удалось снять, отработает как устаревшая
	if err := e.tasks.DeregisterTask(ctx, queue, sub.NextTaskID); err != nil && !errors.Is(err, automation.ErrTaskNotFound) {
		e.log.Error("failed to deregister task", sl.Key("subscription", subAddr), sl.Err(err))
	}

	e.log.Info("subscription cancelled", sl.Key("subscription", subAddr))
	e.emit(ctx, e.newEvent(models.EventSubscriptionCancelled, sub))
	return nil
}

// GetSubscription возвращает подписку по адресу.
func (e *Engine) GetSubscription(ctx context.Context, subAddr solana.PublicKey) (*models.UserSubscription, error) {
	const op = "billing.GetSubscription"

	var sub *models.UserSubscription
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		sub, err = tx.Subscription(ctx, subAddr)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListSubscriptions возвращает подписки подписчика в порядке создания.
func (e *Engine) ListSubscriptions(ctx context.Context, subscriber solana.PublicKey) ([]*models.UserSubscription, error) {
	const op = "billing.ListSubscriptions"

	var subs []*models.UserSubscription
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		subs, err = tx.SubscriptionsBySubscriber(ctx, subscriber)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}
