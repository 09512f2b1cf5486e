package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

// Initialize создаёт глобальный реестр. Аккаунты комиссий открываются
// позже, при первом списании в каждом минте. Вызывается один раз;
// подписывает только администратор движка.
func (e *Engine) Initialize(ctx context.Context, signer solana.PublicKey, queue string, feeBps uint16) (*models.Registry, error) {
	const op = "billing.Initialize"

	if signer != e.authority {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	if queue == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidQueue)
	}
	if feeBps > models.MaxFeeBasisPoints {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidFee)
	}

	global, err := e.addr.Global()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	queueAuthority, err := e.addr.QueueAuthority()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	feeVault, err := e.addr.FeeVault()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reg := models.Registry{
		Address:         global,
		Admin:           signer,
		AutomationQueue: queue,
		QueueAuthority:  queueAuthority,
		FeeVault:        feeVault,
		FeeBasisPoints:  feeBps,
		CreatedAt:       e.now(),
	}

	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.CreateRegistry(ctx, reg)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.log.Info("registry initialized",
		slog.String("queue", queue), sl.Key("fee_vault", feeVault), slog.Int("fee_bps", int(feeBps)))
	return &reg, nil
}

// SetFee меняет протокольную комиссию. Подписывает администратор реестра.
func (e *Engine) SetFee(ctx context.Context, signer solana.PublicKey, feeBps uint16) (*models.Registry, error) {
	const op = "billing.SetFee"

	if feeBps > models.MaxFeeBasisPoints {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidFee)
	}

	var reg *models.Registry
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		reg, err = loadRegistry(ctx, tx)
		if err != nil {
			return err
		}
		if reg.Admin != signer {
			return ErrUnauthorized
		}
		reg.FeeBasisPoints = feeBps
		return tx.UpdateRegistry(ctx, *reg)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.log.Info("protocol fee updated", slog.Int("fee_bps", int(feeBps)))
	return reg, nil
}

// GetRegistry возвращает глобальный реестр.
func (e *Engine) GetRegistry(ctx context.Context) (*models.Registry, error) {
	const op = "billing.GetRegistry"

	var reg *models.Registry
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		reg, err = loadRegistry(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return reg, nil
}
