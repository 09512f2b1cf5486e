package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/lib/address"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/sl"
	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

// FundWallet зачисляет средства на кошелёк owner в минте mint. Заменяет
// внешнее пополнение кошелька в локальном окружении и тестах.
func (e *Engine) FundWallet(ctx context.Context, owner, mint solana.PublicKey, amount uint64) (*models.TokenAccount, error) {
	const op = "billing.FundWallet"

	if amount == 0 || amount > models.MaxAmount {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}
	wallet, err := address.TokenAccount(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var acc *models.TokenAccount
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		if err := openAccount(ctx, tx, models.TokenAccount{Address: wallet, Owner: owner, Mint: mint}); err != nil {
			return err
		}
		if err := tx.Credit(ctx, wallet, amount); err != nil {
			return err
		}
		acc, err = tx.Account(ctx, wallet)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// Deposit переводит amount с кошелька подписчика в его хранилище,
// создавая хранилище в минте mint при первом пополнении.
func (e *Engine) Deposit(ctx context.Context, subscriber, mint solana.PublicKey, amount uint64) (*models.Vault, error) {
	const op = "billing.Deposit"

	if amount == 0 || amount > models.MaxAmount {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}
	wallet, err := address.TokenAccount(subscriber, mint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var vault *models.Vault
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		v, err := e.ensureVault(ctx, tx, subscriber, mint)
		if err != nil {
			return err
		}
		if _, err := tx.Account(ctx, wallet); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrInsufficientFunds
			}
			return err
		}
		if err := tx.Transfer(ctx, wallet, v.Address, amount); err != nil {
			return err
		}
		vault, err = tx.Vault(ctx, v.Address)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.log.Info("vault funded", sl.Key("vault", vault.Address), slog.Uint64("amount", amount))
	return vault, nil
}

// CloseVault возвращает остаток хранилища на кошелёк владельца и удаляет
// хранилище. Завершённые записи подписок владельца удаляются вместе с ним.
func (e *Engine) CloseVault(ctx context.Context, signer, vaultAddr solana.PublicKey) (uint64, error) {
	const op = "billing.CloseVault"

	derived, err := e.addr.Vault(signer)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if derived != vaultAddr {
		return 0, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	var refunded uint64
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		vault, err := tx.Vault(ctx, vaultAddr)
		if err != nil {
			return err
		}
		if vault.Owner != signer {
			return ErrUnauthorized
		}

		subs, err := tx.SubscriptionsBySubscriber(ctx, signer)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if sub.Vault == vaultAddr && sub.IsActive() {
				return ErrVaultInUse
			}
		}
		for _, sub := range subs {
			if sub.Vault != vaultAddr {
				continue
			}
			if err := tx.DeleteSubscription(ctx, sub.Address); err != nil {
				return err
			}
		}

		wallet, err := address.TokenAccount(signer, vault.Mint)
		if err != nil {
			return err
		}
		if err := openAccount(ctx, tx, models.TokenAccount{Address: wallet, Owner: signer, Mint: vault.Mint}); err != nil {
			return err
		}
		refunded, err = tx.CloseAccount(ctx, vaultAddr, wallet)
		if err != nil {
			return err
		}
		return tx.DeleteVault(ctx, vaultAddr)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	e.log.Info("vault closed", sl.Key("vault", vaultAddr), slog.Uint64("refunded", refunded))
	e.emit(ctx, models.Event{
		ID:         newEventID(),
		Kind:       models.EventVaultClosed,
		Subscriber: signer,
		Amount:     refunded,
		OccurredAt: e.now(),
	})
	return refunded, nil
}

// GetVault возвращает хранилище по адресу.
func (e *Engine) GetVault(ctx context.Context, vaultAddr solana.PublicKey) (*models.Vault, error) {
	const op = "billing.GetVault"

	var vault *models.Vault
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		vault, err = tx.Vault(ctx, vaultAddr)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return vault, nil
}

// VaultOf возвращает хранилище подписчика.
func (e *Engine) VaultOf(ctx context.Context, owner solana.PublicKey) (*models.Vault, error) {
	const op = "billing.VaultOf"

	vaultAddr, err := e.addr.Vault(owner)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e.GetVault(ctx, vaultAddr)
}
