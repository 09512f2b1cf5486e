package repository

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

func (t *pgTx) OpenAccount(ctx context.Context, acc models.TokenAccount) error {
	const op = "storage.OpenAccount"

	// ON CONFLICT не прерывает транзакцию: вызывающий может проигнорировать ErrAlreadyExists
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO token_accounts (address, owner, mint, balance) VALUES ($1, $2, $3, 0)
		ON CONFLICT (address) DO NOTHING`,
		acc.Address.String(), acc.Owner.String(), keyString(acc.Mint))
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	return nil
}

func (t *pgTx) Account(ctx context.Context, addr solana.PublicKey) (*models.TokenAccount, error) {
	const op = "storage.Account"
	return t.account(ctx, op, addr, "")
}

func (t *pgTx) account(ctx context.Context, op string, addr solana.PublicKey, lock string) (*models.TokenAccount, error) {
	var (
		owner, mint string
		balance     int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT owner, mint, balance FROM token_accounts WHERE address = $1`+lock,
		addr.String()).Scan(&owner, &mint, &balance)
	if err != nil {
		return nil, wrap(op, err)
	}

	acc := &models.TokenAccount{Address: addr, Balance: uint64(balance)}
	if acc.Owner, err = key(owner); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if acc.Mint, err = key(mint); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

func (t *pgTx) Credit(ctx context.Context, addr solana.PublicKey, value uint64) error {
	const op = "storage.Credit"

	v, err := amount(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE token_accounts SET balance = balance + $1 WHERE address = $2`, v, addr.String())
	if err != nil {
		return wrap(op, err)
	}
	return expectOne(op, res)
}

func (t *pgTx) Transfer(ctx context.Context, from, to solana.PublicKey, value uint64) error {
	const op = "storage.Transfer"

	v, err := amount(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE token_accounts SET balance = balance - $1 WHERE address = $2 AND balance >= $1`,
		v, from.String())
	if err != nil {
		return wrap(op, err)
	}
	if err := expectOne(op, res); err != nil {
		if _, accErr := t.account(ctx, op, from, ""); accErr != nil {
			return fmt.Errorf("source %s: %w", from, accErr)
		}
		return fmt.Errorf("%s: %w", op, storage.ErrInsufficientFunds)
	}

	res, err = t.tx.ExecContext(ctx,
		`UPDATE token_accounts SET balance = balance + $1 WHERE address = $2`, v, to.String())
	if err != nil {
		return wrap(op, err)
	}
	if err := expectOne(op, res); err != nil {
		return fmt.Errorf("destination %s: %w", to, err)
	}
	return nil
}

func (t *pgTx) CloseAccount(ctx context.Context, addr, dest solana.PublicKey) (uint64, error) {
	const op = "storage.CloseAccount"

	acc, err := t.account(ctx, op, addr, " FOR UPDATE")
	if err != nil {
		return 0, err
	}
	if acc.Balance > 0 {
		if err := t.Transfer(ctx, addr, dest, acc.Balance); err != nil {
			return 0, err
		}
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM token_accounts WHERE address = $1`, addr.String()); err != nil {
		return 0, wrap(op, err)
	}
	return acc.Balance, nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func expectOne(op string, res rowsAffected) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}
