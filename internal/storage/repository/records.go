package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
	"github.com/magabrotheeeer/escrow-billing/internal/storage"
)

func (t *pgTx) Registry(ctx context.Context) (*models.Registry, error) {
	const op = "storage.Registry"

	var (
		r                                        models.Registry
		address, admin, queueAuthority, feeVault string
		feeBps                                   int
	)
	err := t.tx.QueryRowContext(ctx, `SELECT address, admin, automation_queue, queue_authority,
			fee_vault, fee_basis_points, created_at
		FROM registry`).Scan(&address, &admin, &r.AutomationQueue, &queueAuthority, &feeVault, &feeBps, &r.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	r.FeeBasisPoints = uint16(feeBps)
	if err := parseKeys(
		keyField{address, &r.Address},
		keyField{admin, &r.Admin},
		keyField{queueAuthority, &r.QueueAuthority},
		keyField{feeVault, &r.FeeVault},
	); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &r, nil
}

func (t *pgTx) CreateRegistry(ctx context.Context, r models.Registry) error {
	const op = "storage.CreateRegistry"

	_, err := t.tx.ExecContext(ctx, `INSERT INTO registry
			(address, admin, automation_queue, queue_authority, fee_vault, fee_basis_points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.Address.String(), r.Admin.String(), r.AutomationQueue, r.QueueAuthority.String(),
		r.FeeVault.String(), int(r.FeeBasisPoints), r.CreatedAt)
	return wrap(op, err)
}

func (t *pgTx) UpdateRegistry(ctx context.Context, r models.Registry) error {
	const op = "storage.UpdateRegistry"

	res, err := t.tx.ExecContext(ctx, `UPDATE registry
		SET admin = $1, automation_queue = $2, fee_basis_points = $3
		WHERE address = $4`,
		r.Admin.String(), r.AutomationQueue, int(r.FeeBasisPoints), r.Address.String())
	if err != nil {
		return wrap(op, err)
	}
	return expectOne(op, res)
}

func (t *pgTx) Plan(ctx context.Context, addr solana.PublicKey) (*models.Plan, error) {
	const op = "storage.Plan"

	var (
		p                               models.Plan
		merchant, mint, merchantAccount string
		amount, interval                int64
		maxFailures                     int
	)
	err := t.tx.QueryRowContext(ctx, `SELECT merchant, name, mint, merchant_account, amount,
			interval_seconds, schedule, max_failure_count, active, created_at
		FROM plans WHERE address = $1`, addr.String()).Scan(
		&merchant, &p.Name, &mint, &merchantAccount, &amount,
		&interval, &p.Schedule, &maxFailures, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	p.Address = addr
	p.Amount = uint64(amount)
	p.Interval = uint64(interval)
	p.MaxFailureCount = uint8(maxFailures)
	if err := parseKeys(
		keyField{merchant, &p.Merchant},
		keyField{mint, &p.Mint},
		keyField{merchantAccount, &p.MerchantAccount},
	); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

func (t *pgTx) CreatePlan(ctx context.Context, p models.Plan) error {
	const op = "storage.CreatePlan"

	value, err := amount(p.Amount)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	interval, err := amount(p.Interval)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO plans
			(address, merchant, name, mint, merchant_account, amount, interval_seconds,
			 schedule, max_failure_count, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.Address.String(), p.Merchant.String(), p.Name, keyString(p.Mint), p.MerchantAccount.String(),
		value, interval, p.Schedule, int(p.MaxFailureCount), p.Active, p.CreatedAt)
	return wrap(op, err)
}

func (t *pgTx) UpdatePlan(ctx context.Context, p models.Plan) error {
	const op = "storage.UpdatePlan"

	res, err := t.tx.ExecContext(ctx, `UPDATE plans SET active = $1 WHERE address = $2`,
		p.Active, p.Address.String())
	if err != nil {
		return wrap(op, err)
	}
	return expectOne(op, res)
}

// Vault читает хранилище с блокировкой строки vaults до конца транзакции:
// подписка и закрытие одного хранилища выполняются по очереди.
func (t *pgTx) Vault(ctx context.Context, addr solana.PublicKey) (*models.Vault, error) {
	const op = "storage.Vault"

	var (
		v           models.Vault
		owner, mint string
		balance     sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx, `SELECT v.owner, v.mint, v.created_at, a.balance
		FROM vaults v LEFT JOIN token_accounts a ON a.address = v.address
		WHERE v.address = $1 FOR UPDATE OF v`, addr.String()).Scan(&owner, &mint, &v.CreatedAt, &balance)
	if err != nil {
		return nil, wrap(op, err)
	}
	v.Address = addr
	v.Balance = uint64(balance.Int64)
	if err := parseKeys(keyField{owner, &v.Owner}, keyField{mint, &v.Mint}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &v, nil
}

func (t *pgTx) CreateVault(ctx context.Context, v models.Vault) error {
	const op = "storage.CreateVault"

	// как и OpenAccount, конфликт не прерывает транзакцию
	res, err := t.tx.ExecContext(ctx, `INSERT INTO vaults (address, owner, mint, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		v.Address.String(), v.Owner.String(), keyString(v.Mint), v.CreatedAt)
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

func (t *pgTx) DeleteVault(ctx context.Context, addr solana.PublicKey) error {
	const op = "storage.DeleteVault"

	res, err := t.tx.ExecContext(ctx, `DELETE FROM vaults WHERE address = $1`, addr.String())
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w", op, storage.ErrReferenced)
	}
	if err != nil {
		return wrap(op, err)
	}
	return expectOne(op, res)
}

const subscriptionColumns = `address, subscriber, plan, vault, status, next_task_id, failure_count,
	next_run_at, last_executed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*models.UserSubscription, error) {
	var (
		s                                models.UserSubscription
		address, subscriber, plan, vault string
		status                           string
		nextTaskID                       int64
		failures                         int
		lastExecutedAt                   sql.NullTime
	)
	err := row.Scan(&address, &subscriber, &plan, &vault, &status, &nextTaskID, &failures,
		&s.NextRunAt, &lastExecutedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.SubscriptionStatus(status)
	s.NextTaskID = models.TaskID(nextTaskID)
	s.FailureCount = uint16(failures)
	if lastExecutedAt.Valid {
		at := lastExecutedAt.Time
		s.LastExecutedAt = &at
	}
	if err := parseKeys(
		keyField{address, &s.Address},
		keyField{subscriber, &s.Subscriber},
		keyField{plan, &s.Plan},
		keyField{vault, &s.Vault},
	); err != nil {
		return nil, err
	}
	return &s, nil
}

// Subscription читает подписку с блокировкой строки до конца транзакции.
func (t *pgTx) Subscription(ctx context.Context, addr solana.PublicKey) (*models.UserSubscription, error) {
	const op = "storage.Subscription"

	row := t.tx.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE address = $1 FOR UPDATE`, addr.String())
	s, err := scanSubscription(row)
	if err != nil {
		return nil, wrap(op, err)
	}
	return s, nil
}

func (t *pgTx) CreateSubscription(ctx context.Context, s models.UserSubscription) error {
	const op = "storage.CreateSubscription"

	_, err := t.tx.ExecContext(ctx, `INSERT INTO user_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.Address.String(), s.Subscriber.String(), s.Plan.String(), s.Vault.String(), string(s.Status),
		int64(s.NextTaskID), int(s.FailureCount), s.NextRunAt, nullTime(s), s.CreatedAt, s.UpdatedAt)
	if isForeignKeyViolation(err) {
		// план или хранилище подписки отсутствуют
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return wrap(op, err)
}

func (t *pgTx) UpdateSubscription(ctx context.Context, s models.UserSubscription) error {
	const op = "storage.UpdateSubscription"

	res, err := t.tx.ExecContext(ctx, `UPDATE user_subscriptions
		SET status = $1, next_task_id = $2, failure_count = $3, next_run_at = $4,
			last_executed_at = $5, updated_at = $6
		WHERE address = $7`,
		string(s.Status), int64(s.NextTaskID), int(s.FailureCount), s.NextRunAt,
		nullTime(s), s.UpdatedAt, s.Address.String())
	if err != nil {
		return wrap(op, err)
	}
	return expectOne(op, res)
}

func (t *pgTx) DeleteSubscription(ctx context.Context, addr solana.PublicKey) error {
	const op = "storage.DeleteSubscription"

	res, err := t.tx.ExecContext(ctx, `DELETE FROM user_subscriptions WHERE address = $1`, addr.String())
	if err != nil {
		return wrap(op, err)
	}
	return expectOne(op, res)
}

func (t *pgTx) SubscriptionsBySubscriber(ctx context.Context, subscriber solana.PublicKey) ([]*models.UserSubscription, error) {
	const op = "storage.SubscriptionsBySubscriber"

	rows, err := t.tx.QueryContext(ctx, `SELECT `+subscriptionColumns+`
		FROM user_subscriptions WHERE subscriber = $1 ORDER BY created_at`, subscriber.String())
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.UserSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func nullTime(s models.UserSubscription) sql.NullTime {
	if s.LastExecutedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *s.LastExecutedAt, Valid: true}
}

type keyField struct {
	raw string
	dst *solana.PublicKey
}

func parseKeys(fields ...keyField) error {
	for _, f := range fields {
		k, err := key(f.raw)
		if err != nil {
			return fmt.Errorf("parse key %q: %w", f.raw, err)
		}
		*f.dst = k
	}
	return nil
}
