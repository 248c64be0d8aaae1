package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetBalance returns the user's current credit balance.
func (r *PostgresRepository) GetBalance(ctx context.Context, tgID int64) (int64, error) {
	const q = `SELECT balance FROM users WHERE tg_id = $1 LIMIT 1;`
	var balance int64
	if err := r.pool.QueryRow(ctx, q, tgID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// TryDebit decrements the balance iff it covers amount. The conditional
// update keeps the check and the decrement in a single statement, so
// concurrent callers against the same user cannot both succeed on the
// last credit.
func (r *PostgresRepository) TryDebit(ctx context.Context, tgID int64, amount int64) (bool, error) {
	const q = `
UPDATE users
SET balance = balance - $2, updated_at = NOW()
WHERE tg_id = $1 AND balance >= $2;
`
	ct, err := r.pool.Exec(ctx, q, tgID, amount)
	if err != nil {
		return false, fmt.Errorf("try debit: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// Credit unconditionally increments the balance. Used only by payment
// settlement.
func (r *PostgresRepository) Credit(ctx context.Context, tgID int64, amount int64) error {
	const q = `
UPDATE users
SET balance = balance + $2, updated_at = NOW()
WHERE tg_id = $1;
`
	ct, err := r.pool.Exec(ctx, q, tgID, amount)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
