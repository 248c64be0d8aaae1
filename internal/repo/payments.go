package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertPaymentIntent records a freshly issued intent.
func (r *PostgresRepository) InsertPaymentIntent(ctx context.Context, intent PaymentIntent) (*PaymentIntent, error) {
	const q = `
INSERT INTO payment_intents (id, user_id, payload, status)
VALUES ($1, $2, $3, $4)
RETURNING created_at, updated_at;
`
	err := r.pool.QueryRow(ctx, q,
		intent.ID,
		intent.UserID,
		intent.Payload,
		intent.Status,
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert payment intent: %w", err)
	}
	return &intent, nil
}

// GetPaymentIntentByPayload resolves an intent by its correlation token.
func (r *PostgresRepository) GetPaymentIntentByPayload(ctx context.Context, payload string) (*PaymentIntent, error) {
	const q = `
SELECT id, user_id, payload, status, created_at, updated_at
FROM payment_intents
WHERE payload = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, payload)
	var in PaymentIntent
	if err := row.Scan(&in.ID, &in.UserID, &in.Payload, &in.Status, &in.CreatedAt, &in.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment intent: %w", err)
	}
	return &in, nil
}

// MarkPreCheckoutApproved advances an issued intent. Returns false when
// the payload is unknown or the intent has already moved forward; that
// case is absorbed, not an error.
func (r *PostgresRepository) MarkPreCheckoutApproved(ctx context.Context, payload string) (bool, error) {
	const q = `
UPDATE payment_intents
SET status = $2, updated_at = NOW()
WHERE payload = $1 AND status = $3;
`
	ct, err := r.pool.Exec(ctx, q, payload, IntentPreCheckoutApproved, IntentIssued)
	if err != nil {
		return false, fmt.Errorf("mark pre-checkout approved: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// SettleAndCredit flips a not-yet-settled intent to settled and grants
// the credit in the same transaction, so a settled intent without its
// credit cannot exist. The conditional update makes a duplicate success
// notification a no-op: only the first delivery observes a non-settled
// row. Returns the owning user id and whether this call performed the
// settlement.
func (r *PostgresRepository) SettleAndCredit(ctx context.Context, payload string, amount int64) (int64, bool, error) {
	const settleQ = `
UPDATE payment_intents
SET status = $2, updated_at = NOW()
WHERE payload = $1 AND status <> $2
RETURNING user_id;
`
	const creditQ = `
UPDATE users
SET balance = balance + $2, updated_at = NOW()
WHERE tg_id = $1;
`
	var userID int64
	settled := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, settleQ, payload, IntentSettled).Scan(&userID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Unknown payload or already settled: absorbed.
				return nil
			}
			return fmt.Errorf("settle intent: %w", err)
		}
		settled = true

		ct, err := tx.Exec(ctx, creditQ, userID, amount)
		if err != nil {
			return fmt.Errorf("credit settlement: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("credit settlement: user %d: %w", userID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	if !settled {
		return 0, false, nil
	}
	return userID, true, nil
}
