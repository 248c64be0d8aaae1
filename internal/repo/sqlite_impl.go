package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// Timestamps are written from Go rather than relying on
// CURRENT_TIMESTAMP so both backends produce the same precision.

// -- Users --

func (r *SQLiteRepository) UpsertUser(ctx context.Context, profile UserProfile) (*User, error) {
	now := time.Now().UTC()
	const q = `
INSERT INTO users (tg_id, chat_id, username, balance, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?)
ON CONFLICT (tg_id) DO UPDATE SET
    chat_id = excluded.chat_id,
    username = COALESCE(excluded.username, users.username),
    updated_at = excluded.updated_at
RETURNING tg_id, chat_id, username, password_hash, balance, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q, profile.TGID, profile.ChatID, profile.Username, now, now)

	var u User
	if err := row.Scan(&u.TGID, &u.ChatID, &u.Username, &u.PasswordHash, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, tgID int64) (*User, error) {
	const q = `
SELECT tg_id, chat_id, username, password_hash, balance, created_at, updated_at
FROM users
WHERE tg_id = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, tgID)
	var u User
	if err := row.Scan(&u.TGID, &u.ChatID, &u.Username, &u.PasswordHash, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]User, error) {
	const q = `
SELECT tg_id, chat_id, username, password_hash, balance, created_at, updated_at
FROM users
ORDER BY created_at ASC;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.TGID, &u.ChatID, &u.Username, &u.PasswordHash, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *SQLiteRepository) SetPasswordHash(ctx context.Context, tgID int64, hash string) error {
	const q = `UPDATE users SET password_hash = ?, updated_at = ? WHERE tg_id = ?;`
	res, err := r.db.ExecContext(ctx, q, hash, time.Now().UTC(), tgID)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set password hash rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Mood entries --

func (r *SQLiteRepository) InsertMoodEntry(ctx context.Context, entry MoodEntry) (*MoodEntry, error) {
	entry.CreatedAt = time.Now().UTC()
	const q = `
INSERT INTO mood_entries (user_id, created_at, mood_score, trigger_text, thought_text)
VALUES (?, ?, ?, ?, ?)
RETURNING id;
`
	err := r.db.QueryRowContext(ctx, q,
		entry.UserID,
		entry.CreatedAt,
		entry.MoodScore,
		entry.TriggerText,
		entry.ThoughtText,
	).Scan(&entry.ID)
	if err != nil {
		return nil, fmt.Errorf("insert mood entry: %w", err)
	}
	return &entry, nil
}

func (r *SQLiteRepository) ListEntries(ctx context.Context, tgID int64, since time.Time) ([]MoodEntry, error) {
	q := `
SELECT id, user_id, created_at, mood_score, trigger_text, thought_text
FROM mood_entries
WHERE user_id = ?`
	args := []any{tgID}
	if !since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, since.UTC())
	}
	q += ` ORDER BY created_at DESC;`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []MoodEntry
	for rows.Next() {
		var e MoodEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.CreatedAt, &e.MoodScore, &e.TriggerText, &e.ThoughtText); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (r *SQLiteRepository) LatestEntrySince(ctx context.Context, tgID int64, since time.Time) (*MoodEntry, error) {
	const q = `
SELECT id, user_id, created_at, mood_score, trigger_text, thought_text
FROM mood_entries
WHERE user_id = ? AND created_at >= ?
ORDER BY created_at DESC
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, tgID, since.UTC())
	var e MoodEntry
	if err := row.Scan(&e.ID, &e.UserID, &e.CreatedAt, &e.MoodScore, &e.TriggerText, &e.ThoughtText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest entry: %w", err)
	}
	return &e, nil
}

func (r *SQLiteRepository) EntryStats(ctx context.Context, tgID int64) (*UserStats, error) {
	const q = `
SELECT COUNT(*),
       COALESCE(AVG(mood_score), 0),
       COALESCE(MIN(mood_score), 0),
       COALESCE(MAX(mood_score), 0),
       MIN(created_at),
       MAX(created_at)
FROM mood_entries
WHERE user_id = ?;
`
	var st UserStats
	var avg float64
	err := r.db.QueryRowContext(ctx, q, tgID).Scan(
		&st.TotalEntries,
		&avg,
		&st.MinMood,
		&st.MaxMood,
		&st.FirstEntryAt,
		&st.LastEntryAt,
	)
	if err != nil {
		return nil, fmt.Errorf("entry stats: %w", err)
	}
	st.AverageMood = math.Round(avg*100) / 100
	return &st, nil
}

// -- Balances --

func (r *SQLiteRepository) GetBalance(ctx context.Context, tgID int64) (int64, error) {
	const q = `SELECT balance FROM users WHERE tg_id = ? LIMIT 1;`
	var balance int64
	if err := r.db.QueryRowContext(ctx, q, tgID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *SQLiteRepository) TryDebit(ctx context.Context, tgID int64, amount int64) (bool, error) {
	const q = `
UPDATE users
SET balance = balance - ?, updated_at = ?
WHERE tg_id = ? AND balance >= ?;
`
	res, err := r.db.ExecContext(ctx, q, amount, time.Now().UTC(), tgID, amount)
	if err != nil {
		return false, fmt.Errorf("try debit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("try debit rows: %w", err)
	}
	return affected == 1, nil
}

func (r *SQLiteRepository) Credit(ctx context.Context, tgID int64, amount int64) error {
	const q = `
UPDATE users
SET balance = balance + ?, updated_at = ?
WHERE tg_id = ?;
`
	res, err := r.db.ExecContext(ctx, q, amount, time.Now().UTC(), tgID)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Payment intents --

func (r *SQLiteRepository) InsertPaymentIntent(ctx context.Context, intent PaymentIntent) (*PaymentIntent, error) {
	now := time.Now().UTC()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	const q = `
INSERT INTO payment_intents (id, user_id, payload, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?);
`
	_, err := r.db.ExecContext(ctx, q,
		intent.ID,
		intent.UserID,
		intent.Payload,
		intent.Status,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment intent: %w", err)
	}
	return &intent, nil
}

func (r *SQLiteRepository) GetPaymentIntentByPayload(ctx context.Context, payload string) (*PaymentIntent, error) {
	const q = `
SELECT id, user_id, payload, status, created_at, updated_at
FROM payment_intents
WHERE payload = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, payload)
	var in PaymentIntent
	if err := row.Scan(&in.ID, &in.UserID, &in.Payload, &in.Status, &in.CreatedAt, &in.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment intent: %w", err)
	}
	return &in, nil
}

func (r *SQLiteRepository) MarkPreCheckoutApproved(ctx context.Context, payload string) (bool, error) {
	const q = `
UPDATE payment_intents
SET status = ?, updated_at = ?
WHERE payload = ? AND status = ?;
`
	res, err := r.db.ExecContext(ctx, q, IntentPreCheckoutApproved, time.Now().UTC(), payload, IntentIssued)
	if err != nil {
		return false, fmt.Errorf("mark pre-checkout approved: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark pre-checkout rows: %w", err)
	}
	return affected == 1, nil
}

// SettleAndCredit performs the status flip and the credit grant in one
// transaction; a failed credit rolls back the settlement so the
// provider's retry can complete it.
func (r *SQLiteRepository) SettleAndCredit(ctx context.Context, payload string, amount int64) (int64, bool, error) {
	const settleQ = `
UPDATE payment_intents
SET status = ?, updated_at = ?
WHERE payload = ? AND status <> ?
RETURNING user_id;
`
	const creditQ = `
UPDATE users
SET balance = balance + ?, updated_at = ?
WHERE tg_id = ?;
`
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var userID int64
	err = tx.QueryRowContext(ctx, settleQ, IntentSettled, now, payload, IntentSettled).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		// Unknown payload or already settled: absorbed.
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("settle intent: %w", err)
	}

	res, err := tx.ExecContext(ctx, creditQ, amount, now, userID)
	if err != nil {
		return 0, false, fmt.Errorf("credit settlement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("credit settlement rows: %w", err)
	}
	if affected == 0 {
		return 0, false, fmt.Errorf("credit settlement: user %d: %w", userID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit settle tx: %w", err)
	}
	return userID, true, nil
}
