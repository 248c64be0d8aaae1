package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertUser stores or updates the user profile based on the Telegram id.
// The balance and password hash of an existing user are left untouched.
func (r *PostgresRepository) UpsertUser(ctx context.Context, profile UserProfile) (*User, error) {
	const q = `
INSERT INTO users (tg_id, chat_id, username, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (tg_id) DO UPDATE SET
    chat_id = EXCLUDED.chat_id,
    username = COALESCE(EXCLUDED.username, users.username),
    updated_at = NOW()
RETURNING tg_id, chat_id, username, password_hash, balance, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, profile.TGID, profile.ChatID, profile.Username)

	var u User
	if err := row.Scan(&u.TGID, &u.ChatID, &u.Username, &u.PasswordHash, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

// GetUser returns the user by Telegram id.
func (r *PostgresRepository) GetUser(ctx context.Context, tgID int64) (*User, error) {
	const q = `
SELECT tg_id, chat_id, username, password_hash, balance, created_at, updated_at
FROM users
WHERE tg_id = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, tgID)
	var u User
	if err := row.Scan(&u.TGID, &u.ChatID, &u.Username, &u.PasswordHash, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ListUsers returns all registered users ordered by registration time.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]User, error) {
	const q = `
SELECT tg_id, chat_id, username, password_hash, balance, created_at, updated_at
FROM users
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, q)
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

// SetPasswordHash stores the onboarding credential hash for a user.
func (r *PostgresRepository) SetPasswordHash(ctx context.Context, tgID int64, hash string) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE tg_id = $1;`
	ct, err := r.pool.Exec(ctx, q, tgID, hash)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
