package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for data persistence. Both the
// Postgres and SQLite backends implement it.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	UpsertUser(ctx context.Context, profile UserProfile) (*User, error)
	GetUser(ctx context.Context, tgID int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	SetPasswordHash(ctx context.Context, tgID int64, hash string) error

	// Mood entries
	InsertMoodEntry(ctx context.Context, entry MoodEntry) (*MoodEntry, error)
	ListEntries(ctx context.Context, tgID int64, since time.Time) ([]MoodEntry, error)
	LatestEntrySince(ctx context.Context, tgID int64, since time.Time) (*MoodEntry, error)
	EntryStats(ctx context.Context, tgID int64) (*UserStats, error)

	// Balances
	GetBalance(ctx context.Context, tgID int64) (int64, error)
	TryDebit(ctx context.Context, tgID int64, amount int64) (bool, error)
	Credit(ctx context.Context, tgID int64, amount int64) error

	// Payment intents
	InsertPaymentIntent(ctx context.Context, intent PaymentIntent) (*PaymentIntent, error)
	GetPaymentIntentByPayload(ctx context.Context, payload string) (*PaymentIntent, error)
	MarkPreCheckoutApproved(ctx context.Context, payload string) (bool, error)
	SettleAndCredit(ctx context.Context, payload string, amount int64) (int64, bool, error)
}
