package repo

import "time"

// User represents the users table row. The Telegram user id is the
// primary key; balance is mutated only through the ledger operations.
type User struct {
	TGID         int64
	ChatID       int64
	Username     *string
	PasswordHash *string
	Balance      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserProfile carries data used to upsert a user on first contact.
type UserProfile struct {
	TGID     int64
	ChatID   int64
	Username *string
}

// MoodEntry is an append-only mood record. CreatedAt is assigned at
// write time by the repository.
type MoodEntry struct {
	ID          int64
	UserID      int64
	CreatedAt   time.Time
	MoodScore   int
	TriggerText string
	ThoughtText string
}

// IntentStatus enumerates the payment intent lifecycle. Transitions are
// strictly forward; settled is terminal.
type IntentStatus string

const (
	IntentIssued              IntentStatus = "issued"
	IntentPreCheckoutApproved IntentStatus = "pre_checkout_approved"
	IntentSettled             IntentStatus = "settled"
)

// PaymentIntent correlates an invoice with its pre-checkout query and
// success notification via the payload token.
type PaymentIntent struct {
	ID        string
	UserID    int64
	Payload   string
	Status    IntentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserStats aggregates a user's mood history for the reporting API.
// Zero TotalEntries leaves the remaining fields at their zero values.
type UserStats struct {
	TotalEntries int
	AverageMood  float64
	MinMood      int
	MaxMood      int
	FirstEntryAt *time.Time
	LastEntryAt  *time.Time
}
