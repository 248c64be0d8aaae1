// Package ledger owns the atomic credit balance mutations gating the
// paid advice feature.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"mood-bot/internal/metrics"
)

// BalanceStore is the storage surface the ledger needs. The repository
// implements it with single-statement conditional updates, which is
// where the debit atomicity actually lives.
type BalanceStore interface {
	GetBalance(ctx context.Context, tgID int64) (int64, error)
	TryDebit(ctx context.Context, tgID int64, amount int64) (bool, error)
	Credit(ctx context.Context, tgID int64, amount int64) error
	SettleAndCredit(ctx context.Context, payload string, amount int64) (int64, bool, error)
}

// Ledger wraps the balance store with logging and metrics.
type Ledger struct {
	store   BalanceStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a ledger over the given store.
func New(store BalanceStore, logger *slog.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		logger:  logger.With("component", "ledger"),
		metrics: m,
	}
}

// GetBalance returns the user's current credit balance.
func (l *Ledger) GetBalance(ctx context.Context, tgID int64) (int64, error) {
	balance, err := l.store.GetBalance(ctx, tgID)
	if err != nil {
		l.metrics.LedgerOps.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("ledger get balance: %w", err)
	}
	l.metrics.LedgerOps.WithLabelValues("get", "ok").Inc()
	return balance, nil
}

// TryDebit decrements the balance iff it covers amount. Exactly one of
// two concurrent callers racing for the last credit succeeds.
func (l *Ledger) TryDebit(ctx context.Context, tgID int64, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("ledger debit amount must be positive, got %d", amount)
	}
	ok, err := l.store.TryDebit(ctx, tgID, amount)
	if err != nil {
		l.metrics.LedgerOps.WithLabelValues("debit", "error").Inc()
		return false, fmt.Errorf("ledger debit: %w", err)
	}
	if !ok {
		l.metrics.LedgerOps.WithLabelValues("debit", "insufficient").Inc()
		l.logger.Debug("debit rejected", "user", tgID, "amount", amount)
		return false, nil
	}
	l.metrics.LedgerOps.WithLabelValues("debit", "ok").Inc()
	l.logger.Info("balance debited", "user", tgID, "amount", amount)
	return true, nil
}

// Credit unconditionally increments the balance. Only settled payments
// call this.
func (l *Ledger) Credit(ctx context.Context, tgID int64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger credit amount must be positive, got %d", amount)
	}
	if err := l.store.Credit(ctx, tgID, amount); err != nil {
		l.metrics.LedgerOps.WithLabelValues("credit", "error").Inc()
		return fmt.Errorf("ledger credit: %w", err)
	}
	l.metrics.LedgerOps.WithLabelValues("credit", "ok").Inc()
	l.logger.Info("balance credited", "user", tgID, "amount", amount)
	return nil
}

// SettleAndCredit settles the payment intent behind payload and grants
// the credit as one storage transaction. A failed grant leaves the
// intent unsettled, so the provider's redelivery can complete it and
// a settled intent always carries its credit. Returns the owning user
// and whether this call won the settlement; a duplicate or unknown
// payload is absorbed with settled=false.
func (l *Ledger) SettleAndCredit(ctx context.Context, payload string, amount int64) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("ledger settle amount must be positive, got %d", amount)
	}
	userID, settled, err := l.store.SettleAndCredit(ctx, payload, amount)
	if err != nil {
		l.metrics.LedgerOps.WithLabelValues("settle", "error").Inc()
		return 0, false, fmt.Errorf("ledger settle: %w", err)
	}
	if !settled {
		l.metrics.LedgerOps.WithLabelValues("settle", "duplicate").Inc()
		return 0, false, nil
	}
	l.metrics.LedgerOps.WithLabelValues("settle", "ok").Inc()
	l.logger.Info("settlement credited", "user", userID, "amount", amount, "payload", payload)
	return userID, true, nil
}
