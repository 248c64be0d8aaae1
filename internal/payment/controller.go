// Package payment manages invoice issuance, pre-checkout validation and
// idempotent settlement of Telegram Stars payments.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mood-bot/internal/metrics"
	"mood-bot/internal/repo"
	"mood-bot/internal/session"
	"mood-bot/internal/telegram"
	"mood-bot/pkg/texts"
)

// IntentStore is the persistence surface the controller needs.
type IntentStore interface {
	InsertPaymentIntent(ctx context.Context, intent repo.PaymentIntent) (*repo.PaymentIntent, error)
	MarkPreCheckoutApproved(ctx context.Context, payload string) (bool, error)
}

// CreditLedger settles a payment and grants its credit atomically.
// Nothing else in the payment flow touches balances.
type CreditLedger interface {
	SettleAndCredit(ctx context.Context, payload string, amount int64) (int64, bool, error)
}

// Transport is the subset of the platform API the controller uses.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup any) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendInvoice(ctx context.Context, chatID int64, title, description, payload, currency string, amount int) (int, error)
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error
}

// Config tunes the invoice parameters.
type Config struct {
	Currency     string
	InvoiceStars int
	CreditAmount int64
}

// Controller drives the per-intent state machine
// issued -> pre_checkout_approved -> settled.
type Controller struct {
	store   IntentStore
	ledger  CreditLedger
	tg      Transport
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
}

// New creates a payment controller.
func New(store IntentStore, creditLedger CreditLedger, tg Transport, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Controller {
	if cfg.Currency == "" {
		cfg.Currency = "XTR"
	}
	if cfg.InvoiceStars <= 0 {
		cfg.InvoiceStars = 1
	}
	if cfg.CreditAmount <= 0 {
		cfg.CreditAmount = 1
	}
	return &Controller{
		store:   store,
		ledger:  creditLedger,
		tg:      tg,
		logger:  logger.With("component", "payment"),
		metrics: m,
		cfg:     cfg,
	}
}

// newPayload builds the correlation token. Embedding the user id and a
// nanosecond timestamp keeps tokens unique across reissued invoices.
func newPayload(userID int64) string {
	return fmt.Sprintf("advice_credit_%d_%d", userID, time.Now().UnixNano())
}

// Issue creates an issued intent and sends the invoice plus the
// back-button message, recording both references in the session.
func (c *Controller) Issue(ctx context.Context, sess *session.Session, chatID int64) error {
	intent := repo.PaymentIntent{
		ID:      uuid.NewString(),
		UserID:  sess.UserID,
		Payload: newPayload(sess.UserID),
		Status:  repo.IntentIssued,
	}
	if _, err := c.store.InsertPaymentIntent(ctx, intent); err != nil {
		return fmt.Errorf("issue intent: %w", err)
	}

	invoiceID, err := c.tg.SendInvoice(ctx, chatID, texts.InvoiceTitle, texts.InvoiceDescription, intent.Payload, c.cfg.Currency, c.cfg.InvoiceStars)
	if err != nil {
		c.metrics.Errors.WithLabelValues("payment_invoice").Inc()
		c.logger.Error("invoice send failed", "error", err, "user", sess.UserID)
		if _, err := c.tg.SendMessage(ctx, chatID, texts.InvoiceFailed, nil); err != nil {
			c.logger.Warn("invoice failure notice undelivered", "error", err)
		}
		return nil
	}
	sess.InvoiceMessageID = invoiceID

	backID, err := c.tg.SendMessage(ctx, chatID, texts.BackFromInvoice, telegram.BackFromInvoiceKeyboard())
	if err != nil {
		c.logger.Warn("back message undelivered", "error", err)
	} else {
		sess.BackMessageID = backID
	}

	c.metrics.PaymentEvents.WithLabelValues("issued").Inc()
	c.logger.Info("invoice issued", "user", sess.UserID, "payload", intent.Payload)
	return nil
}

// HandlePreCheckout approves the query unconditionally (the provider
// mandates an answer either way) and advances a matching intent. An
// unknown payload is approved without any state change.
func (c *Controller) HandlePreCheckout(ctx context.Context, q telegram.PreCheckout) {
	if err := c.tg.AnswerPreCheckout(ctx, q.ID, true, ""); err != nil {
		c.metrics.Errors.WithLabelValues("payment_pre_checkout").Inc()
		c.logger.Error("pre-checkout answer failed", "error", err, "user", q.UserID)
	}

	advanced, err := c.store.MarkPreCheckoutApproved(ctx, q.Payload)
	if err != nil {
		c.metrics.Errors.WithLabelValues("payment_pre_checkout").Inc()
		c.logger.Error("pre-checkout state update failed", "error", err, "payload", q.Payload)
		return
	}
	if !advanced {
		c.logger.Warn("pre-checkout for unmatched intent", "payload", q.Payload, "user", q.UserID)
		return
	}
	c.metrics.PaymentEvents.WithLabelValues("pre_checkout_approved").Inc()
}

// HandleSuccess settles the intent and grants the credit exactly once.
// Settlement and credit are one storage transaction, so a failure here
// leaves the intent open for the provider's redelivery. A duplicate
// delivery finds the intent already settled and is a no-op. The caller
// holds the session lock.
func (c *Controller) HandleSuccess(ctx context.Context, sess *session.Session, p telegram.PaymentSuccess) error {
	userID, settled, err := c.ledger.SettleAndCredit(ctx, p.Payload, c.cfg.CreditAmount)
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}

	c.releaseUIRefs(ctx, sess, p.ChatID)
	if p.MessageID != 0 {
		c.deleteQuietly(ctx, p.ChatID, p.MessageID, "success notification")
	}

	if !settled {
		// Provider retry for an already settled intent.
		c.metrics.PaymentEvents.WithLabelValues("duplicate_success").Inc()
		c.logger.Warn("duplicate settlement absorbed", "payload", p.Payload, "user", p.UserID)
		return nil
	}

	c.metrics.PaymentEvents.WithLabelValues("settled").Inc()
	c.logger.Info("payment settled", "user", userID, "payload", p.Payload, "credited", c.cfg.CreditAmount)

	if _, err := c.tg.SendMessage(ctx, p.ChatID, texts.PaymentAccepted, telegram.AIAccessKeyboard()); err != nil {
		c.logger.Warn("settlement confirmation undelivered", "error", err, "user", p.UserID)
	}
	return nil
}

// Cancel discards the pending invoice UI without contacting the ledger.
// The caller holds the session lock.
func (c *Controller) Cancel(ctx context.Context, sess *session.Session, chatID int64) {
	c.releaseUIRefs(ctx, sess, chatID)
	c.metrics.PaymentEvents.WithLabelValues("cancelled").Inc()

	if _, err := c.tg.SendMessage(ctx, chatID, texts.MainMenu, telegram.MainMenuKeyboard()); err != nil {
		c.logger.Warn("main menu undelivered", "error", err, "user", sess.UserID)
	}
}

func (c *Controller) releaseUIRefs(ctx context.Context, sess *session.Session, chatID int64) {
	refs := []struct {
		id   int
		desc string
	}{
		{sess.InvoiceMessageID, "invoice"},
		{sess.BackMessageID, "back button"},
		{sess.PaymentRequestMessageID, "payment request"},
	}
	for _, ref := range refs {
		if ref.id != 0 {
			c.deleteQuietly(ctx, chatID, ref.id, ref.desc)
		}
	}
	sess.ClearPaymentRefs()
}

func (c *Controller) deleteQuietly(ctx context.Context, chatID int64, messageID int, desc string) {
	if err := c.tg.DeleteMessage(ctx, chatID, messageID); err != nil {
		c.logger.Debug("message already gone", "message_id", messageID, "slot", desc, "error", err)
	}
}
