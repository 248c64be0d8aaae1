// Package telegram wraps the Bot API transport: outbound primitives,
// invoice issuance and the long-poll update loop.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mood-bot/internal/metrics"
)

// IncomingMessage is a transport-neutral inbound text message.
type IncomingMessage struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Username  string
	FirstName string
	LastName  string
	Text      string
	Command   string
}

// Callback is an inline-button press.
type Callback struct {
	ID        string
	UserID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// PreCheckout is the provider's pre-checkout query.
type PreCheckout struct {
	ID      string
	UserID  int64
	Payload string
}

// PaymentSuccess is the provider's settlement notification.
type PaymentSuccess struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Payload   string
	Amount    int
	Currency  string
}

// Processor consumes inbound events. Each event is dispatched on its
// own goroutine; per-user ordering is the processor's concern.
type Processor interface {
	HandleMessage(ctx context.Context, msg IncomingMessage)
	HandleCallback(ctx context.Context, cb Callback)
	HandlePreCheckout(ctx context.Context, q PreCheckout)
	HandleSuccessfulPayment(ctx context.Context, p PaymentSuccess)
}

// Client wraps a tgbotapi.BotAPI with logging and metrics.
type Client struct {
	api       *tgbotapi.BotAPI
	logger    *slog.Logger
	metrics   *metrics.Metrics
	processor Processor
}

// New authorizes the bot against the Telegram API.
func New(token string, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}

	c := &Client{
		api:     api,
		logger:  logger.With("component", "telegram"),
		metrics: m,
	}
	c.logger.Info("authorized", "username", api.Self.UserName)
	return c, nil
}

// SetProcessor wires the inbound event consumer.
func (c *Client) SetProcessor(p Processor) {
	c.processor = p
}

// Run consumes the long-poll update channel until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go c.dispatch(ctx, update)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, update tgbotapi.Update) {
	if c.processor == nil {
		return
	}

	switch {
	case update.PreCheckoutQuery != nil:
		c.metrics.TGIncomingUpdates.WithLabelValues("pre_checkout").Inc()
		q := update.PreCheckoutQuery
		c.processor.HandlePreCheckout(ctx, PreCheckout{
			ID:      q.ID,
			UserID:  q.From.ID,
			Payload: q.InvoicePayload,
		})

	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		c.metrics.TGIncomingUpdates.WithLabelValues("payment_success").Inc()
		msg := update.Message
		c.processor.HandleSuccessfulPayment(ctx, PaymentSuccess{
			UserID:    msg.From.ID,
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			Payload:   msg.SuccessfulPayment.InvoicePayload,
			Amount:    msg.SuccessfulPayment.TotalAmount,
			Currency:  msg.SuccessfulPayment.Currency,
		})

	case update.CallbackQuery != nil:
		c.metrics.TGIncomingUpdates.WithLabelValues("callback").Inc()
		cb := update.CallbackQuery
		ev := Callback{ID: cb.ID, UserID: cb.From.ID, Data: cb.Data}
		if cb.Message != nil {
			ev.ChatID = cb.Message.Chat.ID
			ev.MessageID = cb.Message.MessageID
		}
		c.processor.HandleCallback(ctx, ev)

	case update.Message != nil:
		c.metrics.TGIncomingUpdates.WithLabelValues("message").Inc()
		msg := update.Message
		ev := IncomingMessage{
			UserID:    msg.From.ID,
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			Username:  msg.From.UserName,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
			Text:      msg.Text,
		}
		if msg.IsCommand() {
			ev.Command = msg.Command()
		}
		c.processor.HandleMessage(ctx, ev)
	}
}

// SendMessage sends text with an optional reply markup and returns the
// new message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup any) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup

	sent, err := c.api.Send(msg)
	if err != nil {
		c.metrics.TGOutgoingCalls.WithLabelValues("send", "error").Inc()
		return 0, fmt.Errorf("send message: %w", err)
	}
	c.metrics.TGOutgoingCalls.WithLabelValues("send", "ok").Inc()
	return sent.MessageID, nil
}

// EditMessage replaces the text of an existing message in place.
func (c *Client) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := c.api.Send(edit); err != nil {
		c.metrics.TGOutgoingCalls.WithLabelValues("edit", "error").Inc()
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}
	c.metrics.TGOutgoingCalls.WithLabelValues("edit", "ok").Inc()
	return nil
}

// DeleteMessage removes a message. Callers treat failure as best-effort.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	del := tgbotapi.NewDeleteMessage(chatID, messageID)
	if _, err := c.api.Request(del); err != nil {
		c.metrics.TGOutgoingCalls.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	c.metrics.TGOutgoingCalls.WithLabelValues("delete", "ok").Inc()
	return nil
}

// SendInvoice issues a Telegram Stars invoice and returns its message id.
func (c *Client) SendInvoice(ctx context.Context, chatID int64, title, description, payload, currency string, amount int) (int, error) {
	prices := []tgbotapi.LabeledPrice{{Label: currency, Amount: amount}}
	// Stars invoices carry an empty provider token.
	inv := tgbotapi.NewInvoice(chatID, title, description, payload, "", "", currency, prices)

	sent, err := c.api.Send(inv)
	if err != nil {
		c.metrics.TGOutgoingCalls.WithLabelValues("invoice", "error").Inc()
		return 0, fmt.Errorf("send invoice: %w", err)
	}
	c.metrics.TGOutgoingCalls.WithLabelValues("invoice", "ok").Inc()
	return sent.MessageID, nil
}

// AnswerPreCheckout acknowledges a pre-checkout query.
func (c *Client) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	cfg := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
		ErrorMessage:       errorMessage,
	}
	if _, err := c.api.Request(cfg); err != nil {
		c.metrics.TGOutgoingCalls.WithLabelValues("pre_checkout", "error").Inc()
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	c.metrics.TGOutgoingCalls.WithLabelValues("pre_checkout", "ok").Inc()
	return nil
}

// AnswerCallback clears the button spinner with an optional toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	if _, err := c.api.Request(cb); err != nil {
		c.metrics.TGOutgoingCalls.WithLabelValues("callback", "error").Inc()
		return fmt.Errorf("answer callback: %w", err)
	}
	c.metrics.TGOutgoingCalls.WithLabelValues("callback", "ok").Inc()
	return nil
}
