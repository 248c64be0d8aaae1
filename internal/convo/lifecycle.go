package convo

import (
	"context"
	"log/slog"

	"mood-bot/internal/session"
)

// Messenger keeps the transcript reduced to the bot's current prompts.
// It tracks two independent slots per user, the main prompt and the
// error prompt, and supersedes a slot's occupant before emitting into
// it. Deletion is best-effort: a message already gone or undeletable is
// logged and forgotten, never retried, and never blocks the state
// transition that triggered the emission.
type Messenger struct {
	tg     Transport
	logger *slog.Logger
}

// NewMessenger creates a lifecycle manager over the transport.
func NewMessenger(tg Transport, logger *slog.Logger) *Messenger {
	return &Messenger{tg: tg, logger: logger.With("component", "lifecycle")}
}

// ReplacePrompt supersedes the main prompt slot with a new message.
func (m *Messenger) ReplacePrompt(ctx context.Context, sess *session.Session, chatID int64, text string, markup any) {
	m.dropSlot(ctx, chatID, &sess.BotMessageID, "prompt")

	id, err := m.tg.SendMessage(ctx, chatID, text, markup)
	if err != nil {
		m.logger.Error("prompt undelivered", "error", err, "user", sess.UserID)
		return
	}
	sess.BotMessageID = id
}

// EditPrompt rewrites the main prompt in place. Used for the credential
// re-prompt, where appending would leak the retry count into the
// transcript. Falls back to a fresh send when there is nothing to edit.
func (m *Messenger) EditPrompt(ctx context.Context, sess *session.Session, chatID int64, text string) {
	if sess.BotMessageID == 0 {
		m.ReplacePrompt(ctx, sess, chatID, text, nil)
		return
	}
	if err := m.tg.EditMessage(ctx, chatID, sess.BotMessageID, text); err != nil {
		m.logger.Warn("prompt edit failed", "error", err, "message_id", sess.BotMessageID)
	}
}

// ReplaceError supersedes the error prompt slot. The main prompt is
// left untouched, so a validation failure never destroys the question
// the user is answering.
func (m *Messenger) ReplaceError(ctx context.Context, sess *session.Session, chatID int64, text string, markup any) {
	m.dropSlot(ctx, chatID, &sess.ErrorMessageID, "error prompt")

	id, err := m.tg.SendMessage(ctx, chatID, text, markup)
	if err != nil {
		m.logger.Error("error prompt undelivered", "error", err, "user", sess.UserID)
		return
	}
	sess.ErrorMessageID = id
}

// ClearError removes a lingering error prompt, if any.
func (m *Messenger) ClearError(ctx context.Context, sess *session.Session, chatID int64) {
	m.dropSlot(ctx, chatID, &sess.ErrorMessageID, "error prompt")
}

// DropPrompt removes the main prompt without replacement.
func (m *Messenger) DropPrompt(ctx context.Context, sess *session.Session, chatID int64) {
	m.dropSlot(ctx, chatID, &sess.BotMessageID, "prompt")
}

// ConsumeUserMessage deletes the user's inbound message after the
// engine has read it.
func (m *Messenger) ConsumeUserMessage(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := m.tg.DeleteMessage(ctx, chatID, messageID); err != nil {
		m.logger.Debug("user message not deleted", "error", err, "message_id", messageID)
	}
}

func (m *Messenger) dropSlot(ctx context.Context, chatID int64, slot *int, desc string) {
	if *slot == 0 {
		return
	}
	if err := m.tg.DeleteMessage(ctx, chatID, *slot); err != nil {
		m.logger.Debug("stale message not deleted", "error", err, "message_id", *slot, "slot", desc)
	}
	*slot = 0
}
