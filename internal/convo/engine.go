// Package convo implements the per-user finite-state conversation
// engine driving the mood-tracking dialogue.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"mood-bot/internal/metrics"
	"mood-bot/internal/repo"
	"mood-bot/internal/session"
	"mood-bot/internal/telegram"
	"mood-bot/pkg/texts"
)

const (
	minPasswordLen = 6
	minTriggerLen  = 2
)

// Transport is the subset of the platform API the engine and the
// lifecycle manager use directly.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup any) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// UserStore persists user identity and credentials.
type UserStore interface {
	UpsertUser(ctx context.Context, profile repo.UserProfile) (*repo.User, error)
	SetPasswordHash(ctx context.Context, tgID int64, hash string) error
}

// EntryStore persists and queries mood records.
type EntryStore interface {
	InsertMoodEntry(ctx context.Context, entry repo.MoodEntry) (*repo.MoodEntry, error)
	ListEntries(ctx context.Context, tgID int64, since time.Time) ([]repo.MoodEntry, error)
	LatestEntrySince(ctx context.Context, tgID int64, since time.Time) (*repo.MoodEntry, error)
}

// CreditLedger gates the paid advice feature.
type CreditLedger interface {
	GetBalance(ctx context.Context, tgID int64) (int64, error)
	TryDebit(ctx context.Context, tgID int64, amount int64) (bool, error)
}

// AdviceProvider is the opaque text-in/text-out advice backend.
type AdviceProvider interface {
	GenerateAdvice(ctx context.Context, moodScore int, triggerText, thoughtText string) (string, error)
}

// PaymentFlow is the payment controller surface the engine invokes.
type PaymentFlow interface {
	Issue(ctx context.Context, sess *session.Session, chatID int64) error
	HandlePreCheckout(ctx context.Context, q telegram.PreCheckout)
	HandleSuccess(ctx context.Context, sess *session.Session, p telegram.PaymentSuccess) error
	Cancel(ctx context.Context, sess *session.Session, chatID int64)
}

// EngineConfig tunes the lookback windows and the advice price.
type EngineConfig struct {
	AdviceWindow time.Duration
	ReportWindow time.Duration
	AdvicePrice  int64
}

// Engine routes inbound events through the per-user FSM. Events for
// the same user are serialized by the session lock; state transitions
// are the source of truth and survive transport failures.
type Engine struct {
	sessions *session.Manager
	users    UserStore
	entries  EntryStore
	ledger   CreditLedger
	advice   AdviceProvider
	payments PaymentFlow
	msgr     *Messenger
	tg       Transport
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      EngineConfig

	// Transition table for free-text replies, keyed by current state.
	// Commands and callbacks are routed separately.
	textHandlers map[session.State]textHandler
}

type textHandler func(ctx context.Context, sess *session.Session, msg telegram.IncomingMessage)

// New creates the conversation engine.
func New(sessions *session.Manager, users UserStore, entries EntryStore, ledger CreditLedger, adviceProvider AdviceProvider, payments PaymentFlow, tg Transport, logger *slog.Logger, m *metrics.Metrics, cfg EngineConfig) *Engine {
	if cfg.AdviceWindow <= 0 {
		cfg.AdviceWindow = 24 * time.Hour
	}
	if cfg.ReportWindow <= 0 {
		cfg.ReportWindow = 7 * 24 * time.Hour
	}
	if cfg.AdvicePrice <= 0 {
		cfg.AdvicePrice = 1
	}

	e := &Engine{
		sessions: sessions,
		users:    users,
		entries:  entries,
		ledger:   ledger,
		advice:   adviceProvider,
		payments: payments,
		msgr:     NewMessenger(tg, logger),
		tg:       tg,
		logger:   logger.With("component", "convo"),
		metrics:  m,
		cfg:      cfg,
	}
	e.textHandlers = map[session.State]textHandler{
		session.StateAwaitingCredential: e.onCredential,
		session.StateAwaitingMood:       e.onMood,
		session.StateAwaitingTrigger:    e.onTrigger,
		session.StateAwaitingThought:    e.onThought,
	}
	return e
}

func (e *Engine) transition(sess *session.Session, to session.State) {
	sess.State = to
	e.metrics.FSMTransitions.WithLabelValues(string(to)).Inc()
}

// HandleMessage processes an inbound text message or command.
func (e *Engine) HandleMessage(ctx context.Context, msg telegram.IncomingMessage) {
	sess := e.sessions.Acquire(msg.UserID)
	defer sess.Release()

	if msg.Command != "" {
		e.handleCommand(ctx, sess, msg)
		return
	}

	if handler, ok := e.textHandlers[sess.State]; ok {
		handler(ctx, sess, msg)
		return
	}

	// Free text outside a dialogue: consume it and reshow the menu.
	e.msgr.ConsumeUserMessage(ctx, msg.ChatID, msg.MessageID)
	e.msgr.ReplacePrompt(ctx, sess, msg.ChatID, texts.MainMenu, telegram.MainMenuKeyboard())
}

// handleCommand routes top-level commands. A command issued mid-dialogue
// abandons the current partial entry.
func (e *Engine) handleCommand(ctx context.Context, sess *session.Session, msg telegram.IncomingMessage) {
	e.msgr.ConsumeUserMessage(ctx, msg.ChatID, msg.MessageID)

	if sess.State != session.StateIdle {
		e.logger.Info("dialogue abandoned by command", "user", sess.UserID, "state", sess.State, "command", msg.Command)
		sess.ResetDialog()
	}

	switch msg.Command {
	case "start":
		e.startOnboarding(ctx, sess, msg)
	case "track":
		e.startTracking(ctx, sess, msg.ChatID)
	case "help":
		e.msgr.ReplacePrompt(ctx, sess, msg.ChatID, texts.Help, telegram.MainMenuKeyboard())
	case "report":
		e.runReport(ctx, sess, msg.ChatID)
	case "ai_advice":
		e.runAdvice(ctx, sess, msg.ChatID)
	case "donate":
		if err := e.payments.Issue(ctx, sess, msg.ChatID); err != nil {
			e.failTurn(ctx, sess, msg.ChatID, err, "issue invoice")
		}
	default:
		e.msgr.ReplacePrompt(ctx, sess, msg.ChatID, texts.UnknownAction, telegram.MainMenuKeyboard())
	}
}

// HandleCallback processes an inline-button press. The action set is
// closed; unknown data is acknowledged and dropped.
func (e *Engine) HandleCallback(ctx context.Context, cb telegram.Callback) {
	sess := e.sessions.Acquire(cb.UserID)
	defer sess.Release()

	action := ParseCallbackAction(cb.Data)
	switch action {
	case ActionTrack:
		e.ack(ctx, cb.ID, texts.AckTrack)
		e.msgr.ConsumeUserMessage(ctx, cb.ChatID, cb.MessageID)
		sess.ResetDialog()
		e.startTracking(ctx, sess, cb.ChatID)

	case ActionReport:
		e.ack(ctx, cb.ID, texts.AckReport)
		e.msgr.ConsumeUserMessage(ctx, cb.ChatID, cb.MessageID)
		e.runReport(ctx, sess, cb.ChatID)

	case ActionAIAdvice:
		e.ack(ctx, cb.ID, texts.AckAdvice)
		e.msgr.ConsumeUserMessage(ctx, cb.ChatID, cb.MessageID)
		e.runAdvice(ctx, sess, cb.ChatID)

	case ActionHelp:
		e.ack(ctx, cb.ID, texts.AckHelp)
		e.msgr.ConsumeUserMessage(ctx, cb.ChatID, cb.MessageID)
		e.msgr.ReplacePrompt(ctx, sess, cb.ChatID, texts.Help, telegram.MainMenuKeyboard())

	case ActionPay:
		e.ack(ctx, cb.ID, texts.AckPayment)
		e.msgr.ConsumeUserMessage(ctx, cb.ChatID, cb.MessageID)
		if sess.PaymentRequestMessageID == cb.MessageID {
			sess.PaymentRequestMessageID = 0
		}
		if err := e.payments.Issue(ctx, sess, cb.ChatID); err != nil {
			e.failTurn(ctx, sess, cb.ChatID, err, "issue invoice")
		}

	case ActionBackFromInvoice:
		e.ack(ctx, cb.ID, texts.AckBack)
		e.payments.Cancel(ctx, sess, cb.ChatID)

	case ActionBackToMenu:
		e.ack(ctx, cb.ID, texts.AckMenu)
		e.msgr.ConsumeUserMessage(ctx, cb.ChatID, cb.MessageID)
		e.msgr.ReplacePrompt(ctx, sess, cb.ChatID, texts.MainMenu, telegram.MainMenuKeyboard())

	case ActionUnknown:
		e.ack(ctx, cb.ID, texts.UnknownAction)
		e.logger.Warn("unknown callback action", "data", cb.Data, "user", cb.UserID)
	}
}

// HandlePreCheckout forwards the provider query to the payment flow.
// No per-user state is touched, so the session lock is not taken.
func (e *Engine) HandlePreCheckout(ctx context.Context, q telegram.PreCheckout) {
	e.payments.HandlePreCheckout(ctx, q)
}

// HandleSuccessfulPayment reconciles a settlement with in-flight state.
func (e *Engine) HandleSuccessfulPayment(ctx context.Context, p telegram.PaymentSuccess) {
	sess := e.sessions.Acquire(p.UserID)
	defer sess.Release()

	if err := e.payments.HandleSuccess(ctx, sess, p); err != nil {
		e.metrics.Errors.WithLabelValues("payment_success").Inc()
		e.logger.Error("settlement failed", "error", err, "user", p.UserID, "payload", p.Payload)
	}
}

// startOnboarding registers the user and asks for a credential.
func (e *Engine) startOnboarding(ctx context.Context, sess *session.Session, msg telegram.IncomingMessage) {
	profile := repo.UserProfile{TGID: msg.UserID, ChatID: msg.ChatID}
	if msg.Username != "" {
		profile.Username = &msg.Username
	}
	if _, err := e.users.UpsertUser(ctx, profile); err != nil {
		e.failTurn(ctx, sess, msg.ChatID, err, "register user")
		return
	}

	e.transition(sess, session.StateAwaitingCredential)
	e.msgr.ReplacePrompt(ctx, sess, msg.ChatID, texts.SetPassword, telegram.RemoveKeyboard())
}

// startTracking opens the three-step dialogue.
func (e *Engine) startTracking(ctx context.Context, sess *session.Session, chatID int64) {
	e.transition(sess, session.StateAwaitingMood)
	e.msgr.ReplacePrompt(ctx, sess, chatID, texts.MoodQuestion, telegram.MoodKeyboard())
}

// onCredential handles the onboarding password reply.
func (e *Engine) onCredential(ctx context.Context, sess *session.Session, msg telegram.IncomingMessage) {
	e.msgr.ConsumeUserMessage(ctx, msg.ChatID, msg.MessageID)

	password := strings.TrimSpace(msg.Text)
	if utf8.RuneCountInString(password) < minPasswordLen {
		// Re-prompt in place: the password prompt is edited, not stacked.
		e.msgr.EditPrompt(ctx, sess, msg.ChatID, texts.PasswordTooShort)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		e.failTurn(ctx, sess, msg.ChatID, err, "hash credential")
		return
	}
	if err := e.users.SetPasswordHash(ctx, sess.UserID, string(hash)); err != nil {
		e.failTurn(ctx, sess, msg.ChatID, err, "store credential")
		return
	}

	e.msgr.DropPrompt(ctx, sess, msg.ChatID)
	e.transition(sess, session.StateIdle)
	sess.ResetDialog()

	name := msg.FirstName
	if msg.LastName != "" {
		name = name + " " + msg.LastName
	}
	e.msgr.ReplacePrompt(ctx, sess, msg.ChatID, fmt.Sprintf(texts.Welcome, name), telegram.MainMenuKeyboard())
}

// onMood validates the 1..10 score reply.
func (e *Engine) onMood(ctx context.Context, sess *session.Session, msg telegram.IncomingMessage) {
	e.msgr.ConsumeUserMessage(ctx, msg.ChatID, msg.MessageID)

	score, err := strconv.Atoi(strings.TrimSpace(msg.Text))
	if err != nil || score < 1 || score > 10 {
		e.msgr.ReplaceError(ctx, sess, msg.ChatID, texts.MoodInvalid, telegram.MoodKeyboard())
		return
	}

	sess.DraftMood = score
	e.msgr.ClearError(ctx, sess, msg.ChatID)
	e.transition(sess, session.StateAwaitingTrigger)
	e.msgr.ReplacePrompt(ctx, sess, msg.ChatID, texts.TriggerQuestion, telegram.RemoveKeyboard())
}

// onTrigger validates the situation description.
func (e *Engine) onTrigger(ctx context.Context, sess *session.Session, msg telegram.IncomingMessage) {
	e.msgr.ConsumeUserMessage(ctx, msg.ChatID, msg.MessageID)

	trigger := strings.TrimSpace(msg.Text)
	if utf8.RuneCountInString(trigger) < minTriggerLen {
		e.msgr.ReplaceError(ctx, sess, msg.ChatID, texts.TriggerTooShort, nil)
		return
	}

	sess.DraftTrigger = trigger
	e.msgr.ClearError(ctx, sess, msg.ChatID)
	e.transition(sess, session.StateAwaitingThought)
	e.msgr.ReplacePrompt(ctx, sess, msg.ChatID, texts.ThoughtQuestion, nil)
}

// onThought persists the completed entry and closes the dialogue. The
// write precedes any transport call: a failed write is surfaced, never
// assumed to have succeeded.
func (e *Engine) onThought(ctx context.Context, sess *session.Session, msg telegram.IncomingMessage) {
	e.msgr.ConsumeUserMessage(ctx, msg.ChatID, msg.MessageID)

	thought := msg.Text
	entry := repo.MoodEntry{
		UserID:      sess.UserID,
		MoodScore:   sess.DraftMood,
		TriggerText: sess.DraftTrigger,
		ThoughtText: thought,
	}
	saved, err := e.entries.InsertMoodEntry(ctx, entry)
	if err != nil {
		e.failTurn(ctx, sess, msg.ChatID, err, "persist mood entry")
		return
	}

	e.logger.Info("mood entry saved", "user", sess.UserID, "entry", saved.ID, "score", saved.MoodScore)
	e.msgr.ClearError(ctx, sess, msg.ChatID)

	mood, trigger := sess.DraftMood, sess.DraftTrigger
	e.transition(sess, session.StateIdle)
	sess.ResetDialog()

	e.msgr.ReplacePrompt(ctx, sess, msg.ChatID,
		fmt.Sprintf(texts.EntrySaved, mood, trigger, thought),
		telegram.MainMenuKeyboard())
}

// runAdvice executes the credit-gated advice action. Balance precheck,
// then recent-entry lookup, then atomic debit, then provider call. A
// provider failure after the debit is not refunded; the entry write is
// independent of any of this.
func (e *Engine) runAdvice(ctx context.Context, sess *session.Session, chatID int64) {
	balance, err := e.ledger.GetBalance(ctx, sess.UserID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		e.failTurn(ctx, sess, chatID, err, "read balance")
		return
	}
	if balance < e.cfg.AdvicePrice {
		e.promptPayment(ctx, sess, chatID)
		return
	}

	entry, err := e.entries.LatestEntrySince(ctx, sess.UserID, time.Now().Add(-e.cfg.AdviceWindow))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.msgr.ReplacePrompt(ctx, sess, chatID, texts.NoRecentData, telegram.MainMenuKeyboard())
			return
		}
		e.failTurn(ctx, sess, chatID, err, "load recent entry")
		return
	}

	ok, err := e.ledger.TryDebit(ctx, sess.UserID, e.cfg.AdvicePrice)
	if err != nil {
		e.failTurn(ctx, sess, chatID, err, "debit advice credit")
		return
	}
	if !ok {
		// Lost the race for the last credit.
		e.promptPayment(ctx, sess, chatID)
		return
	}

	adviceText, err := e.advice.GenerateAdvice(ctx, entry.MoodScore, entry.TriggerText, entry.ThoughtText)
	if err != nil {
		// Debited credit is not refunded here; the fallback is final.
		e.metrics.Errors.WithLabelValues("advice_provider").Inc()
		e.logger.Error("advice generation failed", "error", err, "user", sess.UserID)
		e.msgr.ReplacePrompt(ctx, sess, chatID, texts.AdviceUnavailable, telegram.MainMenuKeyboard())
		return
	}

	formatted := fmt.Sprintf(texts.AdviceTemplate,
		time.Now().Format("02.01.2006 15:04"),
		entry.MoodScore, entry.TriggerText, entry.ThoughtText,
		adviceText)
	e.msgr.ReplacePrompt(ctx, sess, chatID, formatted, telegram.AIAccessKeyboard())
}

// runReport renders the 7-day textual summary.
func (e *Engine) runReport(ctx context.Context, sess *session.Session, chatID int64) {
	entries, err := e.entries.ListEntries(ctx, sess.UserID, time.Now().Add(-e.cfg.ReportWindow))
	if err != nil {
		e.failTurn(ctx, sess, chatID, err, "load report entries")
		return
	}
	if len(entries) == 0 {
		e.msgr.ReplacePrompt(ctx, sess, chatID, texts.NoWeeklyData, telegram.MainMenuKeyboard())
		return
	}

	count := len(entries)
	sum, minScore, maxScore := 0, entries[0].MoodScore, entries[0].MoodScore
	for _, en := range entries {
		sum += en.MoodScore
		if en.MoodScore < minScore {
			minScore = en.MoodScore
		}
		if en.MoodScore > maxScore {
			maxScore = en.MoodScore
		}
	}
	mean := float64(sum) / float64(count)

	report := fmt.Sprintf(texts.WeeklyReportHeader, count, mean, minScore, maxScore)
	e.msgr.ReplacePrompt(ctx, sess, chatID, report, telegram.MainMenuKeyboard())
}

// promptPayment supersedes any live top-up prompt with a fresh one and
// tracks it for later cleanup by the payment flow.
func (e *Engine) promptPayment(ctx context.Context, sess *session.Session, chatID int64) {
	e.msgr.dropSlot(ctx, chatID, &sess.PaymentRequestMessageID, "payment prompt")

	id, err := e.tg.SendMessage(ctx, chatID, texts.PaymentRequired, telegram.PaymentKeyboard())
	if err != nil {
		e.logger.Error("payment prompt undelivered", "error", err, "user", sess.UserID)
		return
	}
	sess.PaymentRequestMessageID = id
}

// failTurn aborts the current turn on a data-layer failure: the error
// is recorded and the user sees a generic failure, but the FSM state is
// left untouched so the turn can be retried.
func (e *Engine) failTurn(ctx context.Context, sess *session.Session, chatID int64, err error, op string) {
	e.metrics.Errors.WithLabelValues("convo").Inc()
	e.logger.Error("turn aborted", "op", op, "error", err, "user", sess.UserID, "state", sess.State)
	e.msgr.ReplaceError(ctx, sess, chatID, texts.GenericFailure, nil)
}

func (e *Engine) ack(ctx context.Context, callbackID, text string) {
	if err := e.tg.AnswerCallback(ctx, callbackID, text); err != nil {
		e.logger.Debug("callback ack failed", "error", err)
	}
}
