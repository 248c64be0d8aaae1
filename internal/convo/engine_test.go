package convo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mood-bot/internal/metrics"
	"mood-bot/internal/repo"
	"mood-bot/internal/session"
	"mood-bot/internal/telegram"
	"mood-bot/pkg/texts"
)

type sentMessage struct {
	chatID int64
	text   string
	markup any
}

type fakeTransport struct {
	nextID  int
	sent    []sentMessage
	edits   []string
	deleted []int
}

func (t *fakeTransport) SendMessage(ctx context.Context, chatID int64, text string, markup any) (int, error) {
	t.nextID++
	t.sent = append(t.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	return t.nextID, nil
}

func (t *fakeTransport) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	t.edits = append(t.edits, text)
	return nil
}

func (t *fakeTransport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	t.deleted = append(t.deleted, messageID)
	return nil
}

func (t *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (t *fakeTransport) lastText(tb testing.TB) string {
	tb.Helper()
	if len(t.sent) == 0 {
		tb.Fatal("no messages sent")
	}
	return t.sent[len(t.sent)-1].text
}

type fakeUserStore struct {
	upserted []repo.UserProfile
	hashes   map[int64]string
	hashErr  error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{hashes: make(map[int64]string)}
}

func (s *fakeUserStore) UpsertUser(ctx context.Context, profile repo.UserProfile) (*repo.User, error) {
	s.upserted = append(s.upserted, profile)
	return &repo.User{TGID: profile.TGID, ChatID: profile.ChatID}, nil
}

func (s *fakeUserStore) SetPasswordHash(ctx context.Context, tgID int64, hash string) error {
	if s.hashErr != nil {
		return s.hashErr
	}
	s.hashes[tgID] = hash
	return nil
}

type fakeEntryStore struct {
	entries   []repo.MoodEntry
	insertErr error
	nextID    int64
}

func (s *fakeEntryStore) InsertMoodEntry(ctx context.Context, entry repo.MoodEntry) (*repo.MoodEntry, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.nextID++
	entry.ID = s.nextID
	entry.CreatedAt = time.Now().UTC()
	s.entries = append(s.entries, entry)
	return &entry, nil
}

func (s *fakeEntryStore) ListEntries(ctx context.Context, tgID int64, since time.Time) ([]repo.MoodEntry, error) {
	var out []repo.MoodEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.UserID == tgID && e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeEntryStore) LatestEntrySince(ctx context.Context, tgID int64, since time.Time) (*repo.MoodEntry, error) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.UserID == tgID && e.CreatedAt.After(since) {
			return &e, nil
		}
	}
	return nil, repo.ErrNotFound
}

type fakeLedger struct {
	balances map[int64]int64
	debits   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[int64]int64)}
}

func (l *fakeLedger) GetBalance(ctx context.Context, tgID int64) (int64, error) {
	return l.balances[tgID], nil
}

func (l *fakeLedger) TryDebit(ctx context.Context, tgID int64, amount int64) (bool, error) {
	l.debits++
	if l.balances[tgID] < amount {
		return false, nil
	}
	l.balances[tgID] -= amount
	return true, nil
}

type fakeAdvice struct {
	calls int
	text  string
	err   error
}

func (a *fakeAdvice) GenerateAdvice(ctx context.Context, moodScore int, triggerText, thoughtText string) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return a.text, nil
}

type fakePayments struct {
	issued     int
	cancels    int
	successes  int
	precheckos int
}

func (p *fakePayments) Issue(ctx context.Context, sess *session.Session, chatID int64) error {
	p.issued++
	return nil
}

func (p *fakePayments) HandlePreCheckout(ctx context.Context, q telegram.PreCheckout) {
	p.precheckos++
}

func (p *fakePayments) HandleSuccess(ctx context.Context, sess *session.Session, pay telegram.PaymentSuccess) error {
	p.successes++
	return nil
}

func (p *fakePayments) Cancel(ctx context.Context, sess *session.Session, chatID int64) {
	p.cancels++
}

type engineFixture struct {
	engine   *Engine
	sessions *session.Manager
	tg       *fakeTransport
	users    *fakeUserStore
	entries  *fakeEntryStore
	ledger   *fakeLedger
	advice   *fakeAdvice
	payments *fakePayments
}

func newFixture() *engineFixture {
	f := &engineFixture{
		sessions: session.NewManager(),
		tg:       &fakeTransport{},
		users:    newFakeUserStore(),
		entries:  &fakeEntryStore{},
		ledger:   newFakeLedger(),
		advice:   &fakeAdvice{text: "Дышите глубже."},
		payments: &fakePayments{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = New(f.sessions, f.users, f.entries, f.ledger, f.advice, f.payments, f.tg, logger, metrics.Registry("test"), EngineConfig{})
	return f
}

func (f *engineFixture) state(userID int64) session.State {
	sess := f.sessions.Acquire(userID)
	defer sess.Release()
	return sess.State
}

func (f *engineFixture) message(userID int64, text string) telegram.IncomingMessage {
	return telegram.IncomingMessage{UserID: userID, ChatID: userID, MessageID: 1000, Text: text}
}

func (f *engineFixture) command(userID int64, cmd string) telegram.IncomingMessage {
	msg := f.message(userID, "/"+cmd)
	msg.Command = cmd
	return msg
}

func TestFullTrackingDialogue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "track"))
	if got := f.state(42); got != session.StateAwaitingMood {
		t.Fatalf("after /track expected awaiting_mood, got %s", got)
	}
	if f.tg.lastText(t) != texts.MoodQuestion {
		t.Fatalf("expected mood question, got %q", f.tg.lastText(t))
	}

	f.engine.HandleMessage(ctx, f.message(42, "7"))
	if got := f.state(42); got != session.StateAwaitingTrigger {
		t.Fatalf("after mood expected awaiting_trigger, got %s", got)
	}

	f.engine.HandleMessage(ctx, f.message(42, "Затянувшийся звонок"))
	if got := f.state(42); got != session.StateAwaitingThought {
		t.Fatalf("after trigger expected awaiting_thought, got %s", got)
	}

	f.engine.HandleMessage(ctx, f.message(42, "Нужно выдохнуть"))
	if got := f.state(42); got != session.StateIdle {
		t.Fatalf("after thought expected idle, got %s", got)
	}

	if len(f.entries.entries) != 1 {
		t.Fatalf("expected exactly one persisted entry, got %d", len(f.entries.entries))
	}
	saved := f.entries.entries[0]
	if saved.UserID != 42 || saved.MoodScore != 7 || saved.TriggerText != "Затянувшийся звонок" || saved.ThoughtText != "Нужно выдохнуть" {
		t.Fatalf("entry mismatch: %+v", saved)
	}
	if !strings.Contains(f.tg.lastText(t), "7/10") {
		t.Fatalf("confirmation missing score: %q", f.tg.lastText(t))
	}
}

func TestMoodValidationBounds(t *testing.T) {
	for _, input := range []string{"0", "11", "-3", "abc", ""} {
		t.Run(input, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()

			f.engine.HandleMessage(ctx, f.command(42, "track"))
			f.engine.HandleMessage(ctx, f.message(42, input))

			if got := f.state(42); got != session.StateAwaitingMood {
				t.Fatalf("invalid mood %q must keep awaiting_mood, got %s", input, got)
			}
			if f.tg.lastText(t) != texts.MoodInvalid {
				t.Fatalf("expected validation message, got %q", f.tg.lastText(t))
			}
		})
	}
}

func TestMoodFullRangeAccepted(t *testing.T) {
	for score := 1; score <= 10; score++ {
		input := strconv.Itoa(score)
		t.Run(input, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()

			f.engine.HandleMessage(ctx, f.command(42, "track"))
			f.engine.HandleMessage(ctx, f.message(42, input))

			sess := f.sessions.Acquire(42)
			defer sess.Release()
			if sess.State != session.StateAwaitingTrigger {
				t.Fatalf("mood %q must advance to awaiting_trigger, got %s", input, sess.State)
			}
			if sess.DraftMood != score {
				t.Fatalf("draft mood %d, want %d", sess.DraftMood, score)
			}
		})
	}
}

func TestRepeatedInvalidMoodKeepsSingleErrorPrompt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "track"))
	f.engine.HandleMessage(ctx, f.message(42, "abc"))

	sess := f.sessions.Acquire(42)
	firstErrID := sess.ErrorMessageID
	sess.Release()
	if firstErrID == 0 {
		t.Fatal("error prompt not recorded")
	}

	f.engine.HandleMessage(ctx, f.message(42, "xyz"))

	sess = f.sessions.Acquire(42)
	secondErrID := sess.ErrorMessageID
	sess.Release()
	if secondErrID == firstErrID {
		t.Fatal("stale error prompt not superseded")
	}

	deleted := map[int]bool{}
	for _, id := range f.tg.deleted {
		deleted[id] = true
	}
	if !deleted[firstErrID] {
		t.Fatalf("first error prompt %d not deleted", firstErrID)
	}
}

func TestValidMoodClearsErrorPrompt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "track"))
	f.engine.HandleMessage(ctx, f.message(42, "abc"))

	sess := f.sessions.Acquire(42)
	errID := sess.ErrorMessageID
	sess.Release()

	f.engine.HandleMessage(ctx, f.message(42, "5"))

	sess = f.sessions.Acquire(42)
	defer sess.Release()
	if sess.ErrorMessageID != 0 {
		t.Fatal("error ref not cleared after valid input")
	}
	deleted := map[int]bool{}
	for _, id := range f.tg.deleted {
		deleted[id] = true
	}
	if !deleted[errID] {
		t.Fatalf("error prompt %d not deleted on recovery", errID)
	}
}

func TestTriggerTooShortRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "track"))
	f.engine.HandleMessage(ctx, f.message(42, "5"))
	f.engine.HandleMessage(ctx, f.message(42, "а"))

	if got := f.state(42); got != session.StateAwaitingTrigger {
		t.Fatalf("short trigger must keep awaiting_trigger, got %s", got)
	}
	if f.tg.lastText(t) != texts.TriggerTooShort {
		t.Fatalf("expected trigger validation message, got %q", f.tg.lastText(t))
	}
}

func TestCommandAbandonsDraft(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "track"))
	f.engine.HandleMessage(ctx, f.message(42, "8"))
	f.engine.HandleMessage(ctx, f.command(42, "help"))

	sess := f.sessions.Acquire(42)
	defer sess.Release()
	if sess.State != session.StateIdle {
		t.Fatalf("command must reset the dialogue, got %s", sess.State)
	}
	if sess.DraftMood != 0 || sess.DraftTrigger != "" {
		t.Fatalf("draft not discarded: mood=%d trigger=%q", sess.DraftMood, sess.DraftTrigger)
	}
	if len(f.entries.entries) != 0 {
		t.Fatal("abandoned draft must not be persisted")
	}
}

func TestPersistFailureKeepsState(t *testing.T) {
	f := newFixture()
	f.entries.insertErr = errors.New("db down")
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "track"))
	f.engine.HandleMessage(ctx, f.message(42, "5"))
	f.engine.HandleMessage(ctx, f.message(42, "Сорванный дедлайн"))
	f.engine.HandleMessage(ctx, f.message(42, "Всё плохо"))

	if got := f.state(42); got != session.StateAwaitingThought {
		t.Fatalf("failed write must keep awaiting_thought for retry, got %s", got)
	}
	if f.tg.lastText(t) != texts.GenericFailure {
		t.Fatalf("expected generic failure message, got %q", f.tg.lastText(t))
	}

	// Retry succeeds once the store recovers.
	f.entries.insertErr = nil
	f.engine.HandleMessage(ctx, f.message(42, "Всё плохо"))
	if got := f.state(42); got != session.StateIdle {
		t.Fatalf("retry must complete the dialogue, got %s", got)
	}
	if len(f.entries.entries) != 1 {
		t.Fatalf("expected one entry after retry, got %d", len(f.entries.entries))
	}
}

func TestOnboardingCredentialFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	start := f.command(42, "start")
	start.Username = "anna"
	start.FirstName = "Анна"
	f.engine.HandleMessage(ctx, start)

	if len(f.users.upserted) != 1 {
		t.Fatalf("expected one upsert, got %d", len(f.users.upserted))
	}
	if got := f.state(42); got != session.StateAwaitingCredential {
		t.Fatalf("expected awaiting_credential, got %s", got)
	}

	f.engine.HandleMessage(ctx, f.message(42, "short"))
	if got := f.state(42); got != session.StateAwaitingCredential {
		t.Fatalf("short password must keep awaiting_credential, got %s", got)
	}
	if len(f.tg.edits) == 0 || f.tg.edits[len(f.tg.edits)-1] != texts.PasswordTooShort {
		t.Fatalf("re-prompt must edit in place, edits=%v", f.tg.edits)
	}

	credential := f.message(42, "пароль123")
	credential.FirstName = "Анна"
	f.engine.HandleMessage(ctx, credential)
	if got := f.state(42); got != session.StateIdle {
		t.Fatalf("expected idle after credential, got %s", got)
	}

	hash, ok := f.users.hashes[42]
	if !ok {
		t.Fatal("credential hash not stored")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("пароль123")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
	if !strings.Contains(f.tg.lastText(t), "Анна") {
		t.Fatalf("welcome missing name: %q", f.tg.lastText(t))
	}
}

func TestAdviceWithoutBalancePromptsPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "ai_advice"))

	if f.advice.calls != 0 {
		t.Fatal("provider must not be called without balance")
	}
	if f.ledger.debits != 0 {
		t.Fatal("balance must not be debited without funds")
	}
	if f.tg.lastText(t) != texts.PaymentRequired {
		t.Fatalf("expected payment prompt, got %q", f.tg.lastText(t))
	}

	sess := f.sessions.Acquire(42)
	defer sess.Release()
	if sess.PaymentRequestMessageID == 0 {
		t.Fatal("payment prompt ref not recorded")
	}
}

func TestRepeatedAdviceKeepsSinglePaymentPrompt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "ai_advice"))

	sess := f.sessions.Acquire(42)
	firstPromptID := sess.PaymentRequestMessageID
	sess.Release()
	if firstPromptID == 0 {
		t.Fatal("payment prompt ref not recorded")
	}

	f.engine.HandleMessage(ctx, f.command(42, "ai_advice"))

	sess = f.sessions.Acquire(42)
	secondPromptID := sess.PaymentRequestMessageID
	sess.Release()
	if secondPromptID == firstPromptID {
		t.Fatal("stale payment prompt not superseded")
	}

	deleted := map[int]bool{}
	for _, id := range f.tg.deleted {
		deleted[id] = true
	}
	if !deleted[firstPromptID] {
		t.Fatalf("first payment prompt %d not deleted", firstPromptID)
	}
}

func TestAdviceWithoutRecentEntrySkipsDebit(t *testing.T) {
	f := newFixture()
	f.ledger.balances[42] = 1
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "ai_advice"))

	if f.ledger.debits != 0 {
		t.Fatal("no recent entry must mean no debit")
	}
	if f.advice.calls != 0 {
		t.Fatal("provider must not be called without a recent entry")
	}
	if f.tg.lastText(t) != texts.NoRecentData {
		t.Fatalf("expected no-recent-data message, got %q", f.tg.lastText(t))
	}
	if f.ledger.balances[42] != 1 {
		t.Fatalf("balance mutated: %d", f.ledger.balances[42])
	}
}

func TestAdviceHappyPathDebitsOnce(t *testing.T) {
	f := newFixture()
	f.ledger.balances[42] = 2
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "track"))
	f.engine.HandleMessage(ctx, f.message(42, "3"))
	f.engine.HandleMessage(ctx, f.message(42, "Трудный день"))
	f.engine.HandleMessage(ctx, f.message(42, "Хочу отдохнуть"))

	f.engine.HandleMessage(ctx, f.command(42, "ai_advice"))

	if f.advice.calls != 1 {
		t.Fatalf("expected one provider call, got %d", f.advice.calls)
	}
	if f.ledger.balances[42] != 1 {
		t.Fatalf("expected balance 1 after debit, got %d", f.ledger.balances[42])
	}
	last := f.tg.lastText(t)
	if !strings.Contains(last, "Дышите глубже.") || !strings.Contains(last, "Трудный день") {
		t.Fatalf("advice reply incomplete: %q", last)
	}
}

func TestAdviceProviderFailureNotRefunded(t *testing.T) {
	f := newFixture()
	f.ledger.balances[42] = 1
	f.advice.err = errors.New("upstream 500")
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "track"))
	f.engine.HandleMessage(ctx, f.message(42, "4"))
	f.engine.HandleMessage(ctx, f.message(42, "Ссора"))
	f.engine.HandleMessage(ctx, f.message(42, "Обидно"))

	f.engine.HandleMessage(ctx, f.command(42, "ai_advice"))

	if f.tg.lastText(t) != texts.AdviceUnavailable {
		t.Fatalf("expected fallback message, got %q", f.tg.lastText(t))
	}
	if f.ledger.balances[42] != 0 {
		t.Fatalf("failed advice is not refunded, balance=%d", f.ledger.balances[42])
	}
}

func TestWeeklyReport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, tc := range []struct{ mood, rest string }{
		{"4", "Понедельник"},
		{"8", "Пятница"},
	} {
		f.engine.HandleMessage(ctx, f.command(42, "track"))
		f.engine.HandleMessage(ctx, f.message(42, tc.mood))
		f.engine.HandleMessage(ctx, f.message(42, tc.rest))
		f.engine.HandleMessage(ctx, f.message(42, "Мысль"))
	}

	f.engine.HandleMessage(ctx, f.command(42, "report"))

	last := f.tg.lastText(t)
	if !strings.Contains(last, "Записей: 2") {
		t.Fatalf("report missing count: %q", last)
	}
	if !strings.Contains(last, "6.00") {
		t.Fatalf("report missing mean: %q", last)
	}
	if !strings.Contains(last, "4 – 8") {
		t.Fatalf("report missing range: %q", last)
	}
}

func TestWeeklyReportEmpty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "report"))

	if f.tg.lastText(t) != texts.NoWeeklyData {
		t.Fatalf("expected empty-report message, got %q", f.tg.lastText(t))
	}
}

func TestPromptSuperseded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.command(42, "help"))
	sess := f.sessions.Acquire(42)
	firstPrompt := sess.BotMessageID
	sess.Release()

	f.engine.HandleMessage(ctx, f.command(42, "help"))
	sess = f.sessions.Acquire(42)
	secondPrompt := sess.BotMessageID
	sess.Release()

	if firstPrompt == 0 || secondPrompt == 0 || firstPrompt == secondPrompt {
		t.Fatalf("prompt not replaced: first=%d second=%d", firstPrompt, secondPrompt)
	}
	deleted := map[int]bool{}
	for _, id := range f.tg.deleted {
		deleted[id] = true
	}
	if !deleted[firstPrompt] {
		t.Fatalf("stale prompt %d not deleted", firstPrompt)
	}
}

func TestCallbackRouting(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleCallback(ctx, telegram.Callback{ID: "cb1", UserID: 42, ChatID: 42, Data: telegram.CallbackTrack})
	if got := f.state(42); got != session.StateAwaitingMood {
		t.Fatalf("track button must open the dialogue, got %s", got)
	}

	f.engine.HandleCallback(ctx, telegram.Callback{ID: "cb2", UserID: 42, ChatID: 42, Data: telegram.CallbackPay})
	if f.payments.issued != 1 {
		t.Fatalf("pay button must issue an invoice, issued=%d", f.payments.issued)
	}

	f.engine.HandleCallback(ctx, telegram.Callback{ID: "cb3", UserID: 42, ChatID: 42, Data: telegram.CallbackBackFromInvoice})
	if f.payments.cancels != 1 {
		t.Fatalf("back button must cancel the invoice, cancels=%d", f.payments.cancels)
	}

	before := len(f.tg.sent)
	f.engine.HandleCallback(ctx, telegram.Callback{ID: "cb4", UserID: 42, ChatID: 42, Data: "bogus"})
	if len(f.tg.sent) != before {
		t.Fatal("unknown callback must not emit messages")
	}
}

func TestIdleFreeTextShowsMenu(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.engine.HandleMessage(ctx, f.message(42, "привет"))

	if f.tg.lastText(t) != texts.MainMenu {
		t.Fatalf("expected main menu, got %q", f.tg.lastText(t))
	}
	if got := f.state(42); got != session.StateIdle {
		t.Fatalf("free text must not change state, got %s", got)
	}
}
