package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"mood-bot/internal/metrics"
	"mood-bot/internal/repo"
	"mood-bot/internal/session"
	"mood-bot/internal/telegram"
)

type fakeIntentStore struct {
	mu      sync.Mutex
	intents map[string]*repo.PaymentIntent
}

func newFakeIntentStore() *fakeIntentStore {
	return &fakeIntentStore{intents: make(map[string]*repo.PaymentIntent)}
}

func (s *fakeIntentStore) InsertPaymentIntent(ctx context.Context, intent repo.PaymentIntent) (*repo.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := intent
	s.intents[intent.Payload] = &stored
	return &stored, nil
}

func (s *fakeIntentStore) MarkPreCheckoutApproved(ctx context.Context, payload string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[payload]
	if !ok || intent.Status != repo.IntentIssued {
		return false, nil
	}
	intent.Status = repo.IntentPreCheckoutApproved
	return true, nil
}

// fakeCreditLedger settles against the shared intent store the way the real
// ledger does: status flip and credit stand or fall together.
type fakeCreditLedger struct {
	mu      sync.Mutex
	store   *fakeIntentStore
	credits []int64
	failErr error
}

func (l *fakeCreditLedger) SettleAndCredit(ctx context.Context, payload string, amount int64) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		err := l.failErr
		l.failErr = nil
		return 0, false, err
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	intent, ok := l.store.intents[payload]
	if !ok || intent.Status == repo.IntentSettled {
		return 0, false, nil
	}
	intent.Status = repo.IntentSettled
	l.credits = append(l.credits, amount)
	return intent.UserID, true, nil
}

type fakeTransport struct {
	mu           sync.Mutex
	nextID       int
	sent         []string
	deleted      []int
	invoiceErr   error
	invoices     []string
	preCheckouts []bool
}

func (t *fakeTransport) SendMessage(ctx context.Context, chatID int64, text string, markup any) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.sent = append(t.sent, text)
	return t.nextID, nil
}

func (t *fakeTransport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = append(t.deleted, messageID)
	return nil
}

func (t *fakeTransport) SendInvoice(ctx context.Context, chatID int64, title, description, payload, currency string, amount int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.invoiceErr != nil {
		return 0, t.invoiceErr
	}
	t.nextID++
	t.invoices = append(t.invoices, payload)
	return t.nextID, nil
}

func (t *fakeTransport) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.preCheckouts = append(t.preCheckouts, ok)
	return nil
}

func testController(store IntentStore, ledger CreditLedger, tg Transport) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, ledger, tg, logger, metrics.Registry("test"), Config{})
}

func TestPayloadFormat(t *testing.T) {
	payload := newPayload(99)
	if !strings.HasPrefix(payload, "advice_credit_99_") {
		t.Fatalf("unexpected payload format: %s", payload)
	}
	if payload == newPayload(99) {
		t.Fatal("payloads must be unique across calls")
	}
}

func TestIssueRecordsIntentAndMessageRefs(t *testing.T) {
	store := newFakeIntentStore()
	tg := &fakeTransport{}
	c := testController(store, &fakeCreditLedger{store: store}, tg)
	sess := &session.Session{UserID: 42}

	if err := c.Issue(context.Background(), sess, 100); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if len(tg.invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(tg.invoices))
	}
	if sess.InvoiceMessageID == 0 || sess.BackMessageID == 0 {
		t.Fatalf("message refs not recorded: invoice=%d back=%d", sess.InvoiceMessageID, sess.BackMessageID)
	}
	intent, ok := store.intents[tg.invoices[0]]
	if !ok {
		t.Fatal("intent not persisted under invoice payload")
	}
	if intent.Status != repo.IntentIssued {
		t.Fatalf("expected issued status, got %s", intent.Status)
	}
	if intent.UserID != 42 {
		t.Fatalf("expected user 42, got %d", intent.UserID)
	}
}

func TestIssueInvoiceFailureNotifiesUser(t *testing.T) {
	store := newFakeIntentStore()
	tg := &fakeTransport{invoiceErr: errors.New("provider down")}
	c := testController(store, &fakeCreditLedger{store: store}, tg)
	sess := &session.Session{UserID: 42}

	if err := c.Issue(context.Background(), sess, 100); err != nil {
		t.Fatalf("invoice failure should not surface as error: %v", err)
	}
	if sess.InvoiceMessageID != 0 {
		t.Fatal("invoice ref recorded despite send failure")
	}
	if len(tg.sent) != 1 {
		t.Fatalf("expected one failure notice, got %d messages", len(tg.sent))
	}
}

func TestHandleSuccessCreditsExactlyOnce(t *testing.T) {
	store := newFakeIntentStore()
	ledger := &fakeCreditLedger{store: store}
	tg := &fakeTransport{}
	c := testController(store, ledger, tg)
	sess := &session.Session{UserID: 42}

	if err := c.Issue(context.Background(), sess, 100); err != nil {
		t.Fatalf("issue: %v", err)
	}
	payload := tg.invoices[0]
	c.HandlePreCheckout(context.Background(), telegram.PreCheckout{ID: "q1", UserID: 42, Payload: payload})

	success := telegram.PaymentSuccess{UserID: 42, ChatID: 100, MessageID: 77, Payload: payload, Amount: 1, Currency: "XTR"}
	if err := c.HandleSuccess(context.Background(), sess, success); err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	// Provider redelivery of the same notification.
	if err := c.HandleSuccess(context.Background(), sess, success); err != nil {
		t.Fatalf("duplicate settlement: %v", err)
	}

	if len(ledger.credits) != 1 {
		t.Fatalf("expected exactly one credit, got %d", len(ledger.credits))
	}
	if store.intents[payload].Status != repo.IntentSettled {
		t.Fatalf("expected settled status, got %s", store.intents[payload].Status)
	}
}

func TestHandleSuccessFailureLeavesIntentOpenForRedelivery(t *testing.T) {
	store := newFakeIntentStore()
	ledger := &fakeCreditLedger{store: store, failErr: errors.New("storage down")}
	tg := &fakeTransport{}
	c := testController(store, ledger, tg)
	sess := &session.Session{UserID: 42}

	if err := c.Issue(context.Background(), sess, 100); err != nil {
		t.Fatalf("issue: %v", err)
	}
	payload := tg.invoices[0]

	success := telegram.PaymentSuccess{UserID: 42, ChatID: 100, Payload: payload, Amount: 1, Currency: "XTR"}
	if err := c.HandleSuccess(context.Background(), sess, success); err == nil {
		t.Fatal("settlement failure must surface as error")
	}
	if store.intents[payload].Status == repo.IntentSettled {
		t.Fatal("failed settlement must not leave the intent settled")
	}
	if len(ledger.credits) != 0 {
		t.Fatalf("failed settlement must not credit, got %d credits", len(ledger.credits))
	}

	// Provider redelivers the notification; this time it completes.
	if err := c.HandleSuccess(context.Background(), sess, success); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if store.intents[payload].Status != repo.IntentSettled {
		t.Fatalf("expected settled status after redelivery, got %s", store.intents[payload].Status)
	}
	if len(ledger.credits) != 1 {
		t.Fatalf("expected exactly one credit after redelivery, got %d", len(ledger.credits))
	}
}

func TestHandleSuccessSkippingPreCheckoutStillSettles(t *testing.T) {
	store := newFakeIntentStore()
	ledger := &fakeCreditLedger{store: store}
	tg := &fakeTransport{}
	c := testController(store, ledger, tg)
	sess := &session.Session{UserID: 42}

	if err := c.Issue(context.Background(), sess, 100); err != nil {
		t.Fatalf("issue: %v", err)
	}
	payload := tg.invoices[0]

	success := telegram.PaymentSuccess{UserID: 42, ChatID: 100, Payload: payload}
	if err := c.HandleSuccess(context.Background(), sess, success); err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if len(ledger.credits) != 1 {
		t.Fatalf("expected one credit, got %d", len(ledger.credits))
	}
}

func TestHandlePreCheckoutUnknownPayloadApprovedWithoutStateChange(t *testing.T) {
	store := newFakeIntentStore()
	tg := &fakeTransport{}
	c := testController(store, &fakeCreditLedger{store: store}, tg)

	c.HandlePreCheckout(context.Background(), telegram.PreCheckout{ID: "q1", UserID: 42, Payload: "advice_credit_42_000"})

	if len(tg.preCheckouts) != 1 || !tg.preCheckouts[0] {
		t.Fatalf("pre-checkout must be answered ok, got %v", tg.preCheckouts)
	}
	if len(store.intents) != 0 {
		t.Fatal("unknown payload must not create state")
	}
}

func TestCancelNeverTouchesLedger(t *testing.T) {
	store := newFakeIntentStore()
	ledger := &fakeCreditLedger{store: store}
	tg := &fakeTransport{}
	c := testController(store, ledger, tg)
	sess := &session.Session{UserID: 42}

	if err := c.Issue(context.Background(), sess, 100); err != nil {
		t.Fatalf("issue: %v", err)
	}
	invoiceID, backID := sess.InvoiceMessageID, sess.BackMessageID

	c.Cancel(context.Background(), sess, 100)

	if len(ledger.credits) != 0 {
		t.Fatal("cancel must not credit the ledger")
	}
	if sess.InvoiceMessageID != 0 || sess.BackMessageID != 0 {
		t.Fatal("payment refs not cleared on cancel")
	}
	deleted := map[int]bool{}
	for _, id := range tg.deleted {
		deleted[id] = true
	}
	if !deleted[invoiceID] || !deleted[backID] {
		t.Fatalf("invoice UI not removed, deleted=%v", tg.deleted)
	}
}
