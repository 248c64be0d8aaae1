package session

import (
	"sync"
	"testing"
)

func TestAcquireReturnsSameSessionPerUser(t *testing.T) {
	m := NewManager()

	s1 := m.Acquire(1)
	s1.State = StateAwaitingMood
	s1.Release()

	s2 := m.Acquire(1)
	defer s2.Release()
	if s1 != s2 {
		t.Fatal("expected the same session instance")
	}
	if s2.State != StateAwaitingMood {
		t.Fatalf("state not retained, got %s", s2.State)
	}
}

func TestAcquireSerializesSameUser(t *testing.T) {
	m := NewManager()

	const workers = 20
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := m.Acquire(7)
			defer s.Release()
			counter++
			s.DraftMood = counter
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("lost updates under the session lock: %d", counter)
	}
}

func TestAcquireDistinctUsersIndependent(t *testing.T) {
	m := NewManager()

	s1 := m.Acquire(1)
	defer s1.Release()

	// Holding user 1 must not block user 2.
	done := make(chan struct{})
	go func() {
		s2 := m.Acquire(2)
		s2.Release()
		close(done)
	}()
	<-done
}

func TestResetDialogKeepsPaymentRefs(t *testing.T) {
	s := &Session{
		UserID:                  1,
		State:                   StateAwaitingThought,
		DraftMood:               5,
		DraftTrigger:            "что-то",
		InvoiceMessageID:        10,
		BackMessageID:           11,
		PaymentRequestMessageID: 12,
	}

	s.ResetDialog()

	if s.State != StateIdle || s.DraftMood != 0 || s.DraftTrigger != "" {
		t.Fatalf("dialogue state not reset: %+v", s)
	}
	if s.InvoiceMessageID != 10 || s.BackMessageID != 11 || s.PaymentRequestMessageID != 12 {
		t.Fatal("payment refs must survive a dialogue reset")
	}

	s.ClearPaymentRefs()
	if s.InvoiceMessageID != 0 || s.BackMessageID != 0 || s.PaymentRequestMessageID != 0 {
		t.Fatal("payment refs not cleared")
	}
}
