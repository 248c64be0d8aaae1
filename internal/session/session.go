// Package session holds the volatile per-user conversation state and
// the per-user mutual exclusion scope serializing event handling.
package session

import "sync"

// State is the conversation FSM state tag.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingCredential State = "awaiting_credential"
	StateAwaitingMood       State = "awaiting_mood"
	StateAwaitingTrigger    State = "awaiting_trigger"
	StateAwaitingThought    State = "awaiting_thought"
)

// Session is a single user's transient dialogue record. It lives for
// the duration of one multi-turn dialogue and does not survive process
// restart. Fields are only touched between Acquire and Release.
type Session struct {
	mu sync.Mutex

	UserID int64
	State  State

	// Partially built mood entry, accumulated across turns.
	DraftMood    int
	DraftTrigger string

	// Live message references, one per UI slot.
	BotMessageID            int
	ErrorMessageID          int
	InvoiceMessageID        int
	BackMessageID           int
	PaymentRequestMessageID int
}

// ResetDialog clears the FSM state and the draft entry. Message
// references in the payment slots are left alone: an in-flight invoice
// outlives the dialogue that opened it.
func (s *Session) ResetDialog() {
	s.State = StateIdle
	s.DraftMood = 0
	s.DraftTrigger = ""
}

// ClearPaymentRefs drops the invoice-related message references.
func (s *Session) ClearPaymentRefs() {
	s.InvoiceMessageID = 0
	s.BackMessageID = 0
	s.PaymentRequestMessageID = 0
}

// Release unlocks the session, ending the event's critical section.
func (s *Session) Release() {
	s.mu.Unlock()
}

// Manager owns all live sessions. Events for different users proceed
// concurrently; Acquire serializes events for the same user.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[int64]*Session)}
}

// Acquire returns the user's session with its lock held. The caller
// must Release it when the event has been fully processed.
func (m *Manager) Acquire(userID int64) *Session {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		s = &Session{UserID: userID, State: StateIdle}
		m.sessions[userID] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	return s
}
