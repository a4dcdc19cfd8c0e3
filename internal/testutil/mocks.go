package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devaloi/pokersync/internal/domain"
	"github.com/devaloi/pokersync/internal/store"
)

// MockClient implements hub.Client for testing.
type MockClient struct {
	Handle   string
	messages [][]byte
	mu       sync.Mutex
}

// NewMockClient creates a new MockClient with the given connection handle.
func NewMockClient(handle string) *MockClient {
	return &MockClient{Handle: handle}
}

// ID returns the mock client's connection handle.
func (m *MockClient) ID() string { return m.Handle }

// Send records a message sent to the mock client.
func (m *MockClient) Send(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.messages = append(m.messages, cp)
}

// GetMessages returns a copy of all messages received by the mock client.
func (m *MockClient) GetMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]byte, len(m.messages))
	copy(cp, m.messages)
	return cp
}

// MessagesOfType decodes every received message whose type field equals typ.
func (m *MockClient) MessagesOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, raw := range m.GetMessages() {
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg["type"] == typ {
			out = append(out, msg)
		}
	}
	return out
}

// Last returns the most recent message of type typ, or nil.
func (m *MockClient) Last(typ string) map[string]any {
	msgs := m.MessagesOfType(typ)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// Reset forgets every received message.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// Call is one recorded SessionRecorder call.
type Call struct {
	Op            string
	SessionID     string
	RoomID        string
	ParticipantID string
	Card          domain.CardValue
}

// MockRecorder implements hub.SessionRecorder by recording every call.
type MockRecorder struct {
	mu    sync.Mutex
	calls []Call
}

// NewMockRecorder creates a new MockRecorder.
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{}
}

func (r *MockRecorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// CreateSession records a create call.
func (r *MockRecorder) CreateSession(s domain.Session) {
	r.record(Call{Op: "create", SessionID: s.ID, RoomID: s.RoomID})
}

// AddEstimation records an add call.
func (r *MockRecorder) AddEstimation(sessionID, participantID string, card domain.CardValue, _ time.Time) {
	r.record(Call{Op: "add", SessionID: sessionID, ParticipantID: participantID, Card: card})
}

// RemoveEstimation records a remove call.
func (r *MockRecorder) RemoveEstimation(sessionID, participantID string) {
	r.record(Call{Op: "remove", SessionID: sessionID, ParticipantID: participantID})
}

// RevealEstimations records a reveal call.
func (r *MockRecorder) RevealEstimations(sessionID string, _ time.Time) {
	r.record(Call{Op: "reveal", SessionID: sessionID})
}

// ResetSession records a reset call.
func (r *MockRecorder) ResetSession(sessionID, resetBy string, _ time.Time) {
	r.record(Call{Op: "reset", SessionID: sessionID, ParticipantID: resetBy})
}

// CompleteSession records a complete call.
func (r *MockRecorder) CompleteSession(sessionID string, final domain.CardValue, _ time.Time) {
	r.record(Call{Op: "complete", SessionID: sessionID, Card: final})
}

// Calls returns a copy of the recorded calls.
func (r *MockRecorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Call, len(r.calls))
	copy(cp, r.calls)
	return cp
}

// Ops returns the recorded operation names in order.
func (r *MockRecorder) Ops() []string {
	calls := r.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// ErrMockUnavailable is the transient error MockStore returns while failing.
var ErrMockUnavailable = errors.New("mock store unavailable")

// MockStore implements store.Store in memory for testing. It can be told to
// fail a number of calls with a transient error first.
type MockStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	ops      []string
	failures int
	attempts int
	delay    time.Duration
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{sessions: make(map[string]*domain.Session)}
}

// FailNext makes the next n calls return ErrMockUnavailable.
func (s *MockStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// SetDelay makes every write call sleep for d before applying.
func (s *MockStore) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Ops returns the successfully applied write operations in order, formatted
// as "op:sessionID".
func (s *MockStore) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(s.ops))
	copy(cp, s.ops)
	return cp
}

// Attempts returns how many write calls were made, failed ones included.
func (s *MockStore) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *MockStore) write(op, sessionID string, fn func() error) error {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return ErrMockUnavailable
	}
	if err := fn(); err != nil {
		return err
	}
	s.ops = append(s.ops, op+":"+sessionID)
	return nil
}

func (s *MockStore) get(sessionID string) (*domain.Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrSessionNotFound)
	}
	return sess, nil
}

// CreateSession stores the session unless it exists.
func (s *MockStore) CreateSession(_ context.Context, sess domain.Session) error {
	return s.write("create", sess.ID, func() error {
		if _, ok := s.sessions[sess.ID]; ok {
			return nil
		}
		cp := sess
		cp.Status = domain.SessionActive
		s.sessions[sess.ID] = &cp
		return nil
	})
}

// AddEstimation upserts an estimation.
func (s *MockStore) AddEstimation(_ context.Context, sessionID, participantID string, card domain.CardValue, at time.Time) error {
	return s.write("add", sessionID, func() error {
		sess, err := s.get(sessionID)
		if err != nil {
			return err
		}
		if sess.Status != domain.SessionActive {
			return store.ErrInvalidTransition
		}
		for i, e := range sess.Estimations {
			if e.ParticipantID == participantID {
				sess.Estimations[i].CardValue = card
				sess.Estimations[i].EstimatedAt = at
				return nil
			}
		}
		sess.Estimations = append(sess.Estimations, domain.Estimation{ParticipantID: participantID, CardValue: card, EstimatedAt: at})
		return nil
	})
}

// RemoveEstimation deletes an estimation.
func (s *MockStore) RemoveEstimation(_ context.Context, sessionID, participantID string) error {
	return s.write("remove", sessionID, func() error {
		sess, err := s.get(sessionID)
		if err != nil {
			return err
		}
		kept := sess.Estimations[:0]
		for _, e := range sess.Estimations {
			if e.ParticipantID != participantID {
				kept = append(kept, e)
			}
		}
		sess.Estimations = kept
		return nil
	})
}

// RevealEstimations marks the session revealed.
func (s *MockStore) RevealEstimations(_ context.Context, sessionID string, at time.Time) error {
	return s.write("reveal", sessionID, func() error {
		sess, err := s.get(sessionID)
		if err != nil {
			return err
		}
		if sess.Status != domain.SessionActive {
			return store.ErrInvalidTransition
		}
		sess.Status = domain.SessionRevealed
		sess.RevealedAt = &at
		return nil
	})
}

// ResetSession clears estimations and reactivates the session.
func (s *MockStore) ResetSession(_ context.Context, sessionID, resetBy string, at time.Time) error {
	return s.write("reset", sessionID, func() error {
		sess, err := s.get(sessionID)
		if err != nil {
			return err
		}
		sess.Estimations = nil
		sess.Status = domain.SessionActive
		sess.Resets = append(sess.Resets, domain.Reset{ResetBy: resetBy, ResetAt: at})
		return nil
	})
}

// CompleteSession records the final estimation.
func (s *MockStore) CompleteSession(_ context.Context, sessionID string, final domain.CardValue, at time.Time) error {
	return s.write("complete", sessionID, func() error {
		sess, err := s.get(sessionID)
		if err != nil {
			return err
		}
		if sess.Status == domain.SessionCompleted {
			return store.ErrInvalidTransition
		}
		sess.Status = domain.SessionCompleted
		sess.FinalEstimation = final
		sess.CompletedAt = &at
		return nil
	})
}

// GetSession returns a copy of the session.
func (s *MockStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.get(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return *sess, nil
}

// ListSessions returns the room's sessions, newest first.
func (s *MockStore) ListSessions(_ context.Context, roomID string) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Session{}
	for _, sess := range s.sessions {
		if sess.RoomID == roomID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Close is a no-op for the mock store.
func (s *MockStore) Close() error { return nil }
