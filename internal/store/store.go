package store

import (
	"context"
	"errors"
	"time"

	"github.com/devaloi/pokersync/internal/domain"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when a session's status forbids the call.
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// Store is the durable tier for estimation sessions.
type Store interface {
	// CreateSession inserts a session in the active state. Creating an id
	// that already exists is a no-op.
	CreateSession(ctx context.Context, s domain.Session) error
	// AddEstimation upserts a participant's card on an active session.
	AddEstimation(ctx context.Context, sessionID, participantID string, card domain.CardValue, at time.Time) error
	// RemoveEstimation deletes a participant's card from an active session.
	RemoveEstimation(ctx context.Context, sessionID, participantID string) error
	// RevealEstimations moves an active session to revealed and records consensus.
	RevealEstimations(ctx context.Context, sessionID string, at time.Time) error
	// ResetSession clears estimations, records the reset and reactivates the session.
	ResetSession(ctx context.Context, sessionID, resetBy string, at time.Time) error
	// CompleteSession records the final estimation.
	CompleteSession(ctx context.Context, sessionID string, final domain.CardValue, at time.Time) error
	// GetSession loads a session with its estimations and reset history.
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// ListSessions returns a room's sessions, newest first.
	ListSessions(ctx context.Context, roomID string) ([]domain.Session, error)
	// Close releases any resources held by the store.
	Close() error
}
