package domain

import "time"

// SessionStatus is the durable status of an estimation session.
type SessionStatus string

// Session statuses.
const (
	SessionActive    SessionStatus = "active"
	SessionRevealed  SessionStatus = "revealed"
	SessionCompleted SessionStatus = "completed"
)

// Session is the persisted record of one estimation round.
type Session struct {
	ID              string        `json:"id"`
	RoomID          string        `json:"room_id"`
	TaskName        string        `json:"task_name"`
	StoryID         string        `json:"story_id,omitempty"`
	Status          SessionStatus `json:"status"`
	HasConsensus    bool          `json:"has_consensus"`
	FinalEstimation CardValue     `json:"final_estimation,omitempty"`
	Estimations     []Estimation  `json:"estimations"`
	Resets          []Reset       `json:"resets,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	RevealedAt      *time.Time    `json:"revealed_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// Estimation is one participant's recorded card in a session.
type Estimation struct {
	ParticipantID string    `json:"participant_id"`
	CardValue     CardValue `json:"card_value"`
	EstimatedAt   time.Time `json:"estimated_at"`
}

// Reset records who restarted a session and when.
type Reset struct {
	ResetBy string    `json:"reset_by,omitempty"`
	ResetAt time.Time `json:"reset_at"`
}
