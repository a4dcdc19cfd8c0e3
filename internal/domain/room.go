package domain

import "time"

// RevealState is the per-room estimation phase.
type RevealState string

// Reveal states.
const (
	StateCollecting RevealState = "collecting"
	StateRevealed   RevealState = "revealed"
)

// Room describes a live room for the REST listing.
type Room struct {
	ID           string      `json:"id"`
	UserCount    int         `json:"user_count"`
	VoteCount    int         `json:"vote_count"`
	State        RevealState `json:"state"`
	Story        *Story      `json:"story,omitempty"`
	SessionID    string      `json:"session_id,omitempty"`
	LastActivity time.Time   `json:"last_activity"`
}

// Story is the work item being estimated.
type Story struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	JiraID      string `json:"jiraId,omitempty"`
}
