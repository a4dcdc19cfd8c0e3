package domain

import (
	"encoding/json"
)

// Client -> server event types.
const (
	MsgJoinRoom        = "join-room"
	MsgLeaveRoom       = "leave-room"
	MsgSelectCard      = "select-card"
	MsgCardReset       = "card-reset"
	MsgResetAllCards   = "reset-all-cards"
	MsgResetEstimation = "reset-estimation"
	MsgRevealCards     = "reveal-cards"
	MsgSelectStory     = "select-current-story"
	MsgUpdateStories   = "update-user-stories"
	MsgStartSession    = "start-session"
	MsgCompleteSession = "complete-session"
)

// Server -> client event types.
const (
	MsgMembershipChanged = "membership-changed"
	MsgVotesChanged      = "votes-changed"
	MsgCardsRevealed     = "cards-revealed"
	MsgEstimationReset   = "estimation-reset"
	MsgStorySelected     = "story-selected"
	MsgStoriesUpdated    = "user-stories-updated"
	MsgSessionStarted    = "session-started"
	MsgSessionCompleted  = "session-completed"
	MsgError             = "error"
)

// Message is an inbound client event. Fields that do not apply to a given
// type are left empty.
type Message struct {
	Type            string    `json:"type"`
	RoomID          string    `json:"roomId,omitempty"`
	ParticipantID   string    `json:"participantId,omitempty"`
	CardValue       CardValue `json:"cardValue,omitempty"`
	SessionID       string    `json:"sessionId,omitempty"`
	Story           *Story    `json:"story,omitempty"`
	Stories         []Story   `json:"stories,omitempty"`
	TaskName        string    `json:"taskName,omitempty"`
	StoryID         string    `json:"storyId,omitempty"`
	FinalEstimation CardValue `json:"finalEstimation,omitempty"`
}

// MembershipMessage is the full room snapshot pushed on every join or leave.
type MembershipMessage struct {
	Type      string               `json:"type"`
	RoomID    string               `json:"roomId"`
	Members   []string             `json:"members"`
	Votes     map[string]CardValue `json:"votes"`
	AllVoted  bool                 `json:"allVoted"`
	State     RevealState          `json:"state"`
	Story     *Story               `json:"story"`
	Stories   []Story              `json:"stories"`
	SessionID string               `json:"sessionId,omitempty"`
}

// VotesMessage carries the complete vote map of a room.
type VotesMessage struct {
	Type     string               `json:"type"`
	RoomID   string               `json:"roomId"`
	Votes    map[string]CardValue `json:"votes"`
	AllVoted bool                 `json:"allVoted"`
	State    RevealState          `json:"state"`
}

// RevealMessage is broadcast when the cards are turned over.
type RevealMessage struct {
	Type      string               `json:"type"`
	RoomID    string               `json:"roomId"`
	SessionID string               `json:"sessionId,omitempty"`
	Votes     map[string]CardValue `json:"votes"`
	Average   *float64             `json:"average,omitempty"`
	Consensus bool                 `json:"consensus"`
}

// ResetMessage notifies the room that estimation restarted.
type ResetMessage struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId,omitempty"`
}

// StoryMessage carries the room's current story; a nil story means none.
type StoryMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Story  *Story `json:"story"`
}

// StoriesMessage carries the room's backlog.
type StoriesMessage struct {
	Type    string  `json:"type"`
	RoomID  string  `json:"roomId"`
	Stories []Story `json:"stories"`
}

// SessionMessage announces session lifecycle changes.
type SessionMessage struct {
	Type            string    `json:"type"`
	RoomID          string    `json:"roomId"`
	SessionID       string    `json:"sessionId"`
	TaskName        string    `json:"taskName,omitempty"`
	FinalEstimation CardValue `json:"finalEstimation,omitempty"`
}

// ErrorMessage reports an error to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encode serializes a value to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeMessage deserializes JSON bytes into a Message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
