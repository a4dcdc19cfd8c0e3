// Package votes holds the cards picked in a single room.
//
// A Board keeps at most one vote per participant; casting again overwrites.
// It is owned by the room's actor goroutine and is not safe for concurrent use.
package votes

import (
	"math"
	"time"

	"github.com/devaloi/pokersync/internal/domain"
)

// Vote is a participant's current pick.
type Vote struct {
	Card    domain.CardValue
	VotedAt time.Time
}

// Board is the vote table of one room.
type Board struct {
	votes map[string]Vote
	now   func() time.Time
}

// New creates an empty board.
func New() *Board {
	return &Board{
		votes: make(map[string]Vote),
		now:   time.Now,
	}
}

// Cast upserts the participant's vote and returns the full vote map.
func (b *Board) Cast(participantID string, card domain.CardValue) map[string]domain.CardValue {
	b.votes[participantID] = Vote{Card: card, VotedAt: b.now()}
	return b.Current()
}

// ResetOne removes a single participant's vote and returns the full vote map.
func (b *Board) ResetOne(participantID string) map[string]domain.CardValue {
	delete(b.votes, participantID)
	return b.Current()
}

// ResetAll clears every vote. The returned map is empty, never nil.
func (b *Board) ResetAll() map[string]domain.CardValue {
	clear(b.votes)
	return b.Current()
}

// Current returns a copy of the vote map.
func (b *Board) Current() map[string]domain.CardValue {
	out := make(map[string]domain.CardValue, len(b.votes))
	for id, v := range b.votes {
		out[id] = v.Card
	}
	return out
}

// Get returns one participant's vote.
func (b *Board) Get(participantID string) (Vote, bool) {
	v, ok := b.votes[participantID]
	return v, ok
}

// Len returns the number of votes cast.
func (b *Board) Len() int {
	return len(b.votes)
}

// AllVoted reports whether every expected member has a vote. An empty
// expectation is never "all voted": there is nothing to reveal.
func (b *Board) AllVoted(expected []string) bool {
	if len(expected) == 0 {
		return false
	}
	for _, id := range expected {
		if _, ok := b.votes[id]; !ok {
			return false
		}
	}
	return true
}

// Average returns the mean of the numeric votes. Non-numeric cards are
// ignored; ok is false when no numeric vote exists or the sum overflows.
func (b *Board) Average() (avg float64, ok bool) {
	var sum float64
	var n int
	for _, v := range b.votes {
		f, numeric := v.Card.Numeric()
		if !numeric {
			continue
		}
		sum += f
		n++
	}
	if n == 0 || math.IsInf(sum, 0) {
		return 0, false
	}
	return sum / float64(n), true
}

// Consensus reports whether at least one vote exists and all votes are equal.
func (b *Board) Consensus() bool {
	var first domain.CardValue
	seen := false
	for _, v := range b.votes {
		if !seen {
			first, seen = v.Card, true
			continue
		}
		if v.Card != first {
			return false
		}
	}
	return seen
}
