// Package registry tracks who is present in a single room.
//
// A member is identified by the participant id the client supplies. Several
// connections may present the same participant id; they share one member slot
// and the member only leaves once its last connection is gone. A Room is not
// safe for concurrent use: it is owned by the room's actor goroutine.
package registry

import (
	"sort"
	"time"
)

// Room is the membership table of one room.
type Room struct {
	id           string
	members      map[string]map[string]struct{}
	lastActivity time.Time
	now          func() time.Time
}

// New creates an empty membership table for roomID.
func New(roomID string) *Room {
	return newWithClock(roomID, time.Now)
}

func newWithClock(roomID string, now func() time.Time) *Room {
	return &Room{
		id:           roomID,
		members:      make(map[string]map[string]struct{}),
		lastActivity: now(),
		now:          now,
	}
}

// ID returns the room id.
func (r *Room) ID() string {
	return r.id
}

// Join attaches the connection handle to participantID and returns the full
// membership. Joining again with the same handle changes nothing.
func (r *Room) Join(participantID, handle string) []string {
	conns, ok := r.members[participantID]
	if !ok {
		conns = make(map[string]struct{})
		r.members[participantID] = conns
	}
	conns[handle] = struct{}{}
	r.touch()
	return r.Members()
}

// Detach removes one connection handle. It reports whether the participant
// left the room as a result, which happens when no other handle remains.
func (r *Room) Detach(participantID, handle string) bool {
	conns, ok := r.members[participantID]
	if !ok {
		return false
	}
	delete(conns, handle)
	r.touch()
	if len(conns) > 0 {
		return false
	}
	delete(r.members, participantID)
	return true
}

// Members returns the participant ids in the room, sorted.
func (r *Room) Members() []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Has reports whether participantID is a member.
func (r *Room) Has(participantID string) bool {
	_, ok := r.members[participantID]
	return ok
}

// Len returns the number of members.
func (r *Room) Len() int {
	return len(r.members)
}

// Empty reports whether nobody is in the room.
func (r *Room) Empty() bool {
	return len(r.members) == 0
}

// LastActivity returns the time of the last membership change or Touch.
func (r *Room) LastActivity() time.Time {
	return r.lastActivity
}

// Touch records activity that is not a membership change, such as a vote.
func (r *Room) Touch() {
	r.touch()
}

// IdleSince reports whether the room is empty and has seen no activity for at
// least ttl.
func (r *Room) IdleSince(ttl time.Duration) bool {
	return r.Empty() && r.now().Sub(r.lastActivity) >= ttl
}

func (r *Room) touch() {
	r.lastActivity = r.now()
}
