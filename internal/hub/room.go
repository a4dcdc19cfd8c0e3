package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/devaloi/pokersync/internal/domain"
	"github.com/devaloi/pokersync/internal/metrics"
	"github.com/devaloi/pokersync/internal/registry"
	"github.com/devaloi/pokersync/internal/story"
	"github.com/devaloi/pokersync/internal/votes"
)

// errRetired is returned by submit when the actor exited before applying the
// command. The hub retries against a fresh room.
var errRetired = errors.New("room retired")

// Client is the interface that hub/room expects from a connection.
type Client interface {
	// ID is the connection handle, unique per connection.
	ID() string
	// Send queues a frame. It must not block.
	Send(data []byte)
}

type command struct {
	fn   func(*Room)
	done chan struct{}
	err  error
}

// Room is the actor that owns one room's membership, votes, story and reveal
// state. Every field below the inbox is touched only by the actor goroutine.
type Room struct {
	id    string
	inbox chan *command
	quit  chan struct{}
	done  chan struct{}

	logger       *slog.Logger
	metrics      metrics.Recorder
	sessions     SessionRecorder
	resetOnStory bool
	now          func() time.Time

	members   *registry.Room
	board     *votes.Board
	stories   *story.Selector
	state     domain.RevealState
	sessionID string
	clients   map[string]Client
	handles   map[string]string
	retired   bool
}

func newRoom(id string, h *Hub) *Room {
	return &Room{
		id:           id,
		inbox:        make(chan *command, 64),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		logger:       h.logger.With(slog.String("room_id", id)),
		metrics:      h.metrics,
		sessions:     h.sessions,
		resetOnStory: h.opts.ResetVotesOnStoryChange,
		now:          time.Now,
		members:      registry.New(id),
		board:        votes.New(),
		stories:      story.New(),
		state:        domain.StateCollecting,
		clients:      make(map[string]Client),
		handles:      make(map[string]string),
	}
}

// run is the actor loop. Should be called as a goroutine.
func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case cmd := <-r.inbox:
			r.apply(cmd)
			if r.retired {
				return
			}
		case <-r.quit:
			return
		}
	}
}

func (r *Room) stop() {
	close(r.quit)
}

func (r *Room) apply(cmd *command) {
	defer close(cmd.done)
	defer func() {
		if p := recover(); p != nil {
			cmd.err = fmt.Errorf("room %s: %w", r.id, ErrCommandPanicked)
			r.metrics.RecordRoomPanic()
			r.logger.Error("room command panicked",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	cmd.fn(r)
}

// submit hands fn to the actor and waits until it has been applied.
func (r *Room) submit(fn func(*Room)) error {
	cmd := &command{fn: fn, done: make(chan struct{})}
	select {
	case r.inbox <- cmd:
	case <-r.done:
		return errRetired
	}
	return r.wait(cmd)
}

func (r *Room) wait(cmd *command) error {
	select {
	case <-cmd.done:
		return cmd.err
	case <-r.done:
		// The actor may have applied the command right before exiting.
		select {
		case <-cmd.done:
			return cmd.err
		default:
			return errRetired
		}
	}
}

// join attaches c to participantID. A connection that was attached under a
// different participant id is moved.
func (r *Room) join(c Client, participantID string) {
	handle := c.ID()
	if prev, ok := r.handles[handle]; ok && prev != participantID {
		r.detach(handle)
	}
	r.clients[handle] = c
	r.handles[handle] = participantID
	r.members.Join(participantID, handle)
	r.logger.Info("participant joined",
		slog.String("participant_id", participantID),
		slog.Int("members", r.members.Len()),
	)
	r.broadcastMembership()
}

// leave detaches the connection. It reports whether anything changed.
func (r *Room) leave(c Client) bool {
	if _, ok := r.handles[c.ID()]; !ok {
		return false
	}
	r.detach(c.ID())
	r.broadcastMembership()
	return true
}

func (r *Room) detach(handle string) {
	participantID := r.handles[handle]
	delete(r.handles, handle)
	delete(r.clients, handle)
	if !r.members.Detach(participantID, handle) {
		return
	}
	if _, voted := r.board.Get(participantID); voted {
		r.board.ResetOne(participantID)
		if r.persistVotes() {
			r.sessions.RemoveEstimation(r.sessionID, participantID)
		}
	}
	r.logger.Info("participant left",
		slog.String("participant_id", participantID),
		slog.Int("members", r.members.Len()),
	)
}

// castVote records a vote from a member. A vote from somebody who is not in
// the room changes nothing but still pushes the current votes.
func (r *Room) castVote(participantID string, card domain.CardValue) {
	if r.members.Has(participantID) {
		r.board.Cast(participantID, card)
		r.members.Touch()
		if r.persistVotes() {
			v, _ := r.board.Get(participantID)
			r.sessions.AddEstimation(r.sessionID, participantID, card, v.VotedAt)
		}
	}
	r.broadcastVotes()
}

func (r *Room) resetVote(participantID string) {
	if _, voted := r.board.Get(participantID); voted {
		r.board.ResetOne(participantID)
		r.members.Touch()
		if r.persistVotes() {
			r.sessions.RemoveEstimation(r.sessionID, participantID)
		}
	}
	r.broadcastVotes()
}

// resetAll clears every vote and returns the room to collecting.
func (r *Room) resetAll(sessionID, resetBy string) {
	sid, _ := r.adoptSession(sessionID)
	r.board.ResetAll()
	r.state = domain.StateCollecting
	r.members.Touch()
	if sid != "" {
		r.sessions.ResetSession(sid, resetBy, r.now())
	}
	r.broadcastVotes()
	r.broadcast(domain.MsgEstimationReset, domain.ResetMessage{
		Type:      domain.MsgEstimationReset,
		RoomID:    r.id,
		SessionID: sid,
	})
}

// reveal turns the cards over. Revealing a revealed room only repeats the
// announcement, unless it names a session the room has not seen yet.
func (r *Room) reveal(sessionID string) {
	sid, adopted := r.adoptSession(sessionID)
	if r.state != domain.StateRevealed || adopted {
		r.state = domain.StateRevealed
		r.members.Touch()
		if sid != "" {
			r.sessions.RevealEstimations(sid, r.now())
		}
	}

	msg := domain.RevealMessage{
		Type:      domain.MsgCardsRevealed,
		RoomID:    r.id,
		SessionID: sid,
		Votes:     r.board.Current(),
		Consensus: r.board.Consensus(),
	}
	if avg, ok := r.board.Average(); ok {
		msg.Average = &avg
	}
	r.broadcast(domain.MsgCardsRevealed, msg)
}

func (r *Room) selectStory(st *domain.Story) {
	r.stories.Select(st)
	r.members.Touch()
	r.broadcast(domain.MsgStorySelected, domain.StoryMessage{
		Type:   domain.MsgStorySelected,
		RoomID: r.id,
		Story:  r.stories.Current(),
	})
	if r.resetOnStory {
		r.resetAll("", storyChangeResetter)
	}
}

func (r *Room) updateStories(stories []domain.Story) {
	backlog := r.stories.SetBacklog(stories)
	r.members.Touch()
	r.broadcast(domain.MsgStoriesUpdated, domain.StoriesMessage{
		Type:    domain.MsgStoriesUpdated,
		RoomID:  r.id,
		Stories: backlog,
	})
}

// startSession opens a fresh estimation round under sessionID.
func (r *Room) startSession(sessionID, taskName, storyID string) {
	r.sessionID = sessionID
	r.board.ResetAll()
	r.state = domain.StateCollecting
	r.members.Touch()
	r.sessions.CreateSession(domain.Session{
		ID:        sessionID,
		RoomID:    r.id,
		TaskName:  taskName,
		StoryID:   storyID,
		Status:    domain.SessionActive,
		StartedAt: r.now(),
	})
	r.broadcast(domain.MsgSessionStarted, domain.SessionMessage{
		Type:      domain.MsgSessionStarted,
		RoomID:    r.id,
		SessionID: sessionID,
		TaskName:  taskName,
	})
	r.broadcastVotes()
}

// completeSession closes the round. The room keeps its votes and reveal
// state but no longer has an active session.
func (r *Room) completeSession(sessionID string, final domain.CardValue) error {
	sid, _ := r.adoptSession(sessionID)
	if sid == "" {
		return ErrNoSession
	}
	r.members.Touch()
	r.sessions.CompleteSession(sid, final, r.now())
	r.sessionID = ""
	r.broadcast(domain.MsgSessionCompleted, domain.SessionMessage{
		Type:            domain.MsgSessionCompleted,
		RoomID:          r.id,
		SessionID:       sid,
		FinalEstimation: final,
	})
	return nil
}

// adoptSession makes sessionID the room's active session, registering it
// with the store the first time it is seen along with the cards already on
// the board. An empty id keeps the current one. adopted is true only for a
// session seen for the first time.
func (r *Room) adoptSession(sessionID string) (sid string, adopted bool) {
	if sessionID == "" || sessionID == r.sessionID {
		return r.sessionID, false
	}
	r.sessionID = sessionID
	r.sessions.CreateSession(domain.Session{
		ID:        sessionID,
		RoomID:    r.id,
		Status:    domain.SessionActive,
		StartedAt: r.now(),
	})
	for _, pid := range slices.Sorted(maps.Keys(r.board.Current())) {
		v, _ := r.board.Get(pid)
		r.sessions.AddEstimation(sessionID, pid, v.Card, v.VotedAt)
	}
	return sessionID, true
}

// persistVotes reports whether vote changes go to the store: only while a
// session is open and cards are still hidden.
func (r *Room) persistVotes() bool {
	return r.sessionID != "" && r.state == domain.StateCollecting
}

func (r *Room) idle(ttl time.Duration) bool {
	return len(r.clients) == 0 && r.members.IdleSince(ttl)
}

func (r *Room) info() domain.Room {
	return domain.Room{
		ID:           r.id,
		UserCount:    r.members.Len(),
		VoteCount:    r.board.Len(),
		State:        r.state,
		Story:        r.stories.Current(),
		SessionID:    r.sessionID,
		LastActivity: r.members.LastActivity(),
	}
}

func (r *Room) snapshot() domain.MembershipMessage {
	members := r.members.Members()
	return domain.MembershipMessage{
		Type:      domain.MsgMembershipChanged,
		RoomID:    r.id,
		Members:   members,
		Votes:     r.board.Current(),
		AllVoted:  r.board.AllVoted(members),
		State:     r.state,
		Story:     r.stories.Current(),
		Stories:   r.stories.Backlog(),
		SessionID: r.sessionID,
	}
}

func (r *Room) broadcastMembership() {
	r.broadcast(domain.MsgMembershipChanged, r.snapshot())
}

func (r *Room) broadcastVotes() {
	r.broadcast(domain.MsgVotesChanged, domain.VotesMessage{
		Type:     domain.MsgVotesChanged,
		RoomID:   r.id,
		Votes:    r.board.Current(),
		AllVoted: r.board.AllVoted(r.members.Members()),
		State:    r.state,
	})
}

func (r *Room) broadcast(eventType string, v any) {
	data, err := domain.Encode(v)
	if err != nil {
		r.logger.Error("encode broadcast failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	r.fanOut(eventType, data, "")
}

// fanOut queues data on every connection in the room except the one whose
// handle is exclude.
func (r *Room) fanOut(eventType string, data []byte, exclude string) {
	n := 0
	for handle, c := range r.clients {
		if handle == exclude {
			continue
		}
		c.Send(data)
		n++
	}
	r.metrics.RecordBroadcast(eventType, n)
}
