// Package hub is the session coordinator. It routes every room-scoped event
// to the actor goroutine that owns the room, so mutations on one room are
// applied one at a time while different rooms proceed in parallel.
package hub

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/devaloi/pokersync/internal/domain"
	"github.com/devaloi/pokersync/internal/metrics"
)

const shardCount = 32

// storyChangeResetter is recorded as the resetter when a story change clears votes.
const storyChangeResetter = "story-change"

var (
	// ErrMaxRooms is returned when creating a room would exceed the room cap.
	ErrMaxRooms = errors.New("max rooms reached")
	// ErrHubStopped is returned for calls made after Stop.
	ErrHubStopped = errors.New("hub stopped")
	// ErrNoSession is returned when completing a room that has no session.
	ErrNoSession = errors.New("no active session")
	// ErrCommandPanicked is returned when the room recovered from a panic
	// while applying the call.
	ErrCommandPanicked = errors.New("room command panicked")
)

// SessionRecorder receives the writes destined for the Session Store. Calls
// must return without waiting for the store.
type SessionRecorder interface {
	CreateSession(s domain.Session)
	AddEstimation(sessionID, participantID string, card domain.CardValue, at time.Time)
	RemoveEstimation(sessionID, participantID string)
	RevealEstimations(sessionID string, at time.Time)
	ResetSession(sessionID, resetBy string, at time.Time)
	CompleteSession(sessionID string, final domain.CardValue, at time.Time)
}

// Options configures a Hub.
type Options struct {
	MaxRooms                int
	IdleTTL                 time.Duration
	SweepInterval           time.Duration
	ResetVotesOnStoryChange bool
	Logger                  *slog.Logger
	Metrics                 metrics.Recorder
}

type shard struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// Hub owns the room table.
type Hub struct {
	shards   [shardCount]*shard
	sessions SessionRecorder
	opts     Options
	logger   *slog.Logger
	metrics  metrics.Recorder

	rooms    atomic.Int64
	stopped  atomic.Bool
	quit     chan struct{}
	stopOnce sync.Once
}

// New creates a new Hub. sessions may be nil when nothing is persisted.
func New(sessions SessionRecorder, opts Options) *Hub {
	if opts.MaxRooms <= 0 {
		opts.MaxRooms = 1000
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if sessions == nil {
		sessions = discard{}
	}

	h := &Hub{
		sessions: sessions,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "hub")),
		metrics:  opts.Metrics,
		quit:     make(chan struct{}),
	}
	for i := range h.shards {
		h.shards[i] = &shard{rooms: make(map[string]*Room)}
	}
	return h
}

// Run sweeps idle rooms until Stop is called. Should be called as a goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.quit:
			return
		}
	}
}

// Stop ends the sweeper and every room actor. Calls in flight return
// ErrHubStopped.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		close(h.quit)
		for _, s := range h.shards {
			s.mu.Lock()
			for id, r := range s.rooms {
				r.stop()
				delete(s.rooms, id)
				h.rooms.Add(-1)
				h.metrics.RoomEvicted()
			}
			s.mu.Unlock()
		}
		h.logger.Info("hub stopped")
	})
}

// Join adds the connection to the room under participantID and pushes the
// full room snapshot to every member. Unknown rooms are created.
func (h *Hub) Join(c Client, roomID, participantID string) error {
	return h.withRoom(roomID, true, func(r *Room) {
		r.join(c, participantID)
	})
}

// Leave removes the connection from the room. It is also the disconnect
// path, and a no-op when the room or connection is unknown.
func (h *Hub) Leave(c Client, roomID string) error {
	return h.withRoom(roomID, false, func(r *Room) {
		r.leave(c)
	})
}

// CastVote records participantID's card and pushes the full vote map.
func (h *Hub) CastVote(roomID, participantID string, card domain.CardValue) error {
	return h.withRoom(roomID, true, func(r *Room) {
		r.castVote(participantID, card)
	})
}

// ResetVote removes participantID's card and pushes the full vote map.
func (h *Hub) ResetVote(roomID, participantID string) error {
	return h.withRoom(roomID, true, func(r *Room) {
		r.resetVote(participantID)
	})
}

// ResetAll clears every vote in the room and returns it to collecting.
func (h *Hub) ResetAll(roomID, sessionID, resetBy string) error {
	return h.withRoom(roomID, true, func(r *Room) {
		r.resetAll(sessionID, resetBy)
	})
}

// Reveal turns the room's cards over. It is idempotent.
func (h *Hub) Reveal(roomID, sessionID string) error {
	return h.withRoom(roomID, true, func(r *Room) {
		r.reveal(sessionID)
	})
}

// SelectStory replaces the room's current story. A nil story clears it.
func (h *Hub) SelectStory(roomID string, st *domain.Story) error {
	return h.withRoom(roomID, true, func(r *Room) {
		r.selectStory(st)
	})
}

// UpdateStories replaces the room's backlog.
func (h *Hub) UpdateStories(roomID string, stories []domain.Story) error {
	return h.withRoom(roomID, true, func(r *Room) {
		r.updateStories(stories)
	})
}

// StartSession opens a new estimation session in the room and returns its id.
func (h *Hub) StartSession(roomID, taskName, storyID string) (string, error) {
	sessionID := uuid.NewString()
	err := h.withRoom(roomID, true, func(r *Room) {
		r.startSession(sessionID, taskName, storyID)
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// CompleteSession records the final estimation of the room's session.
func (h *Hub) CompleteSession(roomID, sessionID string, final domain.CardValue) error {
	var completeErr error
	err := h.withRoom(roomID, true, func(r *Room) {
		completeErr = r.completeSession(sessionID, final)
	})
	if err != nil {
		return err
	}
	return completeErr
}

// Broadcast sends a raw frame to every connection in the room except exclude,
// which may be nil.
func (h *Hub) Broadcast(roomID string, data []byte, exclude Client) error {
	skip := ""
	if exclude != nil {
		skip = exclude.ID()
	}
	return h.withRoom(roomID, false, func(r *Room) {
		r.fanOut("raw", data, skip)
	})
}

// Snapshot returns the full state of a live room.
func (h *Hub) Snapshot(roomID string) (domain.MembershipMessage, bool) {
	var snap domain.MembershipMessage
	found := false
	err := h.withRoom(roomID, false, func(r *Room) {
		snap = r.snapshot()
		found = true
	})
	if err != nil {
		return domain.MembershipMessage{}, false
	}
	return snap, found
}

// ListRooms returns info about all live rooms, ordered by id.
func (h *Hub) ListRooms() []domain.Room {
	var live []*Room
	for _, s := range h.shards {
		s.mu.RLock()
		for _, r := range s.rooms {
			live = append(live, r)
		}
		s.mu.RUnlock()
	}

	rooms := make([]domain.Room, 0, len(live))
	for _, r := range live {
		var info domain.Room
		if err := r.submit(func(r *Room) { info = r.info() }); err != nil {
			continue
		}
		rooms = append(rooms, info)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// RoomInfo returns details about a specific room, or nil if not found.
func (h *Hub) RoomInfo(roomID string) *domain.Room {
	var info *domain.Room
	err := h.withRoom(roomID, false, func(r *Room) {
		i := r.info()
		info = &i
	})
	if err != nil {
		return nil
	}
	return info
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	return int(h.rooms.Load())
}

func (h *Hub) shardFor(roomID string) *shard {
	return h.shards[xxhash.Sum64String(roomID)%shardCount]
}

// withRoom applies fn on the room's actor. When the actor retires between
// lookup and delivery the call is retried on a fresh room.
func (h *Hub) withRoom(roomID string, create bool, fn func(*Room)) error {
	for {
		if h.stopped.Load() {
			return ErrHubStopped
		}
		r, err := h.lookup(roomID, create)
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}
		err = r.submit(fn)
		if !errors.Is(err, errRetired) {
			return err
		}
	}
}

func (h *Hub) lookup(roomID string, create bool) (*Room, error) {
	s := h.shardFor(roomID)

	s.mu.RLock()
	r, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok || !create {
		return r, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock.
	if r, ok := s.rooms[roomID]; ok {
		return r, nil
	}
	if h.stopped.Load() {
		return nil, ErrHubStopped
	}
	if h.rooms.Add(1) > int64(h.opts.MaxRooms) {
		h.rooms.Add(-1)
		return nil, ErrMaxRooms
	}

	r = newRoom(roomID, h)
	s.rooms[roomID] = r
	go r.run()
	h.metrics.RoomCreated()
	h.logger.Info("room created", slog.String("room_id", roomID))
	return r, nil
}

// sweep retires rooms that have been empty for longer than the idle TTL.
// The idle check runs on the actor while the shard is write-locked, so no
// call can reach the room between the check and its removal.
func (h *Hub) sweep() {
	for _, s := range h.shards {
		s.mu.Lock()
		for id, r := range s.rooms {
			idle := false
			err := r.submit(func(r *Room) {
				if r.idle(h.opts.IdleTTL) {
					r.retired = true
					idle = true
				}
			})
			if !idle && !errors.Is(err, errRetired) {
				continue
			}
			delete(s.rooms, id)
			h.rooms.Add(-1)
			h.metrics.RoomEvicted()
			h.logger.Info("room evicted", slog.String("room_id", id))
		}
		s.mu.Unlock()
	}
}

type discard struct{}

func (discard) CreateSession(domain.Session) {}
func (discard) AddEstimation(string, string, domain.CardValue, time.Time) {}
func (discard) RemoveEstimation(string, string) {}
func (discard) RevealEstimations(string, time.Time) {}
func (discard) ResetSession(string, string, time.Time) {}
func (discard) CompleteSession(string, domain.CardValue, time.Time) {}
