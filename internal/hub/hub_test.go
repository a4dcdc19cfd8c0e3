package hub

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/devaloi/pokersync/internal/domain"
	"github.com/devaloi/pokersync/internal/testutil"
)

func newTestHub(t *testing.T, rec SessionRecorder, opts Options) *Hub {
	t.Helper()
	opts.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := New(rec, opts)
	t.Cleanup(h.Stop)
	return h
}

func members(msg map[string]any) []string {
	raw, _ := msg["members"].([]any)
	out := make([]string, 0, len(raw))
	for _, m := range raw {
		out = append(out, m.(string))
	}
	return out
}

func votesOf(msg map[string]any) map[string]string {
	raw, _ := msg["votes"].(map[string]any)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v.(string)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mustJoin(t *testing.T, h *Hub, c Client, room, participant string) {
	t.Helper()
	if err := h.Join(c, room, participant); err != nil {
		t.Fatalf("join %s/%s: %v", room, participant, err)
	}
}

func TestHubCreateRoom(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	c := testutil.NewMockClient("c1")
	mustJoin(t, h, c, "r1", "alice")

	rooms := h.ListRooms()
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(rooms))
	}
	if rooms[0].ID != "r1" {
		t.Errorf("expected room 'r1', got %q", rooms[0].ID)
	}
}

func TestHubRoomInfo(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	c := testutil.NewMockClient("c1")
	mustJoin(t, h, c, "r1", "alice")
	h.CastVote("r1", "alice", "3")

	info := h.RoomInfo("r1")
	if info == nil {
		t.Fatal("expected room info, got nil")
	}
	if info.UserCount != 1 || info.VoteCount != 1 {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.State != domain.StateCollecting {
		t.Errorf("expected collecting, got %s", info.State)
	}

	if h.RoomInfo("nonexistent") != nil {
		t.Error("expected nil for nonexistent room")
	}
	if h.RoomCount() != 1 {
		t.Error("looking up a room must not create it")
	}
}

func TestHubIdempotentJoin(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	c := testutil.NewMockClient("c1")
	mustJoin(t, h, c, "r1", "alice")
	mustJoin(t, h, c, "r1", "alice")

	got := members(c.Last(domain.MsgMembershipChanged))
	if !equalStrings(got, []string{"alice"}) {
		t.Errorf("expected [alice], got %v", got)
	}
}

func TestHubSameParticipantTwoConnections(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	tab1 := testutil.NewMockClient("tab1")
	tab2 := testutil.NewMockClient("tab2")
	mustJoin(t, h, tab1, "r1", "alice")
	mustJoin(t, h, tab2, "r1", "alice")

	if got := members(tab2.Last(domain.MsgMembershipChanged)); !equalStrings(got, []string{"alice"}) {
		t.Fatalf("expected one slot for alice, got %v", got)
	}

	h.CastVote("r1", "alice", "5")
	h.Leave(tab1, "r1")

	snap, ok := h.Snapshot("r1")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if !equalStrings(snap.Members, []string{"alice"}) {
		t.Errorf("alice must stay while a connection remains, got %v", snap.Members)
	}
	if snap.Votes["alice"] != "5" {
		t.Error("alice's vote must survive while a connection remains")
	}

	h.Leave(tab2, "r1")
	snap, _ = h.Snapshot("r1")
	if len(snap.Members) != 0 || len(snap.Votes) != 0 {
		t.Errorf("expected empty room, got %+v", snap)
	}
}

func TestHubRejoinUnderNewIdentity(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	c := testutil.NewMockClient("c1")
	mustJoin(t, h, c, "r1", "alice")
	mustJoin(t, h, c, "r1", "alicia")

	if got := members(c.Last(domain.MsgMembershipChanged)); !equalStrings(got, []string{"alicia"}) {
		t.Errorf("expected the connection to move to alicia, got %v", got)
	}
}

func TestHubScenario(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	alice := testutil.NewMockClient("c-alice")
	bob := testutil.NewMockClient("c-bob")

	mustJoin(t, h, alice, "r1", "alice")
	if got := members(alice.Last(domain.MsgMembershipChanged)); !equalStrings(got, []string{"alice"}) {
		t.Fatalf("expected [alice], got %v", got)
	}

	mustJoin(t, h, bob, "r1", "bob")
	for _, c := range []*testutil.MockClient{alice, bob} {
		if got := members(c.Last(domain.MsgMembershipChanged)); !equalStrings(got, []string{"alice", "bob"}) {
			t.Fatalf("%s: expected [alice bob], got %v", c.ID(), got)
		}
	}

	h.CastVote("r1", "alice", "5")
	if got := votesOf(bob.Last(domain.MsgVotesChanged)); len(got) != 1 || got["alice"] != "5" {
		t.Fatalf("expected {alice:5}, got %v", got)
	}

	h.CastVote("r1", "bob", "8")
	last := alice.Last(domain.MsgVotesChanged)
	if got := votesOf(last); len(got) != 2 || got["alice"] != "5" || got["bob"] != "8" {
		t.Fatalf("expected {alice:5 bob:8}, got %v", got)
	}
	if last["allVoted"] != true {
		t.Error("expected allVoted after both votes")
	}

	h.Reveal("r1", "")
	revealed := bob.Last(domain.MsgCardsRevealed)
	if revealed == nil {
		t.Fatal("expected cards-revealed")
	}
	if revealed["average"] != 6.5 {
		t.Errorf("expected average 6.5, got %v", revealed["average"])
	}
	if revealed["consensus"] != false {
		t.Error("5 and 8 is not consensus")
	}

	h.ResetAll("r1", "", "alice")
	last = alice.Last(domain.MsgVotesChanged)
	if got := votesOf(last); len(got) != 0 {
		t.Fatalf("expected empty votes, got %v", got)
	}
	if last["state"] != string(domain.StateCollecting) {
		t.Errorf("expected collecting, got %v", last["state"])
	}
	if last["allVoted"] != false {
		t.Error("allVoted must be false after reset")
	}
	if bob.Last(domain.MsgEstimationReset) == nil {
		t.Error("expected estimation-reset")
	}
}

func TestHubVoteOverwrite(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	c := testutil.NewMockClient("c1")
	mustJoin(t, h, c, "r1", "alice")
	h.CastVote("r1", "alice", "5")
	h.CastVote("r1", "alice", "13")

	got := votesOf(c.Last(domain.MsgVotesChanged))
	if len(got) != 1 || got["alice"] != "13" {
		t.Errorf("expected {alice:13}, got %v", got)
	}
}

func TestHubFullStateBroadcast(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	alice := testutil.NewMockClient("c-alice")
	bob := testutil.NewMockClient("c-bob")
	mustJoin(t, h, alice, "r1", "alice")
	h.CastVote("r1", "alice", "3")
	h.SelectStory("r1", &domain.Story{ID: "s-1", Title: "Login"})
	h.UpdateStories("r1", []domain.Story{{ID: "s-1"}, {ID: "s-2"}})

	// A late joiner receives everything in one snapshot.
	mustJoin(t, h, bob, "r1", "bob")
	snap := bob.Last(domain.MsgMembershipChanged)
	if snap == nil {
		t.Fatal("expected membership snapshot")
	}
	if got := votesOf(snap); got["alice"] != "3" {
		t.Errorf("expected alice's vote in snapshot, got %v", got)
	}
	story, _ := snap["story"].(map[string]any)
	if story == nil || story["id"] != "s-1" {
		t.Errorf("expected current story in snapshot, got %v", snap["story"])
	}
	if stories, _ := snap["stories"].([]any); len(stories) != 2 {
		t.Errorf("expected backlog in snapshot, got %v", snap["stories"])
	}

	// Every mutation reaches every member with the complete map.
	h.CastVote("r1", "bob", "8")
	for _, c := range []*testutil.MockClient{alice, bob} {
		if got := votesOf(c.Last(domain.MsgVotesChanged)); len(got) != 2 {
			t.Errorf("%s: expected full vote map, got %v", c.ID(), got)
		}
	}
}

func TestHubResetOne(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	c := testutil.NewMockClient("c1")
	mustJoin(t, h, c, "r1", "alice")
	mustJoin(t, h, testutil.NewMockClient("c2"), "r1", "bob")
	h.CastVote("r1", "alice", "5")
	h.CastVote("r1", "bob", "8")
	h.ResetVote("r1", "alice")

	got := votesOf(c.Last(domain.MsgVotesChanged))
	if len(got) != 1 || got["bob"] != "8" {
		t.Errorf("expected {bob:8}, got %v", got)
	}
}

func TestHubRevealIdempotent(t *testing.T) {
	t.Parallel()
	rec := testutil.NewMockRecorder()
	h := newTestHub(t, rec, Options{})

	c := testutil.NewMockClient("c1")
	mustJoin(t, h, c, "r1", "alice")
	h.CastVote("r1", "alice", "5")

	if err := h.Reveal("r1", "sess-1"); err != nil {
		t.Fatalf("first reveal: %v", err)
	}
	if err := h.Reveal("r1", "sess-1"); err != nil {
		t.Fatalf("second reveal: %v", err)
	}

	if n := len(c.MessagesOfType(domain.MsgCardsRevealed)); n != 2 {
		t.Errorf("expected the announcement to be repeated, got %d", n)
	}
	snap, _ := h.Snapshot("r1")
	if snap.State != domain.StateRevealed {
		t.Errorf("expected revealed, got %s", snap.State)
	}

	reveals := 0
	for _, op := range rec.Ops() {
		if op == "reveal" {
			reveals++
		}
	}
	if reveals != 1 {
		t.Errorf("expected 1 persisted reveal, got %d", reveals)
	}
}

func TestHubIsolation(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	a := testutil.NewMockClient("ca")
	b := testutil.NewMockClient("cb")
	mustJoin(t, h, a, "room-a", "alice")
	mustJoin(t, h, b, "room-b", "bob")
	b.Reset()

	h.CastVote("room-a", "alice", "5")
	h.Reveal("room-a", "")
	h.ResetAll("room-a", "", "alice")
	h.SelectStory("room-a", &domain.Story{ID: "x"})

	if msgs := b.GetMessages(); len(msgs) != 0 {
		t.Errorf("room-b received %d messages from room-a", len(msgs))
	}
	snap, _ := h.Snapshot("room-b")
	if len(snap.Votes) != 0 || snap.Story != nil {
		t.Errorf("room-b state changed: %+v", snap)
	}
}

func TestHubLeaveRemovesVote(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	alice := testutil.NewMockClient("c-alice")
	bob := testutil.NewMockClient("c-bob")
	mustJoin(t, h, alice, "r1", "alice")
	mustJoin(t, h, bob, "r1", "bob")
	h.CastVote("r1", "bob", "8")

	h.Leave(bob, "r1")

	last := alice.Last(domain.MsgMembershipChanged)
	if got := members(last); !equalStrings(got, []string{"alice"}) {
		t.Errorf("expected [alice], got %v", got)
	}
	if got := votesOf(last); len(got) != 0 {
		t.Errorf("expected bob's vote to be gone, got %v", got)
	}

	// Leaving twice or leaving an unknown room is harmless.
	if err := h.Leave(bob, "r1"); err != nil {
		t.Errorf("second leave: %v", err)
	}
	if err := h.Leave(bob, "nowhere"); err != nil {
		t.Errorf("unknown room leave: %v", err)
	}
}

func TestHubNonMemberVoteIsNoop(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	c := testutil.NewMockClient("c1")
	mustJoin(t, h, c, "r1", "alice")
	c.Reset()

	if err := h.CastVote("r1", "ghost", "5"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	last := c.Last(domain.MsgVotesChanged)
	if last == nil {
		t.Fatal("expected a consistent broadcast")
	}
	if got := votesOf(last); len(got) != 0 {
		t.Errorf("expected no votes, got %v", got)
	}
}

func TestHubMaxRooms(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{MaxRooms: 2})

	mustJoin(t, h, testutil.NewMockClient("c1"), "room1", "alice")
	mustJoin(t, h, testutil.NewMockClient("c2"), "room2", "bob")

	err := h.Join(testutil.NewMockClient("c3"), "room3", "carol")
	if !errors.Is(err, ErrMaxRooms) {
		t.Fatalf("expected ErrMaxRooms, got %v", err)
	}
	if len(h.ListRooms()) != 2 {
		t.Errorf("expected 2 rooms (max), got %d", len(h.ListRooms()))
	}

	// Existing rooms still accept joins.
	mustJoin(t, h, testutil.NewMockClient("c4"), "room1", "dave")
}

func TestHubSweepEvictsIdleRooms(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{IdleTTL: 20 * time.Millisecond, SweepInterval: 10 * time.Millisecond})
	go h.Run()

	c := testutil.NewMockClient("c1")
	mustJoin(t, h, c, "temp", "alice")
	mustJoin(t, h, testutil.NewMockClient("c2"), "busy", "bob")
	h.Leave(c, "temp")

	deadline := time.Now().Add(2 * time.Second)
	for h.RoomInfo("temp") != nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.RoomInfo("temp") != nil {
		t.Fatal("expected idle room to be evicted")
	}
	if h.RoomInfo("busy") == nil {
		t.Error("occupied room must not be evicted")
	}

	// The id is usable again.
	mustJoin(t, h, c, "temp", "alice")
	if got := h.RoomInfo("temp"); got == nil || got.UserCount != 1 {
		t.Errorf("expected recreated room, got %+v", got)
	}
}

func TestHubSweepRacesWithCalls(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{IdleTTL: time.Nanosecond, SweepInterval: time.Millisecond})
	go h.Run()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := testutil.NewMockClient(fmt.Sprintf("c%d", i))
			for j := 0; j < 50; j++ {
				if err := h.Join(c, "churn", c.ID()); err != nil {
					t.Errorf("join: %v", err)
					return
				}
				h.CastVote("churn", c.ID(), "1")
				h.Leave(c, "churn")
			}
		}(i)
	}
	wg.Wait()
}

func TestHubPanicIsolation(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	a := testutil.NewMockClient("ca")
	b := testutil.NewMockClient("cb")
	mustJoin(t, h, a, "room-a", "alice")
	mustJoin(t, h, b, "room-b", "bob")

	err := h.withRoom("room-a", false, func(r *Room) {
		panic("boom")
	})
	if !errors.Is(err, ErrCommandPanicked) {
		t.Fatalf("expected ErrCommandPanicked, got %v", err)
	}

	// The failing room keeps serving and so does its neighbour.
	if err := h.CastVote("room-a", "alice", "5"); err != nil {
		t.Errorf("room-a after panic: %v", err)
	}
	if got := votesOf(a.Last(domain.MsgVotesChanged)); got["alice"] != "5" {
		t.Errorf("expected room-a to keep working, got %v", got)
	}
	if err := h.CastVote("room-b", "bob", "8"); err != nil {
		t.Errorf("room-b: %v", err)
	}
}

func TestHubStop(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})
	mustJoin(t, h, testutil.NewMockClient("c1"), "r1", "alice")

	h.Stop()
	h.Stop()

	if err := h.Join(testutil.NewMockClient("c2"), "r1", "bob"); !errors.Is(err, ErrHubStopped) {
		t.Errorf("expected ErrHubStopped, got %v", err)
	}
	if h.RoomCount() != 0 {
		t.Errorf("expected no rooms after stop, got %d", h.RoomCount())
	}
}

func TestHubSessionPersistence(t *testing.T) {
	t.Parallel()
	rec := testutil.NewMockRecorder()
	h := newTestHub(t, rec, Options{})

	alice := testutil.NewMockClient("c-alice")
	mustJoin(t, h, alice, "r1", "alice")
	mustJoin(t, h, testutil.NewMockClient("c-bob"), "r1", "bob")

	// Votes without a session are not persisted.
	h.CastVote("r1", "alice", "1")

	sid, err := h.StartSession("r1", "Login page", "story-7")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	started := alice.Last(domain.MsgSessionStarted)
	if started == nil || started["sessionId"] != sid || started["taskName"] != "Login page" {
		t.Fatalf("unexpected session-started: %v", started)
	}
	if got := votesOf(alice.Last(domain.MsgVotesChanged)); len(got) != 0 {
		t.Errorf("a new session starts with no votes, got %v", got)
	}

	h.CastVote("r1", "alice", "5")
	h.CastVote("r1", "bob", "8")
	h.ResetVote("r1", "bob")
	h.Reveal("r1", sid)
	h.CastVote("r1", "bob", "3") // revealed: memory only
	h.ResetAll("r1", sid, "alice")
	h.CastVote("r1", "alice", "8")
	h.Reveal("r1", "")
	if err := h.CompleteSession("r1", "", "8"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	want := []string{"create", "add", "add", "remove", "reveal", "reset", "add", "reveal", "complete"}
	if got := rec.Ops(); !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for _, c := range rec.Calls() {
		if c.SessionID != sid {
			t.Errorf("%s went to session %q, expected %q", c.Op, c.SessionID, sid)
		}
	}

	completed := alice.Last(domain.MsgSessionCompleted)
	if completed == nil || completed["finalEstimation"] != "8" || completed["sessionId"] != sid {
		t.Errorf("unexpected session-completed: %v", completed)
	}
	snap, _ := h.Snapshot("r1")
	if snap.SessionID != "" {
		t.Errorf("expected session pointer cleared, got %q", snap.SessionID)
	}

	if err := h.CompleteSession("r1", "", "8"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestHubAdoptsSessionFromReveal(t *testing.T) {
	t.Parallel()
	rec := testutil.NewMockRecorder()
	h := newTestHub(t, rec, Options{})

	mustJoin(t, h, testutil.NewMockClient("c1"), "r1", "alice")
	mustJoin(t, h, testutil.NewMockClient("c2"), "r1", "bob")
	h.CastVote("r1", "bob", "5")
	h.CastVote("r1", "alice", "5")
	h.Reveal("r1", "external-1")

	want := []string{"create", "add", "add", "reveal"}
	if got := rec.Ops(); !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	calls := rec.Calls()
	if calls[0].RoomID != "r1" {
		t.Errorf("expected the session registered for r1, got %+v", calls[0])
	}
	if calls[1].ParticipantID != "alice" || calls[1].Card != "5" ||
		calls[2].ParticipantID != "bob" || calls[2].Card != "5" {
		t.Errorf("expected the board's cards to be recorded, got %+v", calls[1:3])
	}
	for _, c := range calls {
		if c.SessionID != "external-1" {
			t.Errorf("%s went to session %q", c.Op, c.SessionID)
		}
	}
	snap, _ := h.Snapshot("r1")
	if snap.SessionID != "external-1" {
		t.Errorf("expected adopted session, got %q", snap.SessionID)
	}
}

func TestHubRevealedRoomAdoptsNewSession(t *testing.T) {
	t.Parallel()
	rec := testutil.NewMockRecorder()
	h := newTestHub(t, rec, Options{})

	mustJoin(t, h, testutil.NewMockClient("c1"), "r1", "alice")
	h.CastVote("r1", "alice", "3")
	h.Reveal("r1", "")
	h.Reveal("r1", "late-1")

	want := []string{"create", "add", "reveal"}
	if got := rec.Ops(); !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	h.Reveal("r1", "late-1")
	if got := rec.Ops(); len(got) != len(want) {
		t.Errorf("a known session is revealed once, got %v", got)
	}
}

func TestHubRevealWithNonFiniteCards(t *testing.T) {
	t.Parallel()
	cases := map[string][]domain.CardValue{
		"inf":      {"Inf", "5"},
		"nan":      {"NaN", "NaN"},
		"overflow": {"1e308", "1e308"},
	}
	for name, cards := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newTestHub(t, nil, Options{})
			alice := testutil.NewMockClient("c1")
			bob := testutil.NewMockClient("c2")
			mustJoin(t, h, alice, "r1", "alice")
			mustJoin(t, h, bob, "r1", "bob")
			h.CastVote("r1", "alice", cards[0])
			h.CastVote("r1", "bob", cards[1])
			h.Reveal("r1", "")

			for _, c := range []*testutil.MockClient{alice, bob} {
				msg := c.Last(domain.MsgCardsRevealed)
				if msg == nil {
					t.Fatalf("%s got no cards-revealed", c.ID())
				}
				if got := votesOf(msg); got["alice"] != string(cards[0]) || got["bob"] != string(cards[1]) {
					t.Errorf("unexpected votes %v", got)
				}
			}
		})
	}
}

func TestHubStoryResetPolicy(t *testing.T) {
	t.Parallel()

	keep := newTestHub(t, nil, Options{})
	c := testutil.NewMockClient("c1")
	mustJoin(t, keep, c, "r1", "alice")
	keep.CastVote("r1", "alice", "5")
	keep.SelectStory("r1", &domain.Story{ID: "2"})
	if snap, _ := keep.Snapshot("r1"); len(snap.Votes) != 1 {
		t.Error("story change must keep votes by default")
	}
	if c.Last(domain.MsgEstimationReset) != nil {
		t.Error("unexpected estimation-reset")
	}

	reset := newTestHub(t, nil, Options{ResetVotesOnStoryChange: true})
	c2 := testutil.NewMockClient("c2")
	mustJoin(t, reset, c2, "r1", "alice")
	reset.CastVote("r1", "alice", "5")
	reset.SelectStory("r1", &domain.Story{ID: "2"})
	if snap, _ := reset.Snapshot("r1"); len(snap.Votes) != 0 || snap.Story == nil || snap.Story.ID != "2" {
		t.Errorf("expected votes cleared under the new story, got %+v", snap)
	}
	if c2.Last(domain.MsgEstimationReset) == nil {
		t.Error("expected estimation-reset")
	}
}

func TestHubBroadcastExclude(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	a := testutil.NewMockClient("ca")
	b := testutil.NewMockClient("cb")
	mustJoin(t, h, a, "r1", "alice")
	mustJoin(t, h, b, "r1", "bob")
	a.Reset()
	b.Reset()

	h.Broadcast("r1", []byte(`{"type":"ping"}`), a)
	if len(a.GetMessages()) != 0 {
		t.Error("excluded connection received the frame")
	}
	if len(b.GetMessages()) != 1 {
		t.Errorf("expected 1 frame for bob, got %d", len(b.GetMessages()))
	}
}

func TestHubConcurrentVotes(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil, Options{})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			c := testutil.NewMockClient("c-" + id)
			if err := h.Join(c, "r1", id); err != nil {
				t.Errorf("join: %v", err)
				return
			}
			h.CastVote("r1", id, "3")
		}(i)
	}
	wg.Wait()

	snap, _ := h.Snapshot("r1")
	if len(snap.Members) != n || len(snap.Votes) != n {
		t.Errorf("expected %d members and votes, got %d and %d", n, len(snap.Members), len(snap.Votes))
	}
	if !snap.AllVoted {
		t.Error("expected allVoted")
	}
}
