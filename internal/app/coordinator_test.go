package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/moyeora/socket-server/internal/domain"
	"github.com/moyeora/socket-server/internal/store"
)

type userListEvent struct {
	Room  domain.RoomID
	Users map[domain.SessionID]domain.UserInfo
}

// recorderEmitter captures everything the coordinator fans out.
type recorderEmitter struct {
	mu        sync.Mutex
	userLists []userListEvent
	verifies  map[domain.SessionID][]bool
	errors    map[domain.SessionID][]domain.ErrorCode
}

func newRecorderEmitter() *recorderEmitter {
	return &recorderEmitter{
		verifies: make(map[domain.SessionID][]bool),
		errors:   make(map[domain.SessionID][]domain.ErrorCode),
	}
}

func (r *recorderEmitter) UserList(id domain.RoomID, users map[domain.SessionID]domain.UserInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[domain.SessionID]domain.UserInfo, len(users))
	for k, v := range users {
		cp[k] = v
	}
	r.userLists = append(r.userLists, userListEvent{Room: id, Users: cp})
}

func (r *recorderEmitter) Verify(sid domain.SessionID, eligible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifies[sid] = append(r.verifies[sid], eligible)
}

func (r *recorderEmitter) Error(sid domain.SessionID, code domain.ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[sid] = append(r.errors[sid], code)
}

func (r *recorderEmitter) lastUserList(t *testing.T) userListEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.userLists)
	return r.userLists[len(r.userLists)-1]
}

// recorderNotifier stands in for the companion-API client.
type recorderNotifier struct {
	left    chan domain.RoomID
	deleted chan domain.RoomID
}

func newRecorderNotifier() *recorderNotifier {
	return &recorderNotifier{
		left:    make(chan domain.RoomID, 8),
		deleted: make(chan domain.RoomID, 8),
	}
}

func (n *recorderNotifier) MemberLeft(id domain.RoomID)  { n.left <- id }
func (n *recorderNotifier) RoomDeleted(id domain.RoomID) { n.deleted <- id }

func newTestCoordinator(t *testing.T) (*Coordinator, *recorderEmitter, *recorderNotifier, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.New(rdb)
	em := newRecorderEmitter()
	nt := newRecorderNotifier()
	return NewCoordinator(st, em, nt), em, nt, st
}

func TestCoordinator_JoinThenOwnerLeaveTearsDown(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, em, _, st := newTestCoordinator(t)

	coord.Join(ctx, "A", joinReq("r1", "Alice"))
	coord.Join(ctx, "B", joinReq("r1", "Bob"))

	last := em.lastUserList(t)
	req.Equal(domain.RoomID("r1"), last.Room)
	req.Len(last.Users, 2)
	req.Equal("Alice", last.Users["A"].Nickname)
	req.Equal("Bob", last.Users["B"].Nickname)

	id, bound, err := st.RoomOf(ctx, "B")
	req.NoError(err)
	req.True(bound)
	req.Equal(domain.RoomID("r1"), id)

	coord.Leave(ctx, "A", "r1")

	last = em.lastUserList(t)
	req.Empty(last.Users, "owner departure empties the room for everyone")

	_, found, err := st.GetRoom(ctx, "r1")
	req.NoError(err)
	req.False(found)

	_, bound, err = st.RoomOf(ctx, "B")
	req.NoError(err)
	req.False(bound, "B's pointer must not survive the room")
}

func TestCoordinator_MemberLeaveKeepsRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, em, nt, st := newTestCoordinator(t)

	coord.Join(ctx, "A", joinReq("r1", "Alice"))
	coord.Join(ctx, "B", joinReq("r1", "Bob"))
	coord.Leave(ctx, "B", "r1")

	last := em.lastUserList(t)
	req.Len(last.Users, 1)
	req.Contains(last.Users, domain.SessionID("A"))

	room, found, err := st.GetRoom(ctx, "r1")
	req.NoError(err)
	req.True(found)
	req.Equal(domain.SessionID("A"), room.Owner)

	req.Equal(domain.RoomID("r1"), <-nt.left)
}

func TestCoordinator_LeaveUnknownRoom(t *testing.T) {
	req := require.New(t)
	coord, em, _, _ := newTestCoordinator(t)

	coord.Leave(context.Background(), "A", "nope")

	req.Equal([]domain.ErrorCode{domain.RoomNotFound}, em.errors["A"])
}

func TestCoordinator_KickThenVerifyIneligible(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, em, _, st := newTestCoordinator(t)

	coord.Join(ctx, "A", joinReq("r1", "Alice"))
	coord.Join(ctx, "B", joinReq("r1", "Bob"))

	coord.Kick(ctx, "A", "r1", "Bob")

	room, _, err := st.GetRoom(ctx, "r1")
	req.NoError(err)
	req.True(room.Kicked("Bob"))
	req.NotContains(room.UserList, domain.SessionID("B"))

	_, bound, err := st.RoomOf(ctx, "B")
	req.NoError(err)
	req.False(bound)

	// Bob reconnects under a fresh session and asks again: still banned,
	// even though the room has free capacity now.
	coord.Verify(ctx, "B2", "r1", "Bob")
	req.Equal([]bool{false}, em.verifies["B2"])
}

func TestCoordinator_KickByNonOwnerUnauthorized(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, em, _, st := newTestCoordinator(t)

	coord.Join(ctx, "A", joinReq("r1", "Alice"))
	coord.Join(ctx, "B", joinReq("r1", "Bob"))

	coord.Kick(ctx, "B", "r1", "Alice")

	req.Equal([]domain.ErrorCode{domain.ClientUnauthorized}, em.errors["B"])
	room, _, err := st.GetRoom(ctx, "r1")
	req.NoError(err)
	req.Len(room.UserList, 2)
}

func TestCoordinator_VerifyRules(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, em, _, _ := newTestCoordinator(t)

	// Unknown room: a join would create it.
	coord.Verify(ctx, "X", "fresh", "Eve")
	req.Equal([]bool{true}, em.verifies["X"])

	coord.Join(ctx, "A", joinReq("r1", "Alice"))

	// A already holds a session pointer.
	coord.Verify(ctx, "A", "r2", "Alice")
	req.Equal([]bool{false}, em.verifies["A"])

	// Room has one free slot of two.
	coord.Verify(ctx, "Y", "r1", "Bob")
	req.Equal([]bool{true}, em.verifies["Y"])

	coord.Join(ctx, "B", joinReq("r1", "Bob"))

	// Now full.
	coord.Verify(ctx, "Z", "r1", "Carol")
	req.Equal([]bool{false}, em.verifies["Z"])
}

func TestCoordinator_OwnerDisconnectDeletesRoomAndNotifies(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, em, nt, st := newTestCoordinator(t)

	coord.Join(ctx, "A", joinReq("r1", "Alice"))
	coord.Disconnect(ctx, "A")

	_, found, err := st.GetRoom(ctx, "r1")
	req.NoError(err)
	req.False(found)

	req.Equal(domain.RoomID("r1"), <-nt.deleted)
	req.Empty(em.lastUserList(t).Users)
}

// End to end through the real HTTP notifier: an owner dropping while sole
// member must reach the companion API as a room deletion.
func TestCoordinator_OwnerDisconnectCallsBackend(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	calls := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- r.Method + " " + r.URL.Path
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	coord := NewCoordinator(store.New(rdb), newRecorderEmitter(), NewBackendNotifier(srv.URL, "s3cret"))

	coord.Join(ctx, "A", joinReq("r1", "Alice"))
	coord.Disconnect(ctx, "A")

	select {
	case call := <-calls:
		req.Equal("DELETE /api/room/socket/r1", call)
	case <-time.After(2 * time.Second):
		t.Fatal("companion API never told about the deleted room")
	}
}

func TestCoordinator_MemberDisconnectKeepsRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _, nt, st := newTestCoordinator(t)

	coord.Join(ctx, "A", joinReq("r1", "Alice"))
	coord.Join(ctx, "B", joinReq("r1", "Bob"))
	coord.Disconnect(ctx, "B")

	room, found, err := st.GetRoom(ctx, "r1")
	req.NoError(err)
	req.True(found)
	req.Len(room.UserList, 1)
	req.Equal(domain.RoomID("r1"), <-nt.left)
}

func TestCoordinator_DisconnectWithoutPointerIsNoop(t *testing.T) {
	req := require.New(t)
	coord, em, _, _ := newTestCoordinator(t)

	coord.Disconnect(context.Background(), "ghost")

	req.Empty(em.userLists)
	req.Empty(em.errors)
}

// Two racing joins on the same unknown room must both survive: mutations per
// room are serialized, so the second join observes the first one's write.
func TestCoordinator_ConcurrentJoinsSameNewRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _, _, st := newTestCoordinator(t)

	var wg sync.WaitGroup
	for _, member := range []struct {
		sid  domain.SessionID
		nick string
	}{{"A", "Alice"}, {"B", "Bob"}} {
		member := member
		wg.Add(1)
		go func() {
			defer wg.Done()
			coord.Join(ctx, member.sid, joinReq("r1", member.nick))
		}()
	}
	wg.Wait()

	room, found, err := st.GetRoom(ctx, "r1")
	req.NoError(err)
	req.True(found)
	req.Len(room.UserList, 2, "neither join may clobber the other")
	req.Contains([]domain.SessionID{"A", "B"}, room.Owner)
}

// A waiter parked on a room's mutex across that room's teardown must not
// proceed while someone else holds the room's replacement mutex; otherwise
// two read-decide-write cycles for one room interleave and a recreated
// room can lose members.
func TestCoordinator_LockRoomSurvivesTeardown(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)

	unlockA := coord.lockRoom("r1")

	entered := make(chan struct{})
	go func() {
		unlockB := coord.lockRoom("r1")
		close(entered)
		unlockB()
	}()
	// Give the waiter time to park on the original mutex.
	time.Sleep(20 * time.Millisecond)

	// Teardown tail: the entry is retired while A still holds the old mutex,
	// and a later caller acquires a fresh one for the same room.
	coord.releaseRoom("r1")
	unlockC := coord.lockRoom("r1")

	unlockA()
	select {
	case <-entered:
		t.Fatal("waiter ran while the room's current lock was held elsewhere")
	case <-time.After(50 * time.Millisecond):
	}

	unlockC()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the room lock")
	}
}

// Full-path variant: a join racing an owner-leave teardown on the same room
// must end in one of two serialized outcomes — the join recreated the room
// with B as sole member and owner, or the join landed first and the
// teardown removed everything. Never a half-applied mix.
func TestCoordinator_JoinRacingOwnerLeave(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coord, _, _, st := newTestCoordinator(t)

	coord.Join(ctx, "A", joinReq("r1", "Alice"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		coord.Leave(ctx, "A", "r1")
	}()
	go func() {
		defer wg.Done()
		coord.Join(ctx, "B", joinReq("r1", "Bob"))
	}()
	wg.Wait()

	room, found, err := st.GetRoom(ctx, "r1")
	req.NoError(err)
	if found {
		// Teardown won the serialization; B's join recreated the room.
		req.Equal(domain.SessionID("B"), room.Owner)
		req.Len(room.UserList, 1)
		id, bound, err := st.RoomOf(ctx, "B")
		req.NoError(err)
		req.True(bound)
		req.Equal(domain.RoomID("r1"), id)
	} else {
		// B joined first and went down with the room.
		_, bound, err := st.RoomOf(ctx, "B")
		req.NoError(err)
		req.False(bound)
	}
	_, bound, err := st.RoomOf(ctx, "A")
	req.NoError(err)
	req.False(bound)
}

func TestCoordinator_StoreFailureSurfacesRoomCreateError(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	em := newRecorderEmitter()
	coord := NewCoordinator(store.New(rdb), em, newRecorderNotifier())

	mr.Close()
	req.False(coord.Join(context.Background(), "A", joinReq("r1", "Alice")))

	req.Equal([]domain.ErrorCode{domain.RoomCreateError}, em.errors["A"])
	req.Empty(em.userLists)
}

func TestCoordinator_JoinReportsMembership(t *testing.T) {
	req := require.New(t)
	coord, _, _, _ := newTestCoordinator(t)

	req.True(coord.Join(context.Background(), "A", joinReq("r1", "Alice")))
}
