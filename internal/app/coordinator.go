package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moyeora/socket-server/internal/domain"
	"github.com/moyeora/socket-server/internal/store"
)

// Coordinator owns all membership mutations. Every operation is a
// read-decide-write sequence against the shared store; because Redis gives
// no isolation across those steps, all mutating operations for one room are
// serialized through a per-room mutex. Operations on different rooms run
// independently.
type Coordinator struct {
	store    *store.Store
	emitter  Emitter
	notifier Notifier

	mu    sync.Mutex
	locks map[domain.RoomID]*sync.Mutex
}

func NewCoordinator(st *store.Store, em Emitter, nt Notifier) *Coordinator {
	return &Coordinator{
		store:    st,
		emitter:  em,
		notifier: nt,
		locks:    make(map[domain.RoomID]*sync.Mutex),
	}
}

// lockRoom serializes mutations for one room id and returns the unlock.
// After acquiring, the mutex must still be the room's current one: teardown
// retires the entry, and a waiter that slept through it would otherwise run
// its read-decide-write cycle concurrently with holders of the replacement
// mutex. Such a waiter retries against the map.
func (c *Coordinator) lockRoom(id domain.RoomID) func() {
	for {
		c.mu.Lock()
		l, ok := c.locks[id]
		if !ok {
			l = &sync.Mutex{}
			c.locks[id] = l
		}
		c.mu.Unlock()

		l.Lock()

		c.mu.Lock()
		current := c.locks[id]
		c.mu.Unlock()
		if current == l {
			return l.Unlock
		}
		l.Unlock()
	}
}

// releaseRoom retires the lock entry after a teardown; lockRoom's
// re-validation keeps late waiters on the old mutex from slipping through.
func (c *Coordinator) releaseRoom(id domain.RoomID) {
	c.mu.Lock()
	delete(c.locks, id)
	c.mu.Unlock()
}

// Join creates the room on first contact or upserts the caller into an
// existing one, binds the caller's session pointer and rebroadcasts the
// membership. Store failures surface as RoomCreateError to the caller only.
// The return tells the transport whether the caller actually became a
// member, so a failed join does not linger in the broadcast group.
func (c *Coordinator) Join(ctx context.Context, sid domain.SessionID, req JoinRequest) bool {
	unlock := c.lockRoom(req.RoomID)
	room, _, err := c.store.GetRoom(ctx, req.RoomID)
	if err != nil {
		unlock()
		log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(req.RoomID)).Msg("join read")
		c.emitter.Error(sid, domain.RoomCreateError)
		return false
	}
	out := joinTransition(room, sid, req)
	err = c.apply(ctx, req.RoomID, sid, out)
	unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(req.RoomID)).Msg("join write")
		c.emitter.Error(sid, domain.RoomCreateError)
		return false
	}
	log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Str("room", string(req.RoomID)).Msg("joined")
	c.finish(ctx, req.RoomID, out)
	return true
}

// Leave detaches the caller; if the caller owns the room, the whole room is
// torn down and every member sees an empty list.
func (c *Coordinator) Leave(ctx context.Context, sid domain.SessionID, id domain.RoomID) {
	c.mutate(ctx, sid, id, func(room *domain.Room) Outcome {
		return leaveTransition(room, sid)
	})
}

// Kick is owner-only: removes the member by nickname, bans the nickname and
// drops that member's session pointer.
func (c *Coordinator) Kick(ctx context.Context, sid domain.SessionID, id domain.RoomID, nickname string) {
	c.mutate(ctx, sid, id, func(room *domain.Room) Outcome {
		return kickTransition(room, sid, nickname, time.Now())
	})
}

// Remove is the explicit close-room action, owner-only.
func (c *Coordinator) Remove(ctx context.Context, sid domain.SessionID, id domain.RoomID) {
	c.mutate(ctx, sid, id, func(room *domain.Room) Outcome {
		return removeTransition(room, sid)
	})
}

// mutate runs one locked read-transition-write cycle and then fires the
// resulting side effects.
func (c *Coordinator) mutate(ctx context.Context, sid domain.SessionID, id domain.RoomID, fn func(*domain.Room) Outcome) {
	unlock := c.lockRoom(id)
	room, _, err := c.store.GetRoom(ctx, id)
	if err != nil {
		unlock()
		log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(id)).Msg("read room")
		c.emitter.Error(sid, domain.RoomNotFound)
		return
	}
	out := fn(room)
	if out.Err != "" {
		unlock()
		c.emitter.Error(sid, out.Err)
		return
	}
	err = c.apply(ctx, id, sid, out)
	unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(id)).Msg("write room")
		c.emitter.Error(sid, domain.RoomNotFound)
		return
	}
	c.finish(ctx, id, out)
}

// Verify is the side-effect-free eligibility check a client runs before
// joining: no existing session pointer, nickname not banned, room not full.
// A room that does not exist yet is always eligible (join will create it).
func (c *Coordinator) Verify(ctx context.Context, sid domain.SessionID, id domain.RoomID, nickname string) {
	_, bound, err := c.store.RoomOf(ctx, sid)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("verify session")
		c.emitter.Error(sid, domain.RoomVerifyError)
		return
	}
	if bound {
		c.emitter.Verify(sid, false)
		return
	}
	room, found, err := c.store.GetRoom(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(id)).Msg("verify room")
		c.emitter.Error(sid, domain.RoomVerifyError)
		return
	}
	if !found {
		c.emitter.Verify(sid, true)
		return
	}
	if room.Kicked(nickname) || room.Full() {
		c.emitter.Verify(sid, false)
		return
	}
	c.emitter.Verify(sid, true)
}

// Disconnect handles a connection that dropped without an explicit leave.
// The session pointer resolves which room to detach from; no pointer, no-op.
// There is no client left to report errors to, so failures are only logged.
func (c *Coordinator) Disconnect(ctx context.Context, sid domain.SessionID) {
	id, bound, err := c.store.RoomOf(ctx, sid)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("disconnect session")
		return
	}
	if !bound {
		return
	}
	unlock := c.lockRoom(id)
	room, found, err := c.store.GetRoom(ctx, id)
	if err != nil {
		unlock()
		log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(id)).Msg("disconnect read")
		return
	}
	if !found {
		// Dangling pointer: the room was torn down underneath us.
		if err := c.store.DropPointer(ctx, sid); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("drop stale pointer")
		}
		unlock()
		return
	}
	out := disconnectTransition(room, sid)
	err = c.apply(ctx, id, sid, out)
	unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(id)).Msg("disconnect write")
		return
	}
	log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Str("room", string(id)).Msg("disconnected")
	c.finish(ctx, id, out)
}

// apply persists one outcome. Room record and pointer edits land in the same
// MULTI so a crash between them cannot orphan a pointer.
func (c *Coordinator) apply(ctx context.Context, id domain.RoomID, sid domain.SessionID, out Outcome) error {
	switch {
	case out.Delete:
		if err := c.store.DeleteRoom(ctx, id, out.DropPointers); err != nil {
			return err
		}
		c.releaseRoom(id)
		return nil
	case out.Room != nil && out.BindPointer:
		return c.store.SaveRoomWithPointer(ctx, id, out.Room, sid)
	case out.Room != nil && len(out.DropPointers) > 0:
		return c.store.SaveRoomDropPointers(ctx, id, out.Room, out.DropPointers)
	case out.Room != nil:
		return c.store.SaveRoom(ctx, id, out.Room)
	default:
		return nil
	}
}

// finish fires the broadcast and notifier instructions of an applied
// outcome. Membership broadcasts re-read the record so they reflect the
// latest persisted state, not the copy this operation happened to write.
func (c *Coordinator) finish(ctx context.Context, id domain.RoomID, out Outcome) {
	switch out.Broadcast {
	case BroadcastUserList:
		room, found, err := c.store.GetRoom(ctx, id)
		if err != nil || !found {
			log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(id)).Msg("broadcast re-read missed")
			break
		}
		c.emitter.UserList(id, room.UserList)
	case BroadcastEmpty:
		c.emitter.UserList(id, map[domain.SessionID]domain.UserInfo{})
	}

	switch out.Notify {
	case NotifyMemberLeft:
		c.notifier.MemberLeft(id)
	case NotifyRoomDeleted:
		c.notifier.RoomDeleted(id)
	}
}
