package app

import (
	"time"

	"github.com/samber/lo"

	"github.com/moyeora/socket-server/internal/domain"
)

// BroadcastKind tells the coordinator what to fan out after a transition.
type BroadcastKind int

const (
	BroadcastNone BroadcastKind = iota
	// BroadcastUserList re-reads the room record and fans out whatever
	// membership is persisted at that moment.
	BroadcastUserList
	// BroadcastEmpty announces a torn-down room with an empty member map.
	BroadcastEmpty
)

// NotifyKind tells the coordinator which companion-API call to fire.
type NotifyKind int

const (
	NotifyNone NotifyKind = iota
	NotifyMemberLeft
	NotifyRoomDeleted
)

// Outcome is the complete effect set of one membership transition: the new
// room state (or its deletion), pointer bookkeeping, and the broadcast and
// notifier instructions. Transitions never touch the store or the sockets,
// so they stay testable in isolation.
type Outcome struct {
	Room         *domain.Room
	Delete       bool
	BindPointer  bool
	DropPointers []domain.SessionID
	Broadcast    BroadcastKind
	Notify       NotifyKind
	Err          domain.ErrorCode
}

// JoinRequest carries the inbound join payload.
type JoinRequest struct {
	RoomID   domain.RoomID
	Nickname string
	Img      string
	Field    string
	MaxHead  int
}

func (r JoinRequest) userInfo() domain.UserInfo {
	return domain.UserInfo{Nickname: r.Nickname, Img: r.Img, Field: r.Field}
}

// joinTransition creates the room with the caller as owner, or upserts the
// caller into an existing one. Capacity and the kick list are not re-checked
// here: the client is expected to have passed verify first.
func joinTransition(room *domain.Room, sid domain.SessionID, req JoinRequest) Outcome {
	if room == nil {
		room = domain.NewRoom(sid, req.userInfo(), req.MaxHead)
	} else {
		room.UserList[sid] = req.userInfo()
	}
	return Outcome{Room: room, BindPointer: true, Broadcast: BroadcastUserList}
}

// leaveTransition removes one member, or tears the whole room down when the
// owner is the one leaving.
func leaveTransition(room *domain.Room, sid domain.SessionID) Outcome {
	if room == nil {
		return Outcome{Err: domain.RoomNotFound}
	}
	if room.IsOwner(sid) {
		return teardown(room)
	}
	delete(room.UserList, sid)
	return Outcome{
		Room:         room,
		DropPointers: []domain.SessionID{sid},
		Broadcast:    BroadcastUserList,
		Notify:       NotifyMemberLeft,
	}
}

// kickTransition removes the member carrying the target nickname and bans
// that nickname for the rest of the room's lifetime. A miss on the nickname
// still persists and rebroadcasts the unchanged room.
func kickTransition(room *domain.Room, sid domain.SessionID, nickname string, now time.Time) Outcome {
	if room == nil {
		return Outcome{Err: domain.RoomNotFound}
	}
	if !room.IsOwner(sid) {
		return Outcome{Err: domain.ClientUnauthorized}
	}
	out := Outcome{Room: room, Broadcast: BroadcastUserList}
	if target, ok := room.SessionByNickname(nickname); ok {
		delete(room.UserList, target)
		room.KickList[nickname] = domain.KickInfo{Time: now}
		out.DropPointers = []domain.SessionID{target}
	}
	return out
}

// removeTransition is the explicit close-room action: owner-only teardown.
func removeTransition(room *domain.Room, sid domain.SessionID) Outcome {
	if room == nil {
		return Outcome{Err: domain.RoomNotFound}
	}
	if !room.IsOwner(sid) {
		return Outcome{Err: domain.ClientUnauthorized}
	}
	return teardown(room)
}

// disconnectTransition handles a dropped connection that never sent leave.
// An owner dropping dissolves the room and additionally tells the companion
// API the room is over, so its durable record can be cleaned up.
func disconnectTransition(room *domain.Room, sid domain.SessionID) Outcome {
	if room.IsOwner(sid) {
		out := teardown(room)
		out.Notify = NotifyRoomDeleted
		return out
	}
	delete(room.UserList, sid)
	return Outcome{
		Room:         room,
		DropPointers: []domain.SessionID{sid},
		Broadcast:    BroadcastUserList,
		Notify:       NotifyMemberLeft,
	}
}

// teardown deletes the room record together with every remaining member's
// session pointer, so no pointer is left referencing a dead room.
func teardown(room *domain.Room) Outcome {
	return Outcome{
		Delete:       true,
		DropPointers: lo.Keys(room.UserList),
		Broadcast:    BroadcastEmpty,
	}
}
