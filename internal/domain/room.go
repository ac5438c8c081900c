// Package domain contains entity without logic beyond small invariant helpers.
package domain

import "time"

type (
	// RoomID is the public identifier of a room, minted by the companion API.
	RoomID string
	// SessionID identifies one live socket connection.
	SessionID string
)

// UserInfo is the per-member payload kept inside a room record.
// Field names on the wire match the companion API's room schema.
type UserInfo struct {
	Nickname string `json:"nickname"`
	Img      string `json:"img"`
	Field    string `json:"field"`
}

// KickInfo marks a banned nickname. Entries are never removed for the
// lifetime of the room.
type KickInfo struct {
	Time time.Time `json:"time"`
}

// Room is the full serialized room record stored under its RoomID.
type Room struct {
	MaxHead  int                    `json:"maxHead"`
	Owner    SessionID              `json:"owner"`
	UserList map[SessionID]UserInfo `json:"userList"`
	KickList map[string]KickInfo    `json:"kickList"`
}

// NewRoom builds a fresh room with the creator as owner and sole member.
func NewRoom(owner SessionID, info UserInfo, maxHead int) *Room {
	return &Room{
		MaxHead:  maxHead,
		Owner:    owner,
		UserList: map[SessionID]UserInfo{owner: info},
		KickList: make(map[string]KickInfo),
	}
}

func (r *Room) IsOwner(sid SessionID) bool { return r.Owner == sid }

func (r *Room) Full() bool { return len(r.UserList) >= r.MaxHead }

func (r *Room) Kicked(nickname string) bool {
	_, ok := r.KickList[nickname]
	return ok
}

// SessionByNickname resolves a member's connection by display name.
// Nicknames are unique per room in practice; first match wins.
func (r *Room) SessionByNickname(nickname string) (SessionID, bool) {
	for sid, info := range r.UserList {
		if info.Nickname == nickname {
			return sid, true
		}
	}
	return "", false
}
