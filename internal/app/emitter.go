package app

import "github.com/moyeora/socket-server/internal/domain"

// Emitter delivers coordinator results to connected clients. Implemented by
// the signal adapter's hub; the coordinator never sees a socket.
type Emitter interface {
	// UserList fans the given membership out to every connection in the
	// room's broadcast group. An empty map means the room is gone.
	UserList(id domain.RoomID, users map[domain.SessionID]domain.UserInfo)
	// Verify answers an eligibility check, point-to-point.
	Verify(sid domain.SessionID, eligible bool)
	// Error reports a failed operation to the initiating connection only.
	Error(sid domain.SessionID, code domain.ErrorCode)
}
