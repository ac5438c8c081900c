package signal

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/moyeora/socket-server/internal/domain"
)

// Sink is the outbound half of a connection, as far as the hub cares.
type Sink interface {
	TrySend([]byte) error
}

// Hub tracks live connections and the broadcast group of each room. It is
// the app.Emitter implementation: room-wide UserList fan-out plus
// point-to-point verify and error delivery.
//
// Group membership is transport bookkeeping only; the store-backed session
// pointer remains the source of truth for who is in which room.
type Hub struct {
	mu     sync.RWMutex
	conns  map[domain.SessionID]Sink
	groups map[domain.RoomID]map[domain.SessionID]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[domain.SessionID]Sink),
		groups: make(map[domain.RoomID]map[domain.SessionID]struct{}),
	}
}

func (h *Hub) Register(sid domain.SessionID, s Sink) {
	h.mu.Lock()
	h.conns[sid] = s
	h.mu.Unlock()
	log.Info().Str("module", "signal.hub").Str("sid", string(sid)).Msg("registered connection")
}

// Unregister drops the connection and removes it from every group.
func (h *Hub) Unregister(sid domain.SessionID) {
	h.mu.Lock()
	delete(h.conns, sid)
	for id, group := range h.groups {
		delete(group, sid)
		if len(group) == 0 {
			delete(h.groups, id)
		}
	}
	h.mu.Unlock()
	log.Info().Str("module", "signal.hub").Str("sid", string(sid)).Msg("unregistered connection")
}

func (h *Hub) JoinGroup(id domain.RoomID, sid domain.SessionID) {
	h.mu.Lock()
	group, ok := h.groups[id]
	if !ok {
		group = make(map[domain.SessionID]struct{})
		h.groups[id] = group
	}
	group[sid] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) LeaveGroup(id domain.RoomID, sid domain.SessionID) {
	h.mu.Lock()
	if group, ok := h.groups[id]; ok {
		delete(group, sid)
		if len(group) == 0 {
			delete(h.groups, id)
		}
	}
	h.mu.Unlock()
}

// GroupSize is used by tests and the controller's debug logging.
func (h *Hub) GroupSize(id domain.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[id])
}

// UserList fans the membership out to every connection in the room's group.
// An empty map announces teardown, after which the group itself is dropped.
func (h *Hub) UserList(id domain.RoomID, users map[domain.SessionID]domain.UserInfo) {
	payload := struct {
		Type     string                               `json:"type"`
		UserList map[domain.SessionID]domain.UserInfo `json:"userList"`
	}{domain.EventUserList, users}

	h.mu.RLock()
	sinks := make([]Sink, 0, len(h.groups[id]))
	for sid := range h.groups[id] {
		if s, ok := h.conns[sid]; ok {
			sinks = append(sinks, s)
		}
	}
	h.mu.RUnlock()

	b, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.hub").Msg("marshal user list")
		return
	}
	for _, s := range sinks {
		if err := s.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "signal.hub").Str("room", string(id)).Msg("dropped broadcast frame")
		}
	}

	if len(users) == 0 {
		h.mu.Lock()
		delete(h.groups, id)
		h.mu.Unlock()
	}
}

// Verify answers an eligibility check to the asking connection only.
func (h *Hub) Verify(sid domain.SessionID, eligible bool) {
	h.sendTo(sid, struct {
		Type     string `json:"type"`
		IsVerify bool   `json:"isVerify"`
	}{domain.EventIsVerify, eligible})
}

// Error reports a failed operation to the initiating connection only.
func (h *Hub) Error(sid domain.SessionID, code domain.ErrorCode) {
	h.sendTo(sid, struct {
		Type  string           `json:"type"`
		Error domain.ErrorCode `json:"error"`
	}{domain.EventError, code})
}

func (h *Hub) sendTo(sid domain.SessionID, v any) {
	h.mu.RLock()
	s, ok := h.conns[sid]
	h.mu.RUnlock()
	if !ok {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.hub").Msg("marshal event")
		return
	}
	if err := s.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal.hub").Str("sid", string(sid)).Msg("dropped frame")
	}
}
