// Package store adapts the shared Redis instance both services coordinate
// through. Two kinds of records live side by side: room records serialized
// as JSON under their RoomID, and session pointers holding a bare RoomID
// under the SessionID of the connection that joined it.
//
// Redis offers no cross-operation isolation here; callers that read, decide
// and write back must serialize themselves (see app.Coordinator).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/moyeora/socket-server/internal/domain"
)

type Store struct {
	rdb redis.UniversalClient
}

// New wraps an already-connected client. The caller owns its lifecycle.
func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// GetRoom loads a room record. A missing key is not an error.
func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, bool, error) {
	data, err := s.rdb.Get(ctx, string(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get room %s: %w", id, err)
	}
	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, false, fmt.Errorf("decode room %s: %w", id, err)
	}
	// A record with null lists would hand out nil maps that transitions
	// write into.
	if room.UserList == nil {
		room.UserList = make(map[domain.SessionID]domain.UserInfo)
	}
	if room.KickList == nil {
		room.KickList = make(map[string]domain.KickInfo)
	}
	return &room, true, nil
}

func (s *Store) SaveRoom(ctx context.Context, id domain.RoomID, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", id, err)
	}
	if err := s.rdb.Set(ctx, string(id), data, 0).Err(); err != nil {
		return fmt.Errorf("save room %s: %w", id, err)
	}
	return nil
}

// SaveRoomWithPointer persists the room record and the joining member's
// session pointer in one MULTI so neither lands without the other.
func (s *Store) SaveRoomWithPointer(ctx context.Context, id domain.RoomID, room *domain.Room, sid domain.SessionID) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", id, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, string(id), data, 0)
		pipe.Set(ctx, string(sid), string(id), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save room %s with pointer: %w", id, err)
	}
	return nil
}

// SaveRoomDropPointers writes the updated room record and deletes the given
// members' session pointers together. Used by leave, kick and disconnect of
// a non-owner member.
func (s *Store) SaveRoomDropPointers(ctx context.Context, id domain.RoomID, room *domain.Room, sids []domain.SessionID) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", id, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, string(id), data, 0)
		for _, sid := range sids {
			pipe.Del(ctx, string(sid))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update room %s: %w", id, err)
	}
	return nil
}

// DeleteRoom removes the room record and every listed member's session
// pointer in one MULTI, so no pointer survives its room.
func (s *Store) DeleteRoom(ctx context.Context, id domain.RoomID, sids []domain.SessionID) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, string(id))
		for _, sid := range sids {
			pipe.Del(ctx, string(sid))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	return nil
}

// RoomOf resolves the session pointer of one connection.
func (s *Store) RoomOf(ctx context.Context, sid domain.SessionID) (domain.RoomID, bool, error) {
	id, err := s.rdb.Get(ctx, string(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session %s: %w", sid, err)
	}
	return domain.RoomID(id), true, nil
}

// DropPointer removes one session pointer, if present.
func (s *Store) DropPointer(ctx context.Context, sid domain.SessionID) error {
	if err := s.rdb.Del(ctx, string(sid)).Err(); err != nil {
		return fmt.Errorf("del session %s: %w", sid, err)
	}
	return nil
}
