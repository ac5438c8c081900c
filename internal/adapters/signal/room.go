package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/moyeora/socket-server/internal/app"
	"github.com/moyeora/socket-server/internal/domain"
)

// Adapter-level failures, before the coordinator is ever involved.
const (
	errBadPayload      = domain.ErrorCode("badPayload")
	errTooManyAttempts = domain.ErrorCode("tooManyAttempts")
)

func (ctl *RoomWSController) handleJoin(ctx context.Context, sid domain.SessionID, data []byte) {
	type joinPayload struct {
		Type     string `json:"type"`
		RoomID   string `json:"uuid" validate:"required"`
		Nickname string `json:"nickname" validate:"required,nickname"`
		Img      string `json:"img"`
		Field    string `json:"field"`
		MaxHead  int    `json:"maxHead" validate:"required,min=1,max=9"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.Hub.Error(sid, errBadPayload)
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join payload rejected")
		ctl.Hub.Error(sid, errBadPayload)
		return
	}
	if !ctl.limiter.Allow(sid) {
		ctl.Hub.Error(sid, errTooManyAttempts)
		return
	}

	id := domain.RoomID(p.RoomID)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Msg("join")

	// Enter the broadcast group first so the joiner receives the refreshed
	// membership the coordinator fans out. A failed join leaves no trace in
	// the group.
	ctl.Hub.JoinGroup(id, sid)
	joined := ctl.Coord.Join(ctx, sid, app.JoinRequest{
		RoomID:   id,
		Nickname: p.Nickname,
		Img:      p.Img,
		Field:    p.Field,
		MaxHead:  p.MaxHead,
	})
	if !joined {
		ctl.Hub.LeaveGroup(id, sid)
	}
}

func (ctl *RoomWSController) handleLeave(ctx context.Context, sid domain.SessionID, data []byte) {
	type leavePayload struct {
		Type   string `json:"type"`
		RoomID string `json:"uuid" validate:"required"`
	}
	var p leavePayload
	if err := json.Unmarshal(data, &p); err != nil || ctl.validate.Struct(p) != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave payload")
		ctl.Hub.Error(sid, errBadPayload)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Msg("leave")
	ctl.Coord.Leave(ctx, sid, domain.RoomID(p.RoomID))
	ctl.Hub.LeaveGroup(domain.RoomID(p.RoomID), sid)
}

func (ctl *RoomWSController) handleKick(ctx context.Context, sid domain.SessionID, data []byte) {
	type kickPayload struct {
		Type     string `json:"type"`
		RoomID   string `json:"uuid" validate:"required"`
		Nickname string `json:"nickname" validate:"required"`
	}
	var p kickPayload
	if err := json.Unmarshal(data, &p); err != nil || ctl.validate.Struct(p) != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad kick payload")
		ctl.Hub.Error(sid, errBadPayload)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Str("target", p.Nickname).Msg("kick")
	ctl.Coord.Kick(ctx, sid, domain.RoomID(p.RoomID), p.Nickname)
}

func (ctl *RoomWSController) handleRemove(ctx context.Context, sid domain.SessionID, data []byte) {
	type removePayload struct {
		Type   string `json:"type"`
		RoomID string `json:"uuid" validate:"required"`
	}
	var p removePayload
	if err := json.Unmarshal(data, &p); err != nil || ctl.validate.Struct(p) != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad remove payload")
		ctl.Hub.Error(sid, errBadPayload)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Msg("remove")
	ctl.Coord.Remove(ctx, sid, domain.RoomID(p.RoomID))
	// The acting connection detaches from the broadcast group whether or not
	// it was allowed to close the room.
	ctl.Hub.LeaveGroup(domain.RoomID(p.RoomID), sid)
}

func (ctl *RoomWSController) handleVerify(ctx context.Context, sid domain.SessionID, data []byte) {
	type verifyPayload struct {
		Type     string `json:"type"`
		RoomID   string `json:"uuid" validate:"required"`
		Nickname string `json:"nickname" validate:"required,nickname"`
	}
	var p verifyPayload
	if err := json.Unmarshal(data, &p); err != nil || ctl.validate.Struct(p) != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad verify payload")
		ctl.Hub.Error(sid, errBadPayload)
		return
	}
	if !ctl.limiter.Allow(sid) {
		ctl.Hub.Error(sid, errTooManyAttempts)
		return
	}
	ctl.Coord.Verify(ctx, sid, domain.RoomID(p.RoomID), p.Nickname)
}
