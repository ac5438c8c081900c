package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/moyeora/socket-server/internal/domain"
)

func (ctl *RoomWSController) writePump(ctx context.Context, c *WsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *RoomWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid domain.SessionID, c *WsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Hub.Unregister(sid)
		ctl.limiter.Forget(sid)
		// The parent ctx may already be gone by now; teardown still has to
		// reach the store.
		ctl.Coord.Disconnect(context.Background(), sid)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleEvent(ctx, sid, c, data)
		}
	}
}

func (ctl *RoomWSController) handleEvent(ctx context.Context, sid domain.SessionID, c *WsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, sid, data)
	case "leave":
		ctl.handleLeave(ctx, sid, data)
	case "kick":
		ctl.handleKick(ctx, sid, data)
	case "remove":
		ctl.handleRemove(ctx, sid, data)
	case "verify":
		ctl.handleVerify(ctx, sid, data)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *RoomWSController) handlePing(c *WsConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	b, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal pong")
		return
	}
	_ = c.TrySend(b)
}
