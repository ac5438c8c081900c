package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/moyeora/socket-server/internal/app"
	"github.com/moyeora/socket-server/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RoomWSController terminates the websocket protocol: upgrade, pumps,
// envelope dispatch and payload validation. Everything stateful goes through
// the coordinator; everything outbound goes through the hub.
type RoomWSController struct {
	Coord    *app.Coordinator
	Hub      *Hub
	limiter  *AttemptLimiter
	validate *validator.Validate

	readLimit int64
}

func NewRoomWSController(coord *app.Coordinator, hub *Hub, readLimit int64, attempts int, window time.Duration) *RoomWSController {
	v := validator.New()
	// Nickname rule shared with the browser client.
	_ = v.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
		return domain.ValidNickname(fl.Field().String())
	})
	return &RoomWSController{
		Coord:     coord,
		Hub:       hub,
		limiter:   NewAttemptLimiter(attempts, window),
		validate:  v,
		readLimit: readLimit,
	}
}

// HandleWS upgrades the request and runs the connection until it drops.
// Each connection gets a fresh session id; identity beyond the connection's
// lifetime is the companion API's concern.
func (ctl *RoomWSController) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	sid := domain.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}
	conn := newWsConn(ws)
	ctl.Hub.Register(sid, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
