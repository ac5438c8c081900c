package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moyeora/socket-server/internal/domain"
)

const secretHeader = "socket-secret-key"

// Notifier tells the companion API service about room lifecycle changes.
// Both calls are best effort: fired without blocking the coordinator,
// never retried, never surfaced to the client.
type Notifier interface {
	MemberLeft(id domain.RoomID)
	RoomDeleted(id domain.RoomID)
}

// BackendNotifier is the HTTP implementation, authenticated with the shared
// secret both services are configured with.
type BackendNotifier struct {
	base   string
	secret string
	client *http.Client
}

func NewBackendNotifier(base, secret string) *BackendNotifier {
	return &BackendNotifier{
		base:   base,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *BackendNotifier) MemberLeft(id domain.RoomID) {
	go n.send(http.MethodPost, "/api/room/socket/leave/"+string(id), id)
}

func (n *BackendNotifier) RoomDeleted(id domain.RoomID) {
	go n.send(http.MethodDelete, "/api/room/socket/"+string(id), id)
}

func (n *BackendNotifier) send(method, path string, id domain.RoomID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, n.base+path, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "app.notifier").Str("room", string(id)).Msg("build request")
		return
	}
	req.Header.Set(secretHeader, n.secret)

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.notifier").Str("room", string(id)).Msg("backend call failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		log.Warn().Str("module", "app.notifier").Str("room", string(id)).Int("status", resp.StatusCode).Msg("backend call rejected")
	}
}
