package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/telecare/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleFeed upgrades the request to a websocket and streams full-row
// snapshots of one session: the current row first, then every committed
// change until the peer disconnects.
func (h *Handler) HandleFeed(ctx context.Context, c *gin.Context) {
	id := domain.SessionID(c.Param("id"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.http").Str("session", string(id)).Msg("feed connected")

	// Subscribe before reading the current row so no commit between the two
	// can be missed. The subscription coalesces any overlap away.
	sub := h.Hub.Subscribe(id)

	sess, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		sub.Cancel()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session"),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)

	go h.feedWritePump(ctx, cancel, ws, sub, sess)
	go h.feedReadPump(ctx, cancel, ws, id)
}

type feedSubscription interface {
	Updates() <-chan domain.CallSession
	Cancel()
}

func (h *Handler) feedWritePump(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sub feedSubscription, first domain.CallSession) {
	defer func() {
		cancel()
		sub.Cancel()
		ws.Close()
	}()

	if !h.writeSnapshot(ws, first) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.http").Msg("feed writePump ctx done")
			return
		case sess, ok := <-sub.Updates():
			if !ok {
				return
			}
			if !h.writeSnapshot(ws, sess) {
				return
			}
		}
	}
}

func (h *Handler) writeSnapshot(ws *websocket.Conn, sess domain.CallSession) bool {
	data, err := json.Marshal(sess)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("feed marshal")
		return false
	}
	if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return false
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("feed write error")
		return false
	}
	return true
}

// feedReadPump discards inbound frames; its job is noticing the disconnect.
func (h *Handler) feedReadPump(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, id domain.SessionID) {
	defer func() {
		log.Info().Str("module", "adapters.http").Str("session", string(id)).Msg("feed closing")
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}
}
