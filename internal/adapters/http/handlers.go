// Package http is the relay server's REST and websocket surface. Peers never
// talk to each other directly; every offer, answer and candidate passes
// through these endpoints into the session store, and row changes flow back
// out through the change feed.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/telecare/internal/domain"
	"github.com/dkeye/telecare/internal/notify"
	"github.com/dkeye/telecare/internal/rooms"
	"github.com/dkeye/telecare/internal/store"
)

type Handler struct {
	Store store.SessionStore
	Hub   *notify.Hub
	Rooms *rooms.Service
}

func NewHandler(st store.SessionStore, hub *notify.Hub, roomSvc *rooms.Service) *Handler {
	return &Handler{Store: st, Hub: hub, Rooms: roomSvc}
}

// CreateSession starts a new scheduled relay row owned by the caller.
func (h *Handler) CreateSession(c *gin.Context) {
	userID := domain.UserID(c.GetString("client_token"))

	sess, err := h.Store.Create(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// ListSessions returns sessions filtered by status, newest first.
func (h *Handler) ListSessions(c *gin.Context) {
	status := domain.SessionStatus(c.DefaultQuery("status", string(domain.StatusScheduled)))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	sessions, err := h.Store.ListByStatus(c.Request.Context(), status)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.Store.Get(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) SetOffer(c *gin.Context) {
	var offer domain.SessionDescription
	if err := c.ShouldBindJSON(&offer); err != nil || offer.SDP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid offer"})
		return
	}

	id := domain.SessionID(c.Param("id"))
	if err := h.Store.SetOffer(c.Request.Context(), id, offer); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetAnswer(c *gin.Context) {
	var answer domain.SessionDescription
	if err := c.ShouldBindJSON(&answer); err != nil || answer.SDP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid answer"})
		return
	}

	id := domain.SessionID(c.Param("id"))
	if err := h.Store.SetAnswer(c.Request.Context(), id, answer); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) AppendCandidate(c *gin.Context) {
	var cand domain.ICECandidate
	if err := c.ShouldBindJSON(&cand); err != nil || cand.Candidate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid candidate"})
		return
	}

	id := domain.SessionID(c.Param("id"))
	if err := h.Store.AppendCandidate(c.Request.Context(), id, cand); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CompleteSession(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	if err := h.Store.Complete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HostedRoomResponse is the hosted-path payload: both participants get the
// same join URL and skip peer negotiation entirely.
type HostedRoomResponse struct {
	RoomURL   string           `json:"roomUrl"`
	RoomName  string           `json:"roomName"`
	SessionID domain.SessionID `json:"sessionId"`
}

func (h *Handler) CreateHostedRoom(c *gin.Context) {
	userID := domain.UserID(c.GetString("client_token"))

	url, sess, err := h.Rooms.CreateHostedSession(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create hosted room")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not create room"})
		return
	}

	c.JSON(http.StatusOK, HostedRoomResponse{
		RoomURL:   url,
		RoomName:  string(sess.RoomID),
		SessionID: sess.ID,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, domain.ErrOfferExists),
		errors.Is(err, domain.ErrAnswerExists),
		errors.Is(err, domain.ErrOfferPending),
		errors.Is(err, domain.ErrSessionCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("store error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
