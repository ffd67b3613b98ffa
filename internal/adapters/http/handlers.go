package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Cast/internal/app/orch"
	"github.com/dkeye/Cast/internal/config"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type CreateSessionRequest struct {
	Kind        string `json:"kind"`
	SessionType string `json:"session_type"`
}

type PostMessageRequest struct {
	Username string `json:"username"`
	Body     string `json:"body"`
	Message  string `json:"message"`
}

type StatusResponse struct {
	Message string `json:"message"`
}

type handlers struct {
	orch *orch.Orchestrator
	cfg  *config.Config
}

// fail maps domain errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, domain.ErrCapacityExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "no free session code, retry later"})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	}
}

func (h *handlers) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "missing or invalid body"})
		return
	}
	raw := req.Kind
	if raw == "" {
		raw = req.SessionType
	}
	kind, err := domain.ParseSessionKind(raw)
	if err != nil {
		fail(c, err)
		return
	}
	s, err := h.orch.CreateSession(kind)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handlers) getSession(c *gin.Context) {
	s, err := h.orch.Resolve(c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handlers) closeSession(c *gin.Context) {
	key := c.Param("key")
	if s, err := h.orch.Resolve(key); err == nil {
		key = string(s.Code)
	}
	h.orch.CloseSession(key)
	c.JSON(http.StatusOK, StatusResponse{Message: "Session closed"})
}

func (h *handlers) listMessages(c *gin.Context) {
	s, err := h.orch.Resolve(c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	msgs, err := h.orch.History(s.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *handlers) postMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "missing or invalid body"})
		return
	}
	s, err := h.orch.Resolve(c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	body := req.Body
	if body == "" {
		body = req.Message
	}
	m, err := h.orch.PostMessage(s.ID, req.Username, body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *handlers) sessionStats(c *gin.Context) {
	s, err := h.orch.Resolve(c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	st, err := h.orch.Stats(s.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ice_servers": h.cfg.ICEServers})
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.orch.Directory.Count(),
		"channels": h.orch.Registry.Count(),
		"relays":   h.orch.Relay.Sessions(),
		"logs":     h.orch.Messages.Sessions(),
	})
}
