// Package httpapi exposes the REST and websocket surface.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	auditrepo "mowerhub/backend/internal/audit/repository"
	devdomain "mowerhub/backend/internal/device/domain"
	"mowerhub/backend/internal/device/store"
	"mowerhub/backend/internal/gateway"
	sessdomain "mowerhub/backend/internal/session/domain"
)

// SessionService is the slice of the session manager the API needs.
type SessionService interface {
	Login(ctx context.Context, creds gateway.Credentials) (sessdomain.Session, error)
	Logout()
	IsHealthy() bool
}

// CommandSubmitter handles command submissions.
type CommandSubmitter interface {
	Dispatch(ctx context.Context, req devdomain.CommandRequest) devdomain.CommandOutcome
}

// WebsocketHandler upgrades a request into a push connection.
type WebsocketHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Handler wires the HTTP surface to the session, dispatch, and state layers.
type Handler struct {
	sessions   SessionService
	dispatcher CommandSubmitter
	states     *store.Store
	hub        WebsocketHandler
	audit      auditrepo.Repository // nil disables the history endpoint
	logger     *zap.Logger
}

func NewHandler(sessions SessionService, dispatcher CommandSubmitter, states *store.Store, hub WebsocketHandler, audit auditrepo.Repository, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:   sessions,
		dispatcher: dispatcher,
		states:     states,
		hub:        hub,
		audit:      audit,
		logger:     logger.Named("httpapi"),
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.health)
	r.GET("/ws", func(c *gin.Context) { h.hub.ServeWS(c.Writer, c.Request) })

	api := r.Group("/api")
	{
		api.POST("/auth/login", h.login)
		api.POST("/auth/logout", h.logout)
		api.GET("/devices", h.listDevices)
		api.GET("/devices/:id", h.getDevice)
		api.POST("/devices/:id/command", h.sendCommand)
		api.GET("/devices/:id/commands", h.commandHistory)
	}
	return r
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	sess, err := h.sessions.Login(c.Request.Context(), gateway.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		var authErr *sessdomain.AuthError
		if errors.As(err, &authErr) {
			switch authErr.Kind {
			case sessdomain.AuthInvalidCredentials:
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			default:
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cloud unavailable, try again later"})
			}
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"email":      sess.Email,
		"created_at": sess.CreatedAt,
	})
}

func (h *Handler) logout(c *gin.Context) {
	h.sessions.Logout()
	c.Status(http.StatusNoContent)
}

func (h *Handler) listDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": h.states.All()})
}

func (h *Handler) getDevice(c *gin.Context) {
	state, ok := h.states.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown device"})
		return
	}
	c.JSON(http.StatusOK, state)
}

type commandBody struct {
	Command string `json:"command" binding:"required"`
}

func (h *Handler) sendCommand(c *gin.Context) {
	var body commandBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	outcome := h.dispatcher.Dispatch(c.Request.Context(), devdomain.CommandRequest{
		DeviceID: c.Param("id"),
		Kind:     devdomain.CommandKind(body.Command),
	})
	c.JSON(outcomeStatus(outcome), outcome)
}

// outcomeStatus maps a dispatch outcome to an HTTP status.
func outcomeStatus(o devdomain.CommandOutcome) int {
	if o.Success {
		return http.StatusOK
	}
	switch o.ErrorKind {
	case devdomain.DispatchErrInvalidCommand:
		return http.StatusBadRequest
	case devdomain.DispatchErrDeviceNotFound:
		return http.StatusNotFound
	case devdomain.DispatchErrAlreadyInProgress:
		return http.StatusConflict
	case devdomain.DispatchErrGatewayUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) commandHistory(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "command history disabled"})
		return
	}
	records, err := h.audit.ListByDevice(c.Request.Context(), c.Param("id"), 50, 0)
	if err != nil {
		h.logger.Error("command history query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": records})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"session_healthy": h.sessions.IsHealthy(),
		"devices":         len(h.states.All()),
	})
}
