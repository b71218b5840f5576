package sessions

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/aura-remote/backend/pkg/response"
)

// Handler exposes read-only session projections over HTTP.
type Handler struct {
	registry *Registry
}

// NewHandler creates a session handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// List handles GET /api/sessions.
func (h *Handler) List(c *gin.Context) {
	response.OK(c, h.registry.ListActiveSessions())
}

// Get handles GET /api/sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	info, err := h.registry.GetSessionInfo(c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to load session")
		return
	}
	response.OK(c, info)
}
