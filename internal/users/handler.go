package users

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/middleware"
	"github.com/campus-talks/backend/pkg/response"
)

// Handler handles user HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a users handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Me handles GET /users/me.
func (h *Handler) Me(c *gin.Context) {
	p, err := h.svc.repo.GetProfile(c.Request.Context(), middleware.Identity(c).UID)
	if err != nil {
		response.NotFound(c, "profile not found")
		return
	}
	response.OK(c, p)
}

// ApproveFaculty handles POST /users/:id/approve-faculty.
func (h *Handler) ApproveFaculty(c *gin.Context) {
	p, err := h.svc.ApproveFaculty(c.Request.Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}
