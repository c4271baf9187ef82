package registrations

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/middleware"
	"github.com/campus-talks/backend/pkg/response"
)

// Handler handles registration HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a registrations handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /sessions/:id/register. The body is optional for
// free sessions.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	reg, err := h.svc.Register(c.Request.Context(), middleware.Identity(c), c.Param("id"), req)
	if err != nil {
		if apperr.IsInformational(err) {
			response.Error(c, err, reg)
			return
		}
		h.fail(c, "register", err)
		return
	}
	response.Created(c, reg)
}

// Unregister handles DELETE /sessions/:id/register.
func (h *Handler) Unregister(c *gin.Context) {
	if err := h.svc.Unregister(c.Request.Context(), middleware.Identity(c), c.Param("id")); err != nil {
		h.fail(c, "unregister", err)
		return
	}
	response.NoContent(c)
}

// List handles GET /sessions/:id/registrations.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, "list registrations", err)
		return
	}
	response.OK(c, list)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if apperr.KindOf(err) == "" {
		h.logger.Error(op+" failed", zap.Error(err), zap.String("session_id", c.Param("id")))
	}
	response.Error(c, err)
}
