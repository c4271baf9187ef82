package feedback

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/middleware"
	"github.com/campus-talks/backend/pkg/response"
)

// Handler handles feedback HTTP endpoints.
type Handler struct {
	svc     *Service
	ratings *Aggregator
	logger  *zap.Logger
}

// NewHandler creates a feedback handler.
func NewHandler(svc *Service, ratings *Aggregator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, ratings: ratings, logger: logger}
}

// Submit handles PUT /sessions/:id/feedback.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	fb, err := h.svc.Submit(c.Request.Context(), middleware.Identity(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, "submit feedback", err)
		return
	}
	response.OK(c, fb)
}

// Rating handles GET /sessions/:id/rating.
func (h *Handler) Rating(c *gin.Context) {
	r, err := h.ratings.Rating(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "rating", err)
		return
	}
	response.OK(c, r)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if apperr.KindOf(err) == "" {
		h.logger.Error(op+" failed", zap.Error(err), zap.String("session_id", c.Param("id")))
	}
	response.Error(c, err)
}
