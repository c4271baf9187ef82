package sessions

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/middleware"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/response"
)

// Handler handles session HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// List handles GET /sessions?status=&author=.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), ListFilter{
		Status:   models.SessionStatus(c.Query("status")),
		AuthorID: c.Query("author"),
	})
	if err != nil {
		h.fail(c, "list sessions", err)
		return
	}
	response.OK(c, list)
}

// Ranked handles GET /sessions/ranked?limit=.
func (h *Handler) Ranked(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	list, err := h.svc.Ranked(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "rank sessions", err)
		return
	}
	response.OK(c, list)
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	var req ProposeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.svc.Propose(c.Request.Context(), middleware.Identity(c), req)
	if err != nil {
		h.fail(c, "propose session", err)
		return
	}
	response.Created(c, sess)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	v, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get session", err)
		return
	}
	response.OK(c, v)
}

// Approve handles POST /sessions/:id/approve.
func (h *Handler) Approve(c *gin.Context) {
	sess, err := h.svc.Approve(c.Request.Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, "approve session", err)
		return
	}
	response.OK(c, sess)
}

// Reject handles POST /sessions/:id/reject.
func (h *Handler) Reject(c *gin.Context) {
	var req RejectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.svc.Reject(c.Request.Context(), middleware.Identity(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, "reject session", err)
		return
	}
	response.OK(c, sess)
}

// Review handles POST /sessions/review.
func (h *Handler) Review(c *gin.Context) {
	var req BulkReviewInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	list, err := h.svc.BulkReview(c.Request.Context(), middleware.Identity(c), req)
	if err != nil {
		h.fail(c, "bulk review", err)
		return
	}
	response.OK(c, list)
}

// UpvoteResponse reports a vote outcome.
type UpvoteResponse struct {
	Upvotes int  `json:"upvotes"`
	Voted   bool `json:"voted"`
}

// Upvote handles POST /sessions/:id/upvote.
func (h *Handler) Upvote(c *gin.Context) {
	n, err := h.svc.Upvote(c.Request.Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		if apperr.IsInformational(err) {
			response.Error(c, err, UpvoteResponse{Upvotes: n, Voted: true})
			return
		}
		h.fail(c, "upvote", err)
		return
	}
	response.OK(c, UpvoteResponse{Upvotes: n, Voted: true})
}

// ToggleUpvote handles POST /sessions/:id/upvote/toggle.
func (h *Handler) ToggleUpvote(c *gin.Context) {
	voted, n, err := h.svc.ToggleUpvote(c.Request.Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, "toggle upvote", err)
		return
	}
	response.OK(c, UpvoteResponse{Upvotes: n, Voted: voted})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if apperr.KindOf(err) == "" {
		h.logger.Error(op+" failed", zap.Error(err), zap.String("session_id", c.Param("id")))
	}
	response.Error(c, err)
}
