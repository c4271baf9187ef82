package proposals

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/middleware"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/response"
)

// Handler handles speaker proposal HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a proposals handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Submit handles POST /proposals.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.Submit(c.Request.Context(), middleware.Identity(c), req)
	if err != nil {
		h.fail(c, "submit proposal", err)
		return
	}
	response.Created(c, p)
}

// List handles GET /proposals?status=&student=.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), middleware.Identity(c), ListFilter{
		Status:    models.ProposalStatus(c.Query("status")),
		StudentID: c.Query("student"),
	})
	if err != nil {
		h.fail(c, "list proposals", err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /proposals/:id.
func (h *Handler) Get(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, "get proposal", err)
		return
	}
	response.OK(c, p)
}

// Approve handles POST /proposals/:id/approve.
func (h *Handler) Approve(c *gin.Context) {
	p, err := h.svc.Approve(c.Request.Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, "approve proposal", err)
		return
	}
	response.OK(c, p)
}

// Reject handles POST /proposals/:id/reject.
func (h *Handler) Reject(c *gin.Context) {
	var req RejectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.Reject(c.Request.Context(), middleware.Identity(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, "reject proposal", err)
		return
	}
	response.OK(c, p)
}

// Schedule handles POST /proposals/:id/schedule.
func (h *Handler) Schedule(c *gin.Context) {
	var req ScheduleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.Schedule(c.Request.Context(), middleware.Identity(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, "schedule interview", err)
		return
	}
	response.OK(c, p)
}

// Finalize handles POST /proposals/:id/finalize. A repeat decision answers
// 200 with code already_finalized and the committed proposal.
func (h *Handler) Finalize(c *gin.Context) {
	var req FinalizeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	out, err := h.svc.Finalize(c.Request.Context(), middleware.Identity(c), c.Param("id"), req)
	if err != nil {
		if apperr.IsInformational(err) {
			response.Error(c, err, out)
			return
		}
		h.fail(c, "finalize proposal", err)
		return
	}
	response.OK(c, out)
}

// ResumeUploadURL handles POST /proposals/resume-upload-url.
func (h *Handler) ResumeUploadURL(c *gin.Context) {
	var req ResumeUploadInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	out, err := h.svc.ResumeUploadURL(c.Request.Context(), middleware.Identity(c), req)
	if err != nil {
		h.fail(c, "resume upload url", err)
		return
	}
	response.OK(c, out)
}

// UploadResume handles POST /proposals/resume (multipart field "file").
func (h *Handler) UploadResume(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	f, err := file.Open()
	if err != nil {
		response.BadRequest(c, "cannot read file")
		return
	}
	defer f.Close()
	out, err := h.svc.UploadResume(c.Request.Context(), middleware.Identity(c), ResumeUploadInput{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
	}, f, file.Size)
	if err != nil {
		h.fail(c, "upload resume", err)
		return
	}
	response.Created(c, out)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, ErrResumeStorageDisabled) {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	if apperr.KindOf(err) == "" {
		h.logger.Error(op+" failed", zap.Error(err), zap.String("proposal_id", c.Param("id")))
	}
	response.Error(c, err)
}
