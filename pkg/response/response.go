package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campus-talks/backend/internal/apperr"
)

// Body is the standard API response envelope. Code carries the refusal kind
// so clients can tell "already done" from "not allowed" from "wrong state".
type Body struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	IDs     []string          `json:"ids,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err, Code: string(apperr.KindValidation)})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err, Code: "unauthorized"})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err, Code: string(apperr.KindPermissionDenied)})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err, Code: string(apperr.KindNotFound)})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err, Code: "conflict"})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err, Code: "unavailable"})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err, Code: "internal"})
}

// Status maps an error kind to its HTTP status.
func Status(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindNotFound, apperr.KindPromotionTargetNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindCapacityExceeded, apperr.KindNotRegistered:
		return http.StatusConflict
	case apperr.KindPaymentFailed:
		return http.StatusPaymentRequired
	case apperr.KindAlreadyFinalized, apperr.KindAlreadyRegistered, apperr.KindAlreadyUpvoted:
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// Error sends err with the status of its kind. Informational refusals are
// sent as a successful body carrying data and the refusal code.
// Unclassified errors become a generic 500.
func Error(c *gin.Context, err error, data ...interface{}) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		Internal(c, "internal error")
		return
	}
	body := Body{Success: apperr.IsInformational(err), Error: e.Error(), Code: string(e.Kind), Fields: e.Fields, IDs: e.IDs}
	if len(data) > 0 {
		body.Data = data[0]
	}
	c.JSON(Status(e.Kind), body)
}
