// Package apperr is the error taxonomy shared by the workflow services.
// Callers match on kind with errors.Is against the Err* sentinels.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies why an action was refused.
type Kind string

const (
	KindInvalidTransition       Kind = "invalid_transition"
	KindAlreadyFinalized        Kind = "already_finalized"
	KindAlreadyRegistered       Kind = "already_registered"
	KindAlreadyUpvoted          Kind = "already_upvoted"
	KindPermissionDenied        Kind = "permission_denied"
	KindCapacityExceeded        Kind = "capacity_exceeded"
	KindValidation              Kind = "validation_error"
	KindPromotionTargetNotFound Kind = "promotion_target_not_found"
	KindNotFound                Kind = "not_found"
	KindNotRegistered           Kind = "not_registered"
	KindPaymentFailed           Kind = "payment_failed"
)

// Sentinels for errors.Is.
var (
	ErrInvalidTransition       = &Error{Kind: KindInvalidTransition}
	ErrAlreadyFinalized        = &Error{Kind: KindAlreadyFinalized}
	ErrAlreadyRegistered       = &Error{Kind: KindAlreadyRegistered}
	ErrAlreadyUpvoted          = &Error{Kind: KindAlreadyUpvoted}
	ErrPermissionDenied        = &Error{Kind: KindPermissionDenied}
	ErrCapacityExceeded        = &Error{Kind: KindCapacityExceeded}
	ErrValidation              = &Error{Kind: KindValidation}
	ErrPromotionTargetNotFound = &Error{Kind: KindPromotionTargetNotFound}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrNotRegistered           = &Error{Kind: KindNotRegistered}
	ErrPaymentFailed           = &Error{Kind: KindPaymentFailed}
)

// Error is a classified, user-visible refusal.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field messages for validation errors.
	Fields map[string]string
	// IDs lists the entities a bulk action failed on.
	IDs []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, e.Fields[k])
		}
	}
	if len(e.IDs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.IDs, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error for one field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: "invalid input", Fields: map[string]string{field: message}}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsInformational reports "you already did this" refusals. They carry no
// side effects and are not failures.
func IsInformational(err error) bool {
	switch KindOf(err) {
	case KindAlreadyFinalized, KindAlreadyRegistered, KindAlreadyUpvoted:
		return true
	}
	return false
}

// IsForbidden reports "you are not allowed to do this".
func IsForbidden(err error) bool {
	return KindOf(err) == KindPermissionDenied
}

// IsStateError reports "this isn't in the right state yet".
func IsStateError(err error) bool {
	switch KindOf(err) {
	case KindInvalidTransition, KindCapacityExceeded, KindNotRegistered:
		return true
	}
	return false
}
