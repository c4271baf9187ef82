package sessions

import (
	"time"

	"github.com/campus-talks/backend/internal/models"
)

// DeriveStatus is the status every reader presents: an approved session
// whose date has passed is completed, whether or not the completion job
// has persisted that yet.
func DeriveStatus(s models.Session, now time.Time) models.SessionStatus {
	if s.Status == models.SessionApproved && s.Date != nil && s.Date.Before(now) {
		return models.SessionCompleted
	}
	return s.Status
}

// Project returns s with its status derived at now.
func Project(s models.Session, now time.Time) models.Session {
	s.Status = DeriveStatus(s, now)
	return s
}

// Reviewable reports whether faculty may approve or reject a session in status.
func Reviewable(status models.SessionStatus) bool {
	return status == models.SessionProposed || status == models.SessionPending
}

// storedCandidates lists the stored statuses that can project to status.
func storedCandidates(status models.SessionStatus) []interface{} {
	if status == models.SessionCompleted {
		return []interface{}{models.SessionApproved, models.SessionCompleted}
	}
	return []interface{}{status}
}
