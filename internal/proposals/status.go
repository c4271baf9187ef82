package proposals

import (
	"time"

	"github.com/campus-talks/backend/internal/models"
)

// DeriveStatus is the status every reader presents: a scheduled interview
// whose time has passed counts as completed.
func DeriveStatus(p models.SpeakerProposal, now time.Time) models.ProposalStatus {
	if p.Status == models.ProposalScheduled && p.InterviewTimestamp != nil && p.InterviewTimestamp.Before(now) {
		return models.ProposalInterviewCompleted
	}
	return p.Status
}

// Project returns p with its status derived at now.
func Project(p models.SpeakerProposal, now time.Time) models.SpeakerProposal {
	p.Status = DeriveStatus(p, now)
	return p
}

// storedCandidates lists the stored statuses that can project to status.
func storedCandidates(status models.ProposalStatus) []interface{} {
	if status == models.ProposalInterviewCompleted {
		return []interface{}{models.ProposalScheduled}
	}
	return []interface{}{status}
}
