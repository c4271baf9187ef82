package models

import "time"

// ProposalStatus is a speaker proposal lifecycle state.
type ProposalStatus string

const (
	ProposalPending            ProposalStatus = "pending"
	ProposalApproved           ProposalStatus = "approved"
	ProposalRejected           ProposalStatus = "rejected"
	ProposalScheduled          ProposalStatus = "scheduled"
	ProposalInterviewCompleted ProposalStatus = "interview_completed"
	ProposalFinalApproved      ProposalStatus = "final_approved"
	ProposalFinalDisapproved   ProposalStatus = "final_disapproved"
)

// IsFinal reports whether no further transition is possible.
func (s ProposalStatus) IsFinal() bool {
	switch s {
	case ProposalRejected, ProposalFinalApproved, ProposalFinalDisapproved:
		return true
	}
	return false
}

// SpeakerProposal is a student's application to become a speaker.
type SpeakerProposal struct {
	ID                 string         `json:"id"`
	StudentID          string         `json:"studentId"`
	Name               string         `json:"name"`
	Email              string         `json:"email"`
	LinkedIn           string         `json:"linkedin,omitempty"`
	Phone              string         `json:"phone,omitempty"`
	Year               string         `json:"year"`
	Resume             string         `json:"resume"`
	Status             ProposalStatus `json:"status"`
	CreatedAt          time.Time      `json:"createdAt"`
	InterviewDate      string         `json:"interviewDate,omitempty"`
	InterviewTime      string         `json:"interviewTime,omitempty"`
	InterviewVenue     string         `json:"interviewVenue,omitempty"`
	InterviewTimestamp *time.Time     `json:"interviewTimestamp,omitempty"`
	RejectionMessage   string         `json:"rejectionMessage,omitempty"`
	DisapprovalMessage string         `json:"disapprovalMessage,omitempty"`
	ReviewedBy         string         `json:"reviewedBy,omitempty"`
	ReviewedAt         *time.Time     `json:"reviewedAt,omitempty"`
	FinalizedBy        string         `json:"finalizedBy,omitempty"`
	FinalizedAt        *time.Time     `json:"finalizedAt,omitempty"`
}
