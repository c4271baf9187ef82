package models

import "time"

// SessionStatus is the stored lifecycle state of a session.
type SessionStatus string

const (
	SessionProposed  SessionStatus = "proposed"
	SessionPending   SessionStatus = "pending"
	SessionApproved  SessionStatus = "approved"
	SessionRejected  SessionStatus = "rejected"
	SessionCompleted SessionStatus = "completed"
)

// Session is a proposed or scheduled knowledge-sharing talk.
// AttendeeCount and Upvotes are derived from the registration and upvote
// ledgers; ReservedSeats is the capacity guard counter.
type Session struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	AuthorID        string        `json:"authorId"`
	AuthorName      string        `json:"authorName"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	Date            *time.Time    `json:"date"`
	MaxAttendees    *int          `json:"maxAttendees"`
	AttendeeCount   int           `json:"attendeeCount"`
	ReservedSeats   int           `json:"reservedSeats"`
	Upvotes         int           `json:"upvotes"`
	Price           float64       `json:"price"`
	ApprovedBy      *string       `json:"approvedBy"`
	ApprovedAt      *time.Time    `json:"approvedAt"`
	RejectionReason *string       `json:"rejectionReason"`
	ReviewedBy      *string       `json:"reviewedBy,omitempty"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
}

// IsPaid reports whether registration requires a payment capture.
func (s *Session) IsPaid() bool { return s.Price > 0 }

// SessionView is a session as presented to readers: status projected at
// read time plus the rating aggregate.
type SessionView struct {
	Session
	AverageRating float64 `json:"averageRating"`
	RatingCount   int     `json:"ratingCount"`
}
