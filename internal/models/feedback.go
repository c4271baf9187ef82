package models

import "time"

// MaxFeedbackComment is the longest accepted comment, in characters.
const MaxFeedbackComment = 150

// Feedback is one rating and comment per (session, attendee). Later
// submissions overwrite earlier ones.
type Feedback struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	AttendeeID string    `json:"attendeeId"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Rating is the aggregate of a session's feedback.
type Rating struct {
	SessionID string  `json:"sessionId"`
	Average   float64 `json:"averageRating"`
	Count     int     `json:"ratingCount"`
}
