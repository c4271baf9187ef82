package models

import "time"

// Registration is the ledger fact that one attendee registered for one
// session. Its id is RegistrationID(sessionID, attendeeID).
type Registration struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"sessionId"`
	AttendeeID    string     `json:"attendeeId"`
	AttendeeName  string     `json:"attendeeName"`
	AttendeeEmail string     `json:"attendeeEmail"`
	CreatedAt     time.Time  `json:"createdAt"`
	PaymentAmount float64    `json:"paymentAmount"`
	PaymentStatus string     `json:"paymentStatus"`
	PaymentRef    string     `json:"paymentRef,omitempty"`
	Cancelled     bool       `json:"cancelled"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
}

// RegistrationID is the composite ledger key.
func RegistrationID(sessionID, attendeeID string) string {
	return sessionID + "_" + attendeeID
}
