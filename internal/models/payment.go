package models

import "time"

// PaymentProviderSimulated captures payments without an external provider.
const PaymentProviderSimulated = "simulated"

// PaymentStatus for registrations.
const (
	PaymentStatusFree     = "free"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

// Payment is a captured registration payment.
type Payment struct {
	Ref        string    `json:"ref"`
	Provider   string    `json:"provider"`
	SessionID  string    `json:"sessionId"`
	AttendeeID string    `json:"attendeeId"`
	Amount     float64   `json:"amount"`
	CapturedAt time.Time `json:"capturedAt"`
}
