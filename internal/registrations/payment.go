package registrations

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campus-talks/backend/internal/models"
)

// ErrDeclined is returned by a gateway that refuses a capture.
var ErrDeclined = errors.New("payment declined")

// PaymentRequest asks a gateway to capture a registration fee.
type PaymentRequest struct {
	SessionID  string
	AttendeeID string
	Amount     float64
}

// PaymentGateway captures and refunds registration payments.
type PaymentGateway interface {
	Capture(ctx context.Context, req PaymentRequest) (models.Payment, error)
	Refund(ctx context.Context, ref string) error
}

// SimulatedGateway approves every capture without an external provider.
type SimulatedGateway struct {
	mu       sync.Mutex
	captured map[string]models.Payment
	now      func() time.Time
}

// NewSimulatedGateway creates a simulated gateway.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{captured: make(map[string]models.Payment), now: time.Now}
}

// Capture implements PaymentGateway.
func (g *SimulatedGateway) Capture(ctx context.Context, req PaymentRequest) (models.Payment, error) {
	if req.Amount <= 0 {
		return models.Payment{}, ErrDeclined
	}
	p := models.Payment{
		Ref:        "sim_" + uuid.New().String(),
		Provider:   models.PaymentProviderSimulated,
		SessionID:  req.SessionID,
		AttendeeID: req.AttendeeID,
		Amount:     req.Amount,
		CapturedAt: g.now().UTC(),
	}
	g.mu.Lock()
	g.captured[p.Ref] = p
	g.mu.Unlock()
	return p, nil
}

// Refund implements PaymentGateway.
func (g *SimulatedGateway) Refund(ctx context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.captured[ref]; !ok {
		return errors.New("unknown payment " + ref)
	}
	delete(g.captured, ref)
	return nil
}

// Captured returns the number of payments currently held.
func (g *SimulatedGateway) Captured() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.captured)
}
