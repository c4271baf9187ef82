package registrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/campus-talks/backend/internal/counter"
	"github.com/campus-talks/backend/internal/ledger"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/docstore"
)

// Repository handles the registration ledger.
type Repository struct {
	facts *ledger.Ledger
}

// NewRepository creates a registrations repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{facts: ledger.New(store, models.CollectionRegistrations)}
}

// Get returns the registration fact for (sessionID, attendeeID), cancelled
// or not. It returns docstore.ErrNotFound when there is none.
func (r *Repository) Get(ctx context.Context, sessionID, attendeeID string) (models.Registration, error) {
	var reg models.Registration
	err := r.facts.Get(ctx, models.RegistrationID(sessionID, attendeeID), &reg)
	return reg, err
}

// IsActive reports whether attendeeID holds a non-cancelled registration.
func (r *Repository) IsActive(ctx context.Context, sessionID, attendeeID string) (bool, error) {
	reg, err := r.Get(ctx, sessionID, attendeeID)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !reg.Cancelled, nil
}

// Insert records a new fact. It reports false when the key is taken.
func (r *Repository) Insert(ctx context.Context, reg models.Registration) (bool, error) {
	return r.facts.Record(ctx, reg.ID, reg)
}

// Reactivate turns a cancelled fact back into an active one.
func (r *Repository) Reactivate(ctx context.Context, reg models.Registration) error {
	return r.facts.Amend(ctx, reg.ID, docstore.Mutation{
		If: []docstore.Cond{docstore.Eq("cancelled", true)},
		Set: map[string]interface{}{
			"cancelled":     false,
			"createdAt":     reg.CreatedAt,
			"attendeeName":  reg.AttendeeName,
			"attendeeEmail": reg.AttendeeEmail,
			"paymentAmount": reg.PaymentAmount,
			"paymentStatus": reg.PaymentStatus,
			"paymentRef":    reg.PaymentRef,
		},
		Unset: []string{"cancelledAt"},
	})
}

// Cancel marks an active fact cancelled. It returns
// docstore.ErrConditionFailed when the fact is already cancelled.
func (r *Repository) Cancel(ctx context.Context, id string, set map[string]interface{}) error {
	set["cancelled"] = true
	return r.facts.Amend(ctx, id, docstore.Mutation{
		If:  []docstore.Cond{docstore.Eq("cancelled", false)},
		Set: set,
	})
}

// ListActive returns the active registrations of a session, oldest first.
func (r *Repository) ListActive(ctx context.Context, sessionID string) ([]models.Registration, error) {
	docs, err := r.facts.List(ctx, docstore.Query{
		Where:   ActiveFacts(sessionID),
		OrderBy: "createdAt",
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Registration, 0, len(docs))
	for _, d := range docs {
		var reg models.Registration
		if err := d.Decode(&reg); err != nil {
			return nil, fmt.Errorf("decode registration: %w", err)
		}
		out = append(out, reg)
	}
	return out, nil
}

// ActiveFacts selects the registrations that count toward attendeeCount.
func ActiveFacts(sessionID string) []docstore.Cond {
	return []docstore.Cond{docstore.Eq("sessionId", sessionID), docstore.Eq("cancelled", false)}
}

// NewAttendeeCounter returns the recompute counter behind attendeeCount.
func NewAttendeeCounter(store docstore.Store) *counter.Recomputed {
	return counter.NewRecomputed(store, models.CollectionSessions, "attendeeCount",
		ledger.New(store, models.CollectionRegistrations), ActiveFacts)
}
