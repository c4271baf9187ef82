package feedback

import (
	"context"
	"fmt"

	"github.com/campus-talks/backend/internal/ledger"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/docstore"
)

// Aggregator derives rating aggregates from the feedback ledger on every
// request, so it never drifts from the facts.
type Aggregator struct {
	facts *ledger.Ledger
}

// NewAggregator creates an aggregator over the feedback ledger.
func NewAggregator(store docstore.Store) *Aggregator {
	return &Aggregator{facts: ledger.New(store, models.CollectionFeedback)}
}

// Rating returns the mean rating and rating count of sessionID.
func (a *Aggregator) Rating(ctx context.Context, sessionID string) (models.Rating, error) {
	list, err := a.List(ctx, sessionID)
	if err != nil {
		return models.Rating{}, err
	}
	r := models.Rating{SessionID: sessionID, Count: len(list)}
	if r.Count == 0 {
		return r, nil
	}
	sum := 0
	for _, fb := range list {
		sum += fb.Rating
	}
	r.Average = float64(sum) / float64(r.Count)
	return r, nil
}

// List returns the feedback facts of sessionID, newest first.
func (a *Aggregator) List(ctx context.Context, sessionID string) ([]models.Feedback, error) {
	docs, err := a.facts.List(ctx, docstore.Query{
		Where:   []docstore.Cond{docstore.Eq("sessionId", sessionID)},
		OrderBy: "updatedAt",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Feedback, 0, len(docs))
	for _, d := range docs {
		var fb models.Feedback
		if err := d.Decode(&fb); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
		out = append(out, fb)
	}
	return out, nil
}
