package proposals

import (
	"context"
	"errors"
	"fmt"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/docstore"
)

// Repository handles speaker proposal documents.
type Repository struct {
	store docstore.Store
}

// NewRepository creates a proposal repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Create inserts p. It reports false when a proposal with the same id
// already exists.
func (r *Repository) Create(ctx context.Context, p models.SpeakerProposal) (bool, error) {
	err := r.store.Create(ctx, models.CollectionSpeakerProposals, p.ID, p)
	if errors.Is(err, docstore.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create proposal: %w", err)
	}
	return true, nil
}

// Get returns a proposal as stored, or a NotFound error.
func (r *Repository) Get(ctx context.Context, id string) (models.SpeakerProposal, error) {
	doc, err := r.store.Get(ctx, models.CollectionSpeakerProposals, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.SpeakerProposal{}, apperr.New(apperr.KindNotFound, "proposal %s not found", id)
	}
	if err != nil {
		return models.SpeakerProposal{}, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return decode(doc)
}

// Query returns the proposals selected by q, as stored.
func (r *Repository) Query(ctx context.Context, q docstore.Query) ([]models.SpeakerProposal, error) {
	docs, err := r.store.Query(ctx, models.CollectionSpeakerProposals, q)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	out := make([]models.SpeakerProposal, 0, len(docs))
	for _, d := range docs {
		p, err := decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Transition applies set when every condition in when still holds. It
// returns docstore.ErrConditionFailed when the proposal has moved on.
func (r *Repository) Transition(ctx context.Context, id string, when []docstore.Cond, set map[string]interface{}) (models.SpeakerProposal, error) {
	doc, err := r.store.Update(ctx, models.CollectionSpeakerProposals, id, docstore.Mutation{If: when, Set: set})
	if err != nil {
		return models.SpeakerProposal{}, err
	}
	return decode(doc)
}

func decode(doc docstore.Document) (models.SpeakerProposal, error) {
	var p models.SpeakerProposal
	if err := doc.Decode(&p); err != nil {
		return models.SpeakerProposal{}, fmt.Errorf("decode proposal: %w", err)
	}
	p.ID = doc.ID
	return p, nil
}
