package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/docstore"
)

// Repository handles session documents.
type Repository struct {
	store docstore.Store
}

// NewRepository creates a session repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Store returns the underlying document store.
func (r *Repository) Store() docstore.Store { return r.store }

// Create inserts a new session.
func (r *Repository) Create(ctx context.Context, s models.Session) error {
	if err := r.store.Create(ctx, models.CollectionSessions, s.ID, s); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get returns a session as stored, or a NotFound error.
func (r *Repository) Get(ctx context.Context, id string) (models.Session, error) {
	doc, err := r.store.Get(ctx, models.CollectionSessions, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.Session{}, apperr.New(apperr.KindNotFound, "session %s not found", id)
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return decode(doc)
}

// Query returns the sessions selected by q, as stored.
func (r *Repository) Query(ctx context.Context, q docstore.Query) ([]models.Session, error) {
	docs, err := r.store.Query(ctx, models.CollectionSessions, q)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	out := make([]models.Session, 0, len(docs))
	for _, d := range docs {
		s, err := decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Transition applies set when the stored status is one of from. It returns
// docstore.ErrConditionFailed when the session has moved on.
func (r *Repository) Transition(ctx context.Context, id string, from []models.SessionStatus, set map[string]interface{}) (models.Session, error) {
	doc, err := r.store.Update(ctx, models.CollectionSessions, id, docstore.Mutation{
		If:  []docstore.Cond{statusIn(from)},
		Set: set,
	})
	if err != nil {
		return models.Session{}, err
	}
	return decode(doc)
}

// TransitionAll applies set to every id atomically, or to none.
func (r *Repository) TransitionAll(ctx context.Context, ids []string, from []models.SessionStatus, set map[string]interface{}) error {
	writes := make([]docstore.Write, 0, len(ids))
	for _, id := range ids {
		writes = append(writes, docstore.Write{
			Kind:       docstore.WriteUpdate,
			Collection: models.CollectionSessions,
			ID:         id,
			Mutation:   docstore.Mutation{If: []docstore.Cond{statusIn(from)}, Set: set},
		})
	}
	return r.store.Batch(ctx, writes)
}

func statusIn(from []models.SessionStatus) docstore.Cond {
	vs := make([]interface{}, len(from))
	for i, s := range from {
		vs[i] = s
	}
	return docstore.In("status", vs...)
}

func decode(doc docstore.Document) (models.Session, error) {
	var s models.Session
	if err := doc.Decode(&s); err != nil {
		return models.Session{}, err
	}
	s.ID = doc.ID
	return s, nil
}
