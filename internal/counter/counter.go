// Package counter maintains denormalized counters on parent documents.
//
// Two strategies exist. Recomputed counts the matching ledger facts and
// writes the result back; it forgets deleted or cancelled facts without
// bookkeeping but is a read-then-write, so two racing recomputes can leave a
// stale value until the next one. Atomic applies store-side increments; it
// is race free but must be told about every removal.
package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/campus-talks/backend/internal/ledger"
	"github.com/campus-talks/backend/pkg/docstore"
)

// Strategy names how a counter is kept.
type Strategy string

const (
	StrategyRecompute Strategy = "recompute"
	StrategyAtomic    Strategy = "atomic"
)

// ErrFloor is returned when a decrement would take the counter below zero.
var ErrFloor = errors.New("counter: already at zero")

// Recomputed derives a parent's counter field from the facts of a ledger.
type Recomputed struct {
	store      docstore.Store
	collection string
	field      string
	ledger     *ledger.Ledger
	// Facts selects the facts that count for a parent.
	facts func(parentID string) []docstore.Cond
}

// NewRecomputed returns a recompute counter for collection.field backed by l.
func NewRecomputed(store docstore.Store, collection, field string, l *ledger.Ledger, facts func(parentID string) []docstore.Cond) *Recomputed {
	return &Recomputed{store: store, collection: collection, field: field, ledger: l, facts: facts}
}

// Strategy implements Counter.
func (r *Recomputed) Strategy() Strategy { return StrategyRecompute }

// Field returns the counter field name.
func (r *Recomputed) Field() string { return r.field }

// Reconcile recounts the facts for parentID and stores the result.
func (r *Recomputed) Reconcile(ctx context.Context, parentID string) (int, error) {
	n, err := r.ledger.Count(ctx, r.facts(parentID)...)
	if err != nil {
		return 0, err
	}
	_, err = r.store.Update(ctx, r.collection, parentID, docstore.Mutation{
		Set: map[string]interface{}{r.field: n},
	})
	if err != nil {
		return 0, fmt.Errorf("store %s.%s for %s: %w", r.collection, r.field, parentID, err)
	}
	return n, nil
}

// Atomic is a counter kept with store-side increments.
type Atomic struct {
	store      docstore.Store
	collection string
	field      string
}

// NewAtomic returns an atomic counter on collection.field.
func NewAtomic(store docstore.Store, collection, field string) *Atomic {
	return &Atomic{store: store, collection: collection, field: field}
}

// Strategy implements Counter.
func (a *Atomic) Strategy() Strategy { return StrategyAtomic }

// Field returns the counter field name.
func (a *Atomic) Field() string { return a.field }

// Increment adds one to the counter when conds hold and returns the new value.
func (a *Atomic) Increment(ctx context.Context, id string, conds ...docstore.Cond) (int, error) {
	return a.add(ctx, id, 1, conds)
}

// IncrementBelow adds one only while the counter is below limit. It returns
// docstore.ErrConditionFailed at the limit.
func (a *Atomic) IncrementBelow(ctx context.Context, id string, limit int, conds ...docstore.Cond) (int, error) {
	return a.add(ctx, id, 1, append(conds, docstore.Lt(a.field, limit)))
}

// Decrement subtracts one, never going below zero.
func (a *Atomic) Decrement(ctx context.Context, id string) (int, error) {
	n, err := a.add(ctx, id, -1, []docstore.Cond{docstore.Ne(a.field, 0)})
	if errors.Is(err, docstore.ErrConditionFailed) {
		return 0, ErrFloor
	}
	return n, err
}

// Step returns the increment as a batched write, for callers that commit
// the counter together with the fact it counts.
func (a *Atomic) Step(id string, delta int64, conds ...docstore.Cond) docstore.Write {
	return docstore.Write{
		Kind:       docstore.WriteUpdate,
		Collection: a.collection,
		ID:         id,
		Mutation:   docstore.Mutation{If: conds, Inc: map[string]int64{a.field: delta}},
	}
}

func (a *Atomic) add(ctx context.Context, id string, delta int64, conds []docstore.Cond) (int, error) {
	doc, err := a.store.Update(ctx, a.collection, id, docstore.Mutation{
		If:  conds,
		Inc: map[string]int64{a.field: delta},
	})
	if err != nil {
		return 0, err
	}
	return Value(doc, a.field)
}

// Counter is either strategy.
type Counter interface {
	Strategy() Strategy
	Field() string
}

// Value reads an integer field from doc.
func Value(doc docstore.Document, field string) (int, error) {
	fields, err := docstore.Fields(doc.Data)
	if err != nil {
		return 0, err
	}
	switch v := fields[field].(type) {
	case float64:
		return int(v), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("counter %s is not numeric", field)
}
