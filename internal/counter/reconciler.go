package counter

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/pkg/docstore"
)

// Reconciler re-derives recompute counters whenever their ledger changes.
type Reconciler struct {
	store   docstore.Store
	counter *Recomputed
	// parentField names the fact field that references the parent.
	parentField string
	logger      *zap.Logger
}

// NewReconciler returns a reconciler for counter, keyed by the fact field
// parentField.
func NewReconciler(store docstore.Store, counter *Recomputed, parentField string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, counter: counter, parentField: parentField, logger: logger}
}

// Reconcile recomputes one parent. Failures are logged and left for the next
// ledger change to repair.
func (r *Reconciler) Reconcile(ctx context.Context, parentID string) int {
	n, err := r.counter.Reconcile(ctx, parentID)
	if err != nil {
		r.logger.Warn("counter recompute failed",
			zap.String("field", r.counter.Field()),
			zap.String("parent_id", parentID),
			zap.Error(err),
		)
		return -1
	}
	return n
}

// ReconcileAll recomputes every parent referenced by the ledger.
func (r *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	docs, err := r.counter.ledger.List(ctx, docstore.Query{})
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for _, d := range docs {
		id := r.parentOf(d)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		r.Reconcile(ctx, id)
	}
	return len(seen), nil
}

// Run sweeps the ledger once, then recomputes the parent of every changed
// fact until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	changes, err := r.store.Watch(ctx, r.counter.ledger.Collection(), docstore.Query{})
	if err != nil {
		return err
	}
	// Changes made before the subscription are picked up by one sweep.
	if _, err := r.ReconcileAll(ctx); err != nil {
		r.logger.Warn("initial counter sweep failed", zap.Error(err))
	}
	r.logger.Info("counter reconciler started",
		zap.String("ledger", r.counter.ledger.Collection()),
		zap.String("field", r.counter.Field()),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("counter: change feed closed")
			}
			if id := r.parentOf(c.Document); id != "" {
				r.Reconcile(ctx, id)
			}
		}
	}
}

func (r *Reconciler) parentOf(d docstore.Document) string {
	fields, err := docstore.Fields(d.Data)
	if err != nil {
		return ""
	}
	id, _ := fields[r.parentField].(string)
	return id
}
