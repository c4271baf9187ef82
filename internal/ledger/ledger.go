// Package ledger records idempotent facts: at most one document per
// (subject, actor) key. A repeated action collides on the key and becomes a
// no-op instead of a duplicate effect.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/campus-talks/backend/pkg/docstore"
)

// Ledger is a fact collection in the document store.
type Ledger struct {
	store      docstore.Store
	collection string
}

// New returns the ledger stored in collection.
func New(store docstore.Store, collection string) *Ledger {
	return &Ledger{store: store, collection: collection}
}

// Collection returns the backing collection name.
func (l *Ledger) Collection() string { return l.collection }

// Record writes fact under id. It reports false without writing when a fact
// with that id already exists.
func (l *Ledger) Record(ctx context.Context, id string, fact interface{}) (bool, error) {
	err := l.store.Create(ctx, l.collection, id, fact)
	if errors.Is(err, docstore.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record %s/%s: %w", l.collection, id, err)
	}
	return true, nil
}

// Upsert writes fact under id, replacing any earlier fact.
func (l *Ledger) Upsert(ctx context.Context, id string, fact interface{}) error {
	if err := l.store.Set(ctx, l.collection, id, fact); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", l.collection, id, err)
	}
	return nil
}

// Get decodes the fact stored under id into v. It returns
// docstore.ErrNotFound when there is none.
func (l *Ledger) Get(ctx context.Context, id string, v interface{}) error {
	doc, err := l.store.Get(ctx, l.collection, id)
	if err != nil {
		return err
	}
	return doc.Decode(v)
}

// Amend applies m to the fact under id. Conditions in m guard the change.
func (l *Ledger) Amend(ctx context.Context, id string, m docstore.Mutation) error {
	_, err := l.store.Update(ctx, l.collection, id, m)
	return err
}

// Remove deletes the fact under id and reports whether one was there.
func (l *Ledger) Remove(ctx context.Context, id string) (bool, error) {
	err := l.store.Delete(ctx, l.collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove %s/%s: %w", l.collection, id, err)
	}
	return true, nil
}

// Count returns the number of facts matching where.
func (l *Ledger) Count(ctx context.Context, where ...docstore.Cond) (int, error) {
	docs, err := l.store.Query(ctx, l.collection, docstore.Query{Where: where})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", l.collection, err)
	}
	return len(docs), nil
}

// List returns the facts selected by q.
func (l *Ledger) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	docs, err := l.store.Query(ctx, l.collection, q)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.collection, err)
	}
	return docs, nil
}
