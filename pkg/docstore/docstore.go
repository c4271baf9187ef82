// Package docstore defines the document store the workflow engine runs on:
// per-document CRUD, atomic single-document mutations with optional
// compare-and-swap conditions, atomic batches and push-based change feeds.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("docstore: not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("docstore: already exists")
	// ErrConditionFailed is returned when a mutation's If conditions do not hold.
	ErrConditionFailed = errors.New("docstore: condition failed")
)

// Document is a stored JSON document.
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v interface{}) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Mutation is an atomic change to one document. All If conditions must hold
// for Set, Inc and Unset to apply.
type Mutation struct {
	If    []Cond
	Set   map[string]interface{}
	Inc   map[string]int64
	Unset []string
}

// WriteKind selects the operation of a batched write.
type WriteKind int

const (
	WriteCreate WriteKind = iota
	WriteSet
	WriteUpdate
	WriteDelete
)

// Write is one operation inside Batch.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Data       interface{}
	Mutation   Mutation
}

// BatchError reports the documents whose conditions failed. Nothing in the
// batch was committed.
type BatchError struct {
	Failed []string
}

func (e *BatchError) Error() string {
	return "docstore: batch rejected for " + strings.Join(e.Failed, ", ")
}

// Unwrap lets errors.Is match ErrConditionFailed.
func (e *BatchError) Unwrap() error { return ErrConditionFailed }

// Query filters and orders a collection scan.
type Query struct {
	Where   []Cond
	OrderBy string
	Desc    bool
	Limit   int
}

// ChangeType classifies a change feed event.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is pushed to watchers after a write commits. Delivery is at least once.
type Change struct {
	Type     ChangeType `json:"type"`
	Document Document   `json:"document"`
}

// Store is the entity store adapter.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Create(ctx context.Context, collection, id string, data interface{}) error
	Set(ctx context.Context, collection, id string, data interface{}) error
	Update(ctx context.Context, collection, id string, m Mutation) (Document, error)
	Delete(ctx context.Context, collection, id string, conds ...Cond) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Batch(ctx context.Context, writes []Write) error
	Watch(ctx context.Context, collection string, q Query) (<-chan Change, error)
}

// Key joins parts into a composite document id.
func Key(parts ...string) string {
	return strings.Join(parts, "_")
}

// Feed carries committed changes between processes. Stores without native
// change notification publish to a Feed after each commit and serve Watch
// from it.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, collection string) (<-chan Change, error)
}

// ErrWatchUnsupported is returned by Watch when a store has no Feed.
var ErrWatchUnsupported = errors.New("docstore: watch requires a change feed")

// FilterChanges forwards changes from in that satisfy where, closing the
// returned channel when in closes or ctx is done.
func FilterChanges(ctx context.Context, in <-chan Change, where []Cond) <-chan Change {
	if len(where) == 0 {
		return in
	}
	out := make(chan Change, cap(in))
	go func() {
		defer close(out)
		for {
			var c Change
			var ok bool
			select {
			case c, ok = <-in:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
			fields, err := Fields(c.Document.Data)
			if err != nil {
				continue
			}
			if match, _ := Match(fields, where); !match {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
