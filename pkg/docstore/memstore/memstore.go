// Package memstore provides an in-memory docstore.Store used by tests and
// single-process development runs.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/campus-talks/backend/pkg/docstore"
)

var _ docstore.Store = (*Store)(nil)

const watchBuffer = 256

type record struct {
	fields  map[string]interface{}
	version int64
	updated time.Time
}

type watcher struct {
	collection string
	where      []docstore.Cond
	ch         chan docstore.Change
}

// Store keeps documents in process memory. All operations are serialized,
// so single-document mutations and batches are atomic.
type Store struct {
	mu       sync.Mutex
	data     map[string]map[string]*record
	watchers map[int]*watcher
	nextID   int
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data:     make(map[string]map[string]*record),
		watchers: make(map[int]*watcher),
		now:      time.Now,
	}
}

func (s *Store) coll(name string) map[string]*record {
	c, ok := s.data[name]
	if !ok {
		c = make(map[string]*record)
		s.data[name] = c
	}
	return c
}

func toDocument(collection, id string, r *record) docstore.Document {
	raw, _ := json.Marshal(r.fields)
	return docstore.Document{Collection: collection, ID: id, Data: raw, Version: r.version, UpdatedAt: r.updated}
}

func cloneFields(in map[string]interface{}) map[string]interface{} {
	raw, _ := json.Marshal(in)
	out := make(map[string]interface{})
	_ = json.Unmarshal(raw, &out)
	return out
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.coll(collection)[id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return toDocument(collection, id, r), nil
}

// Create implements docstore.Store.
func (s *Store) Create(ctx context.Context, collection, id string, data interface{}) error {
	fields, err := docstore.Fields(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	if _, ok := c[id]; ok {
		return docstore.ErrExists
	}
	r := &record{fields: fields, version: 1, updated: s.now()}
	c[id] = r
	s.publish(docstore.ChangeCreated, collection, id, r)
	return nil
}

// Set implements docstore.Store.
func (s *Store) Set(ctx context.Context, collection, id string, data interface{}) error {
	fields, err := docstore.Fields(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	typ := docstore.ChangeUpdated
	var version int64 = 1
	if prev, ok := c[id]; ok {
		version = prev.version + 1
	} else {
		typ = docstore.ChangeCreated
	}
	r := &record{fields: fields, version: version, updated: s.now()}
	c[id] = r
	s.publish(typ, collection, id, r)
	return nil
}

// Update implements docstore.Store.
func (s *Store) Update(ctx context.Context, collection, id string, m docstore.Mutation) (docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.coll(collection)[id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	next, err := mutate(r, m)
	if err != nil {
		return docstore.Document{}, err
	}
	next.updated = s.now()
	s.coll(collection)[id] = next
	s.publish(docstore.ChangeUpdated, collection, id, next)
	return toDocument(collection, id, next), nil
}

func mutate(r *record, m docstore.Mutation) (*record, error) {
	ok, err := docstore.Match(r.fields, m.If)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, docstore.ErrConditionFailed
	}
	fields := cloneFields(r.fields)
	if err := docstore.Apply(fields, m); err != nil {
		return nil, err
	}
	return &record{fields: fields, version: r.version + 1, updated: r.updated}, nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, collection, id string, conds ...docstore.Cond) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	r, ok := c[id]
	if !ok {
		return docstore.ErrNotFound
	}
	match, err := docstore.Match(r.fields, conds)
	if err != nil {
		return err
	}
	if !match {
		return docstore.ErrConditionFailed
	}
	delete(c, id)
	s.publish(docstore.ChangeDeleted, collection, id, r)
	return nil
}

// Query implements docstore.Store.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	entries := make([]docstore.Entry, 0, len(c))
	for id, r := range c {
		entries = append(entries, docstore.Entry{Doc: toDocument(collection, id, r), Fields: r.fields})
	}
	return docstore.Select(entries, q)
}

type stagedKey struct{ collection, id string }

// Batch implements docstore.Store. Writes are staged against a copy and only
// committed when every write succeeds.
func (s *Store) Batch(ctx context.Context, writes []docstore.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[stagedKey]*record)
	deleted := make(map[stagedKey]bool)
	lookup := func(k stagedKey) (*record, bool) {
		if deleted[k] {
			return nil, false
		}
		if r, ok := staged[k]; ok {
			return r, true
		}
		r, ok := s.coll(k.collection)[k.id]
		return r, ok
	}

	var failed []string
	now := s.now()
	for _, w := range writes {
		k := stagedKey{w.Collection, w.ID}
		cur, exists := lookup(k)
		switch w.Kind {
		case docstore.WriteCreate, docstore.WriteSet:
			if w.Kind == docstore.WriteCreate && exists {
				failed = append(failed, w.ID)
				continue
			}
			fields, err := docstore.Fields(w.Data)
			if err != nil {
				return err
			}
			var version int64 = 1
			if exists {
				version = cur.version + 1
			}
			staged[k] = &record{fields: fields, version: version, updated: now}
			delete(deleted, k)
		case docstore.WriteUpdate:
			if !exists {
				failed = append(failed, w.ID)
				continue
			}
			next, err := mutate(cur, w.Mutation)
			if errors.Is(err, docstore.ErrConditionFailed) {
				failed = append(failed, w.ID)
				continue
			}
			if err != nil {
				return err
			}
			next.updated = now
			staged[k] = next
		case docstore.WriteDelete:
			if !exists {
				failed = append(failed, w.ID)
				continue
			}
			delete(staged, k)
			deleted[k] = true
		default:
			return fmt.Errorf("memstore: unknown write kind %d", w.Kind)
		}
	}
	if len(failed) > 0 {
		return &docstore.BatchError{Failed: failed}
	}

	for k, r := range staged {
		c := s.coll(k.collection)
		typ := docstore.ChangeUpdated
		if _, ok := c[k.id]; !ok {
			typ = docstore.ChangeCreated
		}
		c[k.id] = r
		s.publish(typ, k.collection, k.id, r)
	}
	for k := range deleted {
		c := s.coll(k.collection)
		if r, ok := c[k.id]; ok {
			delete(c, k.id)
			s.publish(docstore.ChangeDeleted, k.collection, k.id, r)
		}
	}
	return nil
}

// Watch implements docstore.Store. The channel closes when ctx is done.
// A watcher that falls more than watchBuffer changes behind misses changes
// and should re-query.
func (s *Store) Watch(ctx context.Context, collection string, q docstore.Query) (<-chan docstore.Change, error) {
	w := &watcher{collection: collection, where: q.Where, ch: make(chan docstore.Change, watchBuffer)}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		close(w.ch)
		s.mu.Unlock()
	}()
	return w.ch, nil
}

// publish must be called with s.mu held.
func (s *Store) publish(typ docstore.ChangeType, collection, id string, r *record) {
	if len(s.watchers) == 0 {
		return
	}
	doc := toDocument(collection, id, r)
	for _, w := range s.watchers {
		if w.collection != collection {
			continue
		}
		if ok, _ := docstore.Match(r.fields, w.where); !ok {
			continue
		}
		select {
		case w.ch <- docstore.Change{Type: typ, Document: doc}:
		default:
		}
	}
}

// SetClock overrides the timestamp source for UpdatedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
