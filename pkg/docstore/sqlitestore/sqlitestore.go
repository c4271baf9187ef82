// Package sqlitestore implements docstore.Store on an embedded SQLite file.
// The store keeps a single connection, so every operation is serialized and
// mutations are trivially atomic.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/campus-talks/backend/pkg/docstore"
)

var _ docstore.Store = (*Store)(nil)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`

// Store is a SQLite-backed document store.
type Store struct {
	db     *sql.DB
	feed   docstore.Feed
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string, feed docstore.Feed, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("SQLite document store opened", zap.String("path", path))
	return &Store{db: db, feed: feed, logger: logger, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) stamp() string { return s.now().UTC().Format(time.RFC3339Nano) }

type runner interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func load(ctx context.Context, r runner, collection, id string) (map[string]interface{}, docstore.Document, error) {
	doc := docstore.Document{Collection: collection, ID: id}
	var data, updated string
	err := r.QueryRowContext(ctx, `SELECT data, version, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&data, &doc.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return nil, docstore.Document{}, fmt.Errorf("load %s/%s: %w", collection, id, err)
	}
	doc.Data = json.RawMessage(data)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	fields, err := docstore.Fields(doc.Data)
	if err != nil {
		return nil, docstore.Document{}, err
	}
	return fields, doc, nil
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	_, doc, err := load(ctx, s.db, collection, id)
	return doc, err
}

// Create implements docstore.Store.
func (s *Store) Create(ctx context.Context, collection, id string, data interface{}) error {
	return s.single(ctx, docstore.Write{Kind: docstore.WriteCreate, Collection: collection, ID: id, Data: data})
}

// Set implements docstore.Store.
func (s *Store) Set(ctx context.Context, collection, id string, data interface{}) error {
	return s.single(ctx, docstore.Write{Kind: docstore.WriteSet, Collection: collection, ID: id, Data: data})
}

// Update implements docstore.Store.
func (s *Store) Update(ctx context.Context, collection, id string, m docstore.Mutation) (docstore.Document, error) {
	var change docstore.Change
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		change, err = s.apply(ctx, tx, docstore.Write{Kind: docstore.WriteUpdate, Collection: collection, ID: id, Mutation: m})
		return err
	})
	if err != nil {
		return docstore.Document{}, err
	}
	s.publish(ctx, change)
	return change.Document, nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, collection, id string, conds ...docstore.Cond) error {
	return s.single(ctx, docstore.Write{Kind: docstore.WriteDelete, Collection: collection, ID: id,
		Mutation: docstore.Mutation{If: conds}})
}

func (s *Store) single(ctx context.Context, w docstore.Write) error {
	var change docstore.Change
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		change, err = s.apply(ctx, tx, w)
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, change)
	return nil
}

// Query implements docstore.Store.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data, version, updated_at FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()
	var entries []docstore.Entry
	for rows.Next() {
		doc := docstore.Document{Collection: collection}
		var data, updated string
		if err := rows.Scan(&doc.ID, &data, &doc.Version, &updated); err != nil {
			return nil, err
		}
		doc.Data = json.RawMessage(data)
		doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		fields, err := docstore.Fields(doc.Data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, docstore.Entry{Doc: doc, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docstore.Select(entries, q)
}

// Batch implements docstore.Store.
func (s *Store) Batch(ctx context.Context, writes []docstore.Write) error {
	var changes []docstore.Change
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var failed []string
		for _, w := range writes {
			change, err := s.apply(ctx, tx, w)
			switch {
			case errors.Is(err, docstore.ErrConditionFailed),
				errors.Is(err, docstore.ErrNotFound),
				errors.Is(err, docstore.ErrExists):
				failed = append(failed, w.ID)
				continue
			case err != nil:
				return err
			}
			changes = append(changes, change)
		}
		if len(failed) > 0 {
			return &docstore.BatchError{Failed: failed}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, c := range changes {
		s.publish(ctx, c)
	}
	return nil
}

// Watch implements docstore.Store through the configured Feed.
func (s *Store) Watch(ctx context.Context, collection string, q docstore.Query) (<-chan docstore.Change, error) {
	if s.feed == nil {
		return nil, docstore.ErrWatchUnsupported
	}
	ch, err := s.feed.Subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}
	return docstore.FilterChanges(ctx, ch, q.Where), nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, w docstore.Write) (docstore.Change, error) {
	fields, cur, err := load(ctx, tx, w.Collection, w.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return docstore.Change{}, err
	}
	stamp := s.stamp()
	switch w.Kind {
	case docstore.WriteCreate, docstore.WriteSet:
		if w.Kind == docstore.WriteCreate && exists {
			return docstore.Change{}, docstore.ErrExists
		}
		next, err := docstore.Fields(w.Data)
		if err != nil {
			return docstore.Change{}, err
		}
		version := int64(1)
		typ := docstore.ChangeCreated
		if exists {
			version = cur.Version + 1
			typ = docstore.ChangeUpdated
		}
		doc, err := s.write(ctx, tx, w.Collection, w.ID, next, version, stamp)
		if err != nil {
			return docstore.Change{}, err
		}
		return docstore.Change{Type: typ, Document: doc}, nil
	case docstore.WriteUpdate, docstore.WriteDelete:
		if !exists {
			return docstore.Change{}, docstore.ErrNotFound
		}
		ok, err := docstore.Match(fields, w.Mutation.If)
		if err != nil {
			return docstore.Change{}, err
		}
		if !ok {
			return docstore.Change{}, docstore.ErrConditionFailed
		}
		if w.Kind == docstore.WriteDelete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, w.Collection, w.ID); err != nil {
				return docstore.Change{}, err
			}
			return docstore.Change{Type: docstore.ChangeDeleted, Document: cur}, nil
		}
		if err := docstore.Apply(fields, w.Mutation); err != nil {
			return docstore.Change{}, err
		}
		doc, err := s.write(ctx, tx, w.Collection, w.ID, fields, cur.Version+1, stamp)
		if err != nil {
			return docstore.Change{}, err
		}
		return docstore.Change{Type: docstore.ChangeUpdated, Document: doc}, nil
	}
	return docstore.Change{}, fmt.Errorf("sqlitestore: unknown write kind %d", w.Kind)
}

func (s *Store) write(ctx context.Context, tx *sql.Tx, collection, id string, fields map[string]interface{}, version int64, stamp string) (docstore.Document, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return docstore.Document{}, err
	}
	const q = `INSERT INTO documents (collection, id, data, version, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, version = excluded.version, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, collection, id, string(raw), version, stamp); err != nil {
		return docstore.Document{}, fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	updated, _ := time.Parse(time.RFC3339Nano, stamp)
	return docstore.Document{Collection: collection, ID: id, Data: raw, Version: version, UpdatedAt: updated}, nil
}

func (s *Store) publish(ctx context.Context, c docstore.Change) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, c); err != nil {
		s.logger.Warn("publish change failed", zap.Error(err),
			zap.String("collection", c.Document.Collection), zap.String("id", c.Document.ID))
	}
}
