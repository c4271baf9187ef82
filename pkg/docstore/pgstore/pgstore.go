// Package pgstore implements docstore.Store on a PostgreSQL JSONB table.
// Single-document mutations take a row lock; batches run in one transaction.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/pkg/docstore"
)

var _ docstore.Store = (*Store)(nil)

// Store persists documents in the documents table (see pkg/database/migrations).
type Store struct {
	pool   *pgxpool.Pool
	feed   docstore.Feed
	logger *zap.Logger
}

// New creates a Postgres-backed store. feed may be nil, in which case Watch
// is unsupported.
func New(pool *pgxpool.Pool, feed docstore.Feed, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, feed: feed, logger: logger}
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	const q = `SELECT data, version, updated_at FROM documents WHERE collection = $1 AND id = $2`
	doc := docstore.Document{Collection: collection, ID: id}
	var data []byte
	err := s.pool.QueryRow(ctx, q, collection, id).Scan(&data, &doc.Version, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc.Data = data
	return doc, nil
}

// Create implements docstore.Store.
func (s *Store) Create(ctx context.Context, collection, id string, data interface{}) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	const q = `INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, 1, NOW(), NOW())
		ON CONFLICT (collection, id) DO NOTHING
		RETURNING version, updated_at`
	doc := docstore.Document{Collection: collection, ID: id, Data: raw}
	err = s.pool.QueryRow(ctx, q, collection, id, string(raw)).Scan(&doc.Version, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.ErrExists
	}
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	s.publish(ctx, docstore.Change{Type: docstore.ChangeCreated, Document: doc})
	return nil
}

// Set implements docstore.Store.
func (s *Store) Set(ctx context.Context, collection, id string, data interface{}) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	const q = `INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, 1, NOW(), NOW())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, version = documents.version + 1, updated_at = NOW()
		RETURNING version, updated_at`
	doc := docstore.Document{Collection: collection, ID: id, Data: raw}
	if err := s.pool.QueryRow(ctx, q, collection, id, string(raw)).Scan(&doc.Version, &doc.UpdatedAt); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	typ := docstore.ChangeUpdated
	if doc.Version == 1 {
		typ = docstore.ChangeCreated
	}
	s.publish(ctx, docstore.Change{Type: typ, Document: doc})
	return nil
}

// Update implements docstore.Store.
func (s *Store) Update(ctx context.Context, collection, id string, m docstore.Mutation) (docstore.Document, error) {
	var doc docstore.Document
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		doc, err = updateLocked(ctx, tx, collection, id, m)
		return err
	})
	if err != nil {
		return docstore.Document{}, err
	}
	s.publish(ctx, docstore.Change{Type: docstore.ChangeUpdated, Document: doc})
	return doc, nil
}

func lockRow(ctx context.Context, tx pgx.Tx, collection, id string) (map[string]interface{}, int64, error) {
	const q = `SELECT data, version FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`
	var data []byte
	var version int64
	err := tx.QueryRow(ctx, q, collection, id).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, docstore.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("lock %s/%s: %w", collection, id, err)
	}
	fields, err := docstore.Fields(json.RawMessage(data))
	if err != nil {
		return nil, 0, err
	}
	return fields, version, nil
}

func updateLocked(ctx context.Context, tx pgx.Tx, collection, id string, m docstore.Mutation) (docstore.Document, error) {
	fields, _, err := lockRow(ctx, tx, collection, id)
	if err != nil {
		return docstore.Document{}, err
	}
	ok, err := docstore.Match(fields, m.If)
	if err != nil {
		return docstore.Document{}, err
	}
	if !ok {
		return docstore.Document{}, docstore.ErrConditionFailed
	}
	if err := docstore.Apply(fields, m); err != nil {
		return docstore.Document{}, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return docstore.Document{}, err
	}
	const q = `UPDATE documents SET data = $3::jsonb, version = version + 1, updated_at = NOW()
		WHERE collection = $1 AND id = $2
		RETURNING version, updated_at`
	doc := docstore.Document{Collection: collection, ID: id, Data: raw}
	if err := tx.QueryRow(ctx, q, collection, id, string(raw)).Scan(&doc.Version, &doc.UpdatedAt); err != nil {
		return docstore.Document{}, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, collection, id string, conds ...docstore.Cond) error {
	var last []byte
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		fields, _, err := lockRow(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		ok, err := docstore.Match(fields, conds)
		if err != nil {
			return err
		}
		if !ok {
			return docstore.ErrConditionFailed
		}
		last, _ = json.Marshal(fields)
		_, err = tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, docstore.Change{Type: docstore.ChangeDeleted, Document: docstore.Document{
		Collection: collection, ID: id, Data: last, UpdatedAt: time.Now().UTC(),
	}})
	return nil
}

// Query implements docstore.Store. Equality conditions are pushed down as a
// JSONB containment filter; the rest are evaluated in process.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	sql := `SELECT id, data, version, updated_at FROM documents WHERE collection = $1`
	args := []interface{}{collection}
	if contains := containment(q.Where); contains != nil {
		sql += ` AND data @> $2::jsonb`
		args = append(args, string(contains))
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var entries []docstore.Entry
	for rows.Next() {
		doc := docstore.Document{Collection: collection}
		var data []byte
		if err := rows.Scan(&doc.ID, &data, &doc.Version, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Data = data
		fields, err := docstore.Fields(json.RawMessage(data))
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

func containment(conds []docstore.Cond) []byte {
	m := make(map[string]interface{})
	for _, c := range conds {
		if c.Op == docstore.OpEq && c.Value != nil {
			m[c.Field] = c.Value
		}
	}
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return raw
}

// Batch implements docstore.Store in a single transaction.
func (s *Store) Batch(ctx context.Context, writes []docstore.Write) error {
	var changes []docstore.Change
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		changes = changes[:0]
		var failed []string
		for _, w := range writes {
			change, err := s.applyWrite(ctx, tx, w)
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

func (s *Store) applyWrite(ctx context.Context, tx pgx.Tx, w docstore.Write) (docstore.Change, error) {
	switch w.Kind {
	case docstore.WriteCreate, docstore.WriteSet:
		raw, err := encode(w.Data)
		if err != nil {
			return docstore.Change{}, err
		}
		q := `INSERT INTO documents (collection, id, data, version, created_at, updated_at)
			VALUES ($1, $2, $3::jsonb, 1, NOW(), NOW())`
		if w.Kind == docstore.WriteCreate {
			q += ` ON CONFLICT (collection, id) DO NOTHING`
		} else {
			q += ` ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, version = documents.version + 1, updated_at = NOW()`
		}
		q += ` RETURNING version, updated_at`
		doc := docstore.Document{Collection: w.Collection, ID: w.ID, Data: raw}
		err = tx.QueryRow(ctx, q, w.Collection, w.ID, string(raw)).Scan(&doc.Version, &doc.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Change{}, docstore.ErrExists
		}
		if err != nil {
			return docstore.Change{}, err
		}
		typ := docstore.ChangeUpdated
		if doc.Version == 1 {
			typ = docstore.ChangeCreated
		}
		return docstore.Change{Type: typ, Document: doc}, nil
	case docstore.WriteUpdate:
		doc, err := updateLocked(ctx, tx, w.Collection, w.ID, w.Mutation)
		if err != nil {
			return docstore.Change{}, err
		}
		return docstore.Change{Type: docstore.ChangeUpdated, Document: doc}, nil
	case docstore.WriteDelete:
		fields, _, err := lockRow(ctx, tx, w.Collection, w.ID)
		if err != nil {
			return docstore.Change{}, err
		}
		last, _ := json.Marshal(fields)
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, w.Collection, w.ID); err != nil {
			return docstore.Change{}, err
		}
		return docstore.Change{Type: docstore.ChangeDeleted, Document: docstore.Document{
			Collection: w.Collection, ID: w.ID, Data: last, UpdatedAt: time.Now().UTC(),
		}}, nil
	}
	return docstore.Change{}, fmt.Errorf("pgstore: unknown write kind %d", w.Kind)
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

func (s *Store) publish(ctx context.Context, c docstore.Change) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, c); err != nil {
		s.logger.Warn("publish change failed", zap.Error(err),
			zap.String("collection", c.Document.Collection), zap.String("id", c.Document.ID))
	}
}

func encode(data interface{}) ([]byte, error) {
	fields, err := docstore.Fields(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}
