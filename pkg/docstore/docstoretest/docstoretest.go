// Package docstoretest holds the behavior every docstore.Store must share.
package docstoretest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-talks/backend/pkg/docstore"
)

type doc struct {
	Status  string `json:"status"`
	Count   int    `json:"count"`
	Max     int    `json:"max,omitempty"`
	Session string `json:"sessionId,omitempty"`
}

// Run exercises store semantics against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) docstore.Store) {
	t.Run("create get and collision", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "things", "a", doc{Status: "new"}))
		err := s.Create(ctx, "things", "a", doc{Status: "other"})
		require.ErrorIs(t, err, docstore.ErrExists)

		got, err := s.Get(ctx, "things", "a")
		require.NoError(t, err)
		var d doc
		require.NoError(t, got.Decode(&d))
		assert.Equal(t, "new", d.Status)

		_, err = s.Get(ctx, "things", "missing")
		require.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("conditional update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "things", "a", doc{Status: "pending"}))

		_, err := s.Update(ctx, "things", "a", docstore.Mutation{
			If:  []docstore.Cond{docstore.In("status", "pending", "proposed")},
			Set: map[string]interface{}{"status": "approved"},
			Inc: map[string]int64{"count": 2},
		})
		require.NoError(t, err)

		_, err = s.Update(ctx, "things", "a", docstore.Mutation{
			If:  []docstore.Cond{docstore.Eq("status", "pending")},
			Set: map[string]interface{}{"status": "rejected"},
		})
		require.ErrorIs(t, err, docstore.ErrConditionFailed)

		got, err := s.Get(ctx, "things", "a")
		require.NoError(t, err)
		var d doc
		require.NoError(t, got.Decode(&d))
		assert.Equal(t, "approved", d.Status)
		assert.Equal(t, 2, d.Count)
	})

	t.Run("concurrent bounded increments", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "things", "a", doc{Max: 3}))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, "things", "a", docstore.Mutation{
					If:  []docstore.Cond{docstore.Lt("count", 3)},
					Inc: map[string]int64{"count": 1},
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 3, wins)
	})

	t.Run("query filters and orders", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "things", "a", doc{Session: "s1", Count: 2}))
		require.NoError(t, s.Create(ctx, "things", "b", doc{Session: "s1", Count: 5}))
		require.NoError(t, s.Create(ctx, "things", "c", doc{Session: "s2", Count: 9}))

		docs, err := s.Query(ctx, "things", docstore.Query{
			Where:   []docstore.Cond{docstore.Eq("sessionId", "s1")},
			OrderBy: "count",
			Desc:    true,
		})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "b", docs[0].ID)
		assert.Equal(t, "a", docs[1].ID)
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "things", "a", doc{Status: "pending"}))
		require.NoError(t, s.Create(ctx, "things", "b", doc{Status: "rejected"}))

		approve := func(id string) docstore.Write {
			return docstore.Write{Kind: docstore.WriteUpdate, Collection: "things", ID: id, Mutation: docstore.Mutation{
				If:  []docstore.Cond{docstore.Eq("status", "pending")},
				Set: map[string]interface{}{"status": "approved"},
			}}
		}
		err := s.Batch(ctx, []docstore.Write{approve("a"), approve("b")})
		var batchErr *docstore.BatchError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, []string{"b"}, batchErr.Failed)
		require.ErrorIs(t, err, docstore.ErrConditionFailed)

		got, err := s.Get(ctx, "things", "a")
		require.NoError(t, err)
		var d doc
		require.NoError(t, got.Decode(&d))
		assert.Equal(t, "pending", d.Status)
	})

	t.Run("delete with condition", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "things", "a", doc{Status: "x"}))
		require.ErrorIs(t, s.Delete(ctx, "things", "a", docstore.Eq("status", "y")), docstore.ErrConditionFailed)
		require.NoError(t, s.Delete(ctx, "things", "a"))
		require.ErrorIs(t, s.Delete(ctx, "things", "a"), docstore.ErrNotFound)
	})
}

// RunWatch checks that committed writes reach a matching watcher.
func RunWatch(t *testing.T, s docstore.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.Watch(ctx, "things", docstore.Query{Where: []docstore.Cond{docstore.Eq("sessionId", "s1")}})
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, "things", "skip", doc{Session: "s2"}))
	require.NoError(t, s.Create(ctx, "things", "hit", doc{Session: "s1"}))

	select {
	case c := <-ch:
		assert.Equal(t, docstore.ChangeCreated, c.Type)
		assert.Equal(t, "hit", c.Document.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
}
