package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-talks/backend/internal/ledger"
	"github.com/campus-talks/backend/pkg/docstore"
	"github.com/campus-talks/backend/pkg/docstore/memstore"
)

type parent struct {
	Count int `json:"count"`
	Seats int `json:"seats"`
}

type fact struct {
	ParentID  string `json:"parentId"`
	Cancelled bool   `json:"cancelled"`
}

func activeFacts(id string) []docstore.Cond {
	return []docstore.Cond{docstore.Eq("parentId", id), docstore.Eq("cancelled", false)}
}

func TestRecomputedIgnoresCancelledFacts(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "parents", "p1", parent{Count: 42}))
	l := ledger.New(store, "facts")
	for i, cancelled := range []bool{false, true, false} {
		_, err := l.Record(ctx, docstore.Key("p1", string(rune('a'+i))), fact{ParentID: "p1", Cancelled: cancelled})
		require.NoError(t, err)
	}
	_, err := l.Record(ctx, "other", fact{ParentID: "p2"})
	require.NoError(t, err)

	c := NewRecomputed(store, "parents", "count", l, activeFacts)
	n, err := c.Reconcile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, err := store.Get(ctx, "parents", "p1")
	require.NoError(t, err)
	v, err := Value(doc, "count")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, StrategyRecompute, c.Strategy())
}

func TestAtomicIncrementBelowLimit(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "parents", "p1", parent{}))
	seats := NewAtomic(store, "parents", "seats")

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := seats.IncrementBelow(ctx, "p1", 5); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, granted)

	_, err := seats.IncrementBelow(ctx, "p1", 5)
	require.ErrorIs(t, err, docstore.ErrConditionFailed)
}

func TestAtomicDecrementFloor(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "parents", "p1", parent{}))
	c := NewAtomic(store, "parents", "count")

	n, err := c.Increment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = c.Decrement(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = c.Decrement(ctx, "p1")
	require.ErrorIs(t, err, ErrFloor)
	assert.Equal(t, StrategyAtomic, c.Strategy())
}

func TestAtomicStepCommitsWithFact(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "parents", "p1", parent{}))
	c := NewAtomic(store, "parents", "count")

	fact := docstore.Write{Kind: docstore.WriteCreate, Collection: "facts", ID: "p1_a", Data: map[string]string{"parentId": "p1"}}
	require.NoError(t, store.Batch(ctx, []docstore.Write{fact, c.Step("p1", 1)}))

	// The repeat fails on the fact, so the step is rolled back with it.
	err := store.Batch(ctx, []docstore.Write{fact, c.Step("p1", 1)})
	var batchErr *docstore.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, []string{"p1_a"}, batchErr.Failed)

	doc, err := store.Get(ctx, "parents", "p1")
	require.NoError(t, err)
	n, err := Value(doc, "count")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReconcilerFollowsLedgerChanges(t *testing.T) {
	store := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Create(ctx, "parents", "p1", parent{}))
	l := ledger.New(store, "facts")
	r := NewReconciler(store, NewRecomputed(store, "parents", "count", l, activeFacts), "parentId", nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	_, err := l.Record(ctx, "p1_a", fact{ParentID: "p1"})
	require.NoError(t, err)
	_, err = l.Record(ctx, "p1_b", fact{ParentID: "p1"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		doc, err := store.Get(ctx, "parents", "p1")
		if err != nil {
			return false
		}
		v, _ := Value(doc, "count")
		return v == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestReconcileAll(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "parents", "p1", parent{Count: 9}))
	require.NoError(t, store.Create(ctx, "parents", "p2", parent{Count: 9}))
	l := ledger.New(store, "facts")
	_, err := l.Record(ctx, "p1_a", fact{ParentID: "p1"})
	require.NoError(t, err)
	_, err = l.Record(ctx, "p2_a", fact{ParentID: "p2", Cancelled: true})
	require.NoError(t, err)

	r := NewReconciler(store, NewRecomputed(store, "parents", "count", l, activeFacts), "parentId", nil)
	n, err := r.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, err := store.Get(ctx, "parents", "p2")
	require.NoError(t, err)
	v, err := Value(doc, "count")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}
