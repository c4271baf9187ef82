package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-talks/backend/pkg/docstore"
	"github.com/campus-talks/backend/pkg/docstore/memstore"
)

type fact struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Cancelled bool   `json:"cancelled"`
}

func TestRecordIsIdempotent(t *testing.T) {
	l := New(memstore.New(), "facts")
	ctx := context.Background()

	var created int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Record(ctx, "s1_u1", fact{SessionID: "s1", UserID: "u1"})
			if err == nil && ok {
				atomic.AddInt32(&created, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created)

	n, err := l.Count(ctx, docstore.Eq("sessionId", "s1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAmendAndCount(t *testing.T) {
	l := New(memstore.New(), "facts")
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c"} {
		_, err := l.Record(ctx, "s1_"+u, fact{SessionID: "s1", UserID: u})
		require.NoError(t, err)
	}
	require.NoError(t, l.Amend(ctx, "s1_b", docstore.Mutation{
		If:  []docstore.Cond{docstore.Eq("cancelled", false)},
		Set: map[string]interface{}{"cancelled": true},
	}))
	err := l.Amend(ctx, "s1_b", docstore.Mutation{
		If:  []docstore.Cond{docstore.Eq("cancelled", false)},
		Set: map[string]interface{}{"cancelled": true},
	})
	require.ErrorIs(t, err, docstore.ErrConditionFailed)

	n, err := l.Count(ctx, docstore.Eq("sessionId", "s1"), docstore.Eq("cancelled", false))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var f fact
	require.NoError(t, l.Get(ctx, "s1_b", &f))
	assert.True(t, f.Cancelled)
}

func TestRemove(t *testing.T) {
	l := New(memstore.New(), "facts")
	ctx := context.Background()
	_, err := l.Record(ctx, "k", fact{})
	require.NoError(t, err)

	ok, err := l.Remove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Remove(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.ErrorIs(t, l.Get(ctx, "k", &fact{}), docstore.ErrNotFound)
}
