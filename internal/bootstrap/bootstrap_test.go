package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-talks/backend/config"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/pkg/docstore"
)

func TestOpenSQLiteWithoutRedis(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{
		Driver:     config.StoreDriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "campus.db"),
	}}
	infra, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer infra.Close()

	require.NoError(t, infra.Store.Create(context.Background(), "sessions", "s1", map[string]string{"id": "s1"}))
	_, err = infra.Store.Watch(context.Background(), "sessions", docstore.Query{})
	assert.ErrorIs(t, err, docstore.ErrWatchUnsupported)

	_, ok := infra.Notifier(nil).(*notify.LogNotifier)
	assert.True(t, ok)
}

func TestOpenMemory(t *testing.T) {
	infra, err := Open(context.Background(), &config.Config{Store: config.StoreConfig{Driver: config.StoreDriverMemory}}, nil)
	require.NoError(t, err)
	defer infra.Close()
	assert.Nil(t, infra.Queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = infra.Store.Watch(ctx, "sessions", docstore.Query{})
	assert.NoError(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Store: config.StoreConfig{Driver: "mongo"}}, nil)
	assert.Error(t, err)
}
