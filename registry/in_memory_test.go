package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgraph/swarmgraph/core"
)

func TestPutGet(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, core.GraphMetadata{GraphID: "main", GraphType: "supervisor", IsActive: true}))

	g, err := store.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "supervisor", g.GraphType)
	assert.True(t, g.IsActive)
	assert.False(t, g.CreatedAt.IsZero())

	_, err = store.Get(ctx, "missing")
	var notFound *core.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPutPreservesCreatedAt(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, core.GraphMetadata{GraphID: "main"}))
	first, err := store.Get(ctx, "main")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, core.GraphMetadata{GraphID: "main", GraphType: "supervisor"}))
	second, err := store.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "supervisor", second.GraphType)
}

func TestListFilter(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, core.GraphMetadata{GraphID: "a", GraphType: "supervisor", IsActive: true}))
	require.NoError(t, store.Put(ctx, core.GraphMetadata{GraphID: "b", GraphType: "worker", IsActive: true}))
	require.NoError(t, store.Put(ctx, core.GraphMetadata{GraphID: "c", GraphType: "worker", IsActive: false}))

	all, err := store.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	workers, err := store.List(ctx, map[string]any{"graph_type": "worker"})
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "b", workers[0].GraphID)

	active, err := store.List(ctx, map[string]any{"graph_type": "worker", "is_active": true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].GraphID)
}

func TestSetLastCheckpointAndActive(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, core.GraphMetadata{GraphID: "main", IsActive: true}))
	require.NoError(t, store.SetLastCheckpoint(ctx, "main", "cp-1"))
	require.NoError(t, store.SetActive(ctx, "main", false))

	g, err := store.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", g.LastCheckpointID)
	assert.False(t, g.IsActive)

	err = store.SetActive(ctx, "missing", true)
	var notFound *core.NotFoundError
	require.ErrorAs(t, err, &notFound)
}
