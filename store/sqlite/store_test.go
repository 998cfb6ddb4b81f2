package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/embedding"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:", func(o *Options) {
		o.Embedder = embedding.NewHashEmbedder()
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedThread(t *testing.T, store *Store) (sessionID, threadID string) {
	t.Helper()
	ctx := context.Background()
	hier := store.Hierarchy()
	sessionID = core.NewID()
	threadID = core.NewID()
	require.NoError(t, hier.CreateSession(ctx, core.Session{ID: sessionID, CreatedAt: time.Now().UTC()}))
	require.NoError(t, hier.CreateThread(ctx, core.Thread{ID: threadID, SessionID: sessionID, CreatedAt: time.Now().UTC()}))
	return sessionID, threadID
}

func TestHierarchyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hier := store.Hierarchy()
	sessionID, threadID := seedThread(t, store)

	sess, err := hier.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, sess.ID)

	childID := core.NewID()
	require.NoError(t, hier.CreateThread(ctx, core.Thread{
		ID:             childID,
		SessionID:      sessionID,
		ParentThreadID: &threadID,
		CreatedAt:      time.Now().UTC(),
	}))
	child, err := hier.GetThread(ctx, childID)
	require.NoError(t, err)
	require.NotNil(t, child.ParentThreadID)
	assert.Equal(t, threadID, *child.ParentThreadID)

	runID := core.NewID()
	require.NoError(t, hier.CreateRun(ctx, core.Run{
		ID:        runID,
		GraphID:   "main",
		ThreadID:  threadID,
		Status:    core.RunActive,
		StartedAt: time.Now().UTC(),
	}))

	run, err := hier.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunActive, run.Status)
	assert.Nil(t, run.EndedAt)

	require.NoError(t, hier.UpdateRunStatus(ctx, runID, core.RunErrored, "model exploded"))
	run, err = hier.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, core.RunErrored, run.Status)
	assert.Equal(t, "model exploded", run.Error)
	require.NotNil(t, run.EndedAt)

	_, err = hier.GetRun(ctx, "missing")
	var notFound *core.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDuplicateSessionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hier := store.Hierarchy()

	sess := core.Session{ID: "dup", CreatedAt: time.Now().UTC()}
	require.NoError(t, hier.CreateSession(ctx, sess))
	err := hier.CreateSession(ctx, sess)
	var conflict *core.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestMessageAppendOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	log := store.Messages()
	sessionID, threadID := seedThread(t, store)

	for ts := int64(1); ts <= 3; ts++ {
		_, err := log.Append(ctx, core.Message{
			SessionID: sessionID,
			ThreadID:  threadID,
			Source:    "user",
			Type:      core.MessageHuman,
			Content:   "hello",
			LogicalTS: ts,
		})
		require.NoError(t, err)
	}

	_, err := log.Append(ctx, core.Message{ThreadID: threadID, LogicalTS: 2, Content: "late"})
	var ordErr *core.OrderingError
	require.ErrorAs(t, err, &ordErr)
	assert.Equal(t, int64(3), ordErr.Last)

	ts, err := log.NextTimestamp(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), ts)

	it, err := log.Read(ctx, threadID, 1)
	require.NoError(t, err)
	var got []int64
	for {
		m, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, m.LogicalTS)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int64{2, 3}, got)
}

func TestMessageSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	log := store.Messages()
	_, threadID := seedThread(t, store)

	contents := []string{
		"schedule the sprint planning meeting",
		"review sprint planning agenda",
		"order more coffee beans",
	}
	for i, c := range contents {
		_, err := log.Append(ctx, core.Message{
			ThreadID:  threadID,
			Content:   c,
			LogicalTS: int64(i + 1),
			Metadata:  core.Metadata{Status: "completed"},
		})
		require.NoError(t, err)
	}

	query, err := embedding.NewHashEmbedder().Embed(ctx, "sprint planning")
	require.NoError(t, err)

	results, err := log.Search(ctx, core.MessageSearch{QueryEmbedding: query, K: 2, ThreadID: threadID})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Message.Content, "sprint")

	results, err = log.Search(ctx, core.MessageSearch{
		QueryEmbedding: query,
		K:              5,
		Filter:         map[string]any{"status": "archived"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMessageSearchNestedFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	log := store.Messages()
	_, threadID := seedThread(t, store)

	_, err := log.Append(ctx, core.Message{
		ThreadID:  threadID,
		Content:   "book a flight to berlin",
		LogicalTS: 1,
		Metadata: core.Metadata{
			Extra: map[string]any{"ctx": map[string]any{"city": "berlin", "pax": 2}},
		},
	})
	require.NoError(t, err)

	query, err := embedding.NewHashEmbedder().Embed(ctx, "flight berlin")
	require.NoError(t, err)

	// Nested filters survive the JSON round trip through the metadata
	// column and match by containment.
	results, err := log.Search(ctx, core.MessageSearch{
		QueryEmbedding: query,
		K:              5,
		Filter:         map[string]any{"ctx": map[string]any{"city": "berlin"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = log.Search(ctx, core.MessageSearch{
		QueryEmbedding: query,
		K:              5,
		Filter:         map[string]any{"ctx": map[string]any{"city": "paris"}},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCheckpointVersioningAndStability(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cps := store.Checkpoints()

	stableID, err := cps.Save(ctx, core.Checkpoint{
		GraphID:        "g",
		ConversationID: "c",
		StateData:      json.RawMessage(`{"status":"done"}`),
		Summary:        "completed onboarding flow",
		IsStable:       true,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := cps.Save(ctx, core.Checkpoint{GraphID: "g", ConversationID: "c"})
		require.NoError(t, err)
	}

	latest, ok, err := cps.GetLatest(ctx, "g", "c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), latest.Version)

	stable, ok, err := cps.LatestStable(ctx, "g", "c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stableID, stable.ID)

	got, err := cps.Get(ctx, stableID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"done"}`, string(got.StateData))
	assert.Equal(t, core.CheckpointAuto, got.Type)

	// Explicit duplicate version is rejected.
	_, err = cps.Save(ctx, core.Checkpoint{GraphID: "g", ConversationID: "c", Version: 2})
	var conflict *core.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCheckpointSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cps := store.Checkpoints()

	_, err := cps.Save(ctx, core.Checkpoint{
		GraphID:        "g",
		ConversationID: "c1",
		Summary:        "database migration rollout plan",
	})
	require.NoError(t, err)
	_, err = cps.Save(ctx, core.Checkpoint{
		GraphID:        "g",
		ConversationID: "c2",
		Summary:        "weekly standup notes",
	})
	require.NoError(t, err)

	query, err := embedding.NewHashEmbedder().Embed(ctx, "database migration")
	require.NoError(t, err)

	results, err := cps.Search(ctx, core.CheckpointSearch{GraphID: "g", QueryEmbedding: query, K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Checkpoint.Summary, "migration")
}

func TestGraphRegistry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	graphs := store.Graphs()

	require.NoError(t, graphs.Put(ctx, core.GraphMetadata{
		GraphID:   "main",
		GraphType: "supervisor",
		Config:    json.RawMessage(`{"max_depth":5}`),
		IsActive:  true,
	}))
	require.NoError(t, graphs.Put(ctx, core.GraphMetadata{GraphID: "researcher", GraphType: "worker", IsActive: true}))

	g, err := graphs.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "supervisor", g.GraphType)
	assert.JSONEq(t, `{"max_depth":5}`, string(g.Config))

	workers, err := graphs.List(ctx, map[string]any{"graph_type": "worker"})
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "researcher", workers[0].GraphID)

	require.NoError(t, graphs.SetLastCheckpoint(ctx, "main", "cp-9"))
	require.NoError(t, graphs.SetActive(ctx, "main", false))
	g, err = graphs.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "cp-9", g.LastCheckpointID)
	assert.False(t, g.IsActive)
}
