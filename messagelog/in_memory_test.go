package messagelog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/embedding"
)

func appendMsg(t *testing.T, log *InMemoryLog, threadID string, ts int64, content string) core.Message {
	t.Helper()
	msg := core.Message{
		ThreadID:  threadID,
		Source:    "user",
		Type:      core.MessageHuman,
		Content:   content,
		LogicalTS: ts,
	}
	id, err := log.Append(context.Background(), msg)
	require.NoError(t, err)
	msg.ID = id
	return msg
}

func TestAppendOrdering(t *testing.T) {
	log := NewInMemoryLog()
	ctx := context.Background()

	appendMsg(t, log, "thread-1", 1, "first")
	appendMsg(t, log, "thread-1", 2, "second")
	appendMsg(t, log, "thread-1", 5, "gap is fine")

	// Equal timestamp is rejected.
	_, err := log.Append(ctx, core.Message{ThreadID: "thread-1", LogicalTS: 5})
	var ordErr *core.OrderingError
	require.ErrorAs(t, err, &ordErr)
	assert.Equal(t, "thread-1", ordErr.ThreadID)
	assert.Equal(t, int64(5), ordErr.Last)

	// Lower timestamp is rejected.
	_, err = log.Append(ctx, core.Message{ThreadID: "thread-1", LogicalTS: 3})
	require.ErrorAs(t, err, &ordErr)

	// Other threads are independent.
	appendMsg(t, log, "thread-2", 1, "fresh thread")
}

func TestNextTimestamp(t *testing.T) {
	log := NewInMemoryLog()
	ctx := context.Background()

	ts, err := log.NextTimestamp(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ts)

	appendMsg(t, log, "t", 1, "a")
	appendMsg(t, log, "t", 7, "b")

	ts, err = log.NextTimestamp(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, int64(8), ts)
}

func TestReadSince(t *testing.T) {
	log := NewInMemoryLog()
	for ts := int64(1); ts <= 5; ts++ {
		appendMsg(t, log, "t", ts, "msg")
	}

	it, err := log.Read(context.Background(), "t", 2)
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
	assert.Equal(t, []int64{3, 4, 5}, got)
}

func TestReadSnapshotIgnoresConcurrentAppends(t *testing.T) {
	log := NewInMemoryLog()
	appendMsg(t, log, "t", 1, "a")

	it, err := log.Read(context.Background(), "t", 0)
	require.NoError(t, err)

	appendMsg(t, log, "t", 2, "b")

	var count int
	for {
		if _, ok := it.Next(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, 1, count)
}

func TestSearch(t *testing.T) {
	embedder := embedding.NewHashEmbedder()
	log := NewInMemoryLog(func(o *Options) {
		o.Embedder = embedder
	})
	ctx := context.Background()

	msgs := []struct {
		content string
		status  string
	}{
		{"deploy the staging cluster", "completed"},
		{"deploy the production cluster", "active"},
		{"write release notes", "completed"},
	}
	for i, m := range msgs {
		_, err := log.Append(ctx, core.Message{
			ThreadID:  "t",
			Content:   m.content,
			LogicalTS: int64(i + 1),
			Metadata:  core.Metadata{Status: m.status},
			CreatedAt: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	query, err := embedder.Embed(ctx, "deploy cluster")
	require.NoError(t, err)

	results, err := log.Search(ctx, core.MessageSearch{QueryEmbedding: query, K: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Message.Content, "deploy")
	assert.Contains(t, results[1].Message.Content, "deploy")
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)

	// Metadata filter narrows candidates before ranking.
	results, err = log.Search(ctx, core.MessageSearch{
		QueryEmbedding: query,
		K:              10,
		Filter:         map[string]any{"status": "active"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "deploy the production cluster", results[0].Message.Content)

	// A threshold above every score yields no results.
	results, err = log.Search(ctx, core.MessageSearch{
		QueryEmbedding:      query,
		K:                   10,
		SimilarityThreshold: 0.999,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSkipsUnembeddedMessages(t *testing.T) {
	log := NewInMemoryLog()
	appendMsg(t, log, "t", 1, "no embedder configured")

	query, err := embedding.NewHashEmbedder().Embed(context.Background(), "anything")
	require.NoError(t, err)

	results, err := log.Search(context.Background(), core.MessageSearch{QueryEmbedding: query, K: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}
