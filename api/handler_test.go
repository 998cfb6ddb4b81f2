package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/swarmgraph/swarmgraph/checkpoint"
	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/embedding"
	"github.com/swarmgraph/swarmgraph/messagelog"
	"github.com/swarmgraph/swarmgraph/registry"
)

type testEnv struct {
	handler     *Handler
	log         core.MessageLog
	checkpoints core.CheckpointStore
	graphs      core.GraphStore
	embedder    embedding.Embedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	embedder := embedding.NewHashEmbedder()
	log := messagelog.NewInMemoryLog(func(o *messagelog.Options) { o.Embedder = embedder })
	checkpoints := checkpoint.NewInMemoryStore(func(o *checkpoint.Options) { o.Embedder = embedder })
	graphs := registry.NewInMemoryStore()
	h := NewHandler(log, checkpoints, graphs, func(o *Options) { o.Embedder = embedder })
	return &testEnv{handler: h, log: log, checkpoints: checkpoints, graphs: graphs, embedder: embedder}
}

func postJSON(t *testing.T, h *Handler, fn func(echo.Context) error, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := fn(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestMatchMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, content := range []string{"the flight to Oslo departs at nine", "invoice for last month"} {
		_, err := env.log.Append(ctx, core.Message{
			SessionID: "s1",
			ThreadID:  "t1",
			RunID:     "r1",
			Source:    "user",
			Type:      core.MessageHuman,
			Content:   content,
			LogicalTS: int64(i + 1),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	rec := postJSON(t, env.handler, env.handler.MatchMessages,
		`{"query": "flight departure", "match_count": 1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Matches []core.ScoredMessage `json:"matches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(resp.Matches))
	}
	if !strings.Contains(resp.Matches[0].Message.Content, "flight") {
		t.Fatalf("unexpected top match: %q", resp.Matches[0].Message.Content)
	}
}

func TestMatchMessagesRequiresQuery(t *testing.T) {
	env := newTestEnv(t)
	rec := postJSON(t, env.handler, env.handler.MatchMessages, `{"match_count": 5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMatchCheckpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, summary := range []string{"booked a flight to Oslo", "resolved a billing dispute"} {
		_, err := env.checkpoints.Save(ctx, core.Checkpoint{
			GraphID:        "main",
			ConversationID: "t1",
			StateData:      json.RawMessage(`{}`),
			Summary:        summary,
		})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	vec, err := env.embedder.Embed(ctx, "flight booking")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	body, _ := json.Marshal(map[string]any{
		"graph_id":        "main",
		"query_embedding": vec,
		"match_count":     1,
	})
	rec := postJSON(t, env.handler, env.handler.MatchCheckpoints, string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Matches []core.ScoredCheckpoint `json:"matches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(resp.Matches))
	}
	if !strings.Contains(resp.Matches[0].Checkpoint.Summary, "flight") {
		t.Fatalf("unexpected top match: %q", resp.Matches[0].Checkpoint.Summary)
	}
}

func TestListGraphs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, g := range []core.GraphMetadata{
		{GraphID: "main", GraphType: "router", IsActive: true},
		{GraphID: "travel", GraphType: "router", IsActive: false},
		{GraphID: "scratch", GraphType: "experiment", IsActive: true},
	} {
		if err := env.graphs.Put(ctx, g); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/graphs?graph_type=router&is_active=true", nil)
	rec := httptest.NewRecorder()
	if err := env.handler.ListGraphs(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Graphs []core.GraphMetadata `json:"graphs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Graphs) != 1 || resp.Graphs[0].GraphID != "main" {
		t.Fatalf("unexpected graphs: %+v", resp.Graphs)
	}
}
