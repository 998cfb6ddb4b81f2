// Package api exposes the semantic query surface over HTTP: similarity
// search across the message log and the checkpoint store, and graph
// registry listings.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/swarmgraph/swarmgraph/core"
	"github.com/swarmgraph/swarmgraph/embedding"
	"github.com/swarmgraph/swarmgraph/logging"
)

// Options holds optional Handler dependencies.
type Options struct {
	// Embedder turns textual queries into query embeddings. Without one,
	// requests must carry query_embedding directly.
	Embedder embedding.Embedder
	Logger   logging.Logger
}

// Handler handles HTTP requests.
type Handler struct {
	log         core.MessageLog
	checkpoints core.CheckpointStore
	graphs      core.GraphStore
	embedder    embedding.Embedder
	logger      logging.Logger
}

// NewHandler creates a handler over the given stores.
func NewHandler(log core.MessageLog, checkpoints core.CheckpointStore, graphs core.GraphStore, optFns ...func(o *Options)) *Handler {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Handler{
		log:         log,
		checkpoints: checkpoints,
		graphs:      graphs,
		embedder:    opts.Embedder,
		logger:      opts.Logger,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/match/messages", h.MatchMessages)
	e.POST("/match/checkpoints", h.MatchCheckpoints)
	e.GET("/graphs", h.ListGraphs)
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// matchRequest is the shared body shape of the match endpoints. Either
// query_embedding or query (with a configured embedder) must be present.
type matchRequest struct {
	QueryEmbedding      []float32      `json:"query_embedding,omitempty"`
	Query               string         `json:"query,omitempty"`
	MatchCount          int            `json:"match_count,omitempty"`
	SimilarityThreshold float64        `json:"similarity_threshold,omitempty"`
	Filter              map[string]any `json:"filter,omitempty"`
	ThreadID            string         `json:"thread_id,omitempty"`
	GraphID             string         `json:"graph_id,omitempty"`
}

func (h *Handler) queryEmbedding(c echo.Context, req *matchRequest) ([]float32, bool, error) {
	if len(req.QueryEmbedding) > 0 {
		return req.QueryEmbedding, true, nil
	}
	if req.Query == "" {
		return nil, false, c.JSON(http.StatusBadRequest, map[string]string{"error": "query_embedding or query is required"})
	}
	if h.embedder == nil {
		return nil, false, c.JSON(http.StatusBadRequest, map[string]string{"error": "no embedder configured; pass query_embedding"})
	}
	vec, err := h.embedder.Embed(c.Request().Context(), req.Query)
	if err != nil {
		h.logger.Error("api.match.embed", "error", err)
		return nil, false, c.JSON(http.StatusBadGateway, map[string]string{"error": "failed to embed query"})
	}
	return vec, true, nil
}

// MatchMessages ranks messages by similarity to the query.
// POST /match/messages
func (h *Handler) MatchMessages(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	vec, ok, err := h.queryEmbedding(c, &req)
	if !ok {
		return err
	}
	matches, err := h.log.Search(c.Request().Context(), core.MessageSearch{
		QueryEmbedding:      vec,
		K:                   req.MatchCount,
		SimilarityThreshold: req.SimilarityThreshold,
		Filter:              req.Filter,
		ThreadID:            req.ThreadID,
	})
	if err != nil {
		h.logger.Error("api.match.messages", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "search failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": matches})
}

// MatchCheckpoints ranks checkpoints by similarity to the query.
// POST /match/checkpoints
func (h *Handler) MatchCheckpoints(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	vec, ok, err := h.queryEmbedding(c, &req)
	if !ok {
		return err
	}
	matches, err := h.checkpoints.Search(c.Request().Context(), core.CheckpointSearch{
		GraphID:        req.GraphID,
		QueryEmbedding: vec,
		K:              req.MatchCount,
		Filter:         req.Filter,
	})
	if err != nil {
		h.logger.Error("api.match.checkpoints", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "search failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": matches})
}

// ListGraphs returns registered graphs, optionally filtered by graph_type
// and is_active query params.
// GET /graphs
func (h *Handler) ListGraphs(c echo.Context) error {
	filter := map[string]any{}
	if gt := c.QueryParam("graph_type"); gt != "" {
		filter["graph_type"] = gt
	}
	switch c.QueryParam("is_active") {
	case "true":
		filter["is_active"] = true
	case "false":
		filter["is_active"] = false
	}
	graphs, err := h.graphs.List(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("api.graphs.list", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "list failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"graphs": graphs})
}
