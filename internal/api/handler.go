package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-memgraph/internal/detect"
	"github.com/nidhogg/nuka-memgraph/internal/graph"
	"github.com/nidhogg/nuka-memgraph/internal/importance"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
	"github.com/nidhogg/nuka-memgraph/internal/search"
	"github.com/nidhogg/nuka-memgraph/internal/store"
	"go.uber.org/zap"
)

// candidateFactor widens the semantic fetch so filtering still leaves a full page.
const candidateFactor = 2

// SemanticSearcher turns a free-text query into scored observation ids.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.SemanticResult, error)
}

// RelationshipReader exposes the relationship listings served over HTTP.
type RelationshipReader interface {
	HighConfidence(ctx context.Context, threshold float64, limit int) ([]relation.Relationship, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// ImportanceScorer scores a single stored observation.
type ImportanceScorer interface {
	Score(ctx context.Context, id int64) (*importance.Breakdown, error)
}

// DetectRunner runs one detection pass.
type DetectRunner interface {
	Run(ctx context.Context, opts detect.RunOptions) (*detect.Summary, error)
}

// Deps are the handler's collaborators. Graph, Semantic, Detector and Metrics
// may be nil; their routes then answer 503 (or 404 for metrics).
type Deps struct {
	Ranker        *search.Ranker
	Graph         *graph.Engine
	Semantic      SemanticSearcher
	Relationships RelationshipReader
	Importance    ImportanceScorer
	Detector      DetectRunner
	Metrics       http.Handler
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	if h.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Ranking
		r.Post("/search", h.searchQuery)
		r.Post("/search/rank", h.rankResults)

		// Graph queries
		r.Route("/observations/{id}", func(r chi.Router) {
			r.Get("/neighbors", h.neighbors)
			r.Get("/traverse", h.traverse)
			r.Get("/path/{target}", h.shortestPath)
			r.Get("/importance", h.importance)
		})

		// Relationships
		r.Get("/relationships/high-confidence", h.highConfidence)
		r.Get("/relationships/stats", h.relationshipStats)
		r.Post("/detect", h.runDetection)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"graph":    h.deps.Graph != nil,
		"semantic": h.deps.Semantic != nil,
	})
}

type searchRequest struct {
	search.Overrides
	Full bool `json:"full"`
}

type rankRequest struct {
	searchRequest
	Results []search.SemanticResult `json:"results"`
}

func (h *Handler) searchQuery(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if h.deps.Semantic == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "semantic search not configured"})
		return
	}

	opts := req.Apply(h.deps.Ranker.Defaults())
	if strings.TrimSpace(opts.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if opts.Limit <= 0 {
		h.rank(w, r, nil, req)
		return
	}

	results, err := h.deps.Semantic.Search(r.Context(), opts.Query, opts.Limit*candidateFactor)
	if err != nil {
		h.logger.Error("semantic search failed", zap.String("query", opts.Query), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	h.rank(w, r, results, req)
}

func (h *Handler) rankResults(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.rank(w, r, req.Results, req.searchRequest)
}

func (h *Handler) rank(w http.ResponseWriter, r *http.Request, results []search.SemanticResult, req searchRequest) {
	var nbrs search.NeighborSource
	if h.deps.Graph != nil {
		nbrs = h.deps.Graph
	}

	var (
		ranked []search.Result
		err    error
	)
	if req.Full {
		ranked, err = h.deps.Ranker.FullIntelligenceSearch(r.Context(), results, req.Overrides, nbrs)
	} else {
		ranked, err = h.deps.Ranker.Search(r.Context(), results, req.Apply(h.deps.Ranker.Defaults()), nbrs)
	}

	var execErr *search.ExecutionError
	if errors.As(err, &execErr) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   execErr.Error(),
			"context": execErr.Context,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": ranked})
}

func (h *Handler) neighbors(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok || !h.requireGraph(w) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.deps.Graph.Neighbors(r.Context(), id, f)
	if err != nil {
		h.logger.Error("neighbors failed", zap.Int64("observation", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "neighbors": out})
}

func (h *Handler) traverse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok || !h.requireGraph(w) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	depth, err := queryInt(r, "depth", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.deps.Graph.Traverse(r.Context(), id, depth, f)
	if err != nil {
		h.logger.Error("traversal failed", zap.Int64("observation", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) shortestPath(w http.ResponseWriter, r *http.Request) {
	from, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	to, ok := pathID(w, r, "target")
	if !ok || !h.requireGraph(w) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	depth, err := queryInt(r, "depth", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.deps.Graph.ShortestPath(r.Context(), from, to, depth, f)
	if errors.Is(err, graph.ErrNoPath) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no path"})
		return
	}
	if err != nil {
		h.logger.Error("shortest path failed", zap.Int64("from", from), zap.Int64("to", to), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) importance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.deps.Importance.Score(r.Context(), id)
	if errors.Is(err, importance.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "observation not found"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) highConfidence(w http.ResponseWriter, r *http.Request) {
	threshold := 0.85
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threshold must be in [0,1]"})
			return
		}
		threshold = f
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rels, err := h.deps.Relationships.HighConfidence(r.Context(), threshold, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rels == nil {
		rels = []relation.Relationship{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threshold": threshold, "relationships": rels})
}

func (h *Handler) relationshipStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Relationships.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type detectRequest struct {
	Full bool `json:"full"`
}

func (h *Handler) runDetection(w http.ResponseWriter, r *http.Request) {
	if h.deps.Detector == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "detection not configured"})
		return
	}
	var req detectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	// The batch runs to completion even if the client goes away; a cancelled
	// request would otherwise roll back the whole run.
	ctx := context.WithoutCancel(r.Context())
	sum, err := h.deps.Detector.Run(ctx, detect.RunOptions{Full: req.Full})
	if errors.Is(err, detect.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) requireGraph(w http.ResponseWriter) bool {
	if h.deps.Graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "graph store not configured"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// parseFilter reads types (comma separated), min_confidence and limit.
func parseFilter(r *http.Request) (relation.Filter, error) {
	var f relation.Filter
	q := r.URL.Query()
	if v := q.Get("types"); v != "" {
		for _, s := range strings.Split(v, ",") {
			t, err := relation.ParseType(strings.TrimSpace(s))
			if err != nil {
				return f, err
			}
			f.Types = append(f.Types, t)
		}
	}
	if v := q.Get("min_confidence"); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errors.New("invalid min_confidence")
		}
		f.MinConfidence = c
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return f, err
	}
	f.Limit = limit
	return f, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
