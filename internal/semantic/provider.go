package semantic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/nuka-memgraph/internal/observation"
	"github.com/nidhogg/nuka-memgraph/internal/search"
	"go.uber.org/zap"
)

const (
	DefaultCollection = "observations"
	fallbackDimension = 1024
)

// Provider answers free-text queries with (observation id, relevance) pairs by
// embedding the query and searching Qdrant. It also indexes observations.
type Provider struct {
	embedder   Embedder
	index      VectorIndex
	collection string
	logger     *zap.Logger
}

// NewProvider creates a semantic provider over the given collection.
func NewProvider(embedder Embedder, index VectorIndex, collection string, logger *zap.Logger) *Provider {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Provider{embedder: embedder, index: index, collection: collection, logger: logger}
}

// Init ensures the collection exists.
func (p *Provider) Init(ctx context.Context) error {
	dim := uint64(p.embedder.Dimension())
	if dim == 0 {
		dim = fallbackDimension
	}
	if err := p.index.EnsureCollection(ctx, p.collection, dim); err != nil {
		return fmt.Errorf("init collection %s: %w", p.collection, err)
	}
	return nil
}

// Search returns up to limit matches for query, best first. Cosine scores are
// clamped into [0,1] so they can be used directly as relevance.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]search.SemanticResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	vectors, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}

	hits, err := p.index.Search(ctx, p.collection, vectors[0], uint64(limit))
	if err != nil {
		return nil, err
	}

	out := make([]search.SemanticResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, search.SemanticResult{ID: h.ID, Relevance: clampUnit(float64(h.Score))})
	}
	p.logger.Debug("semantic search", zap.String("query", query), zap.Int("hits", len(out)))
	return out, nil
}

// Index embeds and upserts observations. Observations with no text are skipped.
func (p *Provider) Index(ctx context.Context, obs ...*observation.Observation) (int, error) {
	var texts []string
	var kept []*observation.Observation
	for _, o := range obs {
		if text := Document(o); text != "" {
			texts = append(texts, text)
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		return 0, nil
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed observations: %w", err)
	}
	if len(vectors) != len(kept) {
		return 0, fmt.Errorf("got %d vectors for %d observations", len(vectors), len(kept))
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	points := make([]Point, len(kept))
	for i, o := range kept {
		points[i] = Point{
			ID:     o.ID,
			Vector: vectors[i],
			Payload: map[string]string{
				"type":             string(o.Type),
				"session_id":       o.SessionID,
				"created_at_epoch": strconv.FormatInt(o.CreatedAtEpoch, 10),
				"indexed_at":       indexedAt,
			},
		}
	}
	if err := p.index.Upsert(ctx, p.collection, points); err != nil {
		return 0, err
	}
	p.logger.Info("observations indexed", zap.Int("count", len(points)), zap.String("collection", p.collection))
	return len(points), nil
}

// Document renders the text embedded for an observation.
func Document(o *observation.Observation) string {
	var parts []string
	if s := strings.TrimSpace(o.Narrative); s != "" {
		parts = append(parts, s)
	}
	for _, f := range o.Facts {
		if s := strings.TrimSpace(f); s != "" {
			parts = append(parts, s)
		}
	}
	if len(o.Concepts) > 0 {
		parts = append(parts, "concepts: "+strings.Join(o.Concepts, ", "))
	}
	return strings.Join(parts, "\n")
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
