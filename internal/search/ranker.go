package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nidhogg/nuka-memgraph/internal/graph"
	"github.com/nidhogg/nuka-memgraph/internal/importance"
	"github.com/nidhogg/nuka-memgraph/internal/metrics"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
	"go.uber.org/zap"
)

// Scoring weights.
const (
	relevanceWeight  = 0.7
	importanceWeight = 0.3
	neighborWeight   = 0.3
)

// SemanticResult is one externally supplied match.
type SemanticResult struct {
	ID        int64   `json:"id"`
	Relevance float64 `json:"relevance"`
}

// Source marks how a result entered the list.
type Source string

const (
	SourceDirect       Source = "direct"
	SourceRelationship Source = "relationship"
)

// Via describes the edge that pulled a neighbor into the results.
type Via struct {
	From       int64         `json:"from"`
	Type       relation.Type `json:"relationship_type"`
	Confidence float64       `json:"confidence"`
}

// Result is a ranked search hit.
type Result struct {
	ID             int64           `json:"id"`
	Relevance      float64         `json:"relevance"`
	Importance     float64         `json:"importance"`
	ImportanceTier importance.Tier `json:"importance_tier,omitempty"`
	CombinedScore  float64         `json:"combined_score"`
	Source         Source          `json:"source"`
	Relationship   *Via            `json:"relationship,omitempty"`
}

// ImportanceSource scores observations by id. Unknown ids are absent from the map.
type ImportanceSource interface {
	Scores(ctx context.Context, ids []int64) (map[int64]importance.Breakdown, error)
}

// NeighborSource returns one-hop neighbors. *graph.Engine satisfies it.
type NeighborSource interface {
	Neighbors(ctx context.Context, id int64, f relation.Filter) ([]graph.Neighbor, error)
}

// Ranker combines semantic relevance, importance and graph neighbors into one list.
// It is stateless per call and safe for concurrent use.
type Ranker struct {
	importance ImportanceSource
	defaults   Options
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRanker creates a ranker with the given default options.
func NewRanker(imp ImportanceSource, defaults Options, logger *zap.Logger) *Ranker {
	return &Ranker{importance: imp, defaults: defaults, logger: logger}
}

// SetMetrics attaches Prometheus collectors.
func (r *Ranker) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Defaults returns the ranker's global default options.
func (r *Ranker) Defaults() Options { return r.defaults }

// Search ranks results according to opts. Invalid options return an *ExecutionError
// immediately. Once options are valid, Search never fails for infrastructure reasons:
// importance failures fall back to semantic order, expansion failures fall back to
// the unexpanded ranking, and a nil graph skips expansion.
func (r *Ranker) Search(ctx context.Context, results []SemanticResult, opts Options, nbrs NeighborSource) ([]Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	if !opts.UseHybridScoring {
		r.metrics.RecordSearch("passthrough", time.Since(start))
		return passthrough(results, opts.Limit), nil
	}

	candidates := dedupe(results, opts.MinRelevance)

	direct, err := r.score(ctx, candidates, opts)
	if err != nil {
		r.logger.Warn("importance scoring failed, using semantic ranking",
			zap.String("query", opts.Query), zap.Error(err))
		r.metrics.RecordDegraded("importance")
		r.metrics.RecordSearch("hybrid", time.Since(start))
		return passthrough(candidates, opts.Limit), nil
	}

	if !opts.ExpandByRelationships {
		r.metrics.RecordSearch("hybrid", time.Since(start))
		return direct, nil
	}

	if nbrs == nil {
		r.logger.Warn("graph store unavailable, skipping expansion", zap.String("query", opts.Query))
		r.metrics.RecordDegraded("graph")
		r.metrics.RecordSearch("hybrid", time.Since(start))
		return direct, nil
	}

	expanded, err := r.expand(ctx, direct, opts, nbrs)
	if err != nil {
		r.logger.Warn("relationship expansion failed, using hybrid results",
			zap.String("query", opts.Query), zap.Error(err))
		r.metrics.RecordDegraded("expansion")
		r.metrics.RecordSearch("hybrid", time.Since(start))
		return direct, nil
	}

	r.metrics.RecordSearch("expanded", time.Since(start))
	r.logger.Debug("search complete",
		zap.String("query", opts.Query),
		zap.Int("semantic", len(results)),
		zap.Int("direct", len(direct)),
		zap.Int("returned", len(expanded)),
		zap.Duration("duration", time.Since(start)))
	return expanded, nil
}

// FullIntelligenceSearch runs Search with hybrid scoring and expansion forced on.
func (r *Ranker) FullIntelligenceSearch(ctx context.Context, results []SemanticResult, ov Overrides, nbrs NeighborSource) ([]Result, error) {
	opts := ov.Apply(r.defaults)
	opts.UseHybridScoring = true
	opts.ExpandByRelationships = true
	return r.Search(ctx, results, opts, nbrs)
}

// score attaches importance to candidates, drops those under MinImportance, then
// sorts by combined score and truncates.
func (r *Ranker) score(ctx context.Context, candidates []SemanticResult, opts Options) ([]Result, error) {
	if len(candidates) == 0 {
		return []Result{}, nil
	}
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	scores, err := r.scores(ctx, ids, opts)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		b := scores[c.ID]
		if b.Score < opts.MinImportance {
			continue
		}
		out = append(out, Result{
			ID:             c.ID,
			Relevance:      c.Relevance,
			Importance:     b.Score,
			ImportanceTier: b.Tier,
			CombinedScore:  relevanceWeight*c.Relevance + importanceWeight*(b.Score/100),
			Source:         SourceDirect,
		})
	}
	sortByScore(out)
	return truncate(out, opts.Limit), nil
}

// expand adds one-hop neighbors of the top half of direct, scored by edge
// confidence and neighbor importance, then merges and re-ranks.
func (r *Ranker) expand(ctx context.Context, direct []Result, opts Options, nbrs NeighborSource) ([]Result, error) {
	seeds := (opts.Limit + 1) / 2
	if seeds > len(direct) {
		seeds = len(direct)
	}

	best := make(map[int64]Via)
	var order []int64
	filter := opts.neighborFilter()

collect:
	for _, seed := range direct[:seeds] {
		found, err := r.neighbors(ctx, nbrs, seed.ID, filter, opts)
		if err != nil {
			return nil, err
		}
		for _, n := range found {
			if n.ID == seed.ID {
				continue
			}
			via := Via{From: seed.ID, Type: n.Relationship.Type, Confidence: n.Relationship.Confidence}
			if prev, ok := best[n.ID]; ok {
				if via.Confidence > prev.Confidence {
					best[n.ID] = via
				}
				continue
			}
			if len(order) >= opts.MaxExpansionResults {
				break collect
			}
			best[n.ID] = via
			order = append(order, n.ID)
		}
	}

	merged := make(map[int64]Result, len(direct)+len(order))
	for _, d := range direct {
		merged[d.ID] = d
	}

	if len(order) > 0 {
		scores, err := r.scores(ctx, order, opts)
		if err != nil {
			return nil, fmt.Errorf("score neighbors: %w", err)
		}
		added := 0
		for _, id := range order {
			b, ok := scores[id]
			// An unscored neighbor is an edge to an observation that no longer exists.
			if !ok || b.Score < opts.MinImportance {
				continue
			}
			via := best[id]
			cand := Result{
				ID:             id,
				Importance:     b.Score,
				ImportanceTier: b.Tier,
				CombinedScore:  neighborWeight * via.Confidence * (b.Score / 100),
				Source:         SourceRelationship,
				Relationship:   &via,
			}
			if existing, ok := merged[id]; ok && existing.CombinedScore >= cand.CombinedScore {
				continue
			}
			merged[id] = cand
			added++
		}
		r.metrics.RecordExpansion(added)
	}

	out := make([]Result, 0, len(merged))
	for _, res := range merged {
		out = append(out, res)
	}
	sortByScore(out)
	return truncate(out, opts.Limit), nil
}

func (r *Ranker) scores(ctx context.Context, ids []int64, opts Options) (map[int64]importance.Breakdown, error) {
	if r.importance == nil {
		return nil, fmt.Errorf("no importance source configured")
	}
	ctx, cancel := withTimeout(ctx, opts.lookupTimeout())
	defer cancel()
	return r.importance.Scores(ctx, ids)
}

func (r *Ranker) neighbors(ctx context.Context, nbrs NeighborSource, id int64, f relation.Filter, opts Options) ([]graph.Neighbor, error) {
	ctx, cancel := withTimeout(ctx, opts.lookupTimeout())
	defer cancel()
	return nbrs.Neighbors(ctx, id, f)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// dedupe drops results under minRelevance and collapses repeated ids into their
// most relevant entry, keeping first-seen order.
func dedupe(results []SemanticResult, minRelevance float64) []SemanticResult {
	out := make([]SemanticResult, 0, len(results))
	pos := make(map[int64]int, len(results))
	for _, res := range results {
		if res.Relevance < minRelevance {
			continue
		}
		if i, ok := pos[res.ID]; ok {
			if res.Relevance > out[i].Relevance {
				out[i].Relevance = res.Relevance
			}
			continue
		}
		pos[res.ID] = len(out)
		out = append(out, res)
	}
	return out
}

// passthrough returns results unchanged except for truncation.
func passthrough(results []SemanticResult, limit int) []Result {
	results = truncateSemantic(results, limit)
	out := make([]Result, len(results))
	for i, res := range results {
		out[i] = Result{
			ID:            res.ID,
			Relevance:     res.Relevance,
			CombinedScore: res.Relevance,
			Source:        SourceDirect,
		}
	}
	return out
}

// sortByScore orders by combined score descending. Ties keep direct matches first,
// then lower ids first, so output is deterministic.
func sortByScore(results []Result) {
	sort.SliceStable(results, func(a, b int) bool {
		ra, rb := results[a], results[b]
		if ra.CombinedScore != rb.CombinedScore {
			return ra.CombinedScore > rb.CombinedScore
		}
		if ra.Source != rb.Source {
			return ra.Source == SourceDirect
		}
		return ra.ID < rb.ID
	})
}

func truncate(results []Result, limit int) []Result {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}

func truncateSemantic(results []SemanticResult, limit int) []SemanticResult {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}
