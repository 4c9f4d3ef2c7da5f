package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-memgraph/internal/metrics"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
	"go.uber.org/zap"
)

// ErrNoPath is returned by ShortestPath when the target is not reachable within
// the depth bound or the node cap.
var ErrNoPath = errors.New("no path")

// EdgeSource serves the bidirectional one-hop lookup every traversal is built on.
type EdgeSource interface {
	EdgesFor(ctx context.Context, id int64, f relation.Filter) ([]relation.Relationship, error)
}

// Limits bounds traversal cost.
type Limits struct {
	MaxDepth int `json:"max_depth" validate:"gte=1,lte=10"`
	MaxNodes int `json:"max_nodes" validate:"gte=1"`
}

// DefaultLimits returns sensible defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth: 3,
		MaxNodes: 500,
	}
}

// Direction tells whether an edge leaves or enters the node it was looked up from.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Neighbor is one hop away from the queried node.
type Neighbor struct {
	ID           int64                 `json:"id"`
	Direction    Direction             `json:"direction"`
	Relationship relation.Relationship `json:"relationship"`
}

// Node is a traversal result annotated with its BFS depth. Root has depth 0 and
// no Via edge.
type Node struct {
	ID     int64                  `json:"id"`
	Depth  int                    `json:"depth"`
	Parent int64                  `json:"parent,omitempty"`
	Via    *relation.Relationship `json:"via,omitempty"`
}

// TraversalResult holds the output of a bounded BFS.
type TraversalResult struct {
	Root      int64         `json:"root"`
	Nodes     []Node        `json:"nodes"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

// Path is an ordered walk from one observation to another. Edges[i] joins
// Nodes[i] and Nodes[i+1]; edge direction may run either way.
type Path struct {
	Nodes []int64                 `json:"nodes"`
	Edges []relation.Relationship `json:"edges"`
}

// Len returns the number of hops.
func (p *Path) Len() int {
	return len(p.Edges)
}

// Engine answers neighbor, traversal and path queries over an EdgeSource.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	src     EdgeSource
	limits  Limits
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEngine creates a graph query engine.
func NewEngine(src EdgeSource, limits Limits, logger *zap.Logger) *Engine {
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultLimits().MaxDepth
	}
	if limits.MaxNodes <= 0 {
		limits.MaxNodes = DefaultLimits().MaxNodes
	}
	return &Engine{src: src, limits: limits, logger: logger}
}

// SetMetrics attaches Prometheus collectors.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// Limits returns the configured bounds.
func (e *Engine) Limits() Limits { return e.limits }

// Neighbors returns the one-hop neighbors of id in both directions, strongest edge first.
func (e *Engine) Neighbors(ctx context.Context, id int64, f relation.Filter) ([]Neighbor, error) {
	edges, err := e.src.EdgesFor(ctx, id, f)
	if err != nil {
		return nil, fmt.Errorf("neighbors of %d: %w", id, err)
	}
	out := make([]Neighbor, 0, len(edges))
	for _, r := range edges {
		if !f.Matches(&r) {
			continue
		}
		n := Neighbor{ID: r.Other(id), Relationship: r, Direction: Outgoing}
		if r.TargetID == id {
			n.Direction = Incoming
		}
		out = append(out, n)
	}
	return out, nil
}

// Traverse expands from root one level at a time up to maxDepth hops. Each node is
// visited once, so cycles terminate. The walk stops early once MaxNodes nodes have
// been visited and the result is marked truncated. A maxDepth outside
// [1, Limits.MaxDepth] is replaced by Limits.MaxDepth.
func (e *Engine) Traverse(ctx context.Context, root int64, maxDepth int, f relation.Filter) (*TraversalResult, error) {
	start := time.Now()
	maxDepth = e.depth(maxDepth)

	res := &TraversalResult{Root: root, Nodes: []Node{{ID: root}}}
	visited := map[int64]struct{}{root: {}}
	frontier := []int64{root}

	for depth := 1; depth <= maxDepth && len(frontier) > 0 && !res.Truncated; depth++ {
		var next []int64
		for _, id := range frontier {
			edges, err := e.src.EdgesFor(ctx, id, f)
			if err != nil {
				return nil, fmt.Errorf("traverse from %d at depth %d: %w", root, depth, err)
			}
			for i := range edges {
				r := edges[i]
				if !f.Matches(&r) {
					continue
				}
				other := r.Other(id)
				if _, seen := visited[other]; seen {
					continue
				}
				if len(visited) >= e.limits.MaxNodes {
					res.Truncated = true
					break
				}
				visited[other] = struct{}{}
				res.Nodes = append(res.Nodes, Node{ID: other, Depth: depth, Parent: id, Via: &r})
				next = append(next, other)
			}
			if res.Truncated {
				break
			}
		}
		frontier = next
	}

	res.Duration = time.Since(start)
	e.metrics.RecordTraversal("traverse", len(visited))
	e.logger.Debug("traversal complete",
		zap.Int64("root", root),
		zap.Int("depth", maxDepth),
		zap.Int("visited", len(visited)),
		zap.Bool("truncated", res.Truncated),
		zap.Duration("duration", res.Duration))
	return res, nil
}

type hop struct {
	parent int64
	edge   relation.Relationship
}

// ShortestPath runs a BFS from `from` and returns the first path found to `to`,
// which has the fewest hops. It returns ErrNoPath when the frontier is exhausted
// within maxDepth hops or the MaxNodes cap is reached.
func (e *Engine) ShortestPath(ctx context.Context, from, to int64, maxDepth int, f relation.Filter) (*Path, error) {
	if from == to {
		return &Path{Nodes: []int64{from}}, nil
	}
	maxDepth = e.depth(maxDepth)

	preds := map[int64]hop{}
	visited := map[int64]struct{}{from: {}}
	frontier := []int64{from}
	defer func() { e.metrics.RecordTraversal("shortest_path", len(visited)) }()

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, id := range frontier {
			edges, err := e.src.EdgesFor(ctx, id, f)
			if err != nil {
				return nil, fmt.Errorf("path %d -> %d at depth %d: %w", from, to, depth, err)
			}
			for _, r := range edges {
				if !f.Matches(&r) {
					continue
				}
				other := r.Other(id)
				if _, seen := visited[other]; seen {
					continue
				}
				visited[other] = struct{}{}
				preds[other] = hop{parent: id, edge: r}
				if other == to {
					return buildPath(from, to, preds), nil
				}
				if len(visited) >= e.limits.MaxNodes {
					e.logger.Debug("path search hit node cap",
						zap.Int64("from", from), zap.Int64("to", to), zap.Int("visited", len(visited)))
					return nil, ErrNoPath
				}
				next = append(next, other)
			}
		}
		frontier = next
	}
	return nil, ErrNoPath
}

func buildPath(from, to int64, preds map[int64]hop) *Path {
	var nodes []int64
	var edges []relation.Relationship
	for cur := to; cur != from; {
		h := preds[cur]
		nodes = append(nodes, cur)
		edges = append(edges, h.edge)
		cur = h.parent
	}
	nodes = append(nodes, from)

	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	return &Path{Nodes: nodes, Edges: edges}
}

func (e *Engine) depth(d int) int {
	if d <= 0 || d > e.limits.MaxDepth {
		return e.limits.MaxDepth
	}
	return d
}
