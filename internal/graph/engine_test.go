package graph

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/nidhogg/nuka-memgraph/internal/relation"
	"go.uber.org/zap"
)

// memEdges is an in-memory EdgeSource with the same ordering as the store.
type memEdges struct {
	edges []relation.Relationship
	calls int
	err   error
}

func (m *memEdges) add(src, tgt int64, typ relation.Type, conf float64) {
	m.edges = append(m.edges, relation.Relationship{
		ID: int64(len(m.edges) + 1), SourceID: src, TargetID: tgt, Type: typ, Confidence: conf,
	})
}

func (m *memEdges) EdgesFor(ctx context.Context, id int64, f relation.Filter) ([]relation.Relationship, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []relation.Relationship
	for _, r := range m.edges {
		if (r.SourceID == id || r.TargetID == id) && f.Matches(&r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Confidence > out[b].Confidence })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// chain builds 1 - 2 - 3 - ... - n with alternating edge direction.
func chain(n int) *memEdges {
	m := &memEdges{}
	for i := int64(1); i < int64(n); i++ {
		if i%2 == 0 {
			m.add(i+1, i, relation.TypeFollows, 0.7)
		} else {
			m.add(i, i+1, relation.TypeFollows, 0.7)
		}
	}
	return m
}

func TestNeighborsBothDirections(t *testing.T) {
	m := &memEdges{}
	m.add(1, 2, relation.TypeModifies, 0.9)
	m.add(3, 1, relation.TypeReferences, 0.6)
	m.add(4, 5, relation.TypeFollows, 0.8)
	e := NewEngine(m, DefaultLimits(), zap.NewNop())

	got, err := e.Neighbors(context.Background(), 1, relation.Filter{})
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d neighbors, want 2", len(got))
	}
	if got[0].ID != 2 || got[0].Direction != Outgoing {
		t.Errorf("first neighbor %+v, want 2 outgoing", got[0])
	}
	if got[1].ID != 3 || got[1].Direction != Incoming {
		t.Errorf("second neighbor %+v, want 3 incoming", got[1])
	}

	got, _ = e.Neighbors(context.Background(), 1, relation.Filter{MinConfidence: 0.7})
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("min confidence filter: got %+v", got)
	}
	got, _ = e.Neighbors(context.Background(), 1, relation.Filter{Types: []relation.Type{relation.TypeReferences}})
	if len(got) != 1 || got[0].ID != 3 {
		t.Errorf("type filter: got %+v", got)
	}
}

func TestTraverseDepthAnnotation(t *testing.T) {
	e := NewEngine(chain(6), DefaultLimits(), zap.NewNop())

	res, err := e.Traverse(context.Background(), 1, 3, relation.Filter{})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(res.Nodes) != 4 {
		t.Fatalf("got %d nodes, want 4 (root + 3 hops)", len(res.Nodes))
	}
	for i, n := range res.Nodes {
		if n.ID != int64(i+1) || n.Depth != i {
			t.Errorf("node %d: got id=%d depth=%d", i, n.ID, n.Depth)
		}
	}
	if res.Nodes[0].Via != nil {
		t.Error("root must not carry a via edge")
	}
	if res.Nodes[2].Parent != 2 || res.Nodes[2].Via == nil {
		t.Errorf("node 3 should be reached from 2, got %+v", res.Nodes[2])
	}
	if res.Truncated {
		t.Error("unexpected truncation")
	}
}

func TestTraverseTerminatesOnCycles(t *testing.T) {
	m := &memEdges{}
	m.add(1, 2, relation.TypeFollows, 0.8)
	m.add(2, 3, relation.TypeFollows, 0.8)
	m.add(3, 1, relation.TypeFollows, 0.8)
	m.add(3, 4, relation.TypeFollows, 0.8)
	e := NewEngine(m, Limits{MaxDepth: 10, MaxNodes: 100}, zap.NewNop())

	res, err := e.Traverse(context.Background(), 1, 10, relation.Filter{})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	seen := map[int64]bool{}
	for _, n := range res.Nodes {
		if seen[n.ID] {
			t.Fatalf("node %d visited twice", n.ID)
		}
		seen[n.ID] = true
	}
	if len(res.Nodes) != 4 {
		t.Errorf("got %d nodes, want 4", len(res.Nodes))
	}
}

func TestTraverseNodeCap(t *testing.T) {
	m := &memEdges{}
	for i := int64(2); i <= 50; i++ {
		m.add(1, i, relation.TypeFollows, 0.6)
	}
	e := NewEngine(m, Limits{MaxDepth: 3, MaxNodes: 10}, zap.NewNop())

	res, err := e.Traverse(context.Background(), 1, 3, relation.Filter{})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(res.Nodes) != 10 {
		t.Errorf("got %d nodes, want cap of 10", len(res.Nodes))
	}
	if !res.Truncated {
		t.Error("expected truncated result")
	}
}

func TestTraverseClampsDepth(t *testing.T) {
	m := chain(10)
	e := NewEngine(m, Limits{MaxDepth: 2, MaxNodes: 100}, zap.NewNop())

	res, err := e.Traverse(context.Background(), 1, 8, relation.Filter{})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if last := res.Nodes[len(res.Nodes)-1]; last.Depth != 2 {
		t.Errorf("deepest node at %d, want 2", last.Depth)
	}
}

func TestTraverseSourceError(t *testing.T) {
	m := &memEdges{err: errors.New("db down")}
	e := NewEngine(m, DefaultLimits(), zap.NewNop())
	if _, err := e.Traverse(context.Background(), 1, 2, relation.Filter{}); err == nil {
		t.Error("expected error")
	}
}

func TestShortestPath(t *testing.T) {
	m := chain(5)
	// Shortcut 1 -> 4 makes the path 1,4,5.
	m.add(1, 4, relation.TypeReferences, 0.55)
	e := NewEngine(m, DefaultLimits(), zap.NewNop())

	p, err := e.ShortestPath(context.Background(), 1, 5, 0, relation.Filter{})
	if err != nil {
		t.Fatalf("shortest path: %v", err)
	}
	want := []int64{1, 4, 5}
	if len(p.Nodes) != len(want) {
		t.Fatalf("got path %v, want %v", p.Nodes, want)
	}
	for i := range want {
		if p.Nodes[i] != want[i] {
			t.Fatalf("got path %v, want %v", p.Nodes, want)
		}
	}
	if p.Len() != 2 || p.Edges[0].Type != relation.TypeReferences {
		t.Errorf("unexpected edges %+v", p.Edges)
	}
}

func TestShortestPathEdgeCases(t *testing.T) {
	m := chain(5)
	m.add(10, 11, relation.TypeFollows, 0.9)
	e := NewEngine(m, Limits{MaxDepth: 3, MaxNodes: 100}, zap.NewNop())
	ctx := context.Background()

	p, err := e.ShortestPath(ctx, 3, 3, 0, relation.Filter{})
	if err != nil || len(p.Nodes) != 1 || p.Len() != 0 {
		t.Errorf("self path: got %+v err=%v", p, err)
	}
	if _, err := e.ShortestPath(ctx, 1, 11, 0, relation.Filter{}); !errors.Is(err, ErrNoPath) {
		t.Errorf("disconnected: got %v, want ErrNoPath", err)
	}
	// 1 -> 5 needs 4 hops, beyond the bound of 3.
	if _, err := e.ShortestPath(ctx, 1, 5, 3, relation.Filter{}); !errors.Is(err, ErrNoPath) {
		t.Errorf("beyond depth: got %v, want ErrNoPath", err)
	}
	if _, err := e.ShortestPath(ctx, 1, 4, 3, relation.Filter{MinConfidence: 0.8}); !errors.Is(err, ErrNoPath) {
		t.Errorf("filtered: got %v, want ErrNoPath", err)
	}
}

func TestShortestPathNodeCap(t *testing.T) {
	m := &memEdges{}
	for i := int64(2); i <= 50; i++ {
		m.add(1, i, relation.TypeFollows, 0.6)
	}
	m.add(50, 99, relation.TypeFollows, 0.6)
	e := NewEngine(m, Limits{MaxDepth: 3, MaxNodes: 5}, zap.NewNop())

	if _, err := e.ShortestPath(context.Background(), 1, 99, 0, relation.Filter{}); !errors.Is(err, ErrNoPath) {
		t.Errorf("got %v, want ErrNoPath once the cap is hit", err)
	}
}
