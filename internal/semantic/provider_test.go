package semantic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nidhogg/nuka-memgraph/internal/observation"
	"go.uber.org/zap"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 0 }

type fakeIndex struct {
	hits       []Hit
	upserted   []Point
	collection string
	dimension  uint64
	gotLimit   uint64
}

func (f *fakeIndex) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	f.collection, f.dimension = name, dimension
	return nil
}

func (f *fakeIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, collection string, vector []float32, limit uint64) ([]Hit, error) {
	f.gotLimit = limit
	return f.hits, nil
}

func TestProviderSearch(t *testing.T) {
	idx := &fakeIndex{hits: []Hit{{ID: 7, Score: 0.92}, {ID: 3, Score: 1.0000001}, {ID: 9, Score: -0.2}}}
	p := NewProvider(&fakeEmbedder{}, idx, "", zap.NewNop())

	got, err := p.Search(context.Background(), "token refresh", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if idx.gotLimit != 5 {
		t.Errorf("got limit %d, want 5", idx.gotLimit)
	}
	if len(got) != 3 || got[0].ID != 7 {
		t.Fatalf("unexpected results %+v", got)
	}
	for _, r := range got {
		if r.Relevance < 0 || r.Relevance > 1 {
			t.Errorf("id %d: relevance %v outside [0,1]", r.ID, r.Relevance)
		}
	}

	if _, err := p.Search(context.Background(), "  ", 5); err == nil {
		t.Error("expected error for empty query")
	}
	if _, err := p.Search(context.Background(), "q", 0); err == nil {
		t.Error("expected error for zero limit")
	}
}

func TestProviderSearchEmbedFailure(t *testing.T) {
	p := NewProvider(&fakeEmbedder{err: errors.New("timeout")}, &fakeIndex{}, "", zap.NewNop())
	if _, err := p.Search(context.Background(), "q", 5); err == nil {
		t.Error("expected error")
	}
}

func TestProviderInitAndIndex(t *testing.T) {
	idx := &fakeIndex{}
	p := NewProvider(&fakeEmbedder{}, idx, "obs", zap.NewNop())

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if idx.collection != "obs" || idx.dimension != fallbackDimension {
		t.Errorf("got collection %q dim %d", idx.collection, idx.dimension)
	}

	n, err := p.Index(context.Background(),
		&observation.Observation{ID: 1, Type: observation.TypeBugfix, Narrative: "fixed token expiry", SessionID: "s1"},
		&observation.Observation{ID: 2},
		&observation.Observation{ID: 3, Concepts: []string{"auth"}},
	)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if n != 2 || len(idx.upserted) != 2 {
		t.Fatalf("indexed %d, upserted %d, want 2", n, len(idx.upserted))
	}
	if idx.upserted[0].ID != 1 || idx.upserted[0].Payload["type"] != "bugfix" {
		t.Errorf("unexpected point %+v", idx.upserted[0])
	}
}

func TestDocument(t *testing.T) {
	doc := Document(&observation.Observation{
		Narrative: " Switched to JWT ",
		Facts:     []string{"tokens expire after 15m", ""},
		Concepts:  []string{"auth", "jwt"},
	})
	want := "Switched to JWT\ntokens expire after 15m\nconcepts: auth, jwt"
	if doc != want {
		t.Errorf("got %q, want %q", doc, want)
	}
	if Document(&observation.Observation{}) != "" {
		t.Error("empty observation should render empty")
	}
	if !strings.Contains(Document(&observation.Observation{Concepts: []string{"x"}}), "x") {
		t.Error("concepts missing")
	}
}
