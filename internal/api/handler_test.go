package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nidhogg/nuka-memgraph/internal/detect"
	"github.com/nidhogg/nuka-memgraph/internal/graph"
	"github.com/nidhogg/nuka-memgraph/internal/importance"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
	"github.com/nidhogg/nuka-memgraph/internal/search"
	"github.com/nidhogg/nuka-memgraph/internal/store"
	"go.uber.org/zap"
)

type fakeScores map[int64]float64

func (f fakeScores) Scores(ctx context.Context, ids []int64) (map[int64]importance.Breakdown, error) {
	out := make(map[int64]importance.Breakdown)
	for _, id := range ids {
		if s, ok := f[id]; ok {
			out[id] = importance.Breakdown{Score: s, Tier: importance.TierFor(s)}
		}
	}
	return out, nil
}

func (f fakeScores) Score(ctx context.Context, id int64) (*importance.Breakdown, error) {
	s, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("score %d: %w", id, importance.ErrNotFound)
	}
	return &importance.Breakdown{Score: s, Tier: importance.TierFor(s)}, nil
}

type fakeEdges []relation.Relationship

func (f fakeEdges) EdgesFor(ctx context.Context, id int64, flt relation.Filter) ([]relation.Relationship, error) {
	var out []relation.Relationship
	for _, r := range f {
		if (r.SourceID == id || r.TargetID == id) && flt.Matches(&r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeEdges) HighConfidence(ctx context.Context, threshold float64, limit int) ([]relation.Relationship, error) {
	var out []relation.Relationship
	for _, r := range f {
		if r.Confidence >= threshold {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeEdges) Stats(ctx context.Context) (*store.Stats, error) {
	st := &store.Stats{ByType: map[relation.Type]int64{}, ByTier: map[relation.Tier]int64{}}
	for _, r := range f {
		st.Total++
		st.ByType[r.Type]++
		st.ByTier[r.Tier()]++
	}
	return st, nil
}

type fakeSemantic struct {
	results  []search.SemanticResult
	gotLimit int
}

func (f *fakeSemantic) Search(ctx context.Context, query string, limit int) ([]search.SemanticResult, error) {
	f.gotLimit = limit
	return f.results, nil
}

type fakeDetector struct {
	err     error
	gotFull bool
	ctxErr  error
}

func (f *fakeDetector) Run(ctx context.Context, opts detect.RunOptions) (*detect.Summary, error) {
	f.gotFull = opts.Full
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	return &detect.Summary{RunID: "r1", Full: opts.Full, Detected: 3, Inserted: 2}, nil
}

var testEdges = fakeEdges{
	{ID: 1, SourceID: 1, TargetID: 2, Type: relation.TypeModifies, Confidence: 0.9},
	{ID: 2, SourceID: 2, TargetID: 3, Type: relation.TypeFollows, Confidence: 0.6},
	{ID: 3, SourceID: 4, TargetID: 1, Type: relation.TypeReferences, Confidence: 0.75},
}

// newTestHandler wires the handler with in-memory fakes (no Postgres/Neo4j/Qdrant).
func newTestHandler(t *testing.T) (Deps, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()
	scores := fakeScores{1: 80, 2: 60, 3: 40, 4: 90}

	deps := Deps{
		Ranker:        search.NewRanker(scores, search.DefaultOptions(), logger),
		Graph:         graph.NewEngine(testEdges, graph.DefaultLimits(), logger),
		Semantic:      &fakeSemantic{results: []search.SemanticResult{{ID: 1, Relevance: 0.9}, {ID: 3, Relevance: 0.5}}},
		Relationships: testEdges,
		Importance:    scores,
		Detector:      &fakeDetector{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
	}
	ts := httptest.NewServer(NewHandler(deps, logger).Router())
	t.Cleanup(ts.Close)
	return deps, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, ts := newTestHandler(t)

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" || body["graph"] != true {
		t.Errorf("unexpected body %v", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	_, ts := newTestHandler(t)
	resp := getJSON(t, ts, "/metrics")
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSearchQuery(t *testing.T) {
	deps, ts := newTestHandler(t)

	resp := postJSON(t, ts, "/api/search", map[string]interface{}{"query": "token refresh", "limit": 5})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Results []search.Result `json:"results"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Results) != 2 || body.Results[0].ID != 1 {
		t.Errorf("unexpected results %+v", body.Results)
	}
	if got := deps.Semantic.(*fakeSemantic).gotLimit; got != 10 {
		t.Errorf("semantic limit %d, want 10", got)
	}

	resp = postJSON(t, ts, "/api/search", map[string]interface{}{"query": " "})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("empty query: expected 400, got %d", resp.StatusCode)
	}
}

func TestRankResults(t *testing.T) {
	_, ts := newTestHandler(t)

	resp := postJSON(t, ts, "/api/search/rank", map[string]interface{}{
		"results": []map[string]interface{}{{"id": 3, "relevance": 0.8}, {"id": 2, "relevance": 0.7}},
		"full":    true,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Results []search.Result `json:"results"`
	}
	decodeJSON(t, resp, &body)

	seen := map[int64]search.Source{}
	for _, r := range body.Results {
		seen[r.ID] = r.Source
	}
	if seen[3] != search.SourceDirect || seen[2] != search.SourceDirect {
		t.Errorf("direct results missing: %+v", body.Results)
	}
	// 2 -modifies- 1 at 0.9 is pulled in as a neighbor.
	if seen[1] != search.SourceRelationship {
		t.Errorf("expected neighbor 1 from expansion, got %+v", body.Results)
	}
}

func TestRankRejectsInvalidOptions(t *testing.T) {
	_, ts := newTestHandler(t)

	resp := postJSON(t, ts, "/api/search/rank", map[string]interface{}{
		"results": []map[string]interface{}{{"id": 1, "relevance": 0.8}},
		"limit":   0,
	})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeJSON(t, resp, &body)
	if body["context"] == nil {
		t.Errorf("expected error context, got %v", body)
	}
}

func TestNeighborsAndTraverse(t *testing.T) {
	_, ts := newTestHandler(t)

	resp := getJSON(t, ts, "/api/observations/1/neighbors?min_confidence=0.7")
	if resp.StatusCode != 200 {
		t.Fatalf("neighbors: expected 200, got %d", resp.StatusCode)
	}
	var nb struct {
		Neighbors []graph.Neighbor `json:"neighbors"`
	}
	decodeJSON(t, resp, &nb)
	if len(nb.Neighbors) != 2 {
		t.Errorf("got %d neighbors, want 2", len(nb.Neighbors))
	}

	resp = getJSON(t, ts, "/api/observations/1/neighbors?types=bogus")
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("bad type: expected 400, got %d", resp.StatusCode)
	}

	resp = getJSON(t, ts, "/api/observations/1/traverse?depth=2")
	if resp.StatusCode != 200 {
		t.Fatalf("traverse: expected 200, got %d", resp.StatusCode)
	}
	var tr graph.TraversalResult
	decodeJSON(t, resp, &tr)
	if len(tr.Nodes) != 4 {
		t.Errorf("got %d nodes, want 4", len(tr.Nodes))
	}

	resp = getJSON(t, ts, "/api/observations/abc/traverse")
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("bad id: expected 400, got %d", resp.StatusCode)
	}
}

func TestShortestPathRoute(t *testing.T) {
	_, ts := newTestHandler(t)

	resp := getJSON(t, ts, "/api/observations/4/path/3")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var p graph.Path
	decodeJSON(t, resp, &p)
	if len(p.Nodes) != 4 {
		t.Errorf("got path %v, want 4 -> 1 -> 2 -> 3", p.Nodes)
	}

	resp = getJSON(t, ts, "/api/observations/4/path/99")
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("no path: expected 404, got %d", resp.StatusCode)
	}
}

func TestImportanceRoute(t *testing.T) {
	_, ts := newTestHandler(t)

	resp := getJSON(t, ts, "/api/observations/4/importance")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var b importance.Breakdown
	decodeJSON(t, resp, &b)
	if b.Score != 90 || b.Tier != importance.TierCritical {
		t.Errorf("unexpected breakdown %+v", b)
	}

	resp = getJSON(t, ts, "/api/observations/77/importance")
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown: expected 404, got %d", resp.StatusCode)
	}
}

func TestRelationshipRoutes(t *testing.T) {
	_, ts := newTestHandler(t)

	resp := getJSON(t, ts, "/api/relationships/high-confidence?threshold=0.7")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var hc struct {
		Relationships []relation.Relationship `json:"relationships"`
	}
	decodeJSON(t, resp, &hc)
	if len(hc.Relationships) != 2 {
		t.Errorf("got %d relationships, want 2", len(hc.Relationships))
	}

	resp = getJSON(t, ts, "/api/relationships/high-confidence?threshold=2")
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("bad threshold: expected 400, got %d", resp.StatusCode)
	}

	resp = getJSON(t, ts, "/api/relationships/stats")
	var st store.Stats
	decodeJSON(t, resp, &st)
	if st.Total != 3 || st.ByTier[relation.TierVeryHigh] != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestRunDetection(t *testing.T) {
	deps, ts := newTestHandler(t)

	resp := postJSON(t, ts, "/api/detect", map[string]bool{"full": true})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var sum detect.Summary
	decodeJSON(t, resp, &sum)
	if sum.Inserted != 2 || !deps.Detector.(*fakeDetector).gotFull {
		t.Errorf("unexpected summary %+v", sum)
	}

	deps.Detector.(*fakeDetector).err = fmt.Errorf("wrapped: %w", detect.ErrRunInProgress)
	resp = postJSON(t, ts, "/api/detect", map[string]bool{})
	resp.Body.Close()
	if resp.StatusCode != 409 {
		t.Errorf("locked: expected 409, got %d", resp.StatusCode)
	}

	deps.Detector.(*fakeDetector).err = errors.New("db down")
	resp = postJSON(t, ts, "/api/detect", map[string]bool{})
	resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Errorf("failure: expected 500, got %d", resp.StatusCode)
	}
}

func TestRunDetectionOutlivesRequest(t *testing.T) {
	det := &fakeDetector{}
	logger := zap.NewNop()
	h := NewHandler(Deps{
		Ranker:   search.NewRanker(fakeScores{}, search.DefaultOptions(), logger),
		Detector: det,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/detect", bytes.NewReader([]byte(`{"full":true}`))).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if det.ctxErr != nil {
		t.Errorf("detection saw a cancelled context: %v", det.ctxErr)
	}
	if !det.gotFull {
		t.Error("full flag not passed through")
	}
}

func TestUnconfiguredBackends(t *testing.T) {
	logger := zap.NewNop()
	h := NewHandler(Deps{
		Ranker:        search.NewRanker(fakeScores{}, search.DefaultOptions(), logger),
		Relationships: testEdges,
		Importance:    fakeScores{},
	}, logger)
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	for _, tc := range []struct {
		method, path string
	}{
		{"GET", "/api/observations/1/neighbors"},
		{"POST", "/api/search"},
		{"POST", "/api/detect"},
	} {
		var resp *http.Response
		if tc.method == "GET" {
			resp = getJSON(t, ts, tc.path)
		} else {
			resp = postJSON(t, ts, tc.path, map[string]string{"query": "x"})
		}
		resp.Body.Close()
		if resp.StatusCode != 503 {
			t.Errorf("%s %s: expected 503, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}

	resp := getJSON(t, ts, "/metrics")
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("metrics: expected 404 when not configured, got %d", resp.StatusCode)
	}
}
