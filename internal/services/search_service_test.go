package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"zikaron/internal/extraction"
	"zikaron/internal/index"
	"zikaron/internal/models"
)

type stubVector struct {
	open bool
	hits []index.Hit
}

func (s *stubVector) Upsert(ctx context.Context, owner, id string, vector []float32, payload index.Payload) error {
	return nil
}

func (s *stubVector) Search(ctx context.Context, owner string, vector []float32, tiers []models.Tier, limit int) ([]index.Hit, error) {
	return s.hits, nil
}

func (s *stubVector) UpdatePayload(ctx context.Context, owner, id string, update index.PayloadUpdate) error {
	return nil
}

func (s *stubVector) Delete(ctx context.Context, owner string, ids []string) error { return nil }

func (s *stubVector) IsCircuitOpen() bool { return s.open }

type stubLexical struct {
	open   bool
	search func(query string) ([]index.Hit, error)
}

func (s *stubLexical) Index(ctx context.Context, owner, id string, payload index.Payload) error {
	return nil
}

func (s *stubLexical) Search(ctx context.Context, owner, query string, tiers []models.Tier, limit int) ([]index.Hit, error) {
	if s.search == nil {
		return nil, nil
	}
	return s.search(query)
}

func (s *stubLexical) UpdatePayload(ctx context.Context, owner, id string, update index.PayloadUpdate) error {
	return nil
}

func (s *stubLexical) Delete(ctx context.Context, owner string, ids []string) error { return nil }

func (s *stubLexical) IsCircuitOpen() bool { return s.open }

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, text string) ([]extraction.Entity, error) {
	return nil, nil
}

func newTestSearchService(vector *stubVector, lexical *stubLexical, tracker *PositionTracker) *SearchService {
	return &SearchService{
		vector:    vector,
		lexical:   lexical,
		embedder:  stubEmbedder{},
		extractor: stubExtractor{},
		tracker:   tracker,
		solutions: gocache.New(knownSolutionTTL, knownSolutionTTL),
	}
}

func hit(id string, score float64) index.Hit {
	return index.Hit{ID: id, Score: score, Payload: index.Payload{Status: models.StatusActive}}
}

func TestRRFFuseAgreementWins(t *testing.T) {
	// "b" is second in both lists; "a" and "c" each top one list.
	vectorHits := []index.Hit{hit("a", 0.95), hit("b", 0.90)}
	lexicalHits := []index.Hit{hit("c", 12.0), hit("b", 8.0)}

	fused := rrfFuse(vectorHits, lexicalHits)

	if len(fused) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(fused))
	}
	if fused[0].ID != "b" {
		t.Errorf("item in both lists should rank first, got %q", fused[0].ID)
	}
}

func TestRRFFuseWeightsBackends(t *testing.T) {
	vectorHits := []index.Hit{hit("v", 0.9)}
	lexicalHits := []index.Hit{hit("l", 15.0)}

	fused := rrfFuse(vectorHits, lexicalHits)

	// Same rank in each list, so the vector item wins on weight alone.
	if fused[0].ID != "v" {
		t.Errorf("vector-weighted item should outrank lexical peer, got %q", fused[0].ID)
	}

	wantV := vectorWeight / float64(rrfK+1)
	if diff := fused[0].Score - wantV; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("expected vector contribution %f, got %f", wantV, fused[0].Score)
	}
}

func TestRRFFuseSingleBackend(t *testing.T) {
	fused := rrfFuse([]index.Hit{hit("a", 0.9), hit("b", 0.8)}, nil)

	if len(fused) != 2 || fused[0].ID != "a" {
		t.Errorf("single-backend fusion should preserve order, got %v", fused)
	}
}

func TestApplyEntityBoostsReranks(t *testing.T) {
	fused := []fusedHit{
		{ID: "a", Score: 0.0115},
		{ID: "b", Score: 0.0114},
		{ID: "c", Score: 0.0050},
	}

	applyEntityBoosts(fused, map[string]float64{"b": 0.5})

	if fused[0].ID != "b" {
		t.Errorf("boosted item must outrank higher-fused peer, got %q first", fused[0].ID)
	}
	want := 0.0114 * 1.5
	if diff := fused[0].Score - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("expected boosted score %f, got %f", want, fused[0].Score)
	}
	if fused[1].ID != "a" || fused[2].ID != "c" {
		t.Errorf("unboosted items must keep fused order, got %v", fused)
	}
}

func TestApplyEntityBoostsNoMatchKeepsOrder(t *testing.T) {
	fused := []fusedHit{{ID: "a", Score: 0.02}, {ID: "b", Score: 0.01}}

	applyEntityBoosts(fused, map[string]float64{"z": 0.5})

	if fused[0].ID != "a" || fused[0].Score != 0.02 {
		t.Errorf("boosts for absent items must change nothing, got %v", fused)
	}
}

func TestSearchDegradedReplacesTurnState(t *testing.T) {
	tracker := NewPositionTracker()
	tracker.Record("u1", "old query", []string{"docker"}, []models.Tier{models.TierWorking}, []string{"m1", "m2"})

	svc := newTestSearchService(&stubVector{open: true}, &stubLexical{open: true}, tracker)

	resp, err := svc.Search(context.Background(), "u1", SearchOptions{Query: "new unrelated question"})
	if err != nil {
		t.Fatalf("degraded search should not error: %v", err)
	}
	if len(resp.Results) != 0 || resp.Confidence != ConfidenceLow {
		t.Errorf("expected empty low-confidence response, got %+v", resp)
	}

	turn := tracker.Last("u1")
	if turn == nil || turn.Query != "new unrelated question" {
		t.Fatalf("degraded search must replace the turn state, got %+v", turn)
	}
	if _, ok := tracker.Resolve("u1", 1); ok {
		t.Error("positions from the previous turn survived a degraded search")
	}
}

func TestSearchEmptyQueryReplacesTurnState(t *testing.T) {
	tracker := NewPositionTracker()
	tracker.Record("u1", "old query", nil, nil, []string{"m1"})

	svc := newTestSearchService(&stubVector{}, &stubLexical{}, tracker)

	if _, err := svc.Search(context.Background(), "u1", SearchOptions{Query: "   "}); err != nil {
		t.Fatalf("empty query should not error: %v", err)
	}
	if _, ok := tracker.Resolve("u1", 1); ok {
		t.Error("positions from the previous turn survived an empty search")
	}
}

// barrierLexical only answers once every variant query has arrived, so
// a sequential caller gets errors for all but the last variant.
type barrierLexical struct {
	stubLexical

	mu      sync.Mutex
	want    int
	entered int
	all     chan struct{}
}

func (b *barrierLexical) Search(ctx context.Context, owner, query string, tiers []models.Tier, limit int) ([]index.Hit, error) {
	b.mu.Lock()
	b.entered++
	if b.entered == b.want {
		close(b.all)
	}
	b.mu.Unlock()

	select {
	case <-b.all:
	case <-time.After(2 * time.Second):
		return nil, errors.New("variant query ran alone")
	}
	return []index.Hit{hit(query, 1.0)}, nil
}

func TestLexicalSearchQueriesVariantsInParallel(t *testing.T) {
	lex := &barrierLexical{want: 3, all: make(chan struct{})}
	svc := &SearchService{lexical: lex}

	hits, err := svc.lexicalSearch(context.Background(), "u1", []string{"q1", "q2", "q3"}, nil, 10)
	if err != nil {
		t.Fatalf("parallel variant search failed: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("expected every variant to contribute, got %d hits", len(hits))
	}
}

func TestLexicalSearchMergesBestRank(t *testing.T) {
	byVariant := map[string][]index.Hit{
		"q1": {hit("a", 3.0), hit("b", 2.0)},
		"q2": {hit("b", 5.0), hit("c", 1.0)},
	}
	svc := &SearchService{lexical: &stubLexical{search: func(query string) ([]index.Hit, error) {
		return byVariant[query], nil
	}}}

	hits, err := svc.lexicalSearch(context.Background(), "u1", []string{"q1", "q2"}, nil, 10)
	if err != nil {
		t.Fatalf("lexical search failed: %v", err)
	}
	if len(hits) != 3 || hits[0].ID != "a" || hits[1].ID != "b" || hits[2].ID != "c" {
		t.Errorf("expected deduplicated merge in variant order, got %v", hits)
	}
}

func TestLexicalSearchAllVariantsFail(t *testing.T) {
	svc := &SearchService{lexical: &stubLexical{search: func(query string) ([]index.Hit, error) {
		return nil, errors.New("index offline")
	}}}

	if _, err := svc.lexicalSearch(context.Background(), "u1", []string{"q1", "q2"}, nil, 10); err == nil {
		t.Error("expected error when every variant query fails")
	}
}

func TestResolveSortMode(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		query    string
		want     string
	}{
		{"explicit wins", SortLearned, "what did I do recently", SortLearned},
		{"recency english", "", "what was the latest fix", SortRecency},
		{"recency hebrew", "", "מה אמרתי לאחרונה", SortRecency},
		{"default relevance", "", "docker restart policy", SortRelevance},
		{"garbage explicit falls through", "alphabetical", "docker restart", SortRelevance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveSortMode(tt.explicit, tt.query); got != tt.want {
				t.Errorf("resolveSortMode(%q, %q) = %q, want %q", tt.explicit, tt.query, got, tt.want)
			}
		})
	}
}

func TestSortResultsModes(t *testing.T) {
	now := time.Now()
	results := []SearchResult{
		{ID: "a", Score: 0.9, WilsonScore: 0.2, UpdatedAt: now.Add(-time.Hour)},
		{ID: "b", Score: 0.5, WilsonScore: 0.9, UpdatedAt: now},
	}

	learned := append([]SearchResult(nil), results...)
	sortResults(learned, SortLearned)
	if learned[0].ID != "b" {
		t.Errorf("learned sort should rank by wilson, got %q first", learned[0].ID)
	}

	recent := append([]SearchResult(nil), results...)
	sortResults(recent, SortRecency)
	if recent[0].ID != "b" {
		t.Errorf("recency sort should rank newest first, got %q first", recent[0].ID)
	}

	relevance := append([]SearchResult(nil), results...)
	sortResults(relevance, SortRelevance)
	if relevance[0].ID != "a" {
		t.Errorf("relevance sort must keep fusion order, got %q first", relevance[0].ID)
	}
}

func TestExpandQueryEnglish(t *testing.T) {
	variants := expandQuery("How do I restart a Docker container")

	if len(variants) > maxQueryVariants {
		t.Fatalf("too many variants: %v", variants)
	}
	if variants[0] != "How do I restart a Docker container" {
		t.Errorf("first variant must be the original, got %q", variants[0])
	}
	if !containsString(variants, "restart a docker container") {
		t.Errorf("expected question prefix stripped, got %v", variants)
	}
}

func TestExpandQueryHebrew(t *testing.T) {
	variants := expandQuery("איך מפעילים מחדש קונטיינר")

	if !containsString(variants, "מפעילים מחדש קונטיינר") {
		t.Errorf("expected Hebrew question word stripped, got %v", variants)
	}
}

func TestExpandQueryNoDuplicates(t *testing.T) {
	variants := expandQuery("docker restart")
	if len(variants) != 1 {
		t.Errorf("already-lowercase statement should yield one variant, got %v", variants)
	}
}

func TestSearchConfidence(t *testing.T) {
	proven := []SearchResult{{WilsonScore: 0.85}}
	unproven := []SearchResult{{WilsonScore: 0.4}}

	if got := searchConfidence(nil, &SearchDebug{}); got != ConfidenceLow {
		t.Errorf("empty results should be low confidence, got %q", got)
	}
	if got := searchConfidence(proven, &SearchDebug{VectorSkipped: true}); got != ConfidenceLow {
		t.Errorf("degraded retrieval should be low confidence, got %q", got)
	}
	if got := searchConfidence(proven, &SearchDebug{}); got != ConfidenceHigh {
		t.Errorf("proven top hit should be high confidence, got %q", got)
	}
	if got := searchConfidence(unproven, &SearchDebug{}); got != ConfidenceMedium {
		t.Errorf("expected medium confidence, got %q", got)
	}
}

func TestPositionTrackerRecordsAndResolves(t *testing.T) {
	tracker := NewPositionTracker()
	tracker.Record("user-1", "docker fix", []string{"docker"}, []models.Tier{models.TierWorking}, []string{"m1", "m2", "m3"})

	id, ok := tracker.Resolve("user-1", 2)
	if !ok || id != "m2" {
		t.Errorf("expected position 2 -> m2, got %q (%v)", id, ok)
	}
	if _, ok := tracker.Resolve("user-1", 4); ok {
		t.Error("position beyond results should not resolve")
	}
	if _, ok := tracker.Resolve("user-2", 1); ok {
		t.Error("other owners must not see the turn")
	}
}

func TestPositionTrackerAtomicReplace(t *testing.T) {
	tracker := NewPositionTracker()
	tracker.Record("user-1", "first", nil, nil, []string{"a", "b"})
	tracker.Record("user-1", "second", nil, nil, []string{"c"})

	turn := tracker.Last("user-1")
	if turn.Query != "second" || len(turn.Positions) != 1 {
		t.Errorf("new search must replace the old turn, got %+v", turn)
	}
	if _, ok := tracker.Resolve("user-1", 2); ok {
		t.Error("stale positions survived the replace")
	}
}

func TestPositionTrackerClear(t *testing.T) {
	tracker := NewPositionTracker()
	tracker.Record("user-1", "q", nil, nil, []string{"a"})
	tracker.Clear("user-1")

	if tracker.Last("user-1") != nil {
		t.Error("expected cleared turn state")
	}
}

func TestTurnStateItemIDsOrdered(t *testing.T) {
	turn := &TurnState{Positions: map[int]string{1: "a", 2: "b", 3: "c"}}
	ids := turn.ItemIDs()
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("expected position order, got %v", ids)
	}
}
