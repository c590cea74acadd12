package services

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"zikaron/internal/embedding"
	"zikaron/internal/extraction"
	"zikaron/internal/index"
	"zikaron/internal/models"
)

const (
	// rrfK is the reciprocal-rank-fusion smoothing constant.
	rrfK = 60

	// Backend weights for fusion. Vector similarity is the stronger
	// signal; lexical overlap covers exact terms and rare tokens.
	vectorWeight  = 0.7
	lexicalWeight = 0.3

	// knownSolutionWilson is the minimum Wilson score for a patterns-tier
	// hit to be cached as a known solution.
	knownSolutionWilson = 0.8

	knownSolutionTTL = 10 * time.Minute

	maxQueryVariants = 3

	// overFetchFactor widens backend fetches so post-fusion filtering
	// still fills the requested limit.
	overFetchFactor = 3
)

// Search sort modes
const (
	SortRelevance = "relevance"
	SortRecency   = "recency"
	SortLearned   = "learned"
)

// Search confidence levels
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// SearchOptions parameterizes one search call.
type SearchOptions struct {
	Query    string
	Tiers    []string // explicit tiers; empty or "all" delegates to the router
	Limit    int
	MinScore float64
	SortMode string // empty means auto-detect
	Debug    bool
}

// SearchResult is one ranked memory item.
type SearchResult struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Tier        string    `json:"tier"`
	Tags        []string  `json:"tags,omitempty"`
	Score       float64   `json:"score"`
	WilsonScore float64   `json:"wilson_score"`
	Position    int       `json:"position"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SearchDebug traces how a search was executed.
type SearchDebug struct {
	QueryVariants  []string           `json:"query_variants"`
	VectorHits     int                `json:"vector_hits"`
	LexicalHits    int                `json:"lexical_hits"`
	VectorSkipped  bool               `json:"vector_skipped"`
	LexicalSkipped bool               `json:"lexical_skipped"`
	Fused          int                `json:"fused"`
	Ghosted        int                `json:"ghosted"`
	EntityBoosts   map[string]float64 `json:"entity_boosts,omitempty"`
}

// SearchResponse is the full answer to one search call.
type SearchResponse struct {
	Results    []SearchResult  `json:"results"`
	TierPlan   models.TierPlan `json:"tier_plan"`
	Concepts   []string        `json:"concepts,omitempty"`
	SortMode   string          `json:"sort_mode"`
	Confidence string          `json:"confidence"`
	FromCache  bool            `json:"from_cache"`
	Debug      *SearchDebug    `json:"debug,omitempty"`
}

// SearchService runs hybrid retrieval: vector and lexical backends are
// queried in parallel, fused with reciprocal-rank fusion, boosted by
// the entity graph, filtered against the ghost registry and finally
// sorted. A small cache short-circuits queries whose answer is a
// well-proven patterns-tier item.
type SearchService struct {
	vector    index.VectorBackend
	lexical   index.LexicalBackend
	embedder  embedding.Embedder
	extractor extraction.Extractor
	routing   *RoutingService
	contentKG *ContentKGService
	ghosts    *GhostRegistry
	tracker   *PositionTracker
	solutions *gocache.Cache
}

// NewSearchService creates a new search service
func NewSearchService(
	vector index.VectorBackend,
	lexical index.LexicalBackend,
	embedder embedding.Embedder,
	extractor extraction.Extractor,
	routing *RoutingService,
	contentKG *ContentKGService,
	ghosts *GhostRegistry,
	tracker *PositionTracker,
) *SearchService {
	return &SearchService{
		vector:    vector,
		lexical:   lexical,
		embedder:  embedder,
		extractor: extractor,
		routing:   routing,
		contentKG: contentKG,
		ghosts:    ghosts,
		tracker:   tracker,
		solutions: gocache.New(knownSolutionTTL, 2*knownSolutionTTL),
	}
}

// Search executes one hybrid search turn for an owner and records the
// result positions for later outcome attribution.
func (s *SearchService) Search(ctx context.Context, owner string, opts SearchOptions) (*SearchResponse, error) {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		// Still a turn: stale positions from the previous search must not
		// survive into outcome attribution.
		s.recordTurn(owner, query, nil, nil, nil)
		return &SearchResponse{Results: []SearchResult{}, Confidence: ConfidenceLow, SortMode: SortRelevance}, nil
	}
	if opts.Limit <= 0 || opts.Limit > 50 {
		opts.Limit = 10
	}

	concepts := s.queryConcepts(ctx, query)

	// Known-solution shortcut: a query we have already answered with a
	// well-proven pattern skips retrieval entirely.
	if cached, ok := s.knownSolution(owner, query); ok {
		s.recordTurn(owner, query, concepts, []models.Tier{models.TierPatterns}, []SearchResult{*cached})
		return &SearchResponse{
			Results:    []SearchResult{*cached},
			TierPlan:   models.TierPlan{Tiers: []models.Tier{models.TierPatterns}, Source: models.TierPlanSourceRouting, Confidence: 0.9},
			Concepts:   concepts,
			SortMode:   SortRelevance,
			Confidence: ConfidenceHigh,
			FromCache:  true,
		}, nil
	}

	plan := s.resolveTiers(ctx, owner, opts.Tiers, concepts)
	variants := expandQuery(query)
	fetchLimit := opts.Limit * overFetchFactor

	debug := &SearchDebug{QueryVariants: variants}

	vectorHits, lexicalHits := s.searchBackends(ctx, owner, query, variants, plan.Tiers, fetchLimit, debug)

	if debug.VectorSkipped && debug.LexicalSkipped {
		log.Printf("🚨 [SEARCH] Both retrieval backends unavailable for user %s", owner)
		s.recordTurn(owner, query, concepts, plan.Tiers, nil)
		resp := &SearchResponse{Results: []SearchResult{}, TierPlan: plan, Concepts: concepts, SortMode: SortRelevance, Confidence: ConfidenceLow}
		if opts.Debug {
			resp.Debug = debug
		}
		return resp, nil
	}

	fused := rrfFuse(vectorHits, lexicalHits)
	debug.Fused = len(fused)

	// Entity-graph boost: items referenced by high-quality entities from
	// the query rank higher.
	if s.contentKG != nil && len(concepts) > 0 {
		boosts, err := s.contentKG.EntityBoosts(ctx, owner, concepts)
		if err != nil {
			log.Printf("⚠️ [SEARCH] Entity boost lookup failed for user %s: %v", owner, err)
		} else if len(boosts) > 0 {
			debug.EntityBoosts = boosts
			applyEntityBoosts(fused, boosts)
		}
	}

	results := make([]SearchResult, 0, opts.Limit)
	for _, hit := range fused {
		if s.ghosts != nil && s.ghosts.IsGhosted(owner, hit.ID) {
			debug.Ghosted++
			continue
		}
		if hit.Score < opts.MinScore {
			continue
		}
		results = append(results, SearchResult{
			ID:          hit.ID,
			Content:     hit.Payload.Content,
			Tier:        hit.Payload.Tier,
			Tags:        hit.Payload.Tags,
			Score:       hit.Score,
			WilsonScore: hit.Payload.WilsonScore,
			UpdatedAt:   hit.Payload.UpdatedAt,
		})
	}

	sortMode := resolveSortMode(opts.SortMode, query)
	sortResults(results, sortMode)

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	for i := range results {
		results[i].Position = i + 1
	}

	s.cacheKnownSolution(owner, query, results)
	s.recordTurn(owner, query, concepts, plan.Tiers, results)

	resp := &SearchResponse{
		Results:    results,
		TierPlan:   plan,
		Concepts:   concepts,
		SortMode:   sortMode,
		Confidence: searchConfidence(results, debug),
	}
	if opts.Debug {
		resp.Debug = debug
	}
	return resp, nil
}

// searchBackends runs the vector and lexical queries in parallel. A
// backend with an open circuit is skipped, degrading the search rather
// than failing it.
func (s *SearchService) searchBackends(ctx context.Context, owner, query string, variants []string, tiers []models.Tier, limit int, debug *SearchDebug) ([]index.Hit, []index.Hit) {
	var (
		wg          sync.WaitGroup
		vectorHits  []index.Hit
		lexicalHits []index.Hit
	)

	if s.vector.IsCircuitOpen() {
		debug.VectorSkipped = true
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vector, err := s.embedder.Embed(ctx, query)
			if err != nil {
				log.Printf("⚠️ [SEARCH] Query embedding failed: %v", err)
				debug.VectorSkipped = true
				return
			}
			hits, err := s.vector.Search(ctx, owner, vector, tiers, limit)
			if err != nil {
				log.Printf("⚠️ [SEARCH] Vector search failed: %v", err)
				debug.VectorSkipped = true
				return
			}
			vectorHits = hits
		}()
	}

	if s.lexical.IsCircuitOpen() {
		debug.LexicalSkipped = true
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := s.lexicalSearch(ctx, owner, variants, tiers, limit)
			if err != nil {
				log.Printf("⚠️ [SEARCH] Lexical search failed: %v", err)
				debug.LexicalSkipped = true
				return
			}
			lexicalHits = hits
		}()
	}

	wg.Wait()
	debug.VectorHits = len(vectorHits)
	debug.LexicalHits = len(lexicalHits)
	return vectorHits, lexicalHits
}

// lexicalSearch queries every variant in parallel and merges in variant
// order, keeping each item's best rank.
func (s *SearchService) lexicalSearch(ctx context.Context, owner string, variants []string, tiers []models.Tier, limit int) ([]index.Hit, error) {
	perVariant := make([][]index.Hit, len(variants))
	errs := make([]error, len(variants))

	var wg sync.WaitGroup
	for i, variant := range variants {
		wg.Add(1)
		go func(i int, variant string) {
			defer wg.Done()
			perVariant[i], errs[i] = s.lexical.Search(ctx, owner, variant, tiers, limit)
		}(i, variant)
	}
	wg.Wait()

	var merged []index.Hit
	seen := make(map[string]bool)
	var lastErr error

	for i, hits := range perVariant {
		if errs[i] != nil {
			lastErr = errs[i]
			continue
		}
		for _, hit := range hits {
			if seen[hit.ID] {
				continue
			}
			seen[hit.ID] = true
			merged = append(merged, hit)
		}
	}

	if len(merged) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return merged, nil
}

// fusedHit is one candidate after rank fusion.
type fusedHit struct {
	ID      string
	Score   float64
	Payload index.Payload
}

// rrfFuse combines both ranked lists with weighted reciprocal-rank
// fusion. An item appearing in both lists accumulates both
// contributions, so agreement between backends outranks a solo top hit.
func rrfFuse(vectorHits, lexicalHits []index.Hit) []fusedHit {
	scores := make(map[string]*fusedHit)

	accumulate := func(hits []index.Hit, weight float64) {
		for rank, hit := range hits {
			contribution := weight / float64(rrfK+rank+1)
			if existing, ok := scores[hit.ID]; ok {
				existing.Score += contribution
			} else {
				scores[hit.ID] = &fusedHit{ID: hit.ID, Score: contribution, Payload: hit.Payload}
			}
		}
	}

	accumulate(vectorHits, vectorWeight)
	accumulate(lexicalHits, lexicalWeight)

	fused := make([]fusedHit, 0, len(scores))
	for _, hit := range scores {
		fused = append(fused, *hit)
	}
	sortFused(fused)
	return fused
}

// sortFused orders candidates by fused score descending, ties broken on
// ID for a deterministic ranking.
func sortFused(fused []fusedHit) {
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
}

// applyEntityBoosts multiplies boosted candidates' fused scores and
// re-sorts, so a boost changes an item's rank and not just the number
// it is displayed with. Runs before filtering and truncation: a boosted
// item near the cut line can climb back above it.
func applyEntityBoosts(fused []fusedHit, boosts map[string]float64) {
	boosted := false
	for i := range fused {
		if boost, ok := boosts[fused[i].ID]; ok {
			fused[i].Score *= 1 + boost
			boosted = true
		}
	}
	if boosted {
		sortFused(fused)
	}
}

// resolveTiers turns an explicit tier list into a plan, or asks the
// router. The literal "all" (and an empty list) means every tier.
func (s *SearchService) resolveTiers(ctx context.Context, owner string, explicit []string, concepts []string) models.TierPlan {
	if len(explicit) == 1 && strings.EqualFold(explicit[0], "all") {
		return models.TierPlan{Tiers: models.AllTiers(), Source: models.TierPlanSourceDefault, Confidence: 1.0}
	}
	if len(explicit) > 0 {
		var tiers []models.Tier
		for _, name := range explicit {
			if models.ValidTier(name) {
				tiers = append(tiers, models.Tier(name))
			}
		}
		if len(tiers) > 0 {
			return models.TierPlan{Tiers: tiers, Source: models.TierPlanSourceDefault, Confidence: 1.0}
		}
	}
	if s.routing != nil {
		return s.routing.GetTierPlan(ctx, owner, concepts)
	}
	return defaultTierPlan()
}

func (s *SearchService) queryConcepts(ctx context.Context, query string) []string {
	entities, err := s.extractor.Extract(ctx, query)
	if err != nil {
		log.Printf("⚠️ [SEARCH] Concept extraction failed: %v", err)
		return nil
	}
	concepts := make([]string, 0, len(entities))
	for _, ent := range entities {
		concepts = append(concepts, ent.Label)
	}
	return concepts
}

func (s *SearchService) recordTurn(owner, query string, concepts []string, tiers []models.Tier, results []SearchResult) {
	if s.tracker == nil {
		return
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	s.tracker.Record(owner, query, concepts, tiers, ids)
}

func solutionKey(owner, query string) string {
	return owner + ":" + calculateHash(normalizeContent(query))
}

func (s *SearchService) knownSolution(owner, query string) (*SearchResult, bool) {
	value, ok := s.solutions.Get(solutionKey(owner, query))
	if !ok {
		return nil, false
	}
	result, ok := value.(SearchResult)
	if !ok {
		return nil, false
	}
	if s.ghosts != nil && s.ghosts.IsGhosted(owner, result.ID) {
		s.solutions.Delete(solutionKey(owner, query))
		return nil, false
	}
	result.Position = 1
	return &result, true
}

// cacheKnownSolution remembers the top result when it is a proven
// patterns-tier item, so repeats of the same question skip retrieval.
func (s *SearchService) cacheKnownSolution(owner, query string, results []SearchResult) {
	if len(results) == 0 {
		return
	}
	top := results[0]
	if top.Tier != string(models.TierPatterns) || top.WilsonScore <= knownSolutionWilson {
		return
	}
	s.solutions.Set(solutionKey(owner, query), top, gocache.DefaultExpiration)
}

// InvalidateKnownSolutions drops an owner's cached solutions, e.g.
// after a negative outcome on a cached item.
func (s *SearchService) InvalidateKnownSolutions(owner string) {
	prefix := owner + ":"
	for key := range s.solutions.Items() {
		if strings.HasPrefix(key, prefix) {
			s.solutions.Delete(key)
		}
	}
}

// recencyKeywords trigger recency sorting when no explicit sort mode is
// given. Bilingual, matched on the lowercased query.
var recencyKeywords = []string{
	"latest", "most recent", "recently", "newest", "last time", "just told",
	"אחרון", "אחרונה", "האחרונות", "לאחרונה", "הכי חדש", "עכשיו",
}

// resolveSortMode picks an explicit sort mode or auto-detects recency
// intent from the query text.
func resolveSortMode(explicit, query string) string {
	switch explicit {
	case SortRelevance, SortRecency, SortLearned:
		return explicit
	}
	lower := strings.ToLower(query)
	for _, kw := range recencyKeywords {
		if strings.Contains(lower, kw) {
			return SortRecency
		}
	}
	return SortRelevance
}

func sortResults(results []SearchResult, mode string) {
	switch mode {
	case SortRecency:
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		})
	case SortLearned:
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].WilsonScore != results[j].WilsonScore {
				return results[i].WilsonScore > results[j].WilsonScore
			}
			return results[i].Score > results[j].Score
		})
	}
	// Relevance keeps fusion order.
}

// searchConfidence grades the answer: low when retrieval was degraded
// or empty, high when both backends ran and the top hit is well-proven.
func searchConfidence(results []SearchResult, debug *SearchDebug) string {
	if len(results) == 0 || debug.VectorSkipped || debug.LexicalSkipped {
		return ConfidenceLow
	}
	if results[0].WilsonScore >= knownSolutionWilson {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}

// hebrewQuestionPrefixes are stripped to produce a keyword-dense query
// variant for lexical matching.
var hebrewQuestionPrefixes = []string{
	"איך", "מה", "למה", "איפה", "מתי", "כיצד", "האם", "מי",
}

var englishQuestionPrefixes = []string{
	"how do i", "how to", "how can i", "what is", "what are",
	"why does", "why is", "where is", "when did",
}

// expandQuery produces up to maxQueryVariants lexical variants of the
// query: the original, a question-prefix-stripped form, and a
// lowercased form when it differs.
func expandQuery(query string) []string {
	variants := []string{query}
	lower := strings.ToLower(query)

	stripped := lower
	if extraction.IsHebrew(query) {
		for _, prefix := range hebrewQuestionPrefixes {
			if strings.HasPrefix(stripped, prefix+" ") {
				stripped = strings.TrimSpace(strings.TrimPrefix(stripped, prefix))
				break
			}
		}
	} else {
		for _, prefix := range englishQuestionPrefixes {
			if strings.HasPrefix(stripped, prefix+" ") {
				stripped = strings.TrimSpace(strings.TrimPrefix(stripped, prefix))
				break
			}
		}
	}

	for _, candidate := range []string{stripped, lower} {
		if len(variants) >= maxQueryVariants {
			break
		}
		if candidate != "" && !containsString(variants, candidate) {
			variants = append(variants, candidate)
		}
	}
	return variants
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
