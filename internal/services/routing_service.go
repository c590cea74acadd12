package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"zikaron/internal/database"
	"zikaron/internal/models"
	"zikaron/internal/stats"
)

// maxRoutedTiers bounds how many tiers a learned plan returns beyond
// the always-included working tier.
const maxRoutedTiers = 2

// defaultPlanConfidence is the cold-start confidence ceiling.
const defaultPlanConfidence = 0.3

// RoutingService is the knowledge-graph tier router: it learns which
// tiers answer queries about which concepts and turns that into a tier
// plan for the search engine.
type RoutingService struct {
	mongodb    *database.MongoDB
	collection *mongo.Collection
}

// NewRoutingService creates a new routing service
func NewRoutingService(mongodb *database.MongoDB) *RoutingService {
	return &RoutingService{
		mongodb:    mongodb,
		collection: mongodb.Collection(database.CollectionRoutingConcepts),
	}
}

// GetTierPlan returns the tiers a query about the given concepts should
// search. With no concepts or no learned statistics it returns every
// known tier (cold start / exploration). The working tier is always
// included regardless of statistics.
func (s *RoutingService) GetTierPlan(ctx context.Context, owner string, concepts []string) models.TierPlan {
	if len(concepts) == 0 {
		return defaultTierPlan()
	}

	cursor, err := s.collection.Find(ctx, bson.M{
		"userId":  owner,
		"concept": bson.M{"$in": concepts},
	})
	if err != nil {
		log.Printf("⚠️ [ROUTING] Failed to load routing stats for %s: %v", owner, err)
		return defaultTierPlan()
	}
	defer cursor.Close(ctx)

	var records []models.RoutingConcept
	if err := cursor.All(ctx, &records); err != nil {
		log.Printf("⚠️ [ROUTING] Failed to decode routing stats: %v", err)
		return defaultTierPlan()
	}
	if len(records) == 0 {
		return defaultTierPlan()
	}

	scores, totalUses := aggregateTierScores(records)
	if totalUses == 0 {
		return defaultTierPlan()
	}

	return models.TierPlan{
		Tiers:      planTiers(scores),
		Source:     models.TierPlanSourceRouting,
		Confidence: planConfidence(totalUses),
	}
}

// defaultTierPlan is the exploration plan: search everything.
func defaultTierPlan() models.TierPlan {
	return models.TierPlan{
		Tiers:      models.AllTiers(),
		Source:     models.TierPlanSourceDefault,
		Confidence: defaultPlanConfidence,
	}
}

// aggregateTierScores combines per-concept tier statistics into one
// use-weighted Wilson score per tier.
func aggregateTierScores(records []models.RoutingConcept) (map[string]float64, int64) {
	weighted := make(map[string]float64)
	uses := make(map[string]int64)
	var total int64

	for _, rec := range records {
		for tier, ts := range rec.Tiers {
			if ts == nil || ts.Uses == 0 {
				continue
			}
			weighted[tier] += ts.WilsonScore * float64(ts.Uses)
			uses[tier] += ts.Uses
			total += ts.Uses
		}
	}

	scores := make(map[string]float64, len(weighted))
	for tier, sum := range weighted {
		scores[tier] = sum / float64(uses[tier])
	}
	return scores, total
}

// planTiers selects working plus the top scoring remaining tiers.
func planTiers(scores map[string]float64) []models.Tier {
	type scored struct {
		tier  models.Tier
		score float64
	}
	var rest []scored
	for name, score := range scores {
		if !models.ValidTier(name) || models.Tier(name) == models.TierWorking {
			continue
		}
		rest = append(rest, scored{models.Tier(name), score})
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].score != rest[j].score {
			return rest[i].score > rest[j].score
		}
		return rest[i].tier < rest[j].tier
	})

	tiers := []models.Tier{models.TierWorking}
	for i, sc := range rest {
		if i >= maxRoutedTiers {
			break
		}
		tiers = append(tiers, sc.tier)
	}
	return tiers
}

// planConfidence scales with evidence strength, from just above the
// cold-start ceiling to 0.9.
func planConfidence(totalUses int64) float64 {
	evidence := math.Min(1.0, float64(totalUses)/20.0)
	return 0.5 + 0.4*evidence
}

// UpdateRoutingStats increments outcome counters for every
// (concept, tier-used) pair and recomputes the pair's Wilson score,
// creating the concept record on first use.
func (s *RoutingService) UpdateRoutingStats(ctx context.Context, owner string, concepts []string, tiersUsed []models.Tier, outcome stats.Outcome) error {
	if len(concepts) == 0 || len(tiersUsed) == 0 {
		return nil
	}

	successValue := outcome.SuccessValue()
	now := time.Now()

	for _, concept := range concepts {
		for _, tier := range tiersUsed {
			prefix := fmt.Sprintf("tiers.%s", tier)
			update := bson.M{
				"$inc": bson.M{
					prefix + ".uses":                     1,
					prefix + "." + counterField(outcome): 1,
					prefix + ".successCount":             successValue,
				},
				"$set":         bson.M{"updatedAt": now},
				"$setOnInsert": bson.M{"createdAt": now},
			}

			result := s.collection.FindOneAndUpdate(
				ctx,
				bson.M{"userId": owner, "concept": concept},
				update,
				options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
			)

			var rec models.RoutingConcept
			if err := result.Decode(&rec); err != nil {
				return fmt.Errorf("failed to update routing stats for %s/%s: %w", concept, tier, err)
			}

			ts := rec.Tiers[string(tier)]
			if ts == nil {
				continue
			}
			wilson := stats.WilsonLowerBound(ts.SuccessCount, ts.Uses, stats.DefaultZ)

			if _, err := s.collection.UpdateOne(ctx, bson.M{"_id": rec.ID}, bson.M{
				"$set": bson.M{
					prefix + ".wilsonScore": wilson,
					"bestTiers":             bestTiersFor(rec.Tiers, string(tier), wilson),
				},
			}); err != nil {
				return fmt.Errorf("failed to store routing wilson score: %w", err)
			}
		}
	}
	return nil
}

// counterField maps an outcome to its tier-stats counter name.
func counterField(outcome stats.Outcome) string {
	switch outcome {
	case stats.OutcomeWorked:
		return "worked"
	case stats.OutcomePartial:
		return "partial"
	case stats.OutcomeUnknown:
		return "unknown"
	case stats.OutcomeFailed:
		return "failed"
	}
	panic(fmt.Sprintf("services: outcome %q outside closed set", string(outcome)))
}

// bestTiersFor recomputes the cached best-tiers list after one tier's
// Wilson score changed.
func bestTiersFor(tiers map[string]*models.TierStats, updatedTier string, updatedWilson float64) []string {
	type scored struct {
		name  string
		score float64
	}
	var all []scored
	for name, ts := range tiers {
		if ts == nil {
			continue
		}
		score := ts.WilsonScore
		if name == updatedTier {
			score = updatedWilson
		}
		all = append(all, scored{name, score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].name < all[j].name
	})

	best := make([]string, 0, 3)
	for i, sc := range all {
		if i >= 3 {
			break
		}
		best = append(best, sc.name)
	}
	return best
}

// contextKeywords maps each context type to its bilingual keyword list.
// Order matters: the first matching type wins.
var contextKeywords = []struct {
	context  models.ContextType
	keywords []string
}{
	{models.ContextDocker, []string{
		"docker", "container", "dockerfile", "compose", "image", "volume",
		"דוקר", "קונטיינר", "קונטײנר",
	}},
	{models.ContextDebugging, []string{
		"error", "bug", "crash", "broken", "fails", "failing", "exception",
		"stacktrace", "traceback", "panic", "not working",
		"שגיאה", "באג", "קורס", "תקלה", "לא עובד", "נשבר",
	}},
	{models.ContextCodingHelp, []string{
		"function", "code", "implement", "refactor", "compile", "class",
		"method", "api", "library", "syntax",
		"פונקציה", "קוד", "לממש", "לתכנת", "ספריה", "מחלקה",
	}},
	{models.ContextWebSearch, []string{
		"search", "find online", "look up", "google", "news", "website",
		"לחפש", "חיפוש", "חדשות", "אתר", "תמצא לי",
	}},
	{models.ContextMemoryManagement, []string{
		"remember", "forget", "memory", "memories", "recall", "stored",
		"תזכור", "לזכור", "תשכח", "לשכוח", "זיכרון", "זכרונות",
	}},
	{models.ContextDocuments, []string{
		"document", "pdf", "file", "page", "report", "spreadsheet",
		"מסמך", "קובץ", "דוח", "עמוד", "טבלה",
	}},
}

// DetectContextType classifies free text into a fixed context enum via
// bilingual keyword matching. The current text is checked first; when
// it carries no signal the recent messages are scanned newest-first.
// The default is general.
func DetectContextType(text string, recentMessages []string) models.ContextType {
	if ctx, ok := matchContext(text); ok {
		return ctx
	}
	for i := len(recentMessages) - 1; i >= 0; i-- {
		if ctx, ok := matchContext(recentMessages[i]); ok {
			return ctx
		}
	}
	return models.ContextGeneral
}

func matchContext(text string) (models.ContextType, bool) {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return models.ContextGeneral, false
	}
	for _, group := range contextKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.context, true
			}
		}
	}
	return models.ContextGeneral, false
}
