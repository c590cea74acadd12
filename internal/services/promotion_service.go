package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"zikaron/internal/database"
	"zikaron/internal/index"
	"zikaron/internal/models"
	"zikaron/internal/stats"
)

// Lifecycle thresholds. Promotion is strictly one-directional and
// requires both a proven Wilson score and a minimum use count so a
// single lucky outcome cannot promote an item.
const (
	promoteToHistoryWilson  = 0.7
	promoteToHistoryMinUses = 2

	promoteToPatternsWilson  = 0.9
	promoteToPatternsMinUses = 3

	// preservationWilson exempts a proven item from TTL eviction.
	preservationWilson = 0.8

	// Garbage: items that were tried and keep failing.
	garbageWilson = 0.2

	workingTTL = 24 * time.Hour
	historyTTL = 30 * 24 * time.Hour
)

// CycleStats reports one lifecycle cycle for one owner.
type CycleStats struct {
	Promoted int `json:"promoted"`
	Evicted  int `json:"evicted"`
	Cleaned  int `json:"cleaned"`
	Errors   int `json:"errors"`
}

// PromotionService is the tier lifecycle automaton. Each cycle runs
// three passes in a fixed order - promotion, TTL eviction, garbage
// collection - so an item that earned promotion this cycle is judged by
// its new tier's TTL, not its old one. Protected tiers are never
// touched. A per-owner run guard makes overlapping cycles no-ops.
type PromotionService struct {
	mongodb    *database.MongoDB
	collection *mongo.Collection
	vector     index.VectorBackend
	lexical    index.LexicalBackend
	ghosts     *GhostRegistry

	mu      sync.Mutex
	running map[string]bool
}

// NewPromotionService creates a new promotion service
func NewPromotionService(mongodb *database.MongoDB, vector index.VectorBackend, lexical index.LexicalBackend, ghosts *GhostRegistry) *PromotionService {
	return &PromotionService{
		mongodb:    mongodb,
		collection: mongodb.Collection(database.CollectionMemoryItems),
		vector:     vector,
		lexical:    lexical,
		ghosts:     ghosts,
		running:    make(map[string]bool),
	}
}

// nextTier returns the promotion target for a tier, or "" when the tier
// does not promote.
func nextTier(tier models.Tier) models.Tier {
	switch tier {
	case models.TierWorking:
		return models.TierHistory
	case models.TierHistory:
		return models.TierPatterns
	}
	return ""
}

// shouldPromote decides promotion from the item's current tier.
func shouldPromote(item *models.MemoryItem) bool {
	switch item.Tier {
	case models.TierWorking:
		return item.WilsonScore >= promoteToHistoryWilson && item.Uses >= promoteToHistoryMinUses
	case models.TierHistory:
		return item.WilsonScore >= promoteToPatternsWilson && item.Uses >= promoteToPatternsMinUses
	}
	return false
}

// tierTTL returns the tier's time-to-live, or 0 when the tier never
// expires.
func tierTTL(tier models.Tier) time.Duration {
	switch tier {
	case models.TierWorking:
		return workingTTL
	case models.TierHistory:
		return historyTTL
	}
	return 0
}

// shouldEvict decides TTL eviction. Proven items are preserved past
// their TTL; patterns and the protected tiers never expire.
func shouldEvict(item *models.MemoryItem, now time.Time) bool {
	ttl := tierTTL(item.Tier)
	if ttl == 0 {
		return false
	}
	if item.WilsonScore >= preservationWilson {
		return false
	}

	age := now.Sub(item.CreatedAt)
	if item.LastUsedAt != nil {
		age = now.Sub(*item.LastUsedAt)
	}
	return age > ttl
}

// decayedQuality is the item's Wilson score discounted by how long it
// has sat unused.
func decayedQuality(item *models.MemoryItem, now time.Time) float64 {
	return item.WilsonScore * stats.TimeWeight(item.LastUsedAt, now)
}

// isGarbage flags items that were actually used and keep failing.
// Never-used items are not garbage; they just have not had a chance.
func isGarbage(item *models.MemoryItem) bool {
	if item.Tier.IsProtected() {
		return false
	}
	return item.Uses > 0 && item.WilsonScore < garbageWilson
}

// RunCycle executes one lifecycle cycle for an owner. A cycle already
// in flight for the same owner returns zeroed stats immediately.
func (s *PromotionService) RunCycle(ctx context.Context, owner string) (*CycleStats, error) {
	s.mu.Lock()
	if s.running[owner] {
		s.mu.Unlock()
		log.Printf("⏭️ [PROMOTION] Cycle already running for user %s, skipping", owner)
		return &CycleStats{}, nil
	}
	s.running[owner] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, owner)
		s.mu.Unlock()
	}()

	cycleStats := &CycleStats{}
	now := time.Now()

	items, err := s.loadActiveUnprotected(ctx, owner)
	if err != nil {
		return cycleStats, err
	}

	// Pass 1: promotion.
	for i := range items {
		item := &items[i]
		if !shouldPromote(item) {
			continue
		}
		target := nextTier(item.Tier)
		if err := s.promote(ctx, item, target); err != nil {
			log.Printf("⚠️ [PROMOTION] Failed to promote item %s: %v", item.ID.Hex(), err)
			cycleStats.Errors++
			continue
		}
		item.Tier = target
		cycleStats.Promoted++
	}

	// Pass 2: TTL eviction, judged against post-promotion tiers.
	for i := range items {
		item := &items[i]
		if item.Status != models.StatusActive || !shouldEvict(item, now) {
			continue
		}
		if err := s.archive(ctx, item, "ttl_expired"); err != nil {
			log.Printf("⚠️ [PROMOTION] Failed to evict item %s: %v", item.ID.Hex(), err)
			cycleStats.Errors++
			continue
		}
		item.Status = models.StatusArchived
		cycleStats.Evicted++
	}

	// Pass 3: garbage collection.
	for i := range items {
		item := &items[i]
		if item.Status != models.StatusActive || !isGarbage(item) {
			continue
		}
		if err := s.archive(ctx, item, "low_quality"); err != nil {
			log.Printf("⚠️ [PROMOTION] Failed to clean item %s: %v", item.ID.Hex(), err)
			cycleStats.Errors++
			continue
		}
		item.Status = models.StatusArchived
		cycleStats.Cleaned++
	}

	// Pass 4: quality decay refresh for the survivors. Outcome writes
	// store quality at full recency weight; the idle decay accrues here.
	for i := range items {
		item := &items[i]
		if item.Status != models.StatusActive {
			continue
		}
		quality := decayedQuality(item, now)
		if math.Abs(quality-item.QualityScore) < 1e-9 {
			continue
		}
		if _, err := s.collection.UpdateOne(ctx,
			bson.M{"_id": item.ID},
			bson.M{"$set": bson.M{"qualityScore": quality}},
		); err != nil {
			log.Printf("⚠️ [PROMOTION] Failed to refresh quality for item %s: %v", item.ID.Hex(), err)
			cycleStats.Errors++
		}
	}

	if cycleStats.Promoted+cycleStats.Evicted+cycleStats.Cleaned > 0 {
		log.Printf("♻️ [PROMOTION] Cycle for user %s: %d promoted, %d evicted, %d cleaned, %d errors",
			owner, cycleStats.Promoted, cycleStats.Evicted, cycleStats.Cleaned, cycleStats.Errors)
	}
	return cycleStats, nil
}

// RunCycleAll runs one cycle per owner with active memories.
func (s *PromotionService) RunCycleAll(ctx context.Context) (map[string]*CycleStats, error) {
	owners, err := s.collection.Distinct(ctx, "userId", bson.M{"status": models.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}

	results := make(map[string]*CycleStats, len(owners))
	for _, raw := range owners {
		owner, ok := raw.(string)
		if !ok {
			continue
		}
		cycleStats, err := s.RunCycle(ctx, owner)
		if err != nil {
			log.Printf("⚠️ [PROMOTION] Cycle failed for user %s: %v", owner, err)
			continue
		}
		results[owner] = cycleStats
	}
	return results, nil
}

func (s *PromotionService) loadActiveUnprotected(ctx context.Context, owner string) ([]models.MemoryItem, error) {
	cursor, err := s.collection.Find(ctx, bson.M{
		"userId": owner,
		"status": models.StatusActive,
		"tier":   bson.M{"$in": []models.Tier{models.TierWorking, models.TierHistory, models.TierPatterns}},
	}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to load lifecycle candidates: %w", err)
	}
	defer cursor.Close(ctx)

	var items []models.MemoryItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode lifecycle candidates: %w", err)
	}
	return items, nil
}

// promote moves an item one tier up and pushes the new tier into both
// indexes.
func (s *PromotionService) promote(ctx context.Context, item *models.MemoryItem, target models.Tier) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": item.ID, "tier": item.Tier, "status": models.StatusActive},
		bson.M{"$set": bson.M{"tier": target, "updatedAt": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}
	if result.MatchedCount == 0 {
		// Item changed under us this cycle; next cycle will see it.
		return nil
	}

	tierStr := string(target)
	update := index.PayloadUpdate{Tier: &tierStr}
	if err := s.vector.UpdatePayload(ctx, item.UserID, item.ID.Hex(), update); err != nil {
		log.Printf("⚠️ [PROMOTION] Vector tier push failed for item %s: %v", item.ID.Hex(), err)
	}
	if err := s.lexical.UpdatePayload(ctx, item.UserID, item.ID.Hex(), update); err != nil {
		log.Printf("⚠️ [PROMOTION] Lexical tier push failed for item %s: %v", item.ID.Hex(), err)
	}

	log.Printf("⬆️ [PROMOTION] Promoted item %s: %s -> %s", item.ID.Hex(), item.Tier, target)
	return nil
}

// archive retires an item and leaves a ghost so stale index hits stay
// suppressed until the indexes catch up.
func (s *PromotionService) archive(ctx context.Context, item *models.MemoryItem, reason string) error {
	now := time.Now()
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": item.ID, "status": models.StatusActive},
		bson.M{"$set": bson.M{
			"status":     models.StatusArchived,
			"archivedAt": now,
			"updatedAt":  now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to archive item: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil
	}

	status := models.StatusArchived
	update := index.PayloadUpdate{Status: &status}
	if err := s.vector.UpdatePayload(ctx, item.UserID, item.ID.Hex(), update); err != nil {
		log.Printf("⚠️ [PROMOTION] Vector status push failed for item %s: %v", item.ID.Hex(), err)
	}
	if err := s.lexical.UpdatePayload(ctx, item.UserID, item.ID.Hex(), update); err != nil {
		log.Printf("⚠️ [PROMOTION] Lexical status push failed for item %s: %v", item.ID.Hex(), err)
	}

	if s.ghosts != nil {
		s.ghosts.Ghost(ctx, item.UserID, item.ID.Hex(), item.Tier, reason)
	}
	return nil
}
