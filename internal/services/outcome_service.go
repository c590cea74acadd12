package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"zikaron/internal/database"
	"zikaron/internal/index"
	"zikaron/internal/logging"
	"zikaron/internal/models"
	"zikaron/internal/stats"
)

// OutcomeReport summarizes one RecordOutcome call.
type OutcomeReport struct {
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"` // protected tier or unresolvable ref
	Failed    int      `json:"failed"`
	ItemIDs   []string `json:"item_ids,omitempty"`
	Unmatched []string `json:"unmatched_refs,omitempty"`
}

// OutcomeService closes the learning loop: it attributes conversation
// outcomes back to the memory items that were surfaced, updates their
// outcome counters and Wilson scores, and feeds the routing graph and
// action statistics with the same signal.
type OutcomeService struct {
	mongodb    *database.MongoDB
	collection *mongo.Collection
	vector     index.VectorBackend
	lexical    index.LexicalBackend
	tracker    *PositionTracker
	routing    *RoutingService
	contentKG  *ContentKGService
	actions    *ActionTracker
	search     *SearchService
	storage    *MemoryStorageService
}

// NewOutcomeService creates a new outcome service
func NewOutcomeService(
	mongodb *database.MongoDB,
	vector index.VectorBackend,
	lexical index.LexicalBackend,
	tracker *PositionTracker,
	routing *RoutingService,
	contentKG *ContentKGService,
	actions *ActionTracker,
	search *SearchService,
	storage *MemoryStorageService,
) *OutcomeService {
	return &OutcomeService{
		mongodb:    mongodb,
		collection: mongodb.Collection(database.CollectionMemoryItems),
		vector:     vector,
		lexical:    lexical,
		tracker:    tracker,
		routing:    routing,
		contentKG:  contentKG,
		actions:    actions,
		search:     search,
		storage:    storage,
	}
}

// RecordOutcome applies one outcome to the referenced items. Refs may
// be 1-indexed positions into the last search turn ("2") or item ID hex
// strings; when every ref is unresolvable the outcome falls back to all
// items of the last turn. Protected-tier items are skipped, and a
// failure on one item never aborts the rest of the batch.
func (o *OutcomeService) RecordOutcome(ctx context.Context, owner string, refs []string, outcome stats.Outcome) (*OutcomeReport, error) {
	report := &OutcomeReport{}

	itemIDs, unmatched := o.resolveRefs(owner, refs)
	report.Unmatched = unmatched
	if len(itemIDs) == 0 {
		return report, nil
	}

	for _, itemID := range itemIDs {
		updated, err := o.applyToItem(ctx, owner, itemID, outcome)
		switch {
		case err != nil:
			log.Printf("⚠️ [OUTCOME] Failed to apply %s to item %s: %v", outcome, itemID, err)
			report.Failed++
		case updated:
			report.Updated++
			report.ItemIDs = append(report.ItemIDs, itemID)
		default:
			report.Skipped++
		}
	}

	// The routing graph learns once per outcome call, from the turn's
	// concepts and tiers, not per item.
	if o.routing != nil {
		if turn := o.tracker.Last(owner); turn != nil {
			if err := o.routing.UpdateRoutingStats(ctx, owner, turn.Concepts, turn.TiersUsed, outcome); err != nil {
				log.Printf("⚠️ [OUTCOME] Routing update failed for user %s: %v", owner, err)
			}
		}
	}

	// A failed outcome on a cached known solution means the cache is
	// now lying; drop it.
	if o.search != nil && outcome == stats.OutcomeFailed {
		o.search.InvalidateKnownSolutions(owner)
	}

	log.Printf("📈 [OUTCOME] Applied %s to %d items for user %s (%d skipped, %d failed)",
		outcome, report.Updated, owner, report.Skipped, report.Failed)
	return report, nil
}

// resolveRefs maps refs to item IDs. A ref is tried first as a
// position, then as an item ID. When nothing resolves, the whole last
// turn is the target.
func (o *OutcomeService) resolveRefs(owner string, refs []string) ([]string, []string) {
	turn := o.tracker.Last(owner)

	var resolved []string
	var unmatched []string
	seen := make(map[string]bool)

	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			resolved = append(resolved, id)
		}
	}

	for _, ref := range refs {
		if pos, err := strconv.Atoi(ref); err == nil {
			if turn != nil {
				if id, ok := turn.Positions[pos]; ok {
					add(id)
					continue
				}
			}
			unmatched = append(unmatched, ref)
			continue
		}
		if _, err := primitive.ObjectIDFromHex(ref); err == nil {
			add(ref)
			continue
		}
		unmatched = append(unmatched, ref)
	}

	// All refs bad (or none given): attribute to everything surfaced in
	// the last turn.
	if len(resolved) == 0 && turn != nil {
		resolved = turn.ItemIDs()
	}
	return resolved, unmatched
}

// applyToItem updates one item's counters and recomputes its scores.
// Returns false without error when the item is protected or gone.
func (o *OutcomeService) applyToItem(ctx context.Context, owner, itemID string, outcome stats.Outcome) (bool, error) {
	id, err := primitive.ObjectIDFromHex(itemID)
	if err != nil {
		return false, fmt.Errorf("invalid item id: %w", err)
	}

	now := time.Now()
	successValue := outcome.SuccessValue()

	result := o.collection.FindOneAndUpdate(
		ctx,
		bson.M{
			"_id":    id,
			"userId": owner,
			"tier":   bson.M{"$nin": []models.Tier{models.TierDocuments, models.TierMemoryBank}},
		},
		bson.M{
			"$inc": bson.M{
				"uses":                     1,
				itemCounterField(outcome): 1,
				"successCount":             successValue,
			},
			"$set": bson.M{"lastUsedAt": now, "updatedAt": now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var item models.MemoryItem
	if err := result.Decode(&item); err != nil {
		if err == mongo.ErrNoDocuments {
			// Protected tier or missing item: not an error, just skipped.
			return false, nil
		}
		return false, fmt.Errorf("failed to update outcome counters: %w", err)
	}

	wilson := stats.WilsonLowerBound(item.SuccessCount, item.Uses, stats.DefaultZ)
	successRate := item.SuccessCount / float64(item.Uses)
	// lastUsedAt is now, so the recency weight is 1 at the moment of use.
	// Lifecycle cycles re-apply the decay as the item sits idle.
	quality := wilson

	if _, err := o.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"wilsonScore":  wilson,
			"successRate":  successRate,
			"qualityScore": quality,
		},
	}); err != nil {
		return false, fmt.Errorf("failed to store recomputed scores: %w", err)
	}

	// Push the new score into the indexes best-effort; the document
	// store stays authoritative and search only uses the cached copy for
	// ranking hints.
	update := index.PayloadUpdate{WilsonScore: &wilson}
	if err := o.vector.UpdatePayload(ctx, owner, itemID, update); err != nil {
		log.Printf("⚠️ [OUTCOME] Vector score push failed for item %s: %v", itemID, err)
	}
	if err := o.lexical.UpdatePayload(ctx, owner, itemID, update); err != nil {
		log.Printf("⚠️ [OUTCOME] Lexical score push failed for item %s: %v", itemID, err)
	}

	if o.contentKG != nil {
		if err := o.contentKG.RecordItemQuality(ctx, owner, itemID, successValue); err != nil {
			log.Printf("⚠️ [OUTCOME] Entity quality update failed for item %s: %v", itemID, err)
		}
	}

	return true, nil
}

// itemCounterField maps an outcome to the memory item counter name.
func itemCounterField(outcome stats.Outcome) string {
	switch outcome {
	case stats.OutcomeWorked:
		return "workedCount"
	case stats.OutcomePartial:
		return "partialCount"
	case stats.OutcomeUnknown:
		return "unknownCount"
	case stats.OutcomeFailed:
		return "failedCount"
	}
	panic(fmt.Sprintf("services: outcome %q outside closed set", string(outcome)))
}

// RecordResponse closes a conversational turn: an optional key takeaway
// is stored as a new working-tier memory, the outcome is applied to the
// turn's surfaced items and buffered actions, and the turn state is
// cleared so stale positions cannot be referenced later.
func (o *OutcomeService) RecordResponse(ctx context.Context, owner, conversationID string, turnNumber int, outcome stats.Outcome, keyTakeaway string) (*OutcomeReport, error) {
	if keyTakeaway != "" && o.storage != nil {
		_, _, err := o.storage.Store(ctx, owner, StoreInput{
			Content:    keyTakeaway,
			Tier:       models.TierWorking,
			Source:     models.SourceRef{Kind: models.SourceConversation, ConversationID: conversationID},
			Importance: 0.6,
			Confidence: 0.6,
		})
		if err != nil {
			log.Printf("⚠️ [OUTCOME] Failed to store key takeaway for user %s: %v", owner, err)
		}
	}

	report, err := o.RecordOutcome(ctx, owner, nil, outcome)
	if err != nil {
		return report, err
	}

	if o.actions != nil {
		if err := o.actions.ApplyOutcome(ctx, owner, conversationID, turnNumber, outcome); err != nil {
			log.Printf("⚠️ [OUTCOME] Action stats flush failed for user %s: %v", owner, err)
		}
	}

	o.tracker.Clear(owner)

	logging.WithTurn(logging.WithOwner(owner), conversationID, turnNumber).Info("turn closed",
		"outcome", string(outcome),
		"updated", report.Updated,
		"skipped", report.Skipped)
	return report, nil
}
