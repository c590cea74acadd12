package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"zikaron/internal/database"
	"zikaron/internal/models"
	"zikaron/internal/stats"
)

// ActionTracker buffers the actions taken during a conversational turn
// and, once the turn receives an outcome, folds them into per-owner
// (context type, action type) effectiveness statistics. The buffer is
// purely in-memory: a turn that never gets an outcome costs nothing.
type ActionTracker struct {
	mu      sync.Mutex
	pending map[string][]models.ActionRecord

	collection *mongo.Collection
}

// NewActionTracker creates a new action tracker
func NewActionTracker(mongodb *database.MongoDB) *ActionTracker {
	return &ActionTracker{
		pending:    make(map[string][]models.ActionRecord),
		collection: mongodb.Collection(database.CollectionActionStats),
	}
}

func turnKey(conversationID string, turn int) string {
	return fmt.Sprintf("%s:%d", conversationID, turn)
}

// StartTurn resets the action buffer for a turn. Safe to call for a
// turn that was never started.
func (t *ActionTracker) StartTurn(conversationID string, turn int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[turnKey(conversationID, turn)] = nil
}

// RecordAction buffers one action against the turn. Recording stays
// cheap and local; nothing is persisted until an outcome arrives.
func (t *ActionTracker) RecordAction(conversationID string, turn int, action models.ActionRecord) {
	if action.RecordedAt.IsZero() {
		action.RecordedAt = time.Now()
	}
	key := turnKey(conversationID, turn)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[key] = append(t.pending[key], action)
}

// PendingActions reports how many actions are buffered for a turn.
func (t *ActionTracker) PendingActions(conversationID string, turn int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[turnKey(conversationID, turn)])
}

// ApplyOutcome flushes a turn's buffered actions into the persistent
// effectiveness stats and clears the buffer. Each (context, action)
// pair gets its counters incremented, a bounded example history, and a
// recomputed Wilson score. Per-pair failures are logged and do not
// abort the rest of the flush.
func (t *ActionTracker) ApplyOutcome(ctx context.Context, owner, conversationID string, turn int, outcome stats.Outcome) error {
	key := turnKey(conversationID, turn)

	t.mu.Lock()
	actions := t.pending[key]
	delete(t.pending, key)
	t.mu.Unlock()

	if len(actions) == 0 {
		return nil
	}

	successValue := outcome.SuccessValue()
	now := time.Now()
	var firstErr error

	for _, action := range actions {
		update := bson.M{
			"$inc": bson.M{
				"uses":                1,
				counterField(outcome): 1,
				"successCount":        successValue,
			},
			"$set":         bson.M{"updatedAt": now},
			"$setOnInsert": bson.M{"createdAt": now},
		}
		if action.Detail != "" {
			update["$push"] = bson.M{
				"examples": bson.M{
					"$each":  []string{action.Detail},
					"$slice": -models.MaxActionExamples,
				},
			}
		}

		result := t.collection.FindOneAndUpdate(
			ctx,
			bson.M{"userId": owner, "contextType": action.ContextType, "actionType": action.ActionType},
			update,
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		)

		var eff models.ActionEffectiveness
		if err := result.Decode(&eff); err != nil {
			log.Printf("⚠️ [ACTION-STATS] Failed to update %s/%s for user %s: %v",
				action.ContextType, action.ActionType, owner, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to update action stats: %w", err)
			}
			continue
		}

		wilson := stats.WilsonLowerBound(eff.SuccessCount, eff.Uses, stats.DefaultZ)
		if _, err := t.collection.UpdateOne(ctx, bson.M{"_id": eff.ID}, bson.M{
			"$set": bson.M{"wilsonScore": wilson},
		}); err != nil {
			log.Printf("⚠️ [ACTION-STATS] Failed to store wilson score for %s/%s: %v",
				action.ContextType, action.ActionType, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to store action wilson score: %w", err)
			}
		}
	}

	log.Printf("📊 [ACTION-STATS] Applied outcome %s to %d actions for user %s", outcome, len(actions), owner)
	return firstErr
}

// BestActions returns the action types with the highest Wilson scores
// for a context type, most effective first.
func (t *ActionTracker) BestActions(ctx context.Context, owner string, contextType models.ContextType, limit int) ([]models.ActionEffectiveness, error) {
	if limit <= 0 {
		limit = 5
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "wilsonScore", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := t.collection.Find(ctx, bson.M{
		"userId":      owner,
		"contextType": contextType,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load action stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.ActionEffectiveness
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode action stats: %w", err)
	}
	return results, nil
}
