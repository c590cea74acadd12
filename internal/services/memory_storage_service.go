package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"zikaron/internal/database"
	"zikaron/internal/embedding"
	"zikaron/internal/extraction"
	"zikaron/internal/index"
	"zikaron/internal/models"
	"zikaron/internal/stats"
)

// nearDuplicateThreshold is the vector similarity above which a new
// memory is folded into an existing one instead of stored.
const nearDuplicateThreshold = 0.97

// rebuildBatchSize bounds one ReindexPending pass during a full rebuild.
const rebuildBatchSize = 100

// StoreInput carries everything needed to store one memory item.
type StoreInput struct {
	Content    string
	Tier       models.Tier
	Tags       []string
	Source     models.SourceRef
	Importance float64
	Confidence float64
}

// MemoryStats summarizes one owner's memory store.
type MemoryStats struct {
	Total        int64            `json:"total"`
	Active       int64            `json:"active"`
	Archived     int64            `json:"archived"`
	ByTier       map[string]int64 `json:"by_tier"`
	NeedsReindex int64            `json:"needs_reindex"`
}

// MemoryStorageService owns the document store: it is the single writer
// of memory items and keeps the vector and lexical indexes fed with
// derived copies. Index writes are best-effort; a failed embedding
// never blocks a store, the item is just flagged for deferred reindex.
type MemoryStorageService struct {
	mongodb    *database.MongoDB
	collection *mongo.Collection
	vector     index.VectorBackend
	lexical    index.LexicalBackend
	embedder   embedding.Embedder
	extractor  extraction.Extractor
	contentKG  *ContentKGService
	ghosts     *GhostRegistry
}

// NewMemoryStorageService creates a new memory storage service
func NewMemoryStorageService(
	mongodb *database.MongoDB,
	vector index.VectorBackend,
	lexical index.LexicalBackend,
	embedder embedding.Embedder,
	extractor extraction.Extractor,
	contentKG *ContentKGService,
	ghosts *GhostRegistry,
) *MemoryStorageService {
	return &MemoryStorageService{
		mongodb:    mongodb,
		collection: mongodb.Collection(database.CollectionMemoryItems),
		vector:     vector,
		lexical:    lexical,
		embedder:   embedder,
		extractor:  extractor,
		contentKG:  contentKG,
		ghosts:     ghosts,
	}
}

// Store saves a new memory item. Two independent dedup strategies run
// before the insert: an exact content-hash guard against re-ingestion,
// and a vector-similarity check that merges near-duplicates into the
// existing item. Returns the stored (or merged-into) item and whether
// the call was deduplicated.
func (s *MemoryStorageService) Store(ctx context.Context, owner string, input StoreInput) (*models.MemoryItem, bool, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, false, fmt.Errorf("memory content is required")
	}
	if input.Tier == "" {
		input.Tier = models.TierWorking
	}
	if !models.ValidTier(string(input.Tier)) {
		return nil, false, fmt.Errorf("unknown tier: %s", input.Tier)
	}
	if input.Source.Kind == "" {
		input.Source.Kind = models.SourceConversation
	}

	contentHash := calculateHash(normalizeContent(input.Content))

	// Exact re-ingestion guard.
	existing, err := s.findByHash(ctx, owner, contentHash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		log.Printf("🔁 [MEMORY-STORAGE] Exact duplicate for user %s, reusing item %s", owner, existing.ID.Hex())
		return existing, true, nil
	}

	// Embedding is best-effort: on failure the item is stored anyway and
	// flagged for the deferred reindex sweep.
	vector, embedErr := s.embedder.Embed(ctx, input.Content)
	if embedErr != nil {
		log.Printf("⚠️ [MEMORY-STORAGE] Embedding failed for user %s, deferring index: %v", owner, embedErr)
	}

	// Near-duplicate merge: a semantically identical item absorbs the
	// new write instead of splitting its outcome history.
	if embedErr == nil {
		merged, err := s.mergeNearDuplicate(ctx, owner, vector, input)
		if err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Near-duplicate check failed for user %s: %v", owner, err)
		} else if merged != nil {
			return merged, true, nil
		}
	}

	now := time.Now()
	item := &models.MemoryItem{
		ID:          primitive.NewObjectID(),
		UserID:      owner,
		Tier:        input.Tier,
		Status:      models.StatusActive,
		Content:     input.Content,
		ContentHash: contentHash,
		Tags:        input.Tags,
		Source:      input.Source,
		Importance:  input.Importance,
		Confidence:  input.Confidence,
		WilsonScore: stats.NeutralScore,
		NeedsIndex:  embedErr != nil,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	item.QualityScore = item.WilsonScore * stats.TimeWeight(nil, now)

	if _, err := s.collection.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Concurrent store of the same content; the unique index is
			// the final arbiter.
			if existing, lookupErr := s.findByHash(ctx, owner, contentHash); lookupErr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("failed to store memory item: %w", err)
	}

	s.indexItem(ctx, item, vector, embedErr == nil)

	if s.contentKG != nil {
		entities, extractErr := s.extractor.Extract(ctx, input.Content)
		if extractErr != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Entity extraction failed for item %s: %v", item.ID.Hex(), extractErr)
		} else if len(entities) > 0 {
			quality := (input.Importance + input.Confidence) / 2
			if err := s.contentKG.RecordEntities(ctx, owner, item.ID.Hex(), entities, quality); err != nil {
				log.Printf("⚠️ [MEMORY-STORAGE] Entity graph update failed for item %s: %v", item.ID.Hex(), err)
			}
		}
	}

	log.Printf("✅ [MEMORY-STORAGE] Stored item %s in tier %s for user %s", item.ID.Hex(), item.Tier, owner)
	return item, false, nil
}

// mergeNearDuplicate looks for a semantically near-identical active item
// and, if found, folds the new write into it: tags union, importance and
// confidence keep their maximum. Returns nil when no merge happened.
func (s *MemoryStorageService) mergeNearDuplicate(ctx context.Context, owner string, vector []float32, input StoreInput) (*models.MemoryItem, error) {
	if s.vector.IsCircuitOpen() {
		return nil, nil
	}

	hits, err := s.vector.Search(ctx, owner, vector, []models.Tier{input.Tier}, 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 || hits[0].Score < nearDuplicateThreshold {
		return nil, nil
	}

	id, err := primitive.ObjectIDFromHex(hits[0].ID)
	if err != nil {
		return nil, fmt.Errorf("invalid index id %q: %w", hits[0].ID, err)
	}

	update := bson.M{
		"$set": bson.M{"updatedAt": time.Now()},
		"$max": bson.M{"importance": input.Importance, "confidence": input.Confidence},
		"$inc": bson.M{"version": 1},
	}
	if len(input.Tags) > 0 {
		update["$addToSet"] = bson.M{"tags": bson.M{"$each": input.Tags}}
	}

	result := s.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id, "userId": owner, "status": models.StatusActive},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var item models.MemoryItem
	if err := result.Decode(&item); err != nil {
		if err == mongo.ErrNoDocuments {
			// Index pointed at a stale or archived item; store normally.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to merge near-duplicate: %w", err)
	}

	log.Printf("🔁 [MEMORY-STORAGE] Merged near-duplicate into item %s (similarity %.3f)", item.ID.Hex(), hits[0].Score)
	return &item, nil
}

// indexItem pushes the derived projection into both indexes. Failures
// are logged and flagged for the reindex sweep, never surfaced.
func (s *MemoryStorageService) indexItem(ctx context.Context, item *models.MemoryItem, vector []float32, haveVector bool) {
	payload := payloadFor(item)

	indexFailed := false
	if haveVector {
		if err := s.vector.Upsert(ctx, item.UserID, item.ID.Hex(), vector, payload); err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Vector index failed for item %s: %v", item.ID.Hex(), err)
			indexFailed = true
		}
	}
	if err := s.lexical.Index(ctx, item.UserID, item.ID.Hex(), payload); err != nil {
		log.Printf("⚠️ [MEMORY-STORAGE] Lexical index failed for item %s: %v", item.ID.Hex(), err)
		indexFailed = true
	}

	if indexFailed && !item.NeedsIndex {
		if _, err := s.collection.UpdateOne(ctx, bson.M{"_id": item.ID}, bson.M{
			"$set": bson.M{"needsIndex": true},
		}); err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Failed to flag item %s for reindex: %v", item.ID.Hex(), err)
		}
	}
}

func payloadFor(item *models.MemoryItem) index.Payload {
	return index.Payload{
		Tier:        string(item.Tier),
		Status:      item.Status,
		Content:     item.Content,
		Tags:        item.Tags,
		WilsonScore: item.WilsonScore,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

// GetMemory fetches one item scoped to its owner.
func (s *MemoryStorageService) GetMemory(ctx context.Context, owner, itemID string) (*models.MemoryItem, error) {
	id, err := primitive.ObjectIDFromHex(itemID)
	if err != nil {
		return nil, fmt.Errorf("invalid memory id: %w", err)
	}

	var item models.MemoryItem
	err = s.collection.FindOne(ctx, bson.M{"_id": id, "userId": owner}).Decode(&item)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("memory not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return &item, nil
}

// ListMemories returns an owner's items, optionally filtered by tier
// and status, newest first.
func (s *MemoryStorageService) ListMemories(ctx context.Context, owner string, tier models.Tier, status string, limit, offset int) ([]models.MemoryItem, error) {
	filter := bson.M{"userId": owner}
	if tier != "" {
		filter["tier"] = tier
	}
	if status != "" {
		filter["status"] = status
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer cursor.Close(ctx)

	var items []models.MemoryItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode memories: %w", err)
	}
	return items, nil
}

// UpdateMemory replaces an item's content, recomputing the hash and
// reindexing. The outcome counters are untouched: editing a memory does
// not erase its track record.
func (s *MemoryStorageService) UpdateMemory(ctx context.Context, owner, itemID, content string, tags []string) (*models.MemoryItem, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("memory content is required")
	}
	id, err := primitive.ObjectIDFromHex(itemID)
	if err != nil {
		return nil, fmt.Errorf("invalid memory id: %w", err)
	}

	contentHash := calculateHash(normalizeContent(content))

	update := bson.M{
		"$set": bson.M{
			"content":     content,
			"contentHash": contentHash,
			"updatedAt":   time.Now(),
		},
		"$inc": bson.M{"version": 1},
	}
	if tags != nil {
		update["$set"].(bson.M)["tags"] = tags
	}

	result := s.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id, "userId": owner},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var item models.MemoryItem
	if err := result.Decode(&item); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("memory not found")
		}
		return nil, fmt.Errorf("failed to update memory: %w", err)
	}

	vector, embedErr := s.embedder.Embed(ctx, content)
	if embedErr != nil {
		log.Printf("⚠️ [MEMORY-STORAGE] Re-embedding failed for item %s: %v", itemID, embedErr)
		if _, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"needsIndex": true}}); err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Failed to flag item %s for reindex: %v", itemID, err)
		}
	}
	s.indexItem(ctx, &item, vector, embedErr == nil)

	return &item, nil
}

// Archive retires an item without deleting it: status flips to
// archived, the indexes get a payload update so search stops returning
// it, and a ghost record suppresses any stale index hits in between.
func (s *MemoryStorageService) Archive(ctx context.Context, owner, itemID, reason string) error {
	id, err := primitive.ObjectIDFromHex(itemID)
	if err != nil {
		return fmt.Errorf("invalid memory id: %w", err)
	}

	now := time.Now()
	result := s.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id, "userId": owner, "status": models.StatusActive},
		bson.M{"$set": bson.M{
			"status":     models.StatusArchived,
			"archivedAt": now,
			"updatedAt":  now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var item models.MemoryItem
	if err := result.Decode(&item); err != nil {
		if err == mongo.ErrNoDocuments {
			return fmt.Errorf("memory not found or already archived")
		}
		return fmt.Errorf("failed to archive memory: %w", err)
	}

	s.pushStatus(ctx, owner, itemID, models.StatusArchived)

	if s.ghosts != nil {
		s.ghosts.Ghost(ctx, owner, itemID, item.Tier, reason)
	}
	if s.contentKG != nil {
		if err := s.contentKG.RemoveItemRefs(ctx, owner, itemID); err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Failed to unlink item %s from entity graph: %v", itemID, err)
		}
	}

	log.Printf("📦 [MEMORY-STORAGE] Archived item %s for user %s (%s)", itemID, owner, reason)
	return nil
}

// Unarchive restores an archived item to active status and lifts its
// ghost record.
func (s *MemoryStorageService) Unarchive(ctx context.Context, owner, itemID string) error {
	id, err := primitive.ObjectIDFromHex(itemID)
	if err != nil {
		return fmt.Errorf("invalid memory id: %w", err)
	}

	result, err := s.collection.UpdateOne(
		ctx,
		bson.M{"_id": id, "userId": owner, "status": models.StatusArchived},
		bson.M{
			"$set":   bson.M{"status": models.StatusActive, "updatedAt": time.Now()},
			"$unset": bson.M{"archivedAt": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to unarchive memory: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("memory not found or not archived")
	}

	s.pushStatus(ctx, owner, itemID, models.StatusActive)

	if s.ghosts != nil {
		s.ghosts.Restore(ctx, owner, itemID)
	}
	return nil
}

// pushStatus propagates a status flip to both indexes, best-effort.
func (s *MemoryStorageService) pushStatus(ctx context.Context, owner, itemID, status string) {
	update := index.PayloadUpdate{Status: &status}
	if err := s.vector.UpdatePayload(ctx, owner, itemID, update); err != nil {
		log.Printf("⚠️ [MEMORY-STORAGE] Vector status update failed for item %s: %v", itemID, err)
	}
	if err := s.lexical.UpdatePayload(ctx, owner, itemID, update); err != nil {
		log.Printf("⚠️ [MEMORY-STORAGE] Lexical status update failed for item %s: %v", itemID, err)
	}
}

// PurgeDocumentSource hard-deletes every item ingested from a document.
// This is the only hard-delete path: document removal must not leave
// derived memories behind. Items are removed from both indexes and the
// entity graph before the documents are deleted.
func (s *MemoryStorageService) PurgeDocumentSource(ctx context.Context, owner, documentID string) (int64, error) {
	filter := bson.M{
		"userId":            owner,
		"source.kind":       models.SourceDocument,
		"source.documentId": documentID,
	}

	cursor, err := s.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("failed to list document memories: %w", err)
	}

	var refs []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &refs); err != nil {
		return 0, fmt.Errorf("failed to decode document memories: %w", err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID.Hex()
	}

	if err := s.vector.Delete(ctx, owner, ids); err != nil {
		log.Printf("⚠️ [MEMORY-STORAGE] Vector delete failed during purge: %v", err)
	}
	if err := s.lexical.Delete(ctx, owner, ids); err != nil {
		log.Printf("⚠️ [MEMORY-STORAGE] Lexical delete failed during purge: %v", err)
	}
	if s.contentKG != nil {
		for _, itemID := range ids {
			if err := s.contentKG.RemoveItemRefs(ctx, owner, itemID); err != nil {
				log.Printf("⚠️ [MEMORY-STORAGE] Entity graph unlink failed during purge: %v", err)
			}
		}
	}

	result, err := s.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to purge document memories: %w", err)
	}

	log.Printf("🗑️ [MEMORY-STORAGE] Purged %d memories from document %s for user %s", result.DeletedCount, documentID, owner)
	return result.DeletedCount, nil
}

// GetMemoryStats returns per-owner store statistics.
func (s *MemoryStorageService) GetMemoryStats(ctx context.Context, owner string) (*MemoryStats, error) {
	memStats := &MemoryStats{ByTier: make(map[string]int64)}

	pipeline := []bson.M{
		{"$match": bson.M{"userId": owner}},
		{"$group": bson.M{
			"_id":   bson.M{"tier": "$tier", "status": "$status"},
			"count": bson.M{"$sum": 1},
		}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate memory stats: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID struct {
			Tier   string `bson:"tier"`
			Status string `bson:"status"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode memory stats: %w", err)
	}

	for _, row := range rows {
		memStats.Total += row.Count
		memStats.ByTier[row.ID.Tier] += row.Count
		switch row.ID.Status {
		case models.StatusActive:
			memStats.Active += row.Count
		case models.StatusArchived:
			memStats.Archived += row.Count
		}
	}

	needsIndex, err := s.collection.CountDocuments(ctx, bson.M{"userId": owner, "needsIndex": true})
	if err != nil {
		return nil, fmt.Errorf("failed to count reindex backlog: %w", err)
	}
	memStats.NeedsReindex = needsIndex

	return memStats, nil
}

// ReindexPending re-embeds and re-indexes items flagged by failed store
// or update-time indexing. Returns how many items were repaired.
func (s *MemoryStorageService) ReindexPending(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	cursor, err := s.collection.Find(ctx,
		bson.M{"needsIndex": true, "status": models.StatusActive},
		options.Find().SetLimit(int64(batchSize)).SetSort(bson.D{{Key: "updatedAt", Value: 1}}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list reindex backlog: %w", err)
	}

	var items []models.MemoryItem
	if err := cursor.All(ctx, &items); err != nil {
		return 0, fmt.Errorf("failed to decode reindex backlog: %w", err)
	}

	repaired := 0
	for i := range items {
		item := &items[i]

		vector, err := s.embedder.Embed(ctx, item.Content)
		if err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Reindex embedding still failing for item %s: %v", item.ID.Hex(), err)
			continue
		}

		payload := payloadFor(item)
		if err := s.vector.Upsert(ctx, item.UserID, item.ID.Hex(), vector, payload); err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Reindex vector upsert failed for item %s: %v", item.ID.Hex(), err)
			continue
		}
		if err := s.lexical.Index(ctx, item.UserID, item.ID.Hex(), payload); err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Reindex lexical write failed for item %s: %v", item.ID.Hex(), err)
			continue
		}

		if _, err := s.collection.UpdateOne(ctx, bson.M{"_id": item.ID}, bson.M{
			"$unset": bson.M{"needsIndex": ""},
		}); err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Failed to clear reindex flag for item %s: %v", item.ID.Hex(), err)
			continue
		}
		repaired++
	}

	if repaired > 0 {
		log.Printf("🔧 [MEMORY-STORAGE] Reindexed %d items", repaired)
	}
	return repaired, nil
}

// RebuildIndexes rebuilds both index projections from the document
// store: every active item is flagged for reindex and the backlog is
// drained batch by batch. This is the recovery path for in-memory
// indexes, which start empty after a restart.
func (s *MemoryStorageService) RebuildIndexes(ctx context.Context) (int, error) {
	result, err := s.collection.UpdateMany(ctx,
		bson.M{"status": models.StatusActive},
		bson.M{"$set": bson.M{"needsIndex": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to flag items for rebuild: %w", err)
	}
	log.Printf("🔧 [MEMORY-STORAGE] Rebuilding index projections for %d items", result.ModifiedCount)

	rebuilt, err := drainReindexBacklog(ctx, rebuildBatchSize, s.ReindexPending)
	if err != nil {
		return rebuilt, err
	}

	log.Printf("✅ [MEMORY-STORAGE] Index rebuild complete, %d items reindexed", rebuilt)
	return rebuilt, nil
}

// drainReindexBacklog runs reindex batches until one makes no progress.
// Items whose embedding keeps failing stay flagged and stop the drain
// rather than spinning it; the periodic sweep retries them later.
func drainReindexBacklog(ctx context.Context, batchSize int, reindex func(context.Context, int) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		repaired, err := reindex(ctx, batchSize)
		if err != nil {
			return total, err
		}
		if repaired == 0 {
			return total, nil
		}
		total += repaired
	}
}

func (s *MemoryStorageService) findByHash(ctx context.Context, owner, contentHash string) (*models.MemoryItem, error) {
	var item models.MemoryItem
	err := s.collection.FindOne(ctx, bson.M{
		"userId":      owner,
		"contentHash": contentHash,
		"status":      models.StatusActive,
	}).Decode(&item)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return &item, nil
}

// normalizeContent canonicalizes content for deduplication: lowercase,
// separators to spaces, punctuation stripped, whitespace collapsed.
// Letters from any script survive so Hebrew content hashes stably.
func normalizeContent(content string) string {
	normalized := strings.ToLower(content)

	normalized = strings.ReplaceAll(normalized, "\n", " ")
	normalized = strings.ReplaceAll(normalized, "\t", " ")
	normalized = strings.ReplaceAll(normalized, "\r", " ")
	normalized = strings.ReplaceAll(normalized, "-", " ")
	normalized = strings.ReplaceAll(normalized, "_", " ")

	normalized = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			return r
		}
		return -1
	}, normalized)

	return strings.Join(strings.Fields(normalized), " ")
}

// calculateHash calculates the SHA-256 hash of content
func calculateHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
