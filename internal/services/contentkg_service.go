package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"zikaron/internal/database"
	"zikaron/internal/extraction"
	"zikaron/internal/models"
)

// maxEntityBoost caps how much entity-graph quality can lift a search
// result's score.
const maxEntityBoost = 0.5

// entityBoostScale converts average node quality into a score boost.
const entityBoostScale = 0.2

// ContentKGService maintains the content knowledge graph: entity nodes
// with running quality averages, co-occurrence edges, and the memory
// items each entity appears in. All graph mutations are pure $inc /
// $addToSet upserts batched through the write serializer.
type ContentKGService struct {
	mongodb *database.MongoDB
	writer  *database.WriteSerializer
	nodes   *mongo.Collection
	edges   *mongo.Collection
}

// NewContentKGService creates a new content knowledge-graph service
func NewContentKGService(mongodb *database.MongoDB, writer *database.WriteSerializer) *ContentKGService {
	return &ContentKGService{
		mongodb: mongodb,
		writer:  writer,
		nodes:   mongodb.Collection(database.CollectionEntityNodes),
		edges:   mongodb.Collection(database.CollectionEntityEdges),
	}
}

// RecordEntities links the extracted entities of one memory item into
// the graph: each entity gets a node upsert carrying the item's quality
// contribution, and every unordered entity pair gets an edge weight
// increment. Batches go through the write serializer so concurrent
// stores for the same owner never interleave partial graphs.
func (s *ContentKGService) RecordEntities(ctx context.Context, owner, itemID string, entities []extraction.Entity, quality float64) error {
	if len(entities) == 0 {
		return nil
	}
	now := time.Now()

	nodeBatch := make([]mongo.WriteModel, 0, len(entities))
	for _, ent := range entities {
		update := bson.M{
			"$inc": bson.M{
				"qualitySum":   quality,
				"qualityCount": 1,
			},
			"$addToSet":    bson.M{"memoryIds": itemID},
			"$set":         bson.M{"updatedAt": now, "type": ent.Type},
			"$setOnInsert": bson.M{"createdAt": now},
		}
		nodeBatch = append(nodeBatch, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"userId": owner, "label": ent.Label}).
			SetUpdate(update).
			SetUpsert(true))
	}
	s.writer.Enqueue(database.CollectionEntityNodes, nodeBatch...)

	edgeBatch := make([]mongo.WriteModel, 0)
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := orderedPair(entities[i].Label, entities[j].Label)
			if a == b {
				continue
			}
			edgeBatch = append(edgeBatch, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"userId": owner, "labelA": a, "labelB": b}).
				SetUpdate(bson.M{
					"$inc":         bson.M{"weight": 1},
					"$set":         bson.M{"updatedAt": now},
					"$setOnInsert": bson.M{"createdAt": now},
				}).
				SetUpsert(true))
		}
	}
	if len(edgeBatch) > 0 {
		s.writer.Enqueue(database.CollectionEntityEdges, edgeBatch...)
	}

	if _, err := s.writer.FlushAll(ctx, database.CollectionEntityNodes); err != nil {
		return fmt.Errorf("failed to flush entity nodes: %w", err)
	}
	if len(edgeBatch) > 0 {
		if _, err := s.writer.FlushAll(ctx, database.CollectionEntityEdges); err != nil {
			return fmt.Errorf("failed to flush entity edges: %w", err)
		}
	}
	return nil
}

// orderedPair returns the two labels in lexicographic order so each
// unordered pair maps to one edge document.
func orderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// RecordItemQuality folds an outcome-driven quality value back into
// every node that references the item. The running average shifts
// without rewriting node documents.
func (s *ContentKGService) RecordItemQuality(ctx context.Context, owner, itemID string, quality float64) error {
	_, err := s.nodes.UpdateMany(ctx,
		bson.M{"userId": owner, "memoryIds": itemID},
		bson.M{
			"$inc": bson.M{"qualitySum": quality, "qualityCount": 1},
			"$set": bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to record item quality: %w", err)
	}
	return nil
}

// EntityBoosts returns a per-item score boost derived from the average
// quality of the graph nodes matching the given entity labels. An item
// referenced by several high-quality entities gets a larger boost,
// capped at maxEntityBoost.
func (s *ContentKGService) EntityBoosts(ctx context.Context, owner string, labels []string) (map[string]float64, error) {
	if len(labels) == 0 {
		return map[string]float64{}, nil
	}

	cursor, err := s.nodes.Find(ctx, bson.M{
		"userId": owner,
		"label":  bson.M{"$in": labels},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load entity nodes: %w", err)
	}
	defer cursor.Close(ctx)

	var nodes []models.EntityNode
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode entity nodes: %w", err)
	}

	return boostsFromNodes(nodes), nil
}

// boostsFromNodes averages node quality per referenced item and scales
// it into a bounded boost.
func boostsFromNodes(nodes []models.EntityNode) map[string]float64 {
	qualitySum := make(map[string]float64)
	qualityCnt := make(map[string]int)
	for i := range nodes {
		avg := nodes[i].AvgQuality()
		for _, itemID := range nodes[i].MemoryIDs {
			qualitySum[itemID] += avg
			qualityCnt[itemID]++
		}
	}

	boosts := make(map[string]float64, len(qualitySum))
	for itemID, sum := range qualitySum {
		avg := sum / float64(qualityCnt[itemID])
		boosts[itemID] = math.Min(maxEntityBoost, entityBoostScale*avg*float64(qualityCnt[itemID]))
	}
	return boosts
}

// RemoveItemRefs pulls a purged or archived item out of every node that
// references it. Nodes left with no references become orphans and are
// reclaimed by CleanupOrphans.
func (s *ContentKGService) RemoveItemRefs(ctx context.Context, owner, itemID string) error {
	_, err := s.nodes.UpdateMany(ctx,
		bson.M{"userId": owner, "memoryIds": itemID},
		bson.M{
			"$pull": bson.M{"memoryIds": itemID},
			"$set":  bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove item refs: %w", err)
	}
	return nil
}

// CleanupOrphans deletes nodes that no longer reference any memory item
// and edges whose endpoints no longer exist. Returns counts of removed
// nodes and edges.
func (s *ContentKGService) CleanupOrphans(ctx context.Context, owner string) (int64, int64, error) {
	nodeResult, err := s.nodes.DeleteMany(ctx, bson.M{
		"userId": owner,
		"$or": []bson.M{
			{"memoryIds": bson.M{"$exists": false}},
			{"memoryIds": bson.M{"$size": 0}},
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete orphan nodes: %w", err)
	}

	labels, err := s.nodes.Distinct(ctx, "label", bson.M{"userId": owner})
	if err != nil {
		return nodeResult.DeletedCount, 0, fmt.Errorf("failed to list node labels: %w", err)
	}

	edgeResult, err := s.edges.DeleteMany(ctx, bson.M{
		"userId": owner,
		"$or": []bson.M{
			{"labelA": bson.M{"$nin": labels}},
			{"labelB": bson.M{"$nin": labels}},
		},
	})
	if err != nil {
		return nodeResult.DeletedCount, 0, fmt.Errorf("failed to delete orphan edges: %w", err)
	}

	if nodeResult.DeletedCount > 0 || edgeResult.DeletedCount > 0 {
		log.Printf("🧹 [CONTENT-KG] Cleaned %d orphan nodes, %d orphan edges for user %s",
			nodeResult.DeletedCount, edgeResult.DeletedCount, owner)
	}
	return nodeResult.DeletedCount, edgeResult.DeletedCount, nil
}
