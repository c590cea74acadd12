package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"zikaron/internal/database"
	"zikaron/internal/models"
)

// GhostRegistry tracks soft-deleted memory items. Search consults it on
// every call, so the registry keeps an in-memory mirror guarded by a
// RWMutex; records are also persisted so a restart does not resurrect
// recently deleted items inside their TTL window.
type GhostRegistry struct {
	mu     sync.RWMutex
	ghosts map[string]map[string]*models.GhostRecord // owner -> itemID -> record

	mongodb *database.MongoDB // nil in tests: in-memory only
	ttl     time.Duration
}

// NewGhostRegistry creates a ghost registry. mongodb may be nil, in
// which case records live only in memory.
func NewGhostRegistry(mongodb *database.MongoDB) *GhostRegistry {
	return &GhostRegistry{
		ghosts:  make(map[string]map[string]*models.GhostRecord),
		mongodb: mongodb,
		ttl:     models.DefaultGhostTTL,
	}
}

// Load restores persisted ghost records into the in-memory mirror.
// Expired records are skipped; the sweep removes them later.
func (g *GhostRegistry) Load(ctx context.Context) error {
	if g.mongodb == nil {
		return nil
	}

	cursor, err := g.mongodb.Collection(database.CollectionGhosts).Find(ctx, bson.M{})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var records []models.GhostRecord
	if err := cursor.All(ctx, &records); err != nil {
		return err
	}

	now := time.Now()
	loaded := 0
	g.mu.Lock()
	for i := range records {
		rec := &records[i]
		if rec.ExpiresAt.Before(now) {
			continue
		}
		if g.ghosts[rec.UserID] == nil {
			g.ghosts[rec.UserID] = make(map[string]*models.GhostRecord)
		}
		g.ghosts[rec.UserID][rec.ItemID] = rec
		loaded++
	}
	g.mu.Unlock()

	log.Printf("👻 [GHOST] Loaded %d ghost records", loaded)
	return nil
}

// Ghost soft-deletes an item for the default TTL window.
func (g *GhostRegistry) Ghost(ctx context.Context, owner, itemID string, tier models.Tier, reason string) *models.GhostRecord {
	now := time.Now()
	rec := &models.GhostRecord{
		ID:        uuid.New().String(),
		UserID:    owner,
		ItemID:    itemID,
		Tier:      tier,
		Reason:    reason,
		GhostedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}

	g.mu.Lock()
	if g.ghosts[owner] == nil {
		g.ghosts[owner] = make(map[string]*models.GhostRecord)
	}
	g.ghosts[owner][itemID] = rec
	g.mu.Unlock()

	if g.mongodb != nil {
		if _, err := g.mongodb.Collection(database.CollectionGhosts).InsertOne(ctx, rec); err != nil {
			log.Printf("⚠️ [GHOST] Failed to persist ghost record %s: %v", rec.ID, err)
		}
	}

	return rec
}

// Restore removes the ghost mark from an item. Returns false if the
// item was not ghosted.
func (g *GhostRegistry) Restore(ctx context.Context, owner, itemID string) bool {
	g.mu.Lock()
	rec, ok := g.ghosts[owner][itemID]
	if ok {
		delete(g.ghosts[owner], itemID)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}

	g.deletePersisted(ctx, bson.M{"_id": rec.ID})
	return true
}

// IsGhosted reports whether an item is currently soft-deleted. Expired
// records are treated as gone even before the sweep removes them.
func (g *GhostRegistry) IsGhosted(owner, itemID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.ghosts[owner][itemID]
	return ok && rec.ExpiresAt.After(time.Now())
}

// ClearByTier removes every ghost record for one owner's tier, leaving
// other tiers and owners untouched. Returns the number cleared.
func (g *GhostRegistry) ClearByTier(ctx context.Context, owner string, tier models.Tier) int {
	g.mu.Lock()
	cleared := 0
	for itemID, rec := range g.ghosts[owner] {
		if rec.Tier == tier {
			delete(g.ghosts[owner], itemID)
			cleared++
		}
	}
	g.mu.Unlock()

	if cleared > 0 {
		g.deletePersisted(ctx, bson.M{"userId": owner, "tier": string(tier)})
		log.Printf("👻 [GHOST] Cleared %d ghost records for %s/%s", cleared, owner, tier)
	}
	return cleared
}

// ClearAll removes every ghost record for one owner.
func (g *GhostRegistry) ClearAll(ctx context.Context, owner string) int {
	g.mu.Lock()
	cleared := len(g.ghosts[owner])
	delete(g.ghosts, owner)
	g.mu.Unlock()

	if cleared > 0 {
		g.deletePersisted(ctx, bson.M{"userId": owner})
	}
	return cleared
}

// SweepExpired drops records past their expiry. Run as a scheduled job.
func (g *GhostRegistry) SweepExpired(ctx context.Context) int {
	now := time.Now()

	g.mu.Lock()
	swept := 0
	for owner, items := range g.ghosts {
		for itemID, rec := range items {
			if rec.ExpiresAt.Before(now) {
				delete(items, itemID)
				swept++
			}
		}
		if len(items) == 0 {
			delete(g.ghosts, owner)
		}
	}
	g.mu.Unlock()

	if g.mongodb != nil {
		g.deletePersisted(ctx, bson.M{"expiresAt": bson.M{"$lt": now}})
	}

	if swept > 0 {
		log.Printf("👻 [GHOST] Swept %d expired ghost records", swept)
	}
	return swept
}

func (g *GhostRegistry) deletePersisted(ctx context.Context, filter bson.M) {
	if g.mongodb == nil {
		return
	}
	if _, err := g.mongodb.Collection(database.CollectionGhosts).DeleteMany(ctx, filter); err != nil {
		log.Printf("⚠️ [GHOST] Failed to delete persisted ghost records: %v", err)
	}
}
