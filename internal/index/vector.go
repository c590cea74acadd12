package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"zikaron/internal/models"
)

// ChromemIndex wraps chromem-go, a pure Go embedded vector database.
// Each owner gets their own collection for namespace isolation. The
// index keeps its own payload map: chromem answers "which ids are
// similar", the payload map answers "what do we know about that id"
// and is refreshed out-of-band by outcome and lifecycle updates.
type ChromemIndex struct {
	db      *chromem.DB
	breaker *Breaker

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	payloads    map[string]Payload // id -> cached payload
}

// NewChromemIndex creates a persistent chromem-backed vector index at
// the given path. An empty path keeps the index in memory.
func NewChromemIndex(path string, breaker *Breaker) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index at %s: %w", path, err)
		}
	}
	if breaker == nil {
		breaker = NewBreaker("vector", 3, 30*time.Second)
	}
	return &ChromemIndex{
		db:          db,
		breaker:     breaker,
		collections: make(map[string]*chromem.Collection),
		payloads:    make(map[string]Payload),
	}, nil
}

// collection returns the per-owner collection, creating it on first use.
func (c *ChromemIndex) collection(owner string) (*chromem.Collection, error) {
	c.mu.RLock()
	col, ok := c.collections[owner]
	c.mu.RUnlock()
	if ok {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[owner]; ok {
		return col, nil
	}

	name := fmt.Sprintf("owner_%s", owner)
	col, err := c.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector collection for %s: %w", owner, err)
	}
	c.collections[owner] = col
	return col, nil
}

// Upsert stores or replaces one item's vector and payload.
func (c *ChromemIndex) Upsert(ctx context.Context, owner, id string, vector []float32, payload Payload) error {
	col, err := c.collection(owner)
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   payload.Content,
		Embedding: vector,
		Metadata: map[string]string{
			"tier":   payload.Tier,
			"status": payload.Status,
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("failed to upsert vector document %s: %w", id, err)
	}

	c.mu.Lock()
	c.payloads[id] = payload
	c.mu.Unlock()

	c.breaker.RecordSuccess()
	return nil
}

// Search runs vector similarity search for one owner, filtered to the
// given tiers and to active items.
func (c *ChromemIndex) Search(ctx context.Context, owner string, vector []float32, tiers []models.Tier, limit int) ([]Hit, error) {
	col, err := c.collection(owner)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	// Over-fetch so post-filtering by tier/status still fills the limit.
	n := limit * 3
	if n > count {
		n = count
	}
	if n <= 0 {
		n = 1
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	c.breaker.RecordSuccess()

	wanted := tierSet(tiers)
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		payload := c.payloadFor(r.ID, r.Metadata, r.Content)
		if payload.Status != models.StatusActive {
			continue
		}
		if len(wanted) > 0 && !wanted[payload.Tier] {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Score: float64(r.Similarity), Payload: payload})
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// payloadFor prefers the cached payload and falls back to what chromem
// stored alongside the document.
func (c *ChromemIndex) payloadFor(id string, metadata map[string]string, content string) Payload {
	c.mu.RLock()
	payload, ok := c.payloads[id]
	c.mu.RUnlock()
	if ok {
		return payload
	}
	return Payload{
		Tier:    metadata["tier"],
		Status:  metadata["status"],
		Content: content,
	}
}

// UpdatePayload refreshes the cached payload for an item. This is the
// out-of-band path used after outcome recording and tier promotion; it
// must never fail a document-store update.
func (c *ChromemIndex) UpdatePayload(ctx context.Context, owner, id string, update PayloadUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.payloads[id]
	if !ok {
		return fmt.Errorf("vector payload for %s not found", id)
	}
	update.ApplyTo(&payload)
	c.payloads[id] = payload
	return nil
}

// Delete removes items from the owner's collection.
func (c *ChromemIndex) Delete(ctx context.Context, owner string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := c.collection(owner)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete vector documents: %w", err)
	}
	c.mu.Lock()
	for _, id := range ids {
		delete(c.payloads, id)
	}
	c.mu.Unlock()
	return nil
}

// IsCircuitOpen reports whether callers should skip this backend.
func (c *ChromemIndex) IsCircuitOpen() bool {
	return c.breaker.IsOpen()
}

func tierSet(tiers []models.Tier) map[string]bool {
	if len(tiers) == 0 {
		return nil
	}
	set := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		set[string(t)] = true
	}
	return set
}
