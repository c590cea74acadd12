package services

import (
	"context"
	"testing"
	"time"

	"zikaron/internal/models"
)

// TestGhostAndIsGhosted tests the soft-delete round trip
func TestGhostAndIsGhosted(t *testing.T) {
	g := NewGhostRegistry(nil)
	ctx := context.Background()

	g.Ghost(ctx, "user-1", "item-1", models.TierWorking, "user delete")

	if !g.IsGhosted("user-1", "item-1") {
		t.Error("Expected item-1 to be ghosted")
	}
	if g.IsGhosted("user-1", "item-2") {
		t.Error("item-2 was never ghosted")
	}
	if g.IsGhosted("user-2", "item-1") {
		t.Error("Ghosts must not leak across owners")
	}
}

// TestGhostRestore tests restoring a soft-deleted item
func TestGhostRestore(t *testing.T) {
	g := NewGhostRegistry(nil)
	ctx := context.Background()

	g.Ghost(ctx, "user-1", "item-1", models.TierHistory, "")

	if !g.Restore(ctx, "user-1", "item-1") {
		t.Error("Expected restore to succeed")
	}
	if g.IsGhosted("user-1", "item-1") {
		t.Error("Restored item should not be ghosted")
	}
	if g.Restore(ctx, "user-1", "item-1") {
		t.Error("Second restore should report nothing to restore")
	}
}

// TestClearByTierScopedToOwnerAndTier verifies tier-scoped clearing
// leaves other tiers and owners untouched.
func TestClearByTierScopedToOwnerAndTier(t *testing.T) {
	g := NewGhostRegistry(nil)
	ctx := context.Background()

	g.Ghost(ctx, "user-1", "doc-1", models.TierDocuments, "purge")
	g.Ghost(ctx, "user-1", "doc-2", models.TierDocuments, "purge")
	g.Ghost(ctx, "user-1", "work-1", models.TierWorking, "")
	g.Ghost(ctx, "user-2", "doc-9", models.TierDocuments, "")

	cleared := g.ClearByTier(ctx, "user-1", models.TierDocuments)
	if cleared != 2 {
		t.Errorf("Expected 2 cleared, got %d", cleared)
	}

	if g.IsGhosted("user-1", "doc-1") || g.IsGhosted("user-1", "doc-2") {
		t.Error("Documents-tier ghosts should be cleared")
	}
	if !g.IsGhosted("user-1", "work-1") {
		t.Error("Other tiers of the same owner must be untouched")
	}
	if !g.IsGhosted("user-2", "doc-9") {
		t.Error("Other owners must be untouched")
	}
}

// TestClearAll tests owner-wide clearing
func TestClearAll(t *testing.T) {
	g := NewGhostRegistry(nil)
	ctx := context.Background()

	g.Ghost(ctx, "user-1", "a", models.TierWorking, "")
	g.Ghost(ctx, "user-1", "b", models.TierPatterns, "")
	g.Ghost(ctx, "user-2", "c", models.TierWorking, "")

	if cleared := g.ClearAll(ctx, "user-1"); cleared != 2 {
		t.Errorf("Expected 2 cleared, got %d", cleared)
	}
	if !g.IsGhosted("user-2", "c") {
		t.Error("Other owners must be untouched")
	}
}

// TestSweepExpired tests the expiry sweep
func TestSweepExpired(t *testing.T) {
	g := NewGhostRegistry(nil)
	ctx := context.Background()

	rec := g.Ghost(ctx, "user-1", "old", models.TierWorking, "")
	rec.ExpiresAt = rec.GhostedAt.Add(-time.Hour) // force expiry
	g.Ghost(ctx, "user-1", "fresh", models.TierWorking, "")

	if swept := g.SweepExpired(ctx); swept != 1 {
		t.Errorf("Expected 1 swept, got %d", swept)
	}
	if g.IsGhosted("user-1", "old") {
		t.Error("Expired ghost should be gone")
	}
	if !g.IsGhosted("user-1", "fresh") {
		t.Error("Fresh ghost should remain")
	}
}
