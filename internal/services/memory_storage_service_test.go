package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"zikaron/internal/models"
)

func TestNormalizeContentCanonicalizes(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{"case", "Redis Cache", "redis cache"},
		{"punctuation", "redis, cache!", "redis cache"},
		{"separators", "redis-cache\nsettings", "redis cache settings"},
		{"whitespace", "  redis   cache  ", "redis cache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeContent(tt.a); got != tt.b {
				t.Errorf("normalizeContent(%q) = %q, want %q", tt.a, got, tt.b)
			}
		})
	}
}

func TestNormalizeContentKeepsHebrew(t *testing.T) {
	got := normalizeContent("המשתמש גר בחיפה!")
	want := "המשתמש גר בחיפה"
	if got != want {
		t.Errorf("normalizeContent dropped Hebrew: %q", got)
	}
}

func TestEquivalentContentHashesEqual(t *testing.T) {
	a := calculateHash(normalizeContent("The user prefers Docker-Compose."))
	b := calculateHash(normalizeContent("the user   prefers docker compose"))
	if a != b {
		t.Errorf("equivalent content produced different hashes:\n%s\n%s", a, b)
	}

	c := calculateHash(normalizeContent("the user prefers kubernetes"))
	if a == c {
		t.Error("different content produced the same hash")
	}
}

func TestDrainReindexBacklogRunsUntilEmpty(t *testing.T) {
	batches := []int{100, 100, 20, 0}
	calls := 0

	total, err := drainReindexBacklog(context.Background(), 100, func(ctx context.Context, batchSize int) (int, error) {
		n := batches[calls]
		calls++
		return n, nil
	})
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if total != 220 {
		t.Errorf("expected 220 items drained, got %d", total)
	}
	if calls != 4 {
		t.Errorf("expected 4 batches including the empty one, got %d", calls)
	}
}

func TestDrainReindexBacklogStopsOnError(t *testing.T) {
	calls := 0
	total, err := drainReindexBacklog(context.Background(), 50, func(ctx context.Context, batchSize int) (int, error) {
		calls++
		if calls == 2 {
			return 0, errors.New("embedding service down")
		}
		return 50, nil
	})
	if err == nil {
		t.Fatal("expected drain to surface the batch error")
	}
	if total != 50 || calls != 2 {
		t.Errorf("expected progress from the first batch only, got total=%d calls=%d", total, calls)
	}
}

func TestDrainReindexBacklogHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := drainReindexBacklog(ctx, 50, func(ctx context.Context, batchSize int) (int, error) {
		t.Fatal("cancelled drain must not run a batch")
		return 0, nil
	})
	if err == nil {
		t.Error("expected context error from cancelled drain")
	}
}

func TestPayloadForProjectsScoringFields(t *testing.T) {
	now := time.Now()
	item := &models.MemoryItem{
		Tier:        models.TierPatterns,
		Status:      models.StatusActive,
		Content:     "restart the daemon after config changes",
		Tags:        []string{"docker"},
		WilsonScore: 0.83,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	payload := payloadFor(item)

	if payload.Tier != "patterns" || payload.Status != models.StatusActive {
		t.Errorf("payload lost tier/status: %+v", payload)
	}
	if payload.WilsonScore != 0.83 {
		t.Errorf("payload lost wilson score: %f", payload.WilsonScore)
	}
	if payload.Content != item.Content {
		t.Error("payload lost content")
	}
}
