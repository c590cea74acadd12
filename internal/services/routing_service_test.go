package services

import (
	"math"
	"testing"

	"zikaron/internal/models"
)

func TestDefaultTierPlanSearchesEverything(t *testing.T) {
	plan := defaultTierPlan()

	if plan.Source != models.TierPlanSourceDefault {
		t.Errorf("expected source %q, got %q", models.TierPlanSourceDefault, plan.Source)
	}
	if plan.Confidence > 0.5 {
		t.Errorf("cold-start confidence should be low, got %f", plan.Confidence)
	}
	if len(plan.Tiers) != len(models.AllTiers()) {
		t.Errorf("expected all %d tiers, got %d", len(models.AllTiers()), len(plan.Tiers))
	}
}

func TestAggregateTierScores(t *testing.T) {
	records := []models.RoutingConcept{
		{Tiers: map[string]*models.TierStats{
			"patterns": {Uses: 10, WilsonScore: 0.9},
			"history":  {Uses: 2, WilsonScore: 0.3},
		}},
		{Tiers: map[string]*models.TierStats{
			"patterns": {Uses: 10, WilsonScore: 0.7},
		}},
	}

	scores, total := aggregateTierScores(records)

	if total != 22 {
		t.Errorf("expected 22 total uses, got %d", total)
	}
	// (0.9*10 + 0.7*10) / 20 = 0.8
	if math.Abs(scores["patterns"]-0.8) > 1e-9 {
		t.Errorf("expected weighted patterns score 0.8, got %f", scores["patterns"])
	}
	if math.Abs(scores["history"]-0.3) > 1e-9 {
		t.Errorf("expected history score 0.3, got %f", scores["history"])
	}
}

func TestAggregateTierScoresSkipsEmpty(t *testing.T) {
	records := []models.RoutingConcept{
		{Tiers: map[string]*models.TierStats{
			"patterns": {Uses: 0, WilsonScore: 0.9},
			"history":  nil,
		}},
	}

	scores, total := aggregateTierScores(records)
	if total != 0 || len(scores) != 0 {
		t.Errorf("expected no evidence, got scores=%v total=%d", scores, total)
	}
}

func TestPlanTiersAlwaysIncludesWorking(t *testing.T) {
	tiers := planTiers(map[string]float64{
		"patterns": 0.9,
		"history":  0.1,
	})

	if tiers[0] != models.TierWorking {
		t.Fatalf("working tier must come first, got %v", tiers)
	}
	if tiers[1] != models.TierPatterns {
		t.Errorf("expected patterns ranked first after working, got %v", tiers)
	}
}

func TestPlanTiersCapsSelection(t *testing.T) {
	tiers := planTiers(map[string]float64{
		"patterns":    0.9,
		"history":     0.8,
		"documents":   0.7,
		"memory_bank": 0.6,
	})

	if len(tiers) != 1+maxRoutedTiers {
		t.Errorf("expected working + %d routed tiers, got %v", maxRoutedTiers, tiers)
	}
}

func TestPlanTiersIgnoresUnknownNames(t *testing.T) {
	tiers := planTiers(map[string]float64{
		"working":  0.9, // already implicit
		"nonsense": 1.0,
	})
	if len(tiers) != 1 || tiers[0] != models.TierWorking {
		t.Errorf("expected only the working tier, got %v", tiers)
	}
}

func TestPlanConfidenceGrowsWithEvidence(t *testing.T) {
	low := planConfidence(1)
	mid := planConfidence(10)
	high := planConfidence(100)

	if low <= defaultPlanConfidence {
		t.Errorf("learned confidence %f should exceed cold-start %f", low, defaultPlanConfidence)
	}
	if !(low < mid && mid < high) {
		t.Errorf("confidence should grow with uses: %f, %f, %f", low, mid, high)
	}
	if high > 0.9 {
		t.Errorf("confidence should cap at 0.9, got %f", high)
	}
}

func TestBestTiersForUsesUpdatedScore(t *testing.T) {
	tiers := map[string]*models.TierStats{
		"working":  {WilsonScore: 0.2},
		"history":  {WilsonScore: 0.5},
		"patterns": {WilsonScore: 0.1},
	}

	best := bestTiersFor(tiers, "patterns", 0.95)

	if len(best) != 3 {
		t.Fatalf("expected 3 best tiers, got %v", best)
	}
	if best[0] != "patterns" {
		t.Errorf("updated score should rank patterns first, got %v", best)
	}
}

func TestDetectContextType(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.ContextType
	}{
		{"docker english", "my docker container keeps restarting", models.ContextDocker},
		{"debugging english", "I get an error when running the script", models.ContextDebugging},
		{"coding english", "how do I implement this function", models.ContextCodingHelp},
		{"web search english", "search for the latest release notes", models.ContextWebSearch},
		{"memory english", "remember that I prefer tabs", models.ContextMemoryManagement},
		{"documents english", "summarize the attached PDF", models.ContextDocuments},
		{"debugging hebrew", "יש לי שגיאה בהרצה", models.ContextDebugging},
		{"memory hebrew", "תזכור שאני גר בחיפה", models.ContextMemoryManagement},
		{"fallback", "nice weather today", models.ContextGeneral},
		{"empty", "", models.ContextGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectContextType(tt.text, nil); got != tt.want {
				t.Errorf("DetectContextType(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectContextTypeFallsBackToRecentMessages(t *testing.T) {
	recent := []string{
		"let's talk about containers in docker",
		"ok, what next?",
	}

	got := DetectContextType("and then?", recent)
	if got != models.ContextDocker {
		t.Errorf("expected docker context from recent messages, got %q", got)
	}
}

func TestDetectContextTypePrefersCurrentText(t *testing.T) {
	recent := []string{"my docker container crashed"}

	got := DetectContextType("remember my name is Dana", recent)
	if got != models.ContextMemoryManagement {
		t.Errorf("current text should win over history, got %q", got)
	}
}
