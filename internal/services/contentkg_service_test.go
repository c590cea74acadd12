package services

import (
	"math"
	"testing"
	"time"

	"zikaron/internal/models"
	"zikaron/internal/stats"
)

func TestOrderedPair(t *testing.T) {
	a, b := orderedPair("redis", "docker")
	if a != "docker" || b != "redis" {
		t.Errorf("expected (docker, redis), got (%s, %s)", a, b)
	}

	a, b = orderedPair("alpha", "beta")
	if a != "alpha" || b != "beta" {
		t.Errorf("already ordered pair changed: (%s, %s)", a, b)
	}
}

func TestBoostsFromNodes(t *testing.T) {
	nodes := []models.EntityNode{
		{Label: "docker", QualitySum: 1.8, QualityCount: 2, MemoryIDs: []string{"m1", "m2"}},
		{Label: "redis", QualitySum: 0.5, QualityCount: 1, MemoryIDs: []string{"m1"}},
	}

	boosts := boostsFromNodes(nodes)

	// m1: referenced by docker (avg 0.9) and redis (avg 0.5),
	// avg quality 0.7 across 2 nodes -> 0.2*0.7*2 = 0.28.
	if math.Abs(boosts["m1"]-0.28) > 1e-9 {
		t.Errorf("expected m1 boost 0.28, got %f", boosts["m1"])
	}
	// m2: docker only -> 0.2*0.9 = 0.18.
	if math.Abs(boosts["m2"]-0.18) > 1e-9 {
		t.Errorf("expected m2 boost 0.18, got %f", boosts["m2"])
	}
}

func TestBoostsFromNodesCapped(t *testing.T) {
	nodes := make([]models.EntityNode, 6)
	for i := range nodes {
		nodes[i] = models.EntityNode{
			QualitySum:   1.0,
			QualityCount: 1,
			MemoryIDs:    []string{"m1"},
		}
	}

	boosts := boostsFromNodes(nodes)
	if boosts["m1"] != maxEntityBoost {
		t.Errorf("expected boost capped at %f, got %f", maxEntityBoost, boosts["m1"])
	}
}

func TestBoostsFromNodesEmpty(t *testing.T) {
	if got := boostsFromNodes(nil); len(got) != 0 {
		t.Errorf("expected no boosts, got %v", got)
	}
}

func TestActionTrackerBuffersUntilOutcome(t *testing.T) {
	tracker := &ActionTracker{pending: make(map[string][]models.ActionRecord)}

	tracker.StartTurn("conv-1", 3)
	tracker.RecordAction("conv-1", 3, models.ActionRecord{
		ActionType:  "memory_search",
		ContextType: models.ContextDebugging,
	})
	tracker.RecordAction("conv-1", 3, models.ActionRecord{
		ActionType:  "web_search",
		ContextType: models.ContextDebugging,
	})

	if n := tracker.PendingActions("conv-1", 3); n != 2 {
		t.Errorf("expected 2 buffered actions, got %d", n)
	}
	if n := tracker.PendingActions("conv-1", 4); n != 0 {
		t.Errorf("other turns must stay empty, got %d", n)
	}
}

func TestActionTrackerStartTurnResetsBuffer(t *testing.T) {
	tracker := &ActionTracker{pending: make(map[string][]models.ActionRecord)}

	tracker.RecordAction("conv-1", 1, models.ActionRecord{ActionType: "memory_search"})
	tracker.StartTurn("conv-1", 1)

	if n := tracker.PendingActions("conv-1", 1); n != 0 {
		t.Errorf("StartTurn should clear the buffer, got %d actions", n)
	}
}

func TestActionRecordDefaultsTimestamp(t *testing.T) {
	tracker := &ActionTracker{pending: make(map[string][]models.ActionRecord)}

	before := time.Now()
	tracker.RecordAction("conv-1", 1, models.ActionRecord{ActionType: "memory_search"})

	rec := tracker.pending[turnKey("conv-1", 1)][0]
	if rec.RecordedAt.Before(before) {
		t.Errorf("expected RecordedAt to default to now, got %v", rec.RecordedAt)
	}
}

func TestCounterFieldCoversClosedSet(t *testing.T) {
	tests := []struct {
		outcome stats.Outcome
		field   string
	}{
		{stats.OutcomeWorked, "worked"},
		{stats.OutcomePartial, "partial"},
		{stats.OutcomeUnknown, "unknown"},
		{stats.OutcomeFailed, "failed"},
	}
	for _, tt := range tests {
		if got := counterField(tt.outcome); got != tt.field {
			t.Errorf("counterField(%s) = %q, want %q", tt.outcome, got, tt.field)
		}
	}
}

func TestCounterFieldPanicsOutsideClosedSet(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unrecognized outcome")
		}
	}()
	counterField(stats.Outcome("maybe"))
}
