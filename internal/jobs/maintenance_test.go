package jobs

import (
	"testing"
	"time"
)

func TestSchedulesWithDefaults(t *testing.T) {
	var nilSchedules *Schedules
	got := nilSchedules.withDefaults()

	if got.PromotionCron != DefaultPromotionCron {
		t.Errorf("expected default promotion cron, got %q", got.PromotionCron)
	}
	if got.GhostSweep != DefaultGhostSweep {
		t.Errorf("expected default ghost sweep, got %v", got.GhostSweep)
	}
	if got.OrphanCron != DefaultOrphanCron {
		t.Errorf("expected default orphan cron, got %q", got.OrphanCron)
	}
	if got.ReindexEvery != DefaultReindexEvery {
		t.Errorf("expected default reindex interval, got %v", got.ReindexEvery)
	}
}

func TestSchedulesOverrides(t *testing.T) {
	custom := &Schedules{
		PromotionCron: "*/5 * * * *",
		GhostSweep:    time.Minute,
	}
	got := custom.withDefaults()

	if got.PromotionCron != "*/5 * * * *" {
		t.Errorf("override lost: %q", got.PromotionCron)
	}
	if got.GhostSweep != time.Minute {
		t.Errorf("override lost: %v", got.GhostSweep)
	}
	// Unset fields keep defaults.
	if got.ReindexEvery != DefaultReindexEvery {
		t.Errorf("unset field should default, got %v", got.ReindexEvery)
	}
}
