package stats

import (
	"fmt"
	"math"
	"time"
)

// DefaultZ is the z-score for a 95% confidence interval.
const DefaultZ = 1.96

// NeutralScore is the prior returned for items with no recorded uses.
const NeutralScore = 0.5

// Outcome is the closed set of feedback values an item can receive.
// Any value outside this set is a programming error, not user input:
// callers must validate free-form strings through ParseOutcome before
// handing an Outcome to the engine.
type Outcome string

const (
	OutcomeWorked  Outcome = "worked"
	OutcomePartial Outcome = "partial"
	OutcomeUnknown Outcome = "unknown"
	OutcomeFailed  Outcome = "failed"
)

// ParseOutcome validates a free-form string at the input boundary.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeWorked, OutcomePartial, OutcomeUnknown, OutcomeFailed:
		return Outcome(s), nil
	}
	return "", fmt.Errorf("invalid outcome %q (expected worked|partial|unknown|failed)", s)
}

// SuccessValue maps an outcome to its fractional success contribution.
// The mapping is total over the closed set: there is deliberately no
// default value, so an unhandled variant fails loudly instead of being
// silently scored as neutral.
func (o Outcome) SuccessValue() float64 {
	switch o {
	case OutcomeWorked:
		return 1.0
	case OutcomePartial:
		return 0.5
	case OutcomeUnknown:
		return 0.25
	case OutcomeFailed:
		return 0.0
	}
	panic(fmt.Sprintf("stats: outcome %q outside closed set", string(o)))
}

// WilsonLowerBound returns the lower bound of the Wilson score interval
// for a binomial proportion, clamped to [0,1].
//
// successes may be fractional (partial outcomes contribute 0.5) and must
// be the cumulative count over the item's whole history; computing it
// from a truncated recent window systematically underestimates
// frequently-used items.
//
// With total == 0 it returns the neutral prior 0.5.
func WilsonLowerBound(successes float64, total int64, z float64) float64 {
	if total <= 0 {
		return NeutralScore
	}
	if z <= 0 {
		z = DefaultZ
	}

	n := float64(total)
	p := successes / n
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}

	z2 := z * z
	denom := 1 + z2/n
	center := p + z2/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	lower := (center - margin) / denom
	if lower < 0 {
		return 0
	}
	if lower > 1 {
		return 1
	}
	return lower
}

// TimeWeight returns a recency weight in (0,1]: 1/(1 + ageDays/30).
// Items that were never used get full weight.
func TimeWeight(lastUsedAt *time.Time, now time.Time) float64 {
	if lastUsedAt == nil {
		return 1.0
	}
	ageDays := now.Sub(*lastUsedAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return 1.0 / (1.0 + ageDays/30.0)
}
