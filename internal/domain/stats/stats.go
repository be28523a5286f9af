// Package stats computes per-variant statistics and winner determination
// for experiments. All functions are pure and deterministic so callers can
// recompute results from any event snapshot.
package stats

import (
	"math"
	"sort"

	"github.com/splitlab/splitlab/internal/domain/types"
)

// Statistical policy constants.
const (
	// minSampleForConfidence is the floor below which confidence is 0.
	minSampleForConfidence = 30
	// minSampleForWinner is the per-variant visitor floor for declaring a winner.
	minSampleForWinner = 100
	// zScore95 is the fixed two-tailed z-score for 95% significance.
	zScore95 = 1.96
	// minRelativeLift is the minimum relative improvement of best over second.
	minRelativeLift = 0.05
	// winnerConfidenceThreshold is the confidence the best variant must reach.
	winnerConfidenceThreshold = 95
	// maxConfidence caps the reported confidence percentage.
	maxConfidence = 99
)

// Count holds raw event tallies for one variant.
type Count struct {
	VariantID   string
	Visitors    int
	Conversions int
}

// ConversionRate returns conversions/visitors, or 0 when there are no visitors.
func ConversionRate(conversions, visitors int) float64 {
	if visitors == 0 {
		return 0
	}
	return float64(conversions) / float64(visitors)
}

// Confidence returns the normal-approximation confidence proxy as a
// percentage in [0, 99]. Below minSampleForConfidence visitors the sample is
// too small and the result is 0. This is an interval-width proxy, not a
// hypothesis test; see TwoProportionZ for the latter.
func Confidence(conversions, visitors int) float64 {
	if visitors < minSampleForConfidence {
		return 0
	}
	p := ConversionRate(conversions, visitors)
	margin := zScore95 * math.Sqrt(p*(1-p)/float64(visitors))
	confidence := (1 - margin) * 100
	if confidence < 0 {
		return 0
	}
	if confidence > maxConfidence {
		return maxConfidence
	}
	return confidence
}

// TwoProportionZ computes a pooled two-proportion z statistic comparing a
// variant against a baseline. Returns ok=false when either sample is empty
// or the pooled proportion is degenerate (0 or 1), in which case the
// statistic is undefined.
func TwoProportionZ(conversions, visitors, baseConversions, baseVisitors int) (float64, bool) {
	if visitors == 0 || baseVisitors == 0 {
		return 0, false
	}
	p1 := ConversionRate(conversions, visitors)
	p2 := ConversionRate(baseConversions, baseVisitors)
	pooled := float64(conversions+baseConversions) / float64(visitors+baseVisitors)
	if pooled <= 0 || pooled >= 1 {
		return 0, false
	}
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(visitors) + 1/float64(baseVisitors)))
	return (p1 - p2) / se, true
}

// Evaluate computes the result rows for the given counts, preserving input
// order, and marks at most one row as winner.
//
// The z-test fields compare each variant against the first count in input
// order (the first declared variant acts as baseline). They are informational
// and do not participate in winner determination.
func Evaluate(counts []Count) []types.VariantResult {
	results := make([]types.VariantResult, len(counts))
	for i, c := range counts {
		r := types.VariantResult{
			VariantID:      c.VariantID,
			Visitors:       c.Visitors,
			Conversions:    c.Conversions,
			ConversionRate: ConversionRate(c.Conversions, c.Visitors),
			Confidence:     Confidence(c.Conversions, c.Visitors),
		}
		if i > 0 {
			base := counts[0]
			if z, ok := TwoProportionZ(c.Conversions, c.Visitors, base.Conversions, base.Visitors); ok {
				r.ZScore = z
				r.Significant = math.Abs(z) >= zScore95
			}
		}
		results[i] = r
	}

	if idx, ok := winnerIndex(results); ok {
		results[idx].IsWinner = true
	}
	return results
}

// Winner returns the variant id marked as winner in results, or empty.
func Winner(results []types.VariantResult) string {
	for _, r := range results {
		if r.IsWinner {
			return r.VariantID
		}
	}
	return ""
}

// winnerIndex applies the winner-determination policy:
// at least two variants, every variant at minSampleForWinner visitors, the
// top variant by conversion rate beating the runner-up by minRelativeLift
// relative lift against a nonzero baseline, and the top variant's confidence
// at winnerConfidenceThreshold. The sort is stable, so rate ties resolve to
// the earlier declared variant.
func winnerIndex(results []types.VariantResult) (int, bool) {
	if len(results) < 2 {
		return 0, false
	}
	for _, r := range results {
		if r.Visitors < minSampleForWinner {
			return 0, false
		}
	}

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return results[order[a]].ConversionRate > results[order[b]].ConversionRate
	})

	best := results[order[0]]
	second := results[order[1]]
	if second.ConversionRate == 0 {
		// Relative improvement against a zero baseline is meaningless.
		return 0, false
	}
	improvement := (best.ConversionRate - second.ConversionRate) / second.ConversionRate
	if improvement < minRelativeLift {
		return 0, false
	}
	if best.Confidence < winnerConfidenceThreshold {
		return 0, false
	}
	return order[0], true
}
