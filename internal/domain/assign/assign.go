// Package assign implements weighted variant selection and generates the
// client-side tracking snippet that applies the same policy in the browser.
package assign

import (
	"github.com/splitlab/splitlab/internal/domain/model"
)

// Pick selects a variant id for a uniform draw in [0, 1) by walking the
// variants in declared order and accumulating weights. The draw is an
// explicit parameter so callers and tests control the randomness.
//
// If the weights sum to less than 1 and no bucket captures the draw, the
// first variant is returned. This fallback is deliberate graceful
// degradation for misconfigured weights; re-normalizing would shift the
// assignment distribution of already-running experiments.
func Pick(variants []model.Variant, draw float64) string {
	if len(variants) == 0 {
		return ""
	}
	cumulative := 0.0
	for _, v := range variants {
		cumulative += v.Weight
		if draw < cumulative {
			return v.ID
		}
	}
	return variants[0].ID
}
