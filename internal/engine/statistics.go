// File: internal/engine/statistics.go
package engine

import (
	"sort"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// buildStatistics summarizes a completed run: per-phase task counts plus
// quality and rating distributions over the surviving population.
func (m *Machine) buildStatistics(r *run) schemas.RunStatistics {
	s := r.state

	stats := schemas.RunStatistics{
		Phases:              r.phaseStats,
		ScenarioCount:       len(s.Scenarios),
		CritiqueCount:       len(s.Critiques),
		ComparisonCount:     len(s.Comparisons),
		EvolutionCount:      len(s.Evolutions),
		Warnings:            s.Warnings,
		TotalProviderCalls:  r.totalCalls,
		FailedProviderCalls: r.failedCalls,
	}

	if len(r.directionFailures) > 0 {
		stats.DirectionFailures = r.directionFailures
	}

	excluded := make([]int, 0, len(s.Excluded))
	for idx := range s.Excluded {
		excluded = append(excluded, idx)
	}
	sort.Ints(excluded)
	if len(excluded) > 0 {
		stats.ExcludedDirections = excluded
	}

	var qualitySum float64
	var scored int
	for _, sc := range s.Scenarios {
		if sc.QualityScore > 0 {
			qualitySum += sc.QualityScore
			scored++
		}
	}
	if scored > 0 {
		stats.MeanQualityScore = qualitySum / float64(scored)
	}

	if len(s.Ratings) > 0 {
		var lo, hi float64
		first := true
		for _, v := range s.Ratings {
			if first {
				lo, hi = v, v
				first = false
				continue
			}
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		stats.RatingSpread = hi - lo
	}

	return stats
}
