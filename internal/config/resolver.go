// File: internal/config/resolver.go
// Description: Turns the coarse configuration enums (process depth, population
// scale, use case) into concrete phase lists, population sizes, reflection
// domains and evolution strategies. Every function here is a pure table
// lookup: identical inputs always produce identical outputs.
package config

import "github.com/xkilldash9x/crucible/api/schemas"

var depthPhaseSets = map[schemas.ProcessDepth][]schemas.Phase{
	schemas.DepthQuick: {
		schemas.PhaseMetaAnalysis,
		schemas.PhaseGeneration,
		schemas.PhaseTournament,
		schemas.PhaseMetaReview,
	},
	schemas.DepthStandard: {
		schemas.PhaseMetaAnalysis,
		schemas.PhaseGeneration,
		schemas.PhaseReflection,
		schemas.PhaseTournament,
		schemas.PhaseEvolution,
		schemas.PhaseMetaReview,
	},
	schemas.DepthComprehensive: {
		schemas.PhaseMetaAnalysis,
		schemas.PhaseGeneration,
		schemas.PhaseReflection,
		schemas.PhaseTournament,
		schemas.PhaseEvolution,
		schemas.PhaseEvolutionTournament,
		schemas.PhaseMetaReview,
	},
}

type populationSize struct {
	Directions            int
	ScenariosPerDirection int
}

var scalePopulations = map[schemas.PopulationScale]populationSize{
	schemas.ScaleLight:  {Directions: 2, ScenariosPerDirection: 3},
	schemas.ScaleMedium: {Directions: 3, ScenariosPerDirection: 6},
	schemas.ScaleHeavy:  {Directions: 3, ScenariosPerDirection: 12},
}

var useCaseDomains = map[string][]string{
	"general":    {"plausibility", "internal_consistency", "novelty"},
	"worldbuild": {"plausibility", "internal_consistency", "novelty", "narrative_potential"},
	"foresight":  {"plausibility", "evidence_grounding", "second_order_effects"},
	"product":    {"feasibility", "user_value", "differentiation"},
}

var useCaseStrategies = map[string][]string{
	"general":    {"feedback_integration", "creative_leap"},
	"worldbuild": {"feedback_integration", "deepen_conflict", "creative_leap"},
	"foresight":  {"feedback_integration", "stress_test"},
	"product":    {"feedback_integration", "simplification"},
}

const defaultUseCase = "general"

// ResolvePhases returns the ordered phase list for a process depth. Any depth
// outside the fixed tables returns the caller-supplied custom list unchanged.
func ResolvePhases(depth schemas.ProcessDepth, custom []schemas.Phase) []schemas.Phase {
	if phases, ok := depthPhaseSets[depth]; ok {
		out := make([]schemas.Phase, len(phases))
		copy(out, phases)
		return out
	}
	out := make([]schemas.Phase, len(custom))
	copy(out, custom)
	return out
}

// ResolvePopulation returns (directions, scenarios per direction) for a
// population scale. Explicit overrides take precedence over the scale table.
func ResolvePopulation(scale schemas.PopulationScale, directionsOverride, scenariosOverride int) (int, int) {
	pop, ok := scalePopulations[scale]
	if !ok {
		pop = scalePopulations[schemas.ScaleMedium]
	}
	directions := pop.Directions
	scenarios := pop.ScenariosPerDirection
	if directionsOverride > 0 {
		directions = directionsOverride
	}
	if scenariosOverride > 0 {
		scenarios = scenariosOverride
	}
	return directions, scenarios
}

// ResolveDomains returns the critique domains for a use case, falling back to
// the general entry for unrecognized values. Never an error.
func ResolveDomains(useCase string, override []string) []string {
	if len(override) > 0 {
		out := make([]string, len(override))
		copy(out, override)
		return out
	}
	domains, ok := useCaseDomains[useCase]
	if !ok {
		domains = useCaseDomains[defaultUseCase]
	}
	out := make([]string, len(domains))
	copy(out, domains)
	return out
}

// ResolveStrategies returns the evolution strategies for a use case with the
// same fallback behavior as ResolveDomains.
func ResolveStrategies(useCase string, override []string) []string {
	if len(override) > 0 {
		out := make([]string, len(override))
		copy(out, override)
		return out
	}
	strategies, ok := useCaseStrategies[useCase]
	if !ok {
		strategies = useCaseStrategies[defaultUseCase]
	}
	out := make([]string, len(strategies))
	copy(out, strategies)
	return out
}
