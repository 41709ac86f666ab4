package schemas

import "time"

// Phase identifies one stage of the tournament pipeline.
type Phase string

const (
	PhaseMetaAnalysis        Phase = "meta_analysis"
	PhaseGeneration          Phase = "generation"
	PhaseReflection          Phase = "reflection"
	PhaseTournament          Phase = "tournament"
	PhaseEvolution           Phase = "evolution"
	PhaseEvolutionTournament Phase = "evolution_tournament"
	PhaseMetaReview          Phase = "meta_review"
)

// CanonicalPhaseOrder is the full pipeline in execution order. The state
// machine skips entries absent from the resolved phase set; meta_review is
// always reachable as the terminal fallback.
var CanonicalPhaseOrder = []Phase{
	PhaseMetaAnalysis,
	PhaseGeneration,
	PhaseReflection,
	PhaseTournament,
	PhaseEvolution,
	PhaseEvolutionTournament,
	PhaseMetaReview,
}

// ProcessDepth selects which phases run.
type ProcessDepth string

const (
	DepthQuick         ProcessDepth = "quick"
	DepthStandard      ProcessDepth = "standard"
	DepthComprehensive ProcessDepth = "comprehensive"
	DepthCustom        ProcessDepth = "custom"
)

// PopulationScale selects how many directions and scenarios are generated.
type PopulationScale string

const (
	ScaleLight  PopulationScale = "light"
	ScaleMedium PopulationScale = "medium"
	ScaleHeavy  PopulationScale = "heavy"
)

// ScenarioID is a structured identifier scoped to a single run:
// "d<direction_index>:t<team_index>", with ":e<strategy_index>" appended for
// evolved scenarios. Uniqueness across runs comes from the run ID carried
// alongside, never from the formatting.
type ScenarioID string

// ResearchDirection is a thematic generation strategy produced once during
// meta-analysis and immutable thereafter.
type ResearchDirection struct {
	Index          int    `json:"index"`
	Name           string `json:"name"`
	CoreAssumption string `json:"core_assumption"`
	Focus          string `json:"focus"`
}

// Scenario is one generated candidate artifact. QualityScore is set by
// reflection, the rating table by the tournament; both start unset.
type Scenario struct {
	ID               ScenarioID `json:"id"`
	TeamID           int        `json:"team_id"`
	DirectionIndex   int        `json:"direction_index"`
	Content          string     `json:"content"`
	GeneratedAt      time.Time  `json:"generated_at"`
	QualityScore     float64    `json:"quality_score,omitempty"`
	QualityFlagged   bool       `json:"quality_flagged,omitempty"`
	OriginScenarioID ScenarioID `json:"origin_scenario_id,omitempty"`
	Strategy         string     `json:"strategy,omitempty"`
}

// Critique is one reviewer domain's assessment of one scenario. Read-only
// after creation; references the scenario by ID only.
type Critique struct {
	ID               string     `json:"id"`
	TargetScenarioID ScenarioID `json:"target_scenario_id"`
	Domain           string     `json:"domain"`
	Content          string     `json:"content"`
	SeverityScore    int        `json:"severity_score"` // 1-10
	QualityScore     float64    `json:"quality_score"`  // 1-100
}

// Comparison records one pairwise tournament match. Immutable; forms an edge
// of the bracket graph.
type Comparison struct {
	Round          int                `json:"round"`
	DirectionIndex int                `json:"direction_index"`
	ScenarioA      ScenarioID         `json:"scenario_a"`
	ScenarioB      ScenarioID         `json:"scenario_b"`
	WinnerID       ScenarioID         `json:"winner_id"`
	Reasoning      string             `json:"reasoning"`
	CriteriaScores map[string]float64 `json:"criteria_scores,omitempty"`
}

// EvolutionResult is the output of applying one evolution strategy to one
// tournament survivor.
type EvolutionResult struct {
	ID                 string     `json:"id"`
	OriginalScenarioID ScenarioID `json:"original_scenario_id"`
	Strategy           string     `json:"strategy"`
	EvolvedContent     string     `json:"evolved_content"`
	Improvements       []string   `json:"improvements,omitempty"`
}

// RunInput is the caller-supplied context for one tournament run. The pointer
// fields are optional per-run overrides of the engine configuration; nil
// leaves the configured value in effect.
type RunInput struct {
	TaskDescription   string          `json:"task_description"`
	DomainContext     string          `json:"domain_context,omitempty"`
	ReferenceMaterial string          `json:"reference_material,omitempty"`
	BaselineState     string          `json:"baseline_state,omitempty"`
	YearsInFuture     int             `json:"years_in_future,omitempty"`
	UseCase           string          `json:"use_case"`
	ProcessDepth      ProcessDepth    `json:"process_depth"`
	PopulationScale   PopulationScale `json:"population_scale"`
	ModelName         string          `json:"model_name,omitempty"`

	MaxRetries              *int     `json:"max_retries,omitempty"`
	MinQualityThreshold     *float64 `json:"min_quality_threshold,omitempty"`
	EnableParallelExecution *bool    `json:"enable_parallel_execution,omitempty"`
}

// PhaseStatistics counts task outcomes for a single phase.
type PhaseStatistics struct {
	Dispatched int `json:"dispatched"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
}

// RunStatistics summarizes counts and distributions for the whole run.
type RunStatistics struct {
	Phases              map[Phase]PhaseStatistics `json:"phases"`
	ScenarioCount       int                       `json:"scenario_count"`
	CritiqueCount       int                       `json:"critique_count"`
	ComparisonCount     int                       `json:"comparison_count"`
	EvolutionCount      int                       `json:"evolution_count"`
	MeanQualityScore    float64                   `json:"mean_quality_score,omitempty"`
	RatingSpread        float64                   `json:"rating_spread,omitempty"`
	DirectionFailures   map[int]int               `json:"direction_failures,omitempty"`
	ExcludedDirections  []int                     `json:"excluded_directions,omitempty"`
	Warnings            []string                  `json:"warnings,omitempty"`
	TotalProviderCalls  int                       `json:"total_provider_calls"`
	FailedProviderCalls int                       `json:"failed_provider_calls"`
}

// RunOutput is the final result returned to the caller. It is only produced
// for a fully completed run; partial state is never exposed.
type RunOutput struct {
	RunID                string              `json:"run_id"`
	ResearchDirections   []ResearchDirection `json:"research_directions"`
	FinalRepresentatives []Scenario          `json:"final_representatives"`
	CompetitionSummary   string              `json:"competition_summary"`
	Statistics           RunStatistics       `json:"statistics"`
}
