// File: internal/engine/machine.go
// Description: The phase state machine. Owns phase sequencing and the
// RunState for the duration of one run; executors are invoked through a
// single dispatch loop whose routing is a pure function of (current phase,
// resolved phase set), with meta_review as the universal fallback.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

// Invoker is the resilient call layer as the engine sees it. Every generative
// call an executor makes goes through one Invoker.
type Invoker interface {
	Call(ctx context.Context, req schemas.GenerationRequest) (string, error)
}

// Machine coordinates a full tournament run.
type Machine struct {
	cfg     *config.Config
	logger  *zap.Logger
	invoker Invoker
	prompts schemas.PromptSupplier
	sink    schemas.ResultSink
}

// New creates a Machine. All dependencies are required except the sink, which
// defaults to a no-op.
func New(cfg *config.Config, logger *zap.Logger, invoker Invoker, prompts schemas.PromptSupplier, sink schemas.ResultSink) (*Machine, error) {
	if cfg == nil || logger == nil || invoker == nil || prompts == nil {
		return nil, fmt.Errorf("cannot initialize engine with nil dependencies")
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Machine{
		cfg:     cfg,
		logger:  logger.Named("engine"),
		invoker: invoker,
		prompts: prompts,
		sink:    sink,
	}, nil
}

// resolvedConfig is the concrete shape of one run, computed once from the
// configuration enums before any provider call.
type resolvedConfig struct {
	phases       []schemas.Phase
	phaseSet     map[schemas.Phase]bool
	directions   int
	perDirection int
	domains      []string
	strategies   []string
	useCase      string
	threshold    float64
	concurrency  int
	maxRetries   int // 0 leaves the call layer's policy in effect
}

// run bundles everything one run's executors share.
type run struct {
	rc       RunContext
	resolved resolvedConfig
	state    *RunState

	phaseStats        map[schemas.Phase]schemas.PhaseStatistics
	directionFailures map[int]int
	totalCalls        int
	failedCalls       int
}

// Run executes the full pipeline for one input and returns the final output.
// The caller receives either a complete output or a single structured error;
// partial state is never returned.
func (m *Machine) Run(ctx context.Context, input schemas.RunInput) (*schemas.RunOutput, error) {
	resolved := m.resolve(input)
	rc := NewRunContext()

	m.logger.Info("Starting tournament run",
		zap.String("run_id", rc.RunID),
		zap.String("use_case", resolved.useCase),
		zap.Int("directions", resolved.directions),
		zap.Int("scenarios_per_direction", resolved.perDirection),
		zap.Any("phases", resolved.phases),
	)

	r := &run{
		rc:                rc,
		resolved:          resolved,
		state:             NewRunState(rc.RunID, input),
		phaseStats:        make(map[schemas.Phase]schemas.PhaseStatistics),
		directionFailures: make(map[int]int),
	}

	phase := firstPhase(resolved.phaseSet)
	for {
		updates, stats, err := m.execute(ctx, phase, r)
		if err != nil {
			return nil, err
		}
		if err := r.state.Apply(updates); err != nil {
			return nil, fmt.Errorf("failed to merge %s results: %w", phase, err)
		}
		r.state.Completed[phase] = true
		r.phaseStats[phase] = stats
		r.totalCalls += stats.Dispatched
		r.failedCalls += stats.Failed
		m.record(ctx, rc.RunID, phase, updates)

		m.logger.Info("Phase complete",
			zap.String("run_id", rc.RunID),
			zap.String("phase", string(phase)),
			zap.Int("dispatched", stats.Dispatched),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
		)

		if phase == schemas.PhaseGeneration {
			if err := m.checkSurvivors(r); err != nil {
				return nil, err
			}
		}
		if phase == schemas.PhaseMetaReview {
			break
		}
		phase = nextPhase(phase, resolved.phaseSet)
	}

	output := m.buildOutput(r)
	m.logger.Info("Tournament run complete",
		zap.String("run_id", rc.RunID),
		zap.Int("final_representatives", len(output.FinalRepresentatives)),
	)
	return output, nil
}

// resolve overlays per-run input on the engine configuration and expands the
// coarse enums through the resolver tables.
func (m *Machine) resolve(input schemas.RunInput) resolvedConfig {
	eng := m.cfg.Engine

	useCase := eng.UseCase
	if input.UseCase != "" {
		useCase = input.UseCase
	}
	depth := eng.ProcessDepth
	if input.ProcessDepth != "" {
		depth = input.ProcessDepth
	}
	scale := eng.PopulationScale
	if input.PopulationScale != "" {
		scale = input.PopulationScale
	}

	threshold := eng.MinQualityThreshold
	if input.MinQualityThreshold != nil {
		threshold = *input.MinQualityThreshold
	}
	concurrency := eng.Concurrency()
	if input.EnableParallelExecution != nil {
		concurrency = 1
		if *input.EnableParallelExecution {
			concurrency = eng.WorkerConcurrency
		}
	}
	maxRetries := 0
	if input.MaxRetries != nil {
		maxRetries = *input.MaxRetries
	}

	phases := config.ResolvePhases(depth, eng.CustomPhases)
	directions, perDirection := config.ResolvePopulation(scale, eng.DirectionsOverride, eng.ScenariosOverride)

	phaseSet := make(map[schemas.Phase]bool, len(phases))
	for _, p := range phases {
		phaseSet[p] = true
	}

	return resolvedConfig{
		phases:       phases,
		phaseSet:     phaseSet,
		directions:   directions,
		perDirection: perDirection,
		domains:      config.ResolveDomains(useCase, eng.ReflectionDomains),
		strategies:   config.ResolveStrategies(useCase, eng.EvolutionStrategies),
		useCase:      useCase,
		threshold:    threshold,
		concurrency:  concurrency,
		maxRetries:   maxRetries,
	}
}

// execute dispatches one phase to its executor.
func (m *Machine) execute(ctx context.Context, phase schemas.Phase, r *run) ([]Update, schemas.PhaseStatistics, error) {
	switch phase {
	case schemas.PhaseMetaAnalysis:
		return m.runMetaAnalysis(ctx, r)
	case schemas.PhaseGeneration:
		return m.runGeneration(ctx, r)
	case schemas.PhaseReflection:
		return m.runReflection(ctx, r)
	case schemas.PhaseTournament:
		return m.runTournament(ctx, r, false)
	case schemas.PhaseEvolution:
		return m.runEvolution(ctx, r)
	case schemas.PhaseEvolutionTournament:
		return m.runTournament(ctx, r, true)
	case schemas.PhaseMetaReview:
		return m.runMetaReview(ctx, r)
	default:
		return nil, schemas.PhaseStatistics{}, fmt.Errorf("no executor registered for phase %s", phase)
	}
}

// firstPhase returns the initial state: the earliest canonical phase present
// in the resolved set, meta_review if the set is somehow empty.
func firstPhase(set map[schemas.Phase]bool) schemas.Phase {
	for _, p := range schemas.CanonicalPhaseOrder {
		if set[p] {
			return p
		}
	}
	return schemas.PhaseMetaReview
}

// nextPhase walks the canonical order past current and returns the first
// phase present in the resolved set. meta_review is always reachable.
func nextPhase(current schemas.Phase, set map[schemas.Phase]bool) schemas.Phase {
	past := false
	for _, p := range schemas.CanonicalPhaseOrder {
		if p == current {
			past = true
			continue
		}
		if past && (set[p] || p == schemas.PhaseMetaReview) {
			return p
		}
	}
	return schemas.PhaseMetaReview
}

// checkSurvivors enforces the configured minimum after generation.
func (m *Machine) checkSurvivors(r *run) error {
	surviving := len(r.state.SurvivingDirections())
	if surviving >= m.cfg.Engine.MinSurvivingDirections {
		return nil
	}
	return &schemas.InsufficientOutputError{
		Phase:             schemas.PhaseGeneration,
		Surviving:         surviving,
		Required:          m.cfg.Engine.MinSurvivingDirections,
		DirectionFailures: r.directionFailures,
	}
}

// record forwards phase items to the sink. Best effort: the sink contract
// forbids blocking the engine on failures.
func (m *Machine) record(ctx context.Context, runID string, phase schemas.Phase, updates []Update) {
	for _, u := range updates {
		if u.Kind != KindAppend {
			continue
		}
		for _, item := range u.Items {
			m.sink.Record(ctx, runID, phase, item)
		}
	}
}

// buildOutput assembles the final result from the completed run.
func (m *Machine) buildOutput(r *run) *schemas.RunOutput {
	s := r.state

	directions := make([]schemas.ResearchDirection, 0, len(s.Directions))
	for _, idx := range sortedDirectionIndexes(s.Directions) {
		directions = append(directions, s.Directions[idx])
	}

	return &schemas.RunOutput{
		RunID:                r.rc.RunID,
		ResearchDirections:   directions,
		FinalRepresentatives: s.FinalRepresentatives,
		CompetitionSummary:   s.Summary,
		Statistics:           m.buildStatistics(r),
	}
}

// noopSink is the default sink when archival is disabled.
type noopSink struct{}

func (noopSink) Record(context.Context, string, schemas.Phase, any) {}
func (noopSink) Close(context.Context) error                       { return nil }
