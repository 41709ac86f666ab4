package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

// stubInvoker answers each phase's prompt with a canned well-formed response.
// An optional fail hook injects task failures for specific prompts.
type stubInvoker struct {
	mu    sync.Mutex
	calls []schemas.GenerationRequest
	fail  func(req schemas.GenerationRequest) error
}

func (s *stubInvoker) Call(_ context.Context, req schemas.GenerationRequest) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	if s.fail != nil {
		if err := s.fail(req); err != nil {
			return "", err
		}
	}
	switch {
	case strings.Contains(req.UserPrompt, "Propose exactly"):
		return `[{"name":"Alpha","core_assumption":"a","focus":"fa"},
			{"name":"Beta","core_assumption":"b","focus":"fb"}]`, nil
	case strings.Contains(req.UserPrompt, "generating a candidate scenario"):
		return "candidate scenario text", nil
	case strings.Contains(req.UserPrompt, "You are a reviewer"):
		return `{"content":"solid but generic","severity_score":4,"quality_score":82}`, nil
	case strings.Contains(req.UserPrompt, "judging a head-to-head"):
		return `{"winner":"A","reasoning":"more committed to the direction","criteria_scores":{"depth":8}}`, nil
	case strings.Contains(req.UserPrompt, "improving a winning scenario"):
		return `{"evolved_content":"sharper scenario text","improvements":["tighter premise"]}`, nil
	case strings.Contains(req.UserPrompt, "synthesizing the results"):
		return "synthesis of the finalists", nil
	}
	return "", fmt.Errorf("no canned response for prompt: %.60s", req.UserPrompt)
}

// captureSink counts recorded items per phase.
type captureSink struct {
	mu      sync.Mutex
	byPhase map[schemas.Phase]int
}

func newCaptureSink() *captureSink {
	return &captureSink{byPhase: make(map[schemas.Phase]int)}
}

func (c *captureSink) Record(_ context.Context, _ string, phase schemas.Phase, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPhase[phase]++
}

func (c *captureSink) Close(context.Context) error { return nil }

func newTestMachine(t *testing.T, invoker Invoker, sink schemas.ResultSink) *Machine {
	t.Helper()

	prompts, err := NewTemplateSupplier()
	require.NoError(t, err)
	m, err := New(config.NewDefaultConfig(), zap.NewNop(), invoker, prompts, sink)
	require.NoError(t, err)
	return m
}

func TestNewRejectsNilDependencies(t *testing.T) {
	t.Parallel()

	prompts, err := NewTemplateSupplier()
	require.NoError(t, err)

	_, err = New(nil, zap.NewNop(), &stubInvoker{}, prompts, nil)
	assert.Error(t, err)
	_, err = New(config.NewDefaultConfig(), zap.NewNop(), nil, prompts, nil)
	assert.Error(t, err)

	// A nil sink is allowed and defaults to a no-op.
	m, err := New(config.NewDefaultConfig(), zap.NewNop(), &stubInvoker{}, prompts, nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestPhaseRouting(t *testing.T) {
	t.Parallel()

	full := make(map[schemas.Phase]bool)
	for _, p := range schemas.CanonicalPhaseOrder {
		full[p] = true
	}
	quick := map[schemas.Phase]bool{
		schemas.PhaseMetaAnalysis: true,
		schemas.PhaseGeneration:   true,
		schemas.PhaseTournament:   true,
		schemas.PhaseMetaReview:   true,
	}

	assert.Equal(t, schemas.PhaseMetaAnalysis, firstPhase(full))
	assert.Equal(t, schemas.PhaseMetaAnalysis, firstPhase(quick))
	assert.Equal(t, schemas.PhaseGeneration, firstPhase(map[schemas.Phase]bool{schemas.PhaseGeneration: true}))
	assert.Equal(t, schemas.PhaseMetaReview, firstPhase(map[schemas.Phase]bool{}))

	// Skip-routing walks the canonical order past absent phases.
	assert.Equal(t, schemas.PhaseReflection, nextPhase(schemas.PhaseGeneration, full))
	assert.Equal(t, schemas.PhaseTournament, nextPhase(schemas.PhaseGeneration, quick))
	assert.Equal(t, schemas.PhaseMetaReview, nextPhase(schemas.PhaseTournament, quick))

	// meta_review is the terminal fallback even when absent from the set.
	assert.Equal(t, schemas.PhaseMetaReview, nextPhase(schemas.PhaseEvolutionTournament, map[schemas.Phase]bool{}))
}

func TestQuickRun(t *testing.T) {
	t.Parallel()

	invoker := &stubInvoker{}
	sink := newCaptureSink()
	m := newTestMachine(t, invoker, sink)

	out, err := m.Run(context.Background(), schemas.RunInput{
		TaskDescription: "design a settlement",
		ProcessDepth:    schemas.DepthQuick,
		PopulationScale: schemas.ScaleLight,
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.NotEmpty(t, out.RunID)
	require.Len(t, out.ResearchDirections, 2)
	assert.Equal(t, "Alpha", out.ResearchDirections[0].Name)
	assert.Equal(t, "Beta", out.ResearchDirections[1].Name)

	// Per direction the bracket plays (t0,t1) with t2 on a bye, then the
	// final; the stub always picks A, so the bye seed takes the final.
	require.Len(t, out.FinalRepresentatives, 2)
	assert.Equal(t, schemas.ScenarioID("d0:t2"), out.FinalRepresentatives[0].ID)
	assert.Equal(t, schemas.ScenarioID("d1:t2"), out.FinalRepresentatives[1].ID)
	assert.Equal(t, "synthesis of the finalists", out.CompetitionSummary)

	stats := out.Statistics
	assert.Equal(t, 6, stats.ScenarioCount)
	assert.Equal(t, 0, stats.CritiqueCount)
	assert.Equal(t, 0, stats.EvolutionCount)
	assert.Equal(t, 4, stats.ComparisonCount)
	assert.Equal(t, 12, stats.TotalProviderCalls)
	assert.Equal(t, 0, stats.FailedProviderCalls)
	assert.Empty(t, stats.Warnings)
	assert.Greater(t, stats.RatingSpread, 0.0)

	// Every appended item reaches the sink.
	assert.Equal(t, 2, sink.byPhase[schemas.PhaseMetaAnalysis])
	assert.Equal(t, 6, sink.byPhase[schemas.PhaseGeneration])
	assert.Equal(t, 4, sink.byPhase[schemas.PhaseTournament])
	assert.Zero(t, sink.byPhase[schemas.PhaseReflection])
}

func TestComprehensiveRun(t *testing.T) {
	t.Parallel()

	invoker := &stubInvoker{}
	m := newTestMachine(t, invoker, nil)

	out, err := m.Run(context.Background(), schemas.RunInput{
		TaskDescription: "design a settlement",
		ProcessDepth:    schemas.DepthComprehensive,
		PopulationScale: schemas.ScaleLight,
	})
	require.NoError(t, err)

	stats := out.Statistics
	// 6 originals plus 2 winners x 2 strategies evolved.
	assert.Equal(t, 10, stats.ScenarioCount)
	// 6 scenarios x 3 general-use-case domains.
	assert.Equal(t, 18, stats.CritiqueCount)
	assert.Equal(t, 4, stats.EvolutionCount)
	// 4 from the main bracket, 2 from the evolved finals.
	assert.Equal(t, 6, stats.ComparisonCount)
	assert.InDelta(t, 82.0, stats.MeanQualityScore, 1e-9)

	// The final representatives come out of the evolution tournament.
	require.Len(t, out.FinalRepresentatives, 2)
	for _, rep := range out.FinalRepresentatives {
		assert.NotEmpty(t, rep.OriginScenarioID)
		assert.Equal(t, "sharper scenario text", rep.Content)
	}
}

func TestRunExcludesDeadDirection(t *testing.T) {
	t.Parallel()

	invoker := &stubInvoker{
		fail: func(req schemas.GenerationRequest) error {
			if strings.Contains(req.UserPrompt, "generating a candidate scenario") &&
				strings.Contains(req.UserPrompt, "Research direction: Beta") {
				return errors.New("provider rejected the request")
			}
			return nil
		},
	}
	m := newTestMachine(t, invoker, nil)

	out, err := m.Run(context.Background(), schemas.RunInput{
		TaskDescription: "design a settlement",
		ProcessDepth:    schemas.DepthQuick,
		PopulationScale: schemas.ScaleLight,
	})
	require.NoError(t, err)

	require.Len(t, out.FinalRepresentatives, 1)
	assert.Equal(t, schemas.ScenarioID("d0:t2"), out.FinalRepresentatives[0].ID)

	stats := out.Statistics
	assert.Equal(t, []int{1}, stats.ExcludedDirections)
	assert.Equal(t, map[int]int{1: 3}, stats.DirectionFailures)
	assert.Equal(t, 3, stats.FailedProviderCalls)
	assert.Contains(t, stats.Warnings,
		"direction 1 excluded from tournament: all 3 generation tasks failed")
}

func TestRunFailsWhenNothingSurvives(t *testing.T) {
	t.Parallel()

	invoker := &stubInvoker{
		fail: func(req schemas.GenerationRequest) error {
			if strings.Contains(req.UserPrompt, "generating a candidate scenario") {
				return errors.New("provider down")
			}
			return nil
		},
	}
	m := newTestMachine(t, invoker, nil)

	_, err := m.Run(context.Background(), schemas.RunInput{
		TaskDescription: "design a settlement",
		ProcessDepth:    schemas.DepthQuick,
		PopulationScale: schemas.ScaleLight,
	})
	require.Error(t, err)

	var insufficient *schemas.InsufficientOutputError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, schemas.PhaseGeneration, insufficient.Phase)
	assert.Equal(t, 0, insufficient.Surviving)
	assert.Equal(t, 1, insufficient.Required)
	assert.Equal(t, map[int]int{0: 3, 1: 3}, insufficient.DirectionFailures)
}

func TestMetaAnalysisFallsBackToGenericDirections(t *testing.T) {
	t.Parallel()

	invoker := &stubInvoker{
		fail: func(req schemas.GenerationRequest) error {
			if strings.Contains(req.UserPrompt, "Propose exactly") {
				return errors.New("provider down")
			}
			return nil
		},
	}
	m := newTestMachine(t, invoker, nil)

	out, err := m.Run(context.Background(), schemas.RunInput{
		TaskDescription: "design a settlement",
		ProcessDepth:    schemas.DepthQuick,
		PopulationScale: schemas.ScaleLight,
	})
	require.NoError(t, err)

	require.Len(t, out.ResearchDirections, 2)
	assert.Equal(t, "direction-1", out.ResearchDirections[0].Name)
	assert.Equal(t, "direction-2", out.ResearchDirections[1].Name)
	require.Len(t, out.FinalRepresentatives, 2)

	var fellBack bool
	for _, w := range out.Statistics.Warnings {
		if strings.Contains(w, "meta_analysis fell back to generic directions") {
			fellBack = true
		}
	}
	assert.True(t, fellBack)
}

func TestResolveAppliesRunInputOverrides(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, &stubInvoker{}, nil)

	base := m.resolve(schemas.RunInput{})
	assert.Equal(t, m.cfg.Engine.MinQualityThreshold, base.threshold)
	assert.Equal(t, m.cfg.Engine.Concurrency(), base.concurrency)
	assert.Zero(t, base.maxRetries)

	threshold := 75.0
	retries := 5
	serial := false
	overridden := m.resolve(schemas.RunInput{
		MinQualityThreshold:     &threshold,
		MaxRetries:              &retries,
		EnableParallelExecution: &serial,
	})
	assert.Equal(t, 75.0, overridden.threshold)
	assert.Equal(t, 5, overridden.maxRetries)
	assert.Equal(t, 1, overridden.concurrency)

	parallel := true
	assert.Equal(t, m.cfg.Engine.WorkerConcurrency,
		m.resolve(schemas.RunInput{EnableParallelExecution: &parallel}).concurrency)
}

// A custom phase list without meta-analysis makes generation synthesize its
// own directions; those must surface in the output and reach the sink like
// any other generated item.
func TestCustomPhasesWithoutMetaAnalysis(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultConfig()
	cfg.Engine.ProcessDepth = schemas.DepthCustom
	cfg.Engine.CustomPhases = []schemas.Phase{
		schemas.PhaseGeneration, schemas.PhaseTournament, schemas.PhaseMetaReview,
	}
	cfg.Engine.PopulationScale = schemas.ScaleLight

	prompts, err := NewTemplateSupplier()
	require.NoError(t, err)
	sink := newCaptureSink()
	m, err := New(cfg, zap.NewNop(), &stubInvoker{}, prompts, sink)
	require.NoError(t, err)

	out, err := m.Run(context.Background(), schemas.RunInput{
		TaskDescription: "design a settlement",
	})
	require.NoError(t, err)

	require.Len(t, out.ResearchDirections, 2)
	assert.Equal(t, "direction-1", out.ResearchDirections[0].Name)
	assert.Equal(t, "direction-2", out.ResearchDirections[1].Name)
	require.Len(t, out.FinalRepresentatives, 2)

	// 2 synthesized directions plus 6 scenarios, all recorded under generation.
	assert.Equal(t, 8, sink.byPhase[schemas.PhaseGeneration])
	assert.Zero(t, sink.byPhase[schemas.PhaseMetaAnalysis])
}

func TestFlaggedWinnerEvolvesRunnerUp(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, &stubInvoker{}, nil)
	input := schemas.RunInput{
		TaskDescription: "design a settlement",
		PopulationScale: schemas.ScaleLight,
	}

	evolve := func(winnerFlagged bool) []schemas.ScenarioID {
		r := &run{
			rc:       NewRunContext(),
			resolved: m.resolve(input),
			state:    NewRunState("run-evolution", input),
		}
		require.NoError(t, r.state.Apply([]Update{Append(FieldScenarios,
			schemas.Scenario{ID: "d0:t0", TeamID: 0, DirectionIndex: 0, Content: "winning take", QualityFlagged: winnerFlagged},
			schemas.Scenario{ID: "d0:t1", TeamID: 1, DirectionIndex: 0, Content: "runner-up take"},
			schemas.Scenario{ID: "d0:t2", TeamID: 2, DirectionIndex: 0, Content: "weak take", QualityFlagged: true},
		)}))
		require.NoError(t, r.state.Apply([]Update{
			Override(FieldWinners, map[int]schemas.ScenarioID{0: "d0:t0"}),
		}))

		updates, stats, err := m.runEvolution(context.Background(), r)
		require.NoError(t, err)
		assert.Zero(t, stats.Failed)

		var ids []schemas.ScenarioID
		for _, u := range updates {
			if u.Field != FieldScenarios {
				continue
			}
			for _, item := range u.Items {
				ids = append(ids, item.(schemas.Scenario).ID)
			}
		}
		return ids
	}

	// An unflagged winner evolves alone, once per strategy.
	assert.Len(t, evolve(false), 2)

	// A flagged winner pulls the best unflagged contender into the fan-out;
	// the flagged third scenario stays out.
	hedged := evolve(true)
	require.Len(t, hedged, 4)
	assert.Contains(t, hedged, EvolvedIDFor("d0:t0", 0))
	assert.Contains(t, hedged, EvolvedIDFor("d0:t1", 0))
	assert.Contains(t, hedged, EvolvedIDFor("d0:t1", 1))
	assert.NotContains(t, hedged, EvolvedIDFor("d0:t2", 0))
}

// Two runs over the same input must produce identical bracket structure; ids
// derive from indexes, never from completion order.
func TestRunIsDeterministicAcrossExecutions(t *testing.T) {
	t.Parallel()

	input := schemas.RunInput{
		TaskDescription: "design a settlement",
		ProcessDepth:    schemas.DepthQuick,
		PopulationScale: schemas.ScaleLight,
	}

	first, err := newTestMachine(t, &stubInvoker{}, nil).Run(context.Background(), input)
	require.NoError(t, err)
	second, err := newTestMachine(t, &stubInvoker{}, nil).Run(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, second.FinalRepresentatives, len(first.FinalRepresentatives))
	for i := range first.FinalRepresentatives {
		assert.Equal(t, first.FinalRepresentatives[i].ID, second.FinalRepresentatives[i].ID)
	}
	assert.Equal(t, first.Statistics.ComparisonCount, second.Statistics.ComparisonCount)
	assert.Equal(t, first.Statistics.TotalProviderCalls, second.Statistics.TotalProviderCalls)
}
