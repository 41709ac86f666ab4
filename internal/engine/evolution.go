// File: internal/engine/evolution.go
// Description: The evolution fan-out. Each direction's tournament winner is
// re-generated once per resolved strategy, with the scenario's aggregated
// critiques folded into the prompt. A reflection-flagged winner additionally
// pulls the direction's best unflagged contender into the fan-out. Every
// result becomes a new scenario carrying an origin back-reference, eligible
// for the evolution tournament.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/crucible/api/schemas"
)

type evolutionTask struct {
	origin        schemas.Scenario
	strategy      string
	strategyIndex int
}

type evolutionOutcome struct {
	result   schemas.EvolutionResult
	scenario schemas.Scenario
	err      error
}

func (m *Machine) runEvolution(ctx context.Context, r *run) ([]Update, schemas.PhaseStatistics, error) {
	var tasks []evolutionTask
	for _, dirIdx := range sortedWinnerIndexes(r.state.Winners) {
		winner, ok := r.state.Scenarios[r.state.Winners[dirIdx]]
		if !ok {
			continue
		}
		origins := []schemas.Scenario{winner}
		if winner.QualityFlagged {
			// A reflection-flagged winner gets a hedge: the direction's best
			// unflagged contender evolves alongside it.
			for _, sc := range r.state.ScenariosForDirection(dirIdx, false) {
				if sc.ID != winner.ID && !sc.QualityFlagged {
					origins = append(origins, sc)
					break
				}
			}
		}
		for _, origin := range origins {
			for i, strategy := range r.resolved.strategies {
				tasks = append(tasks, evolutionTask{origin: origin, strategy: strategy, strategyIndex: i})
			}
		}
	}

	results := make([]evolutionOutcome, 0, len(tasks))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.resolved.concurrency)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			outcome := m.evolveScenario(gctx, r, task)
			mu.Lock()
			results = append(results, outcome)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, schemas.PhaseStatistics{}, err
	}

	stats := schemas.PhaseStatistics{Dispatched: len(tasks)}
	var evolutions, scenarios []any
	for _, res := range results {
		if res.err != nil {
			stats.Failed++
			m.logger.Warn("Evolution task failed", zap.Error(res.err))
			continue
		}
		stats.Succeeded++
		evolutions = append(evolutions, res.result)
		scenarios = append(scenarios, res.scenario)
	}

	updates := []Update{
		Append(FieldEvolutions, evolutions...),
		Append(FieldScenarios, scenarios...),
	}
	return updates, stats, nil
}

func (m *Machine) evolveScenario(ctx context.Context, r *run, task evolutionTask) evolutionOutcome {
	feedback := aggregateFeedback(r.state.CritiquesForScenario(task.origin.ID))

	prompt, err := m.prompts.Render(schemas.PhaseEvolution, map[string]any{
		"TaskDescription": r.state.Input.TaskDescription,
		"ScenarioContent": task.origin.Content,
		"Strategy":        task.strategy,
		"Feedback":        feedback,
	})
	if err != nil {
		return evolutionOutcome{err: err}
	}

	text, err := m.invoker.Call(ctx, m.request(r, prompt, true))
	if err != nil {
		return evolutionOutcome{err: err}
	}

	payload, err := parseEvolution(text)
	if err != nil {
		return evolutionOutcome{err: err}
	}

	evolvedID := EvolvedIDFor(task.origin.ID, task.strategyIndex)
	result := schemas.EvolutionResult{
		ID:                 string(evolvedID),
		OriginalScenarioID: task.origin.ID,
		Strategy:           task.strategy,
		EvolvedContent:     payload.EvolvedContent,
		Improvements:       payload.Improvements,
	}
	scenario := schemas.Scenario{
		ID:               evolvedID,
		TeamID:           task.origin.TeamID,
		DirectionIndex:   task.origin.DirectionIndex,
		Content:          payload.EvolvedContent,
		GeneratedAt:      time.Now().UTC(),
		OriginScenarioID: task.origin.ID,
		Strategy:         task.strategy,
	}
	return evolutionOutcome{result: result, scenario: scenario}
}

// aggregateFeedback flattens a scenario's critiques into prompt context.
func aggregateFeedback(critiques []schemas.Critique) string {
	if len(critiques) == 0 {
		return "No reviewer feedback is available."
	}
	var sb strings.Builder
	for _, c := range critiques {
		fmt.Fprintf(&sb, "[%s, severity %d/10, quality %.0f/100] %s\n", c.Domain, c.SeverityScore, c.QualityScore, c.Content)
	}
	return sb.String()
}
