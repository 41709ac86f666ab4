// File: internal/engine/generation.go
// Description: The generation fan-out. One task per (direction, team) pair on
// a bounded pool; scenario ids come from the indexes, never from completion
// order, so downstream grouping is deterministic. Individual task failures
// drop one scenario; a direction only dies when every one of its teams fails.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/crucible/api/schemas"
)

type generationResult struct {
	scenario schemas.Scenario
	dirIndex int
	err      error
}

func (m *Machine) runGeneration(ctx context.Context, r *run) ([]Update, schemas.PhaseStatistics, error) {
	directions := r.state.Directions
	dirIndexes := sortedDirectionIndexes(directions)
	var dirUpdates []Update
	if len(dirIndexes) == 0 {
		// A custom phase list can skip meta-analysis entirely. The synthesized
		// directions go back as an update like any other executor output.
		synthesized := fallbackDirections(r.resolved.directions)
		directions = make(map[int]schemas.ResearchDirection, len(synthesized))
		items := make([]any, 0, len(synthesized))
		for _, d := range synthesized {
			directions[d.Index] = d
			dirIndexes = append(dirIndexes, d.Index)
			items = append(items, d)
		}
		dirUpdates = append(dirUpdates, Append(FieldDirections, items...))
	}

	total := len(dirIndexes) * r.resolved.perDirection
	results := make([]generationResult, 0, total)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.resolved.concurrency)

	for _, dirIdx := range dirIndexes {
		direction := directions[dirIdx]
		for team := 0; team < r.resolved.perDirection; team++ {
			dirIdx, team, direction := dirIdx, team, direction
			g.Go(func() error {
				sc, err := m.generateScenario(gctx, r, direction, team)
				mu.Lock()
				results = append(results, generationResult{scenario: sc, dirIndex: dirIdx, err: err})
				mu.Unlock()
				// Task failures are absorbed here, not propagated: one dead
				// team must not cancel its siblings.
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, schemas.PhaseStatistics{}, err
	}

	stats := schemas.PhaseStatistics{Dispatched: total}
	surviving := make(map[int]int, len(dirIndexes))
	var items []any
	for _, res := range results {
		if res.err != nil {
			stats.Failed++
			r.directionFailures[res.dirIndex]++
			m.logger.Warn("Generation task failed",
				zap.Int("direction", res.dirIndex),
				zap.Error(res.err),
			)
			continue
		}
		stats.Succeeded++
		surviving[res.dirIndex]++
		items = append(items, res.scenario)
	}

	updates := append(dirUpdates, Append(FieldScenarios, items...))
	for _, dirIdx := range dirIndexes {
		if surviving[dirIdx] == 0 {
			updates = append(updates,
				Append(FieldExcludedDirections, dirIdx),
				Append(FieldWarnings, fmt.Sprintf(
					"direction %d excluded from tournament: all %d generation tasks failed",
					dirIdx, r.resolved.perDirection)),
			)
		}
	}
	return updates, stats, nil
}

func (m *Machine) generateScenario(ctx context.Context, r *run, direction schemas.ResearchDirection, team int) (schemas.Scenario, error) {
	prompt, err := m.prompts.Render(schemas.PhaseGeneration, map[string]any{
		"TaskDescription": r.state.Input.TaskDescription,
		"DomainContext":   r.state.Input.DomainContext,
		"BaselineState":   r.state.Input.BaselineState,
		"DirectionName":   direction.Name,
		"CoreAssumption":  direction.CoreAssumption,
		"Focus":           direction.Focus,
		"TeamIndex":       team,
	})
	if err != nil {
		return schemas.Scenario{}, err
	}

	content, err := m.invoker.Call(ctx, m.request(r, prompt, false))
	if err != nil {
		return schemas.Scenario{}, err
	}

	return schemas.Scenario{
		ID:             ScenarioIDFor(direction.Index, team),
		TeamID:         team,
		DirectionIndex: direction.Index,
		Content:        content,
		GeneratedAt:    time.Now().UTC(),
	}, nil
}
