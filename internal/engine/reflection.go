// File: internal/engine/reflection.go
// Description: The critique fan-out. One task per (scenario, domain) pair; a
// scenario's overall quality score is the arithmetic mean of its domain
// scores. Scoring below the threshold flags a scenario for seeding and
// evolution purposes but never removes it.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/crucible/api/schemas"
)

type reflectionResult struct {
	critique schemas.Critique
	err      error
}

func (m *Machine) runReflection(ctx context.Context, r *run) ([]Update, schemas.PhaseStatistics, error) {
	scenarios := make([]schemas.Scenario, 0, len(r.state.Scenarios))
	for _, dirIdx := range r.state.SurvivingDirections() {
		scenarios = append(scenarios, r.state.ScenariosForDirection(dirIdx, false)...)
	}

	total := len(scenarios) * len(r.resolved.domains)
	results := make([]reflectionResult, 0, total)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.resolved.concurrency)

	for _, sc := range scenarios {
		for _, domain := range r.resolved.domains {
			sc, domain := sc, domain
			g.Go(func() error {
				critique, err := m.critiqueScenario(gctx, r, sc, domain)
				mu.Lock()
				results = append(results, reflectionResult{critique: critique, err: err})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, schemas.PhaseStatistics{}, err
	}

	stats := schemas.PhaseStatistics{Dispatched: total}
	perScenario := make(map[schemas.ScenarioID][]float64)
	var items []any
	for _, res := range results {
		if res.err != nil {
			stats.Failed++
			m.logger.Warn("Critique task failed", zap.Error(res.err))
			continue
		}
		stats.Succeeded++
		items = append(items, res.critique)
		id := res.critique.TargetScenarioID
		perScenario[id] = append(perScenario[id], res.critique.QualityScore)
	}

	threshold := r.resolved.threshold
	assessments := make(map[schemas.ScenarioID]QualityAssessment, len(perScenario))
	for id, scores := range perScenario {
		var sum float64
		for _, v := range scores {
			sum += v
		}
		mean := sum / float64(len(scores))
		assessments[id] = QualityAssessment{Score: mean, Flagged: mean < threshold}
	}

	updates := []Update{
		Append(FieldCritiques, items...),
		Override(FieldQualityScores, assessments),
	}
	return updates, stats, nil
}

func (m *Machine) critiqueScenario(ctx context.Context, r *run, sc schemas.Scenario, domain string) (schemas.Critique, error) {
	prompt, err := m.prompts.Render(schemas.PhaseReflection, map[string]any{
		"TaskDescription": r.state.Input.TaskDescription,
		"ScenarioContent": sc.Content,
		"Domain":          domain,
	})
	if err != nil {
		return schemas.Critique{}, err
	}

	text, err := m.invoker.Call(ctx, m.request(r, prompt, true))
	if err != nil {
		return schemas.Critique{}, err
	}

	payload, err := parseCritique(text)
	if err != nil {
		return schemas.Critique{}, err
	}

	return schemas.Critique{
		ID:               fmt.Sprintf("%s/%s", sc.ID, domain),
		TargetScenarioID: sc.ID,
		Domain:           domain,
		Content:          payload.Content,
		SeverityScore:    payload.SeverityScore,
		QualityScore:     payload.QualityScore,
	}, nil
}
