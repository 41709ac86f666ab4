// File: internal/engine/meta.go
// Description: The bookend phases. Meta-analysis produces the run's research
// directions; meta-review selects the final representatives and synthesizes
// the competition summary. Neither phase is allowed to fail the run on a
// provider error: both degrade to locally built output.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// runMetaAnalysis asks the provider for the run's research directions. On any
// failure it falls back to generic directions so the run can proceed.
func (m *Machine) runMetaAnalysis(ctx context.Context, r *run) ([]Update, schemas.PhaseStatistics, error) {
	stats := schemas.PhaseStatistics{Dispatched: 1}

	directions, warning := m.proposeDirections(ctx, r)
	if warning != "" {
		stats.Failed = 1
	} else {
		stats.Succeeded = 1
	}

	updates := make([]Update, 0, 2)
	items := make([]any, 0, len(directions))
	for _, d := range directions {
		items = append(items, d)
	}
	updates = append(updates, Append(FieldDirections, items...))
	if warning != "" {
		updates = append(updates, Append(FieldWarnings, warning))
	}
	return updates, stats, nil
}

func (m *Machine) proposeDirections(ctx context.Context, r *run) ([]schemas.ResearchDirection, string) {
	prompt, err := m.prompts.Render(schemas.PhaseMetaAnalysis, map[string]any{
		"TaskDescription":   r.state.Input.TaskDescription,
		"DomainContext":     r.state.Input.DomainContext,
		"ReferenceMaterial": r.state.Input.ReferenceMaterial,
		"BaselineState":     r.state.Input.BaselineState,
		"YearsInFuture":     r.state.Input.YearsInFuture,
		"DirectionCount":    r.resolved.directions,
	})
	if err == nil {
		var text string
		text, err = m.invoker.Call(ctx, m.request(r, prompt, true))
		if err == nil {
			var payloads []directionPayload
			payloads, err = parseDirections(text)
			if err == nil {
				return directionsFromPayloads(payloads, r.resolved.directions), ""
			}
		}
	}

	m.logger.Warn("Meta-analysis failed, using fallback directions", zap.Error(err))
	return fallbackDirections(r.resolved.directions), fmt.Sprintf("meta_analysis fell back to generic directions: %v", err)
}

// directionsFromPayloads truncates or pads the provider's proposal to the
// resolved direction count and assigns indexes in proposal order.
func directionsFromPayloads(payloads []directionPayload, want int) []schemas.ResearchDirection {
	if len(payloads) > want {
		payloads = payloads[:want]
	}
	out := make([]schemas.ResearchDirection, 0, want)
	for i, p := range payloads {
		out = append(out, schemas.ResearchDirection{
			Index:          i,
			Name:           p.Name,
			CoreAssumption: p.CoreAssumption,
			Focus:          p.Focus,
		})
	}
	for i := len(out); i < want; i++ {
		out = append(out, fallbackDirection(i))
	}
	return out
}

func fallbackDirections(count int) []schemas.ResearchDirection {
	out := make([]schemas.ResearchDirection, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, fallbackDirection(i))
	}
	return out
}

func fallbackDirection(index int) schemas.ResearchDirection {
	return schemas.ResearchDirection{
		Index:          index,
		Name:           fmt.Sprintf("direction-%d", index+1),
		CoreAssumption: "no meta-analysis available",
		Focus:          "independent exploration of the task",
	}
}

// runMetaReview selects the final representatives and synthesizes the
// competition summary. A provider failure degrades to a local summary.
func (m *Machine) runMetaReview(ctx context.Context, r *run) ([]Update, schemas.PhaseStatistics, error) {
	s := r.state
	reps := make([]schemas.Scenario, 0, len(s.Winners))
	for _, idx := range sortedWinnerIndexes(s.Winners) {
		if sc, ok := s.Scenarios[s.Winners[idx]]; ok {
			reps = append(reps, sc)
		}
	}

	stats := schemas.PhaseStatistics{}
	summary := m.localSummary(r, reps)
	if len(reps) > 0 {
		stats.Dispatched = 1
		if synthesized, err := m.synthesizeSummary(ctx, r, reps); err != nil {
			m.logger.Warn("Meta-review synthesis failed, using local summary", zap.Error(err))
			stats.Failed = 1
		} else {
			summary = synthesized
			stats.Succeeded = 1
		}
	}

	updates := []Update{
		Override(FieldFinalRepresentatives, reps),
		Override(FieldSummary, summary),
	}
	return updates, stats, nil
}

func (m *Machine) synthesizeSummary(ctx context.Context, r *run, reps []schemas.Scenario) (string, error) {
	var names, repTexts []string
	for _, idx := range sortedDirectionIndexes(r.state.Directions) {
		names = append(names, r.state.Directions[idx].Name)
	}
	for _, sc := range reps {
		repTexts = append(repTexts, fmt.Sprintf("[%s] %s", sc.ID, sc.Content))
	}

	prompt, err := m.prompts.Render(schemas.PhaseMetaReview, map[string]any{
		"TaskDescription": r.state.Input.TaskDescription,
		"DirectionNames":  strings.Join(names, ", "),
		"Representatives": strings.Join(repTexts, "\n\n"),
	})
	if err != nil {
		return "", err
	}
	return m.invoker.Call(ctx, m.request(r, prompt, false))
}

// localSummary is the degraded synthesis used when the provider is
// unavailable: a plain accounting of what survived.
func (m *Machine) localSummary(r *run, reps []schemas.Scenario) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tournament completed with %d of %d directions producing a final representative.",
		len(reps), r.resolved.directions)
	for _, sc := range reps {
		if d, ok := r.state.Directions[sc.DirectionIndex]; ok {
			fmt.Fprintf(&sb, " Direction %q is represented by scenario %s (rating %.0f).",
				d.Name, sc.ID, r.state.Ratings[sc.ID])
		}
	}
	return sb.String()
}

// request builds the common provider request for this run.
func (m *Machine) request(r *run, prompt string, forceJSON bool) schemas.GenerationRequest {
	model := r.state.Input.ModelName
	if model == "" {
		model = m.cfg.LLM.Model
	}
	return schemas.GenerationRequest{
		UserPrompt:      prompt,
		Model:           model,
		MaxTokens:       m.cfg.LLM.MaxTokens,
		Temperature:     m.cfg.LLM.Temperature,
		ForceJSONFormat: forceJSON,
		MaxRetries:      r.resolved.maxRetries,
		Seed:            r.rc.Seed,
	}
}

func sortedDirectionIndexes(directions map[int]schemas.ResearchDirection) []int {
	out := make([]int, 0, len(directions))
	for idx := range directions {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func sortedWinnerIndexes(winners map[int]schemas.ScenarioID) []int {
	out := make([]int, 0, len(winners))
	for idx := range winners {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
