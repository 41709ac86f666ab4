// File: internal/engine/prompts.go
// Description: The default prompt supplier. Templates are opaque data to the
// engine; Render is a pure function of (phase, params) with no side effects.
package engine

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/xkilldash9x/crucible/api/schemas"
)

const metaAnalysisTemplate = `You are designing a competitive scenario tournament.
Task: {{.TaskDescription}}
Domain context: {{.DomainContext}}
{{- if .ReferenceMaterial}}
Reference material: {{.ReferenceMaterial}}
{{- end}}
{{- if .BaselineState}}
Baseline state: {{.BaselineState}}
{{- end}}
{{- if .YearsInFuture}}
Time horizon: {{.YearsInFuture}} years in the future.
{{- end}}

Propose exactly {{.DirectionCount}} distinct research directions. Respond with a JSON
array where each element has the keys "name", "core_assumption" and "focus".`

const generationTemplate = `You are team {{.TeamIndex}} generating a candidate scenario.
Task: {{.TaskDescription}}
Domain context: {{.DomainContext}}
Research direction: {{.DirectionName}}
Core assumption: {{.CoreAssumption}}
Focus: {{.Focus}}
{{- if .BaselineState}}
Baseline state: {{.BaselineState}}
{{- end}}

Write one complete, self-contained scenario that commits fully to this direction.`

const reflectionTemplate = `You are a reviewer for the "{{.Domain}}" domain.
Task: {{.TaskDescription}}
Scenario:
{{.ScenarioContent}}

Critique this scenario strictly from the {{.Domain}} perspective. Respond with a
JSON object with the keys "content" (your critique), "severity_score" (integer
1-10, how serious the weaknesses are) and "quality_score" (number 1-100, the
scenario's quality in this domain).`

const tournamentTemplate = `You are judging a head-to-head scenario match.
Task: {{.TaskDescription}}
Research direction: {{.DirectionName}}

Scenario A:
{{.ScenarioA}}

Scenario B:
{{.ScenarioB}}

Pick the stronger scenario. Respond with a JSON object with the keys "winner"
("A" or "B"), "reasoning" and "criteria_scores" (object of criterion name to
numeric score).`

const evolutionTemplate = `You are improving a winning scenario using the strategy "{{.Strategy}}".
Task: {{.TaskDescription}}
Original scenario:
{{.ScenarioContent}}

Aggregated reviewer feedback:
{{.Feedback}}

Produce an improved version. Respond with a JSON object with the keys
"evolved_content" and "improvements" (array of short strings naming what changed).`

const metaReviewTemplate = `You are synthesizing the results of a scenario tournament.
Task: {{.TaskDescription}}
Research directions: {{.DirectionNames}}

Final representatives:
{{.Representatives}}

Write a concise synthesis comparing the final representatives, naming the key
tensions between directions and the strongest overall result.`

// TemplateSupplier implements schemas.PromptSupplier with text/template.
type TemplateSupplier struct {
	templates map[schemas.Phase]*template.Template
}

// NewTemplateSupplier parses the built-in phase templates.
func NewTemplateSupplier() (*TemplateSupplier, error) {
	sources := map[schemas.Phase]string{
		schemas.PhaseMetaAnalysis: metaAnalysisTemplate,
		schemas.PhaseGeneration:   generationTemplate,
		schemas.PhaseReflection:   reflectionTemplate,
		schemas.PhaseTournament:   tournamentTemplate,
		schemas.PhaseEvolution:    evolutionTemplate,
		schemas.PhaseMetaReview:   metaReviewTemplate,
	}

	templates := make(map[schemas.Phase]*template.Template, len(sources))
	for phase, src := range sources {
		t, err := template.New(string(phase)).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", phase, err)
		}
		templates[phase] = t
	}
	return &TemplateSupplier{templates: templates}, nil
}

// Render substitutes params into the phase template. The evolution tournament
// reuses the tournament template.
func (ts *TemplateSupplier) Render(phase schemas.Phase, params map[string]any) (string, error) {
	if phase == schemas.PhaseEvolutionTournament {
		phase = schemas.PhaseTournament
	}
	t, ok := ts.templates[phase]
	if !ok {
		return "", fmt.Errorf("no template registered for phase %s", phase)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, params); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", phase, err)
	}
	return sb.String(), nil
}
