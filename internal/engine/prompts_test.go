package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/crucible/api/schemas"
)

func TestTemplateSupplierRender(t *testing.T) {
	t.Parallel()

	ts, err := NewTemplateSupplier()
	require.NoError(t, err)

	t.Run("meta analysis includes optional fields only when set", func(t *testing.T) {
		t.Parallel()
		prompt, err := ts.Render(schemas.PhaseMetaAnalysis, map[string]any{
			"TaskDescription": "design a settlement",
			"DomainContext":   "arid exoplanet",
			"DirectionCount":  3,
			"YearsInFuture":   50,
		})
		require.NoError(t, err)
		assert.Contains(t, prompt, "design a settlement")
		assert.Contains(t, prompt, "Propose exactly 3 distinct")
		assert.Contains(t, prompt, "50 years in the future")
		assert.NotContains(t, prompt, "Reference material")
	})

	t.Run("evolution tournament reuses the tournament template", func(t *testing.T) {
		t.Parallel()
		params := map[string]any{
			"TaskDescription": "t",
			"DirectionName":   "d",
			"ScenarioA":       "first",
			"ScenarioB":       "second",
		}
		a, err := ts.Render(schemas.PhaseTournament, params)
		require.NoError(t, err)
		b, err := ts.Render(schemas.PhaseEvolutionTournament, params)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("unknown phase errors", func(t *testing.T) {
		t.Parallel()
		_, err := ts.Render(schemas.Phase("debate"), nil)
		assert.Error(t, err)
	})
}
