// File: cmd/run_test.go
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/crucible/api/schemas"
)

func TestWriteOutputToFile(t *testing.T) {
	t.Parallel()

	output := &schemas.RunOutput{
		RunID:              "run-1",
		CompetitionSummary: "summary",
		FinalRepresentatives: []schemas.Scenario{
			{ID: "d0:t2", DirectionIndex: 0, Content: "winning scenario"},
		},
	}

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeOutput(path, output))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded schemas.RunOutput
	require.NoError(t, jsoniter.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	require.Len(t, decoded.FinalRepresentatives, 1)
	assert.Equal(t, schemas.ScenarioID("d0:t2"), decoded.FinalRepresentatives[0].ID)
}

func TestWriteOutputToStdout(t *testing.T) {
	t.Parallel()

	// An empty path prints to stdout and must not error.
	assert.NoError(t, writeOutput("", &schemas.RunOutput{RunID: "run-2"}))
}

func TestRunCommandRequiresTask(t *testing.T) {
	t.Parallel()

	cmd := newRunCmd()
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	assert.Error(t, err)
}
