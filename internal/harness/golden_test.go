package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios against its
// golden trace.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "scenario name must match its file name")

			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestMarshalSnapshot(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Step: 2, Event: EventError, Error: "MALFORMED_ENVELOPE"},
	}

	out, err := MarshalSnapshot("tiny", result)
	require.NoError(t, err)
	assert.Equal(t, `{
  "scenario": "tiny",
  "trace": [
    {
      "step": 2,
      "event": "error",
      "error": "MALFORMED_ENVELOPE"
    }
  ]
}
`, string(out))
}
