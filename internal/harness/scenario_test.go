package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamelink/internal/gateway"
	"github.com/roach88/gamelink/internal/testutil"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
start: 2026-02-01T10:00:00Z
gateway:
  get_server_time:
    - outcome: connection_failure
    - server_time: 2026-02-01T10:00:30Z
steps:
  - message: {data: {type: pageView, attributes: {organisation_id: null, user_id: null}}}
  - command: syncServerTime
  - advance: 5s
  - command: endModuleSession
    score: 3
    completed: true
expect:
  notifications: [pageViewed]
  records: {pageView: 1}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), scenario.Start)
	require.Len(t, scenario.Steps, 4)
	assert.Equal(t, "pageView", scenario.Steps[0].Message["data"].(map[string]any)["type"])
	assert.Equal(t, CommandSyncServerTime, scenario.Steps[1].Command)
	assert.Equal(t, 5*time.Second, scenario.Steps[2].Advance)
	assert.Equal(t, int64(3), scenario.Steps[3].Score)
	assert.True(t, scenario.Steps[3].Completed)
	assert.Equal(t, []string{"pageViewed"}, scenario.Expect.Notifications)
	assert.Equal(t, map[string]int{"pageView": 1}, scenario.Expect.Records)

	replies := scenario.Gateway[string(testutil.OpServerTime)]
	require.Len(t, replies, 2)
	assert.Equal(t, "connection_failure", replies[0].Outcome)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 30, 0, time.UTC), replies[1].ServerTime)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: x\ndescription: y\nstep:\n  - advance: 1s\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			content: "description: y\nsteps:\n  - advance: 1s\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: x\nsteps:\n  - advance: 1s\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			content: "name: x\ndescription: y\n",
			wantErr: "steps list is required",
		},
		{
			name:    "two actions in one step",
			content: "name: x\ndescription: y\nsteps:\n  - advance: 1s\n    command: syncServerTime\n",
			wantErr: "steps[0]: exactly one of",
		},
		{
			name:    "empty step",
			content: "name: x\ndescription: y\nsteps:\n  - {}\n",
			wantErr: "steps[0]: exactly one of",
		},
		{
			name:    "unknown command",
			content: "name: x\ndescription: y\nsteps:\n  - command: selfDestruct\n",
			wantErr: `unknown command "selfDestruct"`,
		},
		{
			name:    "score without end",
			content: "name: x\ndescription: y\nsteps:\n  - command: syncServerTime\n    score: 4\n",
			wantErr: "score and completed only apply",
		},
		{
			name:    "unknown gateway op",
			content: "name: x\ndescription: y\ngateway:\n  fetch_weather: [{}]\nsteps:\n  - advance: 1s\n",
			wantErr: `unknown operation "fetch_weather"`,
		},
		{
			name:    "unknown outcome",
			content: "name: x\ndescription: y\ngateway:\n  get_server_time: [{outcome: maybe}]\nsteps:\n  - advance: 1s\n",
			wantErr: `gateway.get_server_time[0]: unknown outcome "maybe"`,
		},
		{
			name:    "unknown record kind",
			content: "name: x\ndescription: y\nsteps:\n  - advance: 1s\nexpect:\n  records: {quizAnswered: 1}\n",
			wantErr: `unknown record kind "quizAnswered"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestScriptGateway(t *testing.T) {
	scenario := &Scenario{
		Gateway: map[string][]ReplySpec{
			string(testutil.OpOrganisation): {
				{Outcome: "protocol_failure"},
				{Organisation: &OrganisationSpec{ID: "org-1", Name: "Acme", Subdomain: "acme"}},
			},
		},
	}
	gw := scenario.scriptGateway()

	_, err := gw.GetOrganisation(t.Context(), "org-1")
	assert.Equal(t, gateway.ProtocolFailure, gateway.OutcomeOf(err))

	org, err := gw.GetOrganisation(t.Context(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, gateway.Organisation{ID: "org-1", Name: "Acme", Subdomain: "acme"}, org)
}
