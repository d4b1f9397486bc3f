package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gamelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultTarget, cfg.Target)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultTimeSyncRetry, cfg.TimeSyncRetry)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Empty(t, cfg.Journal)
	assert.Empty(t, cfg.TokenSecret)
	assert.Empty(t, cfg.AllowedOrigins)

	prod, err := cfg.Backend("production")
	require.NoError(t, err)
	assert.Equal(t, "gamelink.app/", prod.WebpageDomain)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
target: staging
poll_interval: 2s
journal: /tmp/journal.db
allowed_origins:
  - https://host.example.com
targets:
  staging:
    api_url: https://api.staging.example.com/
    webpage_domain: staging.example.com/
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Target)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "/tmp/journal.db", cfg.Journal)
	assert.Equal(t, []string{"https://host.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, []string{"production", "staging"}, cfg.TargetNames())

	staging, err := cfg.Backend("Staging")
	require.NoError(t, err)
	assert.Equal(t, "https://api.staging.example.com/", staging.APIURL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GAMELINK_POLL_INTERVAL", "10s")
	t.Setenv("GAMELINK_TOKEN_SECRET", "s3cret")
	t.Setenv("GAMELINK_TARGETS_PRODUCTION_API_URL", "https://override.example.com/")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, "s3cret", cfg.TokenSecret)
	prod, err := cfg.Backend("production")
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com/", prod.APIURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown target",
			content: "target: nowhere\n",
			wantErr: `unknown target "nowhere"`,
		},
		{
			name:    "relative api url",
			content: "targets:\n  dev:\n    api_url: /api\n    webpage_domain: dev/\n",
			wantErr: "targets.dev.api_url",
		},
		{
			name:    "missing webpage domain",
			content: "targets:\n  dev:\n    api_url: http://localhost:9000/\n",
			wantErr: "targets.dev.webpage_domain",
		},
		{
			name:    "bare host origin",
			content: "allowed_origins:\n  - host.example.com\n",
			wantErr: "allowed_origins",
		},
		{
			name:    "zero poll interval",
			content: "poll_interval: 0s\n",
			wantErr: "poll_interval",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
