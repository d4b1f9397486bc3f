package cli

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamelink/internal/record"
	"github.com/roach88/gamelink/internal/sessionlog"
)

// createTraceJournal writes two logs worth of records to a fresh journal.
func createTraceJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := sessionlog.OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []struct {
		log string
		rec record.Record
	}{
		{"log-1", record.Record{Seq: 1, Kind: record.KindPageView, Attributes: record.PageView{Session: record.Session{OrganisationID: "org-1"}}, CapturedAt: at}},
		{"log-1", record.Record{Seq: 2, Kind: record.KindLoginTokenIssued, Attributes: record.LoginTokenIssued{Token: "otl-1"}, CapturedAt: at.Add(time.Second)}},
		{"log-2", record.Record{Seq: 1, Kind: record.KindPageView, Attributes: record.PageView{}, CapturedAt: at.Add(time.Minute)}},
	}
	for _, r := range recs {
		require.NoError(t, j.Write(t.Context(), r.log, r.rec))
	}
	return path
}

func TestTrace_Text(t *testing.T) {
	path := createTraceJournal(t)

	out, _, err := executeCommand(t, "trace", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Log log-1")
	assert.Contains(t, out, "Log log-2")
	assert.Contains(t, out, "[2] 2026-01-01T12:00:01.000Z loginTokenIssued")
	assert.Contains(t, out, "3 records in 2 logs")
}

func TestTrace_JSONWithFilters(t *testing.T) {
	path := createTraceJournal(t)

	tests := []struct {
		name      string
		args      []string
		wantTotal int
		wantLogs  int
	}{
		{"all", nil, 3, 2},
		{"by_log", []string{"--log", "log-1"}, 2, 1},
		{"by_kind", []string{"--kind", "pageView"}, 2, 2},
		{"both", []string{"--log", "log-2", "--kind", "loginTokenIssued"}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"trace", path, "--format", "json"}, tt.args...)
			out, _, err := executeCommand(t, args...)
			require.NoError(t, err)

			var resp struct {
				Data TraceResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Len(t, resp.Data.Entries, tt.wantTotal)
			assert.Equal(t, tt.wantTotal, resp.Data.Stats.Total)
			assert.Equal(t, tt.wantLogs, resp.Data.Stats.Logs)
		})
	}
}

func TestTrace_GzipExport(t *testing.T) {
	path := createTraceJournal(t)
	outPath := filepath.Join(t.TempDir(), "records.jsonl.gz")

	out, _, err := executeCommand(t, "trace", path, "--kind", "pageView", "--out", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 records to "+outPath)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var entries []sessionlog.Entry
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var e sessionlog.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, "log-1", entries[0].LogID)
	assert.Equal(t, record.KindPageView, entries[0].Kind)
	assert.JSONEq(t, `{"organisation_id":"org-1"}`, string(entries[0].Attributes))
	assert.Equal(t, "log-2", entries[1].LogID)
}

func TestTrace_MissingJournal(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")

	_, _, err := executeCommand(t, "trace", missing)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTrace_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := sessionlog.OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	out, _, err := executeCommand(t, "trace", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No records found.")
}
