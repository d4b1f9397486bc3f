package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/roach88/gamelink/internal/record"
	"github.com/roach88/gamelink/internal/sessionlog"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	LogID string // optional - filter to one session log
	Kind  string // optional - filter to one record kind
	Out   string // optional - write gzip JSONL here instead of printing
}

// TraceResult holds the journal entries and summary statistics.
type TraceResult struct {
	Entries []sessionlog.Entry `json:"entries"`
	Stats   TraceStats         `json:"stats"`
}

// TraceStats summarises the selected entries.
type TraceStats struct {
	Total  int            `json:"total"`
	Logs   int            `json:"logs"`
	ByKind map[string]int `json:"by_kind"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <journal.db>",
		Short: "Inspect the session journal",
		Long: `Print the records mirrored to a session journal.

Records are listed in journal order: by session log, then sequence
number. With --out the selected records are written as gzip-compressed
JSON lines instead.

Examples:
  gamelink trace ./gamelink.db
  gamelink trace ./gamelink.db --kind loginTokenIssued
  gamelink trace ./gamelink.db --log 0190f0e4-... --format json
  gamelink trace ./gamelink.db --out records.jsonl.gz`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.LogID, "log", "", "filter to one session log id")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one record kind")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write gzip JSONL to this file")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if ctx == nil {
		ctx = context.Background()
	}

	// OpenJournal would create a missing file.
	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "journal not found", err))
	}
	j, err := sessionlog.OpenJournal(path)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to open journal", err))
	}
	defer j.Close()

	all, err := j.ReadAll(ctx)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to read journal", err))
	}
	entries := filterEntries(all, opts.LogID, record.Kind(opts.Kind))
	formatter.VerboseLog("read %d records from %s, %d selected", len(all), path, len(entries))
	result := TraceResult{Entries: entries, Stats: traceStats(entries)}

	if opts.Out != "" {
		if err := writeGzipJSONL(opts.Out, entries); err != nil {
			return formatter.Fail(WrapExitError(ExitCommandError, "failed to write export", err))
		}
		if opts.Format == "json" {
			return formatter.Success(map[string]any{
				"out":   opts.Out,
				"stats": result.Stats,
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d records to %s\n", len(entries), opts.Out)
		return nil
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	outputTraceText(cmd.OutOrStdout(), result)
	return nil
}

func filterEntries(entries []sessionlog.Entry, logID string, kind record.Kind) []sessionlog.Entry {
	out := make([]sessionlog.Entry, 0, len(entries))
	for _, e := range entries {
		if logID != "" && e.LogID != logID {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	return out
}

func traceStats(entries []sessionlog.Entry) TraceStats {
	stats := TraceStats{Total: len(entries), ByKind: make(map[string]int)}
	logs := make(map[string]bool)
	for _, e := range entries {
		logs[e.LogID] = true
		stats.ByKind[string(e.Kind)]++
	}
	stats.Logs = len(logs)
	return stats
}

// writeGzipJSONL writes one JSON document per entry, gzip-compressed.
func writeGzipJSONL(path string, entries []sessionlog.Entry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	gz, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(gz)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			gz.Close()
			return fmt.Errorf("encode record %s/%d: %w", e.LogID, e.Seq, err)
		}
	}
	return gz.Close()
}

func outputTraceText(w io.Writer, result TraceResult) {
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "No records found.")
		return
	}

	currentLog := ""
	for _, e := range result.Entries {
		if e.LogID != currentLog {
			currentLog = e.LogID
			fmt.Fprintf(w, "Log %s\n", currentLog)
		}
		fmt.Fprintf(w, "  [%d] %s %s %s\n", e.Seq, e.CapturedAt.Format("2006-01-02T15:04:05.000Z07:00"), e.Kind, e.Attributes)
	}

	kinds := make([]string, 0, len(result.Stats.ByKind))
	for k := range result.Stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	fmt.Fprintf(w, "\n%d records in %d logs\n", result.Stats.Total, result.Stats.Logs)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-22s %d\n", k, result.Stats.ByKind[k])
	}
}
