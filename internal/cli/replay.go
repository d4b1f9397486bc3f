package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/gamelink/internal/gateway"
	"github.com/roach88/gamelink/internal/harness"
	"github.com/roach88/gamelink/internal/notify"
	"github.com/roach88/gamelink/internal/tracker"
)

// maxLineSize bounds a single JSONL message.
const maxLineSize = 4 * 1024 * 1024

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Strict bool // fail when any message is rejected
}

// ReplayNotification is a notification raised while replaying.
type ReplayNotification struct {
	Line int    `json:"line"`
	Name string `json:"name"`
	Data any    `json:"data"`
}

// ReplayRejection is a message the tracker rejected.
type ReplayRejection struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	LogID         string               `json:"log_id"`
	Messages      int                  `json:"messages"`
	Records       int                  `json:"records"`
	Notifications []ReplayNotification `json:"notifications"`
	Rejected      []ReplayRejection    `json:"rejected"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <file.jsonl>",
		Short: "Feed recorded host messages through an offline tracker",
		Long: `Feed host message envelopes, one JSON document per line, through a
tracker with no backend and report the notifications raised.

Backend calls fail as if the network were down. Records are mirrored to
the configured journal, if any. Use "-" to read from stdin.

Exit codes:
  0 - Replay finished
  1 - Messages were rejected (--strict only)
  2 - Command error (file not found, invalid config, etc.)

Examples:
  gamelink replay session.jsonl
  gamelink replay session.jsonl --strict --format json
  cat session.jsonl | gamelink replay -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit with failure if any message is rejected")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if ctx == nil {
		ctx = context.Background()
	}

	in, err := openInput(path, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to open input", err))
	}
	defer in.Close()

	env, err := loadEnvironment(opts.RootOptions)
	if err != nil {
		return formatter.Fail(err)
	}
	defer env.Close()

	tr, err := env.newTracker(tracker.Backend{Name: "offline", Gateway: gateway.Offline{}, WebpageDomain: "offline/"})
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to create tracker", err))
	}
	stop := startTracker(ctx, tr)
	defer stop()

	result, err := replayLines(ctx, tr, in, formatter)
	if err != nil {
		return formatter.Fail(err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd.OutOrStdout(), result)
	}

	if opts.Strict && len(result.Rejected) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d messages rejected", len(result.Rejected), result.Messages))
	}
	return nil
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}

// replayLines sends every non-blank line of in to tr. Rejections are logged
// through formatter as they happen.
func replayLines(ctx context.Context, tr *tracker.Tracker, in io.Reader, formatter *OutputFormatter) (ReplayResult, error) {
	result := ReplayResult{
		Notifications: []ReplayNotification{},
		Rejected:      []ReplayRejection{},
	}

	var (
		mu   sync.Mutex
		line int
	)
	unsubscribe := tr.Subscribe(func(n notify.Notification) {
		mu.Lock()
		defer mu.Unlock()
		result.Notifications = append(result.Notifications, ReplayNotification{Line: line, Name: n.Name(), Data: n})
	})
	defer unsubscribe()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for n := 1; scanner.Scan(); n++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		mu.Lock()
		line = n
		mu.Unlock()

		result.Messages++
		if err := tr.HandleMessage(ctx, raw); err != nil {
			if ctx.Err() != nil {
				return result, WrapExitError(ExitCommandError, "replay interrupted", err)
			}
			rejection := ReplayRejection{Line: n, Code: harness.ErrorCode(err), Message: err.Error()}
			result.Rejected = append(result.Rejected, rejection)
			formatter.VerboseLog("line %d: rejected [%s] %s", n, rejection.Code, rejection.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return result, WrapExitError(ExitCommandError, "failed to read input", err)
	}

	if err := tr.Quiesce(ctx); err != nil {
		return result, WrapExitError(ExitCommandError, "tracker did not settle", err)
	}
	st, err := tr.State(ctx)
	if err != nil {
		return result, WrapExitError(ExitCommandError, "failed to read state", err)
	}
	result.LogID = st.LogID
	result.Records = st.Records

	mu.Lock()
	defer mu.Unlock()
	return result, nil
}

func outputReplayText(w io.Writer, result ReplayResult) {
	for _, n := range result.Notifications {
		data, err := json.Marshal(n.Data)
		if err != nil {
			data = []byte("?")
		}
		fmt.Fprintf(w, "line %d: %s %s\n", n.Line, n.Name, data)
	}
	for _, r := range result.Rejected {
		fmt.Fprintf(w, "line %d: rejected [%s] %s\n", r.Line, r.Code, r.Message)
	}
	fmt.Fprintf(w, "Replayed %d messages: %d notifications, %d rejected, %d records (log %s)\n",
		result.Messages, len(result.Notifications), len(result.Rejected), result.Records, result.LogID)
}
