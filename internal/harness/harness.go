package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/roach88/gamelink/internal/correlate"
	"github.com/roach88/gamelink/internal/gateway"
	"github.com/roach88/gamelink/internal/ingest"
	"github.com/roach88/gamelink/internal/loop"
	"github.com/roach88/gamelink/internal/notify"
	"github.com/roach88/gamelink/internal/testutil"
	"github.com/roach88/gamelink/internal/tracker"
)

// runTimeout bounds a whole scenario. Scenarios never wait on real time,
// so hitting it means the tracker did not quiesce.
const runTimeout = 30 * time.Second

// Harness executes one scenario against a fresh tracker.
type Harness struct {
	tracker *tracker.Tracker
	clock   *testutil.FakeClock
	trace   *traceRecorder
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh tracker with a fake clock and a
// scripted gateway. Execution flow:
//  1. Build the gateway from the scenario's scripts
//  2. Run each step, then wait until the tracker is quiescent
//  3. Count the session log by kind
//  4. Evaluate expectations
//
// An error is returned only if the scenario could not be executed;
// expectation failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	start := scenario.Start
	if start.IsZero() {
		start = DefaultStart
	}
	domain := scenario.WebpageDomain
	if domain == "" {
		domain = DefaultWebpageDomain
	}

	clock := testutil.NewFakeClock(start)
	tr, err := tracker.New(
		tracker.Backend{Name: scenario.Name, Gateway: scenario.scriptGateway(), WebpageDomain: domain},
		tracker.WithClock(clock),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = tr.Run(ctx)
	}()
	defer func() {
		tr.Close()
		cancel()
		<-runDone
	}()

	h := &Harness{tracker: tr, clock: clock, trace: &traceRecorder{}}
	unsubscribe := tr.Subscribe(h.observe)
	defer unsubscribe()

	for i, step := range scenario.Steps {
		h.trace.setStep(i + 1)
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := tr.Quiesce(ctx); err != nil {
			return nil, fmt.Errorf("step %d: tracker did not settle: %w", i+1, err)
		}
	}

	result := NewResult()
	result.Trace = h.trace.snapshot()

	records, err := tr.Log(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}
	for _, rec := range records {
		result.Records[string(rec.Kind)]++
	}

	for _, msg := range EvaluateExpect(result, scenario.Expect) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) observe(n notify.Notification) {
	h.trace.add(TraceEvent{Event: n.Name(), Data: n, notification: true})
}

// execute runs one step. Errors the tracker reports about a message or
// command are traced; only failures to reach the tracker are returned.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Message != nil:
		raw, err := json.Marshal(step.Message)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		return h.send(ctx, raw)

	case step.Raw != "":
		return h.send(ctx, []byte(step.Raw))

	case step.Advance > 0:
		h.clock.Advance(step.Advance)
		return nil

	case step.Command != "":
		return h.command(ctx, step)
	}
	return errors.New("empty step")
}

func (h *Harness) send(ctx context.Context, raw []byte) error {
	err := h.tracker.HandleMessage(ctx, raw)
	if err == nil {
		return nil
	}
	if errors.Is(err, loop.ErrClosed) || ctx.Err() != nil {
		return err
	}
	h.trace.add(TraceEvent{Event: EventError, Error: ErrorCode(err)})
	return nil
}

func (h *Harness) command(ctx context.Context, step Step) error {
	switch step.Command {
	case CommandStartDeviceFlow:
		return h.tracker.StartDeviceFlow(ctx, func(loginURL string) {
			h.trace.add(TraceEvent{Event: EventDeviceFlowStarted, Data: map[string]string{"login_url": loginURL}})
		})
	case CommandStopDeviceFlow:
		return h.tracker.StopDeviceFlow(ctx)
	case CommandSyncServerTime:
		return h.tracker.SyncServerTime(ctx)
	case CommandEndModuleSession:
		return h.tracker.EndModuleSession(ctx, step.Score, step.Completed, func(err error) {
			h.trace.add(TraceEvent{Event: EventEndModuleSession, Error: ErrorCode(err)})
		})
	default:
		return fmt.Errorf("unknown command %q", step.Command)
	}
}

// ErrorCode reduces err to a stable code: the ingestion error code,
// TOKEN_DECODE, NO_MODULE_SESSION, or the upper-cased gateway outcome.
// Other errors keep their message. A nil error has the empty code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var ie *ingest.Error
	if errors.As(err, &ie) {
		return string(ie.Code)
	}
	if errors.Is(err, correlate.ErrTokenDecode) {
		return "TOKEN_DECODE"
	}
	if errors.Is(err, tracker.ErrNoModuleSession) {
		return "NO_MODULE_SESSION"
	}
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return strings.ToUpper(ge.Outcome.String())
	}
	return err.Error()
}
