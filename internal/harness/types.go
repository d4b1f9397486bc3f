package harness

import "sync"

// Harness trace events that are not notifications.
const (
	EventDeviceFlowStarted = "deviceFlowStarted"
	EventEndModuleSession  = "endModuleSession"
	EventError             = "error"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	// Step is the 1-based index of the step that caused the event.
	Step int `json:"step"`
	// Event is a notification name or one of the Event* constants.
	Event string `json:"event"`
	// Data is the notification payload, if any.
	Data any `json:"data,omitempty"`
	// Error is a stable error code for failed events.
	Error string `json:"error,omitempty"`

	notification bool
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation held.
	Pass bool `json:"pass"`

	// Trace contains every event in the order it was raised.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Records counts the final session log by record kind.
	Records map[string]int `json:"records"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Records: make(map[string]int),
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Notifications returns the names of the notification events in the trace.
func (r *Result) Notifications() []string {
	names := []string{}
	for _, e := range r.Trace {
		if e.notification {
			names = append(names, e.Event)
		}
	}
	return names
}

// ErrorCodes returns the error codes in the trace, in order.
func (r *Result) ErrorCodes() []string {
	codes := []string{}
	for _, e := range r.Trace {
		if e.Error != "" {
			codes = append(codes, e.Error)
		}
	}
	return codes
}

// traceRecorder collects events from the runner and the tracker's loop.
type traceRecorder struct {
	mu     sync.Mutex
	step   int
	events []TraceEvent
}

func (r *traceRecorder) setStep(step int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step = step
}

func (r *traceRecorder) add(e TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Step = r.step
	r.events = append(r.events, e)
}

func (r *traceRecorder) snapshot() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent{}, r.events...)
}
