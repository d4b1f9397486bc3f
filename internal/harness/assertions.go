package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Expectation that failed
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		if event.Error != "" {
			fmt.Fprintf(&buf, "  [%d] step %d %s error=%s\n", i+1, event.Step, event.Event, event.Error)
			continue
		}
		fmt.Fprintf(&buf, "  [%d] step %d %s\n", i+1, event.Step, event.Event)
	}

	return buf.String()
}

// EvaluateExpect checks every expectation against the result and returns
// the failure messages.
func EvaluateExpect(result *Result, expect Expect) []string {
	var failures []string
	for _, err := range []error{
		assertNotifications(result, expect.Notifications),
		assertRecords(result, expect.Records),
		assertErrors(result, expect.Errors),
	} {
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertNotifications checks the exact notification sequence.
func assertNotifications(result *Result, want []string) error {
	if want == nil {
		return nil
	}
	got := result.Notifications()
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     "notifications",
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    result.Trace,
	}
}

// assertRecords checks the listed record counts. Kinds are reported in
// sorted order so failures are stable.
func assertRecords(result *Result, want map[string]int) error {
	kinds := make([]string, 0, len(want))
	for kind := range want {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var mismatches []string
	for _, kind := range kinds {
		if got := result.Records[kind]; got != want[kind] {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %d, got %d", kind, want[kind], got))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     "records",
		Expected: "record counts as listed",
		Actual:   strings.Join(mismatches, "; "),
		Trace:    result.Trace,
	}
}

// assertErrors checks the exact sequence of error codes.
func assertErrors(result *Result, want []string) error {
	if want == nil {
		return nil
	}
	got := result.ErrorCodes()
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     "errors",
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    result.Trace,
	}
}
