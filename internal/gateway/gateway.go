// Package gateway defines the network boundary of the tracker: the backend
// operations it consumes and the outcome taxonomy their failures map to.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gateway is the set of backend operations the tracker consumes.
//
// Methods block until the backend answers and may be called from any
// goroutine; the tracker only ever calls them from loop.Async work.
// Every failure is reported as an *Error (see OutcomeOf).
type Gateway interface {
	// AnnounceDeviceFlow registers a new device flow and returns the URL a
	// secondary device must open to confirm the login.
	AnnounceDeviceFlow(ctx context.Context) (DeviceFlow, error)

	// GetDeviceFlowStatus reports whether the flow announced under
	// deviceCode was confirmed.
	GetDeviceFlowStatus(ctx context.Context, deviceCode string) (DeviceFlowStatus, error)

	// GetLoginToken issues a one-time login token for userID. userID must
	// not be empty.
	GetLoginToken(ctx context.Context, userID string) (string, error)

	// GetOrganisation returns organisation details. An empty organisationID
	// asks for the organisation of the user confirmed by the device flow.
	GetOrganisation(ctx context.Context, organisationID string) (Organisation, error)

	// GetServerTime returns the backend's current time.
	GetServerTime(ctx context.Context) (time.Time, error)

	// EndModuleSession reports a finished module session.
	EndModuleSession(ctx context.Context, req EndModuleSession) error
}

// DeviceFlow is the result of announcing a device flow.
type DeviceFlow struct {
	DeviceCode string `json:"device_code"`
	LoginURL   string `json:"login_url"`
}

// DeviceFlowStatus is the result of polling a device flow.
type DeviceFlowStatus struct {
	Validated bool   `json:"validated"`
	UserID    string `json:"user_id"`
}

// Organisation holds organisation details.
type Organisation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

// EndModuleSession is the request body for ending a module session.
type EndModuleSession struct {
	ModuleSessionID string    `json:"-"`
	ServerTime      time.Time `json:"server_time"`
	Score           int64     `json:"score"`
	Completed       bool      `json:"is_completed"`
}

// Outcome classifies the result of a gateway operation.
type Outcome int

const (
	// Success means the operation returned a usable result.
	Success Outcome = iota
	// ConnectionFailure means the backend could not be reached.
	ConnectionFailure
	// ProtocolFailure means the backend answered with something unusable.
	ProtocolFailure
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case ConnectionFailure:
		return "connection_failure"
	case ProtocolFailure:
		return "protocol_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Error is a failed gateway operation.
type Error struct {
	Op      string
	Outcome Outcome
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Outcome, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Outcome)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ConnectionError creates an Error with ConnectionFailure outcome.
func ConnectionError(op string, err error) *Error {
	return &Error{Op: op, Outcome: ConnectionFailure, Err: err}
}

// ProtocolError creates an Error with ProtocolFailure outcome.
func ProtocolError(op string, err error) *Error {
	return &Error{Op: op, Outcome: ProtocolFailure, Err: err}
}

// OutcomeOf maps err to an outcome. Errors that are not *Error count as
// connection failures when caused by cancellation or deadlines and as
// protocol failures otherwise.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Success
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Outcome
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ConnectionFailure
	}
	return ProtocolFailure
}
