// Package tracker is the context object the host talks to.
//
// A Tracker owns the task loop, the observer list and the per-backend
// session (log, correlator, device flow and time sync). Every exported
// method is safe for concurrent use: work is executed on the loop goroutine
// via loop.Call, so the loop must be driven by Run.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/gamelink/internal/correlate"
	"github.com/roach88/gamelink/internal/deviceflow"
	"github.com/roach88/gamelink/internal/gateway"
	"github.com/roach88/gamelink/internal/loop"
	"github.com/roach88/gamelink/internal/notify"
	"github.com/roach88/gamelink/internal/sessionlog"
	"github.com/roach88/gamelink/internal/timesync"
	"github.com/roach88/gamelink/internal/token"
)

// ErrUnknownTarget is returned by SwitchBackend for targets the resolver
// does not know.
var ErrUnknownTarget = errors.New("unknown backend target")

// Backend is one backend target.
type Backend struct {
	Name          string
	Gateway       gateway.Gateway
	WebpageDomain string
}

// Resolver maps a target name to a Backend.
type Resolver func(target string) (Backend, error)

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock driving timers and timestamps.
func WithClock(c loop.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithResolver sets the resolver used by SwitchBackend.
func WithResolver(r Resolver) Option {
	return func(t *Tracker) {
		t.resolve = r
	}
}

// WithTokenDecoder sets the module_data decoder. Defaults to a decoder
// without signature verification.
func WithTokenDecoder(d correlate.TokenDecoder) Option {
	return func(t *Tracker) {
		t.tokens = d
	}
}

// WithMirror forwards every appended record to m.
func WithMirror(m sessionlog.Mirror) Option {
	return func(t *Tracker) {
		t.mirror = m
	}
}

// WithPollInterval sets the device flow poll and retry delay.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.pollInterval = d
	}
}

// WithTimeSyncRetry sets the server time retry delay.
func WithTimeSyncRetry(d time.Duration) Option {
	return func(t *Tracker) {
		t.timeSyncRetry = d
	}
}

// Tracker is the facade over one tracking context.
type Tracker struct {
	loop *loop.Loop
	hub  *notify.Hub

	clock         loop.Clock
	resolve       Resolver
	tokens        correlate.TokenDecoder
	mirror        sessionlog.Mirror
	pollInterval  time.Duration
	timeSyncRetry time.Duration

	// session is only touched on the loop goroutine.
	session *session
}

// New creates a tracker bound to backend. Call Run to start processing.
func New(backend Backend, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		hub:           notify.NewHub(),
		pollInterval:  deviceflow.DefaultPollInterval,
		timeSyncRetry: timesync.DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.tokens == nil {
		t.tokens = token.NewDecoder(nil)
	}
	t.loop = loop.New(t.clock)
	t.clock = t.loop.Clock()

	s, err := t.newSession(backend)
	if err != nil {
		return nil, err
	}
	t.session = s
	return t, nil
}

// Run processes work until ctx is cancelled or Close is called.
func (t *Tracker) Run(ctx context.Context) error {
	return t.loop.Run(ctx)
}

// Quiesce waits until no work is queued or in flight. Pending timers do not
// count.
func (t *Tracker) Quiesce(ctx context.Context) error {
	return t.loop.Quiesce(ctx)
}

// Subscribe registers fn for every notification. Observers run on the loop
// goroutine and must not block.
func (t *Tracker) Subscribe(fn notify.Observer) (unsubscribe func()) {
	return t.hub.Subscribe(fn)
}

// Close stops the session, drops all observers and stops the loop. Work
// already queued still runs if Run is active; its notifications are dropped.
func (t *Tracker) Close() {
	t.loop.Post(func() {
		t.session.stop()
	})
	t.hub.Close()
	t.loop.Stop()
	slog.Info("tracker closed")
}

// SwitchBackend stops the current session and replaces it, log included,
// with a fresh one bound to target.
func (t *Tracker) SwitchBackend(ctx context.Context, target string) error {
	if t.resolve == nil {
		return fmt.Errorf("%w: %s (no resolver)", ErrUnknownTarget, target)
	}
	backend, err := t.resolve(target)
	if err != nil {
		return err
	}

	var buildErr error
	if err := t.loop.Call(ctx, func() {
		next, err := t.newSession(backend)
		if err != nil {
			buildErr = err
			return
		}
		prev := t.session
		prev.stop()
		t.session = next

		slog.Info("backend switched",
			"from", prev.backend.Name,
			"to", next.backend.Name,
			"log_id", next.log.ID(),
		)
	}); err != nil {
		return err
	}
	return buildErr
}
