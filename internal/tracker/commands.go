package tracker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/gamelink/internal/gateway"
	"github.com/roach88/gamelink/internal/loop"
	"github.com/roach88/gamelink/internal/notify"
	"github.com/roach88/gamelink/internal/record"
)

// ErrNoModuleSession is reported by EndModuleSession when no module session
// has been started.
var ErrNoModuleSession = errors.New("no module session started")

// HandleMessage ingests one raw host message and returns once it has been
// correlated. Malformed messages return an ingest.Error; a module_data
// decode failure returns an error wrapping correlate.ErrTokenDecode.
func (t *Tracker) HandleMessage(ctx context.Context, raw []byte) error {
	var handleErr error
	if err := t.loop.Call(ctx, func() {
		handleErr = t.session.ingester.Ingest(raw)
	}); err != nil {
		return err
	}
	return handleErr
}

// StartDeviceFlow begins a device flow login, superseding any current
// attempt. onStart runs on the loop goroutine with the login URL, or "" if
// the announce failed.
func (t *Tracker) StartDeviceFlow(ctx context.Context, onStart func(loginURL string)) error {
	return t.loop.Call(ctx, func() {
		t.session.login.Start(onStart)
	})
}

// StopDeviceFlow abandons the current device flow attempt.
func (t *Tracker) StopDeviceFlow(ctx context.Context) error {
	return t.loop.Call(ctx, func() {
		t.session.login.Stop()
	})
}

// SyncServerTime fetches the server time, retrying until it succeeds.
func (t *Tracker) SyncServerTime(ctx context.Context) error {
	return t.loop.Call(ctx, func() {
		t.session.time.FetchOffset()
	})
}

// EndModuleSession reports the current module session as finished, stamped
// with the reconstructed server time. done runs on the loop goroutine with
// the outcome; the report is not retried.
func (t *Tracker) EndModuleSession(ctx context.Context, score int64, completed bool, done func(error)) error {
	if done == nil {
		done = func(error) {}
	}
	return t.loop.Call(ctx, func() {
		s := t.session
		current, ok := s.log.LatestMatching(record.KindModuleSessionStarted, record.MatchAll)
		if !ok {
			done(ErrNoModuleSession)
			return
		}
		started, _ := record.As[record.ModuleSessionStarted](current)

		req := gateway.EndModuleSession{
			ModuleSessionID: started.ModuleSessionID,
			ServerTime:      s.time.NowOrLocal(),
			Score:           score,
			Completed:       completed,
		}

		t.loop.Async(func(ctx context.Context) loop.Task {
			err := s.backend.Gateway.EndModuleSession(ctx, req)
			return func() {
				if err != nil {
					slog.Warn("module session end failed",
						"module_session_id", req.ModuleSessionID,
						"outcome", gateway.OutcomeOf(err).String(),
						"error", err,
					)
					done(err)
					return
				}

				s.log.Append(record.ModuleSessionEnded{
					ModuleSessionID: req.ModuleSessionID,
					ServerTime:      req.ServerTime,
					Score:           req.Score,
					Completed:       req.Completed,
				})
				if s == t.session {
					t.hub.Publish(notify.ModuleSessionEnded{
						ModuleSessionID: req.ModuleSessionID,
						Score:           req.Score,
						Completed:       req.Completed,
					})
				}
				done(nil)
			}
		})
	})
}
