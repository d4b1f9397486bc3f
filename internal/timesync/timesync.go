// Package timesync keeps one server time sample and reconstructs the current
// server time from it without further round trips.
package timesync

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/gamelink/internal/gateway"
	"github.com/roach88/gamelink/internal/loop"
	"github.com/roach88/gamelink/internal/notify"
	"github.com/roach88/gamelink/internal/record"
	"github.com/roach88/gamelink/internal/sessionlog"
)

// DefaultRetryDelay is the delay before a failed fetch is retried.
const DefaultRetryDelay = 5 * time.Second

// Sample pairs a server time with the local clock reading taken when it
// arrived.
type Sample struct {
	ServerTime time.Time
	LocalAt    time.Time
}

// Sync fetches and holds the server time sample.
//
// Thread-safety: owned by the loop goroutine.
type Sync struct {
	loop  *loop.Loop
	gw    gateway.Gateway
	log   *sessionlog.Log
	pub   notify.Publisher
	retry time.Duration

	sample    Sample
	hasSample bool

	// generation invalidates scheduled retries on Stop.
	generation uint64
	retryTimer loop.Timer
	inFlight   bool
}

// New creates a Sync without a sample. A non-positive retry means
// DefaultRetryDelay.
func New(l *loop.Loop, gw gateway.Gateway, log *sessionlog.Log, pub notify.Publisher, retry time.Duration) *Sync {
	if retry <= 0 {
		retry = DefaultRetryDelay
	}
	return &Sync{loop: l, gw: gw, log: log, pub: pub, retry: retry}
}

// FetchOffset requests the server time. Failures are retried after the
// retry delay until a fetch succeeds. Calling it while a fetch is pending
// is a no-op.
func (s *Sync) FetchOffset() {
	if s.inFlight {
		return
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}

	s.inFlight = true
	generation := s.generation

	s.loop.Async(func(ctx context.Context) loop.Task {
		serverTime, err := s.gw.GetServerTime(ctx)
		return func() {
			if generation != s.generation {
				return
			}
			s.inFlight = false

			if err != nil {
				slog.Warn("server time fetch failed, retrying",
					"outcome", gateway.OutcomeOf(err).String(),
					"retry_in", s.retry,
					"error", err,
				)
				s.retryTimer = s.loop.After(s.retry, func() {
					if generation != s.generation {
						return
					}
					s.retryTimer = nil
					s.FetchOffset()
				})
				return
			}

			s.sample = Sample{ServerTime: serverTime, LocalAt: s.loop.Clock().Now()}
			s.hasSample = true
			s.log.Append(record.ServerTimeSample{ServerTime: s.sample.ServerTime, LocalAt: s.sample.LocalAt})

			slog.Info("server time synchronised", "server_time", serverTime)
			s.pub.Publish(notify.ServerTimeUpdated{ServerTime: serverTime})
		}
	})
}

// Sample returns the current sample, if any.
func (s *Sync) Sample() (Sample, bool) {
	return s.sample, s.hasSample
}

// ReconstructNow returns the current server time derived from the sample.
// The second result is false when no sample exists yet.
func (s *Sync) ReconstructNow() (time.Time, bool) {
	if !s.hasSample {
		return time.Time{}, false
	}
	elapsed := s.loop.Clock().Now().Sub(s.sample.LocalAt)
	return s.sample.ServerTime.Add(elapsed), true
}

// NowOrLocal is ReconstructNow with a fallback to the local clock.
func (s *Sync) NowOrLocal() time.Time {
	if now, ok := s.ReconstructNow(); ok {
		return now
	}
	return s.loop.Clock().Now()
}

// Stop cancels pending retries and discards in-flight responses.
func (s *Sync) Stop() {
	s.generation++
	s.inFlight = false
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}
