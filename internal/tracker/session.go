package tracker

import (
	"fmt"

	"github.com/roach88/gamelink/internal/correlate"
	"github.com/roach88/gamelink/internal/deviceflow"
	"github.com/roach88/gamelink/internal/ingest"
	"github.com/roach88/gamelink/internal/sessionlog"
	"github.com/roach88/gamelink/internal/timesync"
)

// session is everything bound to one backend target. It is replaced
// wholesale, never mutated, when the target changes.
type session struct {
	backend  Backend
	log      *sessionlog.Log
	login    *deviceflow.Controller
	time     *timesync.Sync
	ingester *ingest.Ingester
}

func (t *Tracker) newSession(backend Backend) (*session, error) {
	if backend.Gateway == nil {
		return nil, fmt.Errorf("backend %q has no gateway", backend.Name)
	}

	logOpts := []sessionlog.Option{sessionlog.WithClock(t.clock.Now)}
	if t.mirror != nil {
		logOpts = append(logOpts, sessionlog.WithMirror(t.mirror))
	}
	log := sessionlog.New(logOpts...)

	login := deviceflow.New(t.loop, backend.Gateway, log, t.hub, deviceflow.Config{
		PollInterval:  t.pollInterval,
		WebpageDomain: backend.WebpageDomain,
	})
	sync := timesync.New(t.loop, backend.Gateway, log, t.hub, t.timeSyncRetry)

	in, err := ingest.New(correlate.New(log, t.hub, t.tokens, login))
	if err != nil {
		return nil, fmt.Errorf("create ingester: %w", err)
	}

	return &session{
		backend:  backend,
		log:      log,
		login:    login,
		time:     sync,
		ingester: in,
	}, nil
}

// stop makes every scheduled or in-flight operation of the session inert.
func (s *session) stop() {
	s.login.Stop()
	s.time.Stop()
}
