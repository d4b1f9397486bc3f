package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/gamelink/internal/config"
	"github.com/roach88/gamelink/internal/gateway"
	"github.com/roach88/gamelink/internal/sessionlog"
	"github.com/roach88/gamelink/internal/token"
	"github.com/roach88/gamelink/internal/tracker"
)

// environment wires trackers from the loaded configuration.
type environment struct {
	cfg     *config.Config
	journal *sessionlog.Journal
}

// loadEnvironment loads the config and opens the journal, if one is configured.
func loadEnvironment(opts *RootOptions) (*environment, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	env := &environment{cfg: cfg}
	if cfg.Journal != "" {
		j, err := sessionlog.OpenJournal(cfg.Journal)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		env.journal = j
		slog.Debug("journal opened", "path", cfg.Journal)
	}
	return env, nil
}

func (e *environment) Close() {
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			slog.Warn("journal close failed", "error", err)
		}
	}
}

// backend resolves a configured target to an HTTP backend.
func (e *environment) backend(target string) (tracker.Backend, error) {
	t, err := e.cfg.Backend(target)
	if err != nil {
		return tracker.Backend{}, fmt.Errorf("%w: %w", tracker.ErrUnknownTarget, err)
	}
	gw, err := gateway.NewHTTP(t.APIURL, gateway.WithTimeout(e.cfg.RequestTimeout))
	if err != nil {
		return tracker.Backend{}, fmt.Errorf("target %s: %w", target, err)
	}
	return tracker.Backend{
		Name:          strings.ToLower(target),
		Gateway:       gw,
		WebpageDomain: t.WebpageDomain,
	}, nil
}

// newTracker creates a tracker bound to backend with the configured
// intervals, token verification and journal.
func (e *environment) newTracker(backend tracker.Backend) (*tracker.Tracker, error) {
	opts := []tracker.Option{
		tracker.WithResolver(e.backend),
		tracker.WithTokenDecoder(token.NewDecoder([]byte(e.cfg.TokenSecret))),
		tracker.WithPollInterval(e.cfg.PollInterval),
		tracker.WithTimeSyncRetry(e.cfg.TimeSyncRetry),
	}
	if e.journal != nil {
		opts = append(opts, tracker.WithMirror(e.journal))
	}
	return tracker.New(backend, opts...)
}

// targetTracker creates a tracker for the named target, or the configured
// one when target is empty.
func (e *environment) targetTracker(target string) (*tracker.Tracker, error) {
	if target == "" {
		target = e.cfg.Target
	}
	backend, err := e.backend(target)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to resolve target", err)
	}
	tr, err := e.newTracker(backend)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create tracker", err)
	}
	return tr, nil
}

// startTracker drives tr's loop until the returned stop func is called.
func startTracker(ctx context.Context, tr *tracker.Tracker) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := tr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("tracker loop stopped", "error", err)
		}
	}()
	return func() {
		tr.Close()
		cancel()
		<-done
	}
}
