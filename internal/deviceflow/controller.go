// Package deviceflow drives the secondary-device login handshake.
//
// A login attempt announces a device flow, polls its status until another
// device confirms it, then fetches the organisation (for its subdomain) and a
// one-time login token in parallel. Once both are in the session log the
// controller builds the redirect URL and raises UserLoggedIn exactly once.
//
// Cancellation is epoch based: every scheduled retry and every in-flight
// request captures the epoch it was issued under and becomes inert when the
// epoch has moved on.
//
// Thread-safety: a Controller is owned by the loop goroutine. All methods,
// and the continuations it posts, run there.
package deviceflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/gamelink/internal/gateway"
	"github.com/roach88/gamelink/internal/loop"
	"github.com/roach88/gamelink/internal/notify"
	"github.com/roach88/gamelink/internal/record"
	"github.com/roach88/gamelink/internal/sessionlog"
)

// DefaultPollInterval is the delay between status polls and between
// completion-fetch retries.
const DefaultPollInterval = 4 * time.Second

// State is the phase of the current login attempt.
type State int

const (
	Idle State = iota
	Announced
	Polling
	Validated
	LoggedIn
	Stopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Announced:
		return "announced"
	case Polling:
		return "polling"
	case Validated:
		return "validated"
	case LoggedIn:
		return "logged_in"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the controller settings.
type Config struct {
	// PollInterval is the fixed retry and poll delay.
	PollInterval time.Duration

	// WebpageDomain is concatenated verbatim after the subdomain in the
	// redirect URL, e.g. "example.com/".
	WebpageDomain string
}

// Controller is the device flow state machine.
type Controller struct {
	loop *loop.Loop
	gw   gateway.Gateway
	log  *sessionlog.Log
	pub  notify.Publisher
	cfg  Config

	state  State
	active bool
	epoch  uint64

	// deviceCode identifies the flow announced in the current epoch. It is
	// only set by an announce that was not superseded.
	deviceCode string

	// startSeq is the log sequence at the start of the attempt. Login
	// tokens logged at or before it belong to an earlier attempt.
	startSeq int64

	pollTimer  loop.Timer
	tokenTimer loop.Timer
	orgTimer   loop.Timer

	// orgRetry is set while the attempt needs the organisation and should
	// keep retrying its fetch. orgInFlight guards against parallel fetches.
	orgRetry    bool
	orgInFlight bool
}

// New creates an idle controller.
func New(l *loop.Loop, gw gateway.Gateway, log *sessionlog.Log, pub notify.Publisher, cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Controller{loop: l, gw: gw, log: log, pub: pub, cfg: cfg}
}

// State returns the phase of the current attempt.
func (c *Controller) State() State {
	return c.state
}

// Active reports whether a login attempt is in progress.
func (c *Controller) Active() bool {
	return c.active
}

// Epoch returns the current generation.
func (c *Controller) Epoch() uint64 {
	return c.epoch
}

// Start begins a new login attempt, superseding any current one.
//
// onStart receives the login URL to show, or "" when the announce failed.
// A failed announce is not retried.
func (c *Controller) Start(onStart func(loginURL string)) {
	if c.active {
		c.Stop()
	}
	if onStart == nil {
		onStart = func(string) {}
	}

	// Also invalidates an announce still in flight from a previous Start.
	c.bumpEpoch()
	c.state = Idle
	c.deviceCode = ""
	c.startSeq = c.log.Seq()
	epoch := c.epoch

	slog.Info("device flow starting", "epoch", epoch)

	c.loop.Async(func(ctx context.Context) loop.Task {
		flow, err := c.gw.AnnounceDeviceFlow(ctx)
		return func() {
			if epoch != c.epoch {
				slog.Debug("discarding stale announce", "epoch", epoch)
				return
			}
			if err != nil {
				slog.Warn("device flow announce failed",
					"epoch", epoch,
					"outcome", gateway.OutcomeOf(err).String(),
					"error", err,
				)
				onStart("")
				return
			}

			c.active = true
			c.state = Announced
			c.deviceCode = flow.DeviceCode
			slog.Info("device flow announced", "epoch", epoch, "login_url", flow.LoginURL)
			onStart(flow.LoginURL)
			c.schedulePoll(epoch)
		}
	})
}

// Stop abandons the current attempt. Scheduled retries and in-flight
// responses of the attempt become inert.
func (c *Controller) Stop() {
	slog.Info("device flow stopped", "epoch", c.epoch, "state", c.state.String())
	c.active = false
	c.orgRetry = false
	c.state = Stopped
	c.bumpEpoch()
}

// Expedite skips the remaining polls of an active attempt and requests the
// login token for the latest known user right away. Scheduled retries are
// cancelled first. A no-op when no attempt is active.
func (c *Controller) Expedite() {
	if !c.active {
		return
	}

	c.bumpEpoch()
	epoch := c.epoch
	session := c.log.Session()

	slog.Info("device flow expedited",
		"epoch", epoch,
		"user_id", session.UserID,
	)

	c.state = Validated
	c.fetchLoginToken(epoch, session.UserID)
	if session.Subdomain == "" {
		c.orgRetry = true
		c.fetchOrganisation()
	}
}

// ResolveOrganisation fetches organisation details once when the subdomain
// is unknown. Repeated calls while a fetch is in flight are no-ops. Failures
// are only retried while an attempt needs the organisation.
func (c *Controller) ResolveOrganisation() {
	if c.log.Session().Subdomain != "" {
		return
	}
	c.fetchOrganisation()
}

// TryFinishLogin completes the attempt if both the subdomain and a login
// token issued during the attempt are in the log. It reports whether the
// login completed by this call. Safe to call any number of times.
func (c *Controller) TryFinishLogin() bool {
	if !c.active {
		return false
	}

	subdomain := c.log.Session().Subdomain
	if subdomain == "" {
		return false
	}
	tokenRec, ok := c.log.LatestMatching(record.KindLoginTokenIssued, record.After(c.startSeq))
	if !ok {
		return false
	}
	tok, _ := record.As[record.LoginTokenIssued](tokenRec)

	redirectURL := fmt.Sprintf("https://%s.%slogin?otlToken=%s", subdomain, c.cfg.WebpageDomain, tok.Token)

	c.active = false
	c.orgRetry = false
	c.state = LoggedIn
	c.bumpEpoch()

	slog.Info("device flow login complete", "subdomain", subdomain)
	c.pub.Publish(notify.UserLoggedIn{RedirectURL: redirectURL})
	return true
}

// bumpEpoch invalidates everything issued under the current epoch.
func (c *Controller) bumpEpoch() {
	c.epoch++
	for _, t := range []loop.Timer{c.pollTimer, c.tokenTimer, c.orgTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.pollTimer, c.tokenTimer, c.orgTimer = nil, nil, nil
}

// after schedules t under epoch; the task is dropped if the epoch moved on
// before it runs.
func (c *Controller) after(epoch uint64, t loop.Task) loop.Timer {
	return c.loop.After(c.cfg.PollInterval, func() {
		if epoch != c.epoch {
			return
		}
		t()
	})
}

func (c *Controller) schedulePoll(epoch uint64) {
	c.pollTimer = c.after(epoch, func() { c.poll(epoch) })
}

func (c *Controller) poll(epoch uint64) {
	c.state = Polling
	code := c.deviceCode

	c.loop.Async(func(ctx context.Context) loop.Task {
		status, err := c.gw.GetDeviceFlowStatus(ctx, code)
		return func() {
			if epoch != c.epoch {
				slog.Debug("discarding stale poll", "epoch", epoch)
				return
			}
			if err != nil {
				slog.Warn("device flow poll failed, retrying",
					"epoch", epoch,
					"outcome", gateway.OutcomeOf(err).String(),
					"error", err,
				)
				c.schedulePoll(epoch)
				return
			}
			if !status.Validated {
				slog.Debug("device flow not validated yet", "epoch", epoch)
				c.schedulePoll(epoch)
				return
			}

			slog.Info("device flow validated", "epoch", epoch, "user_id", status.UserID)
			c.state = Validated
			c.log.Append(record.DeviceFlowValidated{UserID: status.UserID})

			c.orgRetry = true
			c.fetchOrganisation()
			c.fetchLoginToken(epoch, status.UserID)
		}
	})
}

func (c *Controller) fetchLoginToken(epoch uint64, userID string) {
	c.loop.Async(func(ctx context.Context) loop.Task {
		tok, err := c.gw.GetLoginToken(ctx, userID)
		return func() {
			if epoch != c.epoch {
				slog.Debug("discarding stale login token", "epoch", epoch)
				return
			}
			if err != nil {
				slog.Warn("login token fetch failed, retrying",
					"epoch", epoch,
					"outcome", gateway.OutcomeOf(err).String(),
					"error", err,
				)
				c.tokenTimer = c.after(epoch, func() { c.fetchLoginToken(epoch, userID) })
				return
			}

			c.log.Append(record.LoginTokenIssued{Token: tok})
			c.TryFinishLogin()
		}
	})
}

// fetchOrganisation requests details of the latest known organisation, or of
// the confirmed user's organisation when none is known. Organisation details
// are not specific to an attempt, so a successful response is always logged.
func (c *Controller) fetchOrganisation() {
	if c.orgInFlight {
		return
	}
	c.orgInFlight = true
	organisationID := c.log.Session().OrganisationID

	c.loop.Async(func(ctx context.Context) loop.Task {
		org, err := c.gw.GetOrganisation(ctx, organisationID)
		if err == nil && org.Subdomain == "" {
			err = gateway.ProtocolError("get_organisation", fmt.Errorf("organisation %q has no subdomain", org.ID))
		}
		return func() {
			c.orgInFlight = false
			if err != nil {
				slog.Warn("organisation fetch failed",
					"organisation_id", organisationID,
					"outcome", gateway.OutcomeOf(err).String(),
					"error", err,
				)
				c.retryOrganisation()
				return
			}

			id := org.ID
			if id == "" {
				id = organisationID
			}
			c.log.Append(record.OrganisationFetched{OrganisationID: id, Name: org.Name, Subdomain: org.Subdomain})
			c.TryFinishLogin()
		}
	})
}

func (c *Controller) retryOrganisation() {
	if !c.active || !c.orgRetry || c.log.Session().Subdomain != "" {
		return
	}
	epoch := c.epoch
	c.orgTimer = c.after(epoch, c.fetchOrganisation)
}
