// Package correlate applies the per-kind rules that turn decoded host events
// into log records and domain notifications.
//
// A Correlator is owned by the tracker's loop goroutine and is not safe for
// concurrent use.
package correlate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/gamelink/internal/notify"
	"github.com/roach88/gamelink/internal/record"
	"github.com/roach88/gamelink/internal/sessionlog"
)

// ErrTokenDecode is returned when the module_data of an opened micro game
// cannot be decoded. The content record is still logged; no payload, timing
// or notification follows.
var ErrTokenDecode = errors.New("module data decode failed")

// TokenDecoder decodes module_data tokens. Implemented by token.Decoder.
type TokenDecoder interface {
	Decode(moduleSessionID, raw string) (record.MicroGamePayload, error)
}

// Login is the part of the device flow page views interact with.
// Implemented by deviceflow.Controller.
type Login interface {
	// Active reports whether a login attempt is in progress.
	Active() bool

	// Expedite cancels scheduled retries and requests the login token now.
	Expedite()

	// ResolveOrganisation fetches organisation details once if the subdomain
	// is not yet known.
	ResolveOrganisation()
}

// Correlator handles decoded events. It implements ingest.Handler.
type Correlator struct {
	log    *sessionlog.Log
	pub    notify.Publisher
	tokens TokenDecoder
	login  Login
}

// New creates a correlator appending to log and publishing to pub.
func New(log *sessionlog.Log, pub notify.Publisher, tokens TokenDecoder, login Login) *Correlator {
	return &Correlator{log: log, pub: pub, tokens: tokens, login: login}
}

// Handle dispatches attrs to the rule for its kind.
func (c *Correlator) Handle(attrs record.Attributes) error {
	switch a := attrs.(type) {
	case record.ModuleSessionStarted:
		c.moduleSessionStarted(a)
		return nil
	case record.MicroGameOpened:
		return c.contentOpened(a, a.ModuleSessionID)
	case record.FitnessContentOpened:
		return c.contentOpened(a, "")
	case record.PageView:
		c.pageView(a)
		return nil
	default:
		return fmt.Errorf("no correlation rule for kind %q", attrs.Kind())
	}
}

// External passes an unmodelled envelope type through to the host.
func (c *Correlator) External(eventType string) {
	slog.Debug("external event", "type", eventType)
	c.pub.Publish(notify.ExternalEvent{Type: eventType})
}

func (c *Correlator) moduleSessionStarted(a record.ModuleSessionStarted) {
	current, ok := c.log.LatestMatching(record.KindModuleSessionStarted, record.MatchAll)
	c.log.Append(a)

	if ok {
		if prev, _ := record.As[record.ModuleSessionStarted](current); prev.ModuleSessionID == a.ModuleSessionID {
			slog.Debug("module session re-announced",
				"module_session_id", a.ModuleSessionID,
			)
			return
		}
	}

	slog.Info("module session started",
		"module_session_id", a.ModuleSessionID,
		"module_id", a.ModuleID,
	)
	c.pub.Publish(notify.ModuleStarted{ModuleSessionID: a.ModuleSessionID, ModuleID: a.ModuleID})
}

// contentOpened handles micro game and fitness content events. sessionID is
// the module session the event names, if any.
func (c *Correlator) contentOpened(attrs record.Attributes, sessionID string) error {
	current, hasCurrent := c.log.LatestMatching(record.KindModuleSessionStarted, record.MatchAll)
	if !hasCurrent {
		c.log.Append(attrs)
		slog.Debug("content opened without a module session", "kind", attrs.Kind())
		return nil
	}
	cur, _ := record.As[record.ModuleSessionStarted](current)
	if c.log.Count(record.KindModuleSessionStarted, record.ModuleSession(cur.ModuleSessionID)) > 1 {
		c.log.Append(attrs)
		slog.Debug("content opened within already started module session",
			"kind", attrs.Kind(),
			"module_session_id", cur.ModuleSessionID,
		)
		return nil
	}

	opened := c.log.Append(attrs)

	var n notify.Notification
	switch a := attrs.(type) {
	case record.MicroGameOpened:
		payload, err := c.tokens.Decode(a.ModuleSessionID, a.ModuleData)
		if err != nil {
			slog.Warn("module data decode failed",
				"module_session_id", a.ModuleSessionID,
				"error", err,
			)
			return fmt.Errorf("%w: module session %s: %w", ErrTokenDecode, a.ModuleSessionID, err)
		}
		c.log.Append(payload)
		n = notify.MicroGameOpened{Payload: payload}
	case record.FitnessContentOpened:
		n = notify.FitnessContentOpened{Identifier: a.Identifier}
	}

	origin, ok := current, true
	if sessionID != "" {
		origin, ok = c.log.LatestMatching(record.KindModuleSessionStarted, record.ModuleSession(sessionID))
	}
	if ok {
		start, _ := record.As[record.ModuleSessionStarted](origin)
		c.log.Append(record.DerivedModuleTiming{
			ModuleSessionID: start.ModuleSessionID,
			ModuleID:        start.ModuleID,
			StartedAt:       origin.CapturedAt,
			OpenedAt:        opened.CapturedAt,
			Elapsed:         opened.CapturedAt.Sub(origin.CapturedAt),
		})
	}

	c.pub.Publish(n)
	return nil
}

func (c *Correlator) pageView(a record.PageView) {
	previous, hadPrevious := c.log.LatestMatching(record.KindPageView, record.HasLanguage)
	c.log.Append(a)

	session := c.log.Session()

	if c.login.Active() && session.OrganisationID != "" && session.UserID != "" {
		slog.Info("identity known while device flow pending, expediting login",
			"organisation_id", session.OrganisationID,
			"user_id", session.UserID,
		)
		c.login.Expedite()
	}

	c.pub.Publish(notify.PageViewed{Session: a.Session})

	if latest, ok := c.log.LatestMatching(record.KindPageView, record.HasLanguage); ok {
		lang := latest.Session().Language
		if !hadPrevious || previous.Session().Language != lang {
			c.pub.Publish(notify.LanguageChanged{Language: lang})
		}
	}

	if session.Subdomain == "" && session.OrganisationID != "" {
		c.login.ResolveOrganisation()
	}
}
