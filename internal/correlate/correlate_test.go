package correlate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamelink/internal/notify"
	"github.com/roach88/gamelink/internal/record"
	"github.com/roach88/gamelink/internal/sessionlog"
)

const (
	sessionA = "0b0f8c4e-4a36-4f0e-9f36-0d2a5c7a1a11"
	sessionB = "1c1f8c4e-4a36-4f0e-9f36-0d2a5c7a1a22"
	moduleA  = "6a3e2c1d-9b8f-4e7a-8c6d-5f4e3d2c1b0a"
	moduleB  = "7b3e2c1d-9b8f-4e7a-8c6d-5f4e3d2c1b0b"
)

type stubDecoder struct {
	calls int
	err   error
}

func (d *stubDecoder) Decode(moduleSessionID, raw string) (record.MicroGamePayload, error) {
	d.calls++
	if d.err != nil {
		return record.MicroGamePayload{}, d.err
	}
	return record.MicroGamePayload{ModuleSessionID: moduleSessionID, MicroGameID: "mg-" + raw}, nil
}

type stubLogin struct {
	active    bool
	expedited int
	resolved  int
}

func (l *stubLogin) Active() bool         { return l.active }
func (l *stubLogin) Expedite()            { l.expedited++ }
func (l *stubLogin) ResolveOrganisation() { l.resolved++ }

type fixture struct {
	log     *sessionlog.Log
	rec     *notify.Recorder
	decoder *stubDecoder
	login   *stubLogin
	c       *Correlator
}

func newFixture() *fixture {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	log := sessionlog.New(sessionlog.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	hub := notify.NewHub()
	rec := &notify.Recorder{}
	hub.Subscribe(rec.Observe)

	f := &fixture{log: log, rec: rec, decoder: &stubDecoder{}, login: &stubLogin{}}
	f.c = New(log, hub, f.decoder, f.login)
	return f
}

func started(session, module string) record.ModuleSessionStarted {
	return record.ModuleSessionStarted{ModuleSessionID: session, ModuleID: module}
}

func pageView(org, user, lang string) record.PageView {
	return record.PageView{Session: record.Session{OrganisationID: org, UserID: user, Language: lang}}
}

func TestModuleSessionStarted_DuplicateAnnouncesOnce(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))
	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))

	assert.Equal(t, []string{notify.NameModuleStarted}, f.rec.Names())
	assert.Equal(t, 2, f.log.Count(record.KindModuleSessionStarted, record.MatchAll))
	assert.Equal(t, notify.ModuleStarted{ModuleSessionID: sessionA, ModuleID: moduleA}, f.rec.Notifications[0])
}

func TestModuleSessionStarted_NewSessionAnnounces(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))
	require.NoError(t, f.c.Handle(started(sessionB, moduleB)))
	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))

	// Only the immediately preceding session counts as a duplicate.
	assert.Equal(t, 3, f.rec.Count(notify.NameModuleStarted))
}

func TestMicroGameOpened_FirstDelivery(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))

	err := f.c.Handle(record.MicroGameOpened{ModuleSessionID: sessionA, ModuleData: "tok"})
	require.NoError(t, err)

	assert.Equal(t, []string{notify.NameModuleStarted, notify.NameMicroGameOpened}, f.rec.Names())
	assert.Equal(t, 1, f.decoder.calls)

	payload, ok := f.log.LatestMatching(record.KindMicroGamePayload, record.MatchAll)
	require.True(t, ok)
	assert.Equal(t, "mg-tok", payload.Attributes.(record.MicroGamePayload).MicroGameID)

	timingRec, ok := f.log.LatestMatching(record.KindDerivedModuleTiming, record.MatchAll)
	require.True(t, ok)
	timing := timingRec.Attributes.(record.DerivedModuleTiming)
	assert.Equal(t, sessionA, timing.ModuleSessionID)
	assert.Equal(t, moduleA, timing.ModuleID)
	assert.Equal(t, time.Second, timing.Elapsed)

	kinds := []record.Kind{}
	for _, r := range f.log.Snapshot() {
		kinds = append(kinds, r.Kind)
	}
	assert.Equal(t, []record.Kind{
		record.KindModuleSessionStarted,
		record.KindMicroGameOpened,
		record.KindMicroGamePayload,
		record.KindDerivedModuleTiming,
	}, kinds)
}

func TestMicroGameOpened_AlreadyStartedIsLoggedOnly(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))
	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))

	err := f.c.Handle(record.MicroGameOpened{ModuleSessionID: sessionA, ModuleData: "tok"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.log.Count(record.KindMicroGameOpened, record.MatchAll))
	assert.Equal(t, 0, f.log.Count(record.KindMicroGamePayload, record.MatchAll))
	assert.Equal(t, 0, f.log.Count(record.KindDerivedModuleTiming, record.MatchAll))
	assert.Equal(t, 0, f.decoder.calls)
	assert.Equal(t, 0, f.rec.Count(notify.NameMicroGameOpened))
}

func TestFitnessContentOpened(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))

	require.NoError(t, f.c.Handle(record.FitnessContentOpened{Identifier: "yoga"}))

	require.Equal(t, 2, len(f.rec.Notifications))
	assert.Equal(t, notify.FitnessContentOpened{Identifier: "yoga"}, f.rec.Notifications[1])
	assert.Equal(t, 1, f.log.Count(record.KindDerivedModuleTiming, record.MatchAll))
}

func TestFitnessContentOpened_AlreadyStarted(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))
	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))

	require.NoError(t, f.c.Handle(record.FitnessContentOpened{Identifier: "yoga"}))

	assert.Equal(t, 0, f.rec.Count(notify.NameFitnessContentOpened))
	assert.Equal(t, 1, f.log.Count(record.KindFitnessContentOpened, record.MatchAll))
}

func TestContentOpened_WithoutModuleSessionIsLoggedOnly(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.c.Handle(record.FitnessContentOpened{Identifier: "yoga"}))
	require.NoError(t, f.c.Handle(record.MicroGameOpened{ModuleSessionID: sessionA, ModuleData: "tok"}))

	assert.Empty(t, f.rec.Notifications)
	assert.Equal(t, 1, f.log.Count(record.KindFitnessContentOpened, record.MatchAll))
	assert.Equal(t, 1, f.log.Count(record.KindMicroGameOpened, record.MatchAll))
	assert.Equal(t, 0, f.log.Count(record.KindMicroGamePayload, record.MatchAll))
	assert.Equal(t, 0, f.log.Count(record.KindDerivedModuleTiming, record.MatchAll))
	assert.Equal(t, 0, f.decoder.calls)
}

func TestMicroGameOpened_DecodeFailureIsSurfaced(t *testing.T) {
	f := newFixture()
	f.decoder.err = errors.New("bad signature")
	require.NoError(t, f.c.Handle(started(sessionA, moduleA)))

	err := f.c.Handle(record.MicroGameOpened{ModuleSessionID: sessionA, ModuleData: "tok"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenDecode)
	assert.Contains(t, err.Error(), "bad signature")

	assert.Equal(t, 1, f.log.Count(record.KindMicroGameOpened, record.MatchAll))
	assert.Equal(t, 0, f.log.Count(record.KindMicroGamePayload, record.MatchAll))
	assert.Equal(t, 0, f.rec.Count(notify.NameMicroGameOpened))
}

func TestPageView_LanguageChanges(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.c.Handle(pageView("", "", "en")))
	require.NoError(t, f.c.Handle(pageView("", "", "en")))
	require.NoError(t, f.c.Handle(pageView("", "", "")))
	require.NoError(t, f.c.Handle(pageView("", "", "nl")))

	var langs []string
	for _, n := range f.rec.Notifications {
		if lc, ok := n.(notify.LanguageChanged); ok {
			langs = append(langs, lc.Language)
		}
	}
	assert.Equal(t, []string{"en", "nl"}, langs)
	assert.Equal(t, 4, f.rec.Count(notify.NamePageViewed))
}

func TestPageView_NotificationOrder(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.c.Handle(pageView("", "", "en")))

	assert.Equal(t, []string{notify.NamePageViewed, notify.NameLanguageChanged}, f.rec.Names())
}

func TestPageView_ExpeditesActiveLogin(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.c.Handle(pageView("org-1", "user-1", "")))
	assert.Equal(t, 0, f.login.expedited, "no attempt active")

	f.login.active = true
	require.NoError(t, f.c.Handle(pageView("", "", "")))
	assert.Equal(t, 1, f.login.expedited, "identity is known from earlier records")
}

func TestPageView_ExpediteNeedsIdentity(t *testing.T) {
	f := newFixture()
	f.login.active = true

	require.NoError(t, f.c.Handle(pageView("org-1", "", "")))
	assert.Equal(t, 0, f.login.expedited)
}

func TestPageView_ResolvesOrganisationUntilSubdomainKnown(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.c.Handle(pageView("", "", "")))
	assert.Equal(t, 0, f.login.resolved, "no organisation known")

	require.NoError(t, f.c.Handle(pageView("org-1", "user-1", "")))
	assert.Equal(t, 1, f.login.resolved)

	f.log.Append(record.OrganisationFetched{OrganisationID: "org-1", Subdomain: "acme"})
	require.NoError(t, f.c.Handle(pageView("org-1", "user-1", "")))
	assert.Equal(t, 1, f.login.resolved)
}

func TestExternal(t *testing.T) {
	f := newFixture()

	f.c.External("quizAnswered")

	assert.Equal(t, []notify.Notification{notify.ExternalEvent{Type: "quizAnswered"}}, f.rec.Notifications)
	assert.Equal(t, 0, f.log.Len())
}
