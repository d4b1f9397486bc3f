package sessionlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamelink/internal/record"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func started(id string) record.ModuleSessionStarted {
	return record.ModuleSessionStarted{ModuleSessionID: id, ModuleID: "module-" + id}
}

func TestLog_AppendStampsSeqAndTime(t *testing.T) {
	l := New(WithClock(fixedClock()))

	r1 := l.Append(started("a"))
	r2 := l.Append(record.FitnessContentOpened{Identifier: "yoga"})

	assert.Equal(t, int64(1), r1.Seq)
	assert.Equal(t, int64(2), r2.Seq)
	assert.Equal(t, record.KindModuleSessionStarted, r1.Kind)
	assert.Equal(t, record.KindFitnessContentOpened, r2.Kind)
	assert.True(t, r2.CapturedAt.After(r1.CapturedAt))
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, int64(2), l.Seq())
	assert.NotEmpty(t, l.ID())
}

func TestLog_LatestMatching_MostRecentWins(t *testing.T) {
	l := New()

	l.Append(record.PageView{Session: record.Session{Language: "en"}})
	l.Append(record.PageView{Session: record.Session{OrganisationID: "org"}})
	l.Append(record.PageView{Session: record.Session{Language: "nl"}})
	l.Append(record.PageView{})

	rec, ok := l.LatestMatching(record.KindPageView, record.HasLanguage)
	require.True(t, ok)
	assert.Equal(t, int64(3), rec.Seq)
	assert.Equal(t, "nl", rec.Session().Language)

	rec, ok = l.LatestMatching(record.KindPageView, record.MatchAll)
	require.True(t, ok)
	assert.Equal(t, int64(4), rec.Seq)
}

func TestLog_LatestMatching_AbsentIsNotAnError(t *testing.T) {
	l := New()
	l.Append(record.PageView{})

	_, ok := l.LatestMatching(record.KindModuleSessionStarted, record.MatchAll)
	assert.False(t, ok)

	_, ok = l.LatestMatching(record.KindPageView, record.HasUser)
	assert.False(t, ok)
}

func TestLog_LatestMatching_KindFilter(t *testing.T) {
	l := New()
	l.Append(record.PageView{Session: record.Session{OrganisationID: "from-page"}})
	l.Append(record.OrganisationFetched{OrganisationID: "from-fetch", Subdomain: "acme"})

	rec, ok := l.LatestMatching(record.KindPageView, record.HasOrganisation)
	require.True(t, ok)
	assert.Equal(t, "from-page", rec.Session().OrganisationID)

	rec, ok = l.Latest(record.HasOrganisation)
	require.True(t, ok)
	assert.Equal(t, "from-fetch", rec.Session().OrganisationID)
}

func TestLog_All_SnapshotAtCallTime(t *testing.T) {
	l := New()
	l.Append(started("a"))
	l.Append(record.PageView{})
	l.Append(started("b"))

	seq := l.All(record.KindModuleSessionStarted)
	l.Append(started("c"))

	var ids []string
	for rec := range seq {
		a, _ := record.As[record.ModuleSessionStarted](rec)
		ids = append(ids, a.ModuleSessionID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)

	// Restartable: iterating again yields the same records
	var again []string
	for rec := range seq {
		a, _ := record.As[record.ModuleSessionStarted](rec)
		again = append(again, a.ModuleSessionID)
	}
	assert.Equal(t, ids, again)
}

func TestLog_All_EarlyBreak(t *testing.T) {
	l := New()
	l.Append(started("a"))
	l.Append(started("b"))

	n := 0
	for range l.All(record.KindModuleSessionStarted) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestLog_Count(t *testing.T) {
	l := New()
	l.Append(started("a"))
	l.Append(started("a"))
	l.Append(started("b"))

	assert.Equal(t, 2, l.Count(record.KindModuleSessionStarted, record.ModuleSession("a")))
	assert.Equal(t, 1, l.Count(record.KindModuleSessionStarted, record.ModuleSession("b")))
	assert.Equal(t, 0, l.Count(record.KindPageView, record.MatchAll))
}

func TestLog_Session_LatestPerField(t *testing.T) {
	l := New()
	assert.Equal(t, record.Session{}, l.Session())

	l.Append(record.PageView{Session: record.Session{OrganisationID: "org-1", UserID: "u-1", Language: "en"}})
	l.Append(record.OrganisationFetched{OrganisationID: "org-1", Subdomain: "acme"})
	l.Append(record.PageView{Session: record.Session{Language: "nl"}})
	l.Append(record.DeviceFlowValidated{UserID: "u-2"})

	assert.Equal(t, record.Session{
		OrganisationID: "org-1",
		UserID:         "u-2",
		Language:       "nl",
		Subdomain:      "acme",
	}, l.Session())
}

func TestLog_Snapshot_IsCopy(t *testing.T) {
	l := New()
	l.Append(started("a"))

	snap := l.Snapshot()
	snap[0].Seq = 99

	rec, ok := l.LatestMatching(record.KindModuleSessionStarted, record.MatchAll)
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.Seq)
}

type failingMirror struct {
	calls int
}

func (m *failingMirror) Write(ctx context.Context, logID string, rec record.Record) error {
	m.calls++
	return errors.New("disk full")
}

func TestLog_MirrorFailureDoesNotFailAppend(t *testing.T) {
	m := &failingMirror{}
	l := New(WithMirror(m))

	rec := l.Append(record.PageView{})

	assert.Equal(t, int64(1), rec.Seq)
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, 1, l.Len())
}

func TestLog_DistinctInstancesHaveDistinctIDs(t *testing.T) {
	assert.NotEqual(t, New().ID(), New().ID())
}
