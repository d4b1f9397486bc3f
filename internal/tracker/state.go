package tracker

import (
	"context"
	"slices"
	"time"

	"github.com/roach88/gamelink/internal/record"
)

// State is a snapshot of the derived session state. Every field is the
// latest value found in the log at snapshot time.
type State struct {
	Target string `json:"target"`
	LogID  string `json:"log_id"`

	record.Session

	ModuleSessionID string `json:"module_session_id,omitempty"`
	ModuleID        string `json:"module_id,omitempty"`
	LoginToken      string `json:"login_token,omitempty"`

	// ServerNow is the reconstructed server time, or the local time when
	// ServerTimeKnown is false.
	ServerNow       time.Time `json:"server_now"`
	ServerTimeKnown bool      `json:"server_time_known"`

	DeviceFlow string `json:"device_flow"`
	Records    int    `json:"records"`
}

// State returns a snapshot of the current session state.
func (t *Tracker) State(ctx context.Context) (State, error) {
	var st State
	err := t.loop.Call(ctx, func() {
		s := t.session
		st = State{
			Target:     s.backend.Name,
			LogID:      s.log.ID(),
			Session:    s.log.Session(),
			DeviceFlow: s.login.State().String(),
			Records:    s.log.Len(),
		}

		if rec, ok := s.log.LatestMatching(record.KindModuleSessionStarted, record.MatchAll); ok {
			started, _ := record.As[record.ModuleSessionStarted](rec)
			st.ModuleSessionID = started.ModuleSessionID
			st.ModuleID = started.ModuleID
		}
		if rec, ok := s.log.LatestMatching(record.KindLoginTokenIssued, record.MatchAll); ok {
			tok, _ := record.As[record.LoginTokenIssued](rec)
			st.LoginToken = tok.Token
		}

		st.ServerNow, st.ServerTimeKnown = s.time.ReconstructNow()
		if !st.ServerTimeKnown {
			st.ServerNow = t.clock.Now()
		}
	})
	return st, err
}

// Records returns the records of the given kind in insertion order.
func (t *Tracker) Records(ctx context.Context, kind record.Kind) ([]record.Record, error) {
	var out []record.Record
	err := t.loop.Call(ctx, func() {
		out = slices.Collect(t.session.log.All(kind))
	})
	return out, err
}

// Log returns every record of the current session in insertion order.
func (t *Tracker) Log(ctx context.Context) ([]record.Record, error) {
	var out []record.Record
	err := t.loop.Call(ctx, func() {
		out = t.session.log.Snapshot()
	})
	return out, err
}
