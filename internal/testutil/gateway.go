package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/gamelink/internal/gateway"
)

// Op names a gateway operation in a script.
type Op string

// Gateway operations.
const (
	OpAnnounce         Op = "announce_device_flow"
	OpStatus           Op = "get_device_flow_status"
	OpLoginToken       Op = "get_login_token"
	OpOrganisation     Op = "get_organisation"
	OpServerTime       Op = "get_server_time"
	OpEndModuleSession Op = "end_module_session"
)

// Reply is one scripted answer. Outcome selects success or the failure kind;
// only the fields relevant to the operation are read.
type Reply struct {
	Outcome      gateway.Outcome
	DeviceCode   string
	LoginURL     string
	Validated    bool
	UserID       string
	Token        string
	Organisation gateway.Organisation
	ServerTime   time.Time
}

// Failure is a connection failure reply.
var Failure = Reply{Outcome: gateway.ConnectionFailure}

// ScriptedGateway is a gateway.Gateway answering from per-operation scripts.
//
// Replies are consumed in order; the last reply of a script is sticky and
// answers every further call. An operation with no script fails with
// ConnectionFailure.
//
// Thread-safety: safe for concurrent use.
type ScriptedGateway struct {
	mu      sync.Mutex
	scripts map[Op][]Reply
	calls   map[Op]int
	args    map[Op][]string
	holds   map[Op]chan struct{}
	once    map[Op]chan struct{}
	ended   []gateway.EndModuleSession
}

var _ gateway.Gateway = (*ScriptedGateway)(nil)

// NewScriptedGateway creates a gateway with no scripts.
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{
		scripts: make(map[Op][]Reply),
		calls:   make(map[Op]int),
		args:    make(map[Op][]string),
		holds:   make(map[Op]chan struct{}),
		once:    make(map[Op]chan struct{}),
	}
}

// Script appends replies to the script of op.
func (g *ScriptedGateway) Script(op Op, replies ...Reply) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[op] = append(g.scripts[op], replies...)
	return g
}

// Hold makes calls to op block until the returned release func is called.
func (g *ScriptedGateway) Hold(op Op) (release func()) {
	gate := make(chan struct{})
	g.mu.Lock()
	g.holds[op] = gate
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.holds[op] == gate {
				delete(g.holds, op)
			}
			g.mu.Unlock()
			close(gate)
		})
	}
}

// HoldNext makes only the next call to op block until the returned release
// func is called. Later calls answer right away.
func (g *ScriptedGateway) HoldNext(op Op) (release func()) {
	gate := make(chan struct{})
	g.mu.Lock()
	g.once[op] = gate
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.once[op] == gate {
				delete(g.once, op)
			}
			g.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times op was called.
func (g *ScriptedGateway) Calls(op Op) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Args returns the id arguments op was called with, in call order.
func (g *ScriptedGateway) Args(op Op) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.args[op]...)
}

// Ended returns every EndModuleSession request received.
func (g *ScriptedGateway) Ended() []gateway.EndModuleSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.EndModuleSession(nil), g.ended...)
}

func (g *ScriptedGateway) next(ctx context.Context, op Op, arg string) (Reply, error) {
	g.mu.Lock()
	g.calls[op]++
	g.args[op] = append(g.args[op], arg)

	reply := Failure
	if script := g.scripts[op]; len(script) > 0 {
		reply = script[0]
		if len(script) > 1 {
			g.scripts[op] = script[1:]
		}
	}
	gate := g.holds[op]
	if gate == nil {
		if next, ok := g.once[op]; ok {
			gate = next
			delete(g.once, op)
		}
	}
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Reply{}, gateway.ConnectionError(string(op), ctx.Err())
		}
	}

	switch reply.Outcome {
	case gateway.Success:
		return reply, nil
	case gateway.ConnectionFailure:
		return Reply{}, gateway.ConnectionError(string(op), errors.New("scripted connection failure"))
	default:
		return Reply{}, gateway.ProtocolError(string(op), errors.New("scripted protocol failure"))
	}
}

// AnnounceDeviceFlow implements gateway.Gateway.
func (g *ScriptedGateway) AnnounceDeviceFlow(ctx context.Context) (gateway.DeviceFlow, error) {
	r, err := g.next(ctx, OpAnnounce, "")
	if err != nil {
		return gateway.DeviceFlow{}, err
	}
	return gateway.DeviceFlow{DeviceCode: r.DeviceCode, LoginURL: r.LoginURL}, nil
}

// GetDeviceFlowStatus implements gateway.Gateway.
func (g *ScriptedGateway) GetDeviceFlowStatus(ctx context.Context, deviceCode string) (gateway.DeviceFlowStatus, error) {
	r, err := g.next(ctx, OpStatus, deviceCode)
	if err != nil {
		return gateway.DeviceFlowStatus{}, err
	}
	return gateway.DeviceFlowStatus{Validated: r.Validated, UserID: r.UserID}, nil
}

// GetLoginToken implements gateway.Gateway.
func (g *ScriptedGateway) GetLoginToken(ctx context.Context, userID string) (string, error) {
	r, err := g.next(ctx, OpLoginToken, userID)
	if err != nil {
		return "", err
	}
	return r.Token, nil
}

// GetOrganisation implements gateway.Gateway.
func (g *ScriptedGateway) GetOrganisation(ctx context.Context, organisationID string) (gateway.Organisation, error) {
	r, err := g.next(ctx, OpOrganisation, organisationID)
	if err != nil {
		return gateway.Organisation{}, err
	}
	return r.Organisation, nil
}

// GetServerTime implements gateway.Gateway.
func (g *ScriptedGateway) GetServerTime(ctx context.Context) (time.Time, error) {
	r, err := g.next(ctx, OpServerTime, "")
	if err != nil {
		return time.Time{}, err
	}
	return r.ServerTime, nil
}

// EndModuleSession implements gateway.Gateway.
func (g *ScriptedGateway) EndModuleSession(ctx context.Context, req gateway.EndModuleSession) error {
	if _, err := g.next(ctx, OpEndModuleSession, req.ModuleSessionID); err != nil {
		return err
	}
	g.mu.Lock()
	g.ended = append(g.ended, req)
	g.mu.Unlock()
	return nil
}
