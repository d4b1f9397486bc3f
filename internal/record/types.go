package record

import "time"

// Kind identifies the variant of a record.
type Kind string

// Received kinds. The string values match the envelope "type" field.
const (
	KindPageView             Kind = "pageView"
	KindModuleSessionStarted Kind = "moduleSessionStarted"
	KindMicroGameOpened      Kind = "microGameOpened"
	KindFitnessContentOpened Kind = "fitnessContentOpened"
)

// Synthesized kinds. These are appended by the tracker, never received.
const (
	KindDerivedModuleTiming Kind = "derivedModuleTiming"
	KindServerTimeSample    Kind = "serverTimeSample"
	KindMicroGamePayload    Kind = "microGamePayload"
	KindDeviceFlowValidated Kind = "deviceFlowValidated"
	KindOrganisationFetched Kind = "organisationFetched"
	KindLoginTokenIssued    Kind = "loginTokenIssued"
	KindModuleSessionEnded  Kind = "moduleSessionEnded"
)

// ReceivedKinds lists the kinds the host may deliver, in declaration order.
var ReceivedKinds = []Kind{
	KindPageView,
	KindModuleSessionStarted,
	KindMicroGameOpened,
	KindFitnessContentOpened,
}

// Received reports whether k is one of the kinds delivered by the host.
func (k Kind) Received() bool {
	switch k {
	case KindPageView, KindModuleSessionStarted, KindMicroGameOpened, KindFitnessContentOpened:
		return true
	default:
		return false
	}
}

// Attributes is the kind-specific payload of a record.
type Attributes interface {
	Kind() Kind
}

// Session holds the session-scoped fields shared across several kinds.
type Session struct {
	OrganisationID string `json:"organisation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Language       string `json:"language,omitempty"`
	Subdomain      string `json:"subdomain,omitempty"`
}

// sessionScoped is implemented by attributes that carry Session fields.
type sessionScoped interface {
	sessionFields() Session
}

// PageView is emitted by the page on every navigation.
type PageView struct {
	Session
}

// ModuleSessionStarted announces a play-through of a module.
type ModuleSessionStarted struct {
	ModuleSessionID string `json:"module_session_id"`
	ModuleID        string `json:"module_id"`
	Session
}

// MicroGameOpened carries the signed module_data token of an opened micro game.
type MicroGameOpened struct {
	ModuleSessionID string `json:"module_session_id"`
	ModuleData      string `json:"module_data"`
}

// FitnessContentOpened is emitted when fitness content is shown.
type FitnessContentOpened struct {
	Identifier string `json:"identifier"`
}

// DerivedModuleTiming records elapsed time between a module session start
// and the first content opened within it.
type DerivedModuleTiming struct {
	ModuleSessionID string        `json:"module_session_id"`
	ModuleID        string        `json:"module_id"`
	StartedAt       time.Time     `json:"started_at"`
	OpenedAt        time.Time     `json:"opened_at"`
	Elapsed         time.Duration `json:"elapsed"`
}

// ServerTimeSample is a successful server time fetch.
type ServerTimeSample struct {
	ServerTime time.Time `json:"server_time"`
	LocalAt    time.Time `json:"local_at"`
}

// MicroGamePayload is the decoded form of MicroGameOpened.ModuleData.
type MicroGamePayload struct {
	ModuleSessionID string         `json:"module_session_id"`
	MicroGameID     string         `json:"micro_game_id,omitempty"`
	ModuleID        string         `json:"module_id,omitempty"`
	Subject         string         `json:"subject,omitempty"`
	Claims          map[string]any `json:"claims,omitempty"`
}

// DeviceFlowValidated records that a secondary device confirmed the login.
type DeviceFlowValidated struct {
	UserID string `json:"user_id"`
}

// OrganisationFetched records organisation details returned by the backend.
type OrganisationFetched struct {
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name,omitempty"`
	Subdomain      string `json:"subdomain"`
}

// LoginTokenIssued records a one-time login token.
type LoginTokenIssued struct {
	Token string `json:"token"`
}

// ModuleSessionEnded records a module session reported as finished.
type ModuleSessionEnded struct {
	ModuleSessionID string    `json:"module_session_id"`
	ServerTime      time.Time `json:"server_time"`
	Score           int64     `json:"score"`
	Completed       bool      `json:"completed"`
}

func (PageView) Kind() Kind             { return KindPageView }
func (ModuleSessionStarted) Kind() Kind { return KindModuleSessionStarted }
func (MicroGameOpened) Kind() Kind      { return KindMicroGameOpened }
func (FitnessContentOpened) Kind() Kind { return KindFitnessContentOpened }
func (DerivedModuleTiming) Kind() Kind  { return KindDerivedModuleTiming }
func (ServerTimeSample) Kind() Kind     { return KindServerTimeSample }
func (MicroGamePayload) Kind() Kind     { return KindMicroGamePayload }
func (DeviceFlowValidated) Kind() Kind  { return KindDeviceFlowValidated }
func (OrganisationFetched) Kind() Kind  { return KindOrganisationFetched }
func (LoginTokenIssued) Kind() Kind     { return KindLoginTokenIssued }
func (ModuleSessionEnded) Kind() Kind   { return KindModuleSessionEnded }

func (a PageView) sessionFields() Session             { return a.Session }
func (a ModuleSessionStarted) sessionFields() Session { return a.Session }
func (a DeviceFlowValidated) sessionFields() Session  { return Session{UserID: a.UserID} }
func (a OrganisationFetched) sessionFields() Session {
	return Session{OrganisationID: a.OrganisationID, Subdomain: a.Subdomain}
}

// Record is one entry of the session log.
type Record struct {
	Seq        int64      `json:"seq"` // Logical clock, assigned at append
	Kind       Kind       `json:"kind"`
	Attributes Attributes `json:"attributes"`
	CapturedAt time.Time  `json:"captured_at"`
}

// Session returns the session-scoped fields carried by the record, or the
// zero Session for kinds that carry none.
func (r Record) Session() Session {
	if s, ok := r.Attributes.(sessionScoped); ok {
		return s.sessionFields()
	}
	return Session{}
}

// As returns the record's attributes as T.
func As[T Attributes](r Record) (T, bool) {
	a, ok := r.Attributes.(T)
	return a, ok
}
