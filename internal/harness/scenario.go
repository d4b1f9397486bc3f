package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/gamelink/internal/gateway"
	"github.com/roach88/gamelink/internal/record"
	"github.com/roach88/gamelink/internal/testutil"
)

// Scenario defines a tracker conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the fake clock's initial time. Defaults to DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// WebpageDomain is the backend's webpage domain. Defaults to DefaultWebpageDomain.
	WebpageDomain string `yaml:"webpage_domain,omitempty"`

	// Gateway maps operation names to scripted replies.
	Gateway map[string][]ReplySpec `yaml:"gateway,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Expect is checked after the last step.
	Expect Expect `yaml:"expect"`
}

// ReplySpec is one scripted gateway reply.
type ReplySpec struct {
	// Outcome is success (default), connection_failure or protocol_failure.
	Outcome      string            `yaml:"outcome,omitempty"`
	DeviceCode   string            `yaml:"device_code,omitempty"`
	LoginURL     string            `yaml:"login_url,omitempty"`
	Validated    bool              `yaml:"validated,omitempty"`
	UserID       string            `yaml:"user_id,omitempty"`
	Token        string            `yaml:"token,omitempty"`
	Organisation *OrganisationSpec `yaml:"organisation,omitempty"`
	ServerTime   time.Time         `yaml:"server_time,omitempty"`
}

// OrganisationSpec is a scripted organisation.
type OrganisationSpec struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Subdomain string `yaml:"subdomain"`
}

// Step is one scenario step. Exactly one of Message, Raw, Advance and
// Command is set.
type Step struct {
	// Message is a host envelope, sent as JSON.
	Message map[string]any `yaml:"message,omitempty"`

	// Raw is sent verbatim, for messages YAML cannot express.
	Raw string `yaml:"raw,omitempty"`

	// Advance moves the fake clock forward.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Command is a tracker command name.
	Command string `yaml:"command,omitempty"`

	// Score and Completed are the endModuleSession arguments.
	Score     int64 `yaml:"score,omitempty"`
	Completed bool  `yaml:"completed,omitempty"`
}

// Expect holds the scenario's final checks. Empty fields are not checked.
type Expect struct {
	// Notifications are the names of all notifications, in order.
	Notifications []string `yaml:"notifications,omitempty"`

	// Records maps record kinds to their count in the session log.
	// Kinds not listed are not checked.
	Records map[string]int `yaml:"records,omitempty"`

	// Errors are the codes of all rejected messages and failed commands, in order.
	Errors []string `yaml:"errors,omitempty"`
}

// Command names.
const (
	CommandStartDeviceFlow  = "startDeviceFlow"
	CommandStopDeviceFlow   = "stopDeviceFlow"
	CommandSyncServerTime   = "syncServerTime"
	CommandEndModuleSession = "endModuleSession"
)

// Defaults.
var (
	DefaultStart         = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	DefaultWebpageDomain = "example.com/"
)

var knownOps = map[testutil.Op]bool{
	testutil.OpAnnounce:         true,
	testutil.OpStatus:           true,
	testutil.OpLoginToken:       true,
	testutil.OpOrganisation:     true,
	testutil.OpServerTime:       true,
	testutil.OpEndModuleSession: true,
}

var knownKinds = map[record.Kind]bool{
	record.KindPageView:             true,
	record.KindModuleSessionStarted: true,
	record.KindMicroGameOpened:      true,
	record.KindFitnessContentOpened: true,
	record.KindDerivedModuleTiming:  true,
	record.KindServerTimeSample:     true,
	record.KindMicroGamePayload:     true,
	record.KindDeviceFlowValidated:  true,
	record.KindOrganisationFetched:  true,
	record.KindLoginTokenIssued:     true,
	record.KindModuleSessionEnded:   true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "step:" vs "steps:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for op, replies := range s.Gateway {
		if !knownOps[testutil.Op(op)] {
			return fmt.Errorf("gateway: unknown operation %q", op)
		}
		for i, r := range replies {
			if _, err := parseOutcome(r.Outcome); err != nil {
				return fmt.Errorf("gateway.%s[%d]: %w", op, i, err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for kind, n := range s.Expect.Records {
		if !knownKinds[record.Kind(kind)] {
			return fmt.Errorf("expect.records: unknown record kind %q", kind)
		}
		if n < 0 {
			return fmt.Errorf("expect.records.%s: count must be non-negative", kind)
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Message != nil {
		set++
	}
	if step.Raw != "" {
		set++
	}
	if step.Advance != 0 {
		set++
		if step.Advance < 0 {
			return fmt.Errorf("advance must be positive")
		}
	}
	if step.Command != "" {
		set++
		switch step.Command {
		case CommandStartDeviceFlow, CommandStopDeviceFlow, CommandSyncServerTime, CommandEndModuleSession:
		default:
			return fmt.Errorf("unknown command %q", step.Command)
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of message, raw, advance, command is required")
	}
	if (step.Score != 0 || step.Completed) && step.Command != CommandEndModuleSession {
		return fmt.Errorf("score and completed only apply to %s", CommandEndModuleSession)
	}
	return nil
}

func parseOutcome(s string) (gateway.Outcome, error) {
	switch s {
	case "", "success":
		return gateway.Success, nil
	case "connection_failure":
		return gateway.ConnectionFailure, nil
	case "protocol_failure":
		return gateway.ProtocolFailure, nil
	default:
		return 0, fmt.Errorf("unknown outcome %q", s)
	}
}

// scriptGateway builds the scenario's scripted gateway.
func (s *Scenario) scriptGateway() *testutil.ScriptedGateway {
	gw := testutil.NewScriptedGateway()
	for op, replies := range s.Gateway {
		for _, r := range replies {
			outcome, _ := parseOutcome(r.Outcome)
			reply := testutil.Reply{
				Outcome:    outcome,
				DeviceCode: r.DeviceCode,
				LoginURL:   r.LoginURL,
				Validated:  r.Validated,
				UserID:     r.UserID,
				Token:      r.Token,
				ServerTime: r.ServerTime,
			}
			if r.Organisation != nil {
				reply.Organisation = gateway.Organisation{
					ID:        r.Organisation.ID,
					Name:      r.Organisation.Name,
					Subdomain: r.Organisation.Subdomain,
				}
			}
			gw.Script(testutil.Op(op), reply)
		}
	}
	return gw
}
