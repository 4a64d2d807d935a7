package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pushreg/internal/activation"
	"github.com/roach88/pushreg/internal/device"
	"github.com/roach88/pushreg/internal/pusherr"
	"github.com/roach88/pushreg/internal/testutil"
)

// Scenario defines an activation test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario (and its golden file).
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup seeds the store before the machine is restored.
	Setup Setup `yaml:"setup,omitempty"`

	// Script lists automatic responses per request kind, consumed in order.
	Script map[string][]EventSpec `yaml:"script,omitempty"`

	// Flow is the sequence of steps fed to the machine.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup describes the initial store contents.
type Setup struct {
	// NoDevice skips provisioning the device identity.
	NoDevice bool `yaml:"no_device,omitempty"`

	// UpdateToken marks the device as already registered.
	UpdateToken string `yaml:"update_token,omitempty"`

	// RegistrationToken stores a platform token.
	RegistrationToken *TokenSpec `yaml:"registration_token,omitempty"`

	// State and Pending are written as the checkpoint.
	State   string      `yaml:"state,omitempty"`
	Pending []EventSpec `yaml:"pending,omitempty"`
}

// TokenSpec is a platform registration token.
type TokenSpec struct {
	Type  string `yaml:"type"`
	Token string `yaml:"token"`
}

// EventSpec describes an activation event.
type EventSpec struct {
	// Event is the event kind.
	Event string `yaml:"event,omitempty"`

	// UpdateToken is the payload of RegistrationTokenReceived.
	UpdateToken string `yaml:"update_token,omitempty"`

	// Error is the reason message of the *Failed kinds. With StatusCode set
	// the reason is a server error, otherwise a transport error.
	Error      string `yaml:"error,omitempty"`
	StatusCode int    `yaml:"status_code,omitempty"`
}

// FlowStep is one step of the main flow. Exactly one of Event (alone),
// Resolve (with Event) or Restart is set.
type FlowStep struct {
	EventSpec `yaml:",inline"`

	// Resolve delivers Event as the outcome of the oldest outstanding
	// request of this kind (register, update, deregister).
	Resolve string `yaml:"resolve,omitempty"`

	// Restart drops the machine and restores a new one from the store.
	Restart bool `yaml:"restart,omitempty"`

	// Expect is checked after the step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the machine after a step.
type ExpectClause struct {
	// State is the expected state, as rendered by activation.State.String.
	State string `yaml:"state,omitempty"`

	// Pending is the expected pending queue length.
	Pending *int `yaml:"pending,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Values is the expected sequence (requests, callbacks, trace_order).
	Values []string `yaml:"values,omitempty"`

	// Event and Count are used by trace_count.
	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Expect is used by final_state. Keys: state, pending, update_token,
	// registration_token.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertRequests   = "requests"
	AssertCallbacks  = "callbacks"
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
	AssertFinalState = "final_state"
)

var requestKinds = map[string]testutil.RequestKind{
	string(testutil.RequestRegister):   testutil.RequestRegister,
	string(testutil.RequestUpdate):     testutil.RequestUpdate,
	string(testutil.RequestDeregister): testutil.RequestDeregister,
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if s.Setup.State != "" {
		if _, err := activation.ParseStateID(s.Setup.State); err != nil {
			return fmt.Errorf("setup.state: %w", err)
		}
	}
	if tok := s.Setup.RegistrationToken; tok != nil && !device.TokenType(tok.Type).Valid() {
		return fmt.Errorf("setup.registration_token: unknown type %q", tok.Type)
	}
	for i, ev := range s.Setup.Pending {
		if _, err := ev.toEvent(); err != nil {
			return fmt.Errorf("setup.pending[%d]: %w", i, err)
		}
	}

	for kind, events := range s.Script {
		if _, ok := requestKinds[kind]; !ok {
			return fmt.Errorf("script: unknown request kind %q", kind)
		}
		for i, ev := range events {
			if _, err := ev.toEvent(); err != nil {
				return fmt.Errorf("script.%s[%d]: %w", kind, i, err)
			}
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step FlowStep) error {
	if step.Restart {
		if step.Event != "" || step.Resolve != "" {
			return errors.New("restart cannot be combined with event or resolve")
		}
		return nil
	}
	if step.Event == "" {
		return errors.New("event is required")
	}
	if step.Resolve != "" {
		if _, ok := requestKinds[step.Resolve]; !ok {
			return fmt.Errorf("unknown request kind %q", step.Resolve)
		}
	}
	_, err := step.toEvent()
	return err
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertRequests, AssertCallbacks:
		return nil
	case AssertTraceOrder:
		if len(a.Values) == 0 {
			return errors.New("values list is required for trace_order")
		}
	case AssertTraceCount:
		if a.Event == "" {
			return errors.New("event is required for trace_count")
		}
		if a.Count < 0 {
			return errors.New("count must be non-negative for trace_count")
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return errors.New("expect is required for final_state")
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// toEvent builds the activation event described by e.
func (e EventSpec) toEvent() (activation.Event, error) {
	kind, err := activation.ParseEventKind(e.Event)
	if err != nil {
		return activation.Event{}, err
	}

	var reason *pusherr.Error
	if e.StatusCode > 0 {
		reason = pusherr.Server(e.StatusCode, 0, e.Error)
	} else if e.Error != "" {
		reason = pusherr.Transport(errors.New(e.Error))
	}

	switch kind {
	case activation.KindRegistrationTokenReceived:
		if e.UpdateToken == "" {
			return activation.Event{}, fmt.Errorf("%s requires update_token", kind)
		}
		return activation.RegistrationTokenReceived(e.UpdateToken), nil
	case activation.KindRegistrationTokenFailed:
		return activation.RegistrationTokenFailed(reason), nil
	case activation.KindRegistrationUpdateFailed:
		return activation.RegistrationUpdateFailed(reason), nil
	case activation.KindDeregistrationFailed:
		return activation.DeregistrationFailed(reason), nil
	}
	return activation.Event{Kind: kind}, nil
}
