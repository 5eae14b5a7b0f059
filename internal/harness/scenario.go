package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/orchd/internal/store"
	"github.com/roach88/orchd/internal/task"
)

// Scenario is one reconciliation test.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Device overrides the simulator's default profile.
	Device *DeviceProfile `yaml:"device,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// DeviceProfile overrides parts of the default simulator configuration.
// Unset fields keep their defaults.
type DeviceProfile struct {
	Ports            int      `yaml:"ports,omitempty"`
	AutoNeg          *bool    `yaml:"autoneg,omitempty"`
	LinkTraining     *bool    `yaml:"link_training,omitempty"`
	LinkFollowsAdmin *bool    `yaml:"link_follows_admin,omitempty"`
	FECModes         []string `yaml:"fec_modes,omitempty"`
	Speeds           []uint32 `yaml:"speeds,omitempty"`
}

// Step is one scenario action. Exactly one of Set, Del, Drain, Bootstrap,
// Notify and Fail is given.
type Step struct {
	// Set writes Fields to "TABLE|key" in DB.
	Set string `yaml:"set,omitempty"`
	// Del deletes "TABLE|key" from DB.
	Del string `yaml:"del,omitempty"`
	// DB defaults to APPL.
	DB     string `yaml:"db,omitempty"`
	Fields Fields `yaml:"fields,omitempty"`

	// Drain executes every executor this many times.
	Drain int `yaml:"drain,omitempty"`
	// Bootstrap refills and drains every queue.
	Bootstrap bool `yaml:"bootstrap,omitempty"`

	Notify *NotifyStep `yaml:"notify,omitempty"`
	Fail   *FaultStep  `yaml:"fail,omitempty"`
}

// NotifyStep forces a port's oper status.
type NotifyStep struct {
	Port string `yaml:"port"`
	Oper string `yaml:"oper"`
}

// FaultStep makes upcoming device calls fail.
type FaultStep struct {
	Op     string `yaml:"op"`
	Type   string `yaml:"type"`
	Attr   string `yaml:"attr,omitempty"`
	Status string `yaml:"status"`
	Count  int    `yaml:"count,omitempty"`
}

// Fields is an ordered field map.
type Fields []task.FieldValue

// UnmarshalYAML reads a mapping, keeping its order. Scalars of any type
// are taken as written.
func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping", node.Line)
	}
	out := make(Fields, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: field %q must be a scalar", v.Line, k.Value)
		}
		out = append(out, task.FieldValue{Field: k.Value, Value: v.Value})
	}
	*f = out
	return nil
}

// Assertion checks the state after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Table names the queue (pending) or row table (state).
	Table string `yaml:"table,omitempty"`
	// Count is the expected queue length (pending).
	Count *int `yaml:"count,omitempty"`

	// Port names the port (port).
	Port string `yaml:"port,omitempty"`

	// DB and Key locate the row (state). DB defaults to STATE.
	DB  string `yaml:"db,omitempty"`
	Key string `yaml:"key,omitempty"`

	// Expect holds the expected fields (port, state). An empty value
	// expects the field to be absent.
	Expect map[string]string `yaml:"expect,omitempty"`

	// Calls must appear in the trace in this order (calls).
	Calls []string `yaml:"calls,omitempty"`

	// Ready is the expected readiness (all_ports_ready).
	Ready *bool `yaml:"ready,omitempty"`
}

// Assertion types.
const (
	AssertPending       = "pending"
	AssertPort          = "port"
	AssertCalls         = "calls"
	AssertAllPortsReady = "all_ports_ready"
	AssertState         = "state"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// splitTableKey splits "TABLE|key" at the first delimiter.
func splitTableKey(s string) (table, key string, ok bool) {
	table, key, ok = strings.Cut(s, "|")
	return table, key, ok && table != "" && key != ""
}

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
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(s Step) error {
	n := 0
	for _, set := range []bool{s.Set != "", s.Del != "", s.Drain > 0, s.Bootstrap, s.Notify != nil, s.Fail != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("exactly one of set, del, drain, bootstrap, notify, fail is required")
	}
	if s.DB != "" && !store.ValidDB(s.DB) {
		return fmt.Errorf("unknown db %q", s.DB)
	}
	switch {
	case s.Set != "":
		if _, _, ok := splitTableKey(s.Set); !ok {
			return fmt.Errorf("set %q: want TABLE|key", s.Set)
		}
	case s.Del != "":
		if _, _, ok := splitTableKey(s.Del); !ok {
			return fmt.Errorf("del %q: want TABLE|key", s.Del)
		}
		if len(s.Fields) > 0 {
			return fmt.Errorf("del takes no fields")
		}
	case s.Notify != nil:
		if s.Notify.Port == "" || (s.Notify.Oper != "up" && s.Notify.Oper != "down") {
			return fmt.Errorf("notify needs a port and oper up or down")
		}
	case s.Fail != nil:
		if s.Fail.Op == "" || s.Fail.Type == "" || s.Fail.Status == "" {
			return fmt.Errorf("fail needs op, type and status")
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertPending:
		if a.Table == "" || a.Count == nil {
			return fmt.Errorf("table and count are required for pending")
		}
	case AssertPort:
		if a.Port == "" || len(a.Expect) == 0 {
			return fmt.Errorf("port and expect are required for port")
		}
	case AssertCalls:
		if len(a.Calls) == 0 {
			return fmt.Errorf("calls list is required for calls")
		}
	case AssertAllPortsReady:
		if a.Ready == nil {
			return fmt.Errorf("ready is required for all_ports_ready")
		}
	case AssertState:
		if a.Table == "" || a.Key == "" || len(a.Expect) == 0 {
			return fmt.Errorf("table, key and expect are required for state")
		}
		if a.DB != "" && !store.ValidDB(a.DB) {
			return fmt.Errorf("unknown db %q", a.DB)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
