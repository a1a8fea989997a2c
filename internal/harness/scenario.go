package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/voltchain/internal/engine"
	"github.com/roach88/voltchain/internal/ir"
)

// DefaultNamespace is used when a scenario does not name one.
const DefaultNamespace = "scenario"

// Scenario defines one ledger scenario.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Namespace selects the pool. Defaults to DefaultNamespace.
	Namespace string `yaml:"namespace,omitempty"`

	// AssetField overrides the notification key of the pool's credit mint.
	AssetField string `yaml:"asset_field,omitempty"`

	// Setup establishes state. Every setup step must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the part under test. Steps may expect failures.
	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one instruction plus its expected outcome.
type Step struct {
	engine.Instruction `yaml:",inline"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the outcome a step must produce.
type Expect struct {
	// Error is the failure code the step must return. Empty means success.
	Error engine.Code `yaml:"error,omitempty"`

	// Payload is a subset match on the emitted notification's payload.
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Assertion validates the notification log or the final records.
type Assertion struct {
	Type string `yaml:"type"`

	// Name is the event name (event_emitted, event_count).
	Name string `yaml:"name,omitempty"`

	// Payload is a subset match for event_emitted.
	Payload map[string]any `yaml:"payload,omitempty"`

	// Events is the expected relative order for event_order.
	Events []string `yaml:"events,omitempty"`

	// Count is the exact occurrence count for event_count.
	Count int `yaml:"count,omitempty"`

	// Record selects the record kind for final_state: pool, position, sale or claim.
	Record string      `yaml:"record,omitempty"`
	Owner  ir.Identity `yaml:"owner,omitempty"`
	User   ir.Identity `yaml:"user,omitempty"`
	SaleID *uint64     `yaml:"sale_id,omitempty"`

	// Absent asserts the selected record does not exist.
	Absent bool `yaml:"absent,omitempty"`

	// Expect is a subset match on the record's fields.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventEmitted = "event_emitted"
	AssertEventOrder   = "event_order"
	AssertEventCount   = "event_count"
	AssertFinalState   = "final_state"
	AssertAuditClean   = "audit_clean"
)

// Record selectors for final_state.
const (
	RecordPool     = "pool"
	RecordPosition = "position"
	RecordSale     = "sale"
	RecordClaim    = "claim"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Namespace == "" {
		scenario.Namespace = DefaultNamespace
	}

	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
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
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil && step.Expect.Error != "" {
			return fmt.Errorf("setup[%d]: setup steps cannot expect an error", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Transition == "" {
		return fmt.Errorf("transition is required")
	}
	if !slices.Contains(ir.Transitions, step.Transition) {
		return fmt.Errorf("unknown transition %q", step.Transition)
	}
	if step.Caller == "" {
		return fmt.Errorf("caller is required")
	}
	if step.Expect != nil && step.Expect.Error != "" && len(step.Expect.Payload) > 0 {
		return fmt.Errorf("expect: payload cannot be checked on a failing step")
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventEmitted:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for event_emitted", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertFinalState:
		if err := validateRecordSelector(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertAuditClean:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validateRecordSelector(a *Assertion) error {
	switch a.Record {
	case RecordPool:
	case RecordPosition:
		if a.Owner == "" {
			return fmt.Errorf("owner is required for a position")
		}
	case RecordSale:
		if a.SaleID == nil {
			return fmt.Errorf("sale_id is required for a sale")
		}
	case RecordClaim:
		if a.User == "" || a.SaleID == nil {
			return fmt.Errorf("user and sale_id are required for a claim")
		}
	case "":
		return fmt.Errorf("record is required for final_state")
	default:
		return fmt.Errorf("unknown record %q", a.Record)
	}
	return nil
}
