package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/testutil"
)

// Scenario defines an end-to-end sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is the fixed run id reported by every run.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Retries is the attempt budget per lookup or upsert (default 3).
	Retries int `yaml:"retries,omitempty"`

	// Resource is the input synchronized by every run.
	Resource ResourceSpec `yaml:"resource"`

	// Entities is what extraction returns for the resource.
	Entities model.StructuredEntities `yaml:"entities"`

	// Seed lists records present in the CRM before the first run.
	Seed []SeedRecord `yaml:"seed,omitempty"`

	// Runs are executed in order against the same ledger and CRM.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the call trace and final state after all runs.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ResourceSpec describes the resource under test.
type ResourceSpec struct {
	ID      string    `yaml:"id"`
	Subject string    `yaml:"subject,omitempty"`
	Date    time.Time `yaml:"date,omitempty"`
}

// Resource converts the scenario input into a sync resource.
func (r ResourceSpec) Resource() model.Resource {
	return model.Resource{ID: r.ID, Subject: r.Subject, ContextDate: r.Date}
}

// SeedRecord is a CRM record that exists before the scenario starts.
type SeedRecord struct {
	Type  model.EntityType `yaml:"type"`
	Key   string           `yaml:"key"`
	Attrs map[string]any   `yaml:"attrs,omitempty"`
}

// RunStep is one orchestrator run.
type RunStep struct {
	// Force bypasses the ledger check.
	Force bool `yaml:"force,omitempty"`

	// Failures are queued on the CRM before the run starts.
	Failures []FailureSpec `yaml:"failures,omitempty"`

	// Expect describes the outcome. If nil, the run is not checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// FailureSpec queues errors for one CRM operation.
type FailureSpec struct {
	// Op is a CRM operation name (find, create, patch, log_activity,
	// create_task, create_deal).
	Op string `yaml:"op"`

	// Code is REMOTE_UNAVAILABLE or REMOTE_REJECTED.
	Code model.ErrorCode `yaml:"code"`

	// Status is the HTTP status carried by the error (default 503 or 422).
	Status int `yaml:"status,omitempty"`

	// Count is how many consecutive calls fail (default 1).
	Count int `yaml:"count,omitempty"`

	// AfterApply makes the call take effect before the error is returned,
	// like a write whose response was lost.
	AfterApply bool `yaml:"after_apply,omitempty"`
}

// err builds the injected error.
func (f FailureSpec) err() error {
	switch f.Code {
	case model.ErrCodeRemoteRejected:
		status := f.Status
		if status == 0 {
			status = 422
		}
		return model.NewRemoteRejected("injected rejection", status, nil)
	default:
		status := f.Status
		if status == 0 {
			status = 503
		}
		return model.NewRemoteUnavailable("injected outage", status, nil)
	}
}

// ExpectClause specifies the expected outcome of a run.
// Only the fields that are set are checked.
type ExpectClause struct {
	// Status is the expected terminal status (success, partial, skipped, failed).
	Status string `yaml:"status"`

	// ReasonContains must be a substring of the outcome reason.
	ReasonContains string `yaml:"reason_contains,omitempty"`

	// Created is the number of primary entities created (not patched).
	Created *int `yaml:"created,omitempty"`

	// Entities is the number of primary entities upserted.
	Entities *int `yaml:"entities,omitempty"`

	Activities *int `yaml:"activities,omitempty"`
	Tasks      *int `yaml:"tasks,omitempty"`
	Deals      *int `yaml:"deals,omitempty"`
	Warnings   *int `yaml:"warnings,omitempty"`

	// Calls maps CRM operations to their exact call count in this run.
	// Operations not listed are not checked; list an op with 0 to forbid it.
	Calls map[string]int `yaml:"calls,omitempty"`
}

// Assertion validates the call trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a call matching op/type/key/id exists
	// - "trace_order": first calls of ops appear in order
	// - "trace_count": op was called exactly count times
	// - "final_state": ledger row or remote record holds expected values
	// - "record_count": the CRM holds count records of a type
	Type string `yaml:"type"`

	// Run restricts trace assertions to one run (1-based). 0 means all runs.
	Run int `yaml:"run,omitempty"`

	// Op is the CRM operation (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Entity, Key and ID narrow trace_contains.
	Entity model.EntityType `yaml:"entity,omitempty"`
	Key    string           `yaml:"key,omitempty"`
	ID     string           `yaml:"id,omitempty"`

	// Ops is the expected operation order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Table is "ledger", "company" or "contact" (final_state, record_count).
	Table string `yaml:"table,omitempty"`

	// Where selects the row: resource_id for the ledger, key for records.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state).
	// Subset match: only listed fields are checked.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (trace_count, record_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRecordCount   = "record_count"
)

// TableLedger selects the ledger in final_state assertions.
const TableLedger = "ledger"

var knownOps = map[string]bool{
	testutil.OpFind:        true,
	testutil.OpCreate:      true,
	testutil.OpPatch:       true,
	testutil.OpLogActivity: true,
	testutil.OpCreateTask:  true,
	testutil.OpCreateDeal:  true,
}

var knownStatuses = map[string]bool{"success": true, "partial": true, "skipped": true, "failed": true}

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

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
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
	if strings.TrimSpace(s.Resource.ID) == "" {
		return fmt.Errorf("resource.id is required")
	}
	if s.Retries < 0 {
		return fmt.Errorf("retries must be non-negative")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	for i, seed := range s.Seed {
		if !seed.Type.Valid() {
			return fmt.Errorf("seed[%d]: unknown type %q", i, seed.Type)
		}
		if seed.Key == "" {
			return fmt.Errorf("seed[%d]: key is required", i)
		}
	}

	for i, run := range s.Runs {
		for j, f := range run.Failures {
			if !knownOps[f.Op] {
				return fmt.Errorf("runs[%d].failures[%d]: unknown op %q", i, j, f.Op)
			}
			if f.Code != model.ErrCodeRemoteUnavailable && f.Code != model.ErrCodeRemoteRejected {
				return fmt.Errorf("runs[%d].failures[%d]: code must be %s or %s", i, j, model.ErrCodeRemoteUnavailable, model.ErrCodeRemoteRejected)
			}
			if f.Count < 0 {
				return fmt.Errorf("runs[%d].failures[%d]: count must be non-negative", i, j)
			}
		}
		if run.Expect != nil {
			if !knownStatuses[run.Expect.Status] {
				return fmt.Errorf("runs[%d].expect: status must be one of success, partial, skipped, failed", i)
			}
			for op := range run.Expect.Calls {
				if !knownOps[op] {
					return fmt.Errorf("runs[%d].expect.calls: unknown op %q", i, op)
				}
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Runs)); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Run < 0 || a.Run > runs {
		return fmt.Errorf("assertions[%d]: run %d out of range", index, a.Run)
	}

	switch a.Type {
	case AssertTraceContains:
		if !knownOps[a.Op] {
			return fmt.Errorf("assertions[%d]: known op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if !knownOps[a.Op] {
			return fmt.Errorf("assertions[%d]: known op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table != TableLedger && !model.EntityType(a.Table).Valid() {
			return fmt.Errorf("assertions[%d]: table must be ledger, company or contact for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRecordCount:
		if !model.EntityType(a.Table).Valid() {
			return fmt.Errorf("assertions[%d]: table must be company or contact for record_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
