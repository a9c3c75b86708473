package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/crmsync/internal/ledger"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Trace    []testutil.Call // Calls the assertion looked at
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, c := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describeCall(c))
		}
	}
	return buf.String()
}

func describeCall(c testutil.Call) string {
	parts := []string{c.Op}
	if c.Type != "" {
		parts = append(parts, string(c.Type))
	}
	if c.Key != "" {
		parts = append(parts, c.Key)
	}
	if !c.ID.IsZero() {
		parts = append(parts, "#"+c.ID.String())
	}
	return strings.Join(parts, " ")
}

// assertTraceContains checks that some call matches the op and every
// narrowing field the assertion sets.
func assertTraceContains(trace []testutil.Call, a Assertion) error {
	for _, c := range trace {
		if c.Op != a.Op {
			continue
		}
		if a.Entity != "" && c.Type != a.Entity {
			continue
		}
		if a.Key != "" && c.Key != a.Key {
			continue
		}
		if a.ID != "" && c.ID.String() != a.ID {
			continue
		}
		return nil
	}

	want := a.Op
	for _, f := range []string{string(a.Entity), a.Key} {
		if f != "" {
			want += " " + f
		}
	}
	if a.ID != "" {
		want += " #" + a.ID
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: "call " + want,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first call of each listed op appears in
// the listed order. Intervening calls are allowed.
func assertTraceOrder(trace []testutil.Call, a Assertion) error {
	positions := make(map[string]int)
	for i, c := range trace {
		if _, seen := positions[c.Op]; !seen {
			positions[c.Op] = i + 1 // 1-indexed for readability
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that op was called exactly Count times.
func assertTraceCount(trace []testutil.Call, a Assertion) error {
	count := countOp(trace, a.Op)
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d calls of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the ledger row or remote record selected by the
// assertion against its expected values (subset semantics).
func assertFinalState(actx *AssertionContext, a Assertion) error {
	var actual map[string]any
	var where string

	if a.Table == TableLedger {
		id := fmt.Sprint(a.Where["resource_id"])
		where = "resource_id=" + id
		rec, err := actx.Ledger.Get(actx.Ctx, id)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			actual = map[string]any{"processed": false}
		case err != nil:
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: "ledger row where " + where,
				Actual:   fmt.Sprintf("query error: %v", err),
			}
		default:
			actual = map[string]any{
				"processed":    rec.Status == ledger.StatusCompleted,
				"status":       string(rec.Status),
				"processed_at": rec.ProcessedAt.UTC(),
			}
		}
	} else {
		t := model.EntityType(a.Table)
		key := fmt.Sprint(a.Where["key"])
		where = "key=" + key
		var matched []testutil.Record
		for _, r := range actx.CRM.Records(t) {
			if r.Key == key {
				matched = append(matched, r)
			}
		}
		switch len(matched) {
		case 0:
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s record where %s", t, where),
				Actual:   "record not found",
			}
		case 1:
		default:
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("exactly one %s record where %s", t, where),
				Actual:   fmt.Sprintf("%d records matched (assertion is ambiguous)", len(matched)),
			}
		}
		actual = map[string]any{"id": matched[0].ID.String()}
		for k, v := range matched[0].Attrs {
			actual[k] = v
		}
	}

	for _, key := range sortedKeys(a.Expect) {
		expected := a.Expect[key]
		got, exists := actual[key]
		if !exists {
			if expected == nil {
				continue
			}
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist in %s where %s", key, a.Table, where),
				Actual:   fmt.Sprintf("field %q not present", key),
			}
		}
		if !stateValuesEqual(expected, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expected, expected),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// assertRecordCount checks how many records of a type the CRM holds.
func assertRecordCount(actx *AssertionContext, a Assertion) error {
	t := model.EntityType(a.Table)
	n := len(actx.CRM.Records(t))
	if n != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d %s records", a.Count, t),
			Actual:   fmt.Sprintf("%d records", n),
		}
	}
	return nil
}

// stateValuesEqual compares a YAML-decoded expectation with a stored value.
// Scalars compare by their printed form, so 100 matches RemoteID "100" and
// true matches true.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	switch actual.(type) {
	case string, model.RemoteID, bool, int, int64, float64:
		return fmt.Sprint(expected) == fmt.Sprint(actual)
	}
	return reflect.DeepEqual(expected, actual)
}

func countOp(trace []testutil.Call, op string) int {
	n := 0
	for _, c := range trace {
		if c.Op == op {
			n++
		}
	}
	return n
}

func sortedOps(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides the state assertions are evaluated against.
type AssertionContext struct {
	Ledger ledger.Ledger
	CRM    *testutil.FakeCRM
	Ctx    context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error
		trace := result.Calls(a.Run)

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, a)
		case AssertTraceCount:
			err = assertTraceCount(trace, a)
		case AssertFinalState, AssertRecordCount:
			if actx == nil || actx.Ledger == nil || actx.CRM == nil {
				err = fmt.Errorf("assertion[%d]: %s requires ledger and CRM context", i, a.Type)
			} else if a.Type == AssertFinalState {
				err = assertFinalState(actx, a)
			} else {
				err = assertRecordCount(actx, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
