package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmsync/internal/ledger"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/testutil"
)

func sampleTrace() []testutil.Call {
	return []testutil.Call{
		{Op: testutil.OpFind, Type: model.EntityCompany, Key: "cyberdyne.ai"},
		{Op: testutil.OpCreate, Type: model.EntityCompany, Key: "cyberdyne.ai", ID: "100"},
		{Op: testutil.OpFind, Type: model.EntityContact, Key: "sarah@cyberdyne.ai"},
		{Op: testutil.OpCreate, Type: model.EntityContact, Key: "sarah@cyberdyne.ai", ID: "101"},
		{Op: testutil.OpLogActivity, ID: "101"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Op: "create"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Op: "create", Entity: model.EntityContact, ID: "101"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Op: "log_activity", ID: "101"}))

	err := assertTraceContains(trace, Assertion{Op: "create", Entity: model.EntityContact, ID: "100"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "call create contact #100", ae.Expected)
	assert.Contains(t, err.Error(), "[2] create company cyberdyne.ai #100")

	assert.Error(t, assertTraceContains(trace, Assertion{Op: "patch"}))
	assert.Error(t, assertTraceContains(nil, Assertion{Op: "find"}))
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Ops: []string{"find", "create", "log_activity"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Ops: []string{"find", "log_activity"}}))

	err := assertTraceOrder(trace, Assertion{Ops: []string{"create", "find"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create (pos 2) should be before find (pos 1)")

	err = assertTraceOrder(trace, Assertion{Ops: []string{"find", "patch"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing op: patch")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Op: "find", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Op: "patch", Count: 0}))

	err := assertTraceCount(trace, Assertion{Op: "create", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 1 calls of create")
	assert.Contains(t, err.Error(), "Actual: 2 calls")
}

func newAssertionContext(t *testing.T) *AssertionContext {
	t.Helper()
	l, err := ledger.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return &AssertionContext{Ledger: l, CRM: testutil.NewFakeCRM(), Ctx: context.Background()}
}

func TestAssertFinalState_Ledger(t *testing.T) {
	actx := newAssertionContext(t)
	where := map[string]any{"resource_id": "<msg-1>"}

	err := assertFinalState(actx, Assertion{Table: TableLedger, Where: where, Expect: map[string]any{"processed": false}})
	assert.NoError(t, err)

	at := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, actx.Ledger.MarkProcessed(actx.Ctx, "<msg-1>", at))

	err = assertFinalState(actx, Assertion{Table: TableLedger, Where: where, Expect: map[string]any{
		"processed": true,
		"status":    "completed",
	}})
	assert.NoError(t, err)

	err = assertFinalState(actx, Assertion{Table: TableLedger, Where: where, Expect: map[string]any{"processed": false}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "processed" = false`)
}

func TestAssertFinalState_Record(t *testing.T) {
	actx := newAssertionContext(t)
	actx.CRM.Seed(model.EntityContact, "sarah@cyberdyne.ai", model.Attributes{"first_name": "Sarah", "company_id": model.RemoteID("7")})

	where := map[string]any{"key": "sarah@cyberdyne.ai"}
	assert.NoError(t, assertFinalState(actx, Assertion{Table: "contact", Where: where, Expect: map[string]any{
		"id":         100,
		"first_name": "Sarah",
		"company_id": 7,
		"last_name":  nil,
	}}))

	err := assertFinalState(actx, Assertion{Table: "contact", Where: where, Expect: map[string]any{"last_name": "Connor"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "last_name" not present`)

	err = assertFinalState(actx, Assertion{Table: "company", Where: map[string]any{"key": "cyberdyne.ai"}, Expect: map[string]any{"id": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record not found")

	actx.CRM.Seed(model.EntityContact, "sarah@cyberdyne.ai", nil)
	err = assertFinalState(actx, Assertion{Table: "contact", Where: where, Expect: map[string]any{"id": 100}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 records matched")
}

func TestAssertRecordCount(t *testing.T) {
	actx := newAssertionContext(t)
	actx.CRM.Seed(model.EntityCompany, "cyberdyne.ai", nil)

	assert.NoError(t, assertRecordCount(actx, Assertion{Table: "company", Count: 1}))
	assert.NoError(t, assertRecordCount(actx, Assertion{Table: "contact", Count: 0}))

	err := assertRecordCount(actx, Assertion{Table: "company", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2 company records")
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"int vs remote id", 100, model.RemoteID("100"), true},
		{"string vs string", "Sarah", "Sarah", true},
		{"bool", true, true, true},
		{"bool mismatch", true, false, false},
		{"int vs float", 50000, 50000.0, true},
		{"slices", []any{"a"}, []any{"a"}, true},
		{"slices differ", []any{"a"}, []any{"b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Runs = []RunResult{{Run: 1, Calls: sampleTrace()}, {Run: 2, Calls: nil}}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Op: "find", Count: 2},
		{Type: AssertTraceCount, Op: "find", Count: 0, Run: 2},
		{Type: AssertTraceContains, Op: "patch"},
		{Type: AssertRecordCount, Table: "company"},
		{Type: "bogus"},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "call patch")
	assert.Contains(t, errs[1], "requires ledger and CRM context")
	assert.Contains(t, errs[2], `unknown assertion type "bogus"`)
}
