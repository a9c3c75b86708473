package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/crmsync/internal/engine"
	"github.com/roach88/crmsync/internal/extract"
	"github.com/roach88/crmsync/internal/ledger"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/retry"
	"github.com/roach88/crmsync/internal/testutil"
)

// DefaultRetries is the attempt budget used when a scenario sets none.
const DefaultRetries = 3

// Harness holds the collaborators shared by every run of one scenario.
type Harness struct {
	ledger ledger.Ledger
	crm    *testutil.FakeCRM
	orch   *engine.Orchestrator
	logger *slog.Logger
}

// Run executes a scenario against a fresh SQLite ledger at ledgerPath and a
// fresh in-memory CRM, and returns the result.
//
// Execution flow:
//  1. Open the ledger and seed the CRM
//  2. For each run: queue failures, run the orchestrator, record its calls
//     and check its expect clause
//  3. Evaluate assertions against the trace, ledger and CRM
//
// An error is returned only when the scenario cannot be executed at all.
func Run(scenario *Scenario, ledgerPath string) (*Result, error) {
	l, err := ledger.OpenSQLite(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer l.Close()

	fake := testutil.NewFakeCRM()
	for _, seed := range scenario.Seed {
		fake.Seed(seed.Type, seedKey(seed), model.Attributes(seed.Attrs))
	}

	retries := scenario.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	policy := retry.DefaultPolicy().WithMaxAttempts(retries)
	policy.Sleep = retry.NoSleep

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	ents := scenario.Entities
	h := &Harness{
		ledger: l,
		crm:    fake,
		logger: logger,
		orch: engine.NewOrchestrator(l, extract.StaticExtractor{Entities: &ents}, fake,
			engine.WithRetryPolicy(policy),
			engine.WithClock(testutil.NewStepClock(time.Time{}, time.Second)),
			engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(scenario.RunID)),
			engine.WithLogger(logger),
		),
	}

	ctx := context.Background()
	result := NewResult()
	res := scenario.Resource.Resource()
	for i, step := range scenario.Runs {
		result.Runs = append(result.Runs, h.executeRun(ctx, i+1, res, step))
		if step.Expect != nil {
			for _, msg := range checkExpect(result.Runs[i], step.Expect) {
				result.AddError(fmt.Sprintf("run %d: %s", i+1, msg))
			}
		}
	}

	actx := &AssertionContext{Ledger: l, CRM: fake, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeRun queues the step's failures, runs the orchestrator once and
// captures the calls made during the run.
func (h *Harness) executeRun(ctx context.Context, n int, res model.Resource, step RunStep) RunResult {
	for _, f := range step.Failures {
		count := f.Count
		if count == 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			if f.AfterApply {
				h.crm.FailNextAfterApply(f.Op, f.err())
			} else {
				h.crm.FailNext(f.Op, f.err())
			}
		}
	}

	h.crm.ResetCalls()
	out := h.orch.Run(ctx, res, engine.RunOptions{Force: step.Force})
	calls := h.crm.Calls()

	h.logger.Info("scenario run completed",
		"run", n,
		"status", out.Status,
		"calls", len(calls),
	)
	return RunResult{
		Run:              n,
		Force:            step.Force,
		Status:           out.Status,
		State:            out.State,
		Reason:           out.Reason,
		EntitiesUpserted: out.EntitiesUpserted,
		Warnings:         out.Warnings,
		Calls:            calls,
		outcome:          out,
	}
}

// checkExpect compares a run with its expect clause and returns one message
// per mismatch.
func checkExpect(r RunResult, e *ExpectClause) []string {
	var errs []string
	mismatch := func(field string, want, got any) {
		errs = append(errs, fmt.Sprintf("%s: expected %v, got %v", field, want, got))
	}

	out := r.outcome
	if string(out.Status) != e.Status {
		mismatch("status", e.Status, fmt.Sprintf("%s (reason: %s)", out.Status, out.Reason))
	}
	if e.ReasonContains != "" && !strings.Contains(out.Reason, e.ReasonContains) {
		mismatch("reason", fmt.Sprintf("containing %q", e.ReasonContains), fmt.Sprintf("%q", out.Reason))
	}
	if e.Entities != nil && *e.Entities != len(out.EntitiesUpserted) {
		mismatch("entities", *e.Entities, len(out.EntitiesUpserted))
	}
	if e.Created != nil {
		created := 0
		for _, ent := range out.Entities {
			if ent.Created {
				created++
			}
		}
		if created != *e.Created {
			mismatch("created", *e.Created, created)
		}
	}
	if e.Activities != nil && *e.Activities != out.ActivitiesLogged {
		mismatch("activities", *e.Activities, out.ActivitiesLogged)
	}
	if e.Tasks != nil && *e.Tasks != out.TasksCreated {
		mismatch("tasks", *e.Tasks, out.TasksCreated)
	}
	if e.Deals != nil && *e.Deals != out.DealsCreated {
		mismatch("deals", *e.Deals, out.DealsCreated)
	}
	if e.Warnings != nil && *e.Warnings != len(out.Warnings) {
		mismatch("warnings", *e.Warnings, fmt.Sprintf("%d %v", len(out.Warnings), out.Warnings))
	}
	for _, op := range sortedOps(e.Calls) {
		got := countOp(r.Calls, op)
		if got != e.Calls[op] {
			mismatch("calls."+op, e.Calls[op], got)
		}
	}
	return errs
}

// seedKey normalizes a seed's natural key the way lookups do.
func seedKey(s SeedRecord) string {
	if s.Type == model.EntityContact {
		return model.NormalizeEmail(s.Key)
	}
	return model.NormalizeDomain(s.Key)
}
