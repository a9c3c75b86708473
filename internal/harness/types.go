package harness

import (
	"github.com/roach88/crmsync/internal/engine"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/testutil"
)

// RunResult is what one orchestrator run did.
type RunResult struct {
	Run              int              `json:"run"`
	Force            bool             `json:"force,omitempty"`
	Status           engine.Status    `json:"status"`
	State            engine.State     `json:"state"`
	Reason           string           `json:"reason,omitempty"`
	EntitiesUpserted []model.RemoteID `json:"entities_upserted"`
	Warnings         []string         `json:"warnings,omitempty"`
	Calls            []testutil.Call  `json:"calls"`

	outcome engine.Outcome
}

// Outcome returns the orchestrator outcome of the run.
func (r RunResult) Outcome() engine.Outcome { return r.outcome }

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every run expectation and assertion held.
	Pass bool `json:"pass"`

	// Runs holds one entry per scenario run, in order.
	Runs []RunResult `json:"runs"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []RunResult{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Calls returns the calls of run (1-based), or of every run when run is 0.
func (r *Result) Calls(run int) []testutil.Call {
	if run > 0 {
		if run > len(r.Runs) {
			return nil
		}
		return r.Runs[run-1].Calls
	}
	var all []testutil.Call
	for _, rr := range r.Runs {
		all = append(all, rr.Calls...)
	}
	return all
}
