package engine

import (
	"fmt"

	"github.com/roach88/crmsync/internal/model"
)

// Status is the terminal status of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// EntityResult records one primary upsert.
type EntityResult struct {
	Type       model.EntityType `json:"type"`
	Key        string           `json:"key"`
	ID         model.RemoteID   `json:"id"`
	Created    bool             `json:"created"`
	Candidates int              `json:"candidates,omitempty"`
}

// Outcome is the result of one orchestration run. Every run produces exactly
// one, and Reason is set for every status other than success.
//
// Outcomes are logged and rendered, never persisted.
type Outcome struct {
	ResourceID       string           `json:"resource_id"`
	RunID            string           `json:"run_id"`
	Status           Status           `json:"status"`
	State            State            `json:"state"`
	Reason           string           `json:"reason,omitempty"`
	EntitiesUpserted []model.RemoteID `json:"entities_upserted"`
	Entities         []EntityResult   `json:"entities,omitempty"`
	ActivitiesLogged int              `json:"activities_logged"`
	TasksCreated     int              `json:"tasks_created"`
	DealsCreated     int              `json:"deals_created"`
	Warnings         []string         `json:"warnings,omitempty"`

	// Err is the error behind a failed outcome.
	Err error `json:"-"`
}

// Committed reports whether the run wrote its ledger record.
func (o Outcome) Committed() bool {
	return o.Status == StatusSuccess || o.Status == StatusPartial
}

func (o *Outcome) warn(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}
