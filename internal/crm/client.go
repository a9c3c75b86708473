// Package crm is the client for the remote CRM REST API.
//
// The Client interface carries exactly the operations the sync engine needs:
// natural-key search, create, merge-patch, and the secondary writes (notes,
// tasks, deals). HTTPClient makes one attempt per call and classifies every
// failure as model.ErrCodeRemoteUnavailable (transport, 429, 5xx) or
// model.ErrCodeRemoteRejected (other 4xx, malformed responses). Retrying is the
// caller's concern.
package crm

import (
	"context"
	"time"

	"github.com/roach88/crmsync/internal/model"
)

// Client is the remote CRM.
type Client interface {
	// Find returns the ids of records whose natural key equals key, in the
	// order the CRM returned them. No match is an empty slice, not an error.
	Find(ctx context.Context, t model.EntityType, key string) ([]model.RemoteID, error)

	// Create inserts a record and returns its id.
	Create(ctx context.Context, t model.EntityType, attrs model.Attributes) (model.RemoteID, error)

	// Patch merges attrs into an existing record. Fields absent from attrs
	// are left untouched remotely.
	Patch(ctx context.Context, t model.EntityType, id model.RemoteID, attrs model.Attributes) error

	LogActivity(ctx context.Context, a Activity) error
	CreateTask(ctx context.Context, task Task) error
	CreateDeal(ctx context.Context, d Deal) (model.RemoteID, error)
}

// Activity is a note attached to a contact or a company.
// Exactly one of ContactID and CompanyID is set.
type Activity struct {
	Type      model.ActivityKind
	ContactID model.RemoteID
	CompanyID model.RemoteID
	Text      string
	Date      time.Time
}

// Task is a follow-up attached to a contact.
type Task struct {
	ContactID model.RemoteID
	Text      string
	DueDate   string
	Priority  string
}

// Deal is a sales opportunity.
type Deal struct {
	Name        string
	CompanyID   model.RemoteID
	ContactIDs  []model.RemoteID
	Amount      float64
	Stage       string
	Category    string
	Description string
}

// DefaultDealStage is used when a deal carries no stage.
const DefaultDealStage = "discovery"

// ContactNoteStatus is the status every contact note is filed with.
const ContactNoteStatus = "New"

// DefaultTaskPriority is used when a task carries no priority.
const DefaultTaskPriority = "Medium"
