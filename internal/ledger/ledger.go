package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/roach88/crmsync/internal/model"
)

// Status is the state of a ledger record.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("ledger: record not found")

// Record is one processed resource.
type Record struct {
	ResourceID  string    `json:"resource_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Status      Status    `json:"status"`
}

// Ledger is durable storage of processed resource ids.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Ledger interface {
	// HasProcessed reports whether a completed record exists for id.
	HasProcessed(ctx context.Context, id string) (bool, error)

	// MarkProcessed records id as completed at the given time.
	// Idempotent: a second call for the same id changes nothing.
	MarkProcessed(ctx context.Context, id string, at time.Time) error

	// Forget removes any record for id. Absent ids are not an error.
	Forget(ctx context.Context, id string) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// List returns up to limit records, most recently processed first.
	// limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]Record, error)

	Close() error
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewInvalidInput("resource id is empty")
	}
	return nil
}

func storageErr(op string, err error) error {
	return model.NewStorageError(op, err)
}

// parseTime converts a processed_at column value into a time.Time.
// Databases created by older tooling stored CURRENT_TIMESTAMP text.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case nil:
		return time.Time{}, nil
	case []byte:
		return parseTimeString(string(t))
	case string:
		return parseTimeString(t)
	default:
		return time.Time{}, errors.New("unsupported processed_at type")
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unparseable processed_at " + s)
}
