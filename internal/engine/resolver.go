package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/crmsync/internal/crm"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/retry"
)

// Resolution is the outcome of a natural-key lookup.
//
// Candidates counts every remote match. When more than one record matches,
// ID is the first in the CRM's own return order.
type Resolution struct {
	ID         model.RemoteID
	Found      bool
	Candidates int
}

// Ambiguous reports whether more than one remote record matched.
func (r Resolution) Ambiguous() bool { return r.Candidates > 1 }

// Resolver finds existing CRM records by natural key.
type Resolver struct {
	client crm.Client
	policy retry.Policy
	logger *slog.Logger
}

// NewResolver returns a resolver that retries lookups under policy.
// A nil logger means slog.Default().
func NewResolver(client crm.Client, policy retry.Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, policy: policy, logger: logger}
}

// Find looks up the record of type t whose natural key is key.
//
// Zero matches is a successful, not-found Resolution. More than one match is
// never an error: the first is chosen and an ambiguity warning is logged.
// Transport failures surface as REMOTE_UNAVAILABLE once the retry budget is
// spent.
func (r *Resolver) Find(ctx context.Context, t model.EntityType, key string) (Resolution, error) {
	ref := model.EntityReference{Type: t, NaturalKey: key}
	if err := ref.Validate(); err != nil {
		return Resolution{}, err
	}

	var ids []model.RemoteID
	err := r.policy.Do(ctx, "find "+string(t), func(ctx context.Context) error {
		var err error
		ids, err = r.client.Find(ctx, t, key)
		return err
	})
	if err != nil {
		return Resolution{}, model.WithEntity(err, t, key)
	}

	switch len(ids) {
	case 0:
		return Resolution{}, nil
	case 1:
		return Resolution{ID: ids[0], Found: true, Candidates: 1}, nil
	default:
		r.logger.Warn("ambiguous identity, using first match",
			"type", t,
			"key", key,
			"candidates", len(ids),
			"chosen", ids[0],
		)
		return Resolution{ID: ids[0], Found: true, Candidates: len(ids)}, nil
	}
}
