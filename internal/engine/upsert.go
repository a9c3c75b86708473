package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/crmsync/internal/crm"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/retry"
)

// UpsertResult is the outcome of one upsert.
type UpsertResult struct {
	ID         model.RemoteID
	Created    bool
	Candidates int
}

// Coordinator performs search-before-write upserts.
//
// For a given natural key it issues at most one create per resolver
// observation: a create is only ever sent right after a lookup that found
// nothing. Two processes racing on a never-seen key can still both create;
// the CRM offers no conditional create to close that window.
//
// The coordinator mutates no local state.
type Coordinator struct {
	resolver *Resolver
	client   crm.Client
	policy   retry.Policy
	logger   *slog.Logger
}

// NewCoordinator returns a coordinator that resolves through resolver and
// writes through client, retrying writes under policy.
func NewCoordinator(resolver *Resolver, client crm.Client, policy retry.Policy, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{resolver: resolver, client: client, policy: policy, logger: logger}
}

// Upsert creates ref in the CRM, or merges its attributes into the existing
// record with the same natural key.
//
// Patches carry only ref.Attributes; remote fields absent locally are never
// cleared, and an empty attribute set issues no patch at all.
// ref.CreateDefaults are used on create only.
//
// A transient create failure is followed by a fresh lookup before the next
// attempt, so a create that reached the CRM but lost its response is found
// rather than repeated. REMOTE_REJECTED errors are returned immediately.
func (c *Coordinator) Upsert(ctx context.Context, ref model.EntityReference) (UpsertResult, error) {
	if err := ref.Validate(); err != nil {
		return UpsertResult{}, err
	}
	attempts := c.policy.Attempts()

	for attempt := 1; ; attempt++ {
		res, err := c.resolver.Find(ctx, ref.Type, ref.NaturalKey)
		if err != nil {
			return UpsertResult{}, err
		}

		if res.Found {
			if err := c.patch(ctx, ref, res.ID); err != nil {
				return UpsertResult{}, err
			}
			return UpsertResult{ID: res.ID, Candidates: res.Candidates}, nil
		}

		id, err := c.client.Create(ctx, ref.Type, ref.CreateAttributes())
		if err == nil {
			c.logger.Debug("created remote record", "type", ref.Type, "key", ref.NaturalKey, "id", id)
			return UpsertResult{ID: id, Created: true}, nil
		}
		if attempt >= attempts || !c.policy.ShouldRetry(err) {
			return UpsertResult{}, model.WithEntity(err, ref.Type, ref.NaturalKey)
		}
		c.logger.Debug("create failed, re-resolving before retry",
			"type", ref.Type,
			"key", ref.NaturalKey,
			"attempt", attempt,
			"error", err,
		)
		if err := c.policy.Wait(ctx, attempt); err != nil {
			return UpsertResult{}, err
		}
	}
}

func (c *Coordinator) patch(ctx context.Context, ref model.EntityReference, id model.RemoteID) error {
	if len(ref.Attributes) == 0 {
		return nil
	}
	err := c.policy.Do(ctx, "patch "+string(ref.Type), func(ctx context.Context) error {
		return c.client.Patch(ctx, ref.Type, id, ref.Attributes)
	})
	if err != nil {
		return model.WithEntity(err, ref.Type, ref.NaturalKey)
	}
	c.logger.Debug("patched remote record", "type", ref.Type, "key", ref.NaturalKey, "id", id, "fields", ref.Attributes.Keys())
	return nil
}
