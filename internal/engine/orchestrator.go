package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/crmsync/internal/crm"
	"github.com/roach88/crmsync/internal/ledger"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/retry"
)

// Extractor turns a resource into validated structured entities.
// Relative dates in the resource are grounded against Resource.ContextDate.
type Extractor interface {
	Extract(ctx context.Context, res model.Resource) (*model.StructuredEntities, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, res model.Resource) (*model.StructuredEntities, error)

func (f ExtractorFunc) Extract(ctx context.Context, res model.Resource) (*model.StructuredEntities, error) {
	return f(ctx, res)
}

// RunOptions control a single run.
type RunOptions struct {
	// Force skips the ledger check so an already processed resource is
	// synchronized again.
	Force bool
}

// Orchestrator drives resources through the sync state machine.
type Orchestrator struct {
	ledger    ledger.Ledger
	extractor Extractor
	client    crm.Client
	policy    retry.Policy
	clock     Clock
	runIDs    RunIDGenerator
	logger    *slog.Logger

	resolver    *Resolver
	coordinator *Coordinator
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy sets the policy used for lookups and primary writes.
// Default: retry.DefaultPolicy().
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithClock sets the processing-time source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithRunIDGenerator sets the run id source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(o *Orchestrator) { o.runIDs = g }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the ledger, extractor and CRM client into an
// orchestrator.
func NewOrchestrator(l ledger.Ledger, x Extractor, client crm.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:    l,
		extractor: x,
		client:    client,
		policy:    retry.DefaultPolicy(),
		clock:     SystemClock{},
		runIDs:    UUIDv7Generator{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.resolver = NewResolver(client, o.policy, o.logger)
	o.coordinator = NewCoordinator(o.resolver, client, o.policy, o.logger)
	return o
}

// Coordinator returns the upsert coordinator used for primary writes.
func (o *Orchestrator) Coordinator() *Coordinator { return o.coordinator }

// run holds the mutable state of one orchestration run.
type run struct {
	res     model.Resource
	state   State
	outcome Outcome
	logger  *slog.Logger

	companies     map[string]model.RemoteID
	firstCompany  model.RemoteID
	contacts      map[string]model.RemoteID
	contactOrder  []model.RemoteID
	secondaryFail int
	secondaryAll  int
}

func (r *run) enter(to State) {
	r.state = mustTransition(r.state, to)
	r.outcome.State = r.state
	r.logger.Debug("state transition", "state", to)
}

// Run synchronizes one resource and returns its outcome. It never returns
// without a terminal status.
func (o *Orchestrator) Run(ctx context.Context, res model.Resource, opts RunOptions) Outcome {
	runID := o.runIDs.Generate()
	r := &run{
		res:   res,
		state: StateNotStarted,
		outcome: Outcome{
			ResourceID:       res.ID,
			RunID:            runID,
			State:            StateNotStarted,
			EntitiesUpserted: []model.RemoteID{},
		},
		logger:    o.logger.With("resource_id", res.ID, "run_id", runID),
		companies: make(map[string]model.RemoteID),
		contacts:  make(map[string]model.RemoteID),
	}

	o.execute(ctx, r, opts)

	out := r.outcome
	attrs := []any{
		"status", out.Status,
		"entities", len(out.EntitiesUpserted),
		"activities", out.ActivitiesLogged,
		"tasks", out.TasksCreated,
		"deals", out.DealsCreated,
	}
	switch out.Status {
	case StatusFailed:
		r.logger.Error("sync failed", append(attrs, "reason", out.Reason)...)
	case StatusPartial:
		r.logger.Warn("sync partially completed", append(attrs, "reason", out.Reason)...)
	case StatusSkipped:
		r.logger.Info("sync skipped", "reason", out.Reason)
	default:
		r.logger.Info("sync completed", attrs...)
	}
	return out
}

func (o *Orchestrator) execute(ctx context.Context, r *run, opts RunOptions) {
	if r.res.ID == "" {
		o.fail(r, "resource has no id", model.NewInvalidInput("resource id is empty"))
		return
	}

	// NotStarted
	if opts.Force {
		r.logger.Info("force enabled, ignoring ledger")
	} else {
		done, err := o.ledger.HasProcessed(ctx, r.res.ID)
		if err != nil {
			o.fail(r, "ledger check failed", err)
			return
		}
		if done {
			r.enter(StateSkipped)
			r.outcome.Status = StatusSkipped
			r.outcome.Reason = "already processed"
			return
		}
	}

	r.enter(StateExtracting)
	ents, err := o.extractor.Extract(ctx, r.res)
	if err == nil {
		err = ents.Validate()
	}
	if err != nil {
		if model.CodeOf(err) == "" && !isContextErr(err) {
			err = model.NewExtractionError("extraction failed", err)
		}
		o.fail(r, "extraction failed", err)
		return
	}
	r.logger.Debug("extracted entities",
		"companies", len(ents.Companies),
		"contacts", len(ents.Contacts),
		"activities", len(ents.Activities),
		"tasks", len(ents.Tasks),
		"deals", len(ents.Deals),
	)

	if !o.step(ctx, r, StateSyncingCompany) {
		return
	}
	for _, c := range ents.Companies {
		key := c.Key()
		if _, ok := r.companies[key]; ok {
			continue
		}
		result, err := o.coordinator.Upsert(ctx, c.Reference())
		if err != nil {
			o.fail(r, fmt.Sprintf("company %s upsert failed", key), err)
			return
		}
		r.record(model.EntityCompany, key, result)
		r.companies[key] = result.ID
		if r.firstCompany.IsZero() {
			r.firstCompany = result.ID
		}
	}

	if !o.step(ctx, r, StateSyncingContacts) {
		return
	}
	for _, c := range ents.Contacts {
		key := c.Key()
		if _, ok := r.contacts[key]; ok {
			continue
		}
		result, err := o.coordinator.Upsert(ctx, c.Reference(r.companyFor(c)))
		if err != nil {
			o.fail(r, fmt.Sprintf("contact %s upsert failed", key), err)
			return
		}
		r.record(model.EntityContact, key, result)
		r.contacts[key] = result.ID
		r.contactOrder = append(r.contactOrder, result.ID)
	}

	if !o.step(ctx, r, StateLoggingActivities) {
		return
	}
	for _, a := range ents.Activities {
		o.logActivity(ctx, r, a)
	}

	if !o.step(ctx, r, StateCreatingFollowUps) {
		return
	}
	for _, t := range ents.Tasks {
		o.createTask(ctx, r, t)
	}
	for _, d := range ents.Deals {
		o.createDeal(ctx, r, d)
	}

	// The ledger commit is the transition into Completed: a run that cannot
	// commit never reaches it.
	if err := ctx.Err(); err != nil {
		o.fail(r, "run cancelled", err)
		return
	}
	if err := o.ledger.MarkProcessed(ctx, r.res.ID, o.clock.Now()); err != nil {
		o.fail(r, "ledger commit failed", err)
		return
	}
	r.enter(StateCompleted)

	if r.secondaryFail > 0 {
		r.outcome.Status = StatusPartial
		r.outcome.Reason = fmt.Sprintf("%d of %d secondary writes failed", r.secondaryFail, r.secondaryAll)
		return
	}
	r.outcome.Status = StatusSuccess
}

// step enters the next state unless the context has been cancelled, in which
// case the run fails before touching anything else.
func (o *Orchestrator) step(ctx context.Context, r *run, to State) bool {
	if err := ctx.Err(); err != nil {
		o.fail(r, "run cancelled", err)
		return false
	}
	r.enter(to)
	return true
}

func (o *Orchestrator) fail(r *run, reason string, err error) {
	r.state = mustTransition(r.state, StateFailed)
	r.outcome.State = StateFailed
	r.outcome.Status = StatusFailed
	r.outcome.Err = err
	if err != nil {
		reason = reason + ": " + err.Error()
	}
	r.outcome.Reason = reason
}

func (r *run) record(t model.EntityType, key string, result UpsertResult) {
	r.outcome.EntitiesUpserted = append(r.outcome.EntitiesUpserted, result.ID)
	r.outcome.Entities = append(r.outcome.Entities, EntityResult{
		Type:       t,
		Key:        key,
		ID:         result.ID,
		Created:    result.Created,
		Candidates: result.Candidates,
	})
	if result.Candidates > 1 {
		r.outcome.warn("%s %s matched %d remote records, used %s", t, key, result.Candidates, result.ID)
	}
}

// companyFor picks the company a contact belongs to: its declared company,
// then the company of its email domain, then the first company of the run.
func (r *run) companyFor(c model.ContactEntity) model.RemoteID {
	if id, ok := r.companies[model.NormalizeDomain(c.CompanyDomain)]; ok {
		return id
	}
	if id, ok := r.companies[model.EmailDomain(c.Email)]; ok {
		return id
	}
	return r.firstCompany
}

// activityDate prefers the entity's own date, then the document timestamp,
// then processing time.
func (o *Orchestrator) activityDate(r *run, date *time.Time) time.Time {
	if date != nil && !date.IsZero() {
		return date.UTC()
	}
	if !r.res.ContextDate.IsZero() {
		return r.res.ContextDate.UTC()
	}
	return o.clock.Now()
}

func (o *Orchestrator) secondaryFailed(r *run, what string, err error) {
	r.secondaryFail++
	r.outcome.warn("%s: %v", what, err)
	r.logger.Warn("secondary write failed", "write", what, "error", err)
}

func (o *Orchestrator) logActivity(ctx context.Context, r *run, a model.ActivityEntity) {
	r.secondaryAll++
	act := crm.Activity{Type: a.Kind, Text: a.Text, Date: o.activityDate(r, a.Date)}
	var target string
	switch a.Kind {
	case model.ActivityCompanyNote:
		target = model.NormalizeDomain(a.CompanyDomain)
		act.CompanyID = r.companies[target]
		if act.CompanyID.IsZero() {
			o.secondaryFailed(r, "company note for "+target, errors.New("company was not synchronized"))
			return
		}
	default:
		target = model.NormalizeEmail(a.ContactEmail)
		act.ContactID = r.contacts[target]
		if act.ContactID.IsZero() {
			o.secondaryFailed(r, "contact note for "+target, errors.New("contact was not synchronized"))
			return
		}
	}
	if err := o.client.LogActivity(ctx, act); err != nil {
		o.secondaryFailed(r, string(a.Kind)+" for "+target, err)
		return
	}
	r.outcome.ActivitiesLogged++
}

func (o *Orchestrator) createTask(ctx context.Context, r *run, t model.TaskEntity) {
	r.secondaryAll++
	email := model.NormalizeEmail(t.ContactEmail)
	contactID := r.contacts[email]
	if contactID.IsZero() {
		o.secondaryFailed(r, "task for "+email, errors.New("contact was not synchronized"))
		return
	}
	err := o.client.CreateTask(ctx, crm.Task{
		ContactID: contactID,
		Text:      t.Description,
		DueDate:   t.DueDate,
		Priority:  t.Priority,
	})
	if err != nil {
		o.secondaryFailed(r, "task for "+email, err)
		return
	}
	r.outcome.TasksCreated++
}

func (o *Orchestrator) createDeal(ctx context.Context, r *run, d model.DealEntity) {
	r.secondaryAll++
	domain := model.NormalizeDomain(d.CompanyDomain)
	companyID := r.companies[domain]
	if companyID.IsZero() {
		o.secondaryFailed(r, "deal "+d.Name, fmt.Errorf("company %s was not synchronized", domain))
		return
	}
	contactIDs := r.contactOrder
	if len(d.ContactEmails) > 0 {
		contactIDs = nil
		for _, e := range d.ContactEmails {
			if id, ok := r.contacts[model.NormalizeEmail(e)]; ok {
				contactIDs = append(contactIDs, id)
			}
		}
	}
	_, err := o.client.CreateDeal(ctx, crm.Deal{
		Name:        d.Name,
		CompanyID:   companyID,
		ContactIDs:  contactIDs,
		Amount:      d.Amount,
		Stage:       d.Stage,
		Category:    d.Category,
		Description: d.Description,
	})
	if err != nil {
		o.secondaryFailed(r, "deal "+d.Name, err)
		return
	}
	r.outcome.DealsCreated++
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
