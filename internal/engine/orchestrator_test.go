package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmsync/internal/ledger"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/testutil"
)

func TestOrchestrator_EndToEndScenarios(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	fake := testutil.NewFakeCRM()
	x := &countingExtractor{ents: cyberdyneEntities()}
	o := newTestOrchestrator(l, x, fake)

	// Fresh resource: both entities are created and the ledger is committed.
	out := o.Run(ctx, msg123(), RunOptions{})
	require.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 1, countOps(fake, testutil.OpCreate, model.EntityCompany))
	assert.Equal(t, 1, countOps(fake, testutil.OpCreate, model.EntityContact))
	assert.Equal(t, 0, fake.Count(testutil.OpPatch))
	assert.Len(t, fake.Records(model.EntityCompany), 1)
	assert.Len(t, fake.Records(model.EntityContact), 1)
	assert.Len(t, out.EntitiesUpserted, 2)

	rec, err := l.Get(ctx, "<msg-123>")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, rec.Status)
	assert.True(t, rec.ProcessedAt.Equal(testNow))

	// Re-run without force: skipped with zero remote calls.
	fake.ResetCalls()
	out = o.Run(ctx, msg123(), RunOptions{})
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, "already processed", out.Reason)
	assert.Empty(t, fake.Calls())
	assert.Equal(t, 1, x.calls, "skipped runs must not extract")

	// Forced re-run: the company now exists and is patched, not created.
	fake.ResetCalls()
	out = o.Run(ctx, msg123(), RunOptions{Force: true})
	require.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, 0, fake.Count(testutil.OpCreate))
	assert.Equal(t, 1, countOps(fake, testutil.OpPatch, model.EntityCompany))
	assert.Equal(t, 1, countOps(fake, testutil.OpPatch, model.EntityContact))
	assert.Len(t, fake.Records(model.EntityCompany), 1, "no duplicate company")

	done, err := l.HasProcessed(ctx, "<msg-123>")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestOrchestrator_ScenarioOneCreatesExactlyOnePerEntity(t *testing.T) {
	fake := testutil.NewFakeCRM()
	o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: cyberdyneEntities()}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	require.Equal(t, StatusSuccess, out.Status, out.Reason)

	var creates []string
	for _, c := range fake.Calls() {
		if c.Op == testutil.OpCreate {
			creates = append(creates, fmt.Sprintf("%s:%s", c.Type, c.Key))
		}
	}
	assert.Equal(t, []string{"company:cyberdyne.ai", "contact:sarah@cyberdyne.ai"}, creates)
}

func TestOrchestrator_ContactCarriesCompanyID(t *testing.T) {
	fake := testutil.NewFakeCRM()
	o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: cyberdyneEntities()}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	require.Equal(t, StatusSuccess, out.Status, out.Reason)

	companyID := fake.Records(model.EntityCompany)[0].ID
	contact := fake.Records(model.EntityContact)[0]
	assert.Equal(t, companyID, contact.Attrs["company_id"])
	assert.Equal(t, []model.RemoteID{companyID, contact.ID}, out.EntitiesUpserted)
}

func TestOrchestrator_ContactFallsBackToFirstCompany(t *testing.T) {
	ents := model.StructuredEntities{
		Companies: []model.CompanyEntity{{Domain: "cyberdyne.ai"}},
		Contacts:  []model.ContactEntity{{Email: "kyle@gmail.com"}},
	}
	fake := testutil.NewFakeCRM()
	o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: ents}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	require.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, fake.Records(model.EntityCompany)[0].ID, fake.Records(model.EntityContact)[0].Attrs["company_id"])
}

func TestOrchestrator_DuplicateKeysUpsertedOnce(t *testing.T) {
	ents := cyberdyneEntities()
	ents.Companies = append(ents.Companies, model.CompanyEntity{Domain: "https://www.Cyberdyne.ai/about"})
	ents.Contacts = append(ents.Contacts, model.ContactEntity{Email: "SARAH@cyberdyne.ai"})
	fake := testutil.NewFakeCRM()
	o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: ents}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	require.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, 2, fake.Count(testutil.OpFind))
	assert.Len(t, out.EntitiesUpserted, 2)
}

func TestOrchestrator_SecondaryFailureIsPartialAndCommits(t *testing.T) {
	ents := cyberdyneEntities()
	ents.Activities = []model.ActivityEntity{
		{Kind: model.ActivityContactNote, ContactEmail: "sarah@cyberdyne.ai", Text: "Email Received"},
		{Kind: model.ActivityCompanyNote, CompanyDomain: "cyberdyne.ai", Text: "Summary"},
	}
	fake := testutil.NewFakeCRM()
	fake.FailNext(testutil.OpLogActivity, model.NewRemoteUnavailable("log activity", 503, nil))
	l := openLedger(t)
	o := newTestOrchestrator(l, &countingExtractor{ents: ents}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	assert.Equal(t, StatusPartial, out.Status)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, "1 of 2 secondary writes failed", out.Reason)
	assert.Equal(t, 1, out.ActivitiesLogged)
	assert.Len(t, out.Warnings, 1)
	assert.Equal(t, 2, fake.Count(testutil.OpLogActivity), "secondary writes are attempted once each")

	done, err := l.HasProcessed(context.Background(), "<msg-123>")
	require.NoError(t, err)
	assert.True(t, done, "partial outcomes commit the ledger")
}

func TestOrchestrator_ContactFailureFailsWithoutCommit(t *testing.T) {
	fake := testutil.NewFakeCRM()
	l := openLedger(t)
	o := NewOrchestrator(l, &countingExtractor{ents: cyberdyneEntities()}, &rejectContacts{FakeCRM: fake},
		WithRetryPolicy(testPolicy(3)),
		WithLogger(discardLogger()),
	)
	ctx := context.Background()

	out := o.Run(ctx, msg123(), RunOptions{})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, StateFailed, out.State)
	assert.Contains(t, out.Reason, "contact sarah@cyberdyne.ai upsert failed")
	assert.True(t, model.IsRemoteRejected(out.Err))
	assert.Equal(t, 0, out.ActivitiesLogged)

	done, err := l.HasProcessed(ctx, "<msg-123>")
	require.NoError(t, err)
	assert.False(t, done, "failed runs must not commit the ledger")
}

func countOps(fake *testutil.FakeCRM, op string, typ model.EntityType) int {
	n := 0
	for _, c := range fake.Calls() {
		if c.Op == op && c.Type == typ {
			n++
		}
	}
	return n
}

// rejectContacts rejects every contact create.
type rejectContacts struct {
	*testutil.FakeCRM
}

func (r *rejectContacts) Create(ctx context.Context, t model.EntityType, attrs model.Attributes) (model.RemoteID, error) {
	if t == model.EntityContact {
		return "", model.NewRemoteRejected("create", 422, errors.New("email_jsonb invalid"))
	}
	return r.FakeCRM.Create(ctx, t, attrs)
}

func TestOrchestrator_ExtractionFailureIsNotRetried(t *testing.T) {
	fake := testutil.NewFakeCRM()
	l := openLedger(t)
	x := &countingExtractor{err: errors.New("llm returned prose")}
	o := newTestOrchestrator(l, x, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, model.IsExtractionError(out.Err))
	assert.Equal(t, 1, x.calls)
	assert.Empty(t, fake.Calls())

	done, err := l.HasProcessed(context.Background(), "<msg-123>")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestOrchestrator_InvalidExtractionFails(t *testing.T) {
	ents := model.StructuredEntities{Contacts: []model.ContactEntity{{FirstName: "No email"}}}
	fake := testutil.NewFakeCRM()
	o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: ents}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, model.IsExtractionError(out.Err))
	assert.Contains(t, out.Reason, "contacts[0]: email is required")
	assert.Empty(t, fake.Calls())
}

func TestOrchestrator_LedgerUnavailableFailsBeforeSync(t *testing.T) {
	fake := testutil.NewFakeCRM()
	l := &stubLedger{Ledger: openLedger(t), hasErr: model.NewStorageError("check processed", errors.New("disk gone"))}
	x := &countingExtractor{ents: cyberdyneEntities()}
	o := newTestOrchestrator(l, x, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, model.IsStorageUnavailable(out.Err))
	assert.Equal(t, 0, x.calls)
	assert.Empty(t, fake.Calls())
}

func TestOrchestrator_LedgerCommitFailureFails(t *testing.T) {
	fake := testutil.NewFakeCRM()
	l := &stubLedger{Ledger: openLedger(t), markErr: model.NewStorageError("mark processed", errors.New("readonly"))}
	o := newTestOrchestrator(l, &countingExtractor{ents: cyberdyneEntities()}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, StateFailed, out.State)
	assert.Contains(t, out.Reason, "ledger commit failed")
	assert.Equal(t, 1, l.marks)
}

func TestOrchestrator_MarkProcessedCalledOnceOnSuccess(t *testing.T) {
	l := &stubLedger{Ledger: openLedger(t)}
	o := newTestOrchestrator(l, &countingExtractor{ents: cyberdyneEntities()}, testutil.NewFakeCRM())

	out := o.Run(context.Background(), msg123(), RunOptions{})
	require.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, 1, l.marks)
}

func TestOrchestrator_EmptyResourceIDFails(t *testing.T) {
	fake := testutil.NewFakeCRM()
	o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: cyberdyneEntities()}, fake)

	out := o.Run(context.Background(), model.Resource{Text: "x"}, RunOptions{})
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, model.IsInvalidInput(out.Err))
	assert.Empty(t, fake.Calls())
}

func TestOrchestrator_CancelledRunLeavesNoRecord(t *testing.T) {
	fake := testutil.NewFakeCRM()
	l := openLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	x := ExtractorFunc(func(ctx context.Context, res model.Resource) (*model.StructuredEntities, error) {
		ents := cyberdyneEntities()
		cancel()
		return &ents, nil
	})
	o := newTestOrchestrator(l, x, fake)

	out := o.Run(ctx, msg123(), RunOptions{})
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Empty(t, fake.Calls())

	done, err := l.HasProcessed(context.Background(), "<msg-123>")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestOrchestrator_ActivityDates(t *testing.T) {
	own := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)
	docDate := time.Date(2026, 2, 27, 17, 45, 0, 0, time.FixedZone("PST", -8*3600))

	ents := cyberdyneEntities()
	ents.Activities = []model.ActivityEntity{
		{Kind: model.ActivityContactNote, ContactEmail: "sarah@cyberdyne.ai", Text: "own date", Date: &own},
		{Kind: model.ActivityContactNote, ContactEmail: "sarah@cyberdyne.ai", Text: "document date"},
	}

	t.Run("document timestamp", func(t *testing.T) {
		fake := testutil.NewFakeCRM()
		o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: ents}, fake)
		res := msg123()
		res.ContextDate = docDate

		out := o.Run(context.Background(), res, RunOptions{})
		require.Equal(t, StatusSuccess, out.Status, out.Reason)

		acts := fake.Activities()
		require.Len(t, acts, 2)
		assert.True(t, acts[0].Date.Equal(own))
		assert.True(t, acts[1].Date.Equal(docDate))
		assert.Equal(t, time.UTC, acts[1].Date.Location())
	})

	t.Run("processing time fallback", func(t *testing.T) {
		fake := testutil.NewFakeCRM()
		o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: ents}, fake)

		out := o.Run(context.Background(), msg123(), RunOptions{})
		require.Equal(t, StatusSuccess, out.Status, out.Reason)
		assert.True(t, fake.Activities()[1].Date.Equal(testNow))
	})
}

func TestOrchestrator_TasksAndDeals(t *testing.T) {
	ents := cyberdyneEntities()
	ents.Contacts = append(ents.Contacts, model.ContactEntity{Email: "miles@cyberdyne.ai", CompanyDomain: "cyberdyne.ai"})
	ents.Tasks = []model.TaskEntity{{ContactEmail: "sarah@cyberdyne.ai", Description: "Send pricing", DueDate: "2026-03-09"}}
	ents.Deals = []model.DealEntity{
		{Name: "Cyberdyne pilot", CompanyDomain: "cyberdyne.ai", Amount: 25000},
		{Name: "Cyberdyne support", CompanyDomain: "cyberdyne.ai", ContactEmails: []string{"Miles@cyberdyne.ai"}},
	}
	fake := testutil.NewFakeCRM()
	o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: ents}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	require.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, 1, out.TasksCreated)
	assert.Equal(t, 2, out.DealsCreated)

	contacts := fake.Records(model.EntityContact)
	deals := fake.Deals()
	require.Len(t, deals, 2)
	assert.Equal(t, []model.RemoteID{contacts[0].ID, contacts[1].ID}, deals[0].ContactIDs)
	assert.Equal(t, []model.RemoteID{contacts[1].ID}, deals[1].ContactIDs)
	assert.Equal(t, contacts[0].ID, fake.Tasks()[0].ContactID)
}

func TestOrchestrator_FollowUpForUnknownContactIsPartial(t *testing.T) {
	ents := cyberdyneEntities()
	ents.Tasks = []model.TaskEntity{{ContactEmail: "ghost@cyberdyne.ai", Description: "Call"}}
	fake := testutil.NewFakeCRM()
	o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: ents}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	assert.Equal(t, StatusPartial, out.Status)
	assert.Equal(t, 0, fake.Count(testutil.OpCreateTask))
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "ghost@cyberdyne.ai")
}

func TestOrchestrator_AmbiguityIsWarningNotFailure(t *testing.T) {
	fake := testutil.NewFakeCRM()
	first := fake.Seed(model.EntityCompany, "cyberdyne.ai", nil)
	fake.Seed(model.EntityCompany, "cyberdyne.ai", nil)
	o := newTestOrchestrator(openLedger(t), &countingExtractor{ents: cyberdyneEntities()}, fake)

	out := o.Run(context.Background(), msg123(), RunOptions{})
	require.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, first, out.EntitiesUpserted[0])
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "matched 2 remote records")
}

func TestOrchestrator_ConcurrentDistinctResources(t *testing.T) {
	fake := testutil.NewFakeCRM()
	l := openLedger(t)
	o := NewOrchestrator(l, &perResourceExtractor{}, fake,
		WithRetryPolicy(testPolicy(3)),
		WithClock(testutil.NewStepClock(time.Time{}, time.Second)),
		WithLogger(discardLogger()),
	)

	const n = 8
	var wg sync.WaitGroup
	outcomes := make([]Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = o.Run(context.Background(), model.Resource{ID: fmt.Sprintf("<msg-%d>", i)}, RunOptions{})
		}(i)
	}
	wg.Wait()

	for i, out := range outcomes {
		assert.Equal(t, StatusSuccess, out.Status, "resource %d: %s", i, out.Reason)
	}
	recs, err := l.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, n)
	assert.Len(t, fake.Records(model.EntityContact), n)
}

// perResourceExtractor yields one contact per resource, keyed by its id.
type perResourceExtractor struct{}

func (perResourceExtractor) Extract(ctx context.Context, res model.Resource) (*model.StructuredEntities, error) {
	email := fmt.Sprintf("user%s@example.com", res.ID[len("<msg-"):len(res.ID)-1])
	return &model.StructuredEntities{Contacts: []model.ContactEntity{{Email: email}}}, nil
}
