package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/testutil"
)

func newCoordinator(fake *testutil.FakeCRM, attempts int) *Coordinator {
	p := testPolicy(attempts)
	return NewCoordinator(NewResolver(fake, p, discardLogger()), fake, p, discardLogger())
}

func TestUpsert_CreatesWhenAbsent(t *testing.T) {
	fake := testutil.NewFakeCRM()
	c := newCoordinator(fake, 3)

	ref := model.CompanyEntity{Domain: "cyberdyne.ai", Name: "Cyberdyne Systems"}.Reference()
	res, err := c.Upsert(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.ID.IsZero())

	assert.Equal(t, 1, fake.Count(testutil.OpCreate))
	assert.Equal(t, 0, fake.Count(testutil.OpPatch))

	recs := fake.Records(model.EntityCompany)
	require.Len(t, recs, 1)
	assert.Equal(t, model.Attributes{"name": "Cyberdyne Systems", "website": "cyberdyne.ai"}, recs[0].Attrs)
}

func TestUpsert_MergeNotReplace(t *testing.T) {
	fake := testutil.NewFakeCRM()
	id := fake.Seed(model.EntityCompany, "cyberdyne.ai", model.Attributes{
		"name":   "Cyberdyne",
		"sector": "Defense",
	})
	c := newCoordinator(fake, 3)

	ref := model.EntityReference{
		Type:       model.EntityCompany,
		NaturalKey: "cyberdyne.ai",
		Attributes: model.Attributes{"name": "Cyberdyne Systems", "city": "Sunnyvale"},
	}
	res, err := c.Upsert(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, id, res.ID)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, testutil.OpPatch, calls[1].Op)
	assert.Equal(t, model.Attributes{"name": "Cyberdyne Systems", "city": "Sunnyvale"}, calls[1].Attrs,
		"patch must carry exactly the local fields")

	rec, ok := fake.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Defense", rec.Attrs["sector"], "remote-only field must survive")
	assert.Equal(t, "Cyberdyne Systems", rec.Attrs["name"])
}

func TestUpsert_CreateDefaultsNeverPatched(t *testing.T) {
	fake := testutil.NewFakeCRM()
	fake.Seed(model.EntityCompany, "cyberdyne.ai", model.Attributes{"name": "Cyberdyne Systems"})
	c := newCoordinator(fake, 3)

	// A bare domain has no extracted attributes, only create defaults.
	_, err := c.Upsert(context.Background(), model.CompanyEntity{Domain: "cyberdyne.ai"}.Reference())
	require.NoError(t, err)

	assert.Equal(t, 0, fake.Count(testutil.OpPatch), "empty attribute set must not patch")
	rec := fake.Records(model.EntityCompany)[0]
	assert.Equal(t, "Cyberdyne Systems", rec.Attrs["name"])
}

func TestUpsert_EmptyNaturalKeyFailsFast(t *testing.T) {
	fake := testutil.NewFakeCRM()
	c := newCoordinator(fake, 3)

	_, err := c.Upsert(context.Background(), model.ContactEntity{FirstName: "Nobody"}.Reference(""))
	require.Error(t, err)
	assert.True(t, model.IsInvalidEntity(err))
	assert.Empty(t, fake.Calls(), "no remote call may be attempted")
}

func TestUpsert_LostCreateResponseIsReResolved(t *testing.T) {
	fake := testutil.NewFakeCRM()
	fake.FailNextAfterApply(testutil.OpCreate, model.NewRemoteUnavailable("create", 504, nil))
	c := newCoordinator(fake, 3)

	res, err := c.Upsert(context.Background(), model.CompanyEntity{Domain: "cyberdyne.ai", Name: "Cyberdyne"}.Reference())
	require.NoError(t, err)

	assert.Equal(t, 1, fake.Count(testutil.OpCreate), "second attempt must find the landed record")
	assert.Equal(t, 2, fake.Count(testutil.OpFind))
	assert.Len(t, fake.Records(model.EntityCompany), 1)
	assert.False(t, res.Created)
}

func TestUpsert_TransientCreateRetried(t *testing.T) {
	fake := testutil.NewFakeCRM()
	fake.FailNext(testutil.OpCreate, model.NewRemoteUnavailable("create", 503, nil))
	c := newCoordinator(fake, 3)

	res, err := c.Upsert(context.Background(), model.CompanyEntity{Domain: "cyberdyne.ai"}.Reference())
	require.NoError(t, err)
	assert.True(t, res.Created)

	ops := []string{}
	for _, call := range fake.Calls() {
		ops = append(ops, call.Op)
	}
	assert.Equal(t, []string{"find", "create", "find", "create"}, ops,
		"every create must follow a lookup that found nothing")
	assert.Len(t, fake.Records(model.EntityCompany), 1)
}

func TestUpsert_RejectedCreateNotRetried(t *testing.T) {
	fake := testutil.NewFakeCRM()
	fake.FailNext(testutil.OpCreate, model.NewRemoteRejected("create", 422, nil))
	c := newCoordinator(fake, 5)

	_, err := c.Upsert(context.Background(), model.CompanyEntity{Domain: "cyberdyne.ai"}.Reference())
	require.Error(t, err)
	assert.True(t, model.IsRemoteRejected(err))
	assert.Equal(t, 1, fake.Count(testutil.OpCreate))

	var me *model.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "cyberdyne.ai", me.NaturalKey)
}

func TestUpsert_RetryBudgetBoundsCreates(t *testing.T) {
	fake := testutil.NewFakeCRM()
	for i := 0; i < 5; i++ {
		fake.FailNext(testutil.OpCreate, model.NewRemoteUnavailable("create", 503, nil))
	}
	c := newCoordinator(fake, 2)

	_, err := c.Upsert(context.Background(), model.CompanyEntity{Domain: "cyberdyne.ai"}.Reference())
	require.Error(t, err)
	assert.True(t, model.IsRemoteUnavailable(err))
	assert.Equal(t, 2, fake.Count(testutil.OpCreate))
}

func TestUpsert_TransientPatchRetried(t *testing.T) {
	fake := testutil.NewFakeCRM()
	id := fake.Seed(model.EntityContact, "sarah@cyberdyne.ai", model.Attributes{})
	fake.FailNext(testutil.OpPatch, model.NewRemoteUnavailable("patch", 503, nil))
	c := newCoordinator(fake, 3)

	res, err := c.Upsert(context.Background(), model.ContactEntity{Email: "sarah@cyberdyne.ai", Title: "CTO"}.Reference(""))
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, 2, fake.Count(testutil.OpPatch))

	rec, _ := fake.Get(id)
	assert.Equal(t, "CTO", rec.Attrs["title"])
}

func TestUpsert_ConvergesOnRepeatedCalls(t *testing.T) {
	fake := testutil.NewFakeCRM()
	c := newCoordinator(fake, 3)
	ref := model.ContactEntity{Email: "sarah@cyberdyne.ai", FirstName: "Sarah"}.Reference("")

	first, err := c.Upsert(context.Background(), ref)
	require.NoError(t, err)
	second, err := c.Upsert(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Len(t, fake.Records(model.EntityContact), 1)
}

func TestUpsert_CompanyMatchedByDomainOnly(t *testing.T) {
	fake := testutil.NewFakeCRM()
	// A CRM company with the same name but no website is not a match.
	fake.Seed(model.EntityCompany, "", model.Attributes{"name": "Cyberdyne Systems"})
	c := newCoordinator(fake, 3)

	ref := model.CompanyEntity{Domain: "cyberdyne.ai", Name: "Cyberdyne Systems"}.Reference()
	res, err := c.Upsert(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, res.Created)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, testutil.OpFind, calls[0].Op)
	assert.Equal(t, "cyberdyne.ai", calls[0].Key)
	assert.Equal(t, testutil.OpCreate, calls[1].Op)
	assert.Len(t, fake.Records(model.EntityCompany), 2)
}
