package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmsync/internal/model"
)

func TestFakeCRM_CreateThenFind(t *testing.T) {
	f := NewFakeCRM()
	ctx := context.Background()

	id, err := f.Create(ctx, model.EntityCompany, model.Attributes{"name": "Cyberdyne", "website": "cyberdyne.ai"})
	require.NoError(t, err)
	assert.Equal(t, model.RemoteID("100"), id)

	ids, err := f.Find(ctx, model.EntityCompany, "cyberdyne.ai")
	require.NoError(t, err)
	assert.Equal(t, []model.RemoteID{"100"}, ids)

	ids, err = f.Find(ctx, model.EntityContact, "cyberdyne.ai")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFakeCRM_ContactKeyFromEmailJSONB(t *testing.T) {
	f := NewFakeCRM()
	ctx := context.Background()

	_, err := f.Create(ctx, model.EntityContact, model.Attributes{
		"email_jsonb": []map[string]string{{"email": "Sarah@Cyberdyne.ai", "type": "Work"}},
	})
	require.NoError(t, err)

	ids, err := f.Find(ctx, model.EntityContact, "sarah@cyberdyne.ai")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestFakeCRM_PatchMerges(t *testing.T) {
	f := NewFakeCRM()
	ctx := context.Background()
	id := f.Seed(model.EntityCompany, "cyberdyne.ai", model.Attributes{"name": "Cyberdyne", "sector": "Defense"})

	require.NoError(t, f.Patch(ctx, model.EntityCompany, id, model.Attributes{"sector": "Robotics", "size": 200}))

	rec, ok := f.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.Attributes{"name": "Cyberdyne", "sector": "Robotics", "size": 200}, rec.Attrs)
}

func TestFakeCRM_FailNext(t *testing.T) {
	f := NewFakeCRM()
	ctx := context.Background()
	f.FailNext(OpFind, model.NewRemoteUnavailable("find", 503, nil))

	_, err := f.Find(ctx, model.EntityCompany, "x.io")
	assert.True(t, model.IsRemoteUnavailable(err))

	_, err = f.Find(ctx, model.EntityCompany, "x.io")
	assert.NoError(t, err)
	assert.Equal(t, 2, f.Count(OpFind))
	assert.Equal(t, 0, f.CountWrites())
}

func TestFakeCRM_FailNextAfterApply(t *testing.T) {
	f := NewFakeCRM()
	ctx := context.Background()
	f.FailNextAfterApply(OpCreate, model.NewRemoteUnavailable("create", 504, nil))

	_, err := f.Create(ctx, model.EntityCompany, model.Attributes{"website": "lost.io"})
	require.Error(t, err)
	assert.Len(t, f.Records(model.EntityCompany), 1, "write must have landed despite the error")
}
