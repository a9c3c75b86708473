package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmsync/internal/model"
)

func TestFileAnalyzer_YAML(t *testing.T) {
	a, err := FileAnalyzer{Path: "testdata/analysis.yaml"}.Analyze(context.Background(), "ignored", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, IntentDemo, a.Intent)
	require.Len(t, a.SuggestedTasks, 1)
	assert.Equal(t, "2026-01-20", a.SuggestedTasks[0].DueDate)
	require.NotNil(t, a.DealInfo)
	assert.Equal(t, "Cyberdyne fleet rollout", a.DealInfo.Name)
}

func TestFileAnalyzer_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.json")
	require.NoError(t, os.WriteFile(path, []byte(fullAnalysis), 0o644))

	a, err := FileAnalyzer{Path: path}.Analyze(context.Background(), "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, SentimentPositive, a.Sentiment)
}

func TestFileAnalyzer_Errors(t *testing.T) {
	_, err := FileAnalyzer{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Analyze(context.Background(), "", time.Time{})
	assert.True(t, model.IsExtractionError(err))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("summary: x\nsentiment: Neutral\n"), 0o644))
	_, err = FileAnalyzer{Path: path}.Analyze(context.Background(), "", time.Time{})
	assert.True(t, model.IsExtractionError(err))
}

func TestLoadEntities(t *testing.T) {
	ents, err := LoadEntities("testdata/entities.yaml")
	require.NoError(t, err)

	require.Len(t, ents.Companies, 1)
	assert.Equal(t, "cyberdyne.ai", ents.Companies[0].Domain)
	require.Len(t, ents.Activities, 1)
	require.NotNil(t, ents.Activities[0].Date)
	assert.True(t, ents.Activities[0].Date.Equal(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)))
}

func TestLoadEntities_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contacts:\n  - first_name: Nobody\n"), 0o644))

	_, err := LoadEntities(path)
	require.Error(t, err)
	assert.True(t, model.IsExtractionError(err))
	assert.ErrorContains(t, err, "contacts[0]: email is required")
}

func TestStaticExtractor(t *testing.T) {
	ents := &model.StructuredEntities{Contacts: []model.ContactEntity{{Email: "a@b.co"}}}
	got, err := StaticExtractor{Entities: ents}.Extract(context.Background(), model.Resource{ID: "x"})
	require.NoError(t, err)
	assert.Equal(t, ents.Contacts, got.Contacts)

	_, err = StaticExtractor{}.Extract(context.Background(), model.Resource{ID: "x"})
	assert.True(t, model.IsExtractionError(err))
}
