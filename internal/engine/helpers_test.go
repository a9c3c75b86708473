package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/crmsync/internal/ledger"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/retry"
	"github.com/roach88/crmsync/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy(attempts int) retry.Policy {
	p := retry.DefaultPolicy().WithMaxAttempts(attempts)
	p.Sleep = retry.NoSleep
	return p
}

func openLedger(t *testing.T) *ledger.SQLiteLedger {
	t.Helper()
	l, err := ledger.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// countingExtractor returns fixed entities and counts invocations.
type countingExtractor struct {
	ents  model.StructuredEntities
	err   error
	calls int
	seen  []model.Resource
}

func (x *countingExtractor) Extract(ctx context.Context, res model.Resource) (*model.StructuredEntities, error) {
	x.calls++
	x.seen = append(x.seen, res)
	if x.err != nil {
		return nil, x.err
	}
	ents := x.ents
	return &ents, nil
}

// stubLedger wraps a real ledger and injects failures.
type stubLedger struct {
	ledger.Ledger
	hasErr  error
	markErr error
	marks   int
}

func (s *stubLedger) HasProcessed(ctx context.Context, id string) (bool, error) {
	if s.hasErr != nil {
		return false, s.hasErr
	}
	return s.Ledger.HasProcessed(ctx, id)
}

func (s *stubLedger) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	s.marks++
	if s.markErr != nil {
		return s.markErr
	}
	return s.Ledger.MarkProcessed(ctx, id, at)
}

var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newTestOrchestrator(l ledger.Ledger, x Extractor, fake *testutil.FakeCRM) *Orchestrator {
	return NewOrchestrator(l, x, fake,
		WithRetryPolicy(testPolicy(3)),
		WithClock(testutil.NewFixedClock(testNow)),
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-1")),
		WithLogger(discardLogger()),
	)
}

// cyberdyneEntities is the extraction result used by the end-to-end
// scenarios: one company and one contact, both unknown to the CRM.
func cyberdyneEntities() model.StructuredEntities {
	return model.StructuredEntities{
		Companies: []model.CompanyEntity{{Domain: "cyberdyne.ai", Name: "Cyberdyne Systems"}},
		Contacts: []model.ContactEntity{{
			Email:         "sarah@cyberdyne.ai",
			FirstName:     "Sarah",
			LastName:      "Connor",
			CompanyDomain: "cyberdyne.ai",
		}},
	}
}

func msg123() model.Resource {
	return model.Resource{
		ID:      "<msg-123>",
		Subject: "Pilot",
		Text:    "Hello from Sarah",
		Participants: []model.Participant{
			{Email: "sarah@cyberdyne.ai", Name: "Sarah Connor", Role: model.RoleSender},
		},
	}
}
