// Package extract turns a resource into validated CRM entities.
//
// A Pipeline cleans the resource text, asks an Analyzer for a structured
// reading, optionally enriches the sender's company through web search and
// assembles model.StructuredEntities from the participants and the analysis.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/crmsync/internal/enrich"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/textclean"
)

// Analyzer produces a structured reading of cleaned text.
// contextDate is the message's own timestamp (zero when unknown) used to
// ground relative dates.
type Analyzer interface {
	Analyze(ctx context.Context, text string, contextDate time.Time) (*Analysis, error)
}

// CompanyParser turns free text about a company into CompanyDetails.
type CompanyParser interface {
	ParseCompany(ctx context.Context, text string) (*CompanyDetails, error)
}

// Pipeline implements engine.Extractor.
type Pipeline struct {
	analyzer Analyzer
	cleaner  *textclean.Cleaner
	search   enrich.Provider
	parser   CompanyParser
	logger   *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithCleaner replaces the default text cleaner.
func WithCleaner(c *textclean.Cleaner) PipelineOption {
	return func(p *Pipeline) {
		if c != nil {
			p.cleaner = c
		}
	}
}

// WithEnrichment enables company search. Both arguments are required.
func WithEnrichment(search enrich.Provider, parser CompanyParser) PipelineOption {
	return func(p *Pipeline) {
		p.search = search
		p.parser = parser
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline returns a Pipeline. A nil analyzer assembles entities from the
// participants alone.
func NewPipeline(analyzer Analyzer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{analyzer: analyzer, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.cleaner == nil {
		p.cleaner = textclean.New(textclean.DefaultMaxChars, p.logger)
	}
	return p
}

// Extract implements engine.Extractor.
func (p *Pipeline) Extract(ctx context.Context, res model.Resource) (*model.StructuredEntities, error) {
	var analysis *Analysis
	if p.analyzer != nil {
		text := p.cleaner.Clean(res.Text)
		a, err := p.analyzer.Analyze(ctx, text, res.ContextDate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var me *model.Error
			if !errors.As(err, &me) {
				err = model.NewExtractionError("analysis failed", err)
			}
			return nil, err
		}
		if a == nil {
			return nil, model.NewExtractionError("analysis returned nothing", nil)
		}
		analysis = a
		if err := p.enrich(ctx, analysis); err != nil {
			return nil, err
		}
	}

	ents := Assemble(res, analysis)
	if len(ents.Contacts) == 0 {
		return nil, model.NewExtractionError("no participant has a usable email address", nil)
	}
	p.logger.Debug("entities assembled",
		"resource_id", res.ID,
		"companies", len(ents.Companies),
		"contacts", len(ents.Contacts),
		"activities", len(ents.Activities),
		"tasks", len(ents.Tasks),
		"deals", len(ents.Deals),
	)
	return ents, nil
}

// enrich fills missing company details from a web search. Only
// cancellation is an error; search or parse failures are logged.
func (p *Pipeline) enrich(ctx context.Context, a *Analysis) error {
	if p.search == nil || p.parser == nil || !a.NeedsEnrichment() {
		return nil
	}
	results, err := p.search.Search(ctx, a.CompanySearchQuery)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, enrich.ErrUnavailable) {
			p.logger.Warn("company search failed", "query", a.CompanySearchQuery, "error", err)
		}
		return nil
	}
	snippets := enrich.Snippets(results)
	if snippets == "" {
		return nil
	}
	found, err := p.parser.ParseCompany(ctx, snippets)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("could not parse search results", "query", a.CompanySearchQuery, "error", err)
		return nil
	}
	if a.CompanyDetails == nil {
		a.CompanyDetails = found
		return nil
	}
	a.CompanyDetails.Merge(found)
	return nil
}
