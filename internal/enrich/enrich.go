// Package enrich looks up public information about companies through
// configurable web search providers.
//
// Enrichment is best effort: a Chain that finds nothing returns
// ErrUnavailable and callers carry on with what extraction produced.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrUnavailable is returned when no provider produced results.
var ErrUnavailable = errors.New("enrich: no search provider returned results")

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider runs a web search.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Result, error)
}

// Chain tries providers in priority order. The first provider returning at
// least one result wins.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain returns a Chain over providers, tried in the given order.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{providers: providers, logger: logger}
}

// Len returns the number of configured providers.
func (c *Chain) Len() int { return len(c.providers) }

// Name implements Provider.
func (c *Chain) Name() string { return "chain" }

// Search implements Provider.
func (c *Chain) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrUnavailable
	}
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := p.Search(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("search provider failed", "provider", p.Name(), "error", err)
			continue
		}
		if len(results) == 0 {
			c.logger.Debug("search provider returned nothing", "provider", p.Name())
			continue
		}
		c.logger.Info("company search", "provider", p.Name(), "query", query, "results", len(results))
		return results, nil
	}
	return nil, ErrUnavailable
}

// Snippets joins the non-empty snippets of results, one per line.
func Snippets(results []Result) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if s := strings.TrimSpace(r.Snippet); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n")
}
