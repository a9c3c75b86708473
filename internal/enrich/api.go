package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxResults caps the hits kept per search.
const DefaultMaxResults = 3

// defaultTimeout bounds one provider request.
const defaultTimeout = 10 * time.Second

// APIConfig describes a JSON search API.
//
// URL must contain the literal "{query}", replaced by the escaped query.
// ResultsPath is a dot-separated path to the result array in the response
// ("web.results"); empty means the response itself is the array. The field
// names are dot paths inside each result.
type APIConfig struct {
	Name         string        `mapstructure:"name" yaml:"name"`
	URL          string        `mapstructure:"url" yaml:"url"`
	ResultsPath  string        `mapstructure:"results_path" yaml:"results_path"`
	TitleField   string        `mapstructure:"title_field" yaml:"title_field"`
	URLField     string        `mapstructure:"url_field" yaml:"url_field"`
	SnippetField string        `mapstructure:"snippet_field" yaml:"snippet_field"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	APIKeyHeader string        `mapstructure:"api_key_header" yaml:"api_key_header"`
	MaxResults   int           `mapstructure:"max_results" yaml:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// APIProvider queries a JSON search API described by an APIConfig.
type APIProvider struct {
	cfg        APIConfig
	httpClient *http.Client
}

// NewAPIProvider validates cfg, fills defaults and returns a provider.
// A nil httpClient uses a fresh *http.Client.
func NewAPIProvider(cfg APIConfig, httpClient *http.Client) (*APIProvider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("search provider %q: url is required", cfg.Name)
	}
	if !strings.Contains(cfg.URL, "{query}") {
		return nil, fmt.Errorf("search provider %q: url must contain {query}", cfg.Name)
	}
	if cfg.Name == "" {
		if u, err := url.Parse(strings.ReplaceAll(cfg.URL, "{query}", "")); err == nil && u.Host != "" {
			cfg.Name = u.Host
		} else {
			cfg.Name = "api"
		}
	}
	if cfg.TitleField == "" {
		cfg.TitleField = "title"
	}
	if cfg.URLField == "" {
		cfg.URLField = "url"
	}
	if cfg.SnippetField == "" {
		cfg.SnippetField = "snippet"
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "Authorization"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &APIProvider{cfg: cfg, httpClient: httpClient}, nil
}

func (p *APIProvider) Name() string { return p.cfg.Name }

func (p *APIProvider) Search(ctx context.Context, query string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	target := strings.ReplaceAll(p.cfg.URL, "{query}", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		if strings.EqualFold(p.cfg.APIKeyHeader, "Authorization") {
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		} else {
			req.Header.Set(p.cfg.APIKeyHeader, p.cfg.APIKey)
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("search %s: http %d", p.cfg.Name, resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("search %s: decode response: %w", p.cfg.Name, err)
	}
	items, ok := lookup(doc, p.cfg.ResultsPath).([]any)
	if !ok {
		return nil, fmt.Errorf("search %s: no result array at %q", p.cfg.Name, p.cfg.ResultsPath)
	}

	results := make([]Result, 0, min(len(items), p.cfg.MaxResults))
	for _, item := range items {
		if len(results) == p.cfg.MaxResults {
			break
		}
		r := Result{
			Title:   stringAt(item, p.cfg.TitleField),
			URL:     stringAt(item, p.cfg.URLField),
			Snippet: stringAt(item, p.cfg.SnippetField),
		}
		if r.Title == "" && r.Snippet == "" {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// lookup walks a decoded JSON document along a dot-separated path of object
// keys.
func lookup(doc any, path string) any {
	if path == "" {
		return doc
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func stringAt(doc any, path string) string {
	s, _ := lookup(doc, path).(string)
	return strings.TrimSpace(s)
}
