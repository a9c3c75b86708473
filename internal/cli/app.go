package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/roach88/crmsync/internal/config"
	"github.com/roach88/crmsync/internal/crm"
	"github.com/roach88/crmsync/internal/eml"
	"github.com/roach88/crmsync/internal/engine"
	"github.com/roach88/crmsync/internal/enrich"
	"github.com/roach88/crmsync/internal/extract"
	"github.com/roach88/crmsync/internal/ledger"
	"github.com/roach88/crmsync/internal/model"
	"github.com/roach88/crmsync/internal/retry"
)

// AppOptions selects how an App extracts entities and lets tests replace
// the remote collaborators.
type AppOptions struct {
	// EntitiesFile supplies entities directly, bypassing analysis.
	EntitiesFile string

	// AnalysisFile supplies a prepared analysis instead of calling the LLM.
	AnalysisFile string

	// Client replaces the HTTP CRM client.
	Client crm.Client

	// Extractor replaces the extraction pipeline.
	Extractor engine.Extractor

	// HTTPClient is used for the LLM and search providers.
	HTTPClient *http.Client

	Clock  engine.Clock
	RunIDs engine.RunIDGenerator
	Retry  *retry.Policy
}

// App owns the long-lived objects a command works with. It is built once
// per command invocation and closed when the command returns.
type App struct {
	Config       *config.Config
	Ledger       ledger.Ledger
	Client       crm.Client
	Extractor    engine.Extractor
	Orchestrator *engine.Orchestrator

	logger *slog.Logger
}

// NewApp opens the ledger and wires the CRM client, extraction pipeline and
// orchestrator described by cfg.
func NewApp(cfg *config.Config, opts AppOptions, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, logger: logger}

	client := opts.Client
	if client == nil {
		c, err := crm.NewHTTPClient(cfg.CRM.BaseURL, cfg.CRM.APIKey,
			crm.WithTimeout(cfg.CRM.Timeout),
			crm.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		client = c
	}
	app.Client = client

	x, err := buildExtractor(cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	app.Extractor = x

	l, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}
	app.Ledger = l

	policy := retry.DefaultPolicy().WithMaxAttempts(cfg.Retry.MaxAttempts)
	if cfg.Retry.BaseDelay > 0 {
		policy.BaseDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		policy.MaxDelay = cfg.Retry.MaxDelay
	}
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	orchOpts := []engine.Option{engine.WithRetryPolicy(policy), engine.WithLogger(logger)}
	if opts.Clock != nil {
		orchOpts = append(orchOpts, engine.WithClock(opts.Clock))
	}
	if opts.RunIDs != nil {
		orchOpts = append(orchOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	app.Orchestrator = engine.NewOrchestrator(l, x, client, orchOpts...)
	return app, nil
}

func buildExtractor(cfg *config.Config, opts AppOptions, logger *slog.Logger) (engine.Extractor, error) {
	if opts.Extractor != nil {
		return opts.Extractor, nil
	}
	if opts.EntitiesFile != "" {
		ents, err := extract.LoadEntities(opts.EntitiesFile)
		if err != nil {
			return nil, err
		}
		return extract.StaticExtractor{Entities: ents}, nil
	}

	pipelineOpts := []extract.PipelineOption{extract.WithPipelineLogger(logger)}
	var analyzer extract.Analyzer
	switch {
	case opts.AnalysisFile != "":
		analyzer = extract.FileAnalyzer{Path: opts.AnalysisFile}
	case cfg.LLM.BaseURL != "":
		llm, err := extract.NewLLMAnalyzer(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
			extract.WithLLMTimeout(cfg.LLM.Timeout),
			extract.WithLLMHTTPClient(opts.HTTPClient),
			extract.WithLLMLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		analyzer = llm
		if chain, err := buildSearch(cfg, opts.HTTPClient, logger); err != nil {
			return nil, err
		} else if chain.Len() > 0 {
			pipelineOpts = append(pipelineOpts, extract.WithEnrichment(chain, llm))
		}
	default:
		logger.Warn("LLM base url not set, extracting participants only")
	}
	return extract.NewPipeline(analyzer, pipelineOpts...), nil
}

func buildSearch(cfg *config.Config, hc *http.Client, logger *slog.Logger) (*enrich.Chain, error) {
	providers := make([]enrich.Provider, 0, len(cfg.Search.Providers))
	for _, pc := range cfg.Search.Providers {
		p, err := enrich.NewAPIProvider(pc, hc)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return enrich.NewChain(logger, providers...), nil
}

// Close releases the ledger.
func (a *App) Close() error {
	if a.Ledger == nil {
		return nil
	}
	return a.Ledger.Close()
}

// ProcessFile parses the email at path and runs it through the
// orchestrator. A file that cannot be parsed yields a failed outcome keyed
// by its path.
func (a *App) ProcessFile(ctx context.Context, path string, force bool) engine.Outcome {
	doc, err := eml.ParseFile(path)
	if err != nil {
		a.logger.Error("cannot read email", "path", path, "error", err)
		return engine.Outcome{
			ResourceID: path,
			Status:     engine.StatusFailed,
			State:      engine.StateFailed,
			Reason:     err.Error(),
			Err:        model.NewInvalidInput(err.Error()),
		}
	}
	res := doc.Resource()
	a.logger.Info("processing email", "path", path, "resource_id", res.ID, "subject", res.Subject)
	return a.Orchestrator.Run(ctx, res, engine.RunOptions{Force: force})
}

// openLedger opens only the ledger, for commands that make no remote calls.
func openLedger(cfg *config.Config) (ledger.Ledger, error) {
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		var me *model.Error
		if errors.As(err, &me) {
			return nil, err
		}
		return nil, model.NewStorageError("open ledger", err)
	}
	return l, nil
}
