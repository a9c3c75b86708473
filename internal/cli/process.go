package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/crmsync/internal/config"
	"github.com/roach88/crmsync/internal/engine"
)

// ProcessOptions holds flags for the process command.
type ProcessOptions struct {
	*RootOptions
	Force        bool
	EntitiesFile string
	AnalysisFile string
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "process <file.eml>...",
		Short: "Sync email files into the CRM",
		Long: `Parse each email, extract CRM entities and upsert them.

Files already recorded in the ledger are skipped unless --force is given.
Contacts and companies are looked up by email and domain before anything
is created, so a forced re-run updates records instead of duplicating them.

Example:
  crmsync process inbox/demo-request.eml
  crmsync process --force --db-path ./ledger.db *.eml
  crmsync process --entities entities.yaml message.eml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "reprocess files already in the ledger")
	cmd.Flags().StringVar(&opts.EntitiesFile, "entities", "", "YAML/JSON file with entities to sync instead of extracting them")
	cmd.Flags().StringVar(&opts.AnalysisFile, "analysis", "", "YAML/JSON file with a prepared analysis instead of calling the LLM")
	addConnectionFlags(cmd)

	return cmd
}

// addConnectionFlags registers the flags listed in config.FlagKeys.
func addConnectionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-path", "", "ledger location: SQLite path or postgres:// DSN (env PERSISTENCE_DB_PATH)")
	f.String("api-key", "", "CRM API key (env CRM_API_KEY)")
	f.String("base-url", "", "CRM base URL (env CRM_API_BASE_URL)")
	f.String("llm-url", "", "OpenAI-compatible LLM base URL (env LLM_BASE_URL)")
	f.String("llm-model", "", "LLM model name (env LLM_MODEL)")
	f.Duration("timeout", 0, "per-request CRM timeout (env CRMSYNC_REQUEST_TIMEOUT)")
	f.Int("retries", 0, "attempts per CRM lookup or upsert (env CRMSYNC_RETRY_MAX_ATTEMPTS)")
}

func (o *RootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: o.ConfigFile,
		EnvFile:    o.EnvFile,
		Flags:      cmd.Flags(),
		LookupEnv:  o.LookupEnv,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ProcessReport is the output of the process and watch commands.
type ProcessReport struct {
	Outcomes []engine.Outcome `json:"outcomes"`
}

// Failed counts outcomes that were not committed or skipped cleanly.
func (r ProcessReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == engine.StatusFailed || o.Status == engine.StatusPartial {
			n++
		}
	}
	return n
}

// RenderText prints one line per outcome followed by its warnings.
func (r ProcessReport) RenderText(w io.Writer) {
	for _, o := range r.Outcomes {
		renderOutcome(w, o)
	}
}

func renderOutcome(w io.Writer, o engine.Outcome) {
	fmt.Fprintf(w, "%s: %s (%d entities, %d activities, %d tasks, %d deals)\n",
		o.ResourceID, o.Status, len(o.EntitiesUpserted), o.ActivitiesLogged, o.TasksCreated, o.DealsCreated)
	if o.Reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", o.Reason)
	}
	for _, warning := range o.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

func runProcess(opts *ProcessOptions, files []string, cmd *cobra.Command) error {
	logger := opts.setupLogging(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}

	appOpts := opts.App
	if opts.EntitiesFile != "" {
		appOpts.EntitiesFile = opts.EntitiesFile
	}
	if opts.AnalysisFile != "" {
		appOpts.AnalysisFile = opts.AnalysisFile
	}
	app, err := NewApp(cfg, appOpts, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot start", err)
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("error closing ledger", "error", closeErr)
		}
	}()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report := ProcessReport{}
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		report.Outcomes = append(report.Outcomes, app.ProcessFile(ctx, path, opts.Force))
	}

	if err := out.Success(report); err != nil {
		return err
	}
	if n := report.Failed(); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d files did not sync cleanly", n, len(files)))
	}
	return nil
}
