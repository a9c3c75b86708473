package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/crmsync/internal/ledger"
)

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or edit the processed-resource ledger",
		Long: `Inspect or edit the ledger of processed resources.

A resource id is the email's Message-ID including angle brackets, or a
sha256: content hash for messages without one.

Example:
  crmsync ledger status '<msg-123@cyberdyne.ai>'
  crmsync ledger forget '<msg-123@cyberdyne.ai>'
  crmsync ledger list --limit 20`,
	}
	cmd.PersistentFlags().String("db-path", "", "ledger location: SQLite path or postgres:// DSN (env PERSISTENCE_DB_PATH)")

	cmd.AddCommand(newLedgerStatusCommand(rootOpts))
	cmd.AddCommand(newLedgerForgetCommand(rootOpts))
	cmd.AddCommand(newLedgerListCommand(rootOpts))
	return cmd
}

// LedgerEntry is the output of ledger status and one row of ledger list.
type LedgerEntry struct {
	ResourceID  string     `json:"resource_id"`
	Processed   bool       `json:"processed"`
	Status      string     `json:"status,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func entryFromRecord(r ledger.Record) LedgerEntry {
	at := r.ProcessedAt.UTC()
	return LedgerEntry{
		ResourceID:  r.ResourceID,
		Processed:   r.Status == ledger.StatusCompleted,
		Status:      string(r.Status),
		ProcessedAt: &at,
	}
}

func (e LedgerEntry) RenderText(w io.Writer) {
	if e.ProcessedAt == nil {
		fmt.Fprintf(w, "%s: not processed\n", e.ResourceID)
		return
	}
	fmt.Fprintf(w, "%s: %s at %s\n", e.ResourceID, e.Status, e.ProcessedAt.Format(time.RFC3339))
}

// LedgerList is the output of ledger list.
type LedgerList struct {
	Entries []LedgerEntry `json:"entries"`
}

func (l LedgerList) RenderText(w io.Writer) {
	if len(l.Entries) == 0 {
		fmt.Fprintln(w, "ledger is empty")
		return
	}
	for _, e := range l.Entries {
		e.RenderText(w)
	}
}

// ForgetResult is the output of ledger forget.
type ForgetResult struct {
	ResourceID string `json:"resource_id"`
	Forgotten  bool   `json:"forgotten"`
}

func (f ForgetResult) RenderText(w io.Writer) {
	if !f.Forgotten {
		fmt.Fprintf(w, "%s: not in ledger\n", f.ResourceID)
		return
	}
	fmt.Fprintf(w, "%s: forgotten; it will be processed again on the next run\n", f.ResourceID)
}

// withLedger loads configuration, opens the ledger and runs fn with it.
func withLedger(opts *RootOptions, cmd *cobra.Command, fn func(ledger.Ledger, *OutputFormatter) error) error {
	opts.setupLogging(cmd.ErrOrStderr())
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	l, err := openLedger(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot open ledger", err)
	}
	defer l.Close()
	return fn(l, opts.formatter(cmd))
}

func newLedgerStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <resource-id>",
		Short:         "Show whether a resource has been processed",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(opts, cmd, func(l ledger.Ledger, out *OutputFormatter) error {
				rec, err := l.Get(cmd.Context(), args[0])
				if errors.Is(err, ledger.ErrNotFound) {
					return out.Success(LedgerEntry{ResourceID: args[0]})
				}
				if err != nil {
					return WrapExitError(ExitFailure, "ledger lookup failed", err)
				}
				return out.Success(entryFromRecord(rec))
			})
		},
	}
}

func newLedgerForgetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "forget <resource-id>",
		Short:         "Remove a resource so it is processed again",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(opts, cmd, func(l ledger.Ledger, out *OutputFormatter) error {
				processed, err := l.HasProcessed(cmd.Context(), args[0])
				if err != nil {
					return WrapExitError(ExitFailure, "ledger lookup failed", err)
				}
				if err := l.Forget(cmd.Context(), args[0]); err != nil {
					return WrapExitError(ExitFailure, "ledger forget failed", err)
				}
				return out.Success(ForgetResult{ResourceID: args[0], Forgotten: processed})
			})
		},
	}
}

func newLedgerListCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List processed resources, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(opts, cmd, func(l ledger.Ledger, out *OutputFormatter) error {
				records, err := l.List(cmd.Context(), limit)
				if err != nil {
					return WrapExitError(ExitFailure, "ledger list failed", err)
				}
				list := LedgerList{Entries: make([]LedgerEntry, 0, len(records))}
				for _, r := range records {
					list.Entries = append(list.Entries, entryFromRecord(r))
				}
				return out.Success(list)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show (0 for all)")
	return cmd
}
