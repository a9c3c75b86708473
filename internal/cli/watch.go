package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/roach88/crmsync/internal/engine"
)

// DefaultSettle is how long a file must stay unchanged before it is
// processed.
const DefaultSettle = 500 * time.Millisecond

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Force    bool
	Existing bool
	Settle   time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Process .eml files as they appear in a directory",
		Long: `Watch a directory and process every .eml file written to it, one at a
time, until interrupted. Files already in the ledger are skipped.

Example:
  crmsync watch ./inbox
  crmsync watch --existing ./inbox`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "reprocess files already in the ledger")
	cmd.Flags().BoolVar(&opts.Existing, "existing", false, "also process .eml files already in the directory")
	cmd.Flags().DurationVar(&opts.Settle, "settle", DefaultSettle, "quiet period before a changed file is processed")
	addConnectionFlags(cmd)

	return cmd
}

func runWatch(opts *WatchOptions, dir string, cmd *cobra.Command) error {
	logger := opts.setupLogging(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("not a directory: %s", dir))
	}
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := NewApp(cfg, opts.App, logger)
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

	handle := func(path string) {
		o := app.ProcessFile(ctx, path, opts.Force)
		if err := out.Success(ProcessReport{Outcomes: []engine.Outcome{o}}); err != nil {
			logger.Error("cannot write output", "error", err)
		}
	}

	logger.Info("watching for email files", "dir", dir, "existing", opts.Existing)
	if err := WatchDir(ctx, dir, opts.Settle, opts.Existing, handle, logger); err != nil {
		return WrapExitError(ExitFailure, "watch failed", err)
	}
	logger.Info("watch stopped")
	return nil
}

// WatchDir calls handle for every .eml file created or written in dir once
// it has been quiet for settle. With existing set, files already in dir are
// queued too; they are listed only after the watcher is registered, so a
// file arriving while the backlog is handled still produces an event.
// Calls are sequential. It returns nil when ctx is cancelled.
func WatchDir(ctx context.Context, dir string, settle time.Duration, existing bool, handle func(path string), logger *slog.Logger) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	tick := time.NewTicker(settle / 2)
	defer tick.Stop()
	pending := map[string]time.Time{}

	if existing {
		files, err := emlFiles(dir)
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}
		// Backdated so the first tick picks them up, in name order.
		listed := time.Now().Add(-settle)
		for _, path := range files {
			pending[path] = listed
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isEML(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				pending[ev.Name] = time.Now()
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				delete(pending, ev.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)

		case now := <-tick.C:
			for _, path := range settled(pending, now, settle) {
				delete(pending, path)
				if ctx.Err() != nil {
					return nil
				}
				handle(path)
			}
		}
	}
}

// settled returns the pending paths unchanged for at least settle, oldest
// first.
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var ready []string
	for path, last := range pending {
		if now.Sub(last) >= settle {
			ready = append(ready, path)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if pending[ready[i]].Equal(pending[ready[j]]) {
			return ready[i] < ready[j]
		}
		return pending[ready[i]].Before(pending[ready[j]])
	})
	return ready
}

func isEML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".eml")
}

func emlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && isEML(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
