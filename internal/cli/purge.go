package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/calsync/internal/purge"
)

// cutoffLayout is the date format of --cutoff.
const cutoffLayout = "2006-01-02"

// PurgeEventsOptions holds flags for the purge events command.
type PurgeEventsOptions struct {
	*RootOptions
	Cutoff    string
	BatchSize int
	DryRun    bool

	// Now is the clock the default cutoff is derived from (for testing).
	Now func() time.Time
}

// NewPurgeCommand creates the purge command group.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove old data",
	}
	cmd.AddCommand(newPurgeEventsCommand(rootOpts))
	cmd.AddCommand(newPurgeRevisionsCommand(rootOpts))
	return cmd
}

func newPurgeEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeEventsOptions{RootOptions: rootOpts, Now: time.Now}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Remove calendar events that ended before a cutoff",
		Long: `Remove owned calendar events whose last instance ended before the cutoff.

Without --cutoff, events older than purge.retain_days are removed.
Each batch commits on its own.

Example:
  calsync purge events --cutoff 2024-01-01 --dry-run
  calsync purge events --batch-size 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurgeEvents(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Cutoff, "cutoff", "", "cutoff date (YYYY-MM-DD, UTC)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "objects per transaction (default purge.batch_size)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "count without removing")

	return cmd
}

func runPurgeEvents(cmd *cobra.Command, opts *PurgeEventsOptions) error {
	env, err := openEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	cutoff := opts.Now().UTC().AddDate(0, 0, -env.cfg.Purge.RetainDays)
	if opts.Cutoff != "" {
		if cutoff, err = time.Parse(cutoffLayout, opts.Cutoff); err != nil {
			_ = env.out.Error(ErrCodeGeneric, fmt.Sprintf("invalid --cutoff %q", opts.Cutoff), nil)
			return WrapExitError(ExitCommandError, "invalid --cutoff", err)
		}
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = env.cfg.Purge.BatchSize
	}
	env.out.VerboseLog("purging events before %s in batches of %d", cutoff.Format(time.RFC3339), batch)

	res, err := purge.New(env.data, env.logger).PurgeEvents(cmd.Context(), purge.EventsOptions{
		Cutoff:    cutoff,
		BatchSize: batch,
		DryRun:    opts.DryRun,
	})
	if err != nil {
		_ = env.out.Error(ErrCodeMaintenance, err.Error(), nil)
		return WrapExitError(ExitFailure, "purge events", err)
	}

	verb := "Removed"
	if res.DryRun {
		verb = "Would remove"
	}
	return env.out.Result(res, fmt.Sprintf("%s %d events older than %s", verb, res.Removed, cutoff.Format(cutoffLayout)))
}

// PurgeRevisionsOptions holds flags for the purge revisions command.
type PurgeRevisionsOptions struct {
	*RootOptions
	CutoffRevision int64
}

func newPurgeRevisionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeRevisionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revisions",
		Short: "Prune deleted-resource revisions",
		Long: `Prune revision tombstones at or below a revision.

Sync tokens older than the cutoff stop working; clients holding them
resynchronize from scratch.

Example:
  calsync purge revisions --cutoff-revision 120000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurgeRevisions(cmd, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.CutoffRevision, "cutoff-revision", 0, "highest revision to prune")

	return cmd
}

func runPurgeRevisions(cmd *cobra.Command, opts *PurgeRevisionsOptions) error {
	if opts.CutoffRevision <= 0 {
		return NewExitError(ExitCommandError, "--cutoff-revision must be positive")
	}
	env, err := openEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	pruned, err := purge.New(env.data, env.logger).PruneRevisions(cmd.Context(), opts.CutoffRevision)
	if err != nil {
		_ = env.out.Error(ErrCodeMaintenance, err.Error(), nil)
		return WrapExitError(ExitFailure, "purge revisions", err)
	}
	return env.out.Result(pruned, "Pruned revisions: "+formatCounts(pruned))
}

// formatCounts renders counts as "NAME=n" pairs in name order.
func formatCounts(counts map[string]int64) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, counts[name])
	}
	return strings.Join(parts, " ")
}
