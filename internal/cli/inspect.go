package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/calsync/internal/purge"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Count the rows of every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, rootOpts)
		},
	}
}

func runInspect(cmd *cobra.Command, opts *RootOptions) error {
	env, err := openEnvironment(cmd, opts)
	if err != nil {
		return err
	}
	defer env.close()

	counts, err := purge.New(env.data, env.logger).Inspect(cmd.Context())
	if err != nil {
		_ = env.out.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitFailure, "inspect", err)
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%-32s %d\n", name, counts[name])
	}
	return env.out.Result(counts, strings.TrimRight(b.String(), "\n"))
}
