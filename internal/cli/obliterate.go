package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/calsync/internal/purge"
)

// ObliterateOptions holds flags for the obliterate home command.
type ObliterateOptions struct {
	*RootOptions
	UID string
}

// NewObliterateCommand creates the obliterate command group.
func NewObliterateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "obliterate",
		Short: "Delete every row of a principal",
	}
	cmd.AddCommand(newObliterateHomeCommand(rootOpts))
	return cmd
}

func newObliterateHomeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObliterateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "home",
		Short: "Delete a principal's homes, collections, shares and notifications",
		Long: `Delete everything stored for one principal: calendar and address book
homes with their collections and objects, shares with other principals,
notifications and revision history.

Example:
  calsync obliterate home --uid 10000000-0000-0000-0000-000000000001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObliterate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.UID, "uid", "", "principal UID")

	return cmd
}

type obliterateResult struct {
	UID   string `json:"uid"`
	Homes int    `json:"homes"`
}

func runObliterate(cmd *cobra.Command, opts *ObliterateOptions) error {
	if opts.UID == "" {
		return NewExitError(ExitCommandError, "--uid is required")
	}
	env, err := openEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	n, err := purge.New(env.data, env.logger).ObliterateHome(cmd.Context(), opts.UID)
	if err != nil {
		_ = env.out.Error(ErrCodeMaintenance, err.Error(), nil)
		return WrapExitError(ExitFailure, "obliterate home", err)
	}
	return env.out.Result(obliterateResult{UID: opts.UID, Homes: n},
		fmt.Sprintf("Obliterated %d homes of %s", n, opts.UID))
}
