package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/calsync/internal/conduit"
)

// shutdownTimeout bounds how long in-flight conduit requests may run
// after a stop signal.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cross-pod conduit endpoint",
		Long: `Serve the conduit endpoint other pods send sharing requests to.

Requests must carry a token signed with the shared pod secret.

Example:
  calsync serve --config calsync.yaml
  calsync serve --listen :9000 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides pod.listen)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	env, err := openEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	if env.cfg.Pod.Secret == "" {
		_ = env.out.Error(ErrCodeConfig, "pod.secret is required to serve", nil)
		return NewExitError(ExitCommandError, "pod.secret is required to serve")
	}
	addr := env.cfg.Pod.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           conduit.NewServer(env.data, []byte(env.cfg.Pod.Secret), env.logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		env.logger.Info("conduit listening", "addr", addr, "pod", env.cfg.Pod.ID)
		errc <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving pod %s on %s. Press Ctrl-C to stop.\n", env.cfg.Pod.ID, addr)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = env.out.Error(ErrCodeServe, err.Error(), nil)
			return WrapExitError(ExitFailure, "conduit server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	env.logger.Info("shutting down conduit")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "conduit shutdown", err)
	}
	env.logger.Info("conduit stopped gracefully")
	return nil
}
