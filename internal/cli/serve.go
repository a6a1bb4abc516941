package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"fiscal/internal/observability/metrics"

	"github.com/spf13/cobra"
)

type ServeOptions struct {
	*RootOptions
	NoWorker bool
	Migrate  bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the queue dispatcher",
		Long: `Run the HTTP API. Unless --no-worker is given the same process also
drains the outbound queues; several processes may do so at once since
each device is leased to one dispatcher at a time.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.NoWorker, "no-worker", false, "serve HTTP only")
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", true, "apply schema migrations on start")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Migrate {
		if err := a.Migrate(ctx); err != nil {
			return WrapExitError(ExitCommandError, "migration failed", err)
		}
	}
	metrics.MustRegister("kktd")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx, !opts.NoWorker)
}

func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "worker",
		Short:        "Drain the outbound queues without serving HTTP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			metrics.MustRegister("kktd")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go a.Sender.RunThrottleSweeper(ctx)
			return a.RunWorker(ctx)
		},
	}
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Create or update the database schema",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Migrate(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}
			return formatter(rootOpts, cmd).Success(map[string]string{"migrated": a.Config.StorageMode})
		},
	}
}
