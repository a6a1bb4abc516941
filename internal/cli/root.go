// Package cli implements the kktd command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"fiscal/internal/app"
	"fiscal/internal/authz"
	"fiscal/internal/config"
	"fiscal/internal/domain"
	"fiscal/internal/observability/logging"

	"github.com/spf13/cobra"
)

type RootOptions struct {
	Format     string // text | json
	ConfigFile string
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kktd",
		Short: "kktd - fiscal register delivery daemon",
		Long: `kktd accepts fiscal operations for cash registers, delivers the
resulting documents to the fiscal data operator and keeps an outbound
queue per device for everything that could not be delivered online.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.ConfigFile != "" {
				return os.Setenv("KKT_CONFIG_FILE", opts.ConfigFile)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML file overriding OFD, limit and worker settings")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewRetryFailedCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewCashierCommand(opts))

	return cmd
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	logger := logging.NewLogger(logging.Config{
		ServiceName: "kktd",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Output:      os.Stderr,
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openApp() (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialise", err)
	}
	return a, nil
}

// operatorContext authorises CLI calls as a fleet administrator. Access to
// the command line already implies access to the database.
func operatorContext(ctx context.Context) context.Context {
	return authz.WithPrincipal(ctx, authz.Principal{Subject: "cli", Role: domain.RoleAdmin})
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}
