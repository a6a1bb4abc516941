package cli

import (
	"fmt"
	"strings"
	"time"

	"fiscal/internal/authz"
	"fiscal/internal/domain"
	"fiscal/internal/dto"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func NewRetryFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed <device-id>",
		Short: "Return FAILED queue commands of a device to PENDING",
		Long: `Return every FAILED command of a device to PENDING so the dispatcher
picks them up on its next pass. Use after the operator resolved the cause
of the rejections.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid device id", err)
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.QueueSvc.RetryFailed(operatorContext(cmd.Context()), id)
			if err != nil {
				return err
			}
			return formatter(rootOpts, cmd).Success(res)
		},
	}
}

type TokenOptions struct {
	*RootOptions
	Subject string
	Role    string
	Device  string
	Cashier string
	TTL     time.Duration
}

func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured key",
		Long: `Issue a bearer token for the HTTP API.

Examples:
  kktd token --subject ops --role ADMIN
  kktd token --subject till-3 --role CASHIER --device <uuid> --cashier <uuid> --ttl 8h`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "token subject (required)")
	_ = cmd.MarkFlagRequired("subject")
	cmd.Flags().StringVar(&opts.Role, "role", string(domain.RoleCashier), "CASHIER, SENIOR_CASHIER or ADMIN")
	cmd.Flags().StringVar(&opts.Device, "device", "", "bind the token to one device")
	cmd.Flags().StringVar(&opts.Cashier, "cashier", "", "cashier record behind the token")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default TOKEN_TTL)")
	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	signer, err := authz.NewSigner(cfg.JWTPrivateKey, cfg.JWTKeyID, cfg.JWTIssuer)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid signing key", err)
	}

	p := authz.Principal{Subject: opts.Subject, Role: domain.Role(strings.ToUpper(opts.Role))}
	if p.DeviceID, err = optionalID("device", opts.Device); err != nil {
		return err
	}
	if p.CashierID, err = optionalID("cashier", opts.Cashier); err != nil {
		return err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = cfg.TokenTTL
	}
	issuedAt := time.Now().UTC()
	raw, err := signer.Issue(p, ttl)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to issue token", err)
	}
	return formatter(opts.RootOptions, cmd).Success(dto.TokenResponse{
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresAt:   issuedAt.Add(ttl),
	})
}

func optionalID(flag, raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", flag), err)
	}
	return &id, nil
}

type CashierOptions struct {
	*RootOptions
	Device string
	Name   string
	Role   string
	Pin    string
}

func NewCashierCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cashier",
		Short: "Manage cashiers registered on a device",
	}

	opts := &CashierOptions{RootOptions: rootOpts}
	add := &cobra.Command{
		Use:          "add",
		Short:        "Register a cashier on a device",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(opts.Device)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --device", err)
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Devices.AddCashier(operatorContext(cmd.Context()), id, dto.AddCashierRequest{
				Name: opts.Name,
				Role: opts.Role,
				Pin:  opts.Pin,
			})
			if err != nil {
				return err
			}
			return formatter(opts.RootOptions, cmd).Success(res)
		},
	}
	add.Flags().StringVar(&opts.Device, "device", "", "device id (required)")
	add.Flags().StringVar(&opts.Name, "name", "", "cashier name (required)")
	add.Flags().StringVar(&opts.Role, "role", string(domain.RoleCashier), "CASHIER, SENIOR_CASHIER or ADMIN")
	add.Flags().StringVar(&opts.Pin, "pin", "", "optional PIN, at least 4 digits")
	_ = add.MarkFlagRequired("device")
	_ = add.MarkFlagRequired("name")

	cmd.AddCommand(add)
	return cmd
}
