package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/service"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect bearer tokens",
	}

	cmd.AddCommand(newTokenInspectCmd())

	return cmd
}

func newTokenInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a token and print the resulting principal",
		Long: `Verify a bearer token with the configured local and external verifiers and
print the principal it resolves to, including its authorities. On failure the
internal reason (expired, signature_invalid, ...) is printed; the HTTP API never
reveals it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}, false, os.Stderr)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			// Without a configured secret only external tokens can verify.
			authSvc, err := newAuthService(cfg, store, logger, cfg.Auth.Local.JWTSecret == "")
			if err != nil {
				return err
			}

			raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(args[0]), "Bearer "))
			p, err := authSvc.Authenticate(ctx, raw)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "invalid: %s\n", service.FailureReason(err))
				return fmt.Errorf("token rejected: %w", err)
			}

			return printJSON(cmd.OutOrStdout(), map[string]any{
				"principal":   p,
				"roles":       p.Roles(),
				"permissions": p.Permissions(),
			})
		},
	}
}
