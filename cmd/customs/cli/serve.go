package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/menu"
	"github.com/customsops/customs/internal/rbac"
	"github.com/customsops/customs/internal/server"
)

const banner = `
  ____ _   _ ____ _____ ___  __  __ ____
 / ___| | | / ___|_   _/ _ \|  \/  / ___|
| |   | | | \___ \ | || | | | |\/| \___ \
| |___| |_| |___) || || |_| | |  | |___) |
 \____|\___/|____/ |_| \___/|_|  |_|____/
`

func newServeCmd() *cobra.Command {
	var (
		port     int
		host     string
		dev      bool
		seedDemo bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the customs authorization server",
		Long: `Start the HTTP server: password login, bearer token validation for local
and external tokens, the authority-filtered menu and the user administration API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			return runServe(cmd.Context(), cfg, dev, seedDemo)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, random secret when none is set)")
	cmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "Create the demo accounts if they do not exist")

	return cmd
}

func runServe(ctx context.Context, cfg *config.YAMLConfig, dev, seedDemo bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(dev); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(cfg.Logging, dev, os.Stderr)

	// 1. Directory store, with the authority and role catalog reconciled
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("directory store initialized", "driver", cfg.Store.Driver)

	// 2. Demo accounts
	if seedDemo {
		n, err := store.SeedUsers(ctx, config.DemoUsers(), rbac.HashPassword)
		if err != nil {
			return fmt.Errorf("seed demo users: %w", err)
		}
		logger.Info("demo users seeded", "created", n)
	}
	hasUser, err := store.HasAnyUser(ctx)
	if err != nil {
		logger.Warn("failed to check for users", "error", err)
	}
	if !hasUser {
		logger.Warn("no users found - run: customs user create, or serve --seed-demo")
	}

	// 3. Token verification and the authority mapping
	authSvc, err := newAuthService(cfg, store, logger, dev)
	if err != nil {
		return err
	}

	// 4. Menu
	engine := menu.NewEngine(cfg.MenuItems())

	// 5. Build and start HTTP server
	srvCfg := server.FromYAML(cfg.Server, versionString())
	srv := server.New(srvCfg, store, authSvc, engine, logger)

	scheme := "http"
	if srvCfg.TLSCertFile != "" {
		scheme = "https"
	}
	fmt.Printf("→ Customs %s\n", versionString())
	fmt.Printf("→ Listening on %s://%s:%d\n", scheme, srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:    %s://%s:%d/openapi.json\n", scheme, srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     %s://%s:%d/healthz\n", scheme, srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ External tokens: %s\n", yesNo(authSvc.ExternalEnabled()))
	fmt.Println()

	return srv.ListenAndServe()
}
