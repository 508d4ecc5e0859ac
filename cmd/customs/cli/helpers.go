package cli

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/jwks"
	"github.com/customsops/customs/internal/service"
	"github.com/customsops/customs/internal/token"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// CUSTOMS_DATA_DIR env var, or ~/.customs as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("CUSTOMS_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".customs")
}

// envOverrides are the settings that may be replaced through CUSTOMS_*
// environment variables, e.g. CUSTOMS_AUTH_LOCAL_JWT_SECRET.
var envOverrides = map[string]func(c *config.YAMLConfig, v *viper.Viper, key string){
	"server.host":            func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Server.Host = v.GetString(k) },
	"server.port":            func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Server.Port = v.GetInt(k) },
	"store.driver":           func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Store.Driver = v.GetString(k) },
	"store.dsn":              func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Store.DSN = v.GetString(k) },
	"auth.local.issuer":      func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Auth.Local.Issuer = v.GetString(k) },
	"auth.local.jwt_secret":  func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Auth.Local.JWTSecret = v.GetString(k) },
	"auth.local.token_ttl":   func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Auth.Local.TokenTTL = v.GetString(k) },
	"auth.external.enabled":  func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Auth.External.Enabled = v.GetBool(k) },
	"auth.external.jwks_url": func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Auth.External.JWKSURL = v.GetString(k) },
	"logging.level":          func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Logging.Level = v.GetString(k) },
	"logging.format":         func(c *config.YAMLConfig, v *viper.Viper, k string) { c.Logging.Format = v.GetString(k) },
}

// envName returns the environment variable viper reads for key.
func envName(key string) string {
	return "CUSTOMS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// loadConfig reads the config file viper located (or the built-in defaults
// when there is none), then applies environment overrides. The file itself
// is parsed by config.LoadYAMLConfig so ${VAR} references are expanded.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	v := viper.GetViper()
	for key, apply := range envOverrides {
		if _, ok := os.LookupEnv(envName(key)); ok {
			apply(cfg, v, key)
		}
	}

	if cfg.Store.Driver == "" || cfg.Store.Driver == config.DialectSQLite {
		if cfg.Store.DSN == "" && (cfg.Store.DataDir == "" || dataDir != "") {
			cfg.Store.DataDir = resolveDataDir()
		}
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, dev bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore opens the directory store and reconciles the authority and role
// catalog.
func openStore(ctx context.Context, cfg *config.YAMLConfig, logger *slog.Logger) (*config.Store, error) {
	store, err := config.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open directory store: %w", err)
	}
	res, err := store.Bootstrap(ctx, authority.Catalog(), authority.DefaultRoles())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("bootstrap directory: %w", err)
	}
	if res.Authorities > 0 || res.Roles > 0 {
		logger.Info("directory bootstrapped", "authorities_created", res.Authorities, "roles_created", res.Roles)
	}
	return store, nil
}

// newAuthService builds the local token issuer and, when enabled, the
// external verifier chain. In dev mode a missing local secret is replaced
// with a random one, so tokens do not survive a restart.
func newAuthService(cfg *config.YAMLConfig, store *config.Store, logger *slog.Logger, dev bool) (*service.AuthService, error) {
	secret := []byte(cfg.Auth.Local.JWTSecret)
	if len(secret) == 0 {
		if !dev {
			return nil, fmt.Errorf("auth.local.jwt_secret is required (set %s)", envName("auth.local.jwt_secret"))
		}
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate dev secret: %w", err)
		}
		logger.Warn("no auth.local.jwt_secret configured, using a random secret for this process")
	}

	local := service.LocalConfig{
		Issuer:   cfg.Auth.Local.Issuer,
		Secret:   secret,
		TokenTTL: config.Duration(cfg.Auth.Local.TokenTTL, 24*time.Hour),
	}

	var external *service.External
	if ext := cfg.Auth.External; ext.Enabled {
		rcfg := jwks.DefaultConfig(ext.JWKSURL)
		rcfg.TTL = config.Duration(ext.CacheTTL, rcfg.TTL)
		rcfg.FetchTimeout = config.Duration(ext.FetchTimeout, rcfg.FetchTimeout)
		rcfg.MinRefreshInterval = config.Duration(ext.MinRefreshInterval, rcfg.MinRefreshInterval)

		resolver := jwks.NewResolver(rcfg, logger)
		external = &service.External{
			Verifier: token.NewVerifier(token.Config{
				Algorithms: ext.Algorithms,
				ClockSkew:  config.Duration(ext.ClockSkew, 0),
			}, resolver, logger),
			Mapper: authority.NewMapper(cfg.Auth.Mapping, logger),
		}
		logger.Info("external identity provider enabled", "jwks_url", ext.JWKSURL, "algorithms", ext.Algorithms)
	}

	return service.NewAuthService(store, local, external, logger), nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// yesNo renders a boolean for table output.
func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// withStore loads the configuration, opens the directory store and runs fn.
func withStore(ctx context.Context, fn func(ctx context.Context, store *config.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, newLogger(cfg.Logging, false, os.Stderr))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}
