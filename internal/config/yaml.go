package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/menu"
)

// YAMLConfig represents the top-level customs configuration file.
type YAMLConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Menu    MenuConfig    `yaml:"menu"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	ShutdownTimeout string          `yaml:"shutdown_timeout"`
	CORS            CORSConfig      `yaml:"cors"`
	TLS             TLSConfig       `yaml:"tls"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RateLimitConfig bounds request rates, per minute.
type RateLimitConfig struct {
	// Login limits password attempts per client IP.
	Login int `yaml:"login"`
	// API limits authenticated requests per bearer token.
	API int `yaml:"api"`
}

// StoreConfig selects the directory database.
type StoreConfig struct {
	// Driver is sqlite, postgres or mysql.
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	DataDir      string `yaml:"data_dir"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuthConfig groups the two token trust sources and the claim mapping.
type AuthConfig struct {
	Local    LocalAuthConfig        `yaml:"local"`
	External ExternalAuthConfig     `yaml:"external"`
	Mapping  authority.MapperConfig `yaml:"mapping"`
}

// LocalAuthConfig controls tokens issued at password login.
type LocalAuthConfig struct {
	Issuer    string `yaml:"issuer"`
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  string `yaml:"token_ttl"`
}

// ExternalAuthConfig controls tokens issued by the external identity
// provider.
type ExternalAuthConfig struct {
	Enabled            bool     `yaml:"enabled"`
	JWKSURL            string   `yaml:"jwks_url"`
	Algorithms         []string `yaml:"algorithms"`
	CacheTTL           string   `yaml:"cache_ttl"`
	FetchTimeout       string   `yaml:"fetch_timeout"`
	MinRefreshInterval string   `yaml:"min_refresh_interval"`
	ClockSkew          string   `yaml:"clock_skew"`
}

// MenuConfig replaces the built-in navigation menu when Items is set.
type MenuConfig struct {
	Items []menu.Item `yaml:"items,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MinSecretLength is the shortest local signing secret accepted outside
// development mode.
const MinSecretLength = 16

var asymmetricAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
	"ES256": true, "ES384": true, "ES512": true,
	"EdDSA": true,
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Sections left out of the file keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	// A mapping table in the file replaces the default one instead of
	// merging into it.
	cfg.Auth.Mapping.Groups = nil
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Auth.Mapping.Groups == nil {
		cfg.Auth.Mapping.Groups = authority.DefaultMapperConfig().Groups
	}
	cfg.normalize()
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			RateLimit: RateLimitConfig{
				Login: 10,
				API:   600,
			},
		},
		Store: StoreConfig{
			Driver:       DialectSQLite,
			MaxOpenConns: 10,
		},
		Auth: AuthConfig{
			Local: LocalAuthConfig{
				Issuer:   "customs",
				TokenTTL: "24h",
			},
			External: ExternalAuthConfig{
				Algorithms:         []string{"RS256"},
				CacheTTL:           "1h",
				FetchTimeout:       "5s",
				MinRefreshInterval: "30s",
				ClockSkew:          "0s",
			},
			Mapping: authority.DefaultMapperConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// normalize lower-cases mapping keys so lookups match regardless of the
// case the operator wrote.
func (c *YAMLConfig) normalize() {
	if len(c.Auth.Mapping.Groups) == 0 {
		return
	}
	groups := make(map[string][]string, len(c.Auth.Mapping.Groups))
	for g, names := range c.Auth.Mapping.Groups {
		key := strings.ToLower(strings.TrimSpace(g))
		groups[key] = append(groups[key], names...)
	}
	c.Auth.Mapping.Groups = groups
}

// Validate checks the configuration before anything is built from it. With
// dev set, a short or missing local secret is allowed.
func (c *YAMLConfig) Validate(dev bool) error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Store.Driver {
	case DialectSQLite, "":
	case DialectPostgres, DialectMySQL:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Auth.Local.Issuer == "" {
		errs = append(errs, errors.New("auth.local.issuer is required"))
	}
	if !dev && len(c.Auth.Local.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("auth.local.jwt_secret must be at least %d bytes", MinSecretLength))
	}

	durations := map[string]string{
		"server.shutdown_timeout":            c.Server.ShutdownTimeout,
		"auth.local.token_ttl":               c.Auth.Local.TokenTTL,
		"auth.external.cache_ttl":            c.Auth.External.CacheTTL,
		"auth.external.fetch_timeout":        c.Auth.External.FetchTimeout,
		"auth.external.min_refresh_interval": c.Auth.External.MinRefreshInterval,
		"auth.external.clock_skew":           c.Auth.External.ClockSkew,
	}
	for key, v := range durations {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
		}
	}

	if c.Auth.External.Enabled {
		if c.Auth.External.JWKSURL == "" {
			errs = append(errs, errors.New("auth.external.jwks_url is required when external auth is enabled"))
		}
		if len(c.Auth.External.Algorithms) == 0 {
			errs = append(errs, errors.New("auth.external.algorithms must not be empty"))
		}
		for _, alg := range c.Auth.External.Algorithms {
			if !asymmetricAlgorithms[alg] {
				errs = append(errs, fmt.Errorf("auth.external.algorithms: %q is not an asymmetric algorithm", alg))
			}
		}
	}

	if err := c.Auth.Mapping.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("auth.mapping: %w", err))
	}
	if len(c.Menu.Items) > 0 {
		if err := menu.Validate(c.Menu.Items); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// MenuItems returns the configured menu, or the built-in one.
func (c *YAMLConfig) MenuItems() []menu.Item {
	if len(c.Menu.Items) > 0 {
		return c.Menu.Items
	}
	return menu.DefaultItems()
}

// Duration parses a duration setting, returning def when it is empty or
// invalid. Validate reports invalid values before this is reached.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Redacted returns a copy safe to print: secrets and DSN credentials are
// masked.
func (c *YAMLConfig) Redacted() *YAMLConfig {
	cp := *c
	if cp.Auth.Local.JWTSecret != "" {
		cp.Auth.Local.JWTSecret = "********"
	}
	if cp.Store.DSN != "" {
		cp.Store.DSN = "********"
	}
	return &cp
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
