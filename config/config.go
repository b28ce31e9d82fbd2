// Package config loads the ledger's YAML configuration and applies
// environment overrides on top of it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"library-ledger/auth"
)

// Config is the whole configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Accounts []auth.Account `yaml:"accounts"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StoreConfig struct {
	// Driver is sqlite, postgres or memory.
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type LedgerConfig struct {
	LoanPeriod time.Duration `yaml:"loan_period"`
}

type HTTPConfig struct {
	// EmptyHistoryNotFound answers GET /borrowings/myborrowings with 404
	// instead of an empty list when the user has no records.
	EmptyHistoryNotFound bool `yaml:"empty_history_not_found"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Store:  StoreConfig{Driver: "sqlite", DSN: "data/library.db"},
		Auth:   AuthConfig{TokenTTL: 12 * time.Hour},
		Ledger: LedgerConfig{LoanPeriod: 14 * 24 * time.Hour},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (if not empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with SERVER_HOST, DB_DRIVER, DB_DSN,
// JWT_SECRET, LOG_LEVEL and LOG_FORMAT when set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"SERVER_HOST": &c.Server.Addr,
		"DB_DRIVER":   &c.Store.Driver,
		"DB_DSN":      &c.Store.DSN,
		"JWT_SECRET":  &c.Auth.JWTSecret,
		"LOG_LEVEL":   &c.Log.Level,
		"LOG_FORMAT":  &c.Log.Format,
	}
	for key, field := range overrides {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}
}

// Validate reports the first inconsistency found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case "sqlite", "sqlite3", "postgres", "pgx", "memory":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.DSN == "" && !strings.EqualFold(c.Store.Driver, "memory") {
		return errors.New("store.dsn is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Ledger.LoanPeriod <= 0 {
		return errors.New("ledger.loan_period must be positive")
	}
	if len(c.Accounts) > 0 && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when accounts are configured")
	}
	for _, a := range c.Accounts {
		if a.Role != "" && a.Role != auth.RoleAdmin && a.Role != auth.RoleMember {
			return fmt.Errorf("account %s: unknown role %q", a.ID, a.Role)
		}
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the process logger: JSON when format is "json", text otherwise.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
