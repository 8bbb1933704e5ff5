/*
Package config loads server settings from flags, the environment and an
optional .env file.

PRECEDENCE (highest first):
  1. Command-line flags
  2. Process environment
  3. .env file (loaded with godotenv; never overrides the environment)
  4. Defaults

SETTINGS:
  flag                 env                          default
  -port                PORT                         8080
  -driver              LEDGER_DRIVER                sqlite   (sqlite | mysql | memory)
  -dsn                 LEDGER_DSN                   pair-ledger.db
  -lock-timeout        LEDGER_LOCK_TIMEOUT          5s
  -reconcile-interval  LEDGER_RECONCILE_INTERVAL    0        (disabled)
  -demo                LEDGER_DEMO                  false
  -log-level           LOG_LEVEL                    info     (debug | info | warn | error)
  -cors-origins        CORS_ORIGINS                 (router default, comma separated)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Drivers accepted by -driver.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config is the resolved server configuration.
type Config struct {
	Port        int
	Driver      string
	DSN         string
	LockTimeout time.Duration
	LogLevel    slog.Level
	CORSOrigins []string

	// Demo enables the scenario loader endpoints.
	Demo bool

	// ReconcileInterval is the period of the background audit replay.
	// Zero disables it.
	ReconcileInterval time.Duration
}

// Load reads the .env file at envFile (missing is fine), then parses args
// with environment fallbacks.
func Load(args []string, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return Parse(args, os.Getenv)
}

// Parse resolves flags in args against the getenv fallbacks.
func Parse(args []string, getenv func(string) string) (Config, error) {
	port, err := envInt(getenv, "PORT", 8080)
	if err != nil {
		return Config{}, err
	}
	lockTimeout, err := envDuration(getenv, "LEDGER_LOCK_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}

	reconcile, err := envDuration(getenv, "LEDGER_RECONCILE_INTERVAL", 0)
	if err != nil {
		return Config{}, err
	}

	demo, err := envBool(getenv, "LEDGER_DEMO", false)
	if err != nil {
		return Config{}, err
	}

	fset := flag.NewFlagSet("pair-ledger", flag.ContinueOnError)
	var (
		cfg     Config
		level   string
		origins string
	)
	fset.IntVar(&cfg.Port, "port", port, "HTTP server port")
	fset.StringVar(&cfg.Driver, "driver", envString(getenv, "LEDGER_DRIVER", DriverSQLite), "storage driver: sqlite, mysql or memory")
	fset.StringVar(&cfg.DSN, "dsn", envString(getenv, "LEDGER_DSN", "pair-ledger.db"), "database path (sqlite) or DSN (mysql)")
	fset.DurationVar(&cfg.LockTimeout, "lock-timeout", lockTimeout, "maximum wait for a balance lock")
	fset.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", reconcile, "period of the background audit replay, 0 disables")
	fset.BoolVar(&cfg.Demo, "demo", demo, "enable demo scenario endpoints")
	fset.StringVar(&level, "log-level", envString(getenv, "LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fset.StringVar(&origins, "cors-origins", getenv("CORS_ORIGINS"), "comma separated allowed CORS origins")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	switch cfg.Driver {
	case DriverSQLite, DriverMySQL, DriverMemory:
	default:
		return Config{}, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if cfg.Driver == DriverMySQL && (cfg.DSN == "" || cfg.DSN == "pair-ledger.db") {
		return Config{}, errors.New("mysql driver requires -dsn or LEDGER_DSN")
	}
	if cfg.LockTimeout <= 0 {
		return Config{}, fmt.Errorf("lock timeout must be positive, got %s", cfg.LockTimeout)
	}
	if cfg.ReconcileInterval < 0 {
		return Config{}, fmt.Errorf("reconcile interval must not be negative, got %s", cfg.ReconcileInterval)
	}
	if cfg.LogLevel, err = ParseLevel(level); err != nil {
		return Config{}, err
	}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	return cfg, nil
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func envString(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(getenv func(string) string, key string, def bool) (bool, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
