package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil, env(nil))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, "pair-ledger.db", cfg.DSN)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.CORSOrigins)
	assert.Zero(t, cfg.ReconcileInterval)
	assert.False(t, cfg.Demo)
}

func TestParse_EnvThenFlags(t *testing.T) {
	// GIVEN: Environment values for every setting
	// WHEN: Some flags are also given
	// THEN: Flags win, the environment fills the rest

	e := env(map[string]string{
		"PORT":                      "9000",
		"LEDGER_DRIVER":             "memory",
		"LEDGER_LOCK_TIMEOUT":       "250ms",
		"LOG_LEVEL":                 "debug",
		"CORS_ORIGINS":              "https://a.example, https://b.example",
		"LEDGER_RECONCILE_INTERVAL": "10m",
		"LEDGER_DEMO":               "true",
	})
	cfg, err := Parse([]string{"-port", "7000", "-log-level", "WARN"}, e)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, DriverMemory, cfg.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileInterval)
	assert.True(t, cfg.Demo)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"unknown driver", []string{"-driver", "postgres"}, nil},
		{"mysql without dsn", []string{"-driver", "mysql"}, nil},
		{"bad port env", nil, map[string]string{"PORT": "eighty"}},
		{"bad timeout env", nil, map[string]string{"LEDGER_LOCK_TIMEOUT": "soon"}},
		{"zero timeout", []string{"-lock-timeout", "0s"}, nil},
		{"bad level", []string{"-log-level", "loud"}, nil},
		{"bad demo env", nil, map[string]string{"LEDGER_DEMO": "sometimes"}},
		{"negative reconcile interval", []string{"-reconcile-interval", "-1m"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args, env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	// GIVEN: A .env file setting the driver and DSN
	// WHEN: The process environment sets LEDGER_DRIVER too
	// THEN: The process environment wins and the DSN comes from the file

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_DRIVER=mysql\nLEDGER_DSN=from-file.db\n"), 0o600))
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("LEDGER_DSN", "")
	os.Unsetenv("LEDGER_DSN")

	cfg, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, "from-file.db", cfg.DSN)
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
