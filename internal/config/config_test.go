package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	return Load(fs, args)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "opencbdc_ledger.json"), cfg.LedgerFile)
	assert.Equal(t, DefaultValidators, cfg.ValidatorNames())
	assert.Equal(t, filepath.Join("data", "opencbdc_validator3.json"), cfg.Validators[2].Path)
	assert.Equal(t, "DTL", cfg.Currency)
	assert.Equal(t, 30*time.Second, cfg.ListenerInterval)
	assert.Equal(t, uint64(10), cfg.ListenerMaxRange)
	assert.Equal(t, 5*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 2*time.Second, cfg.ReconcileRetry)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.ListenerEnabled())
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := load(t,
		"--data-dir", "/srv/ledger",
		"--validators", "a,b=/mnt/b.json",
		"--rpc-endpoint", "http://node:8545",
		"--token-address", "0xABCDEF",
		"--reconcile-interval", "1s",
	)
	require.NoError(t, err)

	assert.Equal(t, []Validator{
		{Name: "a", Path: "/srv/ledger/opencbdc_a.json"},
		{Name: "b", Path: "/mnt/b.json"},
	}, cfg.Validators)
	assert.Equal(t, "0xabcdef", cfg.TokenAddress)
	assert.Equal(t, time.Second, cfg.ReconcileInterval)
	assert.True(t, cfg.ListenerEnabled())
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("DTL_HTTP_ADDR", ":9999")
	t.Setenv("DTL_VALIDATORS", "v1,v2")
	t.Setenv("DTL_USE_MEMORY", "true")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, []string{"v1", "v2"}, cfg.ValidatorNames())
	assert.True(t, cfg.UseMemory)
}

func TestLoad_FlagBeatsEnv(t *testing.T) {
	t.Setenv("DTL_CURRENCY", "EUR")
	cfg, err := load(t, "--currency", "DTL")
	require.NoError(t, err)
	assert.Equal(t, "DTL", cfg.Currency)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dtl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("amqp-url: amqp://guest:guest@mq:5672/\nlistener-max-range: 25\n"), 0o644))

	cfg, err := load(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.AMQPURL)
	assert.Equal(t, uint64(25), cfg.ListenerMaxRange)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"duplicate validator", []string{"--validators", "v1,v1"}},
		{"unnamed validator", []string{"--validators", "=/tmp/x.json"}},
		{"zero reconcile interval", []string{"--reconcile-interval", "0s"}},
		{"zero max range", []string{"--listener-max-range", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args...)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
