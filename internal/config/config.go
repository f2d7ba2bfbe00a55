// Package config loads service configuration from flags, DTL_ environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides (DTL_HTTP_ADDR, ...).
const EnvPrefix = "DTL"

// Config keys.
const (
	CfgConfigFile           = "config"
	CfgDataDir              = "data-dir"
	CfgLedgerFile           = "ledger-file"
	CfgValidators           = "validators"
	CfgCurrency             = "currency"
	CfgLogsDir              = "logs-dir"
	CfgIPFSURL              = "ipfs-url"
	CfgRPCEndpoint          = "rpc-endpoint"
	CfgWSEndpoint           = "ws-endpoint"
	CfgTokenAddress         = "token-address"
	CfgListenerInterval     = "listener-interval"
	CfgListenerMaxRange     = "listener-max-range"
	CfgReconcileInterval    = "reconcile-interval"
	CfgReconcileRetry       = "reconcile-retry"
	CfgPendingRetryInterval = "pending-retry-interval"
	CfgHTTPAddr             = "http-addr"
	CfgMetricsAddr          = "metrics-addr"
	CfgPostgresDSN          = "postgres-dsn"
	CfgClickhouseDSN        = "clickhouse-dsn"
	CfgAMQPURL              = "amqp-url"
	CfgUseMemory            = "use-memory"
)

// DefaultValidators are the replica names used when none are configured.
var DefaultValidators = []string{"validator1", "validator2", "validator3", "validator4"}

// ErrInvalidConfig is returned for values that cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// Validator is one replica target.
type Validator struct {
	Name string
	Path string // document file for the file backend
}

// Config is the resolved service configuration.
type Config struct {
	DataDir    string
	LedgerFile string
	Validators []Validator
	Currency   string
	LogsDir    string

	IPFSURL string

	RPCEndpoint      string
	WSEndpoint       string
	TokenAddress     string
	ListenerInterval time.Duration
	ListenerMaxRange uint64

	ReconcileInterval    time.Duration
	ReconcileRetry       time.Duration
	PendingRetryInterval time.Duration

	HTTPAddr    string
	MetricsAddr string

	PostgresDSN   string
	ClickhouseDSN string
	AMQPURL       string
	UseMemory     bool
}

// ListenerEnabled reports whether the chain listener has what it needs to run.
func (c *Config) ListenerEnabled() bool {
	return c.RPCEndpoint != "" && c.TokenAddress != ""
}

// ValidatorNames returns the configured replica names in order.
func (c *Config) ValidatorNames() []string {
	names := make([]string, len(c.Validators))
	for i, v := range c.Validators {
		names[i] = v.Name
	}
	return names
}

// RegisterFlags defines every config flag on fs.
func RegisterFlags(fs *flag.FlagSet) {
	fs.StringP(CfgConfigFile, "c", "", "Optional config file (json, yaml or toml)")
	fs.String(CfgDataDir, "data", "Directory holding the ledger documents")
	fs.String(CfgLedgerFile, "", "Primary ledger document (default <data-dir>/opencbdc_ledger.json)")
	fs.StringSlice(CfgValidators, DefaultValidators, "Validator replicas as name or name=path")
	fs.String(CfgCurrency, "DTL", "Ledger currency code")
	fs.String(CfgLogsDir, "logs", "Directory for transfer, UTXO and validator logs")
	fs.String(CfgIPFSURL, "http://127.0.0.1:5001", "IPFS HTTP API URL (empty: local content directory)")
	fs.String(CfgRPCEndpoint, "", "Chain JSON-RPC HTTP endpoint (enables the chain listener)")
	fs.String(CfgWSEndpoint, "", "Chain WebSocket endpoint for new heads")
	fs.String(CfgTokenAddress, "", "ERC-20 token contract to index")
	fs.Duration(CfgListenerInterval, 30*time.Second, "Chain listener poll interval")
	fs.Uint64(CfgListenerMaxRange, 10, "Maximum blocks per listener range")
	fs.Duration(CfgReconcileInterval, 5*time.Second, "Reconciliation poll interval")
	fs.Duration(CfgReconcileRetry, 2*time.Second, "Reconciliation retry delay after a failed cycle")
	fs.Duration(CfgPendingRetryInterval, time.Minute, "Retry interval for templates pending upload")
	fs.String(CfgHTTPAddr, ":8080", "REST API listen address")
	fs.String(CfgMetricsAddr, ":9090", "Prometheus metrics listen address")
	fs.String(CfgPostgresDSN, "", "PostgreSQL DSN (stores replicas and the chain cursor in Postgres)")
	fs.String(CfgClickhouseDSN, "", "ClickHouse DSN (enables the projection sink)")
	fs.String(CfgAMQPURL, "", "AMQP URL (enables the projection publisher)")
	fs.Bool(CfgUseMemory, false, "Keep every document in memory")
}

// Load parses args into fs and resolves the configuration. fs must have been
// set up with RegisterFlags.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if file := v.GetString(CfgConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir:              v.GetString(CfgDataDir),
		LedgerFile:           v.GetString(CfgLedgerFile),
		Currency:             v.GetString(CfgCurrency),
		LogsDir:              v.GetString(CfgLogsDir),
		IPFSURL:              v.GetString(CfgIPFSURL),
		RPCEndpoint:          v.GetString(CfgRPCEndpoint),
		WSEndpoint:           v.GetString(CfgWSEndpoint),
		TokenAddress:         strings.ToLower(v.GetString(CfgTokenAddress)),
		ListenerInterval:     v.GetDuration(CfgListenerInterval),
		ListenerMaxRange:     v.GetUint64(CfgListenerMaxRange),
		ReconcileInterval:    v.GetDuration(CfgReconcileInterval),
		ReconcileRetry:       v.GetDuration(CfgReconcileRetry),
		PendingRetryInterval: v.GetDuration(CfgPendingRetryInterval),
		HTTPAddr:             v.GetString(CfgHTTPAddr),
		MetricsAddr:          v.GetString(CfgMetricsAddr),
		PostgresDSN:          v.GetString(CfgPostgresDSN),
		ClickhouseDSN:        v.GetString(CfgClickhouseDSN),
		AMQPURL:              v.GetString(CfgAMQPURL),
		UseMemory:            v.GetBool(CfgUseMemory),
	}
	if cfg.LedgerFile == "" {
		cfg.LedgerFile = filepath.Join(cfg.DataDir, "opencbdc_ledger.json")
	}

	validators, err := parseValidators(v.GetStringSlice(CfgValidators), cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.Validators = validators

	if cfg.ReconcileInterval <= 0 || cfg.ReconcileRetry <= 0 {
		return nil, fmt.Errorf("%w: reconcile intervals must be positive", ErrInvalidConfig)
	}
	if cfg.ListenerInterval <= 0 || cfg.PendingRetryInterval <= 0 {
		return nil, fmt.Errorf("%w: %s and %s must be positive", ErrInvalidConfig, CfgListenerInterval, CfgPendingRetryInterval)
	}
	if cfg.ListenerMaxRange == 0 {
		return nil, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, CfgListenerMaxRange)
	}
	return cfg, nil
}

// parseValidators turns "name" or "name=path" entries into replicas. Bare
// names are stored as <dataDir>/opencbdc_<name>.json.
func parseValidators(entries []string, dataDir string) ([]Validator, error) {
	seen := make(map[string]bool, len(entries))
	var out []Validator
	for _, e := range splitEntries(entries) {
		name, path := e, ""
		if i := strings.Index(e, "="); i >= 0 {
			name, path = strings.TrimSpace(e[:i]), strings.TrimSpace(e[i+1:])
		}
		if name == "" {
			return nil, fmt.Errorf("%w: validator entry %q has no name", ErrInvalidConfig, e)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate validator %q", ErrInvalidConfig, name)
		}
		seen[name] = true
		if path == "" {
			path = filepath.Join(dataDir, "opencbdc_"+name+".json")
		}
		out = append(out, Validator{Name: name, Path: path})
	}
	return out, nil
}

// splitEntries flattens comma-separated entries; environment values reach
// viper as a single string.
func splitEntries(entries []string) []string {
	var out []string
	for _, e := range entries {
		for _, part := range strings.Split(e, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
