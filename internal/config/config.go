package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SWAPDET_SOLANA_RPC_URL.
const EnvPrefix = "SWAPDET"

// JupiterProgramID is the Jupiter v6 aggregator program.
const JupiterProgramID = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"

// Storage drivers.
const (
	DriverNone       = "none"
	DriverMemory     = "memory"
	DriverPostgres   = "postgres"
	DriverClickHouse = "clickhouse"
)

// Config holds every setting of the detector process.
type Config struct {
	Solana   SolanaConfig   `mapstructure:"solana"`
	Detector DetectorConfig `mapstructure:"detector"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SolanaConfig holds upstream endpoints and commitment levels.
type SolanaConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	WSURL           string        `mapstructure:"ws_url"`
	ProgramID       string        `mapstructure:"program_id"`
	LogCommitment   string        `mapstructure:"log_commitment"`
	FetchCommitment string        `mapstructure:"fetch_commitment"`
	MaxInFlight     int           `mapstructure:"max_in_flight"`
	RPCTimeout      time.Duration `mapstructure:"rpc_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// DetectorConfig holds classifier thresholds and health timings.
type DetectorConfig struct {
	VaultThreshold   float64       `mapstructure:"vault_threshold"`
	NativeDust       float64       `mapstructure:"native_dust"`
	CacheSize        int           `mapstructure:"cache_size"`
	HealthInterval   time.Duration `mapstructure:"health_interval"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	Assets           []string      `mapstructure:"assets"`
}

// StorageConfig selects where emitted trades are persisted.
type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
}

// KafkaConfig configures the trade publisher. Empty brokers disables it.
type KafkaConfig struct {
	Brokers []string      `mapstructure:"brokers"`
	Topic   string        `mapstructure:"topic"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPConfig configures the control and metrics server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"rpc-url":       "solana.rpc_url",
	"ws-url":        "solana.ws_url",
	"assets":        "detector.assets",
	"storage":       "storage.driver",
	"postgres-dsn":  "storage.postgres_dsn",
	"kafka-brokers": "kafka.brokers",
	"http-addr":     "http.addr",
	"log-level":     "logging.level",
	"dev":           "logging.dev_mode",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to YAML config file")
	fs.String("rpc-url", "", "Solana JSON-RPC endpoint")
	fs.String("ws-url", "", "Solana pubsub websocket endpoint")
	fs.StringSlice("assets", nil, "token mints to watch at startup")
	fs.String("storage", "", "trade storage driver (none|memory|postgres|clickhouse)")
	fs.String("postgres-dsn", "", "PostgreSQL DSN")
	fs.StringSlice("kafka-brokers", nil, "Kafka brokers for trade publishing")
	fs.String("http-addr", "", "control/metrics listen address")
	fs.String("log-level", "", "log level")
	fs.Bool("dev", false, "development logging")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.ws_url", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("solana.program_id", JupiterProgramID)
	v.SetDefault("solana.log_commitment", "processed")
	v.SetDefault("solana.fetch_commitment", "confirmed")
	v.SetDefault("solana.max_in_flight", 16)
	v.SetDefault("solana.rpc_timeout", "30s")
	v.SetDefault("solana.max_retries", 3)

	v.SetDefault("detector.vault_threshold", 100000.0)
	v.SetDefault("detector.native_dust", 0.001)
	v.SetDefault("detector.cache_size", 1000)
	v.SetDefault("detector.health_interval", "30s")
	v.SetDefault("detector.stale_after", "120s")
	v.SetDefault("detector.reconnect_backoff", "2s")
	v.SetDefault("detector.assets", []string{})

	v.SetDefault("storage.driver", DriverMemory)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "swap-trades")
	v.SetDefault("kafka.timeout", "10s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)
}

// Load reads defaults, then the optional file at path, then SWAPDET_*
// environment variables, then any flag in fs that was set explicitly.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Detector.Assets = splitList(cfg.Detector.Assets)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// splitList flattens comma-joined entries and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("solana.rpc_url is required")
	}
	if c.Solana.WSURL == "" {
		return fmt.Errorf("solana.ws_url is required")
	}
	if c.Solana.ProgramID == "" {
		return fmt.Errorf("solana.program_id is required")
	}
	for k, cm := range map[string]string{
		"solana.log_commitment":   c.Solana.LogCommitment,
		"solana.fetch_commitment": c.Solana.FetchCommitment,
	} {
		switch cm {
		case "processed", "confirmed", "finalized":
		default:
			return fmt.Errorf("%s must be one of [processed, confirmed, finalized]", k)
		}
	}
	if c.Solana.MaxInFlight <= 0 {
		return fmt.Errorf("solana.max_in_flight must be > 0")
	}
	if c.Solana.MaxRetries < 0 {
		return fmt.Errorf("solana.max_retries must be >= 0")
	}

	if c.Detector.VaultThreshold <= 0 {
		return fmt.Errorf("detector.vault_threshold must be > 0")
	}
	if c.Detector.NativeDust < 0 {
		return fmt.Errorf("detector.native_dust must be >= 0")
	}
	if c.Detector.CacheSize <= 0 {
		return fmt.Errorf("detector.cache_size must be > 0")
	}
	durations := map[string]time.Duration{
		"detector.health_interval":   c.Detector.HealthInterval,
		"detector.stale_after":       c.Detector.StaleAfter,
		"detector.reconnect_backoff": c.Detector.ReconnectBackoff,
		"http.shutdown_timeout":      c.HTTP.ShutdownTimeout,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}

	switch c.Storage.Driver {
	case DriverNone, DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for driver postgres")
		}
	case DriverClickHouse:
		if c.Storage.ClickHouseDSN == "" {
			return fmt.Errorf("storage.clickhouse_dsn is required for driver clickhouse")
		}
	default:
		return fmt.Errorf("storage.driver must be one of [none, memory, postgres, clickhouse]")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}
	return nil
}
