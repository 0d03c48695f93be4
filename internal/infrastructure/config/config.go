package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix namespaces every environment variable (STOREKEEPER_*).
const EnvPrefix = "storekeeper"

// Config holds all agent configuration. Values resolve in order:
// built-in defaults, then an optional config file, then environment
// variables. Defaults live in Default(), not in struct tags, so the
// file layer is never clobbered by them.
type Config struct {
	Node      NodeConfig      `yaml:"node" toml:"node"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Chain     ChainConfig     `yaml:"chain" toml:"chain"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Probe     ProbeConfig     `yaml:"probe" toml:"probe"`
	Transfer  TransferConfig  `yaml:"transfer" toml:"transfer"`
	Sync      SyncConfig      `yaml:"sync" toml:"sync"`
	Client    ClientConfig    `yaml:"client" toml:"client"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
}

// NodeConfig locates the store node daemon the agent fronts.
type NodeConfig struct {
	BaseURL  string        `envconfig:"NODE_URL" yaml:"base_url" toml:"base_url"`
	PushURL  string        `envconfig:"NODE_PUSH_URL" yaml:"push_url" toml:"push_url"`
	Identity string        `envconfig:"NODE_IDENTITY" yaml:"identity" toml:"identity"`
	Timeout  time.Duration `envconfig:"NODE_TIMEOUT" yaml:"timeout" toml:"timeout"`
}

// GatewayConfig holds the local UI gateway listener settings.
type GatewayConfig struct {
	Port string `envconfig:"GATEWAY_PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"GATEWAY_HOST" yaml:"host" toml:"host"`
}

// ChainConfig holds the registry read collaborator settings.
type ChainConfig struct {
	RPCURL      string `envconfig:"CHAIN_RPC_URL" yaml:"rpc_url" toml:"rpc_url"`
	Registry    string `envconfig:"CHAIN_REGISTRY" yaml:"registry" toml:"registry"`
	Multicall   string `envconfig:"CHAIN_MULTICALL" yaml:"multicall" toml:"multicall"`
	AccountImpl string `envconfig:"CHAIN_ACCOUNT_IMPL" yaml:"account_impl" toml:"account_impl"`
}

// CacheConfig holds local archive cache settings.
type CacheConfig struct {
	Dir          string `envconfig:"CACHE_DIR" yaml:"dir" toml:"dir"`
	SnapshotPath string `envconfig:"SNAPSHOT_PATH" yaml:"snapshot_path" toml:"snapshot_path"`
}

// ProbeConfig tunes mirror liveness checks.
type ProbeConfig struct {
	Timeout time.Duration `envconfig:"PROBE_TIMEOUT" yaml:"timeout" toml:"timeout"`
}

// TransferConfig tunes direct HTTP-origin fetches.
type TransferConfig struct {
	ChunkSize int64         `envconfig:"TRANSFER_CHUNK_SIZE" yaml:"chunk_size" toml:"chunk_size"`
	Timeout   time.Duration `envconfig:"TRANSFER_TIMEOUT" yaml:"timeout" toml:"timeout"`
}

// SyncConfig sets how often the agent re-pulls daemon state and how
// often it persists a snapshot of its own.
type SyncConfig struct {
	Interval         time.Duration `envconfig:"SYNC_INTERVAL" yaml:"interval" toml:"interval"`
	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" yaml:"snapshot_interval" toml:"snapshot_interval"`
}

// ClientConfig tunes the outbound HTTP client shared by the node
// client, metadata fetches, and chain reads.
type ClientConfig struct {
	Retries           int           `envconfig:"CLIENT_RETRIES" yaml:"retries" toml:"retries"`
	RetryWaitMin      time.Duration `envconfig:"CLIENT_RETRY_WAIT_MIN" yaml:"retry_wait_min" toml:"retry_wait_min"`
	RetryWaitMax      time.Duration `envconfig:"CLIENT_RETRY_WAIT_MAX" yaml:"retry_wait_max" toml:"retry_wait_max"`
	RequestsPerSecond int           `envconfig:"CLIENT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int           `envconfig:"CLIENT_BURST" yaml:"burst" toml:"burst"`
	BreakerFailures   uint32        `envconfig:"CLIENT_BREAKER_FAILURES" yaml:"breaker_failures" toml:"breaker_failures"`
	BreakerTimeout    time.Duration `envconfig:"CLIENT_BREAKER_TIMEOUT" yaml:"breaker_timeout" toml:"breaker_timeout"`
}

// RateLimitConfig holds gateway rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// Load resolves configuration from defaults, an optional file, and
// the environment. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or falls back to defaults.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// applyFile overlays a YAML or TOML config file, chosen by extension.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

// Validate checks fields the agent cannot run without.
func (c *Config) Validate() error {
	if c.Node.BaseURL == "" {
		return fmt.Errorf("node base URL is required")
	}
	if c.Node.Identity == "" {
		return fmt.Errorf("node identity is required")
	}
	if c.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("transfer chunk size must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			BaseURL:  "http://localhost:8080/main:app-store:sys",
			PushURL:  "ws://localhost:8080/main:app-store:sys/ws",
			Identity: "our.os",
			Timeout:  30 * time.Second,
		},
		Gateway: GatewayConfig{
			Port: "8090",
			Host: "127.0.0.1",
		},
		Chain: ChainConfig{
			RPCURL:      "http://localhost:8545",
			Registry:    "0x000000000033e5CCbC52Ec7BDa87dB768f9aA93F",
			Multicall:   "0xcA11bde05977b3631167028862bE2a173976CA11",
			AccountImpl: "0x000000000012d439e33aAD99149d52A5c6f980Dc",
		},
		Cache: CacheConfig{
			Dir:          "data/cache",
			SnapshotPath: "data/state.json.zst",
		},
		Probe: ProbeConfig{
			Timeout: 5 * time.Second,
		},
		Transfer: TransferConfig{
			ChunkSize: 262144,
			Timeout:   2 * time.Minute,
		},
		Sync: SyncConfig{
			Interval:         time.Minute,
			SnapshotInterval: 5 * time.Minute,
		},
		Client: ClientConfig{
			Retries:           2,
			RetryWaitMin:      500 * time.Millisecond,
			RetryWaitMax:      5 * time.Second,
			RequestsPerSecond: 50,
			Burst:             100,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
