package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	NetworkPrimary   = "primary"
	NetworkAlternate = "alternate"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	ReadOnly  bool            `mapstructure:"read_only"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Signer    SignerConfig    `mapstructure:"signer"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	PriceFeed PriceFeedConfig `mapstructure:"price_feed"`
	Tenants   []TenantConfig  `mapstructure:"tenants"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	APIKey        string `mapstructure:"api_key"`
	AdminKey      string `mapstructure:"admin_key"` // guards the kill switch
}

type DatabaseConfig struct {
	DSN                  string `mapstructure:"dsn"`
	JournalRetentionDays int    `mapstructure:"journal_retention_days"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
	SequenceLockTTLMs     int    `mapstructure:"sequence_lock_ttl_ms"`
}

// ChainConfig selects one of the configured networks and tunes the
// transaction lifecycle.
type ChainConfig struct {
	Network               string                   `mapstructure:"network"`
	ConfirmationTimeoutMs int                      `mapstructure:"confirmation_timeout_ms"`
	PollIntervalMs        int                      `mapstructure:"poll_interval_ms"`
	RPCTimeoutMs          int                      `mapstructure:"rpc_timeout_ms"`
	Networks              map[string]NetworkConfig `mapstructure:"networks"`
}

type NetworkConfig struct {
	Name          string                 `mapstructure:"name"`
	RPCURL        string                 `mapstructure:"rpc_url"`
	ChainID       int64                  `mapstructure:"chain_id"`
	Protocol      string                 `mapstructure:"protocol"`
	ExplorerTxURL string                 `mapstructure:"explorer_tx_url"`
	Tokens        map[string]TokenConfig `mapstructure:"tokens"`
	Markets       []string               `mapstructure:"markets"`
}

type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// SignerConfig holds the default tenant's key material. It is read once at
// startup and handed to signer.DeriveIdentity; nothing else keeps it.
type SignerConfig struct {
	PrivateKey string `mapstructure:"private_key"`
}

type RiskConfig struct {
	MaxMargin         float64  `mapstructure:"max_margin"`         // per intent, margin token units
	MaxLeverage       float64  `mapstructure:"max_leverage"`       // notional / margin
	MaxBorrow         float64  `mapstructure:"max_borrow"`         // per vault intent
	MaxDailyNotional  float64  `mapstructure:"max_daily_notional"` // quote units
	MaxDailyOrders    int      `mapstructure:"max_daily_orders"`
	MaxPriceDeviation float64  `mapstructure:"max_price_deviation"` // 0.05 = 5% from mark
	RestrictedMarkets []string `mapstructure:"restricted_markets"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type PriceFeedConfig struct {
	URL           string   `mapstructure:"url"`
	Symbols       []string `mapstructure:"symbols"`
	StaleAfterSec int      `mapstructure:"stale_after_sec"`
}

type TenantConfig struct {
	ID         string     `mapstructure:"id"`
	Name       string     `mapstructure:"name"`
	APIKey     string     `mapstructure:"api_key"`
	PrivateKey string     `mapstructure:"private_key"`
	QPS        float64    `mapstructure:"qps"`
	Burst      int        `mapstructure:"burst"`
	Risk       RiskConfig `mapstructure:"risk"`
}

// ActiveNetwork returns the selected network definition.
func (c *Config) ActiveNetwork() (NetworkConfig, error) {
	name := strings.ToLower(strings.TrimSpace(c.Chain.Network))
	if name == "" {
		name = NetworkPrimary
	}
	netCfg, ok := c.Chain.Networks[name]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("network %q is not configured", name)
	}
	if netCfg.Name == "" {
		netCfg.Name = name
	}
	return netCfg, nil
}

func (c ChainConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutMs) * time.Millisecond
}

func (c ChainConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c ChainConfig) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}

// SequenceLockTTL is the expiry of the shared sequence lock. A lease spans
// up to three RPC calls (fetch, build, send) and the lock is not renewed, so
// the TTL never drops below four RPC timeouts.
func (c *Config) SequenceLockTTL() time.Duration {
	ttl := time.Duration(c.Redis.SequenceLockTTLMs) * time.Millisecond
	if floor := 4 * c.Chain.RPCTimeout(); ttl < floor {
		ttl = floor
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return ttl
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. PERPGATE_SIGNER_PRIVATE_KEY, PERPGATE_CHAIN_NETWORK
	v.SetEnvPrefix("perpgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("read_only", false)
	v.SetDefault("server.port", "8080")
	v.SetDefault("auth.require_api_key", false)
	v.SetDefault("database.journal_retention_days", 90)
	v.SetDefault("redis.idempotency_ttl_seconds", 86400)
	v.SetDefault("redis.sequence_lock_ttl_ms", 60000)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("price_feed.stale_after_sec", 10)
	v.SetDefault("signer.private_key", "")

	v.SetDefault("chain.network", NetworkPrimary)
	v.SetDefault("chain.confirmation_timeout_ms", 60000)
	v.SetDefault("chain.poll_interval_ms", 1000)
	v.SetDefault("chain.rpc_timeout_ms", 10000)

	v.SetDefault("chain.networks.primary.name", "mainnet")
	v.SetDefault("chain.networks.primary.rpc_url", "https://ethereum-rpc.publicnode.com")
	v.SetDefault("chain.networks.primary.chain_id", 1)
	v.SetDefault("chain.networks.primary.explorer_tx_url", "https://etherscan.io/tx/%s")
	v.SetDefault("chain.networks.alternate.name", "testnet")
	v.SetDefault("chain.networks.alternate.rpc_url", "https://ethereum-sepolia-rpc.publicnode.com")
	v.SetDefault("chain.networks.alternate.chain_id", 11155111)
	v.SetDefault("chain.networks.alternate.explorer_tx_url", "https://sepolia.etherscan.io/tx/%s")

	v.SetDefault("risk.max_leverage", 50)
	v.SetDefault("risk.max_price_deviation", 0.05)
}
