// Package config loads the single typed settings object the core depends
// on. No global mutable state after Load(): every component receives its
// own *Config (or a narrower view struct) at construction time, wire-friendly.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/wire"
	"github.com/spf13/viper"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

// Config is the process-wide settings object.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Upstream UpstreamConfig
	Balancer BalancerConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Addr string
}

// DatabaseConfig selects and configures the Account Store backend.
type DatabaseConfig struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// UpstreamConfig describes the single upstream HTTP service.
type UpstreamConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	PoolTimeout    time.Duration
}

// BalancerConfig is the typed settings object for the account-selection
// subsystem: usage_refresh_enabled, usage_refresh_interval_seconds,
// encryption_key_file, snapshot_ttl_seconds, tier_weights,
// tier_capacity_credits, prefer_earlier_reset. The upstream base URL lives
// in UpstreamConfig.
type BalancerConfig struct {
	UsageRefreshEnabled         bool
	UsageRefreshIntervalSeconds int
	EncryptionKeyFile           string
	SnapshotTTLSeconds          int
	TierWeights                 domain.TierWeights
	TierCapacityCredits         domain.TierCapacityCredits
	PreferEarlierReset          bool

	// UsageLimitEscalationThresholdSeconds and
	// UsageLimitInitialCooldownCapSeconds externalise the escalation
	// threshold and initial cooldown cap applied when an account keeps
	// hitting usage limits.
	UsageLimitEscalationThresholdSeconds int
	UsageLimitInitialCooldownCapSeconds  int

	// StickyKeyCacheSize bounds the sticky-key LRU.
	StickyKeyCacheSize int
}

type LoggingConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func (c BalancerConfig) UsageRefreshInterval() time.Duration {
	return time.Duration(c.UsageRefreshIntervalSeconds) * time.Second
}

func (c BalancerConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSeconds) * time.Second
}

func (c BalancerConfig) UsageLimitEscalationThreshold() time.Duration {
	return time.Duration(c.UsageLimitEscalationThresholdSeconds) * time.Second
}

func (c BalancerConfig) UsageLimitInitialCooldownCap() time.Duration {
	return time.Duration(c.UsageLimitInitialCooldownCapSeconds) * time.Second
}

// Load reads configuration from (in ascending priority) defaults, a config
// file at path (optional), and CODEXLB_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CODEXLB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{Addr: v.GetString("server.addr")},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Upstream: UpstreamConfig{
			BaseURL:        v.GetString("upstream.base_url"),
			ConnectTimeout: v.GetDuration("upstream.connect_timeout"),
			ReadTimeout:    v.GetDuration("upstream.read_timeout"),
			PoolTimeout:    v.GetDuration("upstream.pool_timeout"),
		},
		Balancer: BalancerConfig{
			UsageRefreshEnabled:         v.GetBool("balancer.usage_refresh_enabled"),
			UsageRefreshIntervalSeconds: v.GetInt("balancer.usage_refresh_interval_seconds"),
			EncryptionKeyFile:           v.GetString("balancer.encryption_key_file"),
			SnapshotTTLSeconds:          v.GetInt("balancer.snapshot_ttl_seconds"),
			TierWeights: domain.TierWeights{
				Pro:  v.GetFloat64("balancer.tier_weights.pro"),
				Plus: v.GetFloat64("balancer.tier_weights.plus"),
				Free: v.GetFloat64("balancer.tier_weights.free"),
			},
			TierCapacityCredits: domain.TierCapacityCredits{
				Pro:  v.GetFloat64("balancer.tier_capacity_credits.pro"),
				Plus: v.GetFloat64("balancer.tier_capacity_credits.plus"),
				Free: v.GetFloat64("balancer.tier_capacity_credits.free"),
			},
			PreferEarlierReset:                   v.GetBool("balancer.prefer_earlier_reset"),
			UsageLimitEscalationThresholdSeconds:  v.GetInt("balancer.usage_limit_escalation_threshold_seconds"),
			UsageLimitInitialCooldownCapSeconds:   v.GetInt("balancer.usage_limit_initial_cooldown_cap_seconds"),
			StickyKeyCacheSize:                    v.GetInt("balancer.sticky_key_cache_size"),
		},
		Logging: LoggingConfig{
			Level:      v.GetString("logging.level"),
			File:       v.GetString("logging.file"),
			MaxSizeMB:  v.GetInt("logging.max_size_mb"),
			MaxBackups: v.GetInt("logging.max_backups"),
			MaxAgeDays: v.GetInt("logging.max_age_days"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:codexlb.db?_pragma=busy_timeout(5000)")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("upstream.base_url", "https://chatgpt.com")
	v.SetDefault("upstream.connect_timeout", 5*time.Second)
	v.SetDefault("upstream.read_timeout", 120*time.Second)
	v.SetDefault("upstream.pool_timeout", 5*time.Second)
	v.SetDefault("balancer.usage_refresh_enabled", true)
	v.SetDefault("balancer.usage_refresh_interval_seconds", 300)
	v.SetDefault("balancer.encryption_key_file", "./data/token.key")
	v.SetDefault("balancer.snapshot_ttl_seconds", 3)
	v.SetDefault("balancer.tier_weights.pro", domain.DefaultTierWeights.Pro)
	v.SetDefault("balancer.tier_weights.plus", domain.DefaultTierWeights.Plus)
	v.SetDefault("balancer.tier_weights.free", domain.DefaultTierWeights.Free)
	v.SetDefault("balancer.tier_capacity_credits.pro", domain.DefaultTierCapacityCredits.Pro)
	v.SetDefault("balancer.tier_capacity_credits.plus", domain.DefaultTierCapacityCredits.Plus)
	v.SetDefault("balancer.tier_capacity_credits.free", domain.DefaultTierCapacityCredits.Free)
	v.SetDefault("balancer.prefer_earlier_reset", true)
	v.SetDefault("balancer.usage_limit_escalation_threshold_seconds", domain.UsageLimitEscalationThresholdSeconds)
	v.SetDefault("balancer.usage_limit_initial_cooldown_cap_seconds", domain.UsageLimitInitialCooldownCapSeconds)
	v.SetDefault("balancer.sticky_key_cache_size", 10_000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
}

// ProvideConfig is the wire provider for *Config: it reads the config file
// path from CODEXLB_CONFIG_FILE (empty means defaults + env only).
func ProvideConfig() (*Config, error) {
	return Load(os.Getenv("CODEXLB_CONFIG_FILE"))
}

// ProviderSet is the wire provider set for this package.
var ProviderSet = wire.NewSet(ProvideConfig)
