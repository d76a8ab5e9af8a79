package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"tokenwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// alert persistence entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Retention bounds how long alert rows are kept; zero keeps forever.
	Retention time.Duration `mapstructure:"retention"`
}

// ProvidersConfig covers upstream data source access.
type ProvidersConfig struct {
	DexScreener DexScreenerConfig `mapstructure:"dexscreener"`
	OnChain     OnChainConfig     `mapstructure:"onchain"`
}

// DexScreenerConfig parameterises the aggregator source.
type DexScreenerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimit      RateLimit     `mapstructure:"rate_limit"`
}

// OnChainConfig parameterises the Solana on-chain source.
type OnChainConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	RPCURL         string        `mapstructure:"rpc_url"`
	TxURL          string        `mapstructure:"tx_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TxWindow       time.Duration `mapstructure:"tx_window"`
	RateLimit      RateLimit     `mapstructure:"rate_limit"`
}

// RateLimit bounds calls per trailing window.
type RateLimit struct {
	MaxCalls int           `mapstructure:"max_calls"`
	Window   time.Duration `mapstructure:"window"`
}

// MonitorConfig governs per-token monitoring tasks.
type MonitorConfig struct {
	Duration        time.Duration `mapstructure:"duration"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	VolumeThreshold float64       `mapstructure:"volume_threshold"`
}

// StrategiesConfig tunes the signal rules.
type StrategiesConfig struct {
	VolumeMult         float64 `mapstructure:"volume_mult"`
	AbsVolumeThreshold float64 `mapstructure:"abs_volume_threshold"`
	AbsVolumeInterval  string  `mapstructure:"abs_volume_interval"`
	BurstLookback      int     `mapstructure:"burst_lookback"`
	BurstVolumeMult    float64 `mapstructure:"burst_volume_mult"`
	BurstMinHits       int     `mapstructure:"burst_min_hits"`
	OnChainBuyRatio    float64 `mapstructure:"onchain_buy_ratio"`
}

// AlertingConfig defines dedup and routing.
type AlertingConfig struct {
	DedupWindow time.Duration  `mapstructure:"dedup_window"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// PipelineConfig bounds concurrent per-token pipelines.
type PipelineConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOKENWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tokenwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("providers.dexscreener.base_url", "https://api.dexscreener.com")
	v.SetDefault("providers.dexscreener.request_timeout", "8s")
	v.SetDefault("providers.dexscreener.user_agent", "tokenwatch/1.0")
	v.SetDefault("providers.dexscreener.rate_limit.max_calls", 60)
	v.SetDefault("providers.dexscreener.rate_limit.window", "1m")

	v.SetDefault("providers.onchain.rpc_url", "https://mainnet.helius-rpc.com")
	v.SetDefault("providers.onchain.tx_url", "https://api.helius.xyz/v0")
	v.SetDefault("providers.onchain.request_timeout", "10s")
	v.SetDefault("providers.onchain.tx_window", "10m")
	v.SetDefault("providers.onchain.rate_limit.max_calls", 10)
	v.SetDefault("providers.onchain.rate_limit.window", "1s")

	v.SetDefault("monitor.duration", "5m")
	v.SetDefault("monitor.sample_interval", "60s")
	v.SetDefault("monitor.volume_threshold", 5000.0)

	v.SetDefault("strategies.volume_mult", 1.5)
	v.SetDefault("strategies.abs_volume_threshold", 50000.0)
	v.SetDefault("strategies.abs_volume_interval", "5m")
	v.SetDefault("strategies.burst_lookback", 3)
	v.SetDefault("strategies.burst_volume_mult", 1.8)
	v.SetDefault("strategies.burst_min_hits", 1)
	v.SetDefault("strategies.onchain_buy_ratio", 0.6)

	v.SetDefault("alerting.dedup_window", "10m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("pipeline.max_concurrent", 10)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention", "2160h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitor.Duration <= 0 {
		return fmt.Errorf("monitor.duration must be greater than zero")
	}
	if c.Monitor.SampleInterval <= 0 {
		return fmt.Errorf("monitor.sample_interval must be greater than zero")
	}
	if c.Monitor.VolumeThreshold < 0 {
		return fmt.Errorf("monitor.volume_threshold cannot be negative")
	}
	if c.Alerting.DedupWindow <= 0 {
		return fmt.Errorf("alerting.dedup_window must be greater than zero")
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("pipeline.max_concurrent must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if rl := c.Providers.DexScreener.RateLimit; rl.MaxCalls <= 0 || rl.Window <= 0 {
		return fmt.Errorf("providers.dexscreener.rate_limit must be positive")
	}
	if rl := c.Providers.OnChain.RateLimit; rl.MaxCalls <= 0 || rl.Window <= 0 {
		return fmt.Errorf("providers.onchain.rate_limit must be positive")
	}
	if c.Strategies.BurstLookback <= 0 {
		return fmt.Errorf("strategies.burst_lookback must be greater than zero")
	}
	if c.Strategies.BurstMinHits <= 0 {
		return fmt.Errorf("strategies.burst_min_hits must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
