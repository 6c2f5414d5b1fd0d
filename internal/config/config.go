package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/mr-tron/base58"
	"github.com/spf13/viper"

	"otc-risk-shield/internal/logging"
)

// Known price providers, in the order they are tried by default.
const (
	ProviderCryptoCompare = "cryptocompare"
	ProviderCoinGecko     = "coingecko"
	ProviderJupiter       = "jupiter"
	ProviderChainlink     = "chainlink"
)

// Cache backends for the reference price.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig              `mapstructure:"app"`
	Logging     logging.Config         `mapstructure:"logging"`
	Database    DatabaseConfig         `mapstructure:"database"`
	Scheduler   SchedulerConfig        `mapstructure:"scheduler"`
	Simulation  SimulationConfig       `mapstructure:"simulation"`
	Costs       CostsConfig            `mapstructure:"costs"`
	History     HistoryConfig          `mapstructure:"history"`
	Alerting    AlertingConfig         `mapstructure:"alerting"`
	Batch       BatchConfig            `mapstructure:"batch"`
	PriceSource PriceSourceConfig      `mapstructure:"price_source"`
	Cache       CacheConfig            `mapstructure:"cache"`
	Metrics     MetricsConfig          `mapstructure:"metrics"`
	Export      ExportConfig           `mapstructure:"export"`
	Tokens      map[string]TokenConfig `mapstructure:"tokens"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the monitoring cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SimulationConfig is the default trial.
type SimulationConfig struct {
	Token          string        `mapstructure:"token"`
	Amount         float64       `mapstructure:"amount"`
	Delay          time.Duration `mapstructure:"delay"`
	Threshold      float64       `mapstructure:"threshold"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	Iterations     int           `mapstructure:"iterations"`
	IterationPause time.Duration `mapstructure:"iteration_pause"`
}

// CostsConfig feeds the MEV cost model.
type CostsConfig struct {
	GasUnits               float64 `mapstructure:"gas_units"`
	SlippageTolerance      float64 `mapstructure:"slippage_tolerance"`
	AnnualRate             float64 `mapstructure:"annual_rate"`
	FallbackReferencePrice float64 `mapstructure:"fallback_reference_price"`
	ReferenceSymbol        string  `mapstructure:"reference_symbol"`
}

// HistoryConfig bounds the in-memory price tracker.
type HistoryConfig struct {
	Retention   time.Duration `mapstructure:"retention"`
	TrendWindow time.Duration `mapstructure:"trend_window"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	ThresholdPct   float64        `mapstructure:"threshold_pct"`
	Direction      string         `mapstructure:"direction"`
	ResetEachRound bool           `mapstructure:"reset_each_round"`
	Channels       []string       `mapstructure:"channels"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// Threshold returns the configured alert threshold as a fraction.
func (a AlertingConfig) Threshold() float64 {
	return a.ThresholdPct / 100
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// BatchConfig drives multi-token and multi-delay runs.
type BatchConfig struct {
	Tokens  []string        `mapstructure:"tokens"`
	Delays  []time.Duration `mapstructure:"delays"`
	Workers int             `mapstructure:"workers"`
}

// PriceSourceConfig selects and tunes quote providers.
type PriceSourceConfig struct {
	Providers      []string           `mapstructure:"providers"`
	RequestTimeout time.Duration      `mapstructure:"request_timeout"`
	UserAgent      string             `mapstructure:"user_agent"`
	MaxRetries     int                `mapstructure:"max_retries"`
	RetryDelay     time.Duration      `mapstructure:"retry_delay"`
	CryptoCompare  HTTPProviderConfig `mapstructure:"cryptocompare"`
	CoinGecko      HTTPProviderConfig `mapstructure:"coingecko"`
	Jupiter        HTTPProviderConfig `mapstructure:"jupiter"`
	Chainlink      ChainlinkConfig    `mapstructure:"chainlink"`
}

// HTTPProviderConfig covers REST quote APIs.
type HTTPProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ChainlinkConfig covers on-chain feed access.
type ChainlinkConfig struct {
	RPCURL       string        `mapstructure:"rpc_url"`
	MaxStaleness time.Duration `mapstructure:"max_staleness"`
}

// CacheConfig selects the reference price cache.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds go-redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Namespace string `mapstructure:"namespace"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// TokenConfig maps a symbol onto provider identifiers.
type TokenConfig struct {
	CoinGeckoID   string `mapstructure:"coingecko_id"`
	Mint          string `mapstructure:"mint"`
	ChainlinkFeed string `mapstructure:"chainlink_feed"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OTCSHIELD")
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
	cfg.normalize()

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
	v.SetDefault("app.name", "otcshield")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "otcshield")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f746373))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("simulation.token", "SOL")
	v.SetDefault("simulation.amount", 1000.0)
	v.SetDefault("simulation.delay", "5s")
	v.SetDefault("simulation.threshold", 0.01)
	v.SetDefault("simulation.sample_interval", "500ms")
	v.SetDefault("simulation.iterations", 5)
	v.SetDefault("simulation.iteration_pause", "1s")

	v.SetDefault("costs.gas_units", 0.005)
	v.SetDefault("costs.slippage_tolerance", 0.005)
	v.SetDefault("costs.annual_rate", 0.05)
	v.SetDefault("costs.fallback_reference_price", 100.0)
	v.SetDefault("costs.reference_symbol", "SOL")

	v.SetDefault("history.retention", "24h")
	v.SetDefault("history.trend_window", "1h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 2.0)
	v.SetDefault("alerting.direction", "both")
	v.SetDefault("alerting.reset_each_round", true)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("batch.tokens", []string{"SOL", "ETH", "BTC"})
	v.SetDefault("batch.delays", []string{"2s", "5s", "10s"})
	v.SetDefault("batch.workers", 4)

	v.SetDefault("price_source.providers", []string{ProviderCryptoCompare, ProviderCoinGecko})
	v.SetDefault("price_source.request_timeout", "10s")
	v.SetDefault("price_source.user_agent", "otcshield/1.0")
	v.SetDefault("price_source.max_retries", 2)
	v.SetDefault("price_source.retry_delay", "250ms")
	v.SetDefault("price_source.chainlink.max_staleness", "1h")

	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.prefix", "otcshield:price:")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("metrics.namespace", "otcshield")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("tokens", map[string]any{
		"sol": map[string]any{
			"coingecko_id":   "solana",
			"mint":           "So11111111111111111111111111111111111111112",
			"chainlink_feed": "0x4ffC43a60e009B551865A93d232E33Fce9f01507",
		},
		"eth": map[string]any{
			"coingecko_id":   "ethereum",
			"mint":           "7vfCXTUXx5WJV5JADk17DUJ4ksgau7utNKj4b963voxs",
			"chainlink_feed": "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
		},
		"btc": map[string]any{
			"coingecko_id":   "bitcoin",
			"chainlink_feed": "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c",
		},
		"usdc": map[string]any{
			"coingecko_id":   "usd-coin",
			"mint":           "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			"chainlink_feed": "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6",
		},
	})
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

// normalize upper-cases symbols. Viper lower-cases map keys on the way in.
func (c *Config) normalize() {
	tokens := make(map[string]TokenConfig, len(c.Tokens))
	for symbol, tok := range c.Tokens {
		tokens[strings.ToUpper(strings.TrimSpace(symbol))] = tok
	}
	c.Tokens = tokens

	c.Simulation.Token = strings.ToUpper(strings.TrimSpace(c.Simulation.Token))
	c.Costs.ReferenceSymbol = strings.ToUpper(strings.TrimSpace(c.Costs.ReferenceSymbol))
	for i, t := range c.Batch.Tokens {
		c.Batch.Tokens[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	for i, p := range c.PriceSource.Providers {
		c.PriceSource.Providers[i] = strings.ToLower(strings.TrimSpace(p))
	}
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Alerting.Direction = strings.ToLower(strings.TrimSpace(c.Alerting.Direction))
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Tokens) == 0 {
		return fmt.Errorf("tokens must list at least one symbol")
	}
	for symbol, tok := range c.Tokens {
		if tok.Mint != "" {
			if err := validateMint(tok.Mint); err != nil {
				return fmt.Errorf("tokens.%s.mint: %w", strings.ToLower(symbol), err)
			}
		}
		if tok.ChainlinkFeed != "" && !common.IsHexAddress(tok.ChainlinkFeed) {
			return fmt.Errorf("tokens.%s.chainlink_feed is not an address", strings.ToLower(symbol))
		}
	}

	if err := c.Simulation.validate(c); err != nil {
		return err
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.History.Retention <= 0 {
		return fmt.Errorf("history.retention must be greater than zero")
	}

	if c.Costs.GasUnits < 0 || c.Costs.SlippageTolerance < 0 || c.Costs.AnnualRate < 0 {
		return fmt.Errorf("costs cannot be negative")
	}
	if c.Costs.FallbackReferencePrice <= 0 {
		return fmt.Errorf("costs.fallback_reference_price must be greater than zero")
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be greater than zero")
	}
	for _, t := range c.Batch.Tokens {
		if !c.HasToken(t) {
			return fmt.Errorf("batch.tokens: unsupported token %s", t)
		}
	}
	for _, d := range c.Batch.Delays {
		if d < 0 {
			return fmt.Errorf("batch.delays cannot be negative")
		}
	}

	if len(c.PriceSource.Providers) == 0 {
		return fmt.Errorf("price_source.providers must list at least one provider")
	}
	for _, p := range c.PriceSource.Providers {
		switch p {
		case ProviderCryptoCompare, ProviderCoinGecko, ProviderJupiter:
		case ProviderChainlink:
			if c.PriceSource.Chainlink.RPCURL == "" {
				return fmt.Errorf("price_source.chainlink.rpc_url is required for the chainlink provider")
			}
		default:
			return fmt.Errorf("price_source.providers: unknown provider %q", p)
		}
	}
	if c.PriceSource.MaxRetries < 0 {
		return fmt.Errorf("price_source.max_retries cannot be negative")
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}

	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	switch c.Alerting.Direction {
	case "up", "down", "both":
	default:
		return fmt.Errorf("alerting.direction must be up, down or both")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func (s SimulationConfig) validate(c *Config) error {
	switch {
	case !c.HasToken(s.Token):
		return fmt.Errorf("simulation.token: unsupported token %s", s.Token)
	case s.Amount <= 0:
		return fmt.Errorf("simulation.amount must be greater than zero")
	case s.Delay < 0:
		return fmt.Errorf("simulation.delay cannot be negative")
	case s.Threshold <= 0 || s.Threshold > 1:
		return fmt.Errorf("simulation.threshold must be in (0, 1]")
	case s.SampleInterval <= 0:
		return fmt.Errorf("simulation.sample_interval must be greater than zero")
	case s.Iterations <= 0:
		return fmt.Errorf("simulation.iterations must be greater than zero")
	}
	return nil
}

// solanaPubkeyLen is the decoded size of a Solana public key.
const solanaPubkeyLen = 32

func validateMint(mint string) error {
	raw, err := base58.Decode(mint)
	if err != nil {
		return fmt.Errorf("decode base58: %w", err)
	}
	if len(raw) != solanaPubkeyLen {
		return fmt.Errorf("decoded to %d bytes, want %d", len(raw), solanaPubkeyLen)
	}
	return nil
}

// HasToken reports whether symbol is configured.
func (c *Config) HasToken(symbol string) bool {
	_, ok := c.Tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}

// TokenSymbols lists configured symbols in order.
func (c *Config) TokenSymbols() []string {
	out := make([]string, 0, len(c.Tokens))
	for symbol := range c.Tokens {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
