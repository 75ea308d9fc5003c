package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pool-price-alerts/internal/logging"
)

// DefaultPairAddress is the mainnet USDC/WETH Uniswap V2 pair.
const DefaultPairAddress = "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables the database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig configures the recent-sample mirror. An empty address disables it.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Retention int           `mapstructure:"retention"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	PairAddress    string        `mapstructure:"pair_address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PoolConfig names the assets of the watched pool.
type PoolConfig struct {
	BaseSymbol  string `mapstructure:"base_symbol"`
	QuoteSymbol string `mapstructure:"quote_symbol"`
	BaseLabel   string `mapstructure:"base_label"`
	QuoteLabel  string `mapstructure:"quote_label"`
}

// MonitorConfig governs the sampling loop and the alert rule.
type MonitorConfig struct {
	IntervalSeconds float64       `mapstructure:"interval_seconds"`
	ThresholdPct    float64       `mapstructure:"threshold_pct"`
	WindowBlocks    int           `mapstructure:"window_blocks"`
	MinActivity     float64       `mapstructure:"min_activity"`
	Quiet           bool          `mapstructure:"quiet"`
	FailureBackoff  time.Duration `mapstructure:"failure_backoff"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MaxIntervalSeconds is the longest poll interval a time.Duration can hold.
const MaxIntervalSeconds = float64(math.MaxInt64 / int64(time.Second))

// Interval converts IntervalSeconds to a duration.
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds * float64(time.Second))
}

// SinkConfig locates the durable sample log.
type SinkConfig struct {
	CSVPath string `mapstructure:"csv_path"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Key, e.Reason)
}

func invalid(key, format string, args ...interface{}) error {
	return &ValidationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ethereum.rpc_url", "POOLWATCH_ETHEREUM_RPC_URL", "RPC_URL")

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
	v.SetDefault("app.name", "poolwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("ethereum.pair_address", DefaultPairAddress)
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("pool.base_symbol", "WETH")
	v.SetDefault("pool.quote_symbol", "USDC")
	v.SetDefault("pool.base_label", "ETH")
	v.SetDefault("pool.quote_label", "USDC")

	v.SetDefault("monitor.interval_seconds", 12.0)
	v.SetDefault("monitor.threshold_pct", 0.5)
	v.SetDefault("monitor.window_blocks", 5)
	v.SetDefault("monitor.min_activity", 0.0)
	v.SetDefault("monitor.quiet", false)
	v.SetDefault("monitor.failure_backoff", "2s")
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.advisory_lock_key", int64(0x706f6f6c))

	v.SetDefault("sink.csv_path", "prices.csv")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "5m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")

	v.SetDefault("redis.key_prefix", "poolwatch")
	v.SetDefault("redis.retention", 1000)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	m := c.Monitor
	if !finite(m.IntervalSeconds) || m.IntervalSeconds <= 0 {
		return invalid("interval", "must be a finite number of seconds greater than zero, got %v", m.IntervalSeconds)
	}
	if m.IntervalSeconds > MaxIntervalSeconds {
		return invalid("interval", "must not exceed %.0f seconds, got %v", MaxIntervalSeconds, m.IntervalSeconds)
	}
	if m.Interval() <= 0 {
		return invalid("interval", "%v seconds is shorter than one nanosecond", m.IntervalSeconds)
	}
	if !finite(m.ThresholdPct) || m.ThresholdPct < 0 {
		return invalid("threshold", "must be a finite percentage >= 0, got %v", m.ThresholdPct)
	}
	if m.WindowBlocks < 1 {
		return invalid("window", "must be an integer >= 1, got %d", m.WindowBlocks)
	}
	if !finite(m.MinActivity) || m.MinActivity < 0 {
		return invalid("min-usdc", "must be a finite amount >= 0, got %v", m.MinActivity)
	}
	if m.FailureBackoff <= 0 {
		return invalid("monitor.failure_backoff", "must be greater than zero")
	}
	if !common.IsHexAddress(c.Ethereum.PairAddress) {
		return invalid("pair", "%q is not a hex address", c.Ethereum.PairAddress)
	}
	if c.Ethereum.RequestTimeout <= 0 {
		return invalid("ethereum.request_timeout", "must be greater than zero")
	}
	if strings.TrimSpace(c.Sink.CSVPath) == "" {
		return invalid("csv", "path must not be empty")
	}
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points", "must be greater than zero")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return invalid("metrics.listen_addr", "required when metrics are enabled")
	}
	if c.Alerting.Cooldown < 0 {
		return invalid("alerting.cooldown", "cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return invalid("alerting.telegram.bot_token", "必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return invalid("alerting.telegram.chat_id", "必须配置")
		}
	}
	return nil
}

// ValidateRuntime checks the settings only the live monitor needs.
func (c *Config) ValidateRuntime() error {
	if strings.TrimSpace(c.Ethereum.RPCURL) == "" {
		return invalid("rpc-url", "RPC_URL is not set")
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
