package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"godshand-relief/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Raffle   RaffleConfig   `mapstructure:"raffle"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Report   ReportConfig   `mapstructure:"report"`
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

// RaffleConfig governs the lottery scheduler cadence and thresholds.
type RaffleConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	TriggerThreshold time.Duration `mapstructure:"trigger_threshold"`
	LotteryDuration  time.Duration `mapstructure:"lottery_duration"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers relief-fund contract access.
type EthereumConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key"`
	ChainID         int64         `mapstructure:"chain_id"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
}

// OracleConfig captures price-feed connectivity.
type OracleConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	TokenID        string        `mapstructure:"token_id"`
	VsCurrency     string        `mapstructure:"vs_currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AgentConfig points at the reasoning-agent endpoint used for claim
// amount revisions.
type AgentConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ReportConfig sets CLI report behaviour.
type ReportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GODSHAND")
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
	v.SetDefault("app.name", "godshand")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("raffle.interval", "1h")
	v.SetDefault("raffle.retry_interval", "5m")
	v.SetDefault("raffle.trigger_threshold", "72h")
	v.SetDefault("raffle.lottery_duration", "24h")
	v.SetDefault("raffle.advisory_lock_key", int64(0x676f6473))
	v.SetDefault("raffle.startup_delay", "0s")

	v.SetDefault("ethereum.chain_id", int64(545))
	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.confirm_timeout", "90s")

	v.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.token_id", "ethereum")
	v.SetDefault("oracle.vs_currency", "usd")
	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.user_agent", "godshand/1.0")

	v.SetDefault("agent.request_timeout", "30s")

	v.SetDefault("report.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Raffle.Interval <= 0 {
		return fmt.Errorf("raffle.interval must be greater than zero")
	}
	if c.Raffle.RetryInterval <= 0 {
		return fmt.Errorf("raffle.retry_interval must be greater than zero")
	}
	if c.Raffle.TriggerThreshold <= 0 {
		return fmt.Errorf("raffle.trigger_threshold must be greater than zero")
	}
	if c.Raffle.LotteryDuration <= 0 {
		return fmt.Errorf("raffle.lottery_duration must be greater than zero")
	}
	if c.Report.MaxDataPoints <= 0 {
		return fmt.Errorf("report.max_data_points must be greater than zero")
	}
	if c.Oracle.TokenID == "" {
		return fmt.Errorf("oracle.token_id is required")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Report.MaxDataPoints
}
