package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"streamwatcher/internal/logging"
	"streamwatcher/internal/risk"
	"streamwatcher/internal/stream"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Redis     RedisConfig     `mapstructure:"redis"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
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
}

// SchedulerConfig governs the alert workflow cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// PolicyConfig holds risk and countdown thresholds.
type PolicyConfig struct {
	LowRunwayHours            decimal.Decimal `mapstructure:"low_runway_hours"`
	HighRunwayHours           decimal.Decimal `mapstructure:"high_runway_hours"`
	CriticalRunwayHours       decimal.Decimal `mapstructure:"critical_runway_hours"`
	InactivityAlertDays       int             `mapstructure:"inactivity_alert_days"`
	WithdrawalEligibilityDays int             `mapstructure:"withdrawal_eligibility_days"`
	// Timezone is the calendar used for countdown day boundaries.
	Timezone string `mapstructure:"timezone"`
}

// WorkflowConfig tunes the alert generation fan-out.
type WorkflowConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	UpsertTimeout  time.Duration `mapstructure:"upsert_timeout"`
	OrganizationID string        `mapstructure:"organization_id"`
}

// ChainConfig covers the optional on-chain vault cross-check.
type ChainConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RPCURL         string        `mapstructure:"rpc_url"`
	Commitment     string        `mapstructure:"commitment"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RedisConfig configures the overview cache. An empty URL disables caching.
type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// HTTPConfig configures the read-model API.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STREAMWATCHER")
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
	v.SetDefault("app.name", "streamwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73747277))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("policy.low_runway_hours", "72")
	v.SetDefault("policy.high_runway_hours", "48")
	v.SetDefault("policy.critical_runway_hours", "24")
	v.SetDefault("policy.inactivity_alert_days", 25)
	v.SetDefault("policy.withdrawal_eligibility_days", 30)
	v.SetDefault("policy.timezone", "UTC")

	v.SetDefault("workflow.concurrency", 32)
	v.SetDefault("workflow.upsert_timeout", "10s")

	v.SetDefault("chain.enabled", false)
	v.SetDefault("chain.commitment", "confirmed")
	v.SetDefault("chain.request_timeout", "10s")

	v.SetDefault("redis.ttl", "60s")
	v.SetDefault("redis.key_prefix", "streamwatcher")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_severity", string(risk.SeverityHigh))
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_rows", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc decodes strings and numbers into decimal.Decimal. YAML .nan and .inf
// decode as zero and are left to Validate.
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("parse decimal %q: %w", value, err)
			}
			return d, nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		case float64:
			return stream.CoerceFloat(value), nil
		case float32:
			return stream.CoerceFloat(float64(value)), nil
		}
		return data, nil
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if err := c.RiskPolicy().Validate(); err != nil {
		return err
	}
	if c.Policy.WithdrawalEligibilityDays <= 0 {
		return fmt.Errorf("policy.withdrawal_eligibility_days must be greater than zero")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Workflow.Concurrency <= 0 {
		return fmt.Errorf("workflow.concurrency must be greater than zero")
	}
	if c.Workflow.UpsertTimeout < 0 {
		return fmt.Errorf("workflow.upsert_timeout cannot be negative")
	}
	if c.Chain.Enabled && c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required when chain.enabled is set")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	if _, err := risk.ParseSeverity(c.Alerting.MinSeverity); err != nil {
		return fmt.Errorf("alerting.min_severity: %w", err)
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

// RiskPolicy converts policy settings into classifier thresholds.
func (c *Config) RiskPolicy() risk.Policy {
	return risk.Policy{
		LowRunwayHours:      c.Policy.LowRunwayHours,
		HighRunwayHours:     c.Policy.HighRunwayHours,
		CriticalRunwayHours: c.Policy.CriticalRunwayHours,
		InactivityAlertDays: c.Policy.InactivityAlertDays,
	}
}

// Location resolves the countdown calendar timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Policy.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Policy.Timezone)
	if err != nil {
		return nil, fmt.Errorf("policy.timezone: %w", err)
	}
	return loc, nil
}

// MinSeverity returns the notification floor, defaulting to high.
func (c *Config) MinSeverity() risk.Severity {
	sev, err := risk.ParseSeverity(c.Alerting.MinSeverity)
	if err != nil {
		return risk.SeverityHigh
	}
	return sev
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
