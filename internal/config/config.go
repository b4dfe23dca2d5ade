package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingDSN is the fatal startup error raised when the postgres driver
// is selected without a connection string.
var ErrMissingDSN = errors.New("database.dsn is required when database.driver is postgres")

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Checker     CheckerConfig     `mapstructure:"checker"`
	Trigger     TriggerConfig     `mapstructure:"trigger"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Fares       FaresConfig       `mapstructure:"fares"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSNString       string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.DSNString
	}
	return c.Path
}

// CheckerConfig holds the automatic dispatch loop settings.
type CheckerConfig struct {
	DispatchEveryMinutes   int    `mapstructure:"dispatch_every_minutes"`
	DefaultIntervalMinutes int    `mapstructure:"default_interval_minutes"`
	MinIntervalMinutes     int    `mapstructure:"min_interval_minutes"`
	MaxIntervalMinutes     int    `mapstructure:"max_interval_minutes"`
	ConcurrentTrips        int    `mapstructure:"concurrent_trips"`
	CheckTimeoutSeconds    int    `mapstructure:"check_timeout_seconds"`
	SegmentDelayMs         int    `mapstructure:"segment_delay_ms"`
	LeaseTTLMinutes        int    `mapstructure:"lease_ttl_minutes"`
	Timezone               string `mapstructure:"timezone"`
}

// Location resolves the timezone used for date-only "today" comparisons.
// Falls back to UTC when the zone name is unknown.
func (c *CheckerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TriggerConfig holds the manual trigger gateway settings.
type TriggerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	CooldownMinutes int  `mapstructure:"cooldown_minutes"`
	JobBatchSize    int  `mapstructure:"job_batch_size"`
}

// AlertsConfig holds price-drop notification policy.
type AlertsConfig struct {
	ThresholdUSD     float64 `mapstructure:"threshold_usd"`
	ThresholdPercent float64 `mapstructure:"threshold_percent"`
	DailyCapPerUser  int     `mapstructure:"daily_cap_per_user"`
	WebhookURL       string  `mapstructure:"webhook_url"`
}

// FaresConfig holds the upstream fare lookup API settings.
type FaresConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Currency string `mapstructure:"currency"`
}

type RetentionConfig struct {
	JobDays   int `mapstructure:"job_days"`
	AlertDays int `mapstructure:"alert_days"`
}

type MaintenanceConfig struct {
	FailureResetDays int    `mapstructure:"failure_reset_days"`
	Schedule         string `mapstructure:"schedule"` // cron expression
}

type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/farewatch.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("checker.dispatch_every_minutes", 5)
	v.SetDefault("checker.default_interval_minutes", 360)
	v.SetDefault("checker.min_interval_minutes", 30)
	v.SetDefault("checker.max_interval_minutes", 10080)
	v.SetDefault("checker.concurrent_trips", 3)
	v.SetDefault("checker.check_timeout_seconds", 90)
	v.SetDefault("checker.segment_delay_ms", 750)
	v.SetDefault("checker.lease_ttl_minutes", 10)
	v.SetDefault("checker.timezone", "UTC")
	v.SetDefault("trigger.enabled", true)
	v.SetDefault("trigger.cooldown_minutes", 30)
	v.SetDefault("trigger.job_batch_size", 3)
	v.SetDefault("alerts.threshold_usd", 50.0)
	v.SetDefault("alerts.threshold_percent", 10.0)
	v.SetDefault("alerts.daily_cap_per_user", 4)
	v.SetDefault("fares.base_url", "")
	v.SetDefault("fares.currency", "USD")
	v.SetDefault("retention.job_days", 7)
	v.SetDefault("retention.alert_days", 90)
	v.SetDefault("maintenance.failure_reset_days", 30)
	v.SetDefault("maintenance.schedule", "30 4 * * *")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.use_ssl", true)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("checker.dispatch_every_minutes", "DISPATCH_EVERY_MINUTES")
	v.BindEnv("checker.concurrent_trips", "CONCURRENT_TRIPS")
	v.BindEnv("checker.timezone", "CHECKER_TIMEZONE")
	v.BindEnv("trigger.enabled", "MANUAL_TRIGGER_ENABLED")
	v.BindEnv("trigger.cooldown_minutes", "MANUAL_TRIGGER_COOLDOWN_MINUTES")
	v.BindEnv("alerts.threshold_usd", "ALERT_THRESHOLD_USD")
	v.BindEnv("alerts.webhook_url", "ALERT_WEBHOOK_URL")
	v.BindEnv("fares.base_url", "FARES_BASE_URL")
	v.BindEnv("fares.api_key", "FARES_API_KEY")
	v.BindEnv("archive.endpoint", "ARCHIVE_ENDPOINT")
	v.BindEnv("archive.access_key", "ARCHIVE_ACCESS_KEY")
	v.BindEnv("archive.secret_key", "ARCHIVE_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.clampScheduling()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// clampScheduling enforces the scheduling bounds regardless of what the
// config file or environment supplied.
func (c *Config) clampScheduling() {
	if c.Checker.DispatchEveryMinutes < 1 {
		c.Checker.DispatchEveryMinutes = 1
	}
	if c.Checker.DispatchEveryMinutes > 30 {
		c.Checker.DispatchEveryMinutes = 30
	}
	if c.Checker.ConcurrentTrips < 1 {
		c.Checker.ConcurrentTrips = 1
	}
	if c.Checker.MinIntervalMinutes < 1 {
		c.Checker.MinIntervalMinutes = 1
	}
	if c.Checker.MaxIntervalMinutes < c.Checker.MinIntervalMinutes {
		c.Checker.MaxIntervalMinutes = c.Checker.MinIntervalMinutes
	}
	if c.Trigger.JobBatchSize < 1 {
		c.Trigger.JobBatchSize = 1
	}
}

// Validate checks for configuration the process cannot start without.
func (c *Config) Validate() error {
	if c.Database.Driver == "postgres" && c.Database.DSNString == "" {
		return ErrMissingDSN
	}
	return nil
}
