package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	IMAP       IMAPConfig       `mapstructure:"imap"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Limits     LimitsConfig     `mapstructure:"limits"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// EncryptionConfig holds the key sealing credential secrets at rest
type EncryptionConfig struct {
	// Key is 32 bytes, hex encoded (64 characters).
	Key string `mapstructure:"key"`
}

// OAuthClientConfig holds one provider's OAuth client pair
type OAuthClientConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// ProvidersConfig holds OAuth client configuration per mail provider
type ProvidersConfig struct {
	Gmail   OAuthClientConfig `mapstructure:"gmail"`
	Outlook OAuthClientConfig `mapstructure:"outlook"`
	// OutlookTenant is the Azure AD tenant for token refresh, "common"
	// unless the deployment is single-tenant.
	OutlookTenant string `mapstructure:"outlook_tenant"`
	// RefreshSkew refreshes tokens that expire within this window.
	RefreshSkew time.Duration `mapstructure:"refresh_skew"`
}

// IMAPConfig holds the shared inbound mailbox configuration
type IMAPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// SchedulerConfig holds the reply-poll scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// ClassifierConfig holds the external reply-classifier endpoint
type ClassifierConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LimitsConfig holds fallback send quotas for users without explicit limits
type LimitsConfig struct {
	DefaultHourly int `mapstructure:"default_hourly"`
	DefaultDaily  int `mapstructure:"default_daily"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("providers.outlook_tenant", "common")
	viper.SetDefault("providers.refresh_skew", "2m")

	viper.SetDefault("imap.enabled", false)
	viper.SetDefault("imap.host", "imap.gmail.com")
	viper.SetDefault("imap.port", 993)

	viper.SetDefault("scheduler.interval_minutes", 5)

	viper.SetDefault("classifier.timeout", "60s")

	viper.SetDefault("limits.default_hourly", 10)
	viper.SetDefault("limits.default_daily", 50)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")

	viper.BindEnv("encryption.key", "DB_ENCRYPTION_KEY")

	viper.BindEnv("providers.gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("providers.gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("providers.outlook.client_id", "OUTLOOK_CLIENT_ID")
	viper.BindEnv("providers.outlook.client_secret", "OUTLOOK_CLIENT_SECRET")
	viper.BindEnv("providers.outlook_tenant", "OUTLOOK_TENANT_ID")

	viper.BindEnv("imap.enabled", "IMAP_ENABLED")
	viper.BindEnv("imap.host", "IMAP_HOST")
	viper.BindEnv("imap.port", "IMAP_PORT")
	viper.BindEnv("imap.user", "IMAP_USER")
	viper.BindEnv("imap.password", "IMAP_PASSWORD")

	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")

	viper.BindEnv("classifier.url", "CLASSIFIER_URL")
	viper.BindEnv("classifier.api_key", "CLASSIFIER_API_KEY")
	viper.BindEnv("classifier.timeout", "CLASSIFIER_TIMEOUT")

	viper.BindEnv("limits.default_hourly", "DEFAULT_HOURLY_EMAIL_LIMIT")
	viper.BindEnv("limits.default_daily", "DEFAULT_DAILY_EMAIL_LIMIT")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if len(c.Encryption.Key) != 64 {
		return fmt.Errorf("encryption key must be 32 bytes hex encoded (64 characters)")
	}

	if c.Providers.Gmail.ClientID == "" || c.Providers.Gmail.ClientSecret == "" {
		return fmt.Errorf("Gmail OAuth2 client credentials are required")
	}

	if c.IMAP.Enabled {
		if c.IMAP.User == "" || c.IMAP.Password == "" {
			return fmt.Errorf("IMAP credentials are required when reply polling is enabled")
		}
		if c.Classifier.URL == "" {
			return fmt.Errorf("classifier URL is required when reply polling is enabled")
		}
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.Limits.DefaultHourly <= 0 || c.Limits.DefaultDaily <= 0 {
		return fmt.Errorf("default send limits must be greater than 0")
	}

	return nil
}
