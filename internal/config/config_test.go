package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Host:   "localhost",
			Port:   5432,
			User:   "outreach",
			DBName: "outreach",
		},
		Encryption: EncryptionConfig{Key: strings.Repeat("ab", 32)},
		Providers: ProvidersConfig{
			Gmail: OAuthClientConfig{ClientID: "id", ClientSecret: "secret"},
		},
		Scheduler: SchedulerConfig{IntervalMinutes: 5},
		Limits:    LimitsConfig{DefaultHourly: 10, DefaultDaily: 50},
	}
}

func TestConfigValidation(t *testing.T) {
	config := validConfig()
	assert.NoError(t, config.Validate())

	invalid := validConfig()
	invalid.Server.Port = ""
	assert.Error(t, invalid.Validate())

	invalid = validConfig()
	invalid.Database.Host = ""
	assert.Error(t, invalid.Validate())

	invalid = validConfig()
	invalid.Encryption.Key = "deadbeef"
	assert.Error(t, invalid.Validate())

	invalid = validConfig()
	invalid.Providers.Gmail.ClientSecret = ""
	assert.Error(t, invalid.Validate())

	invalid = validConfig()
	invalid.Scheduler.IntervalMinutes = 0
	assert.Error(t, invalid.Validate())

	invalid = validConfig()
	invalid.Limits.DefaultDaily = 0
	assert.Error(t, invalid.Validate())
}

func TestConfigValidationIMAP(t *testing.T) {
	config := validConfig()
	config.IMAP = IMAPConfig{Enabled: true, Host: "imap.gmail.com", Port: 993}
	assert.Error(t, config.Validate())

	config.IMAP.User = "replies@example.com"
	config.IMAP.Password = "app-password"
	assert.Error(t, config.Validate())

	config.Classifier.URL = "https://classifier.internal/classify"
	assert.NoError(t, config.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	config := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "outreach",
		Password: "secret",
		DBName:   "outreach",
		SSLMode:  "disable",
	}

	dsn := config.GetDSN()
	expected := "host=localhost port=5432 user=outreach password=secret dbname=outreach sslmode=disable"
	assert.Equal(t, expected, dsn)
}
