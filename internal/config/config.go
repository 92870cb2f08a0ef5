package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "STUDYSYNC"
	defaultDatabasePath       = "studysync.db"
	defaultAPIBaseURL         = "http://127.0.0.1:8080"
	defaultAPITimeoutSeconds  = 30
	defaultSyncIntervalMins   = 5
	defaultQueueRetentionHrs  = 0
	defaultLogLevel           = "info"
	defaultLogEncoding        = "console"
	defaultDevServerAddress   = "127.0.0.1:8080"
	defaultDevServerTokenMins = 720
	fallbackDeviceModel       = "unknown"
)

// AppConfig captures runtime configuration for the CLI and daemon.
type AppConfig struct {
	DatabasePath   string
	APIBaseURL     string
	APIToken       string
	APITimeout     time.Duration
	SyncInterval   time.Duration
	QueueRetention time.Duration
	DeviceModel    string
	LogLevel       string
	LogEncoding    string

	DevServerAddress       string
	DevServerSigningSecret string
	DevServerTokenTTL      time.Duration
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding values that are already set. Missing files
// are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("api.token", "")
	configViper.SetDefault("api.timeout_seconds", defaultAPITimeoutSeconds)
	configViper.SetDefault("sync.interval_minutes", defaultSyncIntervalMins)
	configViper.SetDefault("sync.queue_retention_hours", defaultQueueRetentionHrs)
	configViper.SetDefault("device.model", defaultDeviceModel())
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("devserver.address", defaultDevServerAddress)
	configViper.SetDefault("devserver.signing_secret", "")
	configViper.SetDefault("devserver.token_ttl_minutes", defaultDevServerTokenMins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabasePath:           strings.TrimSpace(configViper.GetString("database.path")),
		APIBaseURL:             strings.TrimSpace(configViper.GetString("api.base_url")),
		APIToken:               strings.TrimSpace(configViper.GetString("api.token")),
		APITimeout:             time.Duration(configViper.GetInt("api.timeout_seconds")) * time.Second,
		SyncInterval:           time.Duration(configViper.GetInt("sync.interval_minutes")) * time.Minute,
		QueueRetention:         time.Duration(configViper.GetInt("sync.queue_retention_hours")) * time.Hour,
		DeviceModel:            strings.TrimSpace(configViper.GetString("device.model")),
		LogLevel:               configViper.GetString("log.level"),
		LogEncoding:            configViper.GetString("log.encoding"),
		DevServerAddress:       strings.TrimSpace(configViper.GetString("devserver.address")),
		DevServerSigningSecret: configViper.GetString("devserver.signing_secret"),
		DevServerTokenTTL:      time.Duration(configViper.GetInt("devserver.token_ttl_minutes")) * time.Minute,
	}
	if cfg.DeviceModel == "" {
		cfg.DeviceModel = fallbackDeviceModel
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api.timeout_seconds must be positive")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval_minutes must be positive")
	}
	if c.QueueRetention < 0 {
		return fmt.Errorf("sync.queue_retention_hours must not be negative")
	}
	if c.DevServerTokenTTL <= 0 {
		return fmt.Errorf("devserver.token_ttl_minutes must be positive")
	}
	return nil
}

// ValidateDevServer reports whether the development server can start.
func (c AppConfig) ValidateDevServer() error {
	if strings.TrimSpace(c.DevServerSigningSecret) == "" {
		return fmt.Errorf("devserver.signing_secret is required")
	}
	if c.DevServerAddress == "" {
		return fmt.Errorf("devserver.address is required")
	}
	return nil
}

func defaultDeviceModel() string {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		return fallbackDeviceModel
	}
	return hostname
}
