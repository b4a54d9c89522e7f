package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override configuration keys,
// e.g. TESTBOT_MASTER_URL for master.url.
const EnvPrefix = "TESTBOT"

// Config represents the application configuration
type Config struct {
	DataFolder     string               `mapstructure:"data_folder"`
	Master         MasterConfig         `mapstructure:"master"`
	AntiPlagiarism AntiPlagiarismConfig `mapstructure:"anti_plagiarism"`
	Docker         DockerConfig         `mapstructure:"docker"`
	Script         ScriptConfig         `mapstructure:"script"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// MasterConfig holds the master service connection
type MasterConfig struct {
	URL        string `mapstructure:"url"`
	Name       string `mapstructure:"name"`
	Password   string `mapstructure:"password"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// AntiPlagiarismConfig holds the similarity service address
type AntiPlagiarismConfig struct {
	API string `mapstructure:"api"`
}

// DockerConfig holds container engine settings
type DockerConfig struct {
	Binary string `mapstructure:"binary"`
}

// ScriptConfig holds host script settings
type ScriptConfig struct {
	Shell string `mapstructure:"shell"`
}

// QueueConfig holds the NATS consumer settings
type QueueConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Group         string `mapstructure:"group"`
	Concurrency   int    `mapstructure:"concurrency"`
}

// MetricsConfig holds the metrics endpoint settings
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration. When configFile is
// empty, config.yaml is searched in . and ./config.
func New(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	v.SetDefault("data_folder", "./data")
	v.SetDefault("master.url", "")
	v.SetDefault("master.name", "")
	v.SetDefault("master.password", "")
	v.SetDefault("master.timeout_sec", 60)
	v.SetDefault("anti_plagiarism.api", "")
	v.SetDefault("docker.binary", "docker")
	v.SetDefault("script.shell", "bash")
	v.SetDefault("queue.url", "nats://127.0.0.1:4222")
	v.SetDefault("queue.subject_prefix", "testbot")
	v.SetDefault("queue.group", "testbot")
	v.SetDefault("queue.concurrency", 0)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.DataFolder == "" {
		return fmt.Errorf("data_folder is required")
	}

	if c.Master.URL == "" {
		return fmt.Errorf("master.url is required")
	}
	if u, err := url.Parse(c.Master.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid master.url: %s", c.Master.URL)
	}

	if c.Master.TimeoutSec <= 0 {
		return fmt.Errorf("master.timeout_sec must be positive, got: %d", c.Master.TimeoutSec)
	}

	if c.Queue.Concurrency < 0 {
		return fmt.Errorf("queue.concurrency must not be negative, got: %d", c.Queue.Concurrency)
	}

	if c.Queue.SubjectPrefix == "" {
		return fmt.Errorf("queue.subject_prefix is required")
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetMasterTimeout returns the master request timeout as a duration
func (c *Config) GetMasterTimeout() time.Duration {
	return time.Duration(c.Master.TimeoutSec) * time.Second
}
