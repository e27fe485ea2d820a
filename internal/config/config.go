package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Providers struct {
		Anthropic struct {
			BaseURL string `mapstructure:"base_url"`
			APIKey  string `mapstructure:"api_key"`
		} `mapstructure:"anthropic"`
		OpenAI struct {
			BaseURL string `mapstructure:"base_url"`
			APIKey  string `mapstructure:"api_key"`
		} `mapstructure:"openai"`
	} `mapstructure:"providers"`
	Pipeline struct {
		AttemptTimeoutSeconds int     `mapstructure:"attempt_timeout_seconds"`
		MaxRetries            int     `mapstructure:"max_retries"`
		Temperature           float64 `mapstructure:"temperature"`
		MaxTokens             int     `mapstructure:"max_tokens"`
		EventBuffer           int     `mapstructure:"event_buffer"`
	} `mapstructure:"pipeline"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
// Environment variables override file values; nested keys map through
// underscores, e.g. PROVIDERS_ANTHROPIC_API_KEY.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("pipeline.attempt_timeout_seconds", 120)
	viper.SetDefault("pipeline.max_retries", 2)
	viper.SetDefault("pipeline.temperature", 0.7)
	viper.SetDefault("pipeline.max_tokens", 8192)
	viper.SetDefault("pipeline.event_buffer", 64)

	if err := viper.ReadInConfig(); err != nil {
		// The config file is optional when env vars carry the settings.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
