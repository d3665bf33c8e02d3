package config

import (
	"errors"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	ServerPort  string `mapstructure:"SERVER_PORT"`

	// SessionSigningKey signs full session tokens. TwoFactorSigningKey signs
	// only the short-lived 2FA-pending tokens; keeping the keys separate
	// scopes those tokens strictly to the 2FA step.
	SessionSigningKey   string `mapstructure:"SESSION_SIGNING_KEY"`
	TwoFactorSigningKey string `mapstructure:"TWO_FACTOR_SIGNING_KEY"`

	// TwoFactorIssuer is the label shown in authenticator apps.
	TwoFactorIssuer string `mapstructure:"TWO_FACTOR_ISSUER"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8081")
	viper.SetDefault("TWO_FACTOR_ISSUER", "Coursiva")

	// Bind envs explicitly so containers pick them up reliably
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("SESSION_SIGNING_KEY")
	_ = viper.BindEnv("TWO_FACTOR_SIGNING_KEY")
	_ = viper.BindEnv("TWO_FACTOR_ISSUER")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Warning: Error reading config file: %s", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.SessionSigningKey == "" || config.TwoFactorSigningKey == "" {
		return nil, errors.New("SESSION_SIGNING_KEY and TWO_FACTOR_SIGNING_KEY are required")
	}
	if config.SessionSigningKey == config.TwoFactorSigningKey {
		return nil, errors.New("SESSION_SIGNING_KEY and TWO_FACTOR_SIGNING_KEY must differ")
	}

	return &config, nil
}
