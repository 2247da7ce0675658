/**
 * @description
 * This file handles configuration management for the billing-service.
 * It loads settings from environment variables, providing defaults that match
 * the production billing batch.
 */
package config

import (
	"errors"

	"github.com/spf13/viper"
)

// Config holds all configuration for the billing service.
type Config struct {
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	CredixAPIURL         string `mapstructure:"CREDIX_API_URL"`
	CredixClientIP       string `mapstructure:"CREDIX_CLIENT_IP"`
	SlackBotToken        string `mapstructure:"SLACK_BOT_TOKEN"`
	SlackChannel         string `mapstructure:"SLACK_CHANNEL"`
	Environment          string `mapstructure:"ENVIRONMENT"`
	BillingJobSchedule   string `mapstructure:"BILLING_JOB_SCHEDULE"`
	RetryIntervalSeconds int    `mapstructure:"RETRY_INTERVAL_SECONDS"`
	MaxChargeAttempts    int    `mapstructure:"MAX_CHARGE_ATTEMPTS"`
	MaxConcurrentWorkers int    `mapstructure:"MAX_CONCURRENT_WORKERS"`
	GatewayTimeoutSecs   int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RunOnce              bool   `mapstructure:"RUN_ONCE"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("CREDIX_API_URL", "https://secure.credix-web.co.jp/cgi-bin/secure.cgi")
	viper.SetDefault("CREDIX_CLIENT_IP", "1011004877")
	viper.SetDefault("SLACK_CHANNEL", "C0A0YDFF5PS")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("BILLING_JOB_SCHEDULE", "0 0 * * *") // At 00:00 UTC daily.
	viper.SetDefault("RETRY_INTERVAL_SECONDS", 60)
	viper.SetDefault("MAX_CHARGE_ATTEMPTS", 0)    // 0 = retry until success.
	viper.SetDefault("MAX_CONCURRENT_WORKERS", 0) // 0 = no bound on fan-out.
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 10)
	viper.SetDefault("RUN_ONCE", false)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("CREDIX_API_URL")
	_ = viper.BindEnv("CREDIX_CLIENT_IP")
	_ = viper.BindEnv("SLACK_BOT_TOKEN")
	_ = viper.BindEnv("SLACK_CHANNEL")
	_ = viper.BindEnv("ENVIRONMENT")
	_ = viper.BindEnv("BILLING_JOB_SCHEDULE")
	_ = viper.BindEnv("RETRY_INTERVAL_SECONDS")
	_ = viper.BindEnv("MAX_CHARGE_ATTEMPTS")
	_ = viper.BindEnv("MAX_CONCURRENT_WORKERS")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RUN_ONCE")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if config.RetryIntervalSeconds <= 0 {
		return nil, errors.New("RETRY_INTERVAL_SECONDS must be positive")
	}
	if config.GatewayTimeoutSecs <= 0 {
		return nil, errors.New("GATEWAY_TIMEOUT_SECONDS must be positive")
	}

	return &config, nil
}
