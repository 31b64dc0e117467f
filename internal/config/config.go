package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Escrow   EscrowConfig   `yaml:"escrow"`
	Delivery DeliveryConfig `yaml:"delivery"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

type GatewayConfig struct {
	BaseURL    string        `yaml:"base_url"`
	SecretKey  string        `yaml:"secret_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type EscrowConfig struct {
	PlatformFeeBps    int           `yaml:"platform_fee_bps"`
	AutoReleaseWindow time.Duration `yaml:"auto_release_window"`
}

type DeliveryConfig struct {
	AcceptWindow  time.Duration `yaml:"accept_window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	// secrets are never committed in the config file
	if v := os.Getenv("GATEWAY_SECRET_KEY"); v != "" {
		cfg.Gateway.SecretKey = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		HTTP: HTTPConfig{Port: 3000},
		Database: DatabaseConfig{
			Port:     5432,
			SSLMode:  "disable",
			MaxConns: 10,
		},
		RabbitMQ: RabbitMQConfig{
			Port:  5672,
			VHost: "/",
		},
		Gateway: GatewayConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Escrow: EscrowConfig{
			PlatformFeeBps:    250,
			AutoReleaseWindow: 72 * time.Hour,
		},
		Delivery: DeliveryConfig{
			AcceptWindow:  15 * time.Minute,
			SweepInterval: time.Minute,
			SweepBatch:    100,
		},
	}
}

func (c Config) validate() error {
	if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
		return errors.New("invalid config: database host, user and database are required")
	}
	if c.RabbitMQ.Host == "" || c.RabbitMQ.User == "" {
		return errors.New("invalid config: rabbitmq host and user are required")
	}
	if c.Gateway.BaseURL == "" {
		return errors.New("invalid config: gateway base_url is required")
	}
	if c.Escrow.PlatformFeeBps < 0 || c.Escrow.PlatformFeeBps > 10000 {
		return errors.New("invalid config: platform_fee_bps out of range")
	}
	if c.Delivery.AcceptWindow <= 0 {
		return errors.New("invalid config: delivery accept_window must be positive")
	}
	return nil
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}
