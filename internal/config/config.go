// Package config содержит логику чтения конфигурации сервиса earntube.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса earntube.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	JWTSecret      string        `env:"JWT_SECRET"`
	LocalStorePath string        `env:"LOCAL_STORE_PATH"`
	RetryCooldown  time.Duration `env:"RETRY_COOLDOWN"`
	Serverless     bool          `env:"SERVERLESS"`
	Production     bool          `env:"PRODUCTION"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envLocalStorePath := cfg.LocalStorePath
	envRetryCooldown := cfg.RetryCooldown
	envServerless := cfg.Serverless
	envProduction := cfg.Production

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "JWT signing secret")
	flag.StringVar(&cfg.LocalStorePath, "f", "data/accounts.db", "local store file path")
	flag.DurationVar(&cfg.RetryCooldown, "c", 60*time.Second, "database reconnect cooldown")
	flag.BoolVar(&cfg.Serverless, "serverless", false, "run without durable local store")
	flag.BoolVar(&cfg.Production, "production", false, "production mode")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envLocalStorePath != "" {
		cfg.LocalStorePath = envLocalStorePath
	}
	if envRetryCooldown != 0 {
		cfg.RetryCooldown = envRetryCooldown
	}
	if envServerless {
		cfg.Serverless = true
	}
	if envProduction {
		cfg.Production = true
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.LocalStorePath == "" {
		cfg.LocalStorePath = "data/accounts.db"
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = 60 * time.Second
	}

	return cfg, nil
}
