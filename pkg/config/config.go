// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"chat:chat@tcp(localhost:3306)/chat?charset=utf8mb4&parseTime=True&loc=UTC"`

	// BusDriver selects the broadcast backend: redis, kafka, or memory
	// (single process only).
	BusDriver    string   `env:"BUS_DRIVER" envDefault:"redis"`
	BusChannel   string   `env:"BUS_CHANNEL" envDefault:"chat-events"`
	RedisAddr    string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:19092"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
}

// Load reads .env when present, then parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
