package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI string
	ListenAddr  string

	// SweepInterval bounds how long a reminder whose timer was lost can stay
	// untriggered; MisfireGrace is how late a timer fire is still honored
	// before the sweep takes over.
	SweepInterval time.Duration
	MisfireGrace  time.Duration

	// Notification transports. Either may be unset; deliveries to endpoints
	// of that platform then fail and are logged, nothing else.
	TelegramToken  string
	PushGatewayURL string
	PushGatewayKey string

	LogLevel  string
	LogPretty bool
}

func Load() (*Config, error) {
	// .env file is optional in production
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURI:    os.Getenv("DATABASE_URI"),
		ListenAddr:     getEnvOrDefault("LISTEN_ADDR", ":8080"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		PushGatewayURL: os.Getenv("PUSH_GATEWAY_URL"),
		PushGatewayKey: os.Getenv("PUSH_GATEWAY_KEY"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogPretty:      os.Getenv("LOG_PRETTY") == "true",
	}

	var err error
	cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.MisfireGrace, err = getEnvDuration("MISFIRE_GRACE", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
