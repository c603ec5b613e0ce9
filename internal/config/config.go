package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DatabaseURL       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string

	// AMQPHost and AMQPPort locate the broker the gateway connects to on
	// behalf of clients. The broker's auth callbacks point back at this
	// service, so both sides must agree on the same instance.
	AMQPHost  string
	AMQPPort  string
	AMQPVhost string

	// TokenHashKey is the server-side key for the keyed hash applied to
	// API tokens and credential secrets. Plaintext secrets are never stored.
	TokenHashKey string

	CredentialLifetime time.Duration
	GetFetchDeadline   time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "messaging-api"),
		AMQPHost:          getEnv("AMQP_HOST", "localhost"),
		AMQPPort:          getEnv("AMQP_PORT", "5672"),
		AMQPVhost:         getEnv("AMQP_VHOST", "/"),
		TokenHashKey:      getEnv("TOKEN_HASH_KEY", ""),
	}

	lifetime, err := parseDurationEnv("CREDENTIAL_LIFETIME", 4*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.CredentialLifetime = lifetime

	deadline, err := parseDurationEnv("GET_FETCH_DEADLINE", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.GetFetchDeadline = deadline

	return cfg, nil
}

// Validate checks that everything the API server needs is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TokenHashKey == "" {
		return fmt.Errorf("TOKEN_HASH_KEY is required")
	}
	return nil
}

// AMQPURL builds the broker URL for the given credential.
func (c *Config) AMQPURL(username, password string) string {
	vhost := c.AMQPVhost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s", username, password, c.AMQPHost, c.AMQPPort, vhost)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
