// Package config reads server configuration from the environment.
package config

import "os"

type Config struct {
	// ListenAddr is the address the HTTP/websocket server binds to.
	ListenAddr string
	// RedisAddr is the host:port of the shared document store.
	RedisAddr string
	// KafkaBroker is the host:port of the event-bus broker.
	KafkaBroker string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is "json" or "text".
	LogFormat string
}

// FromEnv builds a Config from environment variables, falling back to the
// defaults used in local development.
func FromEnv() Config {
	return Config{
		ListenAddr:  getenv("LISTEN_ADDR", ":8081"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBroker: getenv("KAFKA_BROKER", "localhost:9092"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogFormat:   getenv("LOG_FORMAT", "text"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
