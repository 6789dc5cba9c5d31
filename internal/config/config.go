// Package config holds runtime configuration, populated from RELAY_*
// environment variables. CLI flags may override individual fields.

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// ListenAddr is the HTTP/WebSocket bind address.
	ListenAddr string `env:"RELAY_LISTEN_ADDR" envDefault:":4010"`
	// BroadcastEcho controls whether a broadcasting sender receives its
	// own BroadcastFromSession.
	BroadcastEcho bool `env:"RELAY_BROADCAST_ECHO" envDefault:"false"`
	// SendBuffer is the per-client outbound queue length; frames beyond
	// it are dropped rather than blocking the session.
	SendBuffer int `env:"RELAY_SEND_BUFFER" envDefault:"32"`
	// WriteTimeout bounds each WebSocket frame write.
	WriteTimeout time.Duration `env:"RELAY_WRITE_TIMEOUT" envDefault:"10s"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `env:"RELAY_LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}
