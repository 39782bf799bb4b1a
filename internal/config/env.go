package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends selectable with TABLE_STORE.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// ServerConfig configures the standalone server process.
type ServerConfig struct {
	Addr            string        `env:"TABLE_ADDR" envDefault:":8082"`
	Store           string        `env:"TABLE_STORE" envDefault:"memory"`
	SQLitePath      string        `env:"TABLE_SQLITE_PATH" envDefault:"data/table.db"`
	RedisAddr       string        `env:"TABLE_REDIS_ADDR" envDefault:"localhost:6379"`
	ConfigPath      string        `env:"TABLE_CONFIG_PATH"`
	LogLevel        string        `env:"TABLE_LOG_LEVEL" envDefault:"info"`
	AdminSecret     string        `env:"TABLE_ADMIN_SECRET"`
	ShutdownTimeout time.Duration `env:"TABLE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// ParseEnv populates target from environment variables using env tags.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServerConfig reads ServerConfig from the environment.
func LoadServerConfig() (ServerConfig, error) {
	var c ServerConfig
	if err := ParseEnv(&c); err != nil {
		return ServerConfig{}, err
	}
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return ServerConfig{}, fmt.Errorf("unknown TABLE_STORE %q", c.Store)
	}
	return c, nil
}
