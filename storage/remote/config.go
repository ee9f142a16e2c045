package remote

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Driver names accepted by Open
const (
	DriverMemory = "memory"
	DriverBBolt  = "bbolt"
	DriverSQLite = "sqlite"
)

// DriverConfig selects and configures a store driver
type DriverConfig struct {
	// Driver is one of memory, bbolt, sqlite
	Driver string `env:"SLIM3_DRIVER" envDefault:"memory"`
	// Path locates the data file for the bbolt and sqlite drivers
	Path string `env:"SLIM3_STORE_PATH"`
}

// DriverConfigFromEnv loads driver configuration from the environment
func DriverConfigFromEnv() (DriverConfig, error) {
	var config DriverConfig

	if err := env.Parse(&config); err != nil {
		return DriverConfig{}, fmt.Errorf("parse env: %w", err)
	}

	return config, nil
}

// Open creates a store for the configured driver. File-backed drivers
// with no configured path open at a fresh temp path.
func Open(config DriverConfig) (Store, error) {
	switch config.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverBBolt:
		if config.Path == "" {
			return NewTempBBoltStore()
		}

		return NewBBoltStore(BBoltConfig{Path: config.Path})
	case DriverSQLite:
		if config.Path == "" {
			return NewTempSQLiteStore()
		}

		return NewSQLiteStore(SQLiteConfig{Path: config.Path})
	}

	return nil, fmt.Errorf("unknown driver %q", config.Driver)
}
