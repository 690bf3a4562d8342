package storage

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open returns the Storage selected by config.Driver. Schemas are applied on open.
func Open(config DatabaseConfig, logger *zap.Logger) (Storage, error) {
	switch config.Driver {
	case DriverMemory:
		logger.Info("Using in-memory storage")
		return NewMemoryStorage(), nil
	case DriverPostgres, "":
		logger.Info("Using PostgreSQL storage")
		store, err := NewPostgresStorage(config, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverSQLite:
		logger.Info("Using SQLite storage")
		store, err := NewSQLiteStorage(config.Path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", config.Driver)
	}
}
