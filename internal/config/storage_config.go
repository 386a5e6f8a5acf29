package config

import "time"

type StorageConfig interface {
	GetDatabaseURL() string
	GetRedisURL() string
	GetMaxOpenConns() int
	GetMaxIdleConns() int
	GetConnMaxLifetime() time.Duration
	GetStorageRetryAttempts() uint
	GetSeedFile() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}

// GetRedisURL returns the redis connection URL for the client read cache.
// An empty value disables the cache and the validator reads straight through.
func (Storage) GetRedisURL() string {
	return GetEnv("REDIS_URL", "")
}

func (Storage) GetMaxOpenConns() int {
	return 25
}

func (Storage) GetMaxIdleConns() int {
	return 5
}

func (Storage) GetConnMaxLifetime() time.Duration {
	return 5 * time.Minute
}

// GetStorageRetryAttempts bounds retries of transient gateway failures.
func (Storage) GetStorageRetryAttempts() uint {
	return 3
}

func (Storage) GetSeedFile() string {
	return GetEnv("SEED_FILE", "")
}
