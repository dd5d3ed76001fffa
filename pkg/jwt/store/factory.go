package store

import (
	"fmt"

	"github.com/moweilong/widgetauth/pkg/jwt/core"
)

// Type selects a store implementation.
type Type string

const (
	// TypeMemory keeps revocations in process memory.
	TypeMemory Type = "memory"
	// TypeRedis keeps revocations in Redis.
	TypeRedis Type = "redis"
)

// Config holds the configuration for creating a store.
type Config struct {
	Type  Type         `json:"type" mapstructure:"type" validate:"oneof=memory redis"`
	Redis *RedisConfig `json:"redis,omitempty" mapstructure:"redis"`
}

// DefaultConfig returns a configuration using the memory store.
func DefaultConfig() *Config {
	return &Config{Type: TypeMemory}
}

// NewRedisConfig returns a configuration using the Redis store.
func NewRedisConfig(redisConfig *RedisConfig) *Config {
	if redisConfig == nil {
		redisConfig = DefaultRedisConfig()
	}
	return &Config{Type: TypeRedis, Redis: redisConfig}
}

// NewStore creates the store config describes.
func NewStore(config *Config) (core.RevocationStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Type {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeRedis:
		return NewRedisStore(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// MustNewStore is like NewStore but panics on error.
func MustNewStore(config *Config) core.RevocationStore {
	s, err := NewStore(config)
	if err != nil {
		panic(fmt.Sprintf("failed to create revocation store: %v", err))
	}
	return s
}
