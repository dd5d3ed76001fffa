package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"

	"github.com/moweilong/widgetauth/pkg/jwt/core"
)

var _ core.RevocationStore = (*RedisStore)(nil)

// RedisStore keeps revocations in Redis with client-side caching. Keys expire
// together with the revocation, so Redis drops lapsed entries by itself.
type RedisStore struct {
	client   rueidis.Client
	prefix   string
	cacheTTL time.Duration
}

// RedisConfig holds the configuration for the Redis store.
type RedisConfig struct {
	// Addr is the Redis server address.
	Addr string `json:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	// Password is the Redis password.
	Password string `json:"password" mapstructure:"password"`
	// DB is the Redis database number.
	DB int `json:"db" mapstructure:"db"`

	TLSConfig *tls.Config `json:"-" mapstructure:"-"`

	// CacheSize is the client-side cache size per connection in bytes.
	CacheSize int `json:"cache-size" mapstructure:"cache-size"`
	// CacheTTL bounds how long a cached lookup is served locally.
	CacheTTL time.Duration `json:"cache-ttl" mapstructure:"cache-ttl"`
	// DisableCache turns client-side caching off, for servers without RESP3.
	DisableCache bool `json:"disable-cache" mapstructure:"disable-cache"`

	// KeyPrefix prefixes every key.
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`
}

// DefaultRedisConfig returns a default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		CacheSize: 16 * 1024 * 1024,
		CacheTTL:  time.Minute,
		KeyPrefix: "widgetauth:revoked:",
	}
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:       []string{config.Addr},
		Password:          config.Password,
		SelectDB:          config.DB,
		TLSConfig:         config.TLSConfig,
		ConnWriteTimeout:  10 * time.Second,
		CacheSizeEachConn: config.CacheSize,
		DisableCache:      config.DisableCache,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	if err := client.Do(context.Background(), client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, config.KeyPrefix, config.CacheTTL), nil
}

// NewRedisStoreFromClient wraps an existing rueidis client. The store takes
// ownership of the client and closes it in Close.
func NewRedisStoreFromClient(client rueidis.Client, prefix string, cacheTTL time.Duration) *RedisStore {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &RedisStore{client: client, prefix: prefix, cacheTTL: cacheTTL}
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	s.client.Close()
	return nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Revoke(ctx context.Context, id string, until time.Time) error {
	if id == "" {
		return core.ErrEmptyID
	}

	ttl := time.Until(until)
	if ttl <= 0 {
		// Already lapsed; nothing left to reject.
		return nil
	}
	seconds := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		seconds++
	}

	data, err := sonic.MarshalString(&core.Revocation{ID: id, Until: until, Created: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal revocation: %w", err)
	}

	cmd := s.client.B().Setex().Key(s.key(id)).Seconds(seconds).Value(data).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to store revocation in Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Revoked(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	result := s.client.DoCache(ctx, s.client.B().Get().Key(s.key(id)).Cache(), s.cacheTTL)
	if err := result.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read revocation from Redis: %w", err)
	}

	data, err := result.ToString()
	if err != nil {
		return false, fmt.Errorf("failed to convert Redis result to string: %w", err)
	}

	var r core.Revocation
	if err := sonic.UnmarshalString(data, &r); err != nil {
		return false, fmt.Errorf("failed to unmarshal revocation: %w", err)
	}
	return !r.Lapsed(time.Now()), nil
}

// Cleanup removes nothing: Redis expires revocations with their keys.
func (s *RedisStore) Cleanup(context.Context) (int, error) {
	return 0, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	var (
		count  int
		cursor uint64
	)
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(s.key("*")).Count(100).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return 0, fmt.Errorf("failed to scan Redis keys: %w", err)
		}

		count += len(entry.Elements)
		cursor = entry.Cursor
		if cursor == 0 {
			return count, nil
		}
	}
}

// Ping tests the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}
