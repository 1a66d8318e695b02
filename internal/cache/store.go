package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss reports whether err is a cache miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Store is a byte cache with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value. A zero ttl selects the store's default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config 缓存配置
type Config struct {
	// memory 或 redis
	Backend string `yaml:"backend" json:"backend"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 内存后端的条目上限，0 使用 DefaultMaxEntries
	MaxEntries int `yaml:"max_entries" json:"max_entries"`

	// 启用 TLS
	TLS bool `yaml:"tls" json:"tls"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Backend:    BackendMemory,
		DefaultTTL: 10 * time.Minute,
		Addr:       "localhost:6379",
		KeyPrefix:  "chatplugin:",
		PoolSize:   10,
		MaxRetries: 3,
	}
}

// New creates the store selected by config.Backend.
func New(config Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(config.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(config.DefaultTTL, WithMaxEntries(config.MaxEntries)), nil
	case BackendRedis:
		return NewRedisStore(config, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", config.Backend)
	}
}
