package providers

import (
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig is the connection shared by job history and conversion
// admission. Zero durations fall back to the defaults below.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	PoolSize int    `json:"poolSize,omitempty"`

	DialTimeout  time.Duration `json:"-"`
	ReadTimeout  time.Duration `json:"-"`
	WriteTimeout time.Duration `json:"-"`
}

const (
	defaultRedisDialTimeout = 5 * time.Second
	// Admission runs on the request path of every conversion; a slow Redis
	// should fail that check quickly rather than stall the upload.
	defaultRedisIOTimeout = 2 * time.Second
)

func (c RedisConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:         strings.TrimSpace(c.Addr),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultRedisDialTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultRedisIOTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultRedisIOTimeout
	}
	return opts
}

func NewRedisProvider(cfg RedisConfig) *redis.Client {
	return redis.NewClient(cfg.options())
}
