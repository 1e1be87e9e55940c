package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/osvaldoandrade/ebookpdf/internal/providers"
	"github.com/osvaldoandrade/ebookpdf/internal/repository"
	"github.com/osvaldoandrade/ebookpdf/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config is the plugin's JSON config: addr, password and db.
type Config = providers.RedisConfig

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client  *redis.Client
	jobRepo repository.JobRepository
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if err := json.Unmarshal(config.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis persistence: addr is required")
	}

	client := providers.NewRedisProvider(cfg)
	return &Plugin{
		client:  client,
		jobRepo: repository.NewJobRepository(client, config.HistoryLimit),
	}, nil
}

// JobStorage returns the job storage implementation
func (p *Plugin) JobStorage() persistence.JobStorage {
	return &jobStorageAdapter{repo: p.jobRepo}
}

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases Redis connection
func (p *Plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}
