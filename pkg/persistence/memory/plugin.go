package memory

import (
	"context"
	"sync"

	"github.com/osvaldoandrade/ebookpdf/pkg/domain"
	"github.com/osvaldoandrade/ebookpdf/pkg/persistence"
)

const defaultHistoryLimit = 1000

// Plugin implements PluginPersistence for in-memory storage.
// History is lost on restart.
type Plugin struct {
	mu    sync.RWMutex
	jobs  map[string]*domain.JobRecord
	order []string // oldest first
	limit int
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	limit := config.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Plugin{
		jobs:  make(map[string]*domain.JobRecord),
		limit: limit,
	}, nil
}

// JobStorage returns the job storage implementation
func (p *Plugin) JobStorage() persistence.JobStorage {
	return &jobStorage{plugin: p}
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

type jobStorage struct {
	plugin *Plugin
}

func (s *jobStorage) Save(ctx context.Context, rec *domain.JobRecord) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()

	recCopy := *rec
	if _, exists := s.plugin.jobs[rec.ID]; !exists {
		s.plugin.order = append(s.plugin.order, rec.ID)
	}
	s.plugin.jobs[rec.ID] = &recCopy

	for len(s.plugin.order) > s.plugin.limit {
		oldest := s.plugin.order[0]
		s.plugin.order = s.plugin.order[1:]
		delete(s.plugin.jobs, oldest)
	}
	return nil
}

func (s *jobStorage) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	rec, exists := s.plugin.jobs[id]
	if !exists {
		return nil, persistence.ErrNotFound
	}
	recCopy := *rec
	return &recCopy, nil
}

func (s *jobStorage) ListRecent(ctx context.Context, limit int) ([]*domain.JobRecord, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	if limit <= 0 || limit > len(s.plugin.order) {
		limit = len(s.plugin.order)
	}
	out := make([]*domain.JobRecord, 0, limit)
	for i := len(s.plugin.order) - 1; i >= 0 && len(out) < limit; i-- {
		recCopy := *s.plugin.jobs[s.plugin.order[i]]
		out = append(out, &recCopy)
	}
	return out, nil
}
