package persistence

import (
	"context"
	"errors"

	"github.com/osvaldoandrade/ebookpdf/pkg/domain"
)

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New("not found")
)

// PluginPersistence provides storage operations for persistence plugins.
// This is the main interface that all persistence backends must implement.
type PluginPersistence interface {
	// JobStorage returns the job history storage implementation
	JobStorage() JobStorage

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// JobStorage defines persistence operations for conversion job history
type JobStorage interface {
	// Save creates or replaces a job record
	Save(ctx context.Context, rec *domain.JobRecord) error

	// Get retrieves a job record by ID
	Get(ctx context.Context, id string) (*domain.JobRecord, error)

	// ListRecent returns up to limit records, newest first
	ListRecent(ctx context.Context, limit int) ([]*domain.JobRecord, error)
}
