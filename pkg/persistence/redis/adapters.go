package redis

import (
	"context"
	"errors"

	"github.com/osvaldoandrade/ebookpdf/internal/repository"
	"github.com/osvaldoandrade/ebookpdf/pkg/domain"
	"github.com/osvaldoandrade/ebookpdf/pkg/persistence"
)

// jobStorageAdapter adapts repository.JobRepository to persistence.JobStorage
type jobStorageAdapter struct {
	repo repository.JobRepository
}

func (a *jobStorageAdapter) Save(ctx context.Context, rec *domain.JobRecord) error {
	return a.repo.Save(ctx, *rec)
}

func (a *jobStorageAdapter) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	rec, err := a.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, persistence.ErrNotFound
	}
	return rec, err
}

func (a *jobStorageAdapter) ListRecent(ctx context.Context, limit int) ([]*domain.JobRecord, error) {
	recs, err := a.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.JobRecord, len(recs))
	for i := range recs {
		out[i] = &recs[i]
	}
	return out, nil
}
