package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/ebookpdf/internal/workspace"
)

type WorkspaceJanitorService interface {
	Start(ctx context.Context)
	SweepOnce(ctx context.Context) int
}

type workspaceJanitorService struct {
	workspaces *workspace.Manager
	logger     *slog.Logger
	interval   time.Duration
	maxAge     time.Duration
	now        func() time.Time
}

func NewWorkspaceJanitorService(workspaces *workspace.Manager, logger *slog.Logger, intervalSeconds, maxAgeSeconds int, now func() time.Time) WorkspaceJanitorService {
	if intervalSeconds <= 0 {
		intervalSeconds = 600
	}
	if maxAgeSeconds <= 0 {
		maxAgeSeconds = 6 * 3600
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &workspaceJanitorService{
		workspaces: workspaces,
		logger:     logger,
		interval:   time.Duration(intervalSeconds) * time.Second,
		maxAge:     time.Duration(maxAgeSeconds) * time.Second,
		now:        now,
	}
}

// Start sweeps once immediately, then on every tick until ctx is done.
func (s *workspaceJanitorService) Start(ctx context.Context) {
	s.SweepOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *workspaceJanitorService) SweepOnce(ctx context.Context) int {
	removed, err := s.workspaces.Sweep(ctx, s.maxAge, s.now())
	if err != nil {
		s.logger.Warn("workspace sweep failed", "err", err)
	}
	if removed > 0 {
		s.logger.Info("workspace sweep removed stale workspaces", "count", removed)
	}
	return removed
}
