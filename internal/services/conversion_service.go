package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/osvaldoandrade/ebookpdf/internal/metrics"
	"github.com/osvaldoandrade/ebookpdf/internal/pages"
	"github.com/osvaldoandrade/ebookpdf/internal/providers"
	"github.com/osvaldoandrade/ebookpdf/internal/runner"
	"github.com/osvaldoandrade/ebookpdf/internal/tracing"
	"github.com/osvaldoandrade/ebookpdf/internal/workspace"
	"github.com/osvaldoandrade/ebookpdf/pkg/domain"
	"github.com/osvaldoandrade/ebookpdf/pkg/persistence"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

type ConversionService interface {
	NewJobID() string
	// Convert runs one job to completion and streams converter output to w.
	// Provisioning and converter failures are reported through the outcome.
	Convert(ctx context.Context, jobID string, req domain.ConversionRequest, w io.Writer) domain.JobOutcome
	GetJob(ctx context.Context, id string) (*domain.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]*domain.JobRecord, error)
}

type conversionService struct {
	workspaces *workspace.Manager
	runner     *runner.Runner
	artifacts  providers.ArtifactStore
	history    persistence.JobStorage
	logger     *slog.Logger
	now        func() time.Time
	maxPages   int
}

type ConversionOption func(*conversionService)

// WithMaxPages caps how many pages one range may expand to.
func WithMaxPages(n int) ConversionOption {
	return func(s *conversionService) { s.maxPages = n }
}

func NewConversionService(workspaces *workspace.Manager, r *runner.Runner, artifacts providers.ArtifactStore, history persistence.JobStorage, logger *slog.Logger, now func() time.Time, opts ...ConversionOption) ConversionService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	s := &conversionService{
		workspaces: workspaces,
		runner:     r,
		artifacts:  artifacts,
		history:    history,
		logger:     logger,
		now:        now,
		maxPages:   pages.DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *conversionService) NewJobID() string { return uuid.NewString() }

func (s *conversionService) Convert(ctx context.Context, jobID string, req domain.ConversionRequest, w io.Writer) domain.JobOutcome {
	expanded := pages.ExpandMax(req.PageSpec, s.maxPages)
	pageCount := 0
	if expanded != "" {
		pageCount = strings.Count(expanded, ",") + 1
	}

	ctx, span := tracing.StartJob(ctx, jobID, req.TargetURL, expanded, pageCount)

	logger := s.logger.With("job_id", jobID, "request_id", req.RequestID)
	traceParent, _ := tracing.TraceContextStrings(ctx)
	rec := &domain.JobRecord{
		ID:            jobID,
		RequestID:     req.RequestID,
		TargetURL:     req.TargetURL,
		Pages:         req.PageSpec,
		ExpandedPages: expanded,
		Status:        domain.StatusRunning,
		ExitCode:      -1,
		TraceParent:   traceParent,
		CreatedAt:     s.now().UTC(),
	}
	s.record(ctx, logger, rec)

	metrics.JobsStartedTotal.Inc()
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	var (
		outcome  domain.JobOutcome
		artifact providers.Artifact
		ran      bool
	)
	err := s.workspaces.With(func(ws *domain.Workspace) error {
		if err := s.workspaces.WriteCookie(ws, req.CookieData); err != nil {
			return err
		}
		artifact = providers.Artifact{FilePath: ws.OutputPath, PublicPath: ws.PublicPath}
		span.Provisioned(ws.ID)
		logger.Info("conversion started", "workspace", ws.ID, "pages", expanded)
		job := s.runner.Run(ctx, runner.RunSpec{Workspace: ws, TargetURL: req.TargetURL, Pages: expanded})
		forward(job.Output(), w, logger)
		outcome = job.Wait()
		ran = true
		return nil
	})
	if !ran {
		outcome = domain.FailedOutcome(fmt.Errorf("provision workspace: %w", err))
		logger.Error("job provisioning failed", "err", err)
	}

	artifactBytes := int64(-1)
	if outcome.Succeeded {
		if size, err := s.artifacts.Size(ctx, artifact); err == nil {
			artifactBytes = size
		} else {
			logger.Warn("converter reported success but artifact is missing", "path", artifact.PublicPath, "err", err)
		}
	}
	span.End(outcome, artifactBytes)

	label := metrics.OutcomeLabel(outcome.Succeeded)
	metrics.JobsCompletedTotal.WithLabelValues(label).Inc()
	metrics.JobDurationSeconds.WithLabelValues(label).Observe(outcome.Duration.Seconds())
	metrics.JobOutputBytesTotal.Add(float64(outcome.OutputBytes))

	finished := s.now().UTC()
	rec.FinishedAt = &finished
	rec.OutputBytes = outcome.OutputBytes
	rec.ExitCode = outcome.ExitCode
	if outcome.Succeeded {
		rec.Status = domain.StatusSucceeded
		rec.DownloadPath = outcome.DownloadPath
	} else {
		rec.Status = domain.StatusFailed
	}
	s.record(context.WithoutCancel(ctx), logger, rec)

	logger.Info("conversion finished",
		"outcome", label,
		"exit_code", outcome.ExitCode,
		"output_bytes", outcome.OutputBytes,
		"duration", outcome.Duration,
	)
	return outcome
}

func (s *conversionService) record(ctx context.Context, logger *slog.Logger, rec *domain.JobRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.Save(ctx, rec); err != nil {
		logger.Warn("job history save failed", "status", rec.Status, "err", err)
	}
}

func (s *conversionService) GetJob(ctx context.Context, id string) (*domain.JobRecord, error) {
	if s.history == nil {
		return nil, persistence.ErrNotFound
	}
	return s.history.Get(ctx, id)
}

func (s *conversionService) ListJobs(ctx context.Context, limit int) ([]*domain.JobRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if s.history == nil {
		return []*domain.JobRecord{}, nil
	}
	return s.history.ListRecent(ctx, limit)
}

// forward copies chunks to w in arrival order. Once w fails the client is
// gone; the channel is still drained so the converter can finish.
func forward(chunks <-chan []byte, w io.Writer, logger *slog.Logger) {
	var werr error
	for chunk := range chunks {
		if werr != nil {
			continue
		}
		if _, werr = w.Write(chunk); werr != nil {
			logger.Debug("client stopped reading converter output", "err", werr)
		}
	}
}
