package tracing

import (
	"context"
	"net/url"

	"github.com/osvaldoandrade/ebookpdf/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	jobTracerName = "ebookpdf/conversion"
	JobSpanName   = "ebookpdf.job.convert"
)

// Job attribute keys, shared with the HTTP span so both can be joined on job id.
const (
	AttrJobID         = attribute.Key("ebookpdf.job_id")
	AttrTargetHost    = attribute.Key("ebookpdf.target_host")
	AttrPages         = attribute.Key("ebookpdf.pages")
	AttrPageCount     = attribute.Key("ebookpdf.page_count")
	AttrWorkspace     = attribute.Key("ebookpdf.workspace")
	AttrExitCode      = attribute.Key("ebookpdf.exit_code")
	AttrOutputBytes   = attribute.Key("ebookpdf.output_bytes")
	AttrArtifactBytes = attribute.Key("ebookpdf.artifact_bytes")
	AttrOutcome       = attribute.Key("ebookpdf.outcome")
)

// JobSpan covers one conversion from workspace creation to cleanup.
type JobSpan struct {
	span trace.Span
}

// StartJob opens the span for a conversion. Only the target's host is
// recorded: book URLs may carry session tokens in their query.
func StartJob(ctx context.Context, jobID, targetURL, pages string, pageCount int) (context.Context, JobSpan) {
	ctx, span := otel.Tracer(jobTracerName).Start(ctx, JobSpanName,
		trace.WithAttributes(
			AttrJobID.String(jobID),
			AttrTargetHost.String(targetHost(targetURL)),
			AttrPages.String(pages),
			AttrPageCount.Int(pageCount),
		),
	)
	return ctx, JobSpan{span: span}
}

func (j JobSpan) Provisioned(workspaceID string) {
	j.span.AddEvent("workspace provisioned", trace.WithAttributes(AttrWorkspace.String(workspaceID)))
}

// End records the outcome and closes the span. artifactBytes < 0 means the
// artifact could not be measured.
func (j JobSpan) End(outcome domain.JobOutcome, artifactBytes int64) {
	label := "failed"
	if outcome.Succeeded {
		label = "succeeded"
	}
	j.span.SetAttributes(
		AttrOutcome.String(label),
		AttrExitCode.Int(outcome.ExitCode),
		AttrOutputBytes.Int64(outcome.OutputBytes),
	)
	if artifactBytes >= 0 {
		j.span.SetAttributes(AttrArtifactBytes.Int64(artifactBytes))
	}
	if !outcome.Succeeded {
		j.span.SetStatus(codes.Error, "conversion failed")
		if outcome.Err != nil {
			j.span.RecordError(outcome.Err)
		}
	}
	j.span.End()
}

func targetHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return u.Host
}
