// Package runner drives the external converter binary.
//
// The converter is invoked with a fixed positional contract:
//
//	<bin> <cookieFile> <targetURL> <workspace> <pages> <workspace> <outputPath>
//
// Its stdout is forwarded chunk by chunk as it is produced. Its stderr is kept
// internally and only logged. A job resolves to exactly one outcome, produced
// after stdout has been fully drained and the process has exited.
package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/ebookpdf/internal/process"
	"github.com/osvaldoandrade/ebookpdf/pkg/domain"
)

const (
	maxStderrBytes = 64 << 10
	outputBuffer   = 16
	waitDelay      = 5 * time.Second
)

type RunSpec struct {
	Workspace *domain.Workspace
	TargetURL string
	// Pages is the already expanded page list.
	Pages string
}

// Args returns the converter arguments in contract order.
func Args(spec RunSpec) []string {
	ws := spec.Workspace
	return []string{
		ws.CookieFilePath,
		spec.TargetURL,
		ws.RootPath,
		spec.Pages,
		ws.RootPath,
		ws.OutputPath,
	}
}

type Runner struct {
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

// New returns a Runner for bin. A zero timeout lets the converter run for as
// long as it needs. A bin with a directory part is resolved against the
// current working directory; bare names are looked up in PATH.
func New(bin string, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{bin: resolveBin(bin), timeout: timeout, logger: logger}
}

func resolveBin(bin string) string {
	if bin == "" || filepath.IsAbs(bin) || !strings.ContainsAny(bin, `/`+string(filepath.Separator)) {
		return bin
	}
	if abs, err := filepath.Abs(bin); err == nil {
		return abs
	}
	return bin
}

// Job is a running conversion. Output must be drained until it is closed,
// otherwise the converter blocks on its stdout.
type Job struct {
	output  chan []byte
	done    chan struct{}
	outcome domain.JobOutcome
}

func (j *Job) Output() <-chan []byte { return j.output }

// Done is closed once the outcome is available.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Wait() domain.JobOutcome {
	<-j.done
	return j.outcome
}

// Run starts the converter. The process is detached from ctx cancellation so a
// client going away does not abort the job; only the configured timeout does.
func (r *Runner) Run(ctx context.Context, spec RunSpec) *Job {
	job := &Job{
		output: make(chan []byte, outputBuffer),
		done:   make(chan struct{}),
	}

	runCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, r.timeout)
	}

	cmd := exec.CommandContext(runCtx, r.bin, Args(spec)...)
	cmd.Dir = spec.Workspace.RootPath
	process.Isolate(cmd)
	cmd.Cancel = func() error {
		process.KillProcessGroup(cmd.Process.Pid)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = waitDelay

	stdout := &chunkWriter{ch: job.output}
	stderr := &limitedBuffer{max: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	go func() {
		defer cancel()
		started := time.Now()
		err := cmd.Run()
		close(job.output)

		out := domain.JobOutcome{
			OutputBytes: stdout.Written(),
			Duration:    time.Since(started),
		}
		if err == nil {
			out.Succeeded = true
			out.DownloadPath = spec.Workspace.PublicPath
		} else {
			out.Err = err
			out.ExitCode = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				out.ExitCode = exitErr.ExitCode()
			}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				r.logger.Warn("converter timed out", "workspace", spec.Workspace.ID, "timeout", r.timeout)
			}
			r.logger.Debug("converter failed",
				"workspace", spec.Workspace.ID,
				"exit_code", out.ExitCode,
				"err", err,
				"stderr", stderr.String(),
			)
		}
		job.outcome = out
		close(job.done)
	}()

	return job
}

// chunkWriter forwards every write as its own chunk. exec copies the pipe with
// a fixed buffer, so chunks follow the converter's own flushes.
type chunkWriter struct {
	ch chan<- []byte
	mu sync.Mutex
	n  int64
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w.ch <- chunk
	w.mu.Lock()
	w.n += int64(len(p))
	w.mu.Unlock()
	return len(p), nil
}

func (w *chunkWriter) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// limitedBuffer keeps the first max bytes and drops the rest.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
