// Package workspace owns the per-job transient directories.
//
// Every job gets its own directory created with os.MkdirTemp, so uniqueness
// comes from the operating system rather than from this package. The session
// cookie is written inside that directory and the whole tree is removed when
// the job ends. The converter output is allocated by an ArtifactStore and is
// not part of the workspace.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/ebookpdf/internal/metrics"
	"github.com/osvaldoandrade/ebookpdf/internal/providers"
	"github.com/osvaldoandrade/ebookpdf/pkg/domain"
)

const (
	DefaultPrefix  = "sapebook2pdf-tmp-"
	cookieFileName = "cookies.txt"
)

type Manager struct {
	root      string
	prefix    string
	artifacts providers.ArtifactStore
	logger    *slog.Logger

	// live holds the root paths created by this manager and not yet retired.
	live sync.Map
}

// NewManager creates workspaces under root (os.TempDir() when empty).
func NewManager(root, prefix string, artifacts providers.ArtifactStore, logger *slog.Logger) *Manager {
	if strings.TrimSpace(root) == "" {
		root = os.TempDir()
	}
	// The cookie path is handed to a converter whose working directory is
	// the workspace itself.
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: root, prefix: prefix, artifacts: artifacts, logger: logger}
}

func (m *Manager) Root() string { return m.root }

func (m *Manager) Create() (*domain.Workspace, error) {
	dir, err := os.MkdirTemp(m.root, m.prefix)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	art, err := m.artifacts.Allocate()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("allocate artifact: %w", err)
	}
	m.live.Store(dir, struct{}{})
	metrics.WorkspacesActive.Inc()
	return &domain.Workspace{
		ID:             strings.TrimPrefix(filepath.Base(dir), m.prefix),
		RootPath:       dir,
		CookieFilePath: filepath.Join(dir, cookieFileName),
		OutputPath:     art.FilePath,
		PublicPath:     art.PublicPath,
	}, nil
}

func (m *Manager) WriteCookie(ws *domain.Workspace, data []byte) error {
	if err := os.WriteFile(ws.CookieFilePath, data, 0o600); err != nil {
		return fmt.Errorf("write cookie: %w", err)
	}
	return nil
}

// Destroy removes the workspace tree. Calling it twice is harmless. A
// workspace whose directory already disappeared is still retired.
func (m *Manager) Destroy(ws *domain.Workspace) error {
	if ws == nil || ws.RootPath == "" {
		return nil
	}
	if _, err := os.Lstat(ws.RootPath); os.IsNotExist(err) {
		m.retire(ws.RootPath)
		return nil
	}
	if err := os.RemoveAll(ws.RootPath); err != nil {
		metrics.WorkspaceCleanupTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("remove workspace: %w", err)
	}
	if m.retire(ws.RootPath) {
		metrics.WorkspaceCleanupTotal.WithLabelValues("ok").Inc()
	}
	return nil
}

// retire drops the active gauge once per workspace created by Create.
func (m *Manager) retire(root string) bool {
	if _, ok := m.live.LoadAndDelete(root); !ok {
		return false
	}
	metrics.WorkspacesActive.Dec()
	return true
}

// With creates a workspace, runs fn and destroys the workspace on every
// exit path of fn, panics included.
func (m *Manager) With(fn func(ws *domain.Workspace) error) (err error) {
	ws, err := m.Create()
	if err != nil {
		return err
	}
	defer func() {
		if derr := m.Destroy(ws); derr != nil {
			m.logger.Warn("workspace cleanup failed", "workspace", ws.ID, "err", derr)
			if err == nil {
				err = derr
			}
		}
	}()
	return fn(ws)
}

// Sweep removes workspaces older than maxAge. They only exist when a previous
// process died before its jobs finished.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), m.prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			m.logger.Warn("stale workspace removal failed", "dir", e.Name(), "err", err)
			metrics.WorkspaceCleanupTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.WorkspaceCleanupTotal.WithLabelValues("swept").Inc()
		removed++
	}
	return removed, nil
}
