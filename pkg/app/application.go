package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/osvaldoandrade/ebookpdf/internal/middleware"
	"github.com/osvaldoandrade/ebookpdf/internal/providers"
	"github.com/osvaldoandrade/ebookpdf/internal/ratelimit"
	"github.com/osvaldoandrade/ebookpdf/internal/runner"
	"github.com/osvaldoandrade/ebookpdf/internal/services"
	"github.com/osvaldoandrade/ebookpdf/internal/workspace"
	"github.com/osvaldoandrade/ebookpdf/pkg/auth"
	"github.com/osvaldoandrade/ebookpdf/pkg/config"
	"github.com/osvaldoandrade/ebookpdf/pkg/persistence"
	_ "github.com/osvaldoandrade/ebookpdf/pkg/persistence/memory"
	_ "github.com/osvaldoandrade/ebookpdf/pkg/persistence/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Conversions services.ConversionService
	Janitor     services.WorkspaceJanitorService
	Workspaces  *workspace.Manager
	Persistence persistence.PluginPersistence
	Logger      *slog.Logger
	Validator   auth.Validator
	Guard       *auth.Guard
	Admitter    ratelimit.Admitter

	// TracingShutdown is set by the caller that installed the tracer provider.
	TracingShutdown func(context.Context) error

	redis     *redis.Client
	logOutput io.Writer
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom bearer validator instead of the configured provider.
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithLogOutput redirects service logs, stdout by default.
func WithLogOutput(w io.Writer) ApplicationOption {
	return func(app *Application) error {
		app.logOutput = w
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg, logOutput: os.Stdout}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	logger := newLogger(cfg, app.logOutput)
	slog.SetDefault(logger)
	app.Logger = logger

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		app.redis = providers.NewRedisProvider(providers.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		app.Admitter = ratelimit.NewRedisAdmitter(app.redis)
	}

	store, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: cfg.PersistenceProvider, Config: cfg.PersistenceConfig()},
		persistence.PluginConfig{HistoryLimit: cfg.JobHistoryLimit},
	)
	if err != nil {
		return nil, fmt.Errorf("init persistence: %w", err)
	}
	app.Persistence = store

	artifacts := providers.NewLocalArtifactStore(cfg.PublicDir, cfg.ArtifactsSubdir, cfg.ArtifactTokenLength)
	if err := artifacts.Prepare(context.Background()); err != nil {
		return nil, err
	}
	app.Workspaces = workspace.NewManager(cfg.WorkspaceRoot, cfg.WorkspacePrefix, artifacts, logger)

	conv := runner.New(cfg.ConverterBin, time.Duration(cfg.JobTimeoutSeconds)*time.Second, logger)
	app.Conversions = services.NewConversionService(app.Workspaces, conv, artifacts, store.JobStorage(), logger, time.Now,
		services.WithMaxPages(cfg.MaxPages))
	app.Janitor = services.NewWorkspaceJanitorService(app.Workspaces, logger, cfg.WorkspaceSweepIntervalSeconds, cfg.WorkspaceMaxAgeSeconds, time.Now)

	if app.Validator == nil && cfg.AuthProvider != "" {
		raw, err := cfg.AuthProviderConfig()
		if err != nil {
			return nil, err
		}
		validator, err := auth.NewValidator(auth.ProviderConfig{Type: cfg.AuthProvider, Config: raw})
		if err != nil {
			return nil, err
		}
		app.Validator = validator
	}
	app.Guard = newGuard(cfg, app.Validator)

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
	)
	if len(cfg.CORSAllowedOrigins) > 0 {
		engine.Use(cors.New(corsConfig(cfg.CORSAllowedOrigins)))
	}
	app.Engine = engine

	logger.Info("application ready",
		"converter", cfg.ConverterBin,
		"public_dir", cfg.PublicDir,
		"workspace_root", app.Workspaces.Root(),
		"persistence", cfg.PersistenceProvider,
		"auth", app.Guard.HasProvider(),
		"history_public", app.Guard.Anonymous(auth.OpHistory),
	)
	return app, nil
}

// newGuard opens conversions to anonymous callers only when no provider is
// configured. History lists every caller's target URLs, so it stays closed
// to anonymous callers unless jobHistoryPublic is set.
func newGuard(cfg *config.Config, v auth.Validator) *auth.Guard {
	opts := []auth.GuardOption{
		auth.RequireScope(auth.OpConvert, cfg.AuthScopes.Convert),
		auth.RequireScope(auth.OpHistory, cfg.AuthScopes.History),
	}
	if v == nil {
		opts = append(opts, auth.AllowAnonymous(auth.OpConvert))
	}
	if cfg.JobHistoryPublic {
		opts = append(opts, auth.AllowAnonymous(auth.OpHistory))
	}
	return auth.NewGuard(v, opts...)
}

// admissionPolicy budgets conversions per client. A slot outlives the job
// timeout by a minute so only crashed servers leave slots to expire.
func admissionPolicy(cfg *config.Config) ratelimit.Policy {
	p := ratelimit.Policy{
		RequestsPerMinute: cfg.RateLimit.Create.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.Create.BurstSize,
		MaxConcurrentJobs: cfg.RateLimit.Create.MaxConcurrentJobs,
	}
	if cfg.JobTimeoutSeconds > 0 {
		p.SlotTTL = time.Duration(cfg.JobTimeoutSeconds)*time.Second + time.Minute
	}
	return p
}

// Close releases the Redis clients held by the application.
func (a *Application) Close() error {
	var first error
	if a.Persistence != nil {
		first = a.Persistence.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "ebookpdf", "env", cfg.Env)
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		ExposeHeaders: []string{"X-Job-Id", "X-Request-Id", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}
