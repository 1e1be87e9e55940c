package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osvaldoandrade/ebookpdf/internal/tracing"
	_ "github.com/osvaldoandrade/ebookpdf/pkg/auth/jwks"   // Register JWKS auth provider
	_ "github.com/osvaldoandrade/ebookpdf/pkg/auth/static" // Register static token auth provider
	"github.com/osvaldoandrade/ebookpdf/pkg/config"

	"github.com/osvaldoandrade/ebookpdf/pkg/app"

	_ "go.uber.org/automaxprocs"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cfgPath := getenv("EBOOKPDF_CONFIG_PATH", "")

	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid config:", err)
		os.Exit(1)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] init app:", err)
		os.Exit(1)
	}
	defer application.Close()

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, application.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] tracing:", err)
		os.Exit(1)
	}
	application.TracingShutdown = shutdownTracing

	app.SetupMappings(application)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go application.Janitor.Start(bgCtx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		application.Logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "[ERROR] http server:", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stopBackground()

	// Conversions stream until the converter exits; running jobs get the
	// job timeout (or a minute) to drain.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace(cfg))
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		application.Logger.Warn("shutdown incomplete, workspaces are swept on next start", "err", err)
	}

	if application.TracingShutdown != nil {
		_ = application.TracingShutdown(ctx)
	}
}

func shutdownGrace(cfg *config.Config) time.Duration {
	if cfg.JobTimeoutSeconds > 0 {
		return time.Duration(cfg.JobTimeoutSeconds)*time.Second + 5*time.Second
	}
	return 60 * time.Second
}
