package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/formation-desk/api/internal/di"
	"github.com/formation-desk/api/internal/handlers"
	"github.com/formation-desk/api/internal/platform/config"
	"github.com/formation-desk/api/internal/platform/idempotency"
	"github.com/formation-desk/api/internal/platform/observability"
	"github.com/formation-desk/api/internal/platform/requestctx"
	"github.com/formation-desk/api/internal/platform/secrets"
	"github.com/formation-desk/api/internal/services"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	if err := run(logger.Named("api")); err != nil {
		logger.Error("formation api exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(logger *zap.Logger) error {
	startedAt := time.Now().UTC()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = requestctx.WithLogger(ctx, logger)

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Error("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		return fmt.Errorf("load config: %w", err)
	}

	build := buildInfoFromEnv(env, cfg, startedAt)
	container, err := di.NewContainer(ctx, cfg, di.WithLogger(logger), di.WithBuildInfo(build))
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	container.StartCleanup(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newHTTPHandler(cfg, container, build, logger.Named("http")),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("formation checkout api listening",
			zap.String("addr", server.Addr),
			zap.String("sessionStore", cfg.Sessions.Store),
			zap.String("version", build.Version),
		)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if cerr := container.Close(closeCtx); cerr != nil {
				logger.Warn("close dependencies", zap.Error(cerr))
			}
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("graceful shutdown: %w", err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close dependencies: %w", err))
	}
	return errors.Join(errs...)
}

// newHTTPHandler assembles middleware, probes and the wizard routes.
func newHTTPHandler(cfg config.Config, container *di.Container, build services.BuildInfo, logger *zap.Logger) http.Handler {
	metrics := observability.NewHTTPMetrics("formation")

	submitGuard := idempotency.Middleware(
		container.Infra.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	checkout := handlers.NewCheckoutSessionHandlers(
		container.Services.Checkout,
		container.Catalog.Currency(),
		handlers.WithSessionCreateRateLimit(cfg.RateLimits.SessionCreatePerMinute, cfg.RateLimits.SessionCreateBurst, nil),
		handlers.WithIdempotencyHeader(cfg.Idempotency.Header),
		handlers.WithSubmitMiddleware(submitGuard),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			metrics.Middleware,
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthSystemService(container.Services.System),
		)),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(container.Catalog).Routes),
		handlers.WithCheckoutRoutes(checkout.Routes),
	)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	pick := func(value, fallback string) string {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     pick(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   pick(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: pick(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
}

// newSecretFetcher resolves secret:// references in config. Local runs without
// a project read only the fallback file.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	first := func(keys ...string) string {
		for _, key := range keys {
			if v := strings.TrimSpace(env[key]); v != "" {
				return v
			}
		}
		return ""
	}

	project := first("API_SECRET_PROJECT_ID", "API_FIRESTORE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT")
	fallback := first("API_SECRET_FALLBACK_FILE")
	if fallback == "" {
		fallback = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallback),
	}
	switch {
	case project != "":
		opts = append(opts, secrets.WithProject(project))
	case strings.EqualFold(first("API_SECURITY_ENVIRONMENT"), "local"):
		opts = append(opts, secrets.WithoutSecretManager())
	}
	if creds := first("API_SECRET_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
