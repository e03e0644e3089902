// Package main is the entry point for the adoption notifier admin API.
//
// It loads configuration, wires the database repositories, the poll trigger
// queue and the email feedback processor into the core chassis, and serves:
//   - /v1/admin/... operator endpoints (X-Admin-Key)
//   - /webhooks/sendgrid delivery events
//   - /health
//
// Locally (APP_ENV=local) it runs as a standard HTTP server on the configured
// port. Inside AWS Lambda the same router is served through a Lambda
// function URL.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambdaurl"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"adoptnotify/internal/api/handlers"
	"adoptnotify/internal/config"
	"adoptnotify/internal/core"
	"adoptnotify/internal/db"
	"adoptnotify/internal/external"
	"adoptnotify/internal/notifications/email"
	"adoptnotify/internal/outcome"
	"adoptnotify/internal/queue"
	"adoptnotify/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("adoptnotify API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"mode", cfg.Notify.Mode,
	)
	if !cfg.Security.AdminKeyHash.IsSet() {
		logger.Warn("ADMIN_KEY_HASH not set; every admin request will be rejected")
	}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	reg, err := external.NewClientRegistry(cfg, awsCfg, logger)
	if err != nil {
		return fmt.Errorf("building client registry: %w", err)
	}

	renderer, err := email.NewRenderer(email.RendererConfig{SiteBaseURL: cfg.Server.SiteBaseURL})
	if err != nil {
		return fmt.Errorf("loading email templates: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("database", pool))

	ledger := db.NewLedgerRepository(pool)

	adminHandler := handlers.NewAdminHandler(handlers.AdminDeps{
		Suppressions: db.NewSuppressionRepository(pool),
		Configs:      db.NewNotificationConfigRepository(pool),
		PollStates:   db.NewCursorRepository(pool),
		Ledger:       ledger,
		Events:       db.NewEventRepository(pool),
		Applications: db.NewApplicationRepository(pool),
		Poller:       queue.NewPollTrigger(sqs.NewFromConfig(awsCfg), cfg.AWS, logger),
		Settings: handlers.AdminSettings{
			Mode:             cfg.Notify.Mode,
			TestRecipient:    cfg.Notify.TestRecipient,
			TestTriggerValue: cfg.Notify.TestTriggerValue,
		},
		Validator: srv.Validator,
		Clock:     types.RealClock{},
		Logger:    logger.With("component", "admin"),
	})
	srv.AdminRoutes = append(srv.AdminRoutes, adminHandler.RegisterRoutes)

	processor := newFeedbackProcessor(cfg, awsCfg, ledger, reg.Email, renderer, logger)
	eventsHandler := handlers.NewEmailEventsHandler(reg.EmailVerifier, processor, logger.With("component", "email_events"))
	srv.PublicRoutes = append(srv.PublicRoutes, eventsHandler.RegisterRoutes)

	srv.MountRoutes()

	if isLambdaEnvironment() {
		logger.Info("serving via Lambda function URL")
		lambdaurl.Start(srv.Handler())
		return nil
	}

	return runHTTPServer(srv, cfg, logger)
}

// newFeedbackProcessor builds the webhook's processor. Alerts are counted in
// CloudWatch when metrics are enabled.
func newFeedbackProcessor(cfg *config.Config, awsCfg aws.Config, ledger email.DeliveryEventRecorder, sender email.Sender, renderer *email.Renderer, logger *slog.Logger) *email.FeedbackProcessor {
	var metrics email.AlertMetrics = outcome.NoopMetrics{}
	if cfg.AWS.EnableMetrics {
		metrics = outcome.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricNamespace, logger)
	}
	return email.NewFeedbackProcessor(ledger, sender, renderer, email.FeedbackConfig{
		AlertTo:   cfg.Email.AdminAlertAddress,
		AlertFrom: types.SenderIdentity{Address: cfg.Email.AlertFromAddress, Name: cfg.Email.FromName},
		Logger:    types.NewSlogAdapter(logger.With("component", "email_feedback")),
		Metrics:   metrics,
	})
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newPool opens and verifies the connection pool.
func newPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = dbCfg.MaxConns
	poolCfg.MinConns = dbCfg.MinConns
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbCfg.AcquireTimeout+3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
