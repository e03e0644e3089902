// Package main is the entrypoint for the Outcome Poller Lambda function.
//
// The poller has two triggers:
//   - An EventBridge schedule (every 10 minutes) that runs a full cycle over
//     every enabled notification type and records it in job_history.
//   - The poll-requests SQS queue, fed by the admin API's run-now endpoint.
//     Each message runs one type (or all types when none is named).
//
// All business logic lives in internal/outcome; this file wires dependencies
// on cold start and routes invocations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"adoptnotify/internal/config"
	"adoptnotify/internal/db"
	"adoptnotify/internal/external"
	"adoptnotify/internal/notifications/email"
	"adoptnotify/internal/outcome"
	"adoptnotify/internal/queue"
	"adoptnotify/internal/types"
)

// jobType is the job_history label for scheduled cycles.
const jobType = "outcome_poll"

// CycleRunner is the subset of *outcome.Pipeline the handler calls.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*outcome.CycleResult, error)
	RunType(ctx context.Context, notificationType string) (*outcome.CycleResult, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies for the poller Lambda handler function.
type Handler struct {
	Pipeline   CycleRunner
	JobHistory JobHistorian
	Logger     *slog.Logger
}

// sqsEnvelope is used to tell SQS batches apart from schedule events.
type sqsEnvelope struct {
	Records []json.RawMessage `json:"Records"`
}

// Handle routes a raw invocation payload. SQS batches return an
// SQSEventResponse with partial batch failures; anything else is treated
// as a scheduled tick.
func (h *Handler) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	var env sqsEnvelope
	if err := json.Unmarshal(payload, &env); err == nil && len(env.Records) > 0 {
		var sqsEvent events.SQSEvent
		if err := json.Unmarshal(payload, &sqsEvent); err != nil {
			return nil, fmt.Errorf("decoding SQS event: %w", err)
		}
		return h.HandleSQS(ctx, sqsEvent), nil
	}
	return h.HandleSchedule(ctx)
}

// HandleSchedule runs a full cycle and records it in job history.
func (h *Handler) HandleSchedule(ctx context.Context) (string, error) {
	logger := h.logger()

	jobID, err := h.JobHistory.Start(ctx, jobType)
	if err != nil {
		// Non-fatal: the cycle still runs without a history row.
		logger.ErrorContext(ctx, "failed to start job history", "error", err)
		jobID = 0
	}

	result, runErr := h.Pipeline.RunCycle(ctx)

	sent := 0
	status := "success"
	var jobErr error
	switch {
	case runErr != nil:
		status = "failed"
		jobErr = runErr
	case result.Failed() > 0:
		status = "failed"
		jobErr = fmt.Errorf("%d notification type(s) failed", result.Failed())
	}
	if result != nil {
		sent = sentCount(result)
	}

	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, sent, jobErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"error", finishErr,
			)
		}
	}

	if runErr != nil {
		logger.ErrorContext(ctx, "poll cycle failed", "error", runErr)
		return "", fmt.Errorf("poll cycle failed: %w", runErr)
	}

	summary := fmt.Sprintf("poll cycle complete: %d types, %d sent, %d failed types",
		len(result.Types), sent, result.Failed())
	logger.InfoContext(ctx, summary,
		"types", len(result.Types),
		"sent", sent,
		"failed_types", result.Failed(),
	)
	return summary, nil
}

// HandleSQS runs one cycle per poll request. Malformed bodies are logged and
// dropped since retrying them cannot succeed. Requests for unknown or
// disabled types are dropped too. Any other failure is reported as a batch
// item failure so SQS redelivers it.
func (h *Handler) HandleSQS(ctx context.Context, sqsEvent events.SQSEvent) events.SQSEventResponse {
	logger := h.logger()
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		log := logger.With("message_id", record.MessageId)

		req, err := queue.DecodePollRequest(record.Body)
		if err != nil {
			log.WarnContext(ctx, "dropping malformed poll request", "error", err)
			continue
		}
		log = log.With("request_id", req.RequestID, "notification_type", req.NotificationType, "reason", req.Reason)

		var result *outcome.CycleResult
		if req.NotificationType == "" {
			result, err = h.Pipeline.RunCycle(ctx)
		} else {
			result, err = h.Pipeline.RunType(ctx, req.NotificationType)
		}

		if err != nil {
			if types.HasCode(err, types.ErrCodeNotFoundNotificationType) {
				log.WarnContext(ctx, "dropping poll request for unknown or disabled type", "error", err)
				continue
			}
			log.ErrorContext(ctx, "requested poll failed", "error", err)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
			continue
		}

		log.InfoContext(ctx, "requested poll complete",
			"types", len(result.Types),
			"sent", sentCount(result),
			"failed_types", result.Failed(),
		)
	}

	return response
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func sentCount(result *outcome.CycleResult) int {
	n := 0
	for _, t := range result.Types {
		n += t.Stats.Dispatch.Sent
	}
	return n
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Outcome Poller Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	handler, err := newHandler(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize poller", "error", err)
		os.Exit(1)
	}

	lambda.Start(handler.Handle)
}

// newHandler builds the production dependency graph.
func newHandler(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Handler, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	reg, err := external.NewClientRegistry(cfg, awsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building client registry: %w", err)
	}

	renderer, err := email.NewRenderer(email.RendererConfig{SiteBaseURL: cfg.Server.SiteBaseURL})
	if err != nil {
		return nil, fmt.Errorf("loading email templates: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Upstream.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading upstream timezone %q: %w", cfg.Upstream.Timezone, err)
	}

	var metrics outcome.Metrics = outcome.NoopMetrics{}
	if cfg.AWS.EnableMetrics {
		metrics = outcome.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricNamespace, logger)
	}

	ledger := db.NewLedgerRepository(pool)
	dispatcher := outcome.NewDispatcher(outcome.DispatcherConfig{
		Ledger:        ledger,
		Renderer:      renderer,
		Sender:        reg.Email,
		From:          types.SenderIdentity{Address: cfg.Email.FromAddress, Name: cfg.Email.FromName},
		ReplyTo:       types.SenderIdentity{Address: cfg.Email.ReplyToAddress, Name: cfg.Email.ReplyToName},
		BCC:           cfg.Email.BCC,
		TestRecipient: cfg.Notify.TestRecipient,
		PhotoURL:      reg.ASM.AnimalImageURL,
		Logger:        logger,
	})

	workerID := uuid.New().String()
	pipeline := outcome.NewPipeline(outcome.PipelineConfig{
		Events:            db.NewEventRepository(pool),
		Cursor:            db.NewCursorRepository(pool),
		Suppressions:      db.NewSuppressionRepository(pool),
		Applicants:        db.NewApplicationRepository(pool),
		Configs:           db.NewNotificationConfigRepository(pool),
		Upstream:          reg.ASM,
		Notifier:          dispatcher,
		Metrics:           metrics,
		Clock:             types.RealClock{},
		Lock:              db.NewJobLockRepository(pool),
		WorkerID:          workerID,
		LockTTL:           cfg.Notify.LockTTL,
		Mode:              cfg.Notify.Mode,
		TestTriggerValue:  cfg.Notify.TestTriggerValue,
		DefaultDelayHours: cfg.Notify.DefaultDelayHours,
		ProductionLimit:   cfg.Notify.ProductionLimit,
		TestLimit:         cfg.Notify.TestLimit,
		Location:          loc,
		Logger:            logger,
	})

	logger.Info("Outcome Poller Lambda initialized",
		"worker_id", workerID,
		"mode", cfg.Notify.Mode,
		"email_provider", cfg.Email.Provider,
		"metrics_enabled", cfg.AWS.EnableMetrics,
		"timezone", cfg.Upstream.Timezone,
	)

	return &Handler{
		Pipeline:   pipeline,
		JobHistory: db.NewJobHistoryRepository(pool),
		Logger:     logger,
	}, nil
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
