// Package main is the entrypoint for the Digest Worker Lambda function.
//
// An EventBridge schedule (Sunday 17:00 UTC) invokes the worker, which runs
// one weekly digest and publishes run metrics to CloudWatch. Invocation is
// IAM-authorized, so the trigger secret does not apply here.
//
// Handler flow:
//  1. Log the scheduled event.
//  2. Run the digest through the shared pipeline.
//  3. Treat a run already in progress elsewhere as a skip, not a failure.
//  4. Return run errors to the runtime. They all occur before the first
//     send, so an async retry cannot deliver the same digest twice.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"eventdigest/internal/app"
	"eventdigest/internal/config"
	"eventdigest/internal/telemetry"
	"eventdigest/internal/types"
)

// DigestRunner is the subset of the dispatcher the handler calls.
type DigestRunner interface {
	Run(ctx context.Context) (types.DigestResult, error)
}

// Result is returned to the Lambda runtime and shows up in the invocation log.
type Result struct {
	Status string `json:"status"`
	Sent   int    `json:"sent"`
	Total  int    `json:"total"`
}

// Run outcomes reported in Result.Status.
const (
	statusSent    = "sent"
	statusSkipped = "skipped"
)

// Handler runs one digest per scheduled invocation.
type Handler struct {
	Runner   DigestRunner
	WorkerID string
	Logger   *slog.Logger
}

// Handle is the Lambda entry point.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (Result, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.InfoContext(ctx, "digest worker invoked",
		"event_id", event.ID,
		"source", event.Source,
		"scheduled_at", event.Time,
		"worker_id", h.WorkerID,
	)

	result, err := h.Runner.Run(ctx)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeConflictRunInProgress {
			logger.InfoContext(ctx, "digest run held by another worker, skipping")
			return Result{Status: statusSkipped}, nil
		}
		logger.ErrorContext(ctx, "digest run failed", "error", err)
		return Result{}, fmt.Errorf("digest run: %w", err)
	}

	logger.InfoContext(ctx, "digest run complete",
		"sent", result.Sent,
		"total", result.Total,
		"failed", result.Failed(),
	)
	return Result{Status: statusSent, Sent: result.Sent, Total: result.Total}, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run performs cold-start initialization and hands control to the runtime.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := newLogger(cfg.LogLevel)
	logger.Info("digest worker initializing (cold start)",
		"version", cfg.Build.Version,
		"environment", cfg.Environment,
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}
	recorder := telemetry.NewCloudWatchRecorder(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		logger,
	)

	workerID := "lambda-" + uuid.NewString()[:8]
	pipeline, err := app.New(cfg, logger, app.Options{
		Recorder: recorder,
		WorkerID: workerID,
	})
	if err != nil {
		return err
	}
	if pipeline.Redis == nil && cfg.Environment == "prod" {
		logger.Warn("REDIS_URL not set; overlapping invocations are not guarded")
	}

	handler := &Handler{
		Runner:   pipeline.Dispatcher,
		WorkerID: workerID,
		Logger:   logger,
	}
	lambda.Start(handler.Handle)
	return errors.New("lambda runtime exited")
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
