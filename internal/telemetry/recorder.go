// Package telemetry reports digest run outcomes to a metrics backend.
package telemetry

import (
	"context"
	"time"

	"eventdigest/internal/types"
)

// Metric and dimension names shared by every backend.
const (
	MetricRunCount    = "DigestRun"
	MetricRecipients  = "DigestRecipients"
	MetricSent        = "DigestSent"
	MetricFailed      = "DigestFailed"
	MetricRunDuration = "DigestRunDuration"
	MetricSendAttempt = "DigestSendAttempt"
	MetricSendLatency = "DigestSendLatency"
	DimOutcome        = "Outcome"
	DimResult         = "Result"
	DefaultNamespace  = "EventDigest"
	ResultSuccess     = "success"
	ResultFailure     = "failure"
)

// RunStatus classifies how a digest run ended.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunEmpty     RunStatus = "empty"
	RunFailed    RunStatus = "failed"
	RunConflict  RunStatus = "conflict"
)

// RunOutcome summarizes one digest run.
type RunOutcome struct {
	Status    RunStatus
	Result    types.DigestResult
	Duration  time.Duration
	ErrorCode types.ErrorCode
}

// Recorder receives digest metrics. Implementations must not fail the run;
// backend errors are logged and dropped.
type Recorder interface {
	RecordRun(ctx context.Context, outcome RunOutcome)
	RecordSend(ctx context.Context, ok bool, latency time.Duration)
}

// NoopRecorder discards every metric.
type NoopRecorder struct{}

func (NoopRecorder) RecordRun(context.Context, RunOutcome) {}
func (NoopRecorder) RecordSend(context.Context, bool, time.Duration) {}

var _ Recorder = NoopRecorder{}

func sendResult(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
