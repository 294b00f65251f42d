package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder publishes digest metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - DigestRun: Dims {Outcome} -- once per run
//   - DigestRecipients, DigestSent, DigestFailed: Dims {Outcome} -- once per run
//   - DigestRunDuration: Dims {Outcome} -- wall time of the run
//   - DigestSendAttempt: Dims {Result} -- on every send
//   - DigestSendLatency: no dims -- time taken by each send
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder publishing under namespace
// (DefaultNamespace when empty).
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

// RecordRun emits the per-run counters in a single PutMetricData call.
func (r *CloudWatchRecorder) RecordRun(ctx context.Context, outcome RunOutcome) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(DimOutcome), Value: aws.String(string(outcome.Status))},
	}
	datum := func(name string, value float64, unit cwtypes.StandardUnit) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Dimensions: dims,
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			datum(MetricRunCount, 1, cwtypes.StandardUnitCount),
			datum(MetricRecipients, float64(outcome.Result.Total), cwtypes.StandardUnitCount),
			datum(MetricSent, float64(outcome.Result.Sent), cwtypes.StandardUnitCount),
			datum(MetricFailed, float64(outcome.Result.Failed()), cwtypes.StandardUnitCount),
			datum(MetricRunDuration, float64(outcome.Duration.Milliseconds()), cwtypes.StandardUnitMilliseconds),
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to record run metrics",
			"error", err.Error(),
			"outcome", string(outcome.Status),
		)
	}
}

// RecordSend emits a send attempt and its latency.
func (r *CloudWatchRecorder) RecordSend(ctx context.Context, ok bool, latency time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricSendAttempt),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimResult), Value: aws.String(sendResult(ok))},
				},
			},
			{
				MetricName: aws.String(MetricSendLatency),
				Value:      aws.Float64(float64(latency.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to record send metric",
			"error", err.Error(),
			"result", sendResult(ok),
		)
	}
}

var _ Recorder = (*CloudWatchRecorder)(nil)
