package outcome

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"adoptnotify/internal/types"
)

// Metrics receives per-type cycle counters.
type Metrics interface {
	RecordCycle(ctx context.Context, notificationType string, testMode bool, stats TypeStats, elapsed time.Duration)
	RecordUpstreamFailure(ctx context.Context, notificationType string)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordCycle(context.Context, string, bool, TypeStats, time.Duration) {}
func (NoopMetrics) RecordUpstreamFailure(context.Context, string)                      {}
func (NoopMetrics) RecordFeedbackAlert(context.Context, string)                        {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes pipeline counters to CloudWatch. Publishing
// failures are logged and never fail the cycle.
//
// Metrics emitted per processed type, all with dimensions
// {NotificationType, Mode}:
//   - AdoptionEventsIngested, AdoptionEventsMalformed
//   - AdoptionEventsMatured, AdoptionEventsSuppressed
//   - OutcomeNotificationSent, OutcomeNotificationFailed, OutcomeNotificationSkipped
//   - PollCycleDuration (milliseconds)
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a publisher for namespace. An empty namespace
// falls back to types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordCycle emits one batch of datums for a processed type.
func (m *CloudWatchMetrics) RecordCycle(ctx context.Context, notificationType string, testMode bool, stats TypeStats, elapsed time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimNotificationType), Value: aws.String(notificationType)},
		{Name: aws.String(types.DimMode), Value: aws.String(string(modeOf(testMode)))},
	}
	count := func(name string, v int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(v)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			count(types.MetricEventsIngested, stats.Ingested),
			count(types.MetricEventsMalformed, stats.Malformed),
			count(types.MetricEventsMatured, stats.Matured),
			count(types.MetricEventsSuppressed, stats.Suppressed),
			count(types.MetricNotificationSent, stats.Dispatch.Sent),
			count(types.MetricNotificationFailed, stats.Dispatch.Failed),
			count(types.MetricNotificationSkipped, stats.Dispatch.Skipped),
			{
				MetricName: aws.String(types.MetricCycleDuration),
				Value:      aws.Float64(float64(elapsed.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record cycle metrics",
			"error", err.Error(),
			"notification_type", notificationType,
		)
	}
}

// RecordUpstreamFailure counts an ASM fetch failure.
func (m *CloudWatchMetrics) RecordUpstreamFailure(ctx context.Context, notificationType string) {
	m.put(ctx, types.MetricUpstreamFailure, types.DimNotificationType, notificationType)
}

// RecordFeedbackAlert counts an operator alert raised from provider feedback.
func (m *CloudWatchMetrics) RecordFeedbackAlert(ctx context.Context, eventType string) {
	m.put(ctx, types.MetricEmailFeedbackAlert, types.DimEventType, eventType)
}

func (m *CloudWatchMetrics) put(ctx context.Context, metric, dim, value string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metric),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(dim), Value: aws.String(value)},
				},
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record metric",
			"error", err.Error(),
			"metric", metric,
		)
	}
}

func modeOf(testMode bool) types.NotificationMode {
	if testMode {
		return types.ModeTesting
	}
	return types.ModeProduction
}
