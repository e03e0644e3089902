package types

// Telemetry metric names for CloudWatch.
const (
	MetricEventsIngested      = "AdoptionEventsIngested"
	MetricEventsMalformed     = "AdoptionEventsMalformed"
	MetricEventsMatured       = "AdoptionEventsMatured"
	MetricEventsSuppressed    = "AdoptionEventsSuppressed"
	MetricNotificationSent    = "OutcomeNotificationSent"
	MetricNotificationFailed  = "OutcomeNotificationFailed"
	MetricNotificationSkipped = "OutcomeNotificationSkipped"
	MetricUpstreamFailure     = "UpstreamFailure"
	MetricCycleDuration       = "PollCycleDuration"
	MetricEmailFeedbackAlert  = "EmailFeedbackAlert"

	// Dimension Keys
	DimNotificationType = "NotificationType"
	DimMode             = "Mode"
	DimKind             = "Kind"
	DimEventType        = "EventType"

	// Metric Namespace default
	MetricNamespace = "AdoptionNotifier"
)
