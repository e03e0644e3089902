// Package queue provides the SQS producer that requests out-of-schedule
// poll cycles from the outcome poller.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"adoptnotify/internal/config"
	"adoptnotify/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// PollRequest asks the poller to run a cycle now. An empty NotificationType
// runs every enabled type.
type PollRequest struct {
	RequestID        string    `json:"request_id"`
	NotificationType string    `json:"notification_type,omitempty"`
	RequestedAt      time.Time `json:"requested_at"`
	Reason           string    `json:"reason,omitempty"`
}

// PollTrigger enqueues PollRequests on the poll queue.
type PollTrigger struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewPollTrigger creates a PollTrigger for the queue in awsCfg.
func NewPollTrigger(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *PollTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollTrigger{
		client:   client,
		queueURL: awsCfg.PollQueueURL,
		logger:   logger,
	}
}

// Enabled reports whether a queue is configured.
func (t *PollTrigger) Enabled() bool {
	return t != nil && t.client != nil && t.queueURL != ""
}

// RequestPoll enqueues a poll for notificationType ("" for all types) and
// returns the generated request id.
func (t *PollTrigger) RequestPoll(ctx context.Context, notificationType, reason string) (string, error) {
	if !t.Enabled() {
		return "", types.NewAppError(types.ErrCodeUpstreamQueue, "poll queue is not configured", nil)
	}

	req := PollRequest{
		RequestID:        uuid.New().String(),
		NotificationType: notificationType,
		RequestedAt:      time.Now().UTC(),
		Reason:           reason,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal PollRequest: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reasonOrDefault(reason)),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to enqueue poll request to %s", t.queueURL), err)
	}

	t.logger.InfoContext(ctx, "poll request enqueued",
		"queue_url", t.queueURL,
		"request_id", req.RequestID,
		"notification_type", notificationType,
		"reason", reason,
	)
	return req.RequestID, nil
}

// DecodePollRequest parses an SQS message body.
func DecodePollRequest(body string) (PollRequest, error) {
	var req PollRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return PollRequest{}, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid poll request", err)
	}
	return req, nil
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "manual"
	}
	return reason
}
