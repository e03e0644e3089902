package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"adoptnotify/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig holds the configuration for creating an SESClient.
type SESClientConfig struct {
	ConfigSetName string
	Logger        *slog.Logger
}

// SESClient implements EmailProvider on AWS SES v2. Categories and custom
// args become message tags so the configuration set's event destination
// can attribute bounces the same way SendGrid categories do.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

// NewSESClient creates an SESClient from an AWS config. The SDK retryer is
// limited to one attempt so SendEmail is never re-issued after a timeout.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		o.RetryMaxAttempts = 1
	}), cfg)
}

// NewSESClientWithAPI creates an SESClient on the given API.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{api: api, configSetName: cfg.ConfigSetName, logger: logger}
}

// Send transmits input as a simple SES message.
//
// Error mapping:
//   - MessageRejected -> ErrCodeEmailBlocked
//   - TooManyRequestsException -> ErrCodeUpstreamRateLimited
//   - SendingPausedException -> ErrCodeUpstreamUnavailable
//   - other -> ErrCodeUpstreamEmailProvider
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(input.From)),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: utf8Content(input.Subject),
				Body:    &sestypes.Body{},
			},
		},
	}
	if input.BodyHTML != "" {
		in.Content.Simple.Body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		in.Content.Simple.Body.Text = utf8Content(input.BodyText)
	}
	if input.BCC != "" {
		in.Destination.BccAddresses = []string{input.BCC}
	}
	if input.ReplyTo.Address != "" {
		in.ReplyToAddresses = []string{formatAddress(input.ReplyTo)}
	}
	if s.configSetName != "" {
		in.ConfigurationSetName = aws.String(s.configSetName)
	}
	in.EmailTags = sesTags(input)

	out, err := s.api.SendEmail(ctx, in)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func formatAddress(id types.SenderIdentity) string {
	if id.Name == "" {
		return id.Address
	}
	return fmt.Sprintf("%s <%s>", id.Name, id.Address)
}

func utf8Content(s string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// SES tag names and values allow only [A-Za-z0-9_-].
var sesTagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

func sesTags(input types.SendInput) []sestypes.MessageTag {
	var tags []sestypes.MessageTag
	add := func(name, value string) {
		if value == "" {
			return
		}
		tags = append(tags, sestypes.MessageTag{
			Name:  aws.String(sesTagUnsafe.ReplaceAllString(name, "_")),
			Value: aws.String(sesTagUnsafe.ReplaceAllString(value, "_")),
		})
	}
	for _, c := range input.Categories {
		add("category_"+c, "true")
	}
	for k, v := range input.CustomArgs {
		add(k, v)
	}
	add("reference_id", input.ReferenceID)
	return tags
}

func mapSESError(err error) error {
	var rejected *sestypes.MessageRejected
	if errors.As(err, &rejected) {
		return types.NewAppError(types.ErrCodeEmailBlocked,
			fmt.Sprintf("SES rejected message: %v", err), err)
	}
	var throttled *sestypes.TooManyRequestsException
	if errors.As(err, &throttled) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("SES rate limit exceeded: %v", err), err)
	}
	var paused *sestypes.SendingPausedException
	if errors.As(err, &paused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("SES account sending paused: %v", err), err)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SES error: %v", err), err)
}

var _ EmailProvider = (*SESClient)(nil)
