package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"adoptnotify/internal/types"
)

const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey  string
	BaseURL string // defaults to sendGridAPIBase
	Logger  *slog.Logger
}

// SendGridClient implements EmailProvider against the v3 Mail Send API.
type SendGridClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// MailSendRetryPolicy retries a mail send only when SendGrid rejected it with
// 429. Any other failure is returned after the first POST so a message the
// provider may already have accepted is never posted twice.
func MailSendRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		MinWait:       500 * time.Millisecond,
		MaxWait:       5 * time.Second,
		RateLimitOnly: true,
	}
}

// NewSendGridClient creates a SendGridClient with its own BaseClient.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig, opts ...BaseClientOption) *SendGridClient {
	base := NewBaseClient(httpClient, "sendgrid", MailSendRetryPolicy(), "AdoptNotify/1.0", opts...)
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient on a caller-supplied
// BaseClient.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Send posts input to /v3/mail/send and returns the X-Message-Id header of
// the 202 response.
//
// Error mapping:
//   - 403 -> types.ErrCodeEmailBlocked
//   - 429 -> retried by BaseClient, then upstream_rate_limited
//   - 5xx, transport errors -> upstream_unavailable, not retried
//   - other 4xx -> types.ErrCodeUpstreamEmailProvider
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body, err := json.Marshal(buildMailPayload(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal SendGrid mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to create SendGrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", s.errorFromResponse(resp)
}

// ---------------------------------------------------------------------------
// Payload
// ---------------------------------------------------------------------------

type sendGridMailPayload struct {
	From             sendGridAddress           `json:"from"`
	ReplyTo          *sendGridAddress          `json:"reply_to,omitempty"`
	Personalizations []sendGridPersonalization `json:"personalizations"`
	Content          []sendGridContent         `json:"content"`
	Categories       []string                  `json:"categories,omitempty"`
	MailSettings     sendGridMailSettings      `json:"mail_settings"`
	TrackingSettings sendGridTrackingSettings  `json:"tracking_settings"`
}

type sendGridPersonalization struct {
	To         []sendGridAddress `json:"to"`
	BCC        []sendGridAddress `json:"bcc,omitempty"`
	Subject    string            `json:"subject"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridToggle struct {
	Enabled bool `json:"enabled"`
}

type sendGridEnable struct {
	Enable bool `json:"enable"`
}

type sendGridClickTracking struct {
	Enable     bool `json:"enable"`
	EnableText bool `json:"enable_text"`
}

type sendGridMailSettings struct {
	BypassListManagement sendGridToggle `json:"bypass_list_management"`
}

type sendGridTrackingSettings struct {
	ClickTracking        sendGridClickTracking `json:"click_tracking"`
	OpenTracking         sendGridEnable        `json:"open_tracking"`
	SubscriptionTracking sendGridEnable        `json:"subscription_tracking"`
}

// buildMailPayload maps a SendInput to the v3 payload. Plain text precedes
// HTML as the API requires. Tracking is always off for these messages.
func buildMailPayload(input types.SendInput) sendGridMailPayload {
	p := sendGridPersonalization{
		To:         []sendGridAddress{{Email: input.To}},
		Subject:    input.Subject,
		CustomArgs: input.CustomArgs,
	}
	if input.BCC != "" && !strings.EqualFold(input.BCC, input.To) {
		p.BCC = []sendGridAddress{{Email: input.BCC}}
	}
	if input.ReferenceID != "" {
		args := make(map[string]string, len(p.CustomArgs)+1)
		for k, v := range p.CustomArgs {
			args[k] = v
		}
		args["reference_id"] = input.ReferenceID
		p.CustomArgs = args
	}

	payload := sendGridMailPayload{
		From:             sendGridAddress{Email: input.From.Address, Name: input.From.Name},
		Personalizations: []sendGridPersonalization{p},
		Categories:       input.Categories,
		MailSettings: sendGridMailSettings{
			BypassListManagement: sendGridToggle{Enabled: input.BypassListManagement},
		},
	}
	if input.ReplyTo.Address != "" {
		payload.ReplyTo = &sendGridAddress{Email: input.ReplyTo.Address, Name: input.ReplyTo.Name}
	}
	if input.BodyText != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/plain", Value: input.BodyText})
	}
	if input.BodyHTML != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/html", Value: input.BodyHTML})
	}
	return payload
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (s *SendGridClient) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(body))
	var sgErr sendGridErrorResponse
	if json.Unmarshal(body, &sgErr) == nil && len(sgErr.Errors) > 0 {
		msg = sgErr.Errors[0].Message
	}

	code := types.ErrCodeUpstreamEmailProvider
	if resp.StatusCode == http.StatusForbidden {
		code = types.ErrCodeEmailBlocked
	}
	s.logger.Warn("sendgrid rejected message", "status", resp.StatusCode, "error", msg)
	return types.NewAppErrorWithDetails(code,
		fmt.Sprintf("%d: %s", resp.StatusCode, msg), nil,
		map[string]any{"status": resp.StatusCode})
}

var _ EmailProvider = (*SendGridClient)(nil)
