package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"adoptnotify/internal/types"
)

// SendGrid event types that raise an operator alert.
const (
	EventBounce     = "bounce"
	EventDropped    = "dropped"
	EventSpamReport = "spam_report"
)

const unknownValue = "Unknown"

// FeedbackEvent is one entry of a SendGrid Event Webhook batch.
type FeedbackEvent struct {
	Email       string `json:"email"`
	Event       string `json:"event"`
	Reason      string `json:"reason,omitempty"`
	Status      string `json:"status,omitempty"`
	Type        string `json:"type,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	SGMessageID string `json:"sg_message_id,omitempty"`
}

// ParseFeedbackEvents decodes a webhook body. SendGrid posts a JSON array;
// a single object is accepted too.
func ParseFeedbackEvents(body []byte) ([]FeedbackEvent, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var ev FeedbackEvent
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid JSON", err)
		}
		return []FeedbackEvent{ev}, nil
	}

	var events []FeedbackEvent
	if err := json.Unmarshal([]byte(trimmed), &events); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid JSON", err)
	}
	return events, nil
}

// DeliveryEventRecorder annotates ledger rows with provider delivery events.
type DeliveryEventRecorder interface {
	RecordDeliveryEvent(ctx context.Context, providerMessageID, event string) (int64, error)
}

// Sender transmits a pre-rendered email.
type Sender interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// AlertMetrics counts alerts raised per event type.
type AlertMetrics interface {
	RecordFeedbackAlert(ctx context.Context, eventType string)
}

// FeedbackConfig configures a FeedbackProcessor.
type FeedbackConfig struct {
	AlertTo   string
	AlertFrom types.SenderIdentity
	Logger    types.Logger
	Metrics   AlertMetrics
}

// FeedbackResult summarises one processed batch.
type FeedbackResult struct {
	Received  int
	Annotated int
	Alerted   int
}

// FeedbackProcessor turns provider delivery events into ledger annotations
// and operator alerts.
type FeedbackProcessor struct {
	ledger   DeliveryEventRecorder
	sender   Sender
	renderer *Renderer
	cfg      FeedbackConfig
}

// NewFeedbackProcessor wires a processor.
func NewFeedbackProcessor(ledger DeliveryEventRecorder, sender Sender, renderer *Renderer, cfg FeedbackConfig) *FeedbackProcessor {
	return &FeedbackProcessor{ledger: ledger, sender: sender, renderer: renderer, cfg: cfg}
}

// Process handles every event in the batch. Failures on one event are
// logged and never stop the rest.
func (p *FeedbackProcessor) Process(ctx context.Context, events []FeedbackEvent) FeedbackResult {
	res := FeedbackResult{Received: len(events)}
	for _, ev := range events {
		log := p.logger().With("event", ev.Event, "sg_message_id", ev.SGMessageID)

		if ev.SGMessageID != "" && ev.Event != "" {
			n, err := p.ledger.RecordDeliveryEvent(ctx, ev.SGMessageID, ev.Event)
			if err != nil {
				log.Error("failed to annotate ledger", "error", err)
			} else if n > 0 {
				res.Annotated++
			}
		}

		alert, ok := alertFor(ev)
		if !ok {
			continue
		}
		log.Warn("email delivery problem", "recipient", RedactEmail(ev.Email), "reason", ev.Reason)

		if err := p.sendAlert(ctx, alert); err != nil {
			log.Error("failed to send admin alert", "error", err)
			continue
		}
		res.Alerted++
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordFeedbackAlert(ctx, ev.Event)
		}
	}
	return res
}

func (p *FeedbackProcessor) sendAlert(ctx context.Context, alert Alert) error {
	if p.cfg.AlertTo == "" {
		return fmt.Errorf("no admin alert address configured")
	}
	rendered, err := p.renderer.RenderAlert(alert)
	if err != nil {
		return err
	}
	_, err = p.sender.Send(ctx, types.SendInput{
		To:                   p.cfg.AlertTo,
		From:                 p.cfg.AlertFrom,
		Subject:              rendered.Subject,
		BodyHTML:             rendered.BodyHTML,
		BodyText:             rendered.BodyText,
		Categories:           []string{"admin_alert"},
		BypassListManagement: true,
	})
	return err
}

func (p *FeedbackProcessor) logger() types.Logger {
	if p.cfg.Logger != nil {
		return p.cfg.Logger
	}
	return types.NewSlogAdapter(nil)
}

// alertFor builds the operator alert for events that need one.
func alertFor(ev FeedbackEvent) (Alert, bool) {
	when := unknownValue
	if ev.Timestamp > 0 {
		when = time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339)
	}

	switch ev.Event {
	case EventBounce:
		return Alert{
			Subject: "Email Bounce Alert",
			Heading: "Email Bounce Detected",
			Fields: []AlertField{
				{"Recipient", orUnknown(ev.Email)},
				{"Reason", orUnknown(ev.Reason)},
				{"Status", orUnknown(ev.Status)},
				{"Type", orUnknown(ev.Type)},
				{"Time", when},
				{"Message ID", orUnknown(ev.SGMessageID)},
			},
		}, true
	case EventDropped:
		return Alert{
			Subject: "Email Dropped Alert",
			Heading: "Email Dropped",
			Fields: []AlertField{
				{"Recipient", orUnknown(ev.Email)},
				{"Reason", orUnknown(ev.Reason)},
				{"Time", when},
				{"Message ID", orUnknown(ev.SGMessageID)},
			},
			Note: "This may indicate a delivery issue that needs attention.",
		}, true
	case EventSpamReport:
		return Alert{
			Subject: "URGENT: Spam Report Alert",
			Heading: "Spam Report Received",
			Fields: []AlertField{
				{"Recipient", orUnknown(ev.Email)},
				{"Time", when},
				{"Message ID", orUnknown(ev.SGMessageID)},
			},
			Note: "Action Required: This may affect your sender reputation. Review the recipient's history before emailing them again.",
		}, true
	}
	return Alert{}, false
}

func orUnknown(s string) string {
	if s == "" {
		return unknownValue
	}
	return s
}
