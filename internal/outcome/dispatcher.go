package outcome

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"adoptnotify/internal/notifications/email"
	"adoptnotify/internal/types"
)

// TestSubjectPrefix marks every email sent in test mode.
const TestSubjectPrefix = "[TEST] "

// Ledger reserves and completes notification rows. HasHandled is the
// look-before-send check; Reserve returns false when another run claimed the
// tuple in between.
type Ledger interface {
	HasHandled(ctx context.Context, animalID, applicantEmail string, kind types.NotificationKind, testMode bool) (bool, error)
	Reserve(ctx context.Context, entry *types.LedgerEntry) (bool, error)
	Complete(ctx context.Context, id int64, status types.DeliveryStatus, providerMessageID string, sendErr error) error
}

// Renderer produces outcome email content.
type Renderer interface {
	RenderOutcome(kind types.NotificationKind, in email.OutcomeInput) (*email.RenderedEmail, error)
}

// Scope is the notification type and mode a dispatch runs under.
type Scope struct {
	NotificationType string
	TestMode         bool
}

// DispatchStats counts per-recipient results.
type DispatchStats struct {
	Sent    int
	Failed  int
	Skipped int
	// Errors counts ledger failures; nothing was sent for them.
	Errors int
}

func (s *DispatchStats) add(o DispatchStats) {
	s.Sent += o.Sent
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Errors += o.Errors
}

// DispatcherConfig holds the dependencies of a Dispatcher.
type DispatcherConfig struct {
	Ledger   Ledger
	Renderer Renderer
	Sender   email.Sender

	From          types.SenderIdentity
	ReplyTo       types.SenderIdentity
	BCC           string
	TestRecipient string

	// PhotoURL builds the animal image link for congrats emails. Optional.
	PhotoURL func(animalID string) string

	Logger *slog.Logger
}

// Dispatcher sends outcome emails at most once per
// (animal, applicant, kind, mode).
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, logger: logger}
}

// NotifyWinner sends the congrats email to the successful applicant.
func (d *Dispatcher) NotifyWinner(ctx context.Context, scope Scope, event *types.AdoptionEvent, applicant string) DispatchStats {
	return d.notify(ctx, scope, event, types.KindCongrats, applicant)
}

// NotifyLosers sends the sorry email to each unsuccessful applicant. One
// failing recipient does not stop the others.
func (d *Dispatcher) NotifyLosers(ctx context.Context, scope Scope, event *types.AdoptionEvent, applicants []string) DispatchStats {
	var total DispatchStats
	for _, a := range applicants {
		total.add(d.notify(ctx, scope, event, types.KindSorry, a))
	}
	return total
}

func (d *Dispatcher) notify(ctx context.Context, scope Scope, event *types.AdoptionEvent, kind types.NotificationKind, applicant string) DispatchStats {
	log := d.logger.With(
		"notification_type", scope.NotificationType,
		"animal_id", event.AnimalID,
		"kind", string(kind),
		"test_mode", scope.TestMode,
	)

	applicant = NormalizeEmail(applicant)
	if applicant == "" {
		log.WarnContext(ctx, "skipping applicant without email")
		return DispatchStats{Skipped: 1}
	}
	log = log.With("applicant", email.RedactEmail(applicant))

	entry := &types.LedgerEntry{
		AnimalID:       event.AnimalID,
		ApplicantEmail: applicant,
		Kind:           kind,
		TestMode:       scope.TestMode,
	}
	recipient := applicant
	if scope.TestMode {
		recipient = d.cfg.TestRecipient
		entry.OriginalRecipient = applicant
	}

	handled, err := d.cfg.Ledger.HasHandled(ctx, event.AnimalID, applicant, kind, scope.TestMode)
	if err != nil {
		log.ErrorContext(ctx, "failed to check notification ledger", "error", err)
		return DispatchStats{Errors: 1}
	}
	if handled {
		log.DebugContext(ctx, "notification already handled")
		return DispatchStats{Skipped: 1}
	}

	reserved, err := d.cfg.Ledger.Reserve(ctx, entry)
	if err != nil {
		log.ErrorContext(ctx, "failed to reserve notification", "error", err)
		return DispatchStats{Errors: 1}
	}
	if !reserved {
		log.InfoContext(ctx, "notification already handled")
		return DispatchStats{Skipped: 1}
	}

	msgID, sendErr := d.send(ctx, scope, event, kind, recipient, entry)

	status := types.StatusSent
	if sendErr != nil {
		status = types.StatusFailed
		log.ErrorContext(ctx, "failed to send outcome email",
			"recipient", email.RedactEmail(recipient),
			"error", sendErr,
		)
	} else {
		log.InfoContext(ctx, "outcome email sent",
			"recipient", email.RedactEmail(recipient),
			"provider_message_id", msgID,
		)
	}

	if err := d.cfg.Ledger.Complete(ctx, entry.ID, status, msgID, ledgerError(sendErr)); err != nil {
		log.ErrorContext(ctx, "failed to complete notification",
			"ledger_id", entry.ID,
			"error", err,
		)
	}

	if sendErr != nil {
		return DispatchStats{Failed: 1}
	}
	return DispatchStats{Sent: 1}
}

func (d *Dispatcher) send(ctx context.Context, scope Scope, event *types.AdoptionEvent, kind types.NotificationKind, recipient string, entry *types.LedgerEntry) (string, error) {
	in := email.OutcomeInput{
		AnimalID:          event.AnimalID,
		AnimalName:        event.AnimalName,
		Species:           event.Species,
		AdoptionDate:      event.AdoptionDate,
		TestMode:          scope.TestMode,
		OriginalRecipient: entry.OriginalRecipient,
	}
	if kind == types.KindCongrats && d.cfg.PhotoURL != nil && hasField(event.Raw, "WEBSITEIMAGENAME") {
		in.PhotoURL = d.cfg.PhotoURL(event.AnimalID)
	}

	rendered, err := d.cfg.Renderer.RenderOutcome(kind, in)
	if err != nil {
		return "", err
	}

	subject := rendered.Subject
	categories := []string{"adoption_" + string(kind)}
	if scope.TestMode {
		subject = TestSubjectPrefix + subject
		categories = append([]string{"test"}, categories...)
	}

	return d.cfg.Sender.Send(ctx, types.SendInput{
		To:         recipient,
		From:       d.cfg.From,
		ReplyTo:    d.cfg.ReplyTo,
		BCC:        d.cfg.BCC,
		Subject:    subject,
		BodyHTML:   rendered.BodyHTML,
		BodyText:   rendered.BodyText,
		Categories: categories,
		CustomArgs: map[string]string{
			"notification_type": scope.NotificationType,
			"test_mode":         strconv.FormatBool(scope.TestMode),
		},
		BypassListManagement: true,
		ReferenceID:          strconv.FormatInt(entry.ID, 10),
	})
}

// ledgerError strips the error code from provider errors so the ledger keeps
// the provider's "<status>: <body>" text.
func ledgerError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return errors.New(appErr.Message)
	}
	return err
}
