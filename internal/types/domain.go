package types

import (
	"encoding/json"
	"time"
)

// NotificationKind identifies which outcome message an applicant receives.
type NotificationKind string

const (
	KindCongrats NotificationKind = "congrats"
	KindSorry    NotificationKind = "sorry"
)

// DeliveryStatus is the ledger status of one notification attempt.
// A row is created as pending when the tuple is reserved and moves exactly
// once to sent or failed.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// NotificationMode is the global operating mode of the pipeline.
type NotificationMode string

const (
	ModeProduction NotificationMode = "production"
	ModeTesting    NotificationMode = "testing"
)

// NotificationTypeAdoptionOutcome is the only notification type seeded by the
// initial migration. Others can be added as notification_configs rows.
const NotificationTypeAdoptionOutcome = "adoption_outcome"

// RawEvent is one upstream record as decoded from JSON. Its shape varies by
// upstream method; fields are read through the alias table in the outcome
// package.
type RawEvent map[string]any

// AdoptionEvent is one distinct (animal, adoption date, new owner email)
// observation. Rows are append-only.
type AdoptionEvent struct {
	AdoptionKey   string          `json:"adoption_key"`
	AnimalID      string          `json:"animal_id"`
	AnimalName    string          `json:"animal_name,omitempty"`
	Species       string          `json:"species,omitempty"`
	AdoptionDate  time.Time       `json:"adoption_date"`
	NewOwnerEmail string          `json:"new_owner_email,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Application is an applicant submission for an animal. Owned by the forms
// subsystem; read-only here.
type Application struct {
	ID             int64      `json:"id"`
	AnimalID       string     `json:"animal_id"`
	ApplicantEmail string     `json:"applicant_email"`
	FormID         string     `json:"form_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SupersededAt   *time.Time `json:"superseded_at,omitempty"`
}

// Suppression blocks outcome notifications for an animal. A nil
// NotificationType applies to every type.
type Suppression struct {
	ID               int64     `json:"id"`
	AnimalID         string    `json:"animal_id"`
	NotificationType *string   `json:"notification_type,omitempty"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"created_at"`
}

// LedgerEntry records one dispatch attempt for the tuple
// (animal, applicant, kind, test mode). ApplicantEmail is always the real
// applicant; OriginalRecipient is set only when test mode redirected the send.
type LedgerEntry struct {
	ID                int64            `json:"id"`
	AnimalID          string           `json:"animal_id"`
	ApplicantEmail    string           `json:"applicant_email"`
	Kind              NotificationKind `json:"notification_type"`
	Status            DeliveryStatus   `json:"status"`
	ProviderMessageID string           `json:"sendgrid_message_id,omitempty"`
	Error             string           `json:"error,omitempty"`
	SentAt            *time.Time       `json:"sent_at,omitempty"`
	TestMode          bool             `json:"test_mode"`
	OriginalRecipient string           `json:"original_recipient,omitempty"`
	DeliveryEvent     string           `json:"delivery_event,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// NotificationConfig drives which notification types each cycle processes
// and with what delay and mode.
type NotificationConfig struct {
	NotificationType  string    `json:"notification_type"`
	DisplayName       string    `json:"display_name"`
	Enabled           bool      `json:"enabled"`
	TestMode          bool      `json:"test_mode"`
	DelayHours        int       `json:"delay_hours"`
	TemplateSuccessID string    `json:"template_success_id,omitempty"`
	TemplateFailureID string    `json:"template_failure_id,omitempty"`
	ASMTriggerField   string    `json:"asm_trigger_field,omitempty"`
	ASMAPIMethod      string    `json:"asm_api_method"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ConfigUpdate is a partial update of a NotificationConfig. Nil fields are
// left untouched.
type ConfigUpdate struct {
	Enabled           *bool
	TestMode          *bool
	DelayHours        *int
	TemplateSuccessID *string
	TemplateFailureID *string
}

// Empty reports whether the update changes nothing.
func (u ConfigUpdate) Empty() bool {
	return u.Enabled == nil && u.TestMode == nil && u.DelayHours == nil &&
		u.TemplateSuccessID == nil && u.TemplateFailureID == nil
}

// PollState is the per-type high-water mark of ingested event time.
type PollState struct {
	NotificationType string    `json:"notification_type"`
	LastSeenTS       time.Time `json:"last_seen_ts"`
	TestMode         bool      `json:"test_mode"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ActivitySummary aggregates ledger rows per notification kind over a window.
type ActivitySummary struct {
	NotificationType string `json:"notification_type"`
	TotalSent        int    `json:"total_sent"`
	Successful       int    `json:"successful"`
	Failed           int    `json:"failed"`
	// Pending rows were reserved but never completed, usually because the
	// run died mid-send. They block the tuple until an operator clears them.
	Pending       int `json:"pending"`
	TestModeCount int `json:"test_mode_count"`
}

// NotificationStat is a (kind, status) ledger count over a window.
type NotificationStat struct {
	NotificationType string `json:"notification_type"`
	Status           string `json:"status"`
	Count            int    `json:"count"`
}

// AdoptionOverview is an adoption event joined with its applicant and
// notification counts, used by the admin overview.
type AdoptionOverview struct {
	AnimalID            string    `json:"animal_id"`
	AnimalName          string    `json:"animal_name,omitempty"`
	Species             string    `json:"species,omitempty"`
	AdoptionDate        time.Time `json:"adoption_date"`
	NewOwnerEmail       string    `json:"new_owner_email,omitempty"`
	ApplicantCount      int       `json:"applicant_count"`
	NotificationsSent   int       `json:"notifications_sent"`
	NotificationsFailed int       `json:"notifications_failed"`
	Suppressed          bool      `json:"suppressed"`
}

// SenderIdentity defines a mailbox on an outgoing email.
type SenderIdentity struct {
	Name    string
	Address string
}

// SendInput defines the contract for email transmission. Content is
// pre-rendered; providers only transport it.
type SendInput struct {
	To         string
	From       SenderIdentity
	ReplyTo    SenderIdentity
	BCC        string
	Subject    string
	BodyHTML   string
	BodyText   string
	Categories []string
	CustomArgs map[string]string

	// BypassListManagement marks operational mail that must reach recipients
	// who unsubscribed from marketing lists.
	BypassListManagement bool

	// ReferenceID correlates provider logs with the ledger row.
	ReferenceID string
}

// FormStat is the number of applications received through one form over a
// window.
type FormStat struct {
	FormID string `json:"form_id"`
	Count  int    `json:"count"`
}
