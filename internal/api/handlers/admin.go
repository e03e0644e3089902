// Package handlers contains the HTTP handlers for the admin API and the
// SendGrid Event Webhook.
//
// Admin routes are mounted under /v1/admin behind the admin key middleware
// in core. The webhook is public and verifies its own signature.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"adoptnotify/internal/core"
	"adoptnotify/internal/types"
)

const (
	defaultReason           = "Manual admin suppression"
	overviewLimit           = 100
	activityWindow          = 7 * 24 * time.Hour
	formStatsWindow         = 14 * 24 * time.Hour
	defaultNotificationType = types.NotificationTypeAdoptionOutcome
)

// --- Store interfaces ---
//
// Each is the subset of a db repository the admin handler needs.

type SuppressionStore interface {
	Suppress(ctx context.Context, animalID string, notificationType *string, reason string) error
	Unsuppress(ctx context.Context, animalID string, notificationType *string) (int64, error)
}

type ConfigStore interface {
	List(ctx context.Context) ([]types.NotificationConfig, error)
	Get(ctx context.Context, notificationType string) (*types.NotificationConfig, error)
	Update(ctx context.Context, notificationType string, upd types.ConfigUpdate) ([]string, error)
}

type PollStateLister interface {
	List(ctx context.Context) ([]types.PollState, error)
}

type LedgerReporter interface {
	ActivitySummary(ctx context.Context, since time.Time) ([]types.ActivitySummary, error)
	Stats(ctx context.Context, since time.Time) ([]types.NotificationStat, error)
}

type EventStore interface {
	Ingest(ctx context.Context, e *types.AdoptionEvent) (bool, error)
	ListOverview(ctx context.Context, limit int) ([]types.AdoptionOverview, error)
}

type ApplicationStats interface {
	CountActive(ctx context.Context, animalID string) (int, error)
	FormStats(ctx context.Context, since time.Time) ([]types.FormStat, error)
}

// PollRequester enqueues an out-of-schedule poll cycle.
type PollRequester interface {
	Enabled() bool
	RequestPoll(ctx context.Context, notificationType, reason string) (string, error)
}

// AdminSettings are the process-level values the overview reports.
type AdminSettings struct {
	Mode             types.NotificationMode
	TestRecipient    string
	TestTriggerValue string
}

// AdminDeps groups the AdminHandler's collaborators.
type AdminDeps struct {
	Suppressions SuppressionStore
	Configs      ConfigStore
	PollStates   PollStateLister
	Ledger       LedgerReporter
	Events       EventStore
	Applications ApplicationStats
	Poller       PollRequester
	Settings     AdminSettings
	Validator    *core.Validator
	Clock        types.Clock
	Logger       *slog.Logger
}

// AdminHandler serves the operator endpoints under /v1/admin.
type AdminHandler struct {
	AdminDeps
}

// NewAdminHandler fills in a default clock and logger.
func NewAdminHandler(deps AdminDeps) *AdminHandler {
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = core.NewValidator(deps.Logger)
	}
	return &AdminHandler{AdminDeps: deps}
}

// RegisterRoutes mounts the admin endpoints relative to /v1/admin.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/adoptions", h.Overview)
	r.Post("/adoptions/{animal_id}/suppress", h.Suppress)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Post("/config", h.UpdateConfig)
		r.Post("/test-trigger", h.TestTrigger)
		r.Post("/run", h.RunNow)
	})
}
