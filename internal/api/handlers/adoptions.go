package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"adoptnotify/internal/core"
	"adoptnotify/internal/types"
)

// SuppressRequest is the body of POST /adoptions/{animal_id}/suppress.
// A nil NotificationType targets every type.
type SuppressRequest struct {
	Suppressed       *bool   `json:"suppressed" validate:"required"`
	Reason           string  `json:"reason,omitempty" validate:"max=500"`
	NotificationType *string `json:"notification_type,omitempty" validate:"omitempty,notification_type"`
}

// SuppressResponse echoes the applied state.
type SuppressResponse struct {
	AnimalID         string  `json:"animal_id"`
	Suppressed       bool    `json:"suppressed"`
	Reason           *string `json:"reason"`
	NotificationType *string `json:"notification_type,omitempty"`
	Removed          int64   `json:"removed,omitempty"`
}

// Suppress adds or removes a suppression for one animal.
func (h *AdminHandler) Suppress(w http.ResponseWriter, r *http.Request) {
	animalID := strings.TrimSpace(chi.URLParam(r, "animal_id"))
	if animalID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "animal_id is required", nil))
		return
	}

	var req SuppressRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	resp := SuppressResponse{
		AnimalID:         animalID,
		Suppressed:       *req.Suppressed,
		NotificationType: req.NotificationType,
	}

	if *req.Suppressed {
		reason := req.Reason
		if reason == "" {
			reason = defaultReason
		}
		if err := h.Suppressions.Suppress(r.Context(), animalID, req.NotificationType, reason); err != nil {
			h.Logger.ErrorContext(r.Context(), "failed to suppress animal", "animal_id", animalID, "error", err)
			core.Error(w, r, err)
			return
		}
		resp.Reason = &reason
		h.Logger.InfoContext(r.Context(), "suppressed outcome notifications",
			"animal_id", animalID,
			"reason", reason,
		)
	} else {
		removed, err := h.Suppressions.Unsuppress(r.Context(), animalID, req.NotificationType)
		if err != nil {
			h.Logger.ErrorContext(r.Context(), "failed to unsuppress animal", "animal_id", animalID, "error", err)
			core.Error(w, r, err)
			return
		}
		resp.Removed = removed
		h.Logger.InfoContext(r.Context(), "unsuppressed outcome notifications",
			"animal_id", animalID,
			"removed", removed,
		)
	}

	core.OK(w, r, resp)
}

// OverviewResponse is the body of GET /adoptions.
type OverviewResponse struct {
	Adoptions         []types.AdoptionOverview `json:"adoptions"`
	FormStats         []types.FormStat         `json:"form_stats"`
	NotificationStats []types.NotificationStat `json:"notification_stats"`
	Timestamp         time.Time                `json:"timestamp"`
}

// Overview lists the latest adoption events with their notification
// counts, form usage over 14 days and ledger stats over 7 days.
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	now := h.Clock.Now()
	var resp OverviewResponse

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		resp.Adoptions, err = h.Events.ListOverview(ctx, overviewLimit)
		return err
	})
	g.Go(func() (err error) {
		resp.FormStats, err = h.Applications.FormStats(ctx, now.Add(-formStatsWindow))
		return err
	})
	g.Go(func() (err error) {
		resp.NotificationStats, err = h.Ledger.Stats(ctx, now.Add(-activityWindow))
		return err
	})
	if err := g.Wait(); err != nil {
		h.Logger.ErrorContext(r.Context(), "failed to load adoption overview", "error", err)
		core.Error(w, r, err)
		return
	}

	resp.Timestamp = now
	core.OK(w, r, resp)
}
