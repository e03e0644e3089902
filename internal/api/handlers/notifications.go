package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"adoptnotify/internal/core"
	"adoptnotify/internal/outcome"
	"adoptnotify/internal/types"
)

// Test trigger actions.
const (
	ActionSetTrigger   = "set_trigger"
	ActionClearTrigger = "clear_trigger"
	ActionForceTest    = "force_test"
)

// ConfigOverview is the body of GET /notifications/config.
type ConfigOverview struct {
	Configs         []types.NotificationConfig `json:"configs"`
	PollStates      []types.PollState          `json:"poll_states"`
	ActivitySummary []types.ActivitySummary    `json:"activity_summary"`
	CurrentMode     types.NotificationMode     `json:"current_mode"`
	TestEmail       string                     `json:"test_email"`
	Timestamp       time.Time                  `json:"timestamp"`
}

// GetConfig reports every notification config, the poll cursors and the
// last 7 days of ledger activity.
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	now := h.Clock.Now()
	resp := ConfigOverview{
		CurrentMode: h.Settings.Mode,
		TestEmail:   h.Settings.TestRecipient,
		Timestamp:   now,
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		resp.Configs, err = h.Configs.List(ctx)
		return err
	})
	g.Go(func() (err error) {
		resp.PollStates, err = h.PollStates.List(ctx)
		return err
	})
	g.Go(func() (err error) {
		resp.ActivitySummary, err = h.Ledger.ActivitySummary(ctx, now.Add(-activityWindow))
		return err
	})
	if err := g.Wait(); err != nil {
		h.Logger.ErrorContext(r.Context(), "failed to load notification config overview", "error", err)
		core.Error(w, r, err)
		return
	}

	core.OK(w, r, resp)
}

// UpdateConfigRequest is a partial update. Absent fields are untouched.
type UpdateConfigRequest struct {
	NotificationType  string  `json:"notification_type" validate:"required,notification_type"`
	Enabled           *bool   `json:"enabled,omitempty"`
	TestMode          *bool   `json:"test_mode,omitempty"`
	DelayHours        *int    `json:"delay_hours,omitempty" validate:"omitempty,min=0,max=720"`
	TemplateSuccessID *string `json:"template_success_id,omitempty" validate:"omitempty,max=100"`
	TemplateFailureID *string `json:"template_failure_id,omitempty" validate:"omitempty,max=100"`
}

func (req UpdateConfigRequest) toUpdate() types.ConfigUpdate {
	return types.ConfigUpdate{
		Enabled:           req.Enabled,
		TestMode:          req.TestMode,
		DelayHours:        req.DelayHours,
		TemplateSuccessID: req.TemplateSuccessID,
		TemplateFailureID: req.TemplateFailureID,
	}
}

// UpdateConfigResponse lists the columns written.
type UpdateConfigResponse struct {
	NotificationType string   `json:"notification_type"`
	UpdatedFields    []string `json:"updated_fields"`
}

// UpdateConfig applies a partial config update. An update with no fields is
// a 400; an unknown notification type is a 404.
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	upd := req.toUpdate()
	if upd.Empty() {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationNoUpdateFields, "no valid fields to update", nil))
		return
	}

	fields, err := h.Configs.Update(r.Context(), req.NotificationType, upd)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.Logger.InfoContext(r.Context(), "notification config updated",
		"notification_type", req.NotificationType,
		"fields", fields,
	)
	core.OK(w, r, UpdateConfigResponse{NotificationType: req.NotificationType, UpdatedFields: fields})
}

// TestTriggerRequest is the body of POST /notifications/test-trigger.
type TestTriggerRequest struct {
	AnimalID         string `json:"animal_id" validate:"animal_id"`
	NotificationType string `json:"notification_type,omitempty" validate:"omitempty,notification_type"`
	Action           string `json:"action" validate:"required,oneof=set_trigger clear_trigger force_test"`
}

// TestTriggerResponse describes what the operator should do next, and for
// force_test what was created.
type TestTriggerResponse struct {
	Action               string   `json:"action"`
	AnimalID             string   `json:"animal_id"`
	TriggerField         string   `json:"trigger_field,omitempty"`
	TriggerValue         string   `json:"trigger_value,omitempty"`
	TestEventCreated     bool     `json:"test_event_created,omitempty"`
	TestAdoptionKey      string   `json:"test_adoption_key,omitempty"`
	ExistingApplications *int     `json:"existing_applications,omitempty"`
	Instructions         []string `json:"instructions"`
}

// TestTrigger helps an operator exercise the pipeline against one animal.
// set_trigger and clear_trigger only return instructions for editing the
// trigger field in ASM; force_test writes a synthetic adoption event that the
// next cycle picks up.
func (h *AdminHandler) TestTrigger(w http.ResponseWriter, r *http.Request) {
	var req TestTriggerRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.NotificationType == "" {
		req.NotificationType = defaultNotificationType
	}

	nc, err := h.Configs.Get(r.Context(), req.NotificationType)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := TestTriggerResponse{Action: req.Action, AnimalID: req.AnimalID}
	switch req.Action {
	case ActionSetTrigger:
		resp.TriggerField = nc.ASMTriggerField
		resp.TriggerValue = h.Settings.TestTriggerValue
		resp.Instructions = []string{
			"1. Go to ASM admin panel",
			"2. Find animal ID: " + req.AnimalID,
			"3. Edit the animal record",
			fmt.Sprintf("4. Set the %q field to: %q", nc.ASMTriggerField, h.Settings.TestTriggerValue),
			"5. Save the record",
			"6. Wait for next poll run (up to 10 minutes)",
			"7. Check admin notifications panel for test results",
		}

	case ActionClearTrigger:
		resp.TriggerField = nc.ASMTriggerField
		resp.Instructions = []string{
			"1. Go to ASM admin panel",
			"2. Find animal ID: " + req.AnimalID,
			"3. Edit the animal record",
			fmt.Sprintf("4. Clear the %q field (set to empty or original value)", nc.ASMTriggerField),
			"5. Save the record",
		}

	case ActionForceTest:
		ev, err := h.forcedTestEvent(req.AnimalID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		if _, err := h.Events.Ingest(r.Context(), ev); err != nil {
			h.Logger.ErrorContext(r.Context(), "failed to create forced test event",
				"animal_id", req.AnimalID,
				"error", err,
			)
			core.Error(w, r, err)
			return
		}
		count, err := h.Applications.CountActive(r.Context(), req.AnimalID)
		if err != nil {
			core.Error(w, r, err)
			return
		}

		resp.TestEventCreated = true
		resp.TestAdoptionKey = ev.AdoptionKey
		resp.ExistingApplications = &count
		resp.Instructions = []string{
			"Test adoption event created successfully",
			fmt.Sprintf("%d existing applications found for this animal", count),
			"Test notifications will be processed on next poll run",
			"All test emails will be sent to the configured test email address",
			"Check the admin notifications panel in a few minutes for results",
		}
	}

	h.Logger.InfoContext(r.Context(), "test trigger action",
		"action", req.Action,
		"animal_id", req.AnimalID,
		"notification_type", req.NotificationType,
	)
	core.OK(w, r, resp)
}

func (h *AdminHandler) forcedTestEvent(animalID string) (*types.AdoptionEvent, error) {
	now := h.Clock.Now().UTC()
	raw, err := json.Marshal(map[string]any{"test_mode": true, "forced_test": true})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build test event", err)
	}
	return &types.AdoptionEvent{
		AdoptionKey:   "test_" + animalID + "_" + strconv.FormatInt(now.UnixMilli(), 10),
		AnimalID:      animalID,
		AnimalName:    "Test Animal",
		Species:       "Dog",
		AdoptionDate:  now,
		NewOwnerEmail: outcome.ForcedTestAdopter,
		Raw:           raw,
		CreatedAt:     now,
	}, nil
}

// RunNowRequest optionally narrows the poll to one notification type.
type RunNowRequest struct {
	NotificationType string `json:"notification_type,omitempty" validate:"omitempty,notification_type"`
	Reason           string `json:"reason,omitempty" validate:"max=200"`
}

// RunNowResponse identifies the queued poll request.
type RunNowResponse struct {
	RequestID        string `json:"request_id"`
	NotificationType string `json:"notification_type,omitempty"`
}

// RunNow enqueues an immediate poll cycle. The body is optional.
func (h *AdminHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	var req RunNowRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	if err := h.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if h.Poller == nil || !h.Poller.Enabled() {
		core.Error(w, r, types.NewAppError(types.ErrCodeUpstreamQueue, "poll queue is not configured", nil))
		return
	}

	if req.NotificationType != "" {
		if _, err := h.Configs.Get(r.Context(), req.NotificationType); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	id, err := h.Poller.RequestPoll(r.Context(), req.NotificationType, req.Reason)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "failed to enqueue poll request", "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: RunNowResponse{
		RequestID:        id,
		NotificationType: req.NotificationType,
	}})
}
