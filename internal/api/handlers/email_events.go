package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"adoptnotify/internal/core"
	"adoptnotify/internal/external"
	"adoptnotify/internal/notifications/email"
	"adoptnotify/internal/types"
)

// maxWebhookBodySize caps SendGrid event batches.
const maxWebhookBodySize = 1 << 20

// FeedbackProcessor handles a parsed batch of delivery events.
type FeedbackProcessor interface {
	Process(ctx context.Context, events []email.FeedbackEvent) email.FeedbackResult
}

// EmailEventsHandler receives the SendGrid Event Webhook. It is not behind
// the admin key; when a verifier is configured the request signature is
// checked instead.
type EmailEventsHandler struct {
	verifier  external.EmailEventVerifier
	processor FeedbackProcessor
	logger    *slog.Logger
}

// NewEmailEventsHandler wires the webhook. A nil verifier disables
// signature checks.
func NewEmailEventsHandler(verifier external.EmailEventVerifier, processor FeedbackProcessor, logger *slog.Logger) *EmailEventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailEventsHandler{verifier: verifier, processor: processor, logger: logger}
}

// RegisterRoutes mounts POST /webhooks/sendgrid.
func (h *EmailEventsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/sendgrid", h.Handle)
}

// Handle verifies, parses and processes one event batch and answers 204.
// Processing failures are logged only; SendGrid would otherwise retry the
// whole batch and re-send alerts.
func (h *EmailEventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read email event body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPayload, "failed to read request body", err))
		return
	}

	if !h.verify(r, payload) {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "invalid webhook signature", nil))
		return
	}

	events, err := email.ParseFeedbackEvents(payload)
	if err != nil {
		h.logger.WarnContext(r.Context(), "invalid email event payload", "error", err)
		core.Error(w, r, err)
		return
	}

	res := h.processor.Process(r.Context(), events)
	h.logger.InfoContext(r.Context(), "email events processed",
		"received", res.Received,
		"annotated", res.Annotated,
		"alerted", res.Alerted,
	)

	w.WriteHeader(http.StatusNoContent)
}

// verify checks the request signature when a verifier is configured. Once a
// public key is set, a request without both signature headers is rejected.
func (h *EmailEventsHandler) verify(r *http.Request, payload []byte) bool {
	if h.verifier == nil {
		return true
	}

	sig := r.Header.Get(external.HeaderSendGridSignature)
	ts := r.Header.Get(external.HeaderSendGridTimestamp)
	if sig == "" || ts == "" {
		h.logger.WarnContext(r.Context(), "email event webhook received without signature headers")
		return false
	}

	ok, err := h.verifier.Verify(payload, sig, ts)
	if err != nil {
		h.logger.WarnContext(r.Context(), "email event signature could not be verified", "error", err)
		return false
	}
	if !ok {
		h.logger.WarnContext(r.Context(), "email event signature mismatch")
	}
	return ok
}
