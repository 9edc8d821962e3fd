package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/middleware"
	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services/activity"
	"github.com/upb/activity-sync/utils"
)

// maxWebhookBody bounds webhook payloads, which only carry identity fields
const maxWebhookBody = 64 << 10

// WebhookProcessedMessage acknowledges every accepted delivery
const WebhookProcessedMessage = "Webhook processed successfully."

// EventProcessor handles normalized identity events
type EventProcessor interface {
	Handle(ctx context.Context, evt models.IdentityEvent) (activity.Result, error)
}

// WebhookHandler handles identity webhooks sent by client applications
type WebhookHandler struct {
	events EventProcessor
	logger *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(events EventProcessor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		events: events,
		logger: logger,
	}
}

// HandleWebhook handles POST /marketing/webhook
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload models.WebhookPayload
	if !h.decode(w, r, &payload) {
		return
	}

	evt, err := activity.FromWebhook(payload)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.process(w, r, evt)
}

// HandlePictalkWebhook handles POST /marketing/pictalk-webhook
func (h *WebhookHandler) HandlePictalkWebhook(w http.ResponseWriter, r *http.Request) {
	var payload models.PictalkWebhookPayload
	if !h.decode(w, r, &payload) {
		return
	}

	evt, err := activity.FromPictalk(payload)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.process(w, r, evt)
}

func (h *WebhookHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(dst); err != nil {
		h.logger.Warn("invalid webhook body",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, h.logger)
		return false
	}
	return true
}

func (h *WebhookHandler) process(w http.ResponseWriter, r *http.Request, evt models.IdentityEvent) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	result, err := h.events.Handle(ctx, evt)
	if err != nil {
		h.logger.Warn("webhook processing failed",
			zap.String("request_id", requestID),
			zap.String("action", string(evt.Action)),
			zap.String("client_id", evt.ClientID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("webhook processed",
		zap.String("request_id", requestID),
		zap.String("action", string(evt.Action)),
		zap.String("outcome", string(result.Outcome)))

	if err := utils.WriteMessage(w, http.StatusCreated, WebhookProcessedMessage, result); err != nil {
		h.logger.Error("failed to write webhook response", zap.Error(err))
	}
}
