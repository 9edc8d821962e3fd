package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/middleware"
	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/utils"
)

// LeadCreatedMessage acknowledges a lead submission
const LeadCreatedMessage = "Webhook processed successfully."

// ActivityReader reads a contact's engagement for one client
type ActivityReader interface {
	Activity(ctx context.Context, email, clientID string) (models.ActivitySummary, error)
}

// LeadCreator records business contact form submissions
type LeadCreator interface {
	CreateLead(ctx context.Context, lead models.Lead) (int64, error)
}

// MarketingHandler handles activity reads and lead capture
type MarketingHandler struct {
	activity ActivityReader
	leads    LeadCreator
	logger   *zap.Logger
}

// NewMarketingHandler creates a new MarketingHandler
func NewMarketingHandler(activity ActivityReader, leads LeadCreator, logger *zap.Logger) *MarketingHandler {
	return &MarketingHandler{
		activity: activity,
		leads:    leads,
		logger:   logger,
	}
}

// HandleActivity handles GET /marketing/activity. The client is the one the
// caller's token was issued to.
func (h *MarketingHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}
	if claims.Email == "" || claims.Azp == "" {
		_ = utils.WriteBadRequest(w, "Token has no email or client", nil)
		return
	}

	summary, err := h.activity.Activity(ctx, claims.Email, claims.Azp)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, summary); err != nil {
		h.logger.Error("failed to write activity response", zap.Error(err))
	}
}

// HandleCreateLead handles POST /marketing/create-lead
func (h *MarketingHandler) HandleCreateLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var lead models.Lead
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&lead); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(lead); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	id, err := h.leads.CreateLead(ctx, lead)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("lead created",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.Int64("lead_id", id))

	if err := utils.WriteMessage(w, http.StatusCreated, LeadCreatedMessage, nil); err != nil {
		h.logger.Error("failed to write lead response", zap.Error(err))
	}
}
