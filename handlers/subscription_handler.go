package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/middleware"
	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/utils"
)

// SubscriptionReader returns a user's current subscription
type SubscriptionReader interface {
	Get(ctx context.Context, email string) (models.SubscriptionSnapshot, error)
}

// OfferIssuer grants the promotional Plus subscription
type OfferIssuer interface {
	IssuePlusOffer(ctx context.Context, email string) (models.SubscriptionSnapshot, error)
}

// PriceLister reads catalog prices
type PriceLister interface {
	Prices(ctx context.Context) (models.CatalogPrices, error)
}

// SubscriptionHandler handles subscription HTTP requests. Every route except
// prices sits behind RequireAuth and RequireEmail.
type SubscriptionHandler struct {
	subscriptions SubscriptionReader
	offers        OfferIssuer
	prices        PriceLister
	logger        *zap.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler
func NewSubscriptionHandler(subscriptions SubscriptionReader, offers OfferIssuer, prices PriceLister, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		offers:        offers,
		prices:        prices,
		logger:        logger,
	}
}

// HandleGetSubscription handles GET /subscription
func (h *SubscriptionHandler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	email, ok := h.callerEmail(w, r)
	if !ok {
		return
	}

	snapshot, err := h.subscriptions.Get(r.Context(), email)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, snapshot); err != nil {
		h.logger.Error("failed to write subscription response", zap.Error(err))
	}
}

// HandlePlusOffer handles POST /subscription/plus
func (h *SubscriptionHandler) HandlePlusOffer(w http.ResponseWriter, r *http.Request) {
	email, ok := h.callerEmail(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	snapshot, err := h.offers.IssuePlusOffer(ctx, email)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("plus offer granted",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("email", email),
		zap.String("next_invoice_date", snapshot.NextInvoiceDate))

	if err := utils.WriteJSON(w, http.StatusCreated, snapshot); err != nil {
		h.logger.Error("failed to write offer response", zap.Error(err))
	}
}

// HandlePrices handles GET /subscription/prices
func (h *SubscriptionHandler) HandlePrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.prices.Prices(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, prices); err != nil {
		h.logger.Error("failed to write prices response", zap.Error(err))
	}
}

// callerEmail returns the normalized email claim of the authenticated caller
func (h *SubscriptionHandler) callerEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil || claims.Email == "" {
		h.logger.Error("missing caller email in context")
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return "", false
	}
	email, err := utils.NormalizeEmail(claims.Email)
	if err != nil {
		h.logger.Warn("token email rejected", zap.String("sub", claims.Sub), zap.Error(err))
		_ = utils.WriteBadRequest(w, "Token email is not a valid address", nil)
		return "", false
	}
	return email, true
}
