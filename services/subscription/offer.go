package subscription

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/config"
	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/crm"
)

// Fields read while issuing an offer
const (
	FieldTemplateID      = "product_tmpl_id"
	FieldUomID           = "uom_id"
	FieldPricingIDs      = "product_subscription_pricing_ids"
	stateDraft           = "draft"
	stateSent            = "sent"
	stateCancelled       = "cancel"
	subscriptionChurned  = "6_churn"
	actionConfirm        = "action_confirm"
	offerLogFieldOrderID = "order_id"
)

// ContactResolver finds or creates CRM contacts by email
type ContactResolver interface {
	Resolve(ctx context.Context, email string) (models.ContactHandle, error)
}

// OfferEngine issues the promotional Plus subscription
type OfferEngine struct {
	subscriptions *Service
	contacts      ContactResolver
	rpc           crm.RPC
	catalog       config.CatalogConfig
	promotion     config.PromotionConfig
	ttl           time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// NewOfferEngine creates a new offer engine
func NewOfferEngine(
	subscriptions *Service,
	contacts ContactResolver,
	rpc crm.RPC,
	catalog config.CatalogConfig,
	promotion config.PromotionConfig,
	ttl time.Duration,
	logger *zap.Logger,
) *OfferEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfferEngine{
		subscriptions: subscriptions,
		contacts:      contacts,
		rpc:           rpc,
		catalog:       catalog,
		promotion:     promotion,
		ttl:           ttl,
		now:           time.Now,
		logger:        logger,
	}
}

// IssuePlusOffer creates and confirms a discounted Plus subscription order
// for email. The cache is only updated after the CRM confirmed the order.
//
// Users already on Plus or Pro, or holding an active subscription order,
// are rejected with ErrAlreadySubscribed. A draft left by an earlier
// attempt whose confirmation failed is confirmed instead of duplicated.
func (e *OfferEngine) IssuePlusOffer(ctx context.Context, email string) (models.SubscriptionSnapshot, error) {
	current, err := e.subscriptions.Get(ctx, email)
	if err != nil {
		return models.SubscriptionSnapshot{}, err
	}
	if current.Tier.IsPaid() {
		return models.SubscriptionSnapshot{}, services.Reject(services.ErrAlreadySubscribed, "user already has a paid tier").
			WithDetail("tier", string(current.Tier))
	}

	now := e.now().UTC()
	expiry := e.Expiry(now)

	contact, err := e.contacts.Resolve(ctx, email)
	if err != nil {
		return models.SubscriptionSnapshot{}, err
	}

	product, err := e.plusProduct(ctx)
	if err != nil {
		return models.SubscriptionSnapshot{}, err
	}

	draftID, err := e.checkExistingOrders(ctx, contact)
	if err != nil {
		return models.SubscriptionSnapshot{}, err
	}

	orderID := draftID
	if orderID == 0 {
		if orderID, err = e.createOrder(ctx, contact, product, now, expiry); err != nil {
			return models.SubscriptionSnapshot{}, err
		}
	} else {
		e.logger.Info("resuming draft subscription order",
			zap.String("email", email),
			zap.Int64(offerLogFieldOrderID, orderID),
		)
	}

	if err := crm.Execute(ctx, e.rpc, OrderModel, actionConfirm, []int64{orderID}); err != nil {
		e.logger.Error("failed to confirm subscription order",
			zap.String("email", email),
			zap.Int64(offerLogFieldOrderID, orderID),
			zap.Error(err),
		)
		return models.SubscriptionSnapshot{}, err
	}

	snapshot := e.confirmedSnapshot(ctx, orderID, now, expiry)
	e.subscriptions.Store(email, snapshot, e.ttl)

	e.logger.Info("issued plus offer",
		zap.String("email", email),
		zap.Int64("contact_id", contact.ID),
		zap.Int64(offerLogFieldOrderID, orderID),
		zap.String("expiry", snapshot.NextInvoiceDate),
	)
	return snapshot, nil
}

// confirmedSnapshot reads the dates the CRM assigned to a confirmed order.
// The order is confirmed either way, so a failed read falls back to the
// dates the offer was issued with.
func (e *OfferEngine) confirmedSnapshot(ctx context.Context, orderID int64, now, expiry time.Time) models.SubscriptionSnapshot {
	snapshot := models.SubscriptionSnapshot{
		Tier:            models.TierPlus,
		StartDate:       crm.FormatDate(now),
		NextInvoiceDate: crm.FormatDate(expiry),
	}

	orders, err := crm.Read(ctx, e.rpc, OrderModel, []int64{orderID}, []string{FieldStartDate, FieldNextInvoice})
	if err != nil || len(orders) == 0 {
		e.logger.Warn("failed to read back confirmed order dates",
			zap.Int64(offerLogFieldOrderID, orderID),
			zap.Error(err),
		)
		return snapshot
	}
	if start, ok := orders[0].String(FieldStartDate); ok && start != "" {
		snapshot.StartDate = start
	}
	if next, ok := orders[0].String(FieldNextInvoice); ok && next != "" {
		snapshot.NextInvoiceDate = next
	}
	return snapshot
}

// Expiry returns the offer end date for an offer issued at now: the fixed
// promotion expiry before the cutoff, one calendar month later afterwards.
func (e *OfferEngine) Expiry(now time.Time) time.Time {
	if now.Before(e.promotion.Cutoff) {
		return e.promotion.FixedExpiry
	}
	return AddCalendarMonth(now)
}

// AddCalendarMonth adds one month, clamping to the last day of the next
// month (Jan 31 becomes Feb 28 or 29).
func AddCalendarMonth(t time.Time) time.Time {
	year, month, day := t.Date()
	firstOfNext := time.Date(year, month+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

type offerProduct struct {
	id    int64
	name  string
	uomID int64
}

// plusProduct locates the Plus product and checks it has subscription pricing
func (e *OfferEngine) plusProduct(ctx context.Context) (offerProduct, error) {
	records, err := crm.SearchRead(ctx, e.rpc, ProductModel,
		crm.Where(crm.Eq(FieldName, e.catalog.PlusProduct)),
		[]string{crm.FieldID, FieldName, FieldTemplateID, FieldUomID},
		crm.SearchOptions{Limit: 1})
	if err != nil {
		return offerProduct{}, err
	}
	if len(records) == 0 {
		e.logger.Error("plus product missing from CRM catalog", zap.String("product", e.catalog.PlusProduct))
		return offerProduct{}, services.Reject(services.ErrProductNotConfigured, "plus product not found").
			WithDetail("product", e.catalog.PlusProduct)
	}

	rec := records[0]
	product := offerProduct{id: rec.ID()}
	product.name, _ = rec.String(FieldName)
	product.uomID, _ = rec.Many2One(FieldUomID)

	templateID, ok := rec.Many2One(FieldTemplateID)
	if !ok {
		return offerProduct{}, services.Reject(services.ErrPricingNotConfigured, "plus product has no template").
			WithDetail("product", product.name)
	}

	templates, err := crm.Read(ctx, e.rpc, TemplateModel, []int64{templateID}, []string{FieldPricingIDs})
	if err != nil {
		return offerProduct{}, err
	}
	if len(templates) == 0 || len(templates[0].IDs(FieldPricingIDs)) == 0 {
		e.logger.Error("plus product has no subscription pricing", zap.String("product", product.name))
		return offerProduct{}, services.Reject(services.ErrPricingNotConfigured, "plus product has no subscription pricing").
			WithDetail("product", product.name)
	}

	return product, nil
}

// checkExistingOrders rejects contacts holding an active subscription order
// and returns the id of a reusable draft, or 0.
func (e *OfferEngine) checkExistingOrders(ctx context.Context, contact models.ContactHandle) (int64, error) {
	orders, err := crm.SearchRead(ctx, e.rpc, OrderModel,
		crm.Where(crm.Eq(FieldPartnerID, contact.ID), crm.Eq(FieldIsSubscribed, true)),
		[]string{crm.FieldID, FieldState, FieldSubState},
		crm.SearchOptions{Order: "id desc"})
	if err != nil {
		return 0, err
	}

	var draftID int64
	for _, order := range orders {
		state, _ := order.String(FieldState)
		subState, _ := order.String(FieldSubState)

		switch {
		case state == stateCancelled || subState == subscriptionChurned:
			continue
		case state == stateDraft || state == stateSent:
			if draftID == 0 {
				draftID = order.ID()
			}
		default:
			return 0, services.Reject(services.ErrAlreadySubscribed, "contact already has an active subscription order").
				WithDetail(offerLogFieldOrderID, order.ID())
		}
	}
	return draftID, nil
}

func (e *OfferEngine) createOrder(ctx context.Context, contact models.ContactHandle, product offerProduct, now, expiry time.Time) (int64, error) {
	line := map[string]any{
		FieldProductID:    product.id,
		"product_uom_qty": 1,
		FieldName:         product.name,
		"discount":        e.promotion.Discount,
	}
	if product.uomID != 0 {
		line["product_uom"] = product.uomID
	}

	return crm.Create(ctx, e.rpc, OrderModel, map[string]any{
		FieldPartnerID:    contact.ID,
		"date_order":      crm.FormatDateTime(now),
		FieldIsSubscribed: true,
		"plan_id":         e.catalog.PlanID,
		"end_date":        crm.FormatDate(expiry),
		FieldOrderLine:    []any{[]any{0, 0, line}},
	})
}
