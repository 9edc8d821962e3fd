package subscription

import (
	"context"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/config"
	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services/crm"
)

// CRM models and fields used for subscriptions
const (
	OrderModel        = "sale.order"
	OrderLineModel    = "sale.order.line"
	ProductModel      = "product.product"
	TemplateModel     = "product.template"
	PricingModel      = "sale.subscription.pricing"
	FieldPartnerID    = "partner_id"
	FieldOrderLine    = "order_line"
	FieldStartDate    = "start_date"
	FieldNextInvoice  = "next_invoice_date"
	FieldSubState     = "subscription_state"
	FieldState        = "state"
	FieldIsSubscribed = "is_subscription"
	FieldProductID    = "product_id"
	FieldName         = "name"
	FieldListPrice    = "list_price"

	// SubscriptionInProgress is the subscription_state of a running subscription
	SubscriptionInProgress = "3_progress"
)

// TierResolver derives a contact's tier from its in-progress subscription orders
type TierResolver struct {
	rpc     crm.RPC
	catalog config.CatalogConfig
	logger  *zap.Logger
}

// NewTierResolver creates a new tier resolver
func NewTierResolver(rpc crm.RPC, catalog config.CatalogConfig, logger *zap.Logger) *TierResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierResolver{rpc: rpc, catalog: catalog, logger: logger}
}

type productInfo struct {
	name  string
	price float64
}

// ResolveTier walks the contact's in-progress orders and their lines in the
// order the CRM returns them. The first line whose product maps to a tier
// decides; there is no priority between tiers. Without a match the
// contact is basic.
func (r *TierResolver) ResolveTier(ctx context.Context, contact models.ContactHandle) (models.SubscriptionSnapshot, error) {
	orders, err := crm.SearchRead(ctx, r.rpc, OrderModel,
		crm.Where(crm.Eq(FieldPartnerID, contact.ID), crm.Eq(FieldSubState, SubscriptionInProgress)),
		[]string{crm.FieldID, FieldOrderLine, FieldStartDate, FieldNextInvoice},
		crm.SearchOptions{})
	if err != nil {
		return models.SubscriptionSnapshot{}, err
	}

	products := make(map[int64]productInfo)

	for _, order := range orders {
		lineIDs := order.IDs(FieldOrderLine)
		if len(lineIDs) == 0 {
			continue
		}

		lines, err := crm.Read(ctx, r.rpc, OrderLineModel, lineIDs, []string{FieldProductID})
		if err != nil {
			return models.SubscriptionSnapshot{}, err
		}
		lineProducts := make(map[int64]int64, len(lines))
		for _, line := range lines {
			if pid, ok := line.Many2One(FieldProductID); ok {
				lineProducts[line.ID()] = pid
			}
		}

		if err := r.loadProducts(ctx, lineProducts, products); err != nil {
			return models.SubscriptionSnapshot{}, err
		}

		for _, lineID := range lineIDs {
			pid, ok := lineProducts[lineID]
			if !ok {
				continue
			}
			product, ok := products[pid]
			if !ok {
				continue
			}
			tier, ok := r.tierOf(product)
			if !ok {
				continue
			}

			snapshot := models.SubscriptionSnapshot{Tier: tier}
			snapshot.StartDate, _ = order.String(FieldStartDate)
			snapshot.NextInvoiceDate, _ = order.String(FieldNextInvoice)

			r.logger.Debug("resolved subscription tier",
				zap.Int64("contact_id", contact.ID),
				zap.Int64("order_id", order.ID()),
				zap.String("tier", string(tier)),
			)
			return snapshot, nil
		}
	}

	return models.BasicSnapshot(), nil
}

// loadProducts reads the products not yet in cache
func (r *TierResolver) loadProducts(ctx context.Context, lineProducts map[int64]int64, cache map[int64]productInfo) error {
	var missing []int64
	seen := make(map[int64]bool)
	for _, pid := range lineProducts {
		if _, ok := cache[pid]; !ok && !seen[pid] {
			missing = append(missing, pid)
			seen[pid] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}

	records, err := crm.Read(ctx, r.rpc, ProductModel, missing, []string{FieldName, FieldListPrice})
	if err != nil {
		return err
	}
	for _, rec := range records {
		name, _ := rec.String(FieldName)
		price, _ := rec.Float(FieldListPrice)
		cache[rec.ID()] = productInfo{name: name, price: price}
	}
	return nil
}

func (r *TierResolver) tierOf(p productInfo) (models.Tier, bool) {
	switch {
	case p.name == r.catalog.PlusProduct:
		return models.TierPlus, true
	case p.name == r.catalog.FreeProduct || p.price == 0:
		return models.TierBasic, true
	case p.name == r.catalog.ProProduct:
		return models.TierPro, true
	}
	return "", false
}
