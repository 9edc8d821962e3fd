package subscription

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/upb/activity-sync/config"
	"github.com/upb/activity-sync/services/contacts"
	"github.com/upb/activity-sync/services/crm/crmtest"
)

var testCatalog = config.CatalogConfig{
	FreeProduct:      "Agenda Free",
	FreePriceProduct: "Agenda basic (free)",
	PlusProduct:      "Agenda Plus",
	ProProduct:       "Agenda Pro",
	PlanID:           1,
	MonthlyPlanID:    1,
	YearlyPlanID:     2,
	TaxRate:          0.2,
}

var testPromotion = config.PromotionConfig{
	Cutoff:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	FixedExpiry: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	Discount:    100,
}

type fixture struct {
	fake     *crmtest.Fake
	cache    *Cache
	contacts *contacts.Resolver
	service  *Service
	offers   *OfferEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	fake := crmtest.New()
	cache := NewCache(100, 24*time.Hour)
	resolver := contacts.NewResolver(fake, logger)
	service := NewService(cache, resolver, NewTierResolver(fake, testCatalog, logger), logger)
	offers := NewOfferEngine(service, resolver, fake, testCatalog, testPromotion, 24*time.Hour, logger)

	return &fixture{fake: fake, cache: cache, contacts: resolver, service: service, offers: offers}
}

func (f *fixture) seedContact(email string) int64 {
	return f.fake.Seed(contacts.PartnerModel, map[string]any{"email": email, "name": email})
}

func (f *fixture) seedProduct(name string, price float64) int64 {
	return f.fake.Seed(ProductModel, map[string]any{"name": name, "list_price": price})
}

// seedPlusCatalog seeds the Plus product with a template carrying pricing
func (f *fixture) seedPlusCatalog(withPricing bool) int64 {
	var pricingIDs []int64
	if withPricing {
		pricingIDs = append(pricingIDs, f.fake.Seed(PricingModel, map[string]any{"plan_id": 1, "price": 5.0}))
	}
	templateID := f.fake.Seed(TemplateModel, map[string]any{"name": "Agenda Plus", FieldPricingIDs: pricingIDs})
	return f.fake.Seed(ProductModel, map[string]any{
		"name":          "Agenda Plus",
		"list_price":    10.0,
		FieldTemplateID: templateID,
		FieldUomID:      1,
		FieldPricingIDs: pricingIDs,
	})
}

func (f *fixture) seedOrder(partnerID int64, values map[string]any, productIDs ...int64) int64 {
	lineIDs := make([]int64, 0, len(productIDs))
	for _, pid := range productIDs {
		lineIDs = append(lineIDs, f.fake.Seed(OrderLineModel, map[string]any{FieldProductID: pid}))
	}
	order := map[string]any{
		FieldPartnerID:    partnerID,
		FieldOrderLine:    lineIDs,
		FieldIsSubscribed: true,
	}
	for k, v := range values {
		order[k] = v
	}
	return f.fake.Seed(OrderModel, order)
}
