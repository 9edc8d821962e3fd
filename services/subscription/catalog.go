package subscription

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/config"
	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/crm"
)

const (
	fieldPlanID = "plan_id"
	fieldPrice  = "price"
)

// Catalog reads tier product prices from the CRM
type Catalog struct {
	rpc     crm.RPC
	catalog config.CatalogConfig
	logger  *zap.Logger
}

// NewCatalog creates a new catalog reader
func NewCatalog(rpc crm.RPC, catalog config.CatalogConfig, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{rpc: rpc, catalog: catalog, logger: logger}
}

// Prices returns tax-inclusive prices for the free, plus and pro products
func (c *Catalog) Prices(ctx context.Context) (models.CatalogPrices, error) {
	var out models.CatalogPrices
	var err error

	if out.Free, err = c.ProductPrices(ctx, c.catalog.FreePriceProduct); err != nil {
		return models.CatalogPrices{}, err
	}
	if out.Plus, err = c.ProductPrices(ctx, c.catalog.PlusProduct); err != nil {
		return models.CatalogPrices{}, err
	}
	if out.Pro, err = c.ProductPrices(ctx, c.catalog.ProProduct); err != nil {
		return models.CatalogPrices{}, err
	}
	return out, nil
}

// ProductPrices returns the prices of one product. The unique price is
// rounded to whole units, recurring prices to cents.
func (c *Catalog) ProductPrices(ctx context.Context, name string) (models.ProductPrices, error) {
	products, err := crm.SearchRead(ctx, c.rpc, ProductModel,
		crm.Where(crm.Eq(FieldName, name)),
		[]string{FieldListPrice, FieldPricingIDs},
		crm.SearchOptions{Limit: 1})
	if err != nil {
		return models.ProductPrices{}, err
	}
	if len(products) == 0 {
		c.logger.Error("catalog product missing from CRM", zap.String("product", name))
		return models.ProductPrices{}, services.Reject(services.ErrProductNotConfigured, "product not found").
			WithDetail("product", name)
	}

	product := products[0]
	listPrice, _ := product.Float(FieldListPrice)
	prices := models.ProductPrices{Unique: math.Round(listPrice * (1 + c.catalog.TaxRate))}

	pricings, err := crm.Read(ctx, c.rpc, PricingModel, product.IDs(FieldPricingIDs), []string{fieldPlanID, fieldPrice})
	if err != nil {
		return models.ProductPrices{}, err
	}
	for _, pricing := range pricings {
		planID, _ := pricing.Many2One(fieldPlanID)
		price, _ := pricing.Float(fieldPrice)
		taxed := roundCents(price * (1 + c.catalog.TaxRate))

		switch planID {
		case int64(c.catalog.MonthlyPlanID):
			prices.Month = &taxed
		case int64(c.catalog.YearlyPlanID):
			prices.Year = &taxed
		}
	}
	return prices, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
