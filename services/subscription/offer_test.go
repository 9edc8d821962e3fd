package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/contacts"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestOfferEngine_IssuePlusOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	productID := f.seedPlusCatalog(true)
	f.offers.now = fixedClock(time.Date(2024, 12, 20, 9, 30, 0, 0, time.UTC))
	f.fake.Now = f.offers.now

	snapshot, err := f.offers.IssuePlusOffer(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionSnapshot{
		Tier:            models.TierPlus,
		StartDate:       "2024-12-20",
		NextInvoiceDate: "2025-02-01",
	}, snapshot)

	partners := f.fake.All(contacts.PartnerModel)
	require.Len(t, partners, 1, "contact is created for an unknown email")

	orders := f.fake.All(OrderModel)
	require.Len(t, orders, 1)
	order := orders[0]
	assert.Equal(t, "sale", order[FieldState])
	assert.Equal(t, SubscriptionInProgress, order[FieldSubState])
	assert.Equal(t, "2025-02-01", order["end_date"])
	assert.Equal(t, "2024-12-20 09:30:00", order["date_order"])
	assert.Equal(t, float64(1), order["plan_id"])

	lines := f.fake.All(OrderLineModel)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(productID), lines[0][FieldProductID])
	assert.Equal(t, float64(100), lines[0]["discount"])
	assert.Equal(t, float64(1), lines[0]["product_uom"])

	calls := len(f.fake.Calls())
	cached, err := f.service.Get(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.TierPlus, cached.Tier)
	assert.Len(t, f.fake.Calls(), calls, "the new tier is served from cache")
}

func TestOfferEngine_IssuePlusOffer_Twice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPlusCatalog(true)

	_, err := f.offers.IssuePlusOffer(ctx, "ada@example.com")
	require.NoError(t, err)

	_, err = f.offers.IssuePlusOffer(ctx, "ada@example.com")
	assert.ErrorIs(t, err, services.ErrAlreadySubscribed)
	assert.Len(t, f.fake.All(OrderModel), 1)
}

func TestOfferEngine_IssuePlusOffer_AfterCacheExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPlusCatalog(true)

	_, err := f.offers.IssuePlusOffer(ctx, "ada@example.com")
	require.NoError(t, err)
	f.cache.Clear()

	_, err = f.offers.IssuePlusOffer(ctx, "ada@example.com")
	assert.ErrorIs(t, err, services.ErrAlreadySubscribed, "the CRM order is found once the cache is gone")
}

func TestOfferEngine_IssuePlusOffer_ExistingActiveOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPlusCatalog(true)
	partnerID := f.seedContact("ada@example.com")
	// Paused subscriptions do not resolve to a tier but still block a new offer
	f.seedOrder(partnerID, map[string]any{FieldState: "sale", FieldSubState: "4_paused"}, f.seedProduct("Agenda Pro", 29.99))

	_, err := f.offers.IssuePlusOffer(ctx, "ada@example.com")
	assert.ErrorIs(t, err, services.ErrAlreadySubscribed)
	assert.Len(t, f.fake.All(OrderModel), 1)
}

func TestOfferEngine_IssuePlusOffer_IgnoresCancelledOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPlusCatalog(true)
	partnerID := f.seedContact("ada@example.com")
	f.seedOrder(partnerID, map[string]any{FieldState: "cancel"}, f.seedProduct("Agenda Plus", 9.99))

	_, err := f.offers.IssuePlusOffer(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, f.fake.All(OrderModel), 2)
}

func TestOfferEngine_IssuePlusOffer_PaidTier(t *testing.T) {
	f := newFixture(t)
	f.cache.Set("pro@example.com", models.SubscriptionSnapshot{Tier: models.TierPro}, 0)

	_, err := f.offers.IssuePlusOffer(context.Background(), "pro@example.com")

	assert.ErrorIs(t, err, services.ErrAlreadySubscribed)
	assert.Equal(t, "pro", services.GetErrorDetails(err)["tier"])
	assert.Empty(t, f.fake.Calls())
}

func TestOfferEngine_IssuePlusOffer_CatalogMisconfigured(t *testing.T) {
	t.Run("missing product", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.offers.IssuePlusOffer(context.Background(), "ada@example.com")
		assert.ErrorIs(t, err, services.ErrProductNotConfigured)
		assert.True(t, services.IsConfigurationError(err))
		assert.Empty(t, f.fake.All(OrderModel))
	})

	t.Run("missing pricing", func(t *testing.T) {
		f := newFixture(t)
		f.seedPlusCatalog(false)

		_, err := f.offers.IssuePlusOffer(context.Background(), "ada@example.com")
		assert.ErrorIs(t, err, services.ErrPricingNotConfigured)
		assert.Empty(t, f.fake.All(OrderModel))
	})
}

func TestOfferEngine_IssuePlusOffer_ConfirmFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPlusCatalog(true)
	f.fake.FailNext(OrderModel, "action_confirm", services.WrapCrmUnavailable("confirm", errors.New("502")), 1)

	_, err := f.offers.IssuePlusOffer(ctx, "ada@example.com")
	assert.ErrorIs(t, err, services.ErrCrmUnavailable)

	cached, ok := f.cache.Get("ada@example.com")
	require.True(t, ok)
	assert.Equal(t, models.TierBasic, cached.Tier, "cache never reflects an unconfirmed order")

	snapshot, err := f.offers.IssuePlusOffer(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.TierPlus, snapshot.Tier)

	orders := f.fake.All(OrderModel)
	require.Len(t, orders, 1, "the draft from the failed attempt is resumed")
	assert.Equal(t, "sale", orders[0][FieldState])
}

func TestOfferEngine_IssuePlusOffer_CachesCrmDates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPlusCatalog(true)
	f.offers.now = fixedClock(time.Date(2024, 12, 20, 9, 30, 0, 0, time.UTC))
	partnerID := f.seedContact("ada@example.com")
	orderID := f.seedOrder(partnerID, map[string]any{
		FieldState:       "draft",
		FieldStartDate:   "2024-12-18",
		FieldNextInvoice: "2025-01-18",
	})

	snapshot, err := f.offers.IssuePlusOffer(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "2024-12-18", snapshot.StartDate)
	assert.Equal(t, "2025-01-18", snapshot.NextInvoiceDate)

	reads := f.fake.CallsTo(OrderModel, "read")
	require.Len(t, reads, 1)
	assert.Equal(t, []any{[]any{float64(orderID)}}, reads[0].Args)

	cached, ok := f.cache.Get("ada@example.com")
	require.True(t, ok)
	assert.Equal(t, snapshot, cached)
}

func TestOfferEngine_IssuePlusOffer_ReadBackFailure(t *testing.T) {
	f := newFixture(t)
	f.seedPlusCatalog(true)
	f.offers.now = fixedClock(time.Date(2024, 12, 20, 9, 30, 0, 0, time.UTC))
	f.fake.FailNext(OrderModel, "read", services.WrapCrmUnavailable("read", errors.New("502")), 1)

	snapshot, err := f.offers.IssuePlusOffer(context.Background(), "ada@example.com")
	require.NoError(t, err, "the order is already confirmed")
	assert.Equal(t, models.SubscriptionSnapshot{
		Tier:            models.TierPlus,
		StartDate:       "2024-12-20",
		NextInvoiceDate: "2025-02-01",
	}, snapshot)
}

func TestOfferEngine_IssuePlusOffer_ExistingOrderCheckTimeout(t *testing.T) {
	f := newFixture(t)
	f.seedPlusCatalog(true)
	f.seedContact("ada@example.com")

	// Warm the cache so the only sale.order search left is the duplicate check
	_, err := f.service.Get(context.Background(), "ada@example.com")
	require.NoError(t, err)
	f.fake.FailNext(OrderModel, "search_read", services.WrapCrmUnavailable("search", context.DeadlineExceeded), 1)

	_, err = f.offers.IssuePlusOffer(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, services.ErrCrmUnavailable)
	assert.Empty(t, f.fake.CallsTo(OrderModel, "create"), "a failed check is never read as no subscription")
}

func TestOfferEngine_Expiry(t *testing.T) {
	engine := &OfferEngine{promotion: testPromotion}

	before := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, testPromotion.FixedExpiry, engine.Expiry(before))

	after := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC), engine.Expiry(after))
}

func TestAddCalendarMonth(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 12, 15, 8, 0, 0, 0, time.UTC), time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)},
		{time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in.Format("2006-01-02"), func(t *testing.T) {
			assert.Equal(t, tt.want, AddCalendarMonth(tt.in))
		})
	}
}
