package subscription

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/contacts"
)

func TestService_Get_ReadThrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.seedContact("ada@example.com")
	f.seedOrder(partnerID, map[string]any{FieldSubState: SubscriptionInProgress}, f.seedProduct("Agenda Pro", 29.99))

	got, err := f.service.Get(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, got.Tier)

	calls := len(f.fake.Calls())
	got, err = f.service.Get(ctx, "ADA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, got.Tier)
	assert.Len(t, f.fake.Calls(), calls, "second read is served from cache")
}

func TestService_Get_NoContact(t *testing.T) {
	f := newFixture(t)

	got, err := f.service.Get(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.BasicSnapshot(), got)
	assert.Empty(t, f.fake.CallsTo(contacts.PartnerModel, "create"))

	cached, ok := f.cache.Get("ghost@example.com")
	assert.True(t, ok)
	assert.Equal(t, models.TierBasic, cached.Tier)
}

func TestService_Get_FailureNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.seedContact("ada@example.com")
	f.seedOrder(partnerID, map[string]any{FieldSubState: SubscriptionInProgress}, f.seedProduct("Agenda Plus", 9.99))
	f.fake.FailNext(OrderModel, "search_read", services.WrapCrmUnavailable("search", errors.New("deadline")), 1)

	_, err := f.service.Get(ctx, "ada@example.com")
	assert.ErrorIs(t, err, services.ErrCrmUnavailable)
	_, ok := f.cache.Get("ada@example.com")
	assert.False(t, ok, "a failed resolution must not populate the cache")

	got, err := f.service.Get(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.TierPlus, got.Tier)
}

func TestService_Invalidate(t *testing.T) {
	f := newFixture(t)
	f.service.Store("ada@example.com", models.SubscriptionSnapshot{Tier: models.TierPlus}, 0)

	f.service.Invalidate("ada@example.com")

	_, ok := f.cache.Get("ada@example.com")
	assert.False(t, ok)
	assert.Equal(t, 0, f.service.CacheStats().Size)
}
