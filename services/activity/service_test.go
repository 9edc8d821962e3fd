package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/contacts"
	"github.com/upb/activity-sync/services/crm"
	"github.com/upb/activity-sync/services/crm/crmtest"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Claim(ctx context.Context, key, action string) (bool, error) {
	args := m.Called(ctx, key, action)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockLedger) Purge(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockIdentityProvider struct {
	mock.Mock
}

func (m *mockIdentityProvider) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserRecord), args.Error(1)
}

type invalidations []string

func (i *invalidations) Invalidate(email string) { *i = append(*i, email) }

type countingRecorder map[Outcome]int

func (c countingRecorder) RecordOutcome(_ models.Action, outcome Outcome) { c[outcome]++ }

func (c countingRecorder) RecordFailure(models.Action) { c[outcomeFailed]++ }

const outcomeFailed Outcome = "failed"

// memoryLedger behaves like the Postgres ledger
type memoryLedger map[string]bool

func (l memoryLedger) Claim(_ context.Context, key, _ string) (bool, error) {
	if l[key] {
		return false, nil
	}
	l[key] = true
	return true, nil
}

func (l memoryLedger) Release(_ context.Context, key string) error {
	delete(l, key)
	return nil
}

func (l memoryLedger) Purge(context.Context, time.Time) (int64, error) { return 0, nil }

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T, opts ...Option) (*Service, *crmtest.Fake, *clock) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	fake := crmtest.New()
	clk := &clock{now: t0}
	fake.Now = clk.Now
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return NewService(contacts.NewResolver(fake, logger), logger, opts...), fake, clk
}

func loginEvent(client string) models.IdentityEvent {
	return models.IdentityEvent{
		Action:    models.ActionLogin,
		UserID:    "kc-1",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		ClientID:  client,
		Locale:    "en",
	}
}

func TestService_Handle_MetricsSequence(t *testing.T) {
	ctx := context.Background()
	svc, fake, clk := newTestService(t)
	evt := loginEvent(ClientPictime)
	evt.CreatedAt = models.NormalizeEpochMillis(1700000000)

	res, err := svc.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, res.Outcome)
	assert.True(t, res.Created)

	contact := fake.Get(contacts.PartnerModel, res.ContactID)
	require.NotNil(t, contact)
	assert.Equal(t, "Ada Lovelace", contact[FieldName])
	assert.Equal(t, "en_US", contact[FieldLang])
	assert.Equal(t, float64(1), contact["x_studio_nombre_de_connexions_agenda"])
	assert.Equal(t, float64(1), contact["x_studio_frquence_de_connexion_agenda"])
	assert.Equal(t, "2025-03-10 08:00:00", contact["x_studio_dernire_connexion_agenda"])
	assert.Equal(t, "2023-11-14 22:13:20", contact["x_studio_cration_du_compte_keycloak"])

	clk.now = t0.Add(5 * 24 * time.Hour)
	evt.CreatedAt = models.NormalizeEpochMillis(1600000000)
	res, err = svc.Handle(ctx, evt)
	require.NoError(t, err)
	assert.False(t, res.Created)

	contact = fake.Get(contacts.PartnerModel, res.ContactID)
	assert.Equal(t, float64(2), contact["x_studio_nombre_de_connexions_agenda"])
	assert.InDelta(t, 0.4, contact["x_studio_frquence_de_connexion_agenda"], 1e-9)
	assert.Equal(t, "2023-11-14 22:13:20", contact["x_studio_cration_du_compte_keycloak"], "creation date is written once")

	clk.now = clk.now.Add(3 * time.Hour)
	res, err = svc.Handle(ctx, evt)
	require.NoError(t, err)

	contact = fake.Get(contacts.PartnerModel, res.ContactID)
	assert.Equal(t, float64(3), contact["x_studio_nombre_de_connexions_agenda"])
	assert.InDelta(t, 0.4, contact["x_studio_frquence_de_connexion_agenda"], 1e-9, "same-day login keeps the frequency")
	assert.Len(t, fake.All(contacts.PartnerModel), 1)
}

func TestService_Handle_ClientProfiles(t *testing.T) {
	ctx := context.Background()

	t.Run("last login only", func(t *testing.T) {
		svc, fake, _ := newTestService(t)
		res, err := svc.Handle(ctx, loginEvent(ClientMaker))
		require.NoError(t, err)
		assert.Equal(t, OutcomeSynced, res.Outcome)

		contact := fake.Get(contacts.PartnerModel, res.ContactID)
		assert.Equal(t, "2025-03-10 08:00:00", contact["x_studio_lastlogin_creator"])
		assert.NotContains(t, contact, "x_studio_nombre_de_connexions_agenda")
	})

	t.Run("unknown client gets identity fields only", func(t *testing.T) {
		svc, fake, _ := newTestService(t)
		res, err := svc.Handle(ctx, loginEvent("backoffice"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoMetrics, res.Outcome)

		contact := fake.Get(contacts.PartnerModel, res.ContactID)
		assert.Equal(t, "ada@example.com", contact[FieldEmail])
		for k := range contact {
			assert.NotContains(t, k, "connexion")
		}
	})
}

func TestService_Handle_IdentityAttributes(t *testing.T) {
	svc, fake, _ := newTestService(t)
	optIn, consent := false, true
	evt := loginEvent("")
	evt.Locale = ""
	evt.Source = "newsletter"
	evt.UserType = "therapist"
	evt.MarketingOptIn = &optIn
	evt.AnalyticsConsent = &consent

	res, err := svc.Handle(context.Background(), evt)
	require.NoError(t, err)

	contact := fake.Get(contacts.PartnerModel, res.ContactID)
	assert.Equal(t, "fr_FR", contact[FieldLang])
	assert.Equal(t, "newsletter", contact[FieldSource])
	assert.Equal(t, "therapist", contact[FieldUserType])
	assert.Equal(t, false, contact[FieldMarketing])
	assert.Equal(t, true, contact[FieldAnalytics])

	t.Run("absent flags are left alone", func(t *testing.T) {
		evt.MarketingOptIn, evt.AnalyticsConsent = nil, nil
		_, err := svc.Handle(context.Background(), evt)
		require.NoError(t, err)

		contact := fake.Get(contacts.PartnerModel, res.ContactID)
		assert.Equal(t, false, contact[FieldMarketing])
		assert.Equal(t, true, contact[FieldAnalytics])
	})
}

func TestService_Handle_Redelivery(t *testing.T) {
	ctx := context.Background()
	ledger := memoryLedger{}
	recorder := countingRecorder{}
	svc, fake, clk := newTestService(t, WithLedger(ledger), WithRecorder(recorder))

	evt := loginEvent(ClientPictime)
	evt.OccurredAt = t0.UnixMilli()

	_, err := svc.Handle(ctx, evt)
	require.NoError(t, err)

	res, err := svc.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	contact := fake.All(contacts.PartnerModel)[0]
	assert.Equal(t, float64(1), contact["x_studio_nombre_de_connexions_agenda"], "redelivery does not count")

	clk.now = t0.Add(time.Hour)
	evt.OccurredAt = clk.now.UnixMilli()
	res, err = svc.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, res.Outcome)

	contact = fake.All(contacts.PartnerModel)[0]
	assert.Equal(t, float64(2), contact["x_studio_nombre_de_connexions_agenda"], "a second genuine login counts")
	assert.Equal(t, 2, recorder[OutcomeSynced])
	assert.Equal(t, 1, recorder[OutcomeDuplicate])
}

func TestService_Handle_ReleasesClaimOnFailure(t *testing.T) {
	ctx := context.Background()
	ledger := new(mockLedger)
	recorder := countingRecorder{}
	svc, fake, _ := newTestService(t, WithLedger(ledger), WithRecorder(recorder))

	evt := loginEvent(ClientPictime)
	evt.EventID = "evt-42"

	ledger.On("Claim", mock.Anything, "id:evt-42", "LOGIN").Return(true, nil)
	ledger.On("Release", mock.Anything, "id:evt-42").Return(nil)
	fake.FailNext(contacts.PartnerModel, "search_read", services.WrapCrmUnavailable("search", context.DeadlineExceeded), 1)

	_, err := svc.Handle(ctx, evt)
	assert.ErrorIs(t, err, services.ErrCrmUnavailable)
	ledger.AssertExpectations(t)
	assert.Equal(t, 1, recorder[outcomeFailed])
	assert.Zero(t, recorder[OutcomeSynced])
}

// cancellingStore fails the lookup the way a client hanging up mid-call does
type cancellingStore struct {
	ContactStore
	cancel context.CancelFunc
}

func (c cancellingStore) Find(ctx context.Context, _ string, _ ...string) (crm.Record, bool, error) {
	c.cancel()
	return nil, false, services.WrapCrmUnavailable("search", ctx.Err())
}

func TestService_Handle_ReleasesClaimAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zaptest.NewLogger(t)
	ledger := new(mockLedger)
	store := cancellingStore{ContactStore: contacts.NewResolver(crmtest.New(), logger), cancel: cancel}
	svc := NewService(store, logger, WithLedger(ledger))

	evt := loginEvent(ClientPictime)
	evt.EventID = "evt-7"

	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	ledger.On("Claim", mock.Anything, "id:evt-7", "LOGIN").Return(true, nil)
	ledger.On("Release", live, "id:evt-7").Return(nil)

	_, err := svc.Handle(ctx, evt)
	assert.ErrorIs(t, err, services.ErrCrmUnavailable)
	require.Error(t, ctx.Err())
	ledger.AssertExpectations(t)
}

func TestService_Handle_LedgerError(t *testing.T) {
	ledger := new(mockLedger)
	svc, fake, _ := newTestService(t, WithLedger(ledger))

	evt := loginEvent(ClientPictime)
	evt.EventID = "evt-1"
	ledger.On("Claim", mock.Anything, "id:evt-1", "LOGIN").Return(false, errors.New("connection reset"))

	_, err := svc.Handle(context.Background(), evt)
	assert.True(t, services.IsInternalError(err))
	assert.Empty(t, fake.Calls())
}

func TestService_Handle_NoKeyNoLedger(t *testing.T) {
	ledger := new(mockLedger)
	svc, _, _ := newTestService(t, WithLedger(ledger))

	_, err := svc.Handle(context.Background(), loginEvent(ClientPictime))
	require.NoError(t, err)
	ledger.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Handle_Backfill(t *testing.T) {
	ctx := context.Background()

	t.Run("incomplete event is backfilled", func(t *testing.T) {
		idp := new(mockIdentityProvider)
		svc, fake, _ := newTestService(t, WithIdentityProvider(idp))
		idp.On("GetUser", mock.Anything, "kc-7").Return(&models.UserRecord{
			ID:        "kc-7",
			Email:     "grace@example.com",
			FirstName: "Grace",
			LastName:  "Hopper",
			Attributes: map[string][]string{
				AttrLocale:         {"de"},
				AttrMarketingOptIn: {"on"},
			},
		}, nil)

		res, err := svc.Handle(ctx, models.IdentityEvent{Action: models.ActionRegister, UserID: "kc-7", ClientID: ClientPictalk})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSynced, res.Outcome)

		contact := fake.Get(contacts.PartnerModel, res.ContactID)
		assert.Equal(t, "grace@example.com", contact[FieldEmail])
		assert.Equal(t, "Grace Hopper", contact[FieldName])
		assert.Equal(t, "de_DE", contact[FieldLang])
		assert.Equal(t, true, contact[FieldMarketing])
		idp.AssertExpectations(t)
	})

	t.Run("deleted user is skipped", func(t *testing.T) {
		idp := new(mockIdentityProvider)
		svc, fake, _ := newTestService(t, WithIdentityProvider(idp))
		idp.On("GetUser", mock.Anything, "kc-gone").Return(nil, services.ErrUserNotFound)

		res, err := svc.Handle(ctx, models.IdentityEvent{Action: models.ActionLogin, UserID: "kc-gone", ClientID: ClientPictime})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Empty(t, fake.Calls())
	})

	t.Run("user without email is skipped", func(t *testing.T) {
		idp := new(mockIdentityProvider)
		svc, _, _ := newTestService(t, WithIdentityProvider(idp))
		idp.On("GetUser", mock.Anything, "kc-8").Return(&models.UserRecord{ID: "kc-8"}, nil)

		res, err := svc.Handle(ctx, models.IdentityEvent{Action: models.ActionLogin, UserID: "kc-8"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
	})

	t.Run("provider outage is returned", func(t *testing.T) {
		idp := new(mockIdentityProvider)
		svc, _, _ := newTestService(t, WithIdentityProvider(idp))
		idp.On("GetUser", mock.Anything, "kc-9").Return(nil, services.WrapIdentityProviderUnavailable("get user", errors.New("503")))

		_, err := svc.Handle(ctx, models.IdentityEvent{Action: models.ActionLogin, UserID: "kc-9"})
		assert.ErrorIs(t, err, services.ErrIdentityProviderUnavailable)
	})

	t.Run("no provider configured", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.Handle(ctx, models.IdentityEvent{Action: models.ActionLogin, UserID: "kc-9"})
		assert.ErrorIs(t, err, services.ErrIncompleteEvent)
	})
}

func TestService_Handle_Delete(t *testing.T) {
	ctx := context.Background()
	subs := &invalidations{}
	idp := new(mockIdentityProvider)
	svc, fake, _ := newTestService(t, WithSubscriptions(subs), WithIdentityProvider(idp))
	fake.Seed(contacts.PartnerModel, map[string]any{"email": "ada@example.com"})
	fake.Seed(contacts.PartnerModel, map[string]any{"email": "ada@example.com"})
	fake.Seed(contacts.PartnerModel, map[string]any{"email": "other@example.com"})

	res, err := svc.Handle(ctx, models.IdentityEvent{Action: models.ActionDeleteAccount, Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, res.Outcome)
	assert.Equal(t, 2, res.Deleted)
	assert.Len(t, fake.All(contacts.PartnerModel), 1)
	assert.Equal(t, []string{"ada@example.com"}, []string(*subs))
	idp.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything)

	res, err = svc.Handle(ctx, models.IdentityEvent{Action: models.ActionDelete, Email: "nobody@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deleted)
}

func TestService_Handle_Newsletter(t *testing.T) {
	svc, fake, _ := newTestService(t)

	res, err := svc.Handle(context.Background(), models.IdentityEvent{
		Action:   models.ActionNewsletter,
		Email:    "reader@example.com",
		ClientID: ClientPictime,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMetrics, res.Outcome)

	contact := fake.Get(contacts.PartnerModel, res.ContactID)
	assert.Equal(t, "reader@example.com", contact[FieldName])
	assert.NotContains(t, contact, "x_studio_nombre_de_connexions_agenda")

	_, err = svc.Handle(context.Background(), models.IdentityEvent{Action: models.ActionNewsletter})
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestService_Activity(t *testing.T) {
	ctx := context.Background()
	svc, fake, _ := newTestService(t)
	fake.Seed(contacts.PartnerModel, map[string]any{
		"email":                                 "ada@example.com",
		"create_date":                           "2024-01-05 10:00:00",
		"x_studio_dernire_connexion_pictalk":    "2025-03-01 09:15:00",
		"x_studio_nombre_de_connexions_pictalk": 12,
	})

	summary, err := svc.Activity(ctx, "ada@example.com", "Pictalk")
	require.NoError(t, err)
	assert.Equal(t, models.ActivitySummary{
		LastActivity:     "2025-03-01 09:15:00",
		ConnectionNumber: 12,
		CreatedDate:      "2024-01-05 10:00:00",
	}, summary)

	_, err = svc.Activity(ctx, "ada@example.com", ClientMaker)
	assert.ErrorIs(t, err, services.ErrUnknownClient)

	_, err = svc.Activity(ctx, "missing@example.com", ClientPictime)
	assert.ErrorIs(t, err, services.ErrContactNotFound)
}
