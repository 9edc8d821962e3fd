package leads

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/crm/crmtest"
)

func TestService_CreateLead(t *testing.T) {
	fake := crmtest.New()
	franceID := fake.Seed(CountryModel, map[string]any{"code": "FR", "name": "France"})
	svc := NewService(fake, zap.NewNop())

	id, err := svc.CreateLead(context.Background(), models.Lead{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "ada@example.com",
		Company:     "Analytical Engines",
		CompanySize: "10-50",
		Profession:  "Speech therapist",
		Country:     "fr",
	})
	require.NoError(t, err)

	lead := fake.Get(LeadModel, id)
	require.NotNil(t, lead)
	assert.Equal(t, "Ada Lovelace", lead["name"])
	assert.Equal(t, "Ada Lovelace", lead["contact_name"])
	assert.Equal(t, "ada@example.com", lead["email_from"])
	assert.Equal(t, "Analytical Engines", lead["partner_name"])
	assert.Equal(t, "Company Size: 10-50, Profession: Speech therapist", lead["description"])
	assert.Equal(t, float64(franceID), lead["country_id"])
}

func TestService_CreateLead_OptionalFields(t *testing.T) {
	fake := crmtest.New()
	svc := NewService(fake, nil)

	id, err := svc.CreateLead(context.Background(), models.Lead{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "ada@example.com",
		CompanySize: "10-50",
	})
	require.NoError(t, err)

	lead := fake.Get(LeadModel, id)
	assert.NotContains(t, lead, "description", "description needs both size and profession")
	assert.NotContains(t, lead, "partner_name")
	assert.NotContains(t, lead, "country_id")
	assert.Empty(t, fake.CallsTo(CountryModel, "search_read"))
}

func TestService_CreateLead_UnknownCountry(t *testing.T) {
	fake := crmtest.New()
	svc := NewService(fake, nil)

	_, err := svc.CreateLead(context.Background(), models.Lead{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Country:   "zz",
	})
	assert.ErrorIs(t, err, services.ErrCountryNotFound)
	assert.Equal(t, "ZZ", services.GetErrorDetails(err)["country"])
	assert.Empty(t, fake.All(LeadModel))
}
