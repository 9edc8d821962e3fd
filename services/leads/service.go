// Package leads records business contact form submissions as CRM leads.
package leads

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/crm"
)

const (
	LeadModel    = "crm.lead"
	CountryModel = "res.country"
)

// Service creates leads in the CRM
type Service struct {
	rpc    crm.RPC
	logger *zap.Logger
}

// NewService creates a new lead service
func NewService(rpc crm.RPC, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rpc: rpc, logger: logger}
}

// CreateLead creates a crm.lead from a validated form submission and
// returns its id. A country code unknown to the CRM fails the request
// before anything is written.
func (s *Service) CreateLead(ctx context.Context, lead models.Lead) (int64, error) {
	name := strings.TrimSpace(strings.TrimSpace(lead.FirstName) + " " + strings.TrimSpace(lead.LastName))
	values := map[string]any{
		"name":         name,
		"contact_name": name,
		"email_from":   strings.TrimSpace(lead.Email),
	}
	if lead.Company != "" {
		values["partner_name"] = lead.Company
	}
	if lead.CompanySize != "" && lead.Profession != "" {
		values["description"] = fmt.Sprintf("Company Size: %s, Profession: %s", lead.CompanySize, lead.Profession)
	}
	if lead.Country != "" {
		countryID, err := s.countryID(ctx, lead.Country)
		if err != nil {
			return 0, err
		}
		values["country_id"] = countryID
	}

	id, err := crm.Create(ctx, s.rpc, LeadModel, values)
	if err != nil {
		s.logger.Error("failed to create lead", zap.String("email", lead.Email), zap.Error(err))
		return 0, err
	}

	s.logger.Info("created lead", zap.Int64("lead_id", id), zap.String("email", lead.Email))
	return id, nil
}

func (s *Service) countryID(ctx context.Context, code string) (int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	records, err := crm.SearchRead(ctx, s.rpc, CountryModel,
		crm.Where(crm.Eq("code", code)), []string{crm.FieldID}, crm.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, services.Reject(services.ErrCountryNotFound, "country not found").WithDetail("country", code)
	}
	return records[0].ID(), nil
}
