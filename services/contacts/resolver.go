// Package contacts maps user emails to CRM partner records.
package contacts

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/crm"
)

const (
	// PartnerModel is the CRM model holding contacts
	PartnerModel = "res.partner"

	FieldEmail      = "email"
	FieldName       = "name"
	FieldLang       = "lang"
	FieldCreateDate = "create_date"

	searchOrder = "create_date desc, id desc"
)

// Resolver finds, creates and deletes contacts by email. The CRM search is
// the only lookup; no local mapping is kept.
type Resolver struct {
	rpc    crm.RPC
	logger *zap.Logger
}

// NewResolver creates a new contact resolver
func NewResolver(rpc crm.RPC, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{rpc: rpc, logger: logger}
}

// NormalizeEmail is the form contacts are stored and searched under
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Find returns the contact whose email equals email ignoring case, reading
// the given fields besides id and create_date. When several contacts share
// the email the most recently created wins, ties broken by highest id.
func (r *Resolver) Find(ctx context.Context, email string, fields ...string) (crm.Record, bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, false, services.ErrInvalidEmail
	}

	records, err := r.search(ctx, email, withDefaults(fields))
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	if len(records) > 1 {
		r.logger.Warn("duplicate contacts share an email",
			zap.String("email", email),
			zap.Int("count", len(records)),
			zap.Int64("selected_id", records[0].ID()),
		)
	}
	return records[0], true, nil
}

// Lookup returns the handle of an existing contact without creating one
func (r *Resolver) Lookup(ctx context.Context, email string) (models.ContactHandle, bool, error) {
	rec, found, err := r.Find(ctx, email)
	if err != nil || !found {
		return models.ContactHandle{}, found, err
	}
	return models.ContactHandle{ID: rec.ID(), Email: NormalizeEmail(email)}, true, nil
}

// Resolve returns the contact for email, creating a minimal one when none exists
func (r *Resolver) Resolve(ctx context.Context, email string) (models.ContactHandle, error) {
	handle, found, err := r.Lookup(ctx, email)
	if err != nil {
		return models.ContactHandle{}, err
	}
	if found {
		return handle, nil
	}

	email = NormalizeEmail(email)
	id, err := crm.Create(ctx, r.rpc, PartnerModel, map[string]any{
		FieldName:  email,
		FieldEmail: email,
	})
	if err != nil {
		return models.ContactHandle{}, err
	}

	r.logger.Info("created contact", zap.Int64("contact_id", id), zap.String("email", email))
	return models.ContactHandle{ID: id, Email: email, Created: true}, nil
}

// Create inserts a contact with the given values
func (r *Resolver) Create(ctx context.Context, values map[string]any) (int64, error) {
	return crm.Create(ctx, r.rpc, PartnerModel, values)
}

// Update writes values onto an existing contact
func (r *Resolver) Update(ctx context.Context, id int64, values map[string]any) error {
	return crm.Write(ctx, r.rpc, PartnerModel, []int64{id}, values)
}

// DeleteByEmail removes every contact with the given email and returns how
// many were removed, whatever the case of their stored address. Zero
// matches is not an error.
func (r *Resolver) DeleteByEmail(ctx context.Context, email string) (int, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return 0, services.ErrInvalidEmail
	}

	records, err := r.search(ctx, email, []string{crm.FieldID})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID())
	}
	if err := crm.Unlink(ctx, r.rpc, PartnerModel, ids); err != nil {
		return 0, err
	}

	r.logger.Info("deleted contacts", zap.String("email", email), zap.Int64s("contact_ids", ids))
	return len(ids), nil
}

func (r *Resolver) search(ctx context.Context, email string, fields []string) ([]crm.Record, error) {
	records, err := crm.SearchRead(ctx, r.rpc, PartnerModel,
		crm.Where(crm.EqualFold(FieldEmail, email)), fields, crm.SearchOptions{Order: searchOrder})
	if err != nil {
		return nil, err
	}

	// The server order is not trusted; sort again so the winner is stable
	sort.SliceStable(records, func(i, j int) bool {
		ci, _ := records[i].String(FieldCreateDate)
		cj, _ := records[j].String(FieldCreateDate)
		if ci != cj {
			return ci > cj
		}
		return records[i].ID() > records[j].ID()
	})
	return records, nil
}

func withDefaults(fields []string) []string {
	out := []string{crm.FieldID, FieldCreateDate}
	for _, f := range fields {
		if f != crm.FieldID && f != FieldCreateDate {
			out = append(out, f)
		}
	}
	return out
}
