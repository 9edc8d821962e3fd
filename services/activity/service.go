// Package activity reconciles identity provider events into CRM contacts and
// keeps the per-client engagement metrics on them.
package activity

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/repositories"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/crm"
)

// Contact identity fields written on every sync
const (
	FieldName       = "name"
	FieldEmail      = "email"
	FieldLang       = "lang"
	FieldSource     = "x_studio_source"
	FieldMarketing  = "x_studio_marketing"
	FieldUserType   = "x_studio_type_dutilisateur"
	FieldAnalytics  = "x_studio_analytics"
	fieldCreateDate = "create_date"
)

// releaseTimeout bounds the claim release after a failed delivery
const releaseTimeout = 5 * time.Second

// Outcome describes what happened to one delivery
type Outcome string

const (
	OutcomeSynced    Outcome = "synced"
	OutcomeNoMetrics Outcome = "synced_no_metrics"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
)

// Result is returned for every handled delivery
type Result struct {
	Outcome   Outcome `json:"outcome"`
	ContactID int64   `json:"contactId,omitempty"`
	Created   bool    `json:"created,omitempty"`
	Deleted   int     `json:"deleted,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// IdentityProvider fetches users to backfill incomplete events
type IdentityProvider interface {
	GetUser(ctx context.Context, userID string) (*models.UserRecord, error)
}

// ContactStore is the CRM contact surface the sync needs
type ContactStore interface {
	Find(ctx context.Context, email string, fields ...string) (crm.Record, bool, error)
	Create(ctx context.Context, values map[string]any) (int64, error)
	Update(ctx context.Context, id int64, values map[string]any) error
	DeleteByEmail(ctx context.Context, email string) (int, error)
}

// SubscriptionInvalidator drops cached subscription state for an email
type SubscriptionInvalidator interface {
	Invalidate(email string)
}

// Recorder counts delivery outcomes
type Recorder interface {
	RecordOutcome(action models.Action, outcome Outcome)
	RecordFailure(action models.Action)
}

// Service handles normalized identity events
type Service struct {
	contacts      ContactStore
	idp           IdentityProvider
	ledger        repositories.DeliveryLedger
	subscriptions SubscriptionInvalidator
	profiles      Profiles
	recorder      Recorder
	now           func() time.Time
	logger        *zap.Logger
}

// Option configures optional collaborators of the service
type Option func(*Service)

// WithLedger enables redelivery detection
func WithLedger(ledger repositories.DeliveryLedger) Option {
	return func(s *Service) { s.ledger = ledger }
}

// WithIdentityProvider enables backfilling incomplete events
func WithIdentityProvider(idp IdentityProvider) Option {
	return func(s *Service) { s.idp = idp }
}

// WithSubscriptions invalidates cached subscriptions on contact deletion
func WithSubscriptions(subs SubscriptionInvalidator) Option {
	return func(s *Service) { s.subscriptions = subs }
}

// WithRecorder reports outcomes to r
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithProfiles overrides the client field map
func WithProfiles(p Profiles) Option {
	return func(s *Service) { s.profiles = p }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new activity service
func NewService(contacts ContactStore, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		contacts: contacts,
		profiles: DefaultProfiles(),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle processes one normalized event. A redelivered event is reported
// as a duplicate without touching the CRM. Failed deliveries release their
// ledger claim so the sender can retry them.
func (s *Service) Handle(ctx context.Context, evt models.IdentityEvent) (Result, error) {
	result, err := s.handle(ctx, evt)
	if s.recorder != nil {
		if err != nil {
			s.recorder.RecordFailure(evt.Action)
		} else {
			s.recorder.RecordOutcome(evt.Action, result.Outcome)
		}
	}
	return result, err
}

func (s *Service) handle(ctx context.Context, evt models.IdentityEvent) (Result, error) {
	evt, skip, err := s.complete(ctx, evt)
	if err != nil {
		return Result{}, err
	}
	if skip != "" {
		s.logger.Info("skipping event",
			zap.String("action", string(evt.Action)),
			zap.String("user_id", evt.UserID),
			zap.String("reason", skip),
		)
		return Result{Outcome: OutcomeSkipped, Reason: skip}, nil
	}

	key := DeriveKey(evt)
	if key != "" && s.ledger != nil {
		claimed, err := s.ledger.Claim(ctx, key, string(evt.Action))
		if err != nil {
			return Result{}, services.WrapInternal("claim delivery", err)
		}
		if !claimed {
			s.logger.Info("duplicate delivery ignored",
				zap.String("action", string(evt.Action)),
				zap.String("delivery_key", key),
			)
			return Result{Outcome: OutcomeDuplicate}, nil
		}
	}

	var result Result
	if evt.Action.IsDeletion() {
		result, err = s.deleteContact(ctx, evt)
	} else {
		result, err = s.syncContact(ctx, evt)
	}
	if err != nil {
		if key != "" && s.ledger != nil {
			s.release(ctx, key)
		}
		return Result{}, err
	}
	return result, nil
}

// release frees a claim so the redelivery is processed. It outlives the
// request context, which is often the reason the delivery failed.
func (s *Service) release(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.ledger.Release(ctx, key); err != nil {
		s.logger.Error("failed to release delivery claim",
			zap.String("delivery_key", key),
			zap.Error(err),
		)
	}
}

// complete backfills an incomplete event from the identity provider. A
// non-empty skip reason means the event cannot be processed and is dropped.
func (s *Service) complete(ctx context.Context, evt models.IdentityEvent) (models.IdentityEvent, string, error) {
	err := CheckComplete(evt)
	if err == nil {
		return evt, "", nil
	}
	if !services.IsIncompleteError(err) {
		return evt, "", err
	}
	if s.idp == nil || evt.UserID == "" {
		return evt, "", err
	}

	user, err := s.idp.GetUser(ctx, evt.UserID)
	if err != nil {
		if services.IsNotFoundError(err) {
			return evt, "user no longer exists", nil
		}
		return evt, "", err
	}

	evt = Backfill(evt, user)
	if evt.Email == "" {
		return evt, "user has no email", nil
	}
	return evt, "", nil
}

func (s *Service) deleteContact(ctx context.Context, evt models.IdentityEvent) (Result, error) {
	n, err := s.contacts.DeleteByEmail(ctx, evt.Email)
	if err != nil {
		return Result{}, err
	}
	if s.subscriptions != nil {
		s.subscriptions.Invalidate(evt.Email)
	}
	return Result{Outcome: OutcomeDeleted, Deleted: n}, nil
}

func (s *Service) syncContact(ctx context.Context, evt models.IdentityEvent) (Result, error) {
	profile, tracked := s.profiles.Lookup(evt.ClientID)
	tracked = tracked && evt.Action != models.ActionNewsletter

	var fields []string
	if tracked {
		fields = profile.Fields()
	}
	rec, found, err := s.contacts.Find(ctx, evt.Email, fields...)
	if err != nil {
		return Result{}, err
	}

	values := identityValues(evt)
	outcome := OutcomeNoMetrics
	if tracked {
		var previous *models.ClientActivity
		if found {
			previous = profile.Snapshot(rec)
		}
		metrics := ComputeMetrics(previous, s.now().UTC(), evt.CreatedTime())
		for k, v := range profile.Values(metrics) {
			values[k] = v
		}
		outcome = OutcomeSynced
	}

	if found {
		if err := s.contacts.Update(ctx, rec.ID(), values); err != nil {
			return Result{}, err
		}
		s.logger.Info("updated contact",
			zap.String("action", string(evt.Action)),
			zap.String("client_id", evt.ClientID),
			zap.Int64("contact_id", rec.ID()),
			zap.String("outcome", string(outcome)),
		)
		return Result{Outcome: outcome, ContactID: rec.ID()}, nil
	}

	id, err := s.contacts.Create(ctx, values)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("created contact",
		zap.String("action", string(evt.Action)),
		zap.String("client_id", evt.ClientID),
		zap.Int64("contact_id", id),
		zap.String("outcome", string(outcome)),
	)
	return Result{Outcome: outcome, ContactID: id, Created: true}, nil
}

func identityValues(evt models.IdentityEvent) map[string]any {
	values := map[string]any{
		FieldEmail: evt.Email,
		FieldLang:  MapLocale(evt.Locale),
	}
	if name := evt.DisplayName(); name != "" {
		values[FieldName] = name
	} else {
		values[FieldName] = evt.Email
	}
	if evt.Source != "" {
		values[FieldSource] = evt.Source
	}
	if evt.MarketingOptIn != nil {
		values[FieldMarketing] = *evt.MarketingOptIn
	}
	if evt.AnalyticsConsent != nil {
		values[FieldAnalytics] = *evt.AnalyticsConsent
	}
	if evt.UserType != "" {
		values[FieldUserType] = evt.UserType
	}
	return values
}

// Activity returns the engagement summary of one client for a contact.
// Only clients tracking login counts can be queried. The creation date is
// the contact's, not the client account's.
func (s *Service) Activity(ctx context.Context, email, clientID string) (models.ActivitySummary, error) {
	profile, ok := s.profiles.Lookup(strings.ToLower(strings.TrimSpace(clientID)))
	if !ok || !profile.TracksEngagement() {
		return models.ActivitySummary{}, services.Reject(services.ErrUnknownClient, "client has no tracked activity").
			WithDetail("client_id", clientID)
	}

	rec, found, err := s.contacts.Find(ctx, email, profile.Fields()...)
	if err != nil {
		return models.ActivitySummary{}, err
	}
	if !found {
		return models.ActivitySummary{}, services.ErrContactNotFound
	}

	var summary models.ActivitySummary
	if snapshot := profile.Snapshot(rec); snapshot != nil {
		summary.ConnectionNumber = snapshot.LoginCount
		if snapshot.LastLogin != nil {
			summary.LastActivity = crm.FormatDateTime(*snapshot.LastLogin)
		}
	}
	if created, ok := rec.Time(fieldCreateDate); ok {
		summary.CreatedDate = crm.FormatDateTime(*created)
	}
	return summary, nil
}
