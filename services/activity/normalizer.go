package activity

import (
	"strings"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
	"github.com/upb/activity-sync/services/contacts"
)

// Attribute names on identity provider users
const (
	AttrLocale           = "locale"
	AttrMarketingOptIn   = "marketingOptIn"
	AttrAnalyticsConsent = "analyticsConsent"
	AttrUserType         = "userType"
	AttrSourceMedium     = "sourceMedium"
)

const defaultLocale = "fr"

var crmLocales = map[string]string{
	"en": "en_US",
	"fr": "fr_FR",
	"de": "de_DE",
	"es": "es_ES",
	"it": "it_IT",
	"pt": "pt_PT",
}

// MapLocale converts a short or full locale to a CRM language code.
// Unknown locales fall back to en_US; an empty locale means French.
func MapLocale(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = defaultLocale
	}
	for _, full := range crmLocales {
		if locale == full {
			return full
		}
	}
	if full, ok := crmLocales[strings.ToLower(locale)]; ok {
		return full
	}
	return "en_US"
}

// FromWebhook normalizes a generic webhook payload
func FromWebhook(p models.WebhookPayload) (models.IdentityEvent, error) {
	action, err := models.ParseAction(p.Action)
	if err != nil {
		return models.IdentityEvent{}, services.Reject(services.ErrInvalidAction, err.Error())
	}

	return models.IdentityEvent{
		EventID:    strings.TrimSpace(p.EventID),
		Action:     action,
		UserID:     strings.TrimSpace(p.UserID),
		Email:      normalizeEmail(p.Email),
		FirstName:  strings.TrimSpace(p.FirstName),
		LastName:   strings.TrimSpace(p.LastName),
		ClientID:   strings.ToLower(strings.TrimSpace(p.ClientID)),
		Source:     strings.TrimSpace(p.Source),
		Locale:     strings.TrimSpace(p.Locale),
		CreatedAt:  p.CreatedAt.Millis(),
		OccurredAt: p.Timestamp.Millis(),
	}, nil
}

// FromPictalk normalizes the messaging app payload, which always belongs to
// the pictalk client and only reports registrations and logins.
func FromPictalk(p models.PictalkWebhookPayload) (models.IdentityEvent, error) {
	action, err := models.ParseAction(p.Action)
	if err != nil {
		return models.IdentityEvent{}, services.Reject(services.ErrInvalidAction, err.Error())
	}
	if action != models.ActionRegister && action != models.ActionLogin {
		return models.IdentityEvent{}, services.Reject(services.ErrInvalidAction, "pictalk webhook only accepts REGISTER and LOGIN")
	}

	return models.IdentityEvent{
		EventID:    strings.TrimSpace(p.EventID),
		Action:     action,
		UserID:     strings.TrimSpace(p.UserID),
		Email:      normalizeEmail(p.Email),
		FirstName:  strings.TrimSpace(p.FirstName),
		LastName:   strings.TrimSpace(p.LastName),
		ClientID:   ClientPictalk,
		Locale:     strings.TrimSpace(p.Language),
		CreatedAt:  p.CreatedDate.Millis(),
		OccurredAt: p.Timestamp.Millis(),
	}, nil
}

// CheckComplete returns ErrIncompleteEvent when the event lacks the identity
// fields its action needs and must be backfilled from the identity provider.
// Deletions only need an email; newsletter signups are never backfilled.
func CheckComplete(evt models.IdentityEvent) error {
	switch {
	case evt.Action == models.ActionNewsletter:
		if evt.Email == "" {
			return services.Reject(services.ErrInvalidInput, "newsletter signup requires an email")
		}
		return nil
	case evt.Action.IsDeletion():
		if evt.Email != "" {
			return nil
		}
	case evt.HasIdentity():
		return nil
	}
	return services.ErrIncompleteEvent
}

// Backfill merges an identity provider user into the event. Payload values
// win over provider values except for the identity fields the event lacks.
func Backfill(evt models.IdentityEvent, user *models.UserRecord) models.IdentityEvent {
	if evt.Email == "" {
		evt.Email = normalizeEmail(user.Email)
	}
	if evt.FirstName == "" {
		evt.FirstName = strings.TrimSpace(user.FirstName)
	}
	if evt.LastName == "" {
		evt.LastName = strings.TrimSpace(user.LastName)
	}
	if evt.Locale == "" {
		evt.Locale, _ = user.Attribute(AttrLocale)
	}
	if evt.Source == "" {
		evt.Source, _ = user.Attribute(AttrSourceMedium)
	}
	if evt.UserType == "" {
		evt.UserType, _ = user.Attribute(AttrUserType)
	}
	if evt.MarketingOptIn == nil {
		evt.MarketingOptIn = user.Flag(AttrMarketingOptIn)
	}
	if evt.AnalyticsConsent == nil {
		evt.AnalyticsConsent = user.Flag(AttrAnalyticsConsent)
	}
	if evt.CreatedAt == 0 && user.CreatedTimestamp > 0 {
		evt.CreatedAt = models.NormalizeEpochMillis(user.CreatedTimestamp)
	}
	return evt
}

func normalizeEmail(email string) string {
	return contacts.NormalizeEmail(email)
}
