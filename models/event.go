package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action represents an identity lifecycle action reported by a client application
type Action string

const (
	ActionRegister      Action = "REGISTER"
	ActionLogin         Action = "LOGIN"
	ActionDelete        Action = "DELETE"
	ActionDeleteAccount Action = "DELETE_ACCOUNT"
	ActionNewsletter    Action = "NEWSLETTER"
)

// ParseAction parses a webhook action, case-insensitively
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionRegister, ActionLogin, ActionDelete, ActionDeleteAccount, ActionNewsletter:
		return a, nil
	}
	return "", fmt.Errorf("unsupported action %q", s)
}

// IsDeletion returns true for actions that remove the contact
func (a Action) IsDeletion() bool {
	return a == ActionDelete || a == ActionDeleteAccount
}

// IsSync returns true for actions that create or update the contact
func (a Action) IsSync() bool {
	return a == ActionRegister || a == ActionLogin || a == ActionNewsletter
}

// secondsThreshold separates epoch seconds from epoch milliseconds.
// 1e11 seconds is year 5138; 1e11 milliseconds is March 1973.
const secondsThreshold = 1e11

// NormalizeEpochMillis converts an epoch value that may be in seconds or
// milliseconds to milliseconds.
func NormalizeEpochMillis(v int64) int64 {
	if v > 0 && v < secondsThreshold {
		return v * 1000
	}
	return v
}

// EpochMillisToTime converts epoch milliseconds to a UTC time
func EpochMillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// IdentityEvent is the canonical shape of a webhook delivery once normalized.
// CreatedAt and OccurredAt are epoch milliseconds, zero when unknown.
type IdentityEvent struct {
	EventID    string
	Action     Action
	UserID     string
	Email      string
	FirstName  string
	LastName   string
	ClientID   string
	Source     string
	Locale     string
	CreatedAt  int64
	OccurredAt int64

	// Profile attributes, only known once backfilled from the identity provider
	MarketingOptIn   *bool
	AnalyticsConsent *bool
	UserType         string
}

// DisplayName returns the trimmed "first last" name
func (e *IdentityEvent) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(e.FirstName) + " " + strings.TrimSpace(e.LastName))
}

// HasIdentity reports whether email, first name and last name are all present
func (e *IdentityEvent) HasIdentity() bool {
	return e.Email != "" && e.FirstName != "" && e.LastName != ""
}

// CreatedTime returns the account creation time, or nil when unknown
func (e *IdentityEvent) CreatedTime() *time.Time {
	if e.CreatedAt <= 0 {
		return nil
	}
	t := EpochMillisToTime(e.CreatedAt)
	return &t
}

// Timestamp is an epoch value in a webhook payload. It accepts JSON numbers
// (seconds or milliseconds), numeric strings and RFC 3339 strings, and
// always holds milliseconds after decoding.
type Timestamp int64

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = 0
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return t.setNumber(string(n))
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a number or string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*t = 0
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return t.setNumber(s)
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	*t = Timestamp(parsed.UnixMilli())
	return nil
}

func (t *Timestamp) setNumber(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	*t = Timestamp(NormalizeEpochMillis(int64(f)))
	return nil
}

// Millis returns the timestamp in epoch milliseconds
func (t Timestamp) Millis() int64 {
	return int64(t)
}

// WebhookPayload is the generic identity webhook body sent by client
// applications and the identity provider event listener.
type WebhookPayload struct {
	EventID   string    `json:"eventId,omitempty"`
	Action    string    `json:"action" validate:"required"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty" validate:"omitempty,email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
	Source    string    `json:"source,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	CreatedAt Timestamp `json:"createdAt,omitempty"`
	Timestamp Timestamp `json:"timestamp,omitempty"`
}

// PictalkWebhookPayload is the body sent by the messaging app, which has no
// client identifier and names its fields differently.
type PictalkWebhookPayload struct {
	EventID     string    `json:"eventId,omitempty"`
	Action      string    `json:"action" validate:"required"`
	UserID      string    `json:"userId,omitempty"`
	Email       string    `json:"email,omitempty" validate:"omitempty,email"`
	FirstName   string    `json:"firstName,omitempty"`
	LastName    string    `json:"lastName,omitempty"`
	Language    string    `json:"language,omitempty"`
	CreatedDate Timestamp `json:"createdDate,omitempty"`
	Timestamp   Timestamp `json:"timestamp,omitempty"`
}
