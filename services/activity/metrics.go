package activity

import (
	"time"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services/crm"
)

const day = 24 * time.Hour

// Metrics is the engagement delta for one client after a login
type Metrics struct {
	LastLogin      time.Time
	LoginCount     int
	LoginFrequency float64
	// AccountCreatedAt is nil when the CRM already holds a creation date or
	// the event does not carry one.
	AccountCreatedAt *time.Time
}

// ComputeMetrics derives the updated engagement metrics from the previous
// snapshot of one client. It performs no I/O.
//
// Same-day logins leave the frequency unchanged rather than dividing by zero.
func ComputeMetrics(previous *models.ClientActivity, now time.Time, eventCreatedAt *time.Time) Metrics {
	m := Metrics{LastLogin: now, LoginCount: 1, LoginFrequency: 1}

	if previous != nil {
		m.LoginCount = previous.LoginCount + 1

		if previous.LastLogin != nil {
			m.LoginFrequency = previous.LoginFrequency
			if days := daysBetween(*previous.LastLogin, now); days > 0 {
				m.LoginFrequency = float64(m.LoginCount) / float64(days)
			}
		}
	}

	if (previous == nil || previous.AccountCreatedAt == nil) && eventCreatedAt != nil {
		created := *eventCreatedAt
		m.AccountCreatedAt = &created
	}
	return m
}

func daysBetween(from, to time.Time) int {
	d := int(to.Sub(from) / day)
	if d < 0 {
		return 0
	}
	return d
}

// Values renders metrics as CRM field values for the profile. Clients that
// do not track engagement only receive their last-login field.
func (p Profile) Values(m Metrics) map[string]any {
	values := map[string]any{}
	if p.LastLoginField != "" {
		values[p.LastLoginField] = crm.FormatDateTime(m.LastLogin)
	}
	if p.TracksEngagement() {
		values[p.LoginCountField] = m.LoginCount
		values[p.LoginFrequencyField] = m.LoginFrequency
	}
	if p.CreatedField != "" && m.AccountCreatedAt != nil {
		values[p.CreatedField] = crm.FormatDateTime(*m.AccountCreatedAt)
	}
	return values
}

// Snapshot reads the profile's previous activity from a contact record
func (p Profile) Snapshot(rec crm.Record) *models.ClientActivity {
	var a models.ClientActivity
	seen := false

	if p.LastLoginField != "" {
		if t, ok := rec.Time(p.LastLoginField); ok {
			a.LastLogin = t
			seen = true
		}
	}
	if p.LoginCountField != "" {
		if n, ok := rec.Int(p.LoginCountField); ok {
			a.LoginCount = int(n)
			seen = true
		}
	}
	if p.LoginFrequencyField != "" {
		if f, ok := rec.Float(p.LoginFrequencyField); ok {
			a.LoginFrequency = f
			seen = true
		}
	}
	if p.CreatedField != "" {
		if t, ok := rec.Time(p.CreatedField); ok {
			a.AccountCreatedAt = t
			seen = true
		}
	}

	if !seen {
		return nil
	}
	return &a
}
