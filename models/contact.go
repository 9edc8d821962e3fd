package models

import "time"

// ContactHandle identifies a CRM contact resolved by email
type ContactHandle struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Created bool   `json:"created"`
}

// ClientActivity holds the engagement fields tracked for one client application.
// Pointer fields are nil when the CRM holds no value.
type ClientActivity struct {
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
	LoginCount       int        `json:"loginCount"`
	LoginFrequency   float64    `json:"loginFrequency"`
	AccountCreatedAt *time.Time `json:"accountCreatedAt,omitempty"`
}

// ContactRecord is the engine's read view of a CRM contact
type ContactRecord struct {
	ID        int64                     `json:"id"`
	Email     string                    `json:"email"`
	Name      string                    `json:"name,omitempty"`
	Lang      string                    `json:"lang,omitempty"`
	CreatedAt *time.Time                `json:"createdAt,omitempty"`
	Activity  map[string]ClientActivity `json:"activity,omitempty"`
}

// ActivityFor returns the activity recorded for a client
func (c *ContactRecord) ActivityFor(clientID string) (ClientActivity, bool) {
	if c == nil || c.Activity == nil {
		return ClientActivity{}, false
	}
	a, ok := c.Activity[clientID]
	return a, ok
}

// ActivitySummary is returned to a signed-in user asking for their own activity
type ActivitySummary struct {
	LastActivity     string `json:"lastActivity,omitempty"`
	ConnectionNumber int    `json:"connectionNumber"`
	CreatedDate      string `json:"createdDate,omitempty"`
}
