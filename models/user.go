package models

import "strings"

// UserRecord is a user as returned by the identity provider admin API
type UserRecord struct {
	ID               string              `json:"id"`
	Username         string              `json:"username,omitempty"`
	Email            string              `json:"email,omitempty"`
	FirstName        string              `json:"firstName,omitempty"`
	LastName         string              `json:"lastName,omitempty"`
	Enabled          bool                `json:"enabled"`
	CreatedTimestamp int64               `json:"createdTimestamp,omitempty"`
	Attributes       map[string][]string `json:"attributes,omitempty"`
}

// Attribute returns the first value of a custom attribute
func (u *UserRecord) Attribute(name string) (string, bool) {
	values, ok := u.Attributes[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Flag returns a checkbox attribute ("on" means true), or nil when absent
func (u *UserRecord) Flag(name string) *bool {
	v, ok := u.Attribute(name)
	if !ok {
		return nil
	}
	on := strings.EqualFold(v, "on") || strings.EqualFold(v, "true")
	return &on
}
