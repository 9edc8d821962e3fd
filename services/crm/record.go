package crm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DateTimeLayout is the CRM's datetime wire format, always UTC
	DateTimeLayout = "2006-01-02 15:04:05"
	// DateLayout is the CRM's date wire format
	DateLayout = "2006-01-02"
)

// FormatDateTime renders t in the CRM datetime format
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}

// FormatDate renders t in the CRM date format
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDateTime parses a CRM datetime or date value
func ParseDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(DateTimeLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid CRM datetime %q", s)
}

// Record is one row returned by search_read or read. Field values are kept
// raw since unset fields come back as false whatever their type.
type Record map[string]json.RawMessage

func (r Record) raw(field string) (json.RawMessage, bool) {
	v, ok := r[field]
	if !ok {
		return nil, false
	}
	s := strings.TrimSpace(string(v))
	if s == "false" || s == "null" || s == "" {
		return nil, false
	}
	return v, true
}

// ID returns the record id
func (r Record) ID() int64 {
	id, _ := r.Int(FieldID)
	return id
}

// Has reports whether field holds a value
func (r Record) Has(field string) bool {
	_, ok := r.raw(field)
	return ok
}

// String returns a char/text/selection field
func (r Record) String(field string) (string, bool) {
	v, ok := r.raw(field)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// Int returns an integer field
func (r Record) Int(field string) (int64, bool) {
	v, ok := r.raw(field)
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, false
	}
	return int64(f), true
}

// Float returns a float or monetary field
func (r Record) Float(field string) (float64, bool) {
	v, ok := r.raw(field)
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Bool returns a boolean field. Unset booleans read as false.
func (r Record) Bool(field string) bool {
	v, ok := r.raw(field)
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(v, &b)
	return b
}

// Time returns a date or datetime field
func (r Record) Time(field string) (*time.Time, bool) {
	s, ok := r.String(field)
	if !ok {
		return nil, false
	}
	t, err := ParseDateTime(s)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// Many2One returns the id of a many2one field, read as [id, display_name]
func (r Record) Many2One(field string) (int64, bool) {
	v, ok := r.raw(field)
	if !ok {
		return 0, false
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(v, &pair); err == nil {
		if len(pair) == 0 {
			return 0, false
		}
		var id float64
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return 0, false
		}
		return int64(id), true
	}
	var id float64
	if err := json.Unmarshal(v, &id); err != nil {
		return 0, false
	}
	return int64(id), true
}

// IDs returns a one2many or many2many field
func (r Record) IDs(field string) []int64 {
	v, ok := r.raw(field)
	if !ok {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal(v, &ids); err != nil {
		return nil
	}
	return ids
}
