package crm

import (
	"encoding/json"
	"strings"
)

// Condition is one search criterion, encoded as a [field, operator, value] triple
type Condition struct {
	Field    string
	Operator string
	Value    any
}

// MarshalJSON implements json.Marshaler
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Field, c.Operator, c.Value})
}

// Domain is a conjunction of conditions
type Domain []Condition

// Eq matches records whose field equals value
func Eq(field string, value any) Condition {
	return Condition{Field: field, Operator: "=", Value: value}
}

// likeEscaper escapes the wildcards of an (i)like pattern
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EqualFold matches records whose field equals value ignoring case. It
// compiles to =ilike with the pattern wildcards escaped, so an address such
// as first_last@example.com only matches itself.
func EqualFold(field, value string) Condition {
	return Condition{Field: field, Operator: "=ilike", Value: likeEscaper.Replace(value)}
}

// In matches records whose field is one of values
func In(field string, values any) Condition {
	return Condition{Field: field, Operator: "in", Value: values}
}

// Where builds a domain from conditions
func Where(conds ...Condition) Domain {
	if conds == nil {
		return Domain{}
	}
	return Domain(conds)
}
