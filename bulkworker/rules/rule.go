// Package rules derives canonical match rules from accounts and groups the
// rules contributed by many requesters.
package rules

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindPhone       Kind = "PHONE"
	KindEmail       Kind = "EMAIL"
	KindNameAddress Kind = "NAME_ADDRESS"
	KindNone        Kind = "NONE"
)

// Field is a single populated column of a rule.
type Field struct {
	Column string
	Value  string
}

// MatchRule is implemented by PhoneRule, EmailRule, NameAddressRule and the
// NoRule sentinel. Every implementation is a comparable value type, so two
// equal rules are equal map keys.
type MatchRule interface {
	Kind() Kind
	// Key is the canonical string form of the rule. Equal rules have equal keys.
	Key() string
	Fields() []Field

	isMatchRule()
}

type PhoneRule struct {
	Phone string
}

func (r PhoneRule) Kind() Kind { return KindPhone }
func (r PhoneRule) Key() string {
	return key(KindPhone, r.Phone)
}
func (r PhoneRule) Fields() []Field {
	return []Field{{"phone", r.Phone}}
}
func (PhoneRule) isMatchRule() {}

type EmailRule struct {
	Email string
}

func (r EmailRule) Kind() Kind { return KindEmail }
func (r EmailRule) Key() string {
	return key(KindEmail, r.Email)
}
func (r EmailRule) Fields() []Field {
	return []Field{{"email", r.Email}}
}
func (EmailRule) isMatchRule() {}

type NameAddressRule struct {
	FirstName    string
	LastName     string
	AddressLine1 string
	City         string
	State        string
	Zip          string
}

func (r NameAddressRule) Kind() Kind { return KindNameAddress }
func (r NameAddressRule) Key() string {
	return key(KindNameAddress, r.FirstName, r.LastName, r.AddressLine1, r.City, r.State, r.Zip)
}
func (r NameAddressRule) Fields() []Field {
	return []Field{
		{"first_name", r.FirstName},
		{"last_name", r.LastName},
		{"address_line1", r.AddressLine1},
		{"city", r.City},
		{"state", r.State},
		{"zip", r.Zip},
	}
}
func (NameAddressRule) isMatchRule() {}

type noRule struct{}

func (noRule) Kind() Kind      { return KindNone }
func (noRule) Key() string     { return string(KindNone) }
func (noRule) Fields() []Field { return nil }
func (noRule) isMatchRule()    {}

// NoRule collects requesters that contributed no rule. It is never persisted.
var NoRule MatchRule = noRule{}

func key(kind Kind, values ...string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return string(kind) + ":" + strings.Join(quoted, "|")
}
