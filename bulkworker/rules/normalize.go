package rules

import (
	"strings"

	"github.com/ledgerly/servicing-app/servicing/constants"
	"github.com/ledgerly/servicing-app/servicing/models"
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/unicode/norm"
)

// Whitespace collapsed and trimmed in free text. The superset query collapses
// exactly this set, so nothing else counts as a separator.
const asciiSpace = " \t\n\v\f\r"

// RuleError is returned instead of rules when an account cannot contribute
// any. It becomes a row level error in the report.
type RuleError struct {
	Code string
}

func (e *RuleError) Error() string {
	return "cannot derive match rules: " + e.Code
}

var (
	ErrUserDoesNotExist    = &RuleError{Code: constants.UserDoesNotExist}
	ErrAlreadyFraudBlocked = &RuleError{Code: constants.AlreadyFraudBlocked}
)

type NormalizeOptions struct {
	SkipAlreadyBlocked bool
	// DefaultRegion is used to parse phone numbers without a country code.
	DefaultRegion string
}

// Normalize returns the canonical rules for acct. It never mixes attribute
// groups within a rule and never builds a name and address rule from a
// partial address.
func Normalize(acct *models.Account, opts NormalizeOptions) ([]MatchRule, error) {
	if acct == nil {
		return nil, ErrUserDoesNotExist
	}
	if acct.Blocked && opts.SkipAlreadyBlocked {
		return nil, ErrAlreadyFraudBlocked
	}

	var result []MatchRule
	if acct.Status == models.AccountStatusActive {
		if phone, ok := NormalizePhone(acct.Phone, opts.DefaultRegion); ok {
			result = append(result, PhoneRule{Phone: phone})
		}
	}
	if email := NormalizeEmail(acct.Email); email != "" {
		result = append(result, EmailRule{Email: email})
	}
	if r, ok := nameAddress(acct); ok {
		result = append(result, r)
	}
	return result, nil
}

// Matches reports whether acct carries the attributes of rule. Unlike
// Normalize it ignores account status, mirroring the superset query.
func Matches(rule MatchRule, acct *models.Account, region string) bool {
	if acct == nil {
		return false
	}
	switch r := rule.(type) {
	case PhoneRule:
		phone, ok := NormalizePhone(acct.Phone, region)
		return ok && phone == r.Phone
	case EmailRule:
		return NormalizeEmail(acct.Email) == r.Email
	case NameAddressRule:
		other, ok := nameAddress(acct)
		return ok && other == r
	default:
		return false
	}
}

// NormalizePhone formats raw as E.164. ok is false when raw is empty or not
// a possible number.
func NormalizePhone(raw, region string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if region == "" {
		region = constants.DefaultPhoneRegion
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

// NormalizeEmail normalizes raw like any other free text.
func NormalizeEmail(raw string) string {
	return NormalizeText(raw)
}

// NormalizeText lower cases s and collapses runs of whitespace into a single
// space, trimming both ends.
func NormalizeText(s string) string {
	return strings.Join(strings.FieldsFunc(lower(s), isSpace), " ")
}

// lower composes s to NFC and lower cases it rune by rune, matching
// lower(normalize(s, NFC)) in Postgres.
func lower(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

func isSpace(r rune) bool {
	return strings.ContainsRune(asciiSpace, r)
}

func nameAddress(acct *models.Account) (NameAddressRule, bool) {
	r := NameAddressRule{
		FirstName:    NormalizeText(acct.FirstName),
		LastName:     NormalizeText(acct.LastName),
		AddressLine1: NormalizeText(acct.AddressLine1),
		City:         NormalizeText(acct.City),
		State:        NormalizeText(acct.State),
		Zip:          NormalizeText(acct.Zip),
	}
	for _, f := range r.Fields() {
		if f.Value == "" {
			return NameAddressRule{}, false
		}
	}
	return r, true
}
