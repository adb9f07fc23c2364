// Package parser extracts payment fields from free-text notifications such as
// bank alerts, SMS confirmations and pasted emails.
//
// Every field has its own extractor. A field that does not match is reported
// missing on its own and never prevents the others from being extracted.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field names reported in Result.Missing.
const (
	FieldAmount            = "amount"
	FieldUnitReference     = "unitReference"
	FieldPayerName         = "payerName"
	FieldExternalReference = "externalReference"
	FieldOccurredAt        = "occurredAt"
)

// DefaultLocation is East Africa Time, the zone gateway messages are written in.
var DefaultLocation = loadDefaultLocation()

func loadDefaultLocation() *time.Location {
	if loc, err := time.LoadLocation("Africa/Nairobi"); err == nil {
		return loc
	}
	return time.FixedZone("EAT", 3*60*60)
}

// Result is a best-effort extraction. Empty strings and nil pointers mean the
// field was not found.
type Result struct {
	Amount            *decimal.Decimal `json:"amount"`
	UnitReference     string           `json:"unitReference,omitempty"`
	PayerName         string           `json:"payerName,omitempty"`
	ExternalReference string           `json:"externalReference,omitempty"`
	OccurredAt        *time.Time       `json:"occurredAt,omitempty"`

	// IsValid is true iff Amount and ExternalReference were both extracted.
	IsValid bool `json:"isValid"`

	// Missing lists the fields that could not be extracted, in a fixed order.
	Missing []string `json:"missing,omitempty"`
}

// FailureReason describes why the result is not valid, or "" if it is.
func (r Result) FailureReason() string {
	if r.IsValid {
		return ""
	}
	var mandatory []string
	if r.Amount == nil {
		mandatory = append(mandatory, FieldAmount)
	}
	if r.ExternalReference == "" {
		mandatory = append(mandatory, FieldExternalReference)
	}
	return "could not extract " + strings.Join(mandatory, ", ")
}

var (
	amountPattern = regexp.MustCompile(`(?i)\b(?:KES|KSHS?)\.?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)

	unitPattern = regexp.MustCompile(`(?i)\bfor\s+([a-z0-9][a-z0-9 #/\-]*?[a-z0-9])(?:\s+(?:has|from|on|is|was)\b|\s*[.,;]|\s*$)`)

	payerPattern = regexp.MustCompile(`(?i)\bfrom\s+([a-z][a-z' \-]*?)(?:\s*(?:\+?[0-9]|[.,;(*]|$)|\s+(?:on|for|ref)\b)`)

	// Label words such as "number is" are skipped; a reference carries at least one digit.
	referencePattern = regexp.MustCompile(`(?i:\b(?:ref(?:erence)?|receipt|trans(?:action)?\s*(?:id|code))\b)[\s.:#\-]*(?:(?i:no|number|is|was|code|id)\b[\s.:#\-]*)*([A-Za-z0-9]*[0-9][A-Za-z0-9]*)\b`)

	timestampPattern = regexp.MustCompile(`(?i)\bon\s+([0-9]{1,2}/[0-9]{1,2}/(?:[0-9]{4}|[0-9]{2}))\s+(?:at\s+)?([0-9]{1,2}:[0-9]{2})\s*([ap]m)\b`)

	currencyToken = regexp.MustCompile(`(?i)\b(?:KES|KSHS?)\b`)
)

const minReferenceLen = 6

// Parse extracts payment fields from text, reading timestamps in DefaultLocation.
func Parse(text string) Result {
	return ParseIn(text, DefaultLocation)
}

// ParseIn is Parse with an explicit location for the message's wall-clock time.
// The same input always yields the same Result.
func ParseIn(text string, loc *time.Location) Result {
	if loc == nil {
		loc = DefaultLocation
	}
	r := Result{
		Amount:            ExtractAmount(text),
		UnitReference:     ExtractUnitReference(text),
		PayerName:         ExtractPayerName(text),
		ExternalReference: ExtractExternalReference(text),
		OccurredAt:        ExtractOccurredAt(text, loc),
	}
	if r.Amount == nil {
		r.Missing = append(r.Missing, FieldAmount)
	}
	if r.UnitReference == "" {
		r.Missing = append(r.Missing, FieldUnitReference)
	}
	if r.PayerName == "" {
		r.Missing = append(r.Missing, FieldPayerName)
	}
	if r.ExternalReference == "" {
		r.Missing = append(r.Missing, FieldExternalReference)
	}
	if r.OccurredAt == nil {
		r.Missing = append(r.Missing, FieldOccurredAt)
	}
	r.IsValid = r.Amount != nil && r.ExternalReference != ""
	return r
}

// ExtractAmount finds the first currency-prefixed number.
func ExtractAmount(text string) *decimal.Decimal {
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return nil
	}
	return &amount
}

// ExtractUnitReference returns the text after "for" up to the end of the unit
// token. Clauses naming an amount ("for your payment of KES ...") are skipped.
func ExtractUnitReference(text string) string {
	for _, m := range unitPattern.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimSpace(m[1])
		if currencyToken.MatchString(candidate) {
			continue
		}
		return candidate
	}
	return ""
}

// ExtractPayerName returns the text after "from" up to the masked phone number.
func ExtractPayerName(text string) string {
	m := payerPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.Join(strings.Fields(m[1]), " ")
}

// ExtractExternalReference returns the alphanumeric token after a reference label.
// Tokens shorter than minReferenceLen are skipped.
func ExtractExternalReference(text string) string {
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		if len(m[1]) >= minReferenceLen {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// ExtractOccurredAt parses "on D/M/YYYY hh:mm AM" (day first, 12-hour clock).
func ExtractOccurredAt(text string, loc *time.Location) *time.Time {
	m := timestampPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	layout := "2/1/2006 3:04 PM"
	if year := m[1][strings.LastIndex(m[1], "/")+1:]; len(year) == 2 {
		layout = "2/1/06 3:04 PM"
	}
	value := m[1] + " " + m[2] + " " + strings.ToUpper(m[3])
	t, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return nil
	}
	return &t
}
