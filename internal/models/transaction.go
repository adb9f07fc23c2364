package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Channel identifies where an inbound payment signal came from.
type Channel string

const (
	ChannelPushPayment   Channel = "push_payment"
	ChannelDirectDeposit Channel = "direct_deposit"
	ChannelBankImport    Channel = "bank_statement_import"
	ChannelManualEntry   Channel = "manual_entry"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPushPayment, ChannelDirectDeposit, ChannelBankImport, ChannelManualEntry:
		return true
	}
	return false
}

// MatchStatus is the reconciliation state of a Transaction.
type MatchStatus string

const (
	StatusUnmatched       MatchStatus = "unmatched"
	StatusSuggested       MatchStatus = "suggested"
	StatusAutoMatched     MatchStatus = "auto_matched"
	StatusManuallyMatched MatchStatus = "manually_matched"
	StatusNoMatch         MatchStatus = "no_match"
)

// IsCommitted reports whether a Payment has been created for the transaction.
func (s MatchStatus) IsCommitted() bool {
	return s == StatusAutoMatched || s == StatusManuallyMatched
}

// Transaction is the canonical, post-ingestion representation of an inbound
// payment notification.
type Transaction struct {
	// ID is the unique identifier for the transaction (UUID format).
	ID string

	// LandlordID is the owning landlord.
	LandlordID string

	// ExternalRef is the payment network's receipt number.
	// (LandlordID, ExternalRef) is unique.
	ExternalRef string

	// Amount is the transferred amount. Zero only for unparseable free text.
	Amount decimal.Decimal

	// OccurredAt is when the payment happened according to the source.
	OccurredAt time.Time

	// PayerName is free text from the source, may be empty.
	PayerName string

	// PayerPhone is the payer MSISDN in normalised 254XXXXXXXXX form, may be empty.
	PayerPhone string

	// UnitReference is the free-text unit hint (bill reference, "for ..." clause).
	UnitReference string

	Channel Channel
	Status  MatchStatus

	// Confidence is the last match score (0-100); nil until scored.
	Confidence *int

	MatchedUnitID   string
	MatchedTenantID string
	MatchReason     string

	// ParseError explains which fields could not be extracted from free text.
	ParseError string

	// RawPayload is the original payload, kept for audit.
	RawPayload string

	CreatedAt int64
	UpdatedAt int64
}

// SearchableText is the text the name and phone matchers look into.
func (t *Transaction) SearchableText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.PayerName, t.UnitReference, t.PayerPhone} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
