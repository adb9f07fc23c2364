package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a committed financial event. It is created exactly once per
// Transaction that reaches auto_matched or manually_matched.
type Payment struct {
	// ID is the unique identifier for the payment (UUID format).
	ID string

	LandlordID string

	// UnitID and TenantID may be empty: a payment can exist unassigned.
	UnitID   string
	TenantID string

	// TransactionID is the originating Transaction.
	TransactionID string

	Amount decimal.Decimal

	// ExternalRef is carried from the Transaction and is unique per landlord.
	ExternalRef string

	OccurredAt time.Time

	// PayerName is kept for audit when no tenant matched.
	PayerName string

	CreatedAt int64
}
