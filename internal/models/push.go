package models

import "github.com/shopspring/decimal"

// PushStatus tracks an initiated push payment.
type PushStatus string

const (
	PushPending   PushStatus = "pending"
	PushCompleted PushStatus = "completed"
	PushFailed    PushStatus = "failed"
)

// PushRequest records a push payment the engine asked the gateway to start.
// The asynchronous callback only carries the checkout id, so this row is what
// attributes the money to a landlord and unit.
type PushRequest struct {
	CheckoutRequestID string
	MerchantRequestID string

	LandlordID string

	// AccountReference is the unit hint the payer was prompted with.
	AccountReference string

	Phone  string
	Amount decimal.Decimal

	Status     PushStatus
	ResultDesc string

	CreatedAt int64
	UpdatedAt int64
}

// UnattributedPayload is inbound money that could not be tied to a landlord.
// It waits for manual assignment instead of being guessed.
type UnattributedPayload struct {
	ID          string
	Channel     Channel
	ExternalRef string
	Amount      decimal.Decimal
	Reference   string
	Reason      string
	RawPayload  string
	CreatedAt   int64
}
