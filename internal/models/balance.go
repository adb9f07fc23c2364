package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceStatus is derived from a Balance's figures.
type BalanceStatus string

const (
	BalancePaid    BalanceStatus = "paid"
	BalancePartial BalanceStatus = "partial"
	BalanceUnpaid  BalanceStatus = "unpaid"
)

// MonthLayout is the storage key format of a balance month.
const MonthLayout = "2006-01"

// Balance is the ledger row for one unit and one calendar month.
type Balance struct {
	UnitID string `json:"unitId"`

	// Month is the first day of the month as a UTC date.
	Month time.Time `json:"month"`

	ExpectedRent decimal.Decimal `json:"expectedRent"`

	// CarryForward is the previous month's signed balance. Negative values are
	// credits from overpayment.
	CarryForward decimal.Decimal `json:"carryForward"`

	PaidAmount decimal.Decimal `json:"paidAmount"`

	// Balance is ExpectedRent + CarryForward - PaidAmount, signed.
	Balance decimal.Decimal `json:"balance"`

	Status BalanceStatus `json:"status"`

	UpdatedAt int64 `json:"updatedAt"`
}

// TotalDue is what the tenant owes for the month before payments.
func (b *Balance) TotalDue() decimal.Decimal {
	return b.ExpectedRent.Add(b.CarryForward)
}

// MonthOf returns the first-of-month date (UTC) containing t as observed in loc.
func MonthOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthBounds returns the [start, end) instants of month as observed in loc.
func MonthBounds(month time.Time, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
