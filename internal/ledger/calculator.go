package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/rentrecon/internal/models"
)

// Figures is the outcome of a single month's ledger calculation.
type Figures struct {
	TotalDue decimal.Decimal
	Balance  decimal.Decimal
	Status   models.BalanceStatus
}

// Calculate derives a month's figures from the expected rent, the signed
// carry-forward from the previous month and the amount paid in the month.
//
// A negative carry-forward is a credit and reduces what is due. The returned
// balance is signed so an overpayment propagates as a credit.
func Calculate(expectedRent, carryForward, paid decimal.Decimal) Figures {
	totalDue := expectedRent.Add(carryForward)
	balance := totalDue.Sub(paid)

	return Figures{
		TotalDue: totalDue,
		Balance:  balance,
		Status:   statusOf(balance, paid),
	}
}

// statusOf assigns exactly one status: paid when nothing remains owed,
// otherwise unpaid if nothing was paid and partial if something was.
func statusOf(balance, paid decimal.Decimal) models.BalanceStatus {
	switch {
	case balance.LessThanOrEqual(decimal.Zero):
		return models.BalancePaid
	case paid.IsZero():
		return models.BalanceUnpaid
	default:
		return models.BalancePartial
	}
}
