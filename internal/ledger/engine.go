// Package ledger maintains the per-unit monthly balance chain.
//
// Every recomputation reads the authoritative payment set for the month from
// the store instead of applying a delta, so repeated or out-of-order calls
// converge on the same figures.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/rentrecon/internal/metrics"
	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/storage"
)

// ErrUnitNotFound is returned when the unit does not exist for the landlord.
var ErrUnitNotFound = errors.New("unit not found")

// ErrInvalidRange is returned for statement ranges that are reversed or too long.
var ErrInvalidRange = errors.New("invalid statement range")

// maxStatementMonths bounds a single statement request.
const maxStatementMonths = 120

// Store is the subset of storage.Store the engine reads and writes.
type Store interface {
	GetUnit(ctx context.Context, landlordID, unitID string) (*models.Unit, error)
	SumPayments(ctx context.Context, unitID string, from, to time.Time) (decimal.Decimal, error)
	LatestBalanceBefore(ctx context.Context, unitID string, month time.Time) (*models.Balance, error)
	ListBalancesAfter(ctx context.Context, unitID string, month time.Time) ([]*models.Balance, error)
	UpsertBalance(ctx context.Context, balance *models.Balance) error
}

// Engine recomputes balances. It holds one lock per unit so that two
// recomputations of the same chain never interleave within the process.
type Engine struct {
	store Store
	loc   *time.Location
	locks *KeyLock
}

// NewEngine creates an Engine. Month boundaries are observed in loc.
func NewEngine(store Store, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		store: store,
		loc:   loc,
		locks: NewKeyLock(),
	}
}

// Location returns the zone month boundaries are observed in.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Recompute refreshes the unit's balance for the month containing at and
// returns it. Missing months between the previous stored balance and the
// target are filled in, and every later stored month is recomputed so the
// carry-forward chain stays intact after an out-of-order payment.
func (e *Engine) Recompute(ctx context.Context, landlordID, unitID string, at time.Time) (*models.Balance, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.LedgerRecompute, start)

	unlock := e.locks.Lock(unitID)
	defer unlock()

	unit, err := e.resolveUnit(ctx, landlordID, unitID)
	if err != nil {
		return nil, err
	}

	balance, err := e.recompute(ctx, unit, e.monthOf(at))
	if err != nil {
		return nil, err
	}

	slog.Debug("Balance recomputed",
		"unit_id", unitID,
		"month", balance.Month.Format(models.MonthLayout),
		"paid", balance.PaidAmount.String(),
		"balance", balance.Balance.String(),
		"status", balance.Status,
	)

	return balance, nil
}

// Statement returns the unit's balances for every month from the month of
// from through the month of to, oldest first, recomputing each of them.
func (e *Engine) Statement(ctx context.Context, landlordID, unitID string, from, to time.Time) ([]*models.Balance, error) {
	first, last := e.monthOf(from), e.monthOf(to)
	if last.Before(first) {
		return nil, fmt.Errorf("%w: ends before it starts", ErrInvalidRange)
	}
	if monthsBetween(first, last) >= maxStatementMonths {
		return nil, fmt.Errorf("%w: exceeds %d months", ErrInvalidRange, maxStatementMonths)
	}

	start := time.Now()
	defer metrics.ObserveSince(metrics.LedgerRecompute, start)

	unlock := e.locks.Lock(unitID)
	defer unlock()

	unit, err := e.resolveUnit(ctx, landlordID, unitID)
	if err != nil {
		return nil, err
	}

	head, err := e.recompute(ctx, unit, first)
	if err != nil {
		return nil, err
	}

	_, rest, err := e.extend(ctx, unit, head, last)
	if err != nil {
		return nil, err
	}

	return append([]*models.Balance{head}, rest...), nil
}

func (e *Engine) resolveUnit(ctx context.Context, landlordID, unitID string) (*models.Unit, error) {
	unit, err := e.store.GetUnit(ctx, landlordID, unitID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load unit: %w", err)
	}
	return unit, nil
}

// recompute must be called with the unit lock held.
func (e *Engine) recompute(ctx context.Context, unit *models.Unit, month time.Time) (*models.Balance, error) {
	carry := decimal.Zero

	prev, err := e.store.LatestBalanceBefore(ctx, unit.ID, month)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		gapEnd := month.AddDate(0, -1, 0)
		if gapEnd.After(prev.Month) {
			if prev, _, err = e.extend(ctx, unit, prev, gapEnd); err != nil {
				return nil, err
			}
		}
		carry = prev.Balance
	}

	target, err := e.compute(ctx, unit, month, carry)
	if err != nil {
		return nil, err
	}

	later, err := e.store.ListBalancesAfter(ctx, unit.ID, month)
	if err != nil {
		return nil, err
	}
	if len(later) > 0 {
		if _, _, err := e.extend(ctx, unit, target, later[len(later)-1].Month); err != nil {
			return nil, err
		}
	}

	return target, nil
}

// extend computes and stores every month after last up to and including
// until, chaining carry-forward from last. It returns the final balance and
// the rows it wrote.
func (e *Engine) extend(ctx context.Context, unit *models.Unit, last *models.Balance, until time.Time) (*models.Balance, []*models.Balance, error) {
	var rows []*models.Balance
	for m := last.Month.AddDate(0, 1, 0); !m.After(until); m = m.AddDate(0, 1, 0) {
		b, err := e.compute(ctx, unit, m, last.Balance)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, b)
		last = b
	}
	return last, rows, nil
}

// compute derives and stores the balance for one month.
func (e *Engine) compute(ctx context.Context, unit *models.Unit, month time.Time, carry decimal.Decimal) (*models.Balance, error) {
	from, to := models.MonthBounds(month, e.loc)

	paid, err := e.store.SumPayments(ctx, unit.ID, from, to)
	if err != nil {
		return nil, err
	}

	figures := Calculate(unit.MonthlyRent, carry, paid)
	b := &models.Balance{
		UnitID:       unit.ID,
		Month:        month,
		ExpectedRent: unit.MonthlyRent,
		CarryForward: carry,
		PaidAmount:   paid,
		Balance:      figures.Balance,
		Status:       figures.Status,
	}

	if err := e.store.UpsertBalance(ctx, b); err != nil {
		return nil, err
	}

	return b, nil
}

func (e *Engine) monthOf(t time.Time) time.Time {
	return models.MonthOf(t, e.loc)
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
