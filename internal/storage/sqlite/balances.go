package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/storage"
)

const balanceColumns = `unit_id, month, expected_rent, carry_forward, paid_amount, balance, status, updated_at`

// GetBalance retrieves the balance row for a unit and month.
func (s *SQLiteStore) GetBalance(ctx context.Context, unitID string, month time.Time) (*models.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE unit_id = ? AND month = ?`

	b, err := scanBalance(s.db.QueryRowContext(ctx, query, unitID, monthKey(month)))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("balance %s/%s: %w", unitID, monthKey(month), storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return b, nil
}

// LatestBalanceBefore returns the most recent balance strictly before month,
// or nil when the unit has none.
func (s *SQLiteStore) LatestBalanceBefore(ctx context.Context, unitID string, month time.Time) (*models.Balance, error) {
	query := `
		SELECT ` + balanceColumns + `
		FROM balances
		WHERE unit_id = ? AND month < ?
		ORDER BY month DESC
		LIMIT 1
	`

	b, err := scanBalance(s.db.QueryRowContext(ctx, query, unitID, monthKey(month)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get previous balance: %w", err)
	}

	return b, nil
}

// ListBalancesAfter returns the unit's balances strictly after month, oldest first.
func (s *SQLiteStore) ListBalancesAfter(ctx context.Context, unitID string, month time.Time) ([]*models.Balance, error) {
	query := `
		SELECT ` + balanceColumns + `
		FROM balances
		WHERE unit_id = ? AND month > ?
		ORDER BY month ASC
	`

	rows, err := s.db.QueryContext(ctx, query, unitID, monthKey(month))
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var balances []*models.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}

	return balances, nil
}

// UpsertBalance creates the (unit, month) row or overwrites its figures.
// updated_at only moves when a figure changes; b.UpdatedAt is set to the
// stored value either way.
func (s *SQLiteStore) UpsertBalance(ctx context.Context, b *models.Balance) error {
	query := `
		INSERT INTO balances (` + balanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unit_id, month) DO UPDATE SET
			expected_rent = excluded.expected_rent,
			carry_forward = excluded.carry_forward,
			paid_amount = excluded.paid_amount,
			balance = excluded.balance,
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE expected_rent IS NOT excluded.expected_rent
			OR carry_forward IS NOT excluded.carry_forward
			OR paid_amount IS NOT excluded.paid_amount
			OR balance IS NOT excluded.balance
			OR status IS NOT excluded.status
	`

	month := monthKey(b.Month)
	_, err := s.db.ExecContext(ctx, query,
		b.UnitID,
		month,
		b.ExpectedRent.String(),
		b.CarryForward.String(),
		b.PaidAmount.String(),
		b.Balance.String(),
		string(b.Status),
		now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert balance: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM balances WHERE unit_id = ? AND month = ?`,
		b.UnitID, month,
	).Scan(&b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to read balance timestamp: %w", err)
	}

	return nil
}

func scanBalance(row rowScanner) (*models.Balance, error) {
	b := &models.Balance{}
	var month, status string

	if err := row.Scan(
		&b.UnitID,
		&month,
		&b.ExpectedRent,
		&b.CarryForward,
		&b.PaidAmount,
		&b.Balance,
		&status,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	m, err := parseMonthKey(month)
	if err != nil {
		return nil, fmt.Errorf("invalid balance month %q: %w", month, err)
	}
	b.Month = m
	b.Status = models.BalanceStatus(status)

	return b, nil
}
