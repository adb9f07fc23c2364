package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/storage"
)

// CommitPayment inserts payment and marks its transaction with update in a
// single database transaction. If the transaction is already committed, or a
// payment with the same external reference exists, nothing is written and
// ErrDuplicate is returned.
func (s *SQLiteStore) CommitPayment(ctx context.Context, payment *models.Payment, update storage.MatchUpdate) error {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if payment.CreatedAt == 0 {
		payment.CreatedAt = now()
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var status string
	err = dbTx.QueryRowContext(ctx,
		`SELECT status FROM transactions WHERE id = ? AND landlord_id = ?`,
		payment.TransactionID, payment.LandlordID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("transaction %s: %w", payment.TransactionID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load transaction status: %w", err)
	}
	if models.MatchStatus(status).IsCommitted() {
		return fmt.Errorf("transaction %s already committed: %w", payment.TransactionID, storage.ErrDuplicate)
	}

	paymentQuery := `
		INSERT INTO payments (id, landlord_id, unit_id, tenant_id, transaction_id, amount,
		                      external_ref, occurred_at, payer_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(landlord_id, external_ref) DO NOTHING
	`
	res, err := dbTx.ExecContext(ctx, paymentQuery,
		payment.ID,
		payment.LandlordID,
		nullString(payment.UnitID),
		nullString(payment.TenantID),
		payment.TransactionID,
		payment.Amount.String(),
		payment.ExternalRef,
		payment.OccurredAt.Unix(),
		payment.PayerName,
		payment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("payment ref %s: %w", payment.ExternalRef, storage.ErrDuplicate)
	}

	txQuery := `
		UPDATE transactions
		SET status = ?, confidence = ?, matched_unit_id = ?, matched_tenant_id = ?,
		    match_reason = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := dbTx.ExecContext(ctx, txQuery,
		string(update.Status),
		update.Confidence,
		nullString(update.UnitID),
		nullString(update.TenantID),
		update.Reason,
		now(),
		payment.TransactionID,
	); err != nil {
		return fmt.Errorf("failed to mark transaction committed: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListPayments returns the landlord's payments, optionally restricted to one
// unit, oldest first.
func (s *SQLiteStore) ListPayments(ctx context.Context, landlordID string, unitID string) ([]*models.Payment, error) {
	query := `
		SELECT id, landlord_id, unit_id, tenant_id, transaction_id, amount,
		       external_ref, occurred_at, payer_name, created_at
		FROM payments
		WHERE landlord_id = ?
	`
	args := []interface{}{landlordID}
	if unitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, unitID)
	}
	query += ` ORDER BY occurred_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p := &models.Payment{}
		var (
			unit, tenant sql.NullString
			occurredAt   int64
		)
		if err := rows.Scan(
			&p.ID,
			&p.LandlordID,
			&unit,
			&tenant,
			&p.TransactionID,
			&p.Amount,
			&p.ExternalRef,
			&occurredAt,
			&p.PayerName,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.UnitID = unit.String
		p.TenantID = tenant.String
		p.OccurredAt = time.Unix(occurredAt, 0).UTC()
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}

	return payments, nil
}

// SumPayments totals the unit's payments with from <= occurred_at < to.
// Amounts are summed as decimals, not in SQL floating point.
func (s *SQLiteStore) SumPayments(ctx context.Context, unitID string, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT amount FROM payments
		WHERE unit_id = ? AND occurred_at >= ? AND occurred_at < ?
	`

	rows, err := s.db.QueryContext(ctx, query, unitID, from.Unix(), to.Unix())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan payment amount: %w", err)
		}
		total = total.Add(amount)
	}

	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating payment amounts: %w", err)
	}

	return total, nil
}
