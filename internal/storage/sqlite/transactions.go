package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/storage"
)

const transactionColumns = `
	id, landlord_id, external_ref, amount, occurred_at, payer_name, payer_phone,
	unit_reference, channel, status, confidence, matched_unit_id, matched_tenant_id,
	match_reason, parse_error, raw_payload, created_at, updated_at`

// InsertTransaction inserts tx unless the landlord already has a transaction
// with the same external reference. The check and the insert are one
// statement, so concurrent deliveries of the same receipt cannot both win.
func (s *SQLiteStore) InsertTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	ts := now()
	if tx.CreatedAt == 0 {
		tx.CreatedAt = ts
	}
	tx.UpdatedAt = ts
	if tx.Status == "" {
		tx.Status = models.StatusUnmatched
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(landlord_id, external_ref) DO NOTHING
	`

	var confidence interface{}
	if tx.Confidence != nil {
		confidence = *tx.Confidence
	}

	res, err := s.db.ExecContext(ctx, query,
		tx.ID,
		tx.LandlordID,
		tx.ExternalRef,
		tx.Amount.String(),
		tx.OccurredAt.Unix(),
		tx.PayerName,
		tx.PayerPhone,
		tx.UnitReference,
		string(tx.Channel),
		string(tx.Status),
		confidence,
		nullString(tx.MatchedUnitID),
		nullString(tx.MatchedTenantID),
		tx.MatchReason,
		tx.ParseError,
		tx.RawPayload,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return tx, true, nil
	}

	existing, err := s.getTransactionByRef(ctx, tx.LandlordID, tx.ExternalRef)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetTransaction retrieves a transaction owned by the landlord.
func (s *SQLiteStore) GetTransaction(ctx context.Context, landlordID, txID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ? AND landlord_id = ?`

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, txID, landlordID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s: %w", txID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return tx, nil
}

func (s *SQLiteStore) getTransactionByRef(ctx context.Context, landlordID, externalRef string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE landlord_id = ? AND external_ref = ?`

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, landlordID, externalRef))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction ref %s: %w", externalRef, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by ref: %w", err)
	}

	return tx, nil
}

// ListTransactions returns the landlord's transactions matching filter,
// oldest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]*models.Transaction, error) {
	var (
		conds = []string{"landlord_id = ?"}
		args  = []interface{}{filter.LandlordID}
	)

	if len(filter.IDs) > 0 {
		conds = append(conds, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.PositiveOnly {
		conds = append(conds, "CAST(amount AS REAL) > 0")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY occurred_at, rowid`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// UpdateTransactionContent rewrites the parsed fields of an uncommitted
// transaction and clears any previous match outcome.
func (s *SQLiteStore) UpdateTransactionContent(ctx context.Context, tx *models.Transaction) error {
	tx.UpdatedAt = now()

	query := `
		UPDATE transactions
		SET external_ref = ?, amount = ?, occurred_at = ?, payer_name = ?, payer_phone = ?,
		    unit_reference = ?, status = ?, parse_error = ?, raw_payload = ?,
		    confidence = NULL, matched_unit_id = NULL, matched_tenant_id = NULL,
		    match_reason = '', updated_at = ?
		WHERE id = ? AND landlord_id = ? AND status NOT IN (?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		tx.ExternalRef,
		tx.Amount.String(),
		tx.OccurredAt.Unix(),
		tx.PayerName,
		tx.PayerPhone,
		tx.UnitReference,
		string(tx.Status),
		tx.ParseError,
		tx.RawPayload,
		tx.UpdatedAt,
		tx.ID,
		tx.LandlordID,
		string(models.StatusAutoMatched),
		string(models.StatusManuallyMatched),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction ref %s: %w", tx.ExternalRef, storage.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("uncommitted transaction %s: %w", tx.ID, storage.ErrNotFound)
	}

	tx.Confidence = nil
	tx.MatchedUnitID = ""
	tx.MatchedTenantID = ""
	tx.MatchReason = ""
	return nil
}

// RecordMatch stores a non-committing outcome. Rows that are already
// committed are not touched.
func (s *SQLiteStore) RecordMatch(ctx context.Context, update storage.MatchUpdate) error {
	query := `
		UPDATE transactions
		SET status = ?, confidence = ?, matched_unit_id = ?, matched_tenant_id = ?,
		    match_reason = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		string(update.Status),
		update.Confidence,
		nullString(update.UnitID),
		nullString(update.TenantID),
		update.Reason,
		now(),
		update.TransactionID,
		string(models.StatusAutoMatched),
		string(models.StatusManuallyMatched),
	)
	if err != nil {
		return fmt.Errorf("failed to record match: %w", err)
	}

	return nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var (
		occurredAt       int64
		channel, status  string
		confidence       sql.NullInt64
		unitID, tenantID sql.NullString
	)

	if err := row.Scan(
		&tx.ID,
		&tx.LandlordID,
		&tx.ExternalRef,
		&tx.Amount,
		&occurredAt,
		&tx.PayerName,
		&tx.PayerPhone,
		&tx.UnitReference,
		&channel,
		&status,
		&confidence,
		&unitID,
		&tenantID,
		&tx.MatchReason,
		&tx.ParseError,
		&tx.RawPayload,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	); err != nil {
		return nil, err
	}

	tx.OccurredAt = time.Unix(occurredAt, 0).UTC()
	tx.Channel = models.Channel(channel)
	tx.Status = models.MatchStatus(status)
	if confidence.Valid {
		c := int(confidence.Int64)
		tx.Confidence = &c
	}
	tx.MatchedUnitID = unitID.String
	tx.MatchedTenantID = tenantID.String

	return tx, nil
}
