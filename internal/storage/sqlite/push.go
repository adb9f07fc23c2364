package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/storage"
)

// CreatePushRequest records an initiated push payment.
func (s *SQLiteStore) CreatePushRequest(ctx context.Context, req *models.PushRequest) error {
	ts := now()
	if req.CreatedAt == 0 {
		req.CreatedAt = ts
	}
	req.UpdatedAt = ts
	if req.Status == "" {
		req.Status = models.PushPending
	}

	query := `
		INSERT INTO push_requests (checkout_request_id, merchant_request_id, landlord_id,
		                           account_reference, phone, amount, status, result_desc,
		                           created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		req.CheckoutRequestID,
		req.MerchantRequestID,
		req.LandlordID,
		req.AccountReference,
		req.Phone,
		req.Amount.String(),
		string(req.Status),
		req.ResultDesc,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("push request %s: %w", req.CheckoutRequestID, storage.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}

	return nil
}

// GetPushRequest retrieves a push request by its checkout id.
func (s *SQLiteStore) GetPushRequest(ctx context.Context, checkoutRequestID string) (*models.PushRequest, error) {
	query := `
		SELECT checkout_request_id, merchant_request_id, landlord_id, account_reference,
		       phone, amount, status, result_desc, created_at, updated_at
		FROM push_requests
		WHERE checkout_request_id = ?
	`

	req := &models.PushRequest{}
	var status string
	err := s.db.QueryRowContext(ctx, query, checkoutRequestID).Scan(
		&req.CheckoutRequestID,
		&req.MerchantRequestID,
		&req.LandlordID,
		&req.AccountReference,
		&req.Phone,
		&req.Amount,
		&status,
		&req.ResultDesc,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("push request %s: %w", checkoutRequestID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get push request: %w", err)
	}
	req.Status = models.PushStatus(status)

	return req, nil
}

// UpdatePushRequestStatus records the final outcome of a push request.
func (s *SQLiteStore) UpdatePushRequestStatus(ctx context.Context, checkoutRequestID string, status models.PushStatus, resultDesc string) error {
	query := `
		UPDATE push_requests
		SET status = ?, result_desc = ?, updated_at = ?
		WHERE checkout_request_id = ?
	`

	res, err := s.db.ExecContext(ctx, query, string(status), resultDesc, now(), checkoutRequestID)
	if err != nil {
		return fmt.Errorf("failed to update push request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("push request %s: %w", checkoutRequestID, storage.ErrNotFound)
	}

	return nil
}

// QueueUnattributed stores money that could not be attributed to a landlord.
func (s *SQLiteStore) QueueUnattributed(ctx context.Context, payload *models.UnattributedPayload) error {
	if payload.ID == "" {
		payload.ID = uuid.New().String()
	}
	if payload.CreatedAt == 0 {
		payload.CreatedAt = now()
	}

	query := `
		INSERT INTO unattributed_payloads (id, channel, external_ref, amount, reference,
		                                   reason, raw_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel, external_ref) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		payload.ID,
		string(payload.Channel),
		payload.ExternalRef,
		payload.Amount.String(),
		payload.Reference,
		payload.Reason,
		payload.RawPayload,
		payload.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to queue unattributed payload: %w", err)
	}

	return nil
}

// ListUnattributed returns the queued payloads, oldest first.
func (s *SQLiteStore) ListUnattributed(ctx context.Context) ([]*models.UnattributedPayload, error) {
	query := `
		SELECT id, channel, external_ref, amount, reference, reason, raw_payload, created_at
		FROM unattributed_payloads
		ORDER BY created_at, rowid
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unattributed payloads: %w", err)
	}
	defer rows.Close()

	var payloads []*models.UnattributedPayload
	for rows.Next() {
		p := &models.UnattributedPayload{}
		var channel string
		if err := rows.Scan(
			&p.ID,
			&channel,
			&p.ExternalRef,
			&p.Amount,
			&p.Reference,
			&p.Reason,
			&p.RawPayload,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan unattributed payload: %w", err)
		}
		p.Channel = models.Channel(channel)
		payloads = append(payloads, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unattributed payloads: %w", err)
	}

	return payloads, nil
}
