package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/storage"
)

// CreateLandlord inserts a new landlord.
func (s *SQLiteStore) CreateLandlord(ctx context.Context, landlord *models.Landlord) error {
	if landlord.ID == "" {
		landlord.ID = uuid.New().String()
	}
	if landlord.CreatedAt == 0 {
		landlord.CreatedAt = now()
	}

	query := `
		INSERT INTO landlords (id, name, active, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, landlord.ID, landlord.Name, landlord.Active, landlord.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("landlord %s: %w", landlord.ID, storage.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create landlord: %w", err)
	}

	return nil
}

// GetLandlord retrieves a landlord by ID.
func (s *SQLiteStore) GetLandlord(ctx context.Context, landlordID string) (*models.Landlord, error) {
	query := `SELECT id, name, active, created_at FROM landlords WHERE id = ?`

	landlord := &models.Landlord{}
	err := s.db.QueryRowContext(ctx, query, landlordID).Scan(
		&landlord.ID,
		&landlord.Name,
		&landlord.Active,
		&landlord.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("landlord %s: %w", landlordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get landlord: %w", err)
	}

	return landlord, nil
}

// MapShortCode attributes a gateway shortcode to a landlord, replacing any
// previous mapping.
func (s *SQLiteStore) MapShortCode(ctx context.Context, shortCode, landlordID string) error {
	query := `
		INSERT INTO landlord_shortcodes (short_code, landlord_id)
		VALUES (?, ?)
		ON CONFLICT(short_code) DO UPDATE SET landlord_id = excluded.landlord_id
	`
	if _, err := s.db.ExecContext(ctx, query, shortCode, landlordID); err != nil {
		return fmt.Errorf("failed to map shortcode: %w", err)
	}
	return nil
}

// LandlordByShortCode returns the active landlord a shortcode is mapped to.
func (s *SQLiteStore) LandlordByShortCode(ctx context.Context, shortCode string) (string, error) {
	query := `
		SELECT l.id
		FROM landlord_shortcodes sc
		JOIN landlords l ON l.id = sc.landlord_id
		WHERE sc.short_code = ? AND l.active = 1
	`

	var landlordID string
	err := s.db.QueryRowContext(ctx, query, shortCode).Scan(&landlordID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("shortcode %s: %w", shortCode, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get landlord by shortcode: %w", err)
	}

	return landlordID, nil
}

// CreateUnit inserts a new unit.
func (s *SQLiteStore) CreateUnit(ctx context.Context, unit *models.Unit) error {
	if unit.ID == "" {
		unit.ID = uuid.New().String()
	}
	if unit.CreatedAt == 0 {
		unit.CreatedAt = now()
	}
	if unit.Occupancy == "" {
		unit.Occupancy = models.OccupancyVacant
	}

	query := `
		INSERT INTO units (id, landlord_id, reference, monthly_rent, occupancy, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		unit.ID,
		unit.LandlordID,
		unit.Reference,
		unit.MonthlyRent.String(),
		string(unit.Occupancy),
		unit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create unit: %w", err)
	}

	return nil
}

// GetUnit retrieves a unit owned by the landlord.
func (s *SQLiteStore) GetUnit(ctx context.Context, landlordID, unitID string) (*models.Unit, error) {
	query := `
		SELECT id, landlord_id, reference, monthly_rent, occupancy, created_at
		FROM units
		WHERE id = ? AND landlord_id = ?
	`

	unit, err := scanUnit(s.db.QueryRowContext(ctx, query, unitID, landlordID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unit %s: %w", unitID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}

	return unit, nil
}

// ListUnits returns the landlord's units in insertion order.
func (s *SQLiteStore) ListUnits(ctx context.Context, landlordID string) ([]*models.Unit, error) {
	query := `
		SELECT id, landlord_id, reference, monthly_rent, occupancy, created_at
		FROM units
		WHERE landlord_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, landlordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []*models.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, unit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating units: %w", err)
	}

	return units, nil
}

// LandlordsOwningUnitRef returns the distinct active landlords that own a
// unit whose reference appears (case-insensitively) in text.
func (s *SQLiteStore) LandlordsOwningUnitRef(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	query := `
		SELECT DISTINCT u.landlord_id
		FROM units u
		JOIN landlords l ON l.id = u.landlord_id
		WHERE l.active = 1
		  AND u.reference <> ''
		  AND instr(lower(?), lower(u.reference)) > 0
		ORDER BY u.landlord_id
	`

	rows, err := s.db.QueryContext(ctx, query, text)
	if err != nil {
		return nil, fmt.Errorf("failed to look up unit reference: %w", err)
	}
	defer rows.Close()

	var landlordIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan landlord id: %w", err)
		}
		landlordIDs = append(landlordIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating landlords: %w", err)
	}

	return landlordIDs, nil
}

// CreateTenant inserts a new tenant.
func (s *SQLiteStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	if tenant.CreatedAt == 0 {
		tenant.CreatedAt = now()
	}

	query := `
		INSERT INTO tenants (id, landlord_id, name, phone, secondary_phone, unit_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.LandlordID,
		tenant.Name,
		tenant.Phone,
		tenant.SecondaryPhone,
		nullString(tenant.UnitID),
		tenant.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

// ListTenants returns the landlord's tenants in insertion order.
func (s *SQLiteStore) ListTenants(ctx context.Context, landlordID string) ([]*models.Tenant, error) {
	query := `
		SELECT id, landlord_id, name, phone, secondary_phone, unit_id, created_at
		FROM tenants
		WHERE landlord_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, landlordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		tenant := &models.Tenant{}
		var unitID sql.NullString
		if err := rows.Scan(
			&tenant.ID,
			&tenant.LandlordID,
			&tenant.Name,
			&tenant.Phone,
			&tenant.SecondaryPhone,
			&unitID,
			&tenant.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenant.UnitID = unitID.String
		tenants = append(tenants, tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*models.Unit, error) {
	unit := &models.Unit{}
	var occupancy string
	if err := row.Scan(
		&unit.ID,
		&unit.LandlordID,
		&unit.Reference,
		&unit.MonthlyRent,
		&occupancy,
		&unit.CreatedAt,
	); err != nil {
		return nil, err
	}
	unit.Occupancy = models.Occupancy(occupancy)
	return unit, nil
}
