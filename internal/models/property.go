package models

import "github.com/shopspring/decimal"

// Landlord owns units and tenants. All matching is scoped to one landlord.
type Landlord struct {
	// ID is the unique identifier for the landlord (UUID format).
	ID string

	Name string

	// Active landlords may receive payments through shared shortcodes.
	Active bool

	// CreatedAt is the Unix timestamp when the landlord was created.
	CreatedAt int64
}

// Occupancy is the occupancy state of a unit.
type Occupancy string

const (
	OccupancyVacant   Occupancy = "vacant"
	OccupancyOccupied Occupancy = "occupied"
)

// Unit represents a rentable house or room.
type Unit struct {
	// ID is the unique identifier for the unit (UUID format).
	ID string

	LandlordID string

	// Reference is the human-entered unit number (e.g. "B2") matched against
	// free text in payment references.
	Reference string

	// MonthlyRent is the expected rent per calendar month.
	MonthlyRent decimal.Decimal

	Occupancy Occupancy

	CreatedAt int64
}

// Tenant is a person renting a unit.
type Tenant struct {
	// ID is the unique identifier for the tenant (UUID format).
	ID string

	LandlordID string

	// Name is the display name, split into words by the name matcher.
	Name string

	Phone          string
	SecondaryPhone string

	// UnitID is the currently assigned unit, empty when unassigned.
	// At most one tenant occupies a unit; the CRUD layer enforces it.
	UnitID string

	CreatedAt int64
}
