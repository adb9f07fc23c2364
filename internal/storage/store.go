// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/rentrecon/internal/models"
)

var (
	// ErrNotFound is wrapped by lookups that find no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is wrapped when a unique key already exists.
	ErrDuplicate = errors.New("duplicate")
)

// TransactionFilter selects transactions for a reconciliation batch.
type TransactionFilter struct {
	LandlordID string

	// IDs restricts the result to these transactions when non-empty.
	IDs []string

	// Status filters by match status when non-empty.
	Status models.MatchStatus

	// PositiveOnly skips zero-amount rows.
	PositiveOnly bool

	Limit int
}

// MatchUpdate records a scoring outcome on a transaction without committing it.
type MatchUpdate struct {
	TransactionID string
	Status        models.MatchStatus
	Confidence    int
	UnitID        string
	TenantID      string
	Reason        string
}

// Store defines the interface for reconciliation storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the engine packages, each of which depends only on the
// subset it uses.
type Store interface {
	// CreateLandlord persists a landlord. ID and CreatedAt are populated if unset.
	CreateLandlord(ctx context.Context, landlord *models.Landlord) error
	GetLandlord(ctx context.Context, landlordID string) (*models.Landlord, error)

	// MapShortCode attributes a shared gateway shortcode to a landlord.
	MapShortCode(ctx context.Context, shortCode, landlordID string) error
	LandlordByShortCode(ctx context.Context, shortCode string) (string, error)

	CreateUnit(ctx context.Context, unit *models.Unit) error
	GetUnit(ctx context.Context, landlordID, unitID string) (*models.Unit, error)
	ListUnits(ctx context.Context, landlordID string) ([]*models.Unit, error)

	// LandlordsOwningUnitRef returns the landlords owning a unit whose
	// reference is contained in the given free text.
	LandlordsOwningUnitRef(ctx context.Context, text string) ([]string, error)

	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	ListTenants(ctx context.Context, landlordID string) ([]*models.Tenant, error)

	// InsertTransaction inserts tx unless (LandlordID, ExternalRef) exists, in
	// one statement. It returns the stored row and whether it was inserted.
	InsertTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error)
	GetTransaction(ctx context.Context, landlordID, txID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.Transaction, error)

	// UpdateTransactionContent rewrites the parsed fields of an uncommitted transaction.
	UpdateTransactionContent(ctx context.Context, tx *models.Transaction) error

	// RecordMatch stores a suggestion or no-match outcome. Committed
	// transactions are left untouched.
	RecordMatch(ctx context.Context, update MatchUpdate) error

	// CommitPayment inserts the payment and marks its transaction committed
	// atomically. Returns ErrDuplicate if the transaction was already committed.
	CommitPayment(ctx context.Context, payment *models.Payment, update MatchUpdate) error
	ListPayments(ctx context.Context, landlordID string, unitID string) ([]*models.Payment, error)

	// SumPayments totals committed payments for a unit with from <= occurred_at < to.
	SumPayments(ctx context.Context, unitID string, from, to time.Time) (decimal.Decimal, error)

	GetBalance(ctx context.Context, unitID string, month time.Time) (*models.Balance, error)

	// LatestBalanceBefore returns the most recent balance strictly before month,
	// or nil if there is none.
	LatestBalanceBefore(ctx context.Context, unitID string, month time.Time) (*models.Balance, error)

	// ListBalancesAfter returns balances strictly after month, oldest first.
	ListBalancesAfter(ctx context.Context, unitID string, month time.Time) ([]*models.Balance, error)

	// UpsertBalance creates or recomputes the (unit, month) row.
	UpsertBalance(ctx context.Context, balance *models.Balance) error

	CreatePushRequest(ctx context.Context, req *models.PushRequest) error
	GetPushRequest(ctx context.Context, checkoutRequestID string) (*models.PushRequest, error)
	UpdatePushRequestStatus(ctx context.Context, checkoutRequestID string, status models.PushStatus, resultDesc string) error

	// QueueUnattributed stores inbound money without a landlord. Re-queuing
	// the same external reference is a no-op.
	QueueUnattributed(ctx context.Context, payload *models.UnattributedPayload) error
	ListUnattributed(ctx context.Context) ([]*models.UnattributedPayload, error)

	// Close releases any resources held by the store.
	Close() error
}
