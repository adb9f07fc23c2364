// Package reconcile runs matching over a landlord's transactions and commits
// confident matches as payments.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/rentrecon/internal/matcher"
	"github.com/mmynk/rentrecon/internal/metrics"
	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/storage"
)

const (
	// DefaultAutoMatchThreshold is the minimum confidence committed without review.
	DefaultAutoMatchThreshold = 80

	// DefaultPageSize bounds the transactions loaded by one batch.
	DefaultPageSize = 100

	// confirmedConfidence is recorded for matches a person confirmed.
	confirmedConfidence = 100
)

// ErrNotConfirmable is returned when a manual confirmation cannot be applied.
var ErrNotConfirmable = errors.New("transaction cannot be confirmed")

// Store is the subset of storage.Store the orchestrator needs.
type Store interface {
	ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]*models.Transaction, error)
	GetTransaction(ctx context.Context, landlordID, txID string) (*models.Transaction, error)
	ListTenants(ctx context.Context, landlordID string) ([]*models.Tenant, error)
	ListUnits(ctx context.Context, landlordID string) ([]*models.Unit, error)
	RecordMatch(ctx context.Context, update storage.MatchUpdate) error
	CommitPayment(ctx context.Context, payment *models.Payment, update storage.MatchUpdate) error
}

// Ledger refreshes a unit's balance after a payment lands.
type Ledger interface {
	Recompute(ctx context.Context, landlordID, unitID string, at time.Time) (*models.Balance, error)
}

// Config tunes the orchestrator. Zero values select the defaults.
type Config struct {
	AutoMatchThreshold int
	PageSize           int
}

// Outcome is the decision taken for one transaction.
type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeSuggested Outcome = "suggested"
	OutcomeNoMatch   Outcome = "no_match"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Request selects the transactions to reconcile.
type Request struct {
	LandlordID string

	// TransactionIDs restricts the batch to these transactions. When empty,
	// unmatched positive-amount transactions are loaded up to the page size.
	TransactionIDs []string

	// AutoMatch commits matches at or above the threshold.
	AutoMatch bool
}

// Item is the result for one transaction.
type Item struct {
	TransactionID string             `json:"transactionId"`
	ExternalRef   string             `json:"externalRef"`
	Amount        decimal.Decimal    `json:"amount"`
	Outcome       Outcome            `json:"outcome"`
	Status        models.MatchStatus `json:"status"`

	// Match is the full scoring result, shown to a reviewer for suggestions.
	Match matcher.Result `json:"match"`

	PaymentID string          `json:"paymentId,omitempty"`
	Balance   *models.Balance `json:"balance,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Summary counts outcomes over a batch.
type Summary struct {
	TotalProcessed int `json:"totalProcessed"`
	Matched        int `json:"matched"`
	Suggested      int `json:"suggested"`
	NoMatch        int `json:"noMatch"`
	Failed         int `json:"failed"`
}

// Result is the outcome of a batch.
type Result struct {
	Summary Summary `json:"summary"`
	Results []Item  `json:"results"`
}

// ConfirmRequest applies a match a person reviewed. When UnitID and TenantID
// are both empty the stored suggestion is used.
type ConfirmRequest struct {
	LandlordID    string
	TransactionID string
	UnitID        string
	TenantID      string
}

// Orchestrator runs reconciliation batches.
type Orchestrator struct {
	store     Store
	ledger    Ledger
	threshold int
	pageSize  int
}

// New creates an Orchestrator.
func New(store Store, ledger Ledger, cfg Config) *Orchestrator {
	if cfg.AutoMatchThreshold <= 0 {
		cfg.AutoMatchThreshold = DefaultAutoMatchThreshold
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Orchestrator{
		store:     store,
		ledger:    ledger,
		threshold: cfg.AutoMatchThreshold,
		pageSize:  cfg.PageSize,
	}
}

// Reconcile matches a batch of transactions against one snapshot of the
// landlord's tenants and units. A failure on one transaction is recorded in
// its item and does not stop the batch.
func (o *Orchestrator) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if req.LandlordID == "" {
		return nil, fmt.Errorf("landlord id is required")
	}

	candidates, err := o.loadCandidates(ctx, req)
	if err != nil {
		return nil, err
	}

	tenants, units, err := o.snapshot(ctx, req.LandlordID)
	if err != nil {
		return nil, err
	}

	result := &Result{Results: make([]Item, 0, len(candidates))}
	for _, tx := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item := o.process(ctx, tx, tenants, units, req.AutoMatch)
		result.Results = append(result.Results, item)
		result.Summary.add(item.Outcome)
		if item.Outcome != OutcomeSkipped {
			metrics.ReconcileOutcomes.WithLabelValues(string(item.Outcome)).Inc()
		}
	}

	slog.Info("Reconciliation batch completed",
		"landlord_id", req.LandlordID,
		"auto_match", req.AutoMatch,
		"processed", result.Summary.TotalProcessed,
		"matched", result.Summary.Matched,
		"suggested", result.Summary.Suggested,
		"no_match", result.Summary.NoMatch,
		"failed", result.Summary.Failed,
	)

	return result, nil
}

// Confirm commits a reviewed match, bypassing the confidence threshold.
func (o *Orchestrator) Confirm(ctx context.Context, req ConfirmRequest) (*Item, error) {
	tx, err := o.store.GetTransaction(ctx, req.LandlordID, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsCommitted() {
		return nil, fmt.Errorf("%w: %s is already %s", ErrNotConfirmable, tx.ID, tx.Status)
	}
	if !tx.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s has no amount", ErrNotConfirmable, tx.ID)
	}

	unitID, tenantID := req.UnitID, req.TenantID
	if unitID == "" && tenantID == "" {
		unitID, tenantID = tx.MatchedUnitID, tx.MatchedTenantID
	}
	if unitID == "" && tenantID == "" {
		return nil, fmt.Errorf("%w: %s has no suggested match", ErrNotConfirmable, tx.ID)
	}

	tenants, units, err := o.snapshot(ctx, req.LandlordID)
	if err != nil {
		return nil, err
	}

	match := matcher.Result{Confidence: confirmedConfidence, Reason: "confirmed manually"}
	if tenantID != "" {
		tenant := findTenant(tenants, tenantID)
		if tenant == nil {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, storage.ErrNotFound)
		}
		match.TenantID = tenant.ID
		match.MatchedName = tenant.Name
		if unitID == "" {
			unitID = tenant.UnitID
		}
	}
	if unitID != "" {
		if !hasUnit(units, unitID) {
			return nil, fmt.Errorf("unit %s: %w", unitID, storage.ErrNotFound)
		}
		match.UnitID = unitID
	}

	item := newItem(tx, match)
	if err := o.commit(ctx, tx, match, models.StatusManuallyMatched, &item); err != nil {
		return nil, err
	}
	metrics.ReconcileOutcomes.WithLabelValues("confirmed").Inc()

	return &item, nil
}

func (o *Orchestrator) loadCandidates(ctx context.Context, req Request) ([]*models.Transaction, error) {
	filter := storage.TransactionFilter{LandlordID: req.LandlordID}
	if len(req.TransactionIDs) > 0 {
		filter.IDs = req.TransactionIDs
	} else {
		filter.Status = models.StatusUnmatched
		filter.PositiveOnly = true
		filter.Limit = o.pageSize
	}

	txs, err := o.store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return txs, nil
}

// snapshot loads the landlord's tenants and units concurrently.
func (o *Orchestrator) snapshot(ctx context.Context, landlordID string) ([]*models.Tenant, []*models.Unit, error) {
	var (
		tenants []*models.Tenant
		units   []*models.Unit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tenants, err = o.store.ListTenants(gctx, landlordID)
		return err
	})
	g.Go(func() error {
		var err error
		units, err = o.store.ListUnits(gctx, landlordID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("failed to load landlord snapshot: %w", err)
	}

	return tenants, units, nil
}

func (o *Orchestrator) process(ctx context.Context, tx *models.Transaction, tenants []*models.Tenant, units []*models.Unit, autoMatch bool) Item {
	if tx.Status.IsCommitted() {
		item := newItem(tx, matcher.Result{})
		item.Outcome = OutcomeSkipped
		return item
	}

	var match matcher.Result
	if tx.Amount.IsPositive() {
		match = matcher.Match(tx, tenants, units)
	}
	item := newItem(tx, match)

	switch {
	case !match.Matched():
		item.Outcome = OutcomeNoMatch
		item.Status = models.StatusNoMatch
		o.record(ctx, tx, match, models.StatusNoMatch, &item)

	case autoMatch && match.Confidence >= o.threshold:
		if err := o.commit(ctx, tx, match, models.StatusAutoMatched, &item); err != nil {
			slog.Error("Auto-match commit failed", "transaction_id", tx.ID, "error", err)
			item.Outcome = OutcomeFailed
			item.Error = err.Error()
		}

	default:
		item.Outcome = OutcomeSuggested
		item.Status = models.StatusSuggested
		o.record(ctx, tx, match, models.StatusSuggested, &item)
	}

	return item
}

// record stores a non-committing outcome. A storage failure marks the item failed.
func (o *Orchestrator) record(ctx context.Context, tx *models.Transaction, match matcher.Result, status models.MatchStatus, item *Item) {
	err := o.store.RecordMatch(ctx, storage.MatchUpdate{
		TransactionID: tx.ID,
		Status:        status,
		Confidence:    match.Confidence,
		UnitID:        match.UnitID,
		TenantID:      match.TenantID,
		Reason:        match.Reason,
	})
	if err != nil {
		slog.Error("Failed to record match", "transaction_id", tx.ID, "error", err)
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
	}
}

// commit creates the payment, marks the transaction and refreshes the ledger.
// A ledger failure after the payment is stored is reported on the item but
// does not undo the commit.
func (o *Orchestrator) commit(ctx context.Context, tx *models.Transaction, match matcher.Result, status models.MatchStatus, item *Item) error {
	payment := &models.Payment{
		LandlordID:    tx.LandlordID,
		UnitID:        match.UnitID,
		TenantID:      match.TenantID,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		ExternalRef:   tx.ExternalRef,
		OccurredAt:    tx.OccurredAt,
		PayerName:     tx.PayerName,
	}
	update := storage.MatchUpdate{
		TransactionID: tx.ID,
		Status:        status,
		Confidence:    match.Confidence,
		UnitID:        match.UnitID,
		TenantID:      match.TenantID,
		Reason:        match.Reason,
	}

	if err := o.store.CommitPayment(ctx, payment, update); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}

	item.Outcome = OutcomeMatched
	item.Status = status
	item.PaymentID = payment.ID

	slog.Info("Payment committed",
		"landlord_id", tx.LandlordID,
		"transaction_id", tx.ID,
		"payment_id", payment.ID,
		"unit_id", match.UnitID,
		"tenant_id", match.TenantID,
		"confidence", match.Confidence,
		"status", status,
	)

	if match.UnitID == "" {
		return nil
	}

	balance, err := o.ledger.Recompute(ctx, tx.LandlordID, match.UnitID, tx.OccurredAt)
	if err != nil {
		slog.Error("Ledger recompute failed", "unit_id", match.UnitID, "transaction_id", tx.ID, "error", err)
		item.Error = fmt.Sprintf("payment committed but balance not refreshed: %v", err)
		return nil
	}
	item.Balance = balance

	return nil
}

func newItem(tx *models.Transaction, match matcher.Result) Item {
	return Item{
		TransactionID: tx.ID,
		ExternalRef:   tx.ExternalRef,
		Amount:        tx.Amount,
		Status:        tx.Status,
		Match:         match,
	}
}

func (s *Summary) add(outcome Outcome) {
	switch outcome {
	case OutcomeMatched:
		s.Matched++
	case OutcomeSuggested:
		s.Suggested++
	case OutcomeNoMatch:
		s.NoMatch++
	case OutcomeFailed:
		s.Failed++
	default:
		return
	}
	s.TotalProcessed++
}

func findTenant(tenants []*models.Tenant, id string) *models.Tenant {
	for _, t := range tenants {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func hasUnit(units []*models.Unit, id string) bool {
	for _, u := range units {
		if u.ID == id {
			return true
		}
	}
	return false
}
