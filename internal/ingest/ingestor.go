// Package ingest turns inbound payment signals into canonical transactions.
//
// Every variant is persisted through a single insert-if-absent keyed on the
// landlord and external reference, so at-least-once delivery from the gateway
// produces exactly one transaction.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/rentrecon/internal/metrics"
	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/parser"
	"github.com/mmynk/rentrecon/internal/storage"
)

var (
	// ErrUnresolvedLandlord means the payload could not be attributed to a
	// landlord. The payload is queued for manual assignment.
	ErrUnresolvedLandlord = errors.New("unable to resolve landlord")

	// ErrAlreadyCommitted is returned when editing a transaction that already
	// produced a payment.
	ErrAlreadyCommitted = errors.New("transaction already committed")

	// ErrUnsupportedPayload is returned for unknown payload variants.
	ErrUnsupportedPayload = errors.New("unsupported payload")

	// ErrInvalidPayload is returned for structured payloads missing required fields.
	ErrInvalidPayload = errors.New("invalid payload")
)

// freeTextNamespace seeds deterministic references for free text that carries none.
var freeTextNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rentrecon:free-text"))

// Store is the subset of storage.Store the ingestor needs.
type Store interface {
	LandlordByShortCode(ctx context.Context, shortCode string) (string, error)
	LandlordsOwningUnitRef(ctx context.Context, text string) ([]string, error)
	InsertTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error)
	GetTransaction(ctx context.Context, landlordID, txID string) (*models.Transaction, error)
	UpdateTransactionContent(ctx context.Context, tx *models.Transaction) error
	GetPushRequest(ctx context.Context, checkoutRequestID string) (*models.PushRequest, error)
	UpdatePushRequestStatus(ctx context.Context, checkoutRequestID string, status models.PushStatus, resultDesc string) error
	QueueUnattributed(ctx context.Context, payload *models.UnattributedPayload) error
}

// Outcome describes what an ingestion did.
type Outcome struct {
	// Transaction is the stored transaction; nil when Ignored.
	Transaction *models.Transaction

	// Duplicate is set when the external reference was already ingested and
	// Transaction is the existing record, unchanged.
	Duplicate bool

	// Ignored is set for push callbacks reporting a failed payment.
	Ignored bool

	// Parsed is the parser result for free text payloads.
	Parsed *parser.Result
}

// Ingestor persists inbound payloads as transactions.
type Ingestor struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

// New creates an Ingestor. Source timestamps without a zone are read in loc.
func New(store Store, loc *time.Location) *Ingestor {
	if loc == nil {
		loc = parser.DefaultLocation
	}
	return &Ingestor{
		store: store,
		loc:   loc,
		now:   time.Now,
	}
}

// Ingest adapts payload and stores it unless its external reference exists.
func (i *Ingestor) Ingest(ctx context.Context, payload Payload) (*Outcome, error) {
	var (
		out *Outcome
		err error
	)

	switch p := payload.(type) {
	case *PushCallback:
		out, err = i.ingestPush(ctx, p)
	case PushCallback:
		out, err = i.ingestPush(ctx, &p)
	case *DepositCallback:
		out, err = i.ingestDeposit(ctx, p)
	case DepositCallback:
		out, err = i.ingestDeposit(ctx, &p)
	case *FreeText:
		out, err = i.ingestFreeText(ctx, *p)
	case FreeText:
		out, err = i.ingestFreeText(ctx, p)
	default:
		err = fmt.Errorf("%w: %T", ErrUnsupportedPayload, payload)
	}

	channel := "unknown"
	if payload != nil {
		channel = string(payload.Channel())
	}
	metrics.TransactionsIngested.WithLabelValues(channel, outcomeLabel(out, err)).Inc()

	return out, err
}

// ParseOnly runs the message parser without storing anything.
func (i *Ingestor) ParseOnly(text string) parser.Result {
	return parser.ParseIn(text, i.loc)
}

// Resync re-parses corrected text for a free-text transaction that has not
// produced a payment yet and returns it to matching. Committed transactions
// cannot be edited.
func (i *Ingestor) Resync(ctx context.Context, landlordID, txID, text string) (*models.Transaction, error) {
	tx, err := i.store.GetTransaction(ctx, landlordID, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsCommitted() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCommitted, txID)
	}
	if tx.Channel != models.ChannelBankImport && tx.Channel != models.ChannelManualEntry {
		return nil, fmt.Errorf("%w: %s transactions are not edited as text", ErrUnsupportedPayload, tx.Channel)
	}

	result := parser.ParseIn(text, i.loc)
	// A missing reference keeps the existing key so the row is not forked.
	applyParsed(tx, result, text, i.now())

	if err := i.store.UpdateTransactionContent(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to resync transaction: %w", err)
	}

	slog.Info("Transaction resynced",
		"transaction_id", tx.ID,
		"landlord_id", landlordID,
		"status", tx.Status,
		"parse_error", tx.ParseError,
	)

	return tx, nil
}

func (i *Ingestor) ingestPush(ctx context.Context, p *PushCallback) (*Outcome, error) {
	cb := p.Result()
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: push callback has no CheckoutRequestID", ErrInvalidPayload)
	}

	if cb.ResultCode != 0 {
		slog.Info("Push payment not completed",
			"checkout_request_id", cb.CheckoutRequestID,
			"result_code", cb.ResultCode,
			"result_desc", cb.ResultDesc,
		)
		err := i.store.UpdatePushRequestStatus(ctx, cb.CheckoutRequestID, models.PushFailed, cb.ResultDesc)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to record push failure: %w", err)
		}
		return &Outcome{Ignored: true}, nil
	}

	req, err := i.store.GetPushRequest(ctx, cb.CheckoutRequestID)
	if errors.Is(err, storage.ErrNotFound) {
		ref := cb.Item("MpesaReceiptNumber")
		if ref == "" {
			ref = cb.CheckoutRequestID
		}
		reason := fmt.Sprintf("no push request %s", cb.CheckoutRequestID)
		amount, err := decimal.NewFromString(cb.Item("Amount"))
		if err != nil {
			amount = decimal.Zero
			reason = fmt.Sprintf("%s; unreadable amount %q: %v", reason, cb.Item("Amount"), err)
		}
		return nil, i.unresolved(ctx, p, ref, amount, "", reason)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load push request: %w", err)
	}

	tx, err := pushTransaction(p, req, i.loc, i.now())
	if err != nil {
		return nil, err
	}
	tx.RawPayload = rawJSON(p)

	out, err := i.insert(ctx, tx)
	if err != nil {
		return nil, err
	}

	if req.Status != models.PushCompleted {
		if err := i.store.UpdatePushRequestStatus(ctx, req.CheckoutRequestID, models.PushCompleted, cb.ResultDesc); err != nil {
			slog.Warn("Failed to mark push request completed", "checkout_request_id", req.CheckoutRequestID, "error", err)
		}
	}

	return out, nil
}

func (i *Ingestor) ingestDeposit(ctx context.Context, d *DepositCallback) (*Outcome, error) {
	// Validate before resolving so malformed payloads are never queued.
	amount, err := depositAmount(d)
	if err != nil {
		return nil, err
	}

	landlordID, reason, err := i.resolveLandlord(ctx, d.BusinessShortCode, d.BillRefNumber)
	if err != nil {
		return nil, err
	}
	if landlordID == "" {
		return nil, i.unresolved(ctx, d, d.TransID, amount, d.BillRefNumber, reason)
	}

	tx, err := depositTransaction(d, landlordID, i.loc)
	if err != nil {
		return nil, err
	}
	tx.RawPayload = rawJSON(d)

	return i.insert(ctx, tx)
}

func (i *Ingestor) ingestFreeText(ctx context.Context, f FreeText) (*Outcome, error) {
	if f.Source != models.ChannelBankImport && f.Source != models.ChannelManualEntry {
		return nil, fmt.Errorf("%w: free text on channel %q", ErrUnsupportedPayload, f.Source)
	}
	if f.LandlordID == "" {
		return nil, fmt.Errorf("%w: free text without landlord", ErrInvalidPayload)
	}

	result := parser.ParseIn(f.Text, i.loc)
	tx := &models.Transaction{
		LandlordID: f.LandlordID,
		Channel:    f.Source,
	}
	applyParsed(tx, result, f.Text, i.now())

	out, err := i.insert(ctx, tx)
	if err != nil {
		return nil, err
	}
	out.Parsed = &result

	return out, nil
}

// applyParsed copies a parse result onto tx. Text that failed to parse is
// kept with status no_match and the reason, for correction later.
func applyParsed(tx *models.Transaction, result parser.Result, text string, now time.Time) {
	tx.RawPayload = text
	tx.UnitReference = result.UnitReference
	tx.PayerName = result.PayerName
	tx.PayerPhone = ""

	tx.Amount = decimal.Zero
	if result.Amount != nil {
		tx.Amount = *result.Amount
	}

	tx.OccurredAt = now
	if result.OccurredAt != nil {
		tx.OccurredAt = *result.OccurredAt
	}

	switch {
	case result.ExternalReference != "":
		tx.ExternalRef = result.ExternalReference
	case tx.ExternalRef == "":
		tx.ExternalRef = syntheticRef(tx.LandlordID, text)
	}

	if result.IsValid {
		tx.Status = models.StatusUnmatched
		tx.ParseError = ""
	} else {
		tx.Status = models.StatusNoMatch
		tx.ParseError = result.FailureReason()
	}
}

// syntheticRef derives a stable reference from the landlord and text, so that
// submitting the same unreferenced text twice stays idempotent.
func syntheticRef(landlordID, text string) string {
	id := uuid.NewSHA1(freeTextNamespace, []byte(landlordID+"\n"+strings.TrimSpace(text)))
	return "TXT-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:16])
}

func (i *Ingestor) insert(ctx context.Context, tx *models.Transaction) (*Outcome, error) {
	stored, inserted, err := i.store.InsertTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to store transaction: %w", err)
	}

	if !inserted {
		slog.Info("Duplicate transaction ignored",
			"landlord_id", stored.LandlordID,
			"external_ref", stored.ExternalRef,
			"transaction_id", stored.ID,
		)
		return &Outcome{Transaction: stored, Duplicate: true}, nil
	}

	slog.Info("Transaction ingested",
		"landlord_id", stored.LandlordID,
		"transaction_id", stored.ID,
		"external_ref", stored.ExternalRef,
		"channel", stored.Channel,
		"amount", stored.Amount.String(),
		"status", stored.Status,
	)
	return &Outcome{Transaction: stored}, nil
}

// resolveLandlord attributes a gateway payload by shortcode, then by the
// unit reference when exactly one landlord owns a matching unit. It returns
// "" and a reason when neither applies.
func (i *Ingestor) resolveLandlord(ctx context.Context, shortCode, reference string) (string, string, error) {
	if shortCode = strings.TrimSpace(shortCode); shortCode != "" {
		landlordID, err := i.store.LandlordByShortCode(ctx, shortCode)
		if err == nil {
			return landlordID, "", nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", "", fmt.Errorf("failed to resolve shortcode: %w", err)
		}
	}

	owners, err := i.store.LandlordsOwningUnitRef(ctx, reference)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve unit reference: %w", err)
	}
	if len(owners) == 1 {
		return owners[0], "", nil
	}

	reason := fmt.Sprintf("shortcode %q is not mapped and reference %q matches %d landlords", shortCode, reference, len(owners))
	return "", reason, nil
}

// unresolved queues the payload for manual assignment and returns
// ErrUnresolvedLandlord.
func (i *Ingestor) unresolved(ctx context.Context, p Payload, externalRef string, amount decimal.Decimal, reference, reason string) error {
	slog.Warn("Unattributable payment queued",
		"channel", p.Channel(),
		"external_ref", externalRef,
		"reason", reason,
	)

	queued := &models.UnattributedPayload{
		Channel:     p.Channel(),
		ExternalRef: strings.ToUpper(strings.TrimSpace(externalRef)),
		Amount:      amount,
		Reference:   reference,
		Reason:      reason,
		RawPayload:  rawJSON(p),
	}
	if err := i.store.QueueUnattributed(ctx, queued); err != nil {
		return fmt.Errorf("failed to queue unattributed payment: %w", err)
	}

	return fmt.Errorf("%w: %s", ErrUnresolvedLandlord, reason)
}

func rawJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func outcomeLabel(out *Outcome, err error) string {
	switch {
	case errors.Is(err, ErrUnresolvedLandlord):
		return "unresolved"
	case err != nil:
		return "error"
	case out.Ignored:
		return "ignored"
	case out.Duplicate:
		return "duplicate"
	default:
		return "inserted"
	}
}
