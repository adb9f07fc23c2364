package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/parser"
	"github.com/mmynk/rentrecon/internal/reconcile"
)

// Transaction is the API view of a stored transaction.
type Transaction struct {
	ID              string             `json:"id"`
	ExternalRef     string             `json:"externalRef"`
	Amount          decimal.Decimal    `json:"amount"`
	OccurredAt      time.Time          `json:"occurredAt"`
	PayerName       string             `json:"payerName,omitempty"`
	PayerPhone      string             `json:"payerPhone,omitempty"`
	UnitReference   string             `json:"unitReference,omitempty"`
	Channel         models.Channel     `json:"channel"`
	Status          models.MatchStatus `json:"status"`
	Confidence      *int               `json:"confidence,omitempty"`
	MatchedUnitID   string             `json:"matchedUnitId,omitempty"`
	MatchedTenantID string             `json:"matchedTenantId,omitempty"`
	MatchReason     string             `json:"matchReason,omitempty"`
	ParseError      string             `json:"parseError,omitempty"`
	CreatedAt       int64              `json:"createdAt"`
}

func toTransaction(tx *models.Transaction) *Transaction {
	if tx == nil {
		return nil
	}
	return &Transaction{
		ID:              tx.ID,
		ExternalRef:     tx.ExternalRef,
		Amount:          tx.Amount,
		OccurredAt:      tx.OccurredAt,
		PayerName:       tx.PayerName,
		PayerPhone:      tx.PayerPhone,
		UnitReference:   tx.UnitReference,
		Channel:         tx.Channel,
		Status:          tx.Status,
		Confidence:      tx.Confidence,
		MatchedUnitID:   tx.MatchedUnitID,
		MatchedTenantID: tx.MatchedTenantID,
		MatchReason:     tx.MatchReason,
		ParseError:      tx.ParseError,
		CreatedAt:       tx.CreatedAt,
	}
}

type ReconcileRequest struct {
	TransactionIDs []string `json:"transactionIds,omitempty"`
	AutoMatch      bool     `json:"autoMatch"`
}

type ReconcileResponse = reconcile.Result

type ConfirmMatchRequest struct {
	TransactionID string `json:"transactionId"`
	UnitID        string `json:"unitId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
}

type ConfirmMatchResponse struct {
	Item reconcile.Item `json:"item"`
}

type ParseMessageRequest struct {
	Text string `json:"text"`
}

type ParseMessageResponse struct {
	Result        parser.Result `json:"result"`
	FailureReason string        `json:"failureReason,omitempty"`
}

// SubmitMessageRequest stores a pasted notification. Source defaults to
// manual_entry.
type SubmitMessageRequest struct {
	Text   string         `json:"text"`
	Source models.Channel `json:"source,omitempty"`

	// Reconcile runs matching on the stored transaction right away.
	Reconcile bool `json:"reconcile,omitempty"`
	AutoMatch bool `json:"autoMatch,omitempty"`
}

type SubmitMessageResponse struct {
	Transaction *Transaction    `json:"transaction"`
	Duplicate   bool            `json:"duplicate"`
	Parsed      *parser.Result  `json:"parsed,omitempty"`
	Item        *reconcile.Item `json:"item,omitempty"`
}

type ResyncTransactionRequest struct {
	TransactionID string `json:"transactionId"`
	Text          string `json:"text"`
}

type ResyncTransactionResponse struct {
	Transaction *Transaction `json:"transaction"`
}

// GetBalanceRequest names a month as YYYY-MM.
type GetBalanceRequest struct {
	UnitID string `json:"unitId"`
	Month  string `json:"month"`
}

type GetBalanceResponse struct {
	Balance *models.Balance `json:"balance"`
}

type GetStatementRequest struct {
	UnitID string `json:"unitId"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type GetStatementResponse struct {
	Balances []*models.Balance `json:"balances"`
}

// InitiatePaymentRequest asks a tenant's phone to approve a rent payment.
// AccountReference defaults to the unit's reference.
type InitiatePaymentRequest struct {
	UnitID           string          `json:"unitId,omitempty"`
	Phone            string          `json:"phone"`
	Amount           decimal.Decimal `json:"amount"`
	AccountReference string          `json:"accountReference,omitempty"`
	Description      string          `json:"description,omitempty"`
}

type InitiatePaymentResponse struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
	MerchantRequestID string `json:"merchantRequestId"`
	ResponseCode      string `json:"responseCode"`
	CustomerMessage   string `json:"customerMessage,omitempty"`
}
