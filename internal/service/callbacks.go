package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mmynk/rentrecon/internal/ingest"
	"github.com/mmynk/rentrecon/internal/metrics"
	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/reconcile"
)

const (
	STKCallbackPath     = "/callbacks/mpesa/stk"
	C2BConfirmationPath = "/callbacks/mpesa/c2b/confirmation"
	C2BValidationPath   = "/callbacks/mpesa/c2b/validation"

	maxCallbackBody = 64 << 10
)

// ack is the body the gateway expects for every accepted callback.
type ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var accepted = ack{ResultCode: 0, ResultDesc: "Accepted"}

// CallbackHandler receives payment notifications pushed by the gateway.
type CallbackHandler struct {
	ingestor     *ingest.Ingestor
	orchestrator *reconcile.Orchestrator
}

// NewCallbackHandler creates a CallbackHandler.
func NewCallbackHandler(ingestor *ingest.Ingestor, orchestrator *reconcile.Orchestrator) *CallbackHandler {
	return &CallbackHandler{ingestor: ingestor, orchestrator: orchestrator}
}

// Register mounts the callback routes on mux behind wrap, which applies the
// source allow-list and rate limit.
func (h *CallbackHandler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST "+STKCallbackPath, wrap(http.HandlerFunc(h.handleSTK)))
	mux.Handle("POST "+C2BConfirmationPath, wrap(http.HandlerFunc(h.handleConfirmation)))
	mux.Handle("POST "+C2BValidationPath, wrap(http.HandlerFunc(h.handleValidation)))
}

func (h *CallbackHandler) handleSTK(w http.ResponseWriter, r *http.Request) {
	var payload ingest.PushCallback
	if !decodeCallback(w, r, &payload) {
		return
	}
	h.ingest(r.Context(), &payload)
	writeAck(w)
}

func (h *CallbackHandler) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	var payload ingest.DepositCallback
	if !decodeCallback(w, r, &payload) {
		return
	}
	h.ingest(r.Context(), &payload)
	writeAck(w)
}

// handleValidation accepts every deposit. Attribution happens on confirmation.
func (h *CallbackHandler) handleValidation(w http.ResponseWriter, r *http.Request) {
	var payload ingest.DepositCallback
	if !decodeCallback(w, r, &payload) {
		return
	}
	slog.Debug("Deposit validation received",
		"trans_id", payload.TransID,
		"short_code", payload.BusinessShortCode,
		"bill_ref", payload.BillRefNumber,
	)
	writeAck(w)
}

// ingest stores the payload and reconciles the new transaction. Failures are
// logged and never surfaced to the gateway.
func (h *CallbackHandler) ingest(ctx context.Context, payload ingest.Payload) {
	out, err := h.ingestor.Ingest(ctx, payload)
	switch {
	case errors.Is(err, ingest.ErrUnresolvedLandlord):
		slog.Warn("Callback queued for manual attribution", "channel", payload.Channel(), "error", err)
		return
	case err != nil:
		slog.Error("Callback ingestion failed", "channel", payload.Channel(), "error", err)
		return
	case out.Ignored:
		return
	case out.Duplicate:
		slog.Info("Duplicate callback ignored",
			"channel", payload.Channel(),
			"transaction_id", out.Transaction.ID,
			"external_ref", out.Transaction.ExternalRef,
		)
		return
	}

	tx := out.Transaction
	if tx.Status != models.StatusUnmatched {
		return
	}

	result, err := h.orchestrator.Reconcile(ctx, reconcile.Request{
		LandlordID:     tx.LandlordID,
		TransactionIDs: []string{tx.ID},
		AutoMatch:      true,
	})
	if err != nil {
		slog.Error("Callback reconciliation failed", "transaction_id", tx.ID, "error", err)
		return
	}
	for _, item := range result.Results {
		slog.Info("Callback reconciled",
			"transaction_id", item.TransactionID,
			"outcome", item.Outcome,
			"confidence", item.Match.Confidence,
		)
	}
}

// decodeCallback reads a JSON body into v. Malformed bodies are acknowledged
// so the gateway does not retry them, and counted.
func decodeCallback(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err == nil {
		err = json.Unmarshal(body, v)
	}
	if err != nil {
		slog.Warn("Malformed callback body", "path", r.URL.Path, "error", err)
		metrics.CallbackRejections.WithLabelValues("malformed").Inc()
		writeAck(w)
		return false
	}
	return true
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(accepted); err != nil {
		slog.Error("Failed to write callback ack", "error", err)
	}
}
