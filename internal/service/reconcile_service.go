package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/rentrecon/internal/gateway"
	"github.com/mmynk/rentrecon/internal/ingest"
	"github.com/mmynk/rentrecon/internal/middleware"
	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/reconcile"
	"github.com/mmynk/rentrecon/internal/storage"
)

const (
	// ReconcileServiceName is the fully-qualified name of the service.
	ReconcileServiceName = "rentrecon.v1.ReconcileService"

	// ReconcileServicePath is the mount path of the service handler.
	ReconcileServicePath = "/" + ReconcileServiceName + "/"

	ReconcileProcedure         = ReconcileServicePath + "Reconcile"
	ConfirmMatchProcedure      = ReconcileServicePath + "ConfirmMatch"
	ParseMessageProcedure      = ReconcileServicePath + "ParseMessage"
	SubmitMessageProcedure     = ReconcileServicePath + "SubmitMessage"
	ResyncTransactionProcedure = ReconcileServicePath + "ResyncTransaction"
	GetBalanceProcedure        = ReconcileServicePath + "GetBalance"
	GetStatementProcedure      = ReconcileServicePath + "GetStatement"
	InitiatePaymentProcedure   = ReconcileServicePath + "InitiatePayment"
)

// Gateway starts push payments.
type Gateway interface {
	InitiatePush(ctx context.Context, req gateway.PushRequest) (*gateway.PushResponse, error)
}

// Ledger reports unit balances.
type Ledger interface {
	Recompute(ctx context.Context, landlordID, unitID string, at time.Time) (*models.Balance, error)
	Statement(ctx context.Context, landlordID, unitID string, from, to time.Time) ([]*models.Balance, error)
	Location() *time.Location
}

// ReconcileService implements the landlord-facing reconciliation API. Every
// call is scoped to the landlord of the caller's token.
type ReconcileService struct {
	store        storage.Store
	ingestor     *ingest.Ingestor
	orchestrator *reconcile.Orchestrator
	ledger       Ledger
	gateway      Gateway
}

// NewReconcileService creates a ReconcileService. gw may be nil, in which
// case InitiatePayment is unavailable.
func NewReconcileService(store storage.Store, ingestor *ingest.Ingestor, orchestrator *reconcile.Orchestrator, ledger Ledger, gw Gateway) *ReconcileService {
	return &ReconcileService{
		store:        store,
		ingestor:     ingestor,
		orchestrator: orchestrator,
		ledger:       ledger,
		gateway:      gw,
	}
}

// NewReconcileServiceHandler builds an HTTP handler serving every procedure
// of svc. It returns the path to mount the handler on.
func NewReconcileServiceHandler(svc *ReconcileService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(ReconcileProcedure, connect.NewUnaryHandler(ReconcileProcedure, svc.Reconcile, opts...))
	mux.Handle(ConfirmMatchProcedure, connect.NewUnaryHandler(ConfirmMatchProcedure, svc.ConfirmMatch, opts...))
	mux.Handle(ParseMessageProcedure, connect.NewUnaryHandler(ParseMessageProcedure, svc.ParseMessage, opts...))
	mux.Handle(SubmitMessageProcedure, connect.NewUnaryHandler(SubmitMessageProcedure, svc.SubmitMessage, opts...))
	mux.Handle(ResyncTransactionProcedure, connect.NewUnaryHandler(ResyncTransactionProcedure, svc.ResyncTransaction, opts...))
	mux.Handle(GetBalanceProcedure, connect.NewUnaryHandler(GetBalanceProcedure, svc.GetBalance, opts...))
	mux.Handle(GetStatementProcedure, connect.NewUnaryHandler(GetStatementProcedure, svc.GetStatement, opts...))
	mux.Handle(InitiatePaymentProcedure, connect.NewUnaryHandler(InitiatePaymentProcedure, svc.InitiatePayment, opts...))

	return ReconcileServicePath, mux
}

// Reconcile runs a reconciliation batch.
func (s *ReconcileService) Reconcile(ctx context.Context, req *connect.Request[ReconcileRequest]) (*connect.Response[ReconcileResponse], error) {
	landlordID, err := landlordFrom(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Reconcile request received",
		"landlord_id", landlordID,
		"transaction_ids", len(req.Msg.TransactionIDs),
		"auto_match", req.Msg.AutoMatch,
	)

	result, err := s.orchestrator.Reconcile(ctx, reconcile.Request{
		LandlordID:     landlordID,
		TransactionIDs: req.Msg.TransactionIDs,
		AutoMatch:      req.Msg.AutoMatch,
	})
	if err != nil {
		slog.Error("Reconcile failed", "landlord_id", landlordID, "error", err)
		return nil, toConnectError(err)
	}

	return connect.NewResponse(result), nil
}

// ConfirmMatch commits a match a landlord reviewed.
func (s *ReconcileService) ConfirmMatch(ctx context.Context, req *connect.Request[ConfirmMatchRequest]) (*connect.Response[ConfirmMatchResponse], error) {
	landlordID, err := landlordFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.Msg.TransactionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("transactionId is required"))
	}

	item, err := s.orchestrator.Confirm(ctx, reconcile.ConfirmRequest{
		LandlordID:    landlordID,
		TransactionID: req.Msg.TransactionID,
		UnitID:        req.Msg.UnitID,
		TenantID:      req.Msg.TenantID,
	})
	if err != nil {
		slog.Error("ConfirmMatch failed", "transaction_id", req.Msg.TransactionID, "error", err)
		return nil, toConnectError(err)
	}

	slog.Info("Match confirmed",
		"transaction_id", item.TransactionID,
		"payment_id", item.PaymentID,
		"unit_id", item.Match.UnitID,
	)

	return connect.NewResponse(&ConfirmMatchResponse{Item: *item}), nil
}

// ParseMessage parses text without storing it.
func (s *ReconcileService) ParseMessage(ctx context.Context, req *connect.Request[ParseMessageRequest]) (*connect.Response[ParseMessageResponse], error) {
	if _, err := landlordFrom(ctx); err != nil {
		return nil, err
	}
	result := s.ingestor.ParseOnly(req.Msg.Text)
	return connect.NewResponse(&ParseMessageResponse{
		Result:        result,
		FailureReason: result.FailureReason(),
	}), nil
}

// SubmitMessage stores a pasted notification as a transaction.
func (s *ReconcileService) SubmitMessage(ctx context.Context, req *connect.Request[SubmitMessageRequest]) (*connect.Response[SubmitMessageResponse], error) {
	landlordID, err := landlordFrom(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Msg.Text) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("text is required"))
	}

	source := req.Msg.Source
	if source == "" {
		source = models.ChannelManualEntry
	}

	out, err := s.ingestor.Ingest(ctx, ingest.FreeText{
		Text:       req.Msg.Text,
		Source:     source,
		LandlordID: landlordID,
	})
	if err != nil {
		slog.Error("SubmitMessage failed", "landlord_id", landlordID, "error", err)
		return nil, toConnectError(err)
	}

	resp := &SubmitMessageResponse{
		Transaction: toTransaction(out.Transaction),
		Duplicate:   out.Duplicate,
		Parsed:      out.Parsed,
	}

	if req.Msg.Reconcile && !out.Duplicate && out.Transaction.Status == models.StatusUnmatched {
		result, err := s.orchestrator.Reconcile(ctx, reconcile.Request{
			LandlordID:     landlordID,
			TransactionIDs: []string{out.Transaction.ID},
			AutoMatch:      req.Msg.AutoMatch,
		})
		if err != nil {
			return nil, toConnectError(err)
		}
		if len(result.Results) == 1 {
			resp.Item = &result.Results[0]
		}
	}

	return connect.NewResponse(resp), nil
}

// ResyncTransaction re-parses corrected text for an uncommitted transaction.
func (s *ReconcileService) ResyncTransaction(ctx context.Context, req *connect.Request[ResyncTransactionRequest]) (*connect.Response[ResyncTransactionResponse], error) {
	landlordID, err := landlordFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.Msg.TransactionID == "" || strings.TrimSpace(req.Msg.Text) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("transactionId and text are required"))
	}

	tx, err := s.ingestor.Resync(ctx, landlordID, req.Msg.TransactionID, req.Msg.Text)
	if err != nil {
		slog.Error("ResyncTransaction failed", "transaction_id", req.Msg.TransactionID, "error", err)
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&ResyncTransactionResponse{Transaction: toTransaction(tx)}), nil
}

// GetBalance recomputes and returns one month of a unit's ledger.
func (s *ReconcileService) GetBalance(ctx context.Context, req *connect.Request[GetBalanceRequest]) (*connect.Response[GetBalanceResponse], error) {
	landlordID, err := landlordFrom(ctx)
	if err != nil {
		return nil, err
	}
	at, err := s.monthStart(req.Msg.Month)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	balance, err := s.ledger.Recompute(ctx, landlordID, req.Msg.UnitID, at)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&GetBalanceResponse{Balance: balance}), nil
}

// GetStatement returns a unit's balances over a month range.
func (s *ReconcileService) GetStatement(ctx context.Context, req *connect.Request[GetStatementRequest]) (*connect.Response[GetStatementResponse], error) {
	landlordID, err := landlordFrom(ctx)
	if err != nil {
		return nil, err
	}
	from, err := s.monthStart(req.Msg.From)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("from: %w", err))
	}
	to, err := s.monthStart(req.Msg.To)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("to: %w", err))
	}

	balances, err := s.ledger.Statement(ctx, landlordID, req.Msg.UnitID, from, to)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&GetStatementResponse{Balances: balances}), nil
}

// InitiatePayment prompts a tenant's phone to pay and records the request so
// the asynchronous callback can be attributed.
func (s *ReconcileService) InitiatePayment(ctx context.Context, req *connect.Request[InitiatePaymentRequest]) (*connect.Response[InitiatePaymentResponse], error) {
	landlordID, err := landlordFrom(ctx)
	if err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("push payments are not configured"))
	}

	reference := req.Msg.AccountReference
	if req.Msg.UnitID != "" {
		unit, err := s.store.GetUnit(ctx, landlordID, req.Msg.UnitID)
		if err != nil {
			return nil, toConnectError(err)
		}
		if reference == "" {
			reference = unit.Reference
		}
	}

	resp, err := s.gateway.InitiatePush(ctx, gateway.PushRequest{
		Phone:            req.Msg.Phone,
		Amount:           req.Msg.Amount,
		AccountReference: reference,
		Description:      req.Msg.Description,
	})
	if err != nil {
		slog.Error("InitiatePayment failed", "landlord_id", landlordID, "error", err)
		return nil, toConnectError(err)
	}

	if err := s.store.CreatePushRequest(ctx, &models.PushRequest{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		LandlordID:        landlordID,
		AccountReference:  reference,
		Phone:             req.Msg.Phone,
		Amount:            req.Msg.Amount,
	}); err != nil {
		slog.Error("Failed to record push request",
			"checkout_request_id", resp.CheckoutRequestID,
			"error", err,
		)
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&InitiatePaymentResponse{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		ResponseCode:      resp.ResponseCode,
		CustomerMessage:   resp.CustomerMessage,
	}), nil
}

// monthStart parses YYYY-MM and returns the first instant of that month in
// the business zone.
func (s *ReconcileService) monthStart(value string) (time.Time, error) {
	month, err := time.Parse(models.MonthLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("month must be YYYY-MM, got %q", value)
	}
	start, _ := models.MonthBounds(month, s.ledger.Location())
	return start, nil
}

func landlordFrom(ctx context.Context) (string, error) {
	landlordID := middleware.GetLandlordID(ctx)
	if landlordID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, errors.New("no landlord in request context"))
	}
	return landlordID, nil
}
