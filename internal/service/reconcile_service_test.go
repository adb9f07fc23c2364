package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/rentrecon/internal/auth"
	"github.com/mmynk/rentrecon/internal/gateway"
	"github.com/mmynk/rentrecon/internal/ingest"
	"github.com/mmynk/rentrecon/internal/ledger"
	"github.com/mmynk/rentrecon/internal/middleware"
	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/parser"
	"github.com/mmynk/rentrecon/internal/reconcile"
	"github.com/mmynk/rentrecon/internal/storage/sqlite"
)

const (
	scenarioText = "Dear X a transaction of KES 10,000.00 for 212245 B2 has been received from BEATRICE ADHIAMBO 079****635 on 12/12/2025 08:01 PM. M-Pesa Ref: TLC5B0WSBC."
	phoneText    = "KES 8,000.00 for 0722000111 received on 5/6/2025 at 9:00 AM from MARY WANJIRU. Ref: QPH0NE0001"
)

type fakeGateway struct {
	mu    sync.Mutex
	resp  *gateway.PushResponse
	err   error
	calls []gateway.PushRequest
}

func (f *fakeGateway) InitiatePush(ctx context.Context, req gateway.PushRequest) (*gateway.PushResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func (f *fakeGateway) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeGateway) lastCall() gateway.PushRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type testServer struct {
	url      string
	client   *ReconcileServiceClient
	store    *sqlite.SQLiteStore
	gateway  *fakeGateway
	token    string
	landlord *models.Landlord
	b2       *models.Unit
	a1       *models.Unit
	john     *models.Tenant
}

// setupTestServer serves the RPC API and the callback routes. Callbacks from
// loopback are allowed unless allowLoopback is false.
func setupTestServer(t *testing.T, allowLoopback bool) *testServer {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "rentrecon-service-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	ts := &testServer{store: store, gateway: &fakeGateway{}}

	ts.landlord = &models.Landlord{Name: "Wanjiku Properties", Active: true}
	if err := store.CreateLandlord(ctx, ts.landlord); err != nil {
		t.Fatalf("CreateLandlord failed: %v", err)
	}
	if err := store.MapShortCode(ctx, "600100", ts.landlord.ID); err != nil {
		t.Fatalf("MapShortCode failed: %v", err)
	}

	ts.b2 = &models.Unit{LandlordID: ts.landlord.ID, Reference: "B2", MonthlyRent: decimal.NewFromInt(10000), Occupancy: models.OccupancyOccupied}
	ts.a1 = &models.Unit{LandlordID: ts.landlord.ID, Reference: "A1", MonthlyRent: decimal.NewFromInt(8000), Occupancy: models.OccupancyOccupied}
	for _, u := range []*models.Unit{ts.b2, ts.a1} {
		if err := store.CreateUnit(ctx, u); err != nil {
			t.Fatalf("CreateUnit failed: %v", err)
		}
	}
	beatrice := &models.Tenant{LandlordID: ts.landlord.ID, Name: "Beatrice Adhiambo", Phone: "0712345678", UnitID: ts.b2.ID}
	ts.john = &models.Tenant{LandlordID: ts.landlord.ID, Name: "John Kamau", Phone: "0722000111", UnitID: ts.a1.ID}
	for _, tn := range []*models.Tenant{beatrice, ts.john} {
		if err := store.CreateTenant(ctx, tn); err != nil {
			t.Fatalf("CreateTenant failed: %v", err)
		}
	}

	ingestor := ingest.New(store, parser.DefaultLocation)
	engine := ledger.NewEngine(store, parser.DefaultLocation)
	orchestrator := reconcile.New(store, engine, reconcile.Config{})

	jwtManager := auth.NewJWTManager("test-secret-0123456789", time.Hour)
	ts.token, err = jwtManager.Generate(ts.landlord.ID)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	mux := http.NewServeMux()
	path, handler := NewReconcileServiceHandler(
		NewReconcileService(store, ingestor, orchestrator, engine, ts.gateway),
		connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.LoggingInterceptor()),
	)
	mux.Handle(path, handler)

	allowed := []netip.Prefix{netip.MustParsePrefix("196.201.214.200/32")}
	if allowLoopback {
		allowed = append(allowed, netip.MustParsePrefix("127.0.0.0/8"), netip.MustParsePrefix("::1/128"))
	}
	limiter := middleware.NewRateLimiter(1, 1, false)
	NewCallbackHandler(ingestor, orchestrator).Register(mux, middleware.CallbackGuard(allowed, false, limiter))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	ts.url = server.URL
	ts.client = NewReconcileServiceClient(http.DefaultClient, server.URL)
	return ts
}

func authed[T any](ts *testServer, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+ts.token)
	return req
}

func TestSubmitMessageAndBalance(t *testing.T) {
	ts := setupTestServer(t, true)
	ctx := context.Background()

	resp, err := ts.client.SubmitMessage(ctx, authed(ts, &SubmitMessageRequest{
		Text:      scenarioText,
		Reconcile: true,
		AutoMatch: true,
	}))
	if err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}

	if resp.Msg.Transaction.ExternalRef != "TLC5B0WSBC" || resp.Msg.Duplicate {
		t.Errorf("got transaction %+v duplicate=%v", resp.Msg.Transaction, resp.Msg.Duplicate)
	}
	item := resp.Msg.Item
	if item == nil {
		t.Fatal("expected a reconciliation item")
	}
	if item.Outcome != reconcile.OutcomeMatched || item.Match.UnitID != ts.b2.ID {
		t.Errorf("got outcome %s unit %s, want matched to B2", item.Outcome, item.Match.UnitID)
	}

	balance, err := ts.client.GetBalance(ctx, authed(ts, &GetBalanceRequest{UnitID: ts.b2.ID, Month: "2025-12"}))
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	b := balance.Msg.Balance
	if !b.PaidAmount.Equal(decimal.NewFromInt(10000)) || !b.Balance.IsZero() || b.Status != models.BalancePaid {
		t.Errorf("got paid %s balance %s status %s", b.PaidAmount, b.Balance, b.Status)
	}

	again, err := ts.client.SubmitMessage(ctx, authed(ts, &SubmitMessageRequest{Text: scenarioText, Reconcile: true, AutoMatch: true}))
	if err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}
	if !again.Msg.Duplicate || again.Msg.Item != nil {
		t.Errorf("redelivery: duplicate=%v item=%v", again.Msg.Duplicate, again.Msg.Item)
	}

	statement, err := ts.client.GetStatement(ctx, authed(ts, &GetStatementRequest{UnitID: ts.b2.ID, From: "2025-12", To: "2026-02"}))
	if err != nil {
		t.Fatalf("GetStatement failed: %v", err)
	}
	if len(statement.Msg.Balances) != 3 {
		t.Fatalf("got %d months, want 3", len(statement.Msg.Balances))
	}
	if last := statement.Msg.Balances[2]; !last.Balance.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("February balance = %s, want 20000", last.Balance)
	}
}

func TestSuggestThenConfirm(t *testing.T) {
	ts := setupTestServer(t, true)
	ctx := context.Background()

	submitted, err := ts.client.SubmitMessage(ctx, authed(ts, &SubmitMessageRequest{Text: phoneText, Source: models.ChannelBankImport}))
	if err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}
	txID := submitted.Msg.Transaction.ID

	result, err := ts.client.Reconcile(ctx, authed(ts, &ReconcileRequest{AutoMatch: true}))
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Msg.Summary.Suggested != 1 {
		t.Fatalf("Summary = %+v, want one suggestion", result.Msg.Summary)
	}
	if m := result.Msg.Results[0].Match; m.TenantID != ts.john.ID || m.Confidence != 75 {
		t.Errorf("suggestion = %+v, want John at 75", m)
	}

	confirmed, err := ts.client.ConfirmMatch(ctx, authed(ts, &ConfirmMatchRequest{TransactionID: txID}))
	if err != nil {
		t.Fatalf("ConfirmMatch failed: %v", err)
	}
	if confirmed.Msg.Item.Status != models.StatusManuallyMatched || confirmed.Msg.Item.Match.UnitID != ts.a1.ID {
		t.Errorf("confirmed item = %+v", confirmed.Msg.Item)
	}

	_, err = ts.client.ConfirmMatch(ctx, authed(ts, &ConfirmMatchRequest{TransactionID: txID}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("second confirm: code = %v, want failed_precondition", connect.CodeOf(err))
	}

	_, err = ts.client.ResyncTransaction(ctx, authed(ts, &ResyncTransactionRequest{TransactionID: txID, Text: phoneText}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("resync committed: code = %v, want failed_precondition", connect.CodeOf(err))
	}
}

func TestErrorCodes(t *testing.T) {
	ts := setupTestServer(t, true)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want connect.Code
	}{
		{
			name: "missing token",
			call: func() error {
				_, err := ts.client.ParseMessage(ctx, connect.NewRequest(&ParseMessageRequest{Text: scenarioText}))
				return err
			},
			want: connect.CodeUnauthenticated,
		},
		{
			name: "unknown transaction",
			call: func() error {
				_, err := ts.client.ConfirmMatch(ctx, authed(ts, &ConfirmMatchRequest{TransactionID: "nope"}))
				return err
			},
			want: connect.CodeNotFound,
		},
		{
			name: "unknown unit",
			call: func() error {
				_, err := ts.client.GetBalance(ctx, authed(ts, &GetBalanceRequest{UnitID: "nope", Month: "2025-06"}))
				return err
			},
			want: connect.CodeNotFound,
		},
		{
			name: "bad month",
			call: func() error {
				_, err := ts.client.GetBalance(ctx, authed(ts, &GetBalanceRequest{UnitID: ts.b2.ID, Month: "June"}))
				return err
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "reversed statement",
			call: func() error {
				_, err := ts.client.GetStatement(ctx, authed(ts, &GetStatementRequest{UnitID: ts.b2.ID, From: "2025-06", To: "2025-01"}))
				return err
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "empty message",
			call: func() error {
				_, err := ts.client.SubmitMessage(ctx, authed(ts, &SubmitMessageRequest{Text: "  "}))
				return err
			},
			want: connect.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := connect.CodeOf(tt.call()); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseMessage(t *testing.T) {
	ts := setupTestServer(t, true)

	resp, err := ts.client.ParseMessage(context.Background(), authed(ts, &ParseMessageRequest{Text: "hello there"}))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if resp.Msg.Result.IsValid || !strings.Contains(resp.Msg.FailureReason, "amount") {
		t.Errorf("got %+v", resp.Msg)
	}

	resp, err = ts.client.ParseMessage(context.Background(), authed(ts, &ParseMessageRequest{Text: scenarioText}))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if !resp.Msg.Result.IsValid || !resp.Msg.Result.Amount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("got %+v", resp.Msg.Result)
	}
}

func TestInitiatePayment(t *testing.T) {
	ts := setupTestServer(t, true)
	ctx := context.Background()

	ts.gateway.resp = &gateway.PushResponse{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: "ws_CO_191220191020363925",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}

	resp, err := ts.client.InitiatePayment(ctx, authed(ts, &InitiatePaymentRequest{
		UnitID: ts.b2.ID,
		Phone:  "0712345678",
		Amount: decimal.NewFromInt(10000),
	}))
	if err != nil {
		t.Fatalf("InitiatePayment failed: %v", err)
	}
	want := &InitiatePaymentResponse{
		CheckoutRequestID: "ws_CO_191220191020363925",
		MerchantRequestID: "29115-34620561-1",
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}
	if diff := cmp.Diff(want, resp.Msg); diff != "" {
		t.Errorf("InitiatePayment response mismatch (-want +got):\n%s", diff)
	}
	if got := ts.gateway.lastCall().AccountReference; got != "B2" {
		t.Errorf("account reference = %q, want the unit reference", got)
	}

	stored, err := ts.store.GetPushRequest(ctx, "ws_CO_191220191020363925")
	if err != nil {
		t.Fatalf("GetPushRequest failed: %v", err)
	}
	if stored.LandlordID != ts.landlord.ID || stored.Status != models.PushPending {
		t.Errorf("stored push request = %+v", stored)
	}

	t.Run("upstream failure", func(t *testing.T) {
		ts.gateway.fail(&gateway.UpstreamError{Stage: gateway.StagePush, Code: "400.002.02", Details: "Bad Request - Invalid Amount"})
		defer ts.gateway.fail(nil)

		_, err := ts.client.InitiatePayment(ctx, authed(ts, &InitiatePaymentRequest{Phone: "0712345678", Amount: decimal.NewFromInt(1), AccountReference: "B2"}))
		var cerr *connect.Error
		if !errors.As(err, &cerr) || cerr.Code() != connect.CodeUnavailable {
			t.Fatalf("expected unavailable, got %v", err)
		}
		if len(cerr.Details()) != 1 {
			t.Fatalf("expected one error detail, got %d", len(cerr.Details()))
		}
		value, err := cerr.Details()[0].Value()
		if err != nil {
			t.Fatalf("detail value: %v", err)
		}
		detail, ok := value.(*structpb.Struct)
		if !ok || detail.Fields["stage"].GetStringValue() != gateway.StagePush {
			t.Errorf("detail = %v", value)
		}
	})

	t.Run("validation failure", func(t *testing.T) {
		ts.gateway.fail(&gateway.ValidationError{Fields: []string{"phone"}})
		defer ts.gateway.fail(nil)

		_, err := ts.client.InitiatePayment(ctx, authed(ts, &InitiatePaymentRequest{Phone: "12", Amount: decimal.NewFromInt(1), AccountReference: "B2"}))
		if connect.CodeOf(err) != connect.CodeInvalidArgument {
			t.Errorf("code = %v, want invalid_argument", connect.CodeOf(err))
		}
	})
}
