package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/storage"
)

const depositBody = `{
	"TransactionType":"Pay Bill",
	"TransID":"TLC5B0WSBC",
	"TransTime":"20251212200100",
	"TransAmount":"10000.00",
	"BusinessShortCode":"600100",
	"BillRefNumber":"B2",
	"MSISDN":"254712345678",
	"FirstName":"BEATRICE",
	"LastName":"ADHIAMBO"
}`

func postCallback(t *testing.T, url, path, body string) (int, ack) {
	t.Helper()
	resp, err := http.Post(url+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	var a ack
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(raw, &a); err != nil {
			t.Fatalf("ack is not JSON: %q", raw)
		}
	}
	return resp.StatusCode, a
}

func TestDepositCallbackReconciles(t *testing.T) {
	ts := setupTestServer(t, true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		status, a := postCallback(t, ts.url, C2BConfirmationPath, depositBody)
		if status != http.StatusOK || a != accepted {
			t.Fatalf("delivery %d: status %d ack %+v", i, status, a)
		}
	}

	payments, err := ts.store.ListPayments(ctx, ts.landlord.ID, ts.b2.ID)
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("got %d payments, want exactly 1 after redelivery", len(payments))
	}
	if !payments[0].Amount.Equal(decimal.NewFromInt(10000)) || payments[0].ExternalRef != "TLC5B0WSBC" {
		t.Errorf("payment = %+v", payments[0])
	}

	txs, err := ts.store.ListTransactions(ctx, storage.TransactionFilter{LandlordID: ts.landlord.ID})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txs))
	}
	if txs[0].Status != models.StatusAutoMatched {
		t.Errorf("status = %s, want auto_matched", txs[0].Status)
	}
}

func TestCallbackAcknowledgesFailures(t *testing.T) {
	ts := setupTestServer(t, true)
	ctx := context.Background()

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "malformed", path: C2BConfirmationPath, body: "{not json"},
		{name: "unresolved landlord", path: C2BConfirmationPath, body: strings.NewReplacer(`"600100"`, `"999999"`, `"B2"`, `"Z9"`).Replace(depositBody)},
		{name: "failed push", path: STKCallbackPath, body: `{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"ws_CO_unknown","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`},
		{name: "validation", path: C2BValidationPath, body: depositBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, a := postCallback(t, ts.url, tt.path, tt.body)
			if status != http.StatusOK || a != accepted {
				t.Errorf("status %d ack %+v", status, a)
			}
		})
	}

	queued, err := ts.store.ListUnattributed(ctx)
	if err != nil {
		t.Fatalf("ListUnattributed failed: %v", err)
	}
	if len(queued) != 1 || queued[0].ExternalRef != "TLC5B0WSBC" {
		t.Errorf("unattributed queue = %+v", queued)
	}

	txs, err := ts.store.ListTransactions(ctx, storage.TransactionFilter{LandlordID: ts.landlord.ID})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("validation and failures must not store transactions, got %d", len(txs))
	}
}

func TestSTKCallbackAfterInitiatePayment(t *testing.T) {
	ts := setupTestServer(t, true)
	ctx := context.Background()

	if err := ts.store.CreatePushRequest(ctx, &models.PushRequest{
		CheckoutRequestID: "ws_CO_191220191020363925",
		MerchantRequestID: "29115-34620561-1",
		LandlordID:        ts.landlord.ID,
		AccountReference:  "A1",
		Phone:             "254722000111",
		Amount:            decimal.NewFromInt(8000),
	}); err != nil {
		t.Fatalf("CreatePushRequest failed: %v", err)
	}

	body := `{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":"ws_CO_191220191020363925",
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":8000.00},
			{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
			{"Name":"TransactionDate","Value":20250605090000},
			{"Name":"PhoneNumber","Value":254722000111}
		]}}}}`

	if status, a := postCallback(t, ts.url, STKCallbackPath, body); status != http.StatusOK || a != accepted {
		t.Fatalf("status %d ack %+v", status, a)
	}

	payments, err := ts.store.ListPayments(ctx, ts.landlord.ID, ts.a1.ID)
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(payments) != 1 || payments[0].TenantID != ts.john.ID {
		t.Fatalf("payments = %+v, want one for John", payments)
	}

	balance, err := ts.store.GetBalance(ctx, ts.a1.ID, payments[0].OccurredAt)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.Status != models.BalancePaid {
		t.Errorf("June status = %s, want paid", balance.Status)
	}
}

func TestCallbackSourceRejected(t *testing.T) {
	ts := setupTestServer(t, false)

	status, _ := postCallback(t, ts.url, C2BConfirmationPath, depositBody)
	if status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", status)
	}
	status, _ = postCallback(t, ts.url, C2BConfirmationPath, depositBody)
	if status != http.StatusTooManyRequests {
		t.Errorf("repeat from unknown source: status = %d, want 429", status)
	}

	payments, err := ts.store.ListPayments(context.Background(), ts.landlord.ID, "")
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(payments) != 0 {
		t.Errorf("rejected callback stored %d payments", len(payments))
	}
}

func TestCallbackBurstFromGatewayIsAcknowledged(t *testing.T) {
	ts := setupTestServer(t, true)
	ctx := context.Background()

	refs := []string{"TLC5B0WS01", "TLC5B0WS02", "TLC5B0WS03", "TLC5B0WS04", "TLC5B0WS05"}
	for _, ref := range refs {
		body := strings.Replace(depositBody, "TLC5B0WSBC", ref, 1)
		status, a := postCallback(t, ts.url, C2BConfirmationPath, body)
		if status != http.StatusOK || a != accepted {
			t.Fatalf("%s: status %d ack %+v", ref, status, a)
		}
	}

	txs, err := ts.store.ListTransactions(ctx, storage.TransactionFilter{LandlordID: ts.landlord.ID})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != len(refs) {
		t.Errorf("got %d transactions, want %d", len(txs), len(refs))
	}
}
