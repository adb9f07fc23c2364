package parser

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

const receivedMessage = "Dear X a transaction of KES 10,000.00 for 212245 B2 has been received from BEATRICE ADHIAMBO 079****635 on 12/12/2025 08:01 PM. M-Pesa Ref: TLC5B0WSBC."

func TestParse_ReceivedMessage(t *testing.T) {
	got := Parse(receivedMessage)

	if !got.IsValid {
		t.Fatalf("expected valid result, missing=%v", got.Missing)
	}
	if got.Amount == nil || !got.Amount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("amount = %v, want 10000", got.Amount)
	}
	if got.UnitReference != "212245 B2" {
		t.Errorf("unit reference = %q, want %q", got.UnitReference, "212245 B2")
	}
	if got.PayerName != "BEATRICE ADHIAMBO" {
		t.Errorf("payer name = %q, want %q", got.PayerName, "BEATRICE ADHIAMBO")
	}
	if got.ExternalReference != "TLC5B0WSBC" {
		t.Errorf("external reference = %q, want %q", got.ExternalReference, "TLC5B0WSBC")
	}
	want := time.Date(2025, 12, 12, 20, 1, 0, 0, DefaultLocation)
	if got.OccurredAt == nil || !got.OccurredAt.Equal(want) {
		t.Errorf("occurred at = %v, want %v", got.OccurredAt, want)
	}
	if len(got.Missing) != 0 {
		t.Errorf("missing = %v, want none", got.Missing)
	}
}

func TestParse_Deterministic(t *testing.T) {
	inputs := []string{
		receivedMessage,
		"payment for B4 from JOHN",
		"",
		"KES 5,000 Ref ABC12345",
	}
	for _, in := range inputs {
		first := Parse(in)
		second := Parse(in)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("Parse(%q) not deterministic (-first +second):\n%s", in, diff)
		}
	}
}

func TestParse_MissingAmountIsInvalid(t *testing.T) {
	text := "Payment for 212245 B2 has been received from BEATRICE ADHIAMBO 079****635 on 12/12/2025 08:01 PM. M-Pesa Ref: TLC5B0WSBC."
	got := Parse(text)

	if got.Amount != nil {
		t.Errorf("amount = %v, want nil", got.Amount)
	}
	if got.IsValid {
		t.Error("expected invalid result without an amount")
	}
	// Other fields still extract independently.
	if got.ExternalReference != "TLC5B0WSBC" {
		t.Errorf("external reference = %q, want TLC5B0WSBC", got.ExternalReference)
	}
	if got.PayerName != "BEATRICE ADHIAMBO" {
		t.Errorf("payer name = %q", got.PayerName)
	}
	if got.FailureReason() != "could not extract amount" {
		t.Errorf("failure reason = %q", got.FailureReason())
	}
}

func TestExtractors(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		validateFunc func(t *testing.T, text string)
	}{
		{
			name: "amount without thousands separator",
			text: "Ksh500 received",
			validateFunc: func(t *testing.T, text string) {
				got := ExtractAmount(text)
				if got == nil || !got.Equal(decimal.NewFromInt(500)) {
					t.Errorf("ExtractAmount = %v, want 500", got)
				}
			},
		},
		{
			name: "amount with cents",
			text: "KES. 1,234.50 paid",
			validateFunc: func(t *testing.T, text string) {
				got := ExtractAmount(text)
				if got == nil || !got.Equal(decimal.RequireFromString("1234.50")) {
					t.Errorf("ExtractAmount = %v, want 1234.50", got)
				}
			},
		},
		{
			name: "bare number is not an amount",
			text: "paid 10000 for B2",
			validateFunc: func(t *testing.T, text string) {
				if got := ExtractAmount(text); got != nil {
					t.Errorf("ExtractAmount = %v, want nil", got)
				}
			},
		},
		{
			name: "unit reference at end of sentence",
			text: "Rent paid for House 7.",
			validateFunc: func(t *testing.T, text string) {
				if got := ExtractUnitReference(text); got != "House 7" {
					t.Errorf("ExtractUnitReference = %q, want %q", got, "House 7")
				}
			},
		},
		{
			name: "unit reference skips amount clause",
			text: "Thank you for KES 200, paid for A12 from MARY",
			validateFunc: func(t *testing.T, text string) {
				if got := ExtractUnitReference(text); got != "A12" {
					t.Errorf("ExtractUnitReference = %q, want %q", got, "A12")
				}
			},
		},
		{
			name: "payer name stops at phone digits",
			text: "received from JOHN  KAMAU 0712345678",
			validateFunc: func(t *testing.T, text string) {
				if got := ExtractPayerName(text); got != "JOHN KAMAU" {
					t.Errorf("ExtractPayerName = %q, want %q", got, "JOHN KAMAU")
				}
			},
		},
		{
			name: "payer name stops before the date clause",
			text: "KES 2,500.00 received from MARY WANJIRU on 5/6/2025 at 9:00 AM",
			validateFunc: func(t *testing.T, text string) {
				if got := ExtractPayerName(text); got != "MARY WANJIRU" {
					t.Errorf("ExtractPayerName = %q, want %q", got, "MARY WANJIRU")
				}
			},
		},
		{
			name: "reference with number label",
			text: "Transaction ID: qwe123rty confirmed",
			validateFunc: func(t *testing.T, text string) {
				if got := ExtractExternalReference(text); got != "QWE123RTY" {
					t.Errorf("ExtractExternalReference = %q, want %q", got, "QWE123RTY")
				}
			},
		},
		{
			name: "reference no. label",
			text: "Ref. No. ABC123456",
			validateFunc: func(t *testing.T, text string) {
				if got := ExtractExternalReference(text); got != "ABC123456" {
					t.Errorf("ExtractExternalReference = %q, want %q", got, "ABC123456")
				}
			},
		},
		{
			name: "reference label followed by words",
			text: "Your reference number is QWE123RTY. KES 5,000 received from JOHN DOE",
			validateFunc: func(t *testing.T, text string) {
				got := Parse(text)
				if got.ExternalReference != "QWE123RTY" {
					t.Errorf("ExternalReference = %q, want %q", got.ExternalReference, "QWE123RTY")
				}
				if !got.IsValid {
					t.Errorf("expected valid result, missing %v", got.Missing)
				}
			},
		},
		{
			name: "label word alone is not a reference",
			text: "KES 5,000 received. Please quote your reference number when paying",
			validateFunc: func(t *testing.T, text string) {
				got := Parse(text)
				if got.ExternalReference != "" || got.IsValid {
					t.Errorf("got reference %q valid=%v, want none", got.ExternalReference, got.IsValid)
				}
			},
		},
		{
			name: "short token skipped for later reference",
			text: "Ref A1. Receipt: RCP20250601",
			validateFunc: func(t *testing.T, text string) {
				if got := ExtractExternalReference(text); got != "RCP20250601" {
					t.Errorf("ExtractExternalReference = %q, want %q", got, "RCP20250601")
				}
			},
		},
		{
			name: "two digit year and morning time",
			text: "on 3/1/25 at 9:15 AM",
			validateFunc: func(t *testing.T, text string) {
				got := ExtractOccurredAt(text, time.UTC)
				want := time.Date(2025, 1, 3, 9, 15, 0, 0, time.UTC)
				if got == nil || !got.Equal(want) {
					t.Errorf("ExtractOccurredAt = %v, want %v", got, want)
				}
			},
		},
		{
			name: "impossible date yields nil",
			text: "on 31/02/2025 10:00 AM",
			validateFunc: func(t *testing.T, text string) {
				if got := ExtractOccurredAt(text, time.UTC); got != nil {
					t.Errorf("ExtractOccurredAt = %v, want nil", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validateFunc(t, tt.text)
		})
	}
}

func TestParse_EmptyText(t *testing.T) {
	got := Parse("")
	if got.IsValid {
		t.Error("empty text must not be valid")
	}
	want := []string{FieldAmount, FieldUnitReference, FieldPayerName, FieldExternalReference, FieldOccurredAt}
	if diff := cmp.Diff(want, got.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}
