package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/phone"
)

// CompactTimeLayout is the gateway's YYYYMMDDHHmmss timestamp format.
const CompactTimeLayout = "20060102150405"

// Payload is one inbound payment signal. The concrete type selects the
// adapter that turns it into a canonical transaction.
type Payload interface {
	Channel() models.Channel
	isPayload()
}

// PushCallback is the asynchronous result of a push payment.
type PushCallback struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback is the body of a push payment result.
type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata carries the receipt details of a successful push payment.
type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem is a named value; the gateway sends both numbers and strings.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

func (PushCallback) Channel() models.Channel { return models.ChannelPushPayment }
func (PushCallback) isPayload()              {}

// Result returns the callback body.
func (p *PushCallback) Result() *StkCallback {
	return &p.Body.StkCallback
}

// Item returns the named metadata value as text, or "" if absent.
func (c *StkCallback) Item(name string) string {
	if c.CallbackMetadata == nil {
		return ""
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != name || len(item.Value) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(item.Value, &s); err == nil {
			return strings.TrimSpace(s)
		}
		return strings.TrimSpace(string(item.Value))
	}
	return ""
}

// DepositCallback is a direct deposit (paybill) confirmation.
type DepositCallback struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber,omitempty"`
	OrgAccountBalance string `json:"OrgAccountBalance,omitempty"`
	ThirdPartyTransID string `json:"ThirdPartyTransID,omitempty"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName,omitempty"`
	MiddleName        string `json:"MiddleName,omitempty"`
	LastName          string `json:"LastName,omitempty"`
}

func (DepositCallback) Channel() models.Channel { return models.ChannelDirectDeposit }
func (DepositCallback) isPayload()              {}

// PayerName joins the name parts the gateway sent.
func (d *DepositCallback) PayerName() string {
	var parts []string
	for _, p := range []string{d.FirstName, d.MiddleName, d.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// FreeText is a bank statement line or a manually entered message.
type FreeText struct {
	Text       string
	Source     models.Channel
	LandlordID string
}

func (f FreeText) Channel() models.Channel { return f.Source }
func (FreeText) isPayload()                {}

// ParseCompactTime parses a YYYYMMDDHHmmss timestamp observed in loc.
func ParseCompactTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(CompactTimeLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid compact timestamp %q: %w", s, err)
	}
	return t, nil
}

// pushTransaction adapts a successful push callback. The landlord and unit
// hint come from the push request that started the payment.
func pushTransaction(p *PushCallback, req *models.PushRequest, loc *time.Location, now time.Time) (*models.Transaction, error) {
	cb := p.Result()

	receipt := cb.Item("MpesaReceiptNumber")
	if receipt == "" {
		return nil, fmt.Errorf("%w: push callback has no receipt number", ErrInvalidPayload)
	}

	amount := req.Amount
	if raw := cb.Item("Amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid amount %q", ErrInvalidPayload, raw)
		}
		amount = parsed
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", ErrInvalidPayload, amount)
	}

	occurredAt := now
	if raw := cb.Item("TransactionDate"); raw != "" {
		t, err := ParseCompactTime(raw, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		occurredAt = t
	}

	payer := req.Phone
	if raw := cb.Item("PhoneNumber"); raw != "" {
		payer = raw
	}

	return &models.Transaction{
		LandlordID:    req.LandlordID,
		ExternalRef:   strings.ToUpper(receipt),
		Amount:        amount,
		OccurredAt:    occurredAt,
		PayerPhone:    phone.MSISDN(payer),
		UnitReference: req.AccountReference,
		Channel:       models.ChannelPushPayment,
		Status:        models.StatusUnmatched,
	}, nil
}

// depositTransaction adapts a direct deposit confirmation.
func depositTransaction(d *DepositCallback, landlordID string, loc *time.Location) (*models.Transaction, error) {
	amount, err := depositAmount(d)
	if err != nil {
		return nil, err
	}

	occurredAt, err := ParseCompactTime(d.TransTime, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return &models.Transaction{
		LandlordID:    landlordID,
		ExternalRef:   strings.ToUpper(strings.TrimSpace(d.TransID)),
		Amount:        amount,
		OccurredAt:    occurredAt,
		PayerName:     d.PayerName(),
		PayerPhone:    phone.MSISDN(d.MSISDN),
		UnitReference: strings.TrimSpace(d.BillRefNumber),
		Channel:       models.ChannelDirectDeposit,
		Status:        models.StatusUnmatched,
	}, nil
}

func depositAmount(d *DepositCallback) (decimal.Decimal, error) {
	if strings.TrimSpace(d.TransID) == "" {
		return decimal.Zero, fmt.Errorf("%w: deposit has no TransID", ErrInvalidPayload)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(d.TransAmount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %s", ErrInvalidPayload, strconv.Quote(d.TransAmount))
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive amount %s", ErrInvalidPayload, amount)
	}
	return amount, nil
}
