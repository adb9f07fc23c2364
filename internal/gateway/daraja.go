// Package gateway is the client for the mobile money push payment API.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/mmynk/rentrecon/internal/metrics"
	"github.com/mmynk/rentrecon/internal/phone"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	// StageOAuth and StagePush name the upstream call that failed.
	StageOAuth = "oauth"
	StagePush  = "push"

	timestampLayout = "20060102150405"
)

// Config holds the gateway credentials.
type Config struct {
	BaseURL        string `validate:"required,url"`
	ConsumerKey    string `validate:"required"`
	ConsumerSecret string `validate:"required"`
	ShortCode      string `validate:"required,numeric"`
	PassKey        string `validate:"required"`
	CallbackURL    string `validate:"required,url"`

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client `validate:"-"`

	// Location is the zone request timestamps are written in.
	Location *time.Location `validate:"-"`
}

// PushRequest asks a payer to approve a payment on their phone.
type PushRequest struct {
	Phone            string          `validate:"required"`
	Amount           decimal.Decimal `validate:"-"`
	AccountReference string          `validate:"required,max=12"`
	Description      string          `validate:"max=13"`
}

// PushResponse is the gateway's acknowledgement of a push request. The
// outcome arrives later on the callback URL keyed by CheckoutRequestID.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// ValidationError lists request fields that are missing or invalid. It is
// returned before any network call.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid push request: " + strings.Join(e.Fields, ", ")
}

// UpstreamError reports a failed or rejected gateway call.
type UpstreamError struct {
	Stage   string
	Code    string
	Details string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s failed (%s): %s", e.Stage, e.Code, e.Details)
	}
	return fmt.Sprintf("gateway %s failed: %s", e.Stage, e.Details)
}

var validate = validator.New()

// ClientCredentials fetches access tokens with the consumer key and secret.
// Wrap it in oauth2.ReuseTokenSource to cache tokens until they expire.
type ClientCredentials struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	HTTPClient     *http.Client
}

var _ oauth2.TokenSource = (*ClientCredentials)(nil)

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// Token requests a new access token.
func (c *ClientCredentials) Token() (*oauth2.Token, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(c.BaseURL, "/")+tokenPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Stage: StageOAuth, Details: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Stage: StageOAuth, Details: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Stage: StageOAuth, Code: resp.Status, Details: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, &UpstreamError{Stage: StageOAuth, Details: "malformed token response"}
	}

	token := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: "Bearer"}
	if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
		token.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}

	return token, nil
}

// Client initiates push payments.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens oauth2.TokenSource
	now    func() time.Time
}

// NewClient validates cfg and creates a Client with a caching token source.
func NewClient(cfg Config) (*Client, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	source := &ClientCredentials{
		BaseURL:        cfg.BaseURL,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		HTTPClient:     cfg.HTTPClient,
	}

	return &Client{
		cfg:    cfg,
		http:   cfg.HTTPClient,
		tokens: oauth2.ReuseTokenSource(nil, source),
		now:    time.Now,
	}, nil
}

type pushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type errorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// InitiatePush sends a push payment request to the payer's phone.
func (c *Client) InitiatePush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	msisdn, err := checkPush(&req)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.Token()
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(StageOAuth, "error").Inc()
		var ue *UpstreamError
		if errors.As(err, &ue) {
			return nil, ue
		}
		return nil, &UpstreamError{Stage: StageOAuth, Details: err.Error()}
	}
	metrics.GatewayRequests.WithLabelValues(StageOAuth, "ok").Inc()

	timestamp := c.now().In(c.cfg.Location).Format(timestampLayout)
	body := pushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.StringFixed(0),
		PartyA:            msisdn,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}
	if body.TransactionDesc == "" {
		body.TransactionDesc = "Rent"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pushPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(StagePush, "error").Inc()
		return nil, &UpstreamError{Stage: StagePush, Details: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(StagePush, "error").Inc()
		return nil, &UpstreamError{Stage: StagePush, Details: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		metrics.GatewayRequests.WithLabelValues(StagePush, "rejected").Inc()
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.ErrorCode != "" {
			return nil, &UpstreamError{Stage: StagePush, Code: eb.ErrorCode, Details: eb.ErrorMessage}
		}
		return nil, &UpstreamError{Stage: StagePush, Code: resp.Status, Details: strings.TrimSpace(string(raw))}
	}

	var out PushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		metrics.GatewayRequests.WithLabelValues(StagePush, "error").Inc()
		return nil, &UpstreamError{Stage: StagePush, Details: "malformed push response"}
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		metrics.GatewayRequests.WithLabelValues(StagePush, "rejected").Inc()
		return nil, &UpstreamError{Stage: StagePush, Code: out.ResponseCode, Details: out.ResponseDescription}
	}
	metrics.GatewayRequests.WithLabelValues(StagePush, "ok").Inc()

	slog.Info("Push payment initiated",
		"checkout_request_id", out.CheckoutRequestID,
		"account_reference", req.AccountReference,
		"amount", body.Amount,
	)

	return &out, nil
}

// Password is the request signature: base64 of shortcode, passkey and timestamp.
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// checkPush validates req and returns the normalised phone number.
func checkPush(req *PushRequest) (string, error) {
	req.Phone = strings.TrimSpace(req.Phone)
	req.AccountReference = strings.TrimSpace(req.AccountReference)

	var fields []string
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return "", err
		}
		for _, fe := range verrs {
			fields = append(fields, lowerFirst(fe.Field()))
		}
	}

	msisdn := phone.MSISDN(req.Phone)
	if req.Phone != "" && (len(msisdn) != 12 || !strings.HasPrefix(msisdn, phone.CountryCode)) {
		fields = append(fields, "phone")
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(0)) {
		fields = append(fields, "amount")
	}

	if len(fields) > 0 {
		return "", &ValidationError{Fields: fields}
	}
	return msisdn, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
