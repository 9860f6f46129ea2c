package flutterwave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wrldarena/arena/internal/pkg/env"
)

const (
	defaultAPIBaseURL = "https://api.flutterwave.com/v3"

	// StatusSuccessful is the gateway's sentinel for a settled charge.
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
)

// ErrNotConfigured is returned when the secret key is missing.
var ErrNotConfigured = errors.New("flutterwave secret key is not configured")

// Client talks to the Flutterwave v3 REST API.
type Client struct {
	PublicKey    string
	SecretKey    string
	SecretHash   string
	SubaccountID string
	APIBaseURL   string

	http *resty.Client
}

type Card struct {
	First6Digits string `json:"first_6digits"`
	Last4Digits  string `json:"last_4digits"`
	Issuer       string `json:"issuer"`
	Country      string `json:"country"`
	Type         string `json:"type"`
	Expiry       string `json:"expiry"`
}

type Customer struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	CreatedAt   string `json:"created_at"`
}

// Transaction is one entry of the list-transactions endpoint.
type Transaction struct {
	ID                int64     `json:"id"`
	TxRef             string    `json:"tx_ref"`
	FlwRef            string    `json:"flw_ref"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	ChargedAmount     float64   `json:"charged_amount"`
	AppFee            float64   `json:"app_fee"`
	MerchantFee       float64   `json:"merchant_fee"`
	ProcessorResponse string    `json:"processor_response"`
	AuthModel         string    `json:"auth_model"`
	IP                string    `json:"ip"`
	Narration         string    `json:"narration"`
	Status            string    `json:"status"`
	PaymentType       string    `json:"payment_type"`
	CreatedAt         string    `json:"created_at"`
	AccountID         int64     `json:"account_id"`
	AmountSettled     float64   `json:"amount_settled"`
	Card              *Card     `json:"card,omitempty"`
	Customer          *Customer `json:"customer,omitempty"`
}

type transactionsResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Data    []Transaction `json:"data"`
}

func NewClient(publicKey, secretKey, secretHash, subaccountID, apiBaseURL string) *Client {
	if strings.TrimSpace(apiBaseURL) == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	return &Client{
		PublicKey:    strings.TrimSpace(publicKey),
		SecretKey:    strings.TrimSpace(secretKey),
		SecretHash:   strings.TrimSpace(secretHash),
		SubaccountID: strings.TrimSpace(subaccountID),
		APIBaseURL:   strings.TrimRight(strings.TrimSpace(apiBaseURL), "/"),
		http: resty.New().
			SetTimeout(15*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

func NewClientFromEnv() *Client {
	return NewClient(
		env.GetEnv("FLW_PUBLIC_KEY", ""),
		env.GetEnv("FLW_SECRET_KEY", ""),
		env.GetEnv("FLW_SECRET_HASH", ""),
		env.GetEnv("FLW_SUBACCOUNT_ID", ""),
		env.GetEnv("FLW_API_BASE_URL", defaultAPIBaseURL),
	)
}

// FindTransaction lists transactions filtered by txRef and returns the one
// whose tx_ref matches exactly. The second result is false when none does.
func (c *Client) FindTransaction(ctx context.Context, txRef string) (*Transaction, bool, error) {
	if c.SecretKey == "" {
		return nil, false, ErrNotConfigured
	}

	var out transactionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.SecretKey).
		SetQueryParam("tx_ref", txRef).
		SetResult(&out).
		Get(c.APIBaseURL + "/transactions")
	if err != nil {
		return nil, false, fmt.Errorf("flutterwave transactions request: %w", err)
	}
	if resp.IsError() {
		return nil, false, fmt.Errorf("flutterwave transactions fetch failed: status=%d", resp.StatusCode())
	}

	// The filter is not honored by every account tier, so match locally too.
	for i := range out.Data {
		if out.Data[i].TxRef == txRef {
			return &out.Data[i], true, nil
		}
	}
	return nil, false, nil
}
