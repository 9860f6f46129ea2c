package verify

import (
	"context"
	"errors"
)

// ProviderFlutterwave is the only provider tag the service verifies.
const ProviderFlutterwave = "flutterwave"

// Status is the verification outcome tag.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

var (
	ErrMissingTxRef          = errors.New("missing tx_ref parameter")
	ErrUnsupportedProvider   = errors.New("unsupported payment provider")
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrUpstream              = errors.New("failed to fetch transactions")
	ErrTransactionNotFound   = errors.New("transaction not found")
)

// Transaction is the provider transaction echoed on a verification result.
type Transaction struct {
	ID       int64   `json:"id"`
	TxRef    string  `json:"tx_ref"`
	Status   string  `json:"status"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Result is the body of a verification response.
type Result struct {
	Status  Status       `json:"status"`
	Message string       `json:"message,omitempty"`
	Data    *Transaction `json:"data,omitempty"`
}

// Settled reports whether the provider confirmed the charge with its
// "successful" sentinel.
func (r Result) Settled(sentinel string) bool {
	return r.Status == StatusSuccess && r.Data != nil && r.Data.Status == sentinel
}

// Verifier checks the ground-truth status of a payment by client reference.
// A returned error means transport failure or a malformed response; a
// non-2xx answer is reported as a failed Result instead.
type Verifier interface {
	Verify(ctx context.Context, txRef, provider string) (Result, error)
}
