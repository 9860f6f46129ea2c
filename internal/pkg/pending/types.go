package pending

import (
	"time"

	"github.com/wrldarena/arena/app/models"
)

// Status is the lifecycle position of a locally tracked payment attempt.
type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusPending   Status = "PENDING"
	StatusVerifying Status = "VERIFYING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Plan is the snapshot of the pricing plan being purchased, frozen at
// initiation so later price edits do not change an attempt in flight.
type Plan struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Price     float64  `json:"price"`
	Currency  string   `json:"currency"`
	Period    string   `json:"plan"`
	Features  []string `json:"features"`
	IsPopular bool     `json:"isPopular"`
}

// PlanFromModel snapshots a stored pricing plan.
func PlanFromModel(p models.PricingPlan) Plan {
	price, _ := p.Price.Float64()
	features := make([]string, len(p.Features))
	copy(features, p.Features)
	return Plan{
		ID:        p.ID,
		Name:      p.Name,
		Price:     price,
		Currency:  p.Currency,
		Period:    p.Period,
		Features:  features,
		IsPopular: p.IsPopular,
	}
}

// PendingPayment is one payment attempt tracked until it is settled, fails
// permanently or expires. TxRef is the key: at most one record per TxRef
// exists in a slot.
type PendingPayment struct {
	ID            string  `json:"id"`
	UserID        uint    `json:"userId"`
	TransactionID string  `json:"transactionId"`
	TxRef         string  `json:"txRef"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Plan          Plan    `json:"plan"`
	// Timestamp is the attempt start in unix milliseconds.
	Timestamp  int64  `json:"timestamp"`
	Status     Status `json:"status"`
	RetryCount int    `json:"retryCount"`
}

// CreatedAt returns the attempt start time.
func (p PendingPayment) CreatedAt() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Age returns how long ago the attempt started, relative to now.
func (p PendingPayment) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt())
}
