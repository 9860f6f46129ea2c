package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentProviderFlutterwave = "Flutterwave"

	PaymentStatusSuccess = "SUCCESS"
)

// Payment is a settled charge recorded in the settlement currency. Reference is
// the composite "<provider transaction id> <client reference>" and is unique, so
// repeated commits of the same attempt collapse into one row.
type Payment struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"not null;index" json:"user_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Currency  string          `gorm:"type:varchar(3);not null" json:"currency"`
	Provider  string          `gorm:"type:varchar(32);not null" json:"provider"`
	Status    string          `gorm:"type:varchar(16);not null;index" json:"status"`
	Reference string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_reference" json:"reference"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
