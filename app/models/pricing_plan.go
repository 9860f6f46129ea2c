package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Plan periods understood by subscription expiry computation.
const (
	PlanPeriodDaily   = "DAILY"
	PlanPeriodWeekly  = "WEEKLY"
	PlanPeriodMonthly = "MONTHLY"
	PlanPeriodYearly  = "YEARLY"
)

// PricingPlan is a time-boxed subscription offer shown on the pricing page.
// Price is expressed in Currency (the settlement currency by default).
type PricingPlan struct {
	ID        string                      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string                      `gorm:"type:varchar(150);not null" json:"name"`
	Price     decimal.Decimal             `gorm:"type:decimal(12,2);not null" json:"price"`
	Currency  string                      `gorm:"type:varchar(3);not null;default:'GHS'" json:"currency"`
	Period    string                      `gorm:"type:varchar(16);not null;index" json:"plan"`
	Features  datatypes.JSONSlice[string] `gorm:"type:json" json:"features"`
	IsPopular bool                        `gorm:"default:false" json:"isPopular"`
	IsActive  bool                        `gorm:"default:true;index" json:"-"`
	SortOrder int                         `gorm:"default:0" json:"-"`
	CreatedAt time.Time                   `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time                   `gorm:"autoUpdateTime" json:"-"`
}

// ListActivePricingPlans returns the plans offered on the pricing page.
func ListActivePricingPlans(db *gorm.DB) ([]PricingPlan, error) {
	var plans []PricingPlan
	err := db.Where("is_active = ?", true).Order("sort_order ASC, price ASC").Find(&plans).Error
	return plans, err
}

// FindPricingPlan loads an active plan by id.
func FindPricingPlan(db *gorm.DB, id string) (*PricingPlan, error) {
	var p PricingPlan
	if err := db.Where("id = ? AND is_active = ?", id, true).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
