package models

import "time"

const (
	SubscriptionStatusActive  = "ACTIVE"
	SubscriptionStatusExpired = "EXPIRED"
)

// Subscription grants access to a plan for [StartedAt, ExpiresAt). Reference
// mirrors the payment reference that activated it and is unique.
type Subscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	Plan      string    `gorm:"type:varchar(16);not null" json:"plan"`
	Status    string    `gorm:"type:varchar(16);not null;default:'ACTIVE';index:idx_subscriptions_user_status,priority:2" json:"status"`
	StartedAt time.Time `gorm:"not null" json:"started_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	Reference string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_reference" json:"reference"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActiveAt reports whether the subscription entitles the user at t.
func (s *Subscription) IsActiveAt(t time.Time) bool {
	return s.Status == SubscriptionStatusActive && !t.Before(s.StartedAt) && t.Before(s.ExpiresAt)
}
