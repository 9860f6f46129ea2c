package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	NotificationLevelSuccess = "success"
	NotificationLevelInfo    = "info"
	NotificationLevelError   = "error"
)

// Notification is a user-facing message produced by background payment
// reconciliation and picked up by the next page poll.
type Notification struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UserID        uint           `gorm:"index" json:"user_id"`
	Type          string         `gorm:"type:varchar(50)" json:"type"`
	Level         string         `gorm:"type:varchar(16)" json:"level" validate:"oneof=success info error"`
	Content       string         `gorm:"type:text" json:"content"`
	Reference     string         `gorm:"type:varchar(191);index" json:"reference"`
	ReloadAfterMs int64          `gorm:"default:0" json:"reload_after_ms"`
	IsRead        bool           `gorm:"default:false;index" json:"is_read"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// ListUnreadNotifications returns unread notifications for a user, oldest first.
func ListUnreadNotifications(db *gorm.DB, userID uint) ([]Notification, error) {
	var out []Notification
	err := db.Where("user_id = ? AND is_read = ?", userID, false).Order("id ASC").Find(&out).Error
	return out, err
}

// MarkNotificationsRead flags the given notifications of a user as read.
func MarkNotificationsRead(db *gorm.DB, userID uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return db.Model(&Notification{}).Where("user_id = ? AND id IN ?", userID, ids).Update("is_read", true).Error
}
