package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/wrldarena/arena/app/models"
)

// Kind names the reconciliation outcome a notification reports.
type Kind string

const (
	KindSuccess Kind = "success"
	KindPending Kind = "pending"
	KindFailed  Kind = "failed"
	KindTimeout Kind = "timeout"
)

// Notification is a message for the owner of a payment attempt.
type Notification struct {
	UserID    uint
	Kind      Kind
	Reference string
	Message   string
	// ReloadAfter asks the client to reload once subscription state changed.
	ReloadAfter time.Duration
}

// Level maps the outcome onto a display level.
func (n Notification) Level() string {
	switch n.Kind {
	case KindSuccess:
		return models.NotificationLevelSuccess
	case KindPending:
		return models.NotificationLevelInfo
	default:
		return models.NotificationLevelError
	}
}

// Notifier delivers outcome notifications. Delivery failures are logged by
// implementations and never interrupt reconciliation.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// DBNotifier stores notifications for the client to pick up on its next poll.
type DBNotifier struct {
	db *gorm.DB
}

func NewDBNotifier(db *gorm.DB) *DBNotifier {
	return &DBNotifier{db: db}
}

func (d *DBNotifier) Notify(ctx context.Context, n Notification) {
	row := &models.Notification{
		UserID:        n.UserID,
		Type:          "payment_" + string(n.Kind),
		Level:         n.Level(),
		Content:       n.Message,
		Reference:     n.Reference,
		ReloadAfterMs: n.ReloadAfter.Milliseconds(),
	}
	if err := d.db.WithContext(ctx).Create(row).Error; err != nil {
		log.Errorf("[Notify] Failed to store %s notification for user %d: %v", n.Kind, n.UserID, err)
	}
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(ctx context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// All returns a copy of everything recorded so far.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Count returns how many notifications of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}
