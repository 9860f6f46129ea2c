package notify

import (
	"context"
	"fmt"
	"html"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/wrldarena/arena/app/models"
)

// MailSender delivers one HTML email.
type MailSender interface {
	SendMail(to, subject, body string) error
}

// MailNotifier emails the account owner about final outcomes. Pending
// updates stay in-app only. Sending happens off the reconciliation pass.
type MailNotifier struct {
	db     *gorm.DB
	mailer MailSender
	wg     sync.WaitGroup
}

func NewMailNotifier(db *gorm.DB, mailer MailSender) *MailNotifier {
	return &MailNotifier{db: db, mailer: mailer}
}

var mailSubjects = map[Kind]string{
	KindSuccess: "Your subscription is active",
	KindFailed:  "Your payment could not be completed",
	KindTimeout: "We could not verify your payment",
}

func (m *MailNotifier) Notify(ctx context.Context, n Notification) {
	subject, ok := mailSubjects[n.Kind]
	if !ok {
		return
	}
	user, err := models.FindUserByID(m.db.WithContext(ctx), n.UserID)
	if err != nil {
		log.Warnf("[Notify] No mail for user %d: %v", n.UserID, err)
		return
	}
	if user.Email == "" {
		return
	}

	body := fmt.Sprintf("<p>Hello %s,</p><p>%s</p><p>Reference: %s</p>",
		html.EscapeString(user.Name), html.EscapeString(n.Message), html.EscapeString(n.Reference))
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.mailer.SendMail(user.Email, subject, body); err != nil {
			log.Warnf("[Notify] Mail %s for %s not sent: %v", n.Kind, n.Reference, err)
		}
	}()
}

// Wait blocks until queued mails are handed to the mailer.
func (m *MailNotifier) Wait() {
	m.wg.Wait()
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (ms Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range ms {
		notifier.Notify(ctx, n)
	}
}
