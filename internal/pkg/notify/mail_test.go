package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wrldarena/arena/app/models"
)

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendMail(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to, subject, body})
	return f.err
}

func setupUserDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Notification{}))
	return db
}

func TestMailNotifier(t *testing.T) {
	db := setupUserDB(t)
	user := &models.User{Name: "Ama <Owusu>", Email: "ama@example.com", Status: models.STATUS_ACTIVE}
	require.NoError(t, db.Create(user).Error)

	tests := []struct {
		name    string
		kind    Kind
		userID  uint
		subject string
	}{
		{"success", KindSuccess, user.ID, "Your subscription is active"},
		{"failed", KindFailed, user.ID, "Your payment could not be completed"},
		{"timeout", KindTimeout, user.ID, "We could not verify your payment"},
		{"pending stays in app", KindPending, user.ID, ""},
		{"unknown user", KindSuccess, user.ID + 100, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &fakeMailer{}
			n := NewMailNotifier(db, mailer)
			n.Notify(context.Background(), Notification{UserID: tt.userID, Kind: tt.kind, Reference: "cwa-1", Message: "done"})
			n.Wait()

			if tt.subject == "" {
				assert.Empty(t, mailer.sent)
				return
			}
			require.Len(t, mailer.sent, 1)
			assert.Equal(t, "ama@example.com", mailer.sent[0].to)
			assert.Equal(t, tt.subject, mailer.sent[0].subject)
			assert.Contains(t, mailer.sent[0].body, "Ama &lt;Owusu&gt;")
			assert.Contains(t, mailer.sent[0].body, "cwa-1")
		})
	}
}

func TestMulti_MailFailureDoesNotBlockStore(t *testing.T) {
	db := setupUserDB(t)
	user := &models.User{Name: "Kofi", Email: "kofi@example.com", Status: models.STATUS_ACTIVE}
	require.NoError(t, db.Create(user).Error)

	mailer := &fakeMailer{err: errors.New("smtp down")}
	mail := NewMailNotifier(db, mailer)
	rec := &Recorder{}
	Multi{NewDBNotifier(db), mail, rec}.Notify(context.Background(), Notification{UserID: user.ID, Kind: KindSuccess, Reference: "cwa-2", Message: "ok"})
	mail.Wait()

	unread, err := models.ListUnreadNotifications(db, user.ID)
	require.NoError(t, err)
	assert.Len(t, unread, 1)
	assert.Len(t, mailer.sent, 1)
	assert.Equal(t, 1, rec.Count(KindSuccess))
}
