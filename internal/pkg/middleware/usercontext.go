package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/wrldarena/arena/app/models"
	"github.com/wrldarena/arena/internal/pkg/database"
	"github.com/wrldarena/arena/internal/pkg/session"
	"github.com/wrldarena/arena/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request:
// the device slot of the session and, when the web app logged the user in,
// their identity and display currency.
func UserContextMiddleware(c *fiber.Ctx) error {
	// Server-to-server routes carry no cookie; a session here would only
	// leave an orphan in the store.
	if skipSession(c.Path()) {
		return c.Next()
	}
	store := session.GetSessionStore()
	if store == nil {
		usercontext.SetUserContext(c, usercontext.UserContext{})
		return c.Next()
	}
	sess, err := store.Get(c)
	if err != nil {
		log.Warnf("[Session] Failed to load session: %v", err)
		usercontext.SetUserContext(c, usercontext.UserContext{})
		return c.Next()
	}

	deviceID, dirty := session.DeviceID(sess)
	userCtx := usercontext.UserContext{DeviceID: deviceID}

	if userID, ok := sessionUserID(sess.Get(usercontext.KeyUserID)); ok {
		userCtx.UserID = userID
		userCtx.IsLoggedIn = true
		userCtx.Username, _ = sess.Get(usercontext.KeyUsername).(string)
		userCtx.IsAdmin, _ = sess.Get(usercontext.KeyIsAdmin).(bool)
		userCtx.Currency, _ = sess.Get(usercontext.KeyCurrency).(string)

		// Currency is session-first; the account is read once and cached.
		if userCtx.Currency == "" {
			if loaded, gone := loadAccount(&userCtx); gone {
				sess.Delete(usercontext.KeyUserID)
				userCtx = usercontext.UserContext{DeviceID: deviceID}
				dirty = true
			} else if loaded && userCtx.Currency != "" {
				sess.Set(usercontext.KeyCurrency, userCtx.Currency)
				dirty = true
			}
		}
	}

	if dirty {
		if err := sess.Save(); err != nil {
			log.Warnf("[Session] Failed to save session: %v", err)
		}
	}
	usercontext.SetUserContext(c, userCtx)
	return c.Next()
}

// loadAccount fills name and currency from the users table. gone reports a
// session pointing at a deleted account.
func loadAccount(userCtx *usercontext.UserContext) (loaded, gone bool) {
	db := database.GetDB()
	if db == nil {
		return false, false
	}
	user, err := models.FindUserByID(db, userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, true
		}
		log.Warnf("[Session] Failed to load user %d: %v", userCtx.UserID, err)
		return false, false
	}
	if user.Status != models.STATUS_ACTIVE {
		return false, true
	}
	if userCtx.Username == "" {
		userCtx.Username = user.Name
	}
	userCtx.Email = user.Email
	userCtx.IsAdmin = userCtx.IsAdmin || user.IsAdmin()
	userCtx.Currency = user.CurrencyCode
	return true, false
}

func sessionUserID(v any) (uint, bool) {
	switch id := v.(type) {
	case uint:
		return id, id > 0
	case uint64:
		return uint(id), id > 0
	case int:
		return uint(id), id > 0
	case int64:
		return uint(id), id > 0
	default:
		return 0, false
	}
}

func skipSession(path string) bool {
	return strings.HasPrefix(path, "/webhooks/") || path == "/api/payment/verify" || path == "/health"
}
