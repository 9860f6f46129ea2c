package session

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"
	"github.com/google/uuid"

	"github.com/wrldarena/arena/internal/pkg/cache"
	"github.com/wrldarena/arena/internal/pkg/env"
)

// KeyDeviceID holds the pending payment slot of the browser session.
const KeyDeviceID = "device_id"

var sessionStore *session.Store

// NewSessionStore builds the shared session store. Sessions live in Redis
// DB 1 next to the main web app so the login it performs is visible here;
// SESSION_STORE=memory keeps them in process for local runs.
func NewSessionStore() *session.Store {
	cfg := session.Config{
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		CookieSameSite: "Lax",
		Expiration:     env.GetDuration("SESSION_EXPIRATION", 24*time.Hour),
		KeyLookup:      "cookie:session_id",
	}
	if env.GetEnv("SESSION_STORE", "redis") != "memory" {
		cfg.Storage = newRedisStorage()
	}
	sessionStore = session.New(cfg)
	return sessionStore
}

func newRedisStorage() *redis.Storage {
	cacheClient := cache.GetClient()
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetInt("CACHE_PORT", 6379)
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	// cache and counters use DB 0
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// SetSessionStore replaces the shared store, e.g. with an in-memory one.
func SetSessionStore(s *session.Store) {
	sessionStore = s
}

// DeviceID returns the slot id of the session, assigning a new one on first
// use. created tells the caller that the session must be saved; fiber
// releases a session on Save so saving is left to the caller.
func DeviceID(sess *session.Session) (id string, created bool) {
	if id, ok := sess.Get(KeyDeviceID).(string); ok && id != "" {
		return id, false
	}
	id = uuid.NewString()
	sess.Set(KeyDeviceID, id)
	return id, true
}
