package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/wrldarena/arena/app/controllers"
	"github.com/wrldarena/arena/internal/pkg/billing"
	"github.com/wrldarena/arena/internal/pkg/cache"
	"github.com/wrldarena/arena/internal/pkg/currency"
	"github.com/wrldarena/arena/internal/pkg/database"
	"github.com/wrldarena/arena/internal/pkg/env"
	"github.com/wrldarena/arena/internal/pkg/flutterwave"
	"github.com/wrldarena/arena/internal/pkg/mail"
	"github.com/wrldarena/arena/internal/pkg/metrics/counter"
	"github.com/wrldarena/arena/internal/pkg/notify"
	"github.com/wrldarena/arena/internal/pkg/pending"
	"github.com/wrldarena/arena/internal/pkg/reconciler"
	"github.com/wrldarena/arena/internal/pkg/router"
	"github.com/wrldarena/arena/internal/pkg/verify"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, shutdown := NewApplication(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("[App] Shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("[App] Shutdown: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	shutdown()
	if err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the service. The returned func stops background
// reconciliation and releases stores.
func NewApplication(ctx context.Context) (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	basePath := findBasePath()
	db := database.GetDB()
	redisClient := cache.GetClient()

	cfg := reconciler.ConfigFromEnv()

	backend, closeBackend := setupPendingBackend(cfg)

	var rates currency.RateSource = currency.StaticRateSource{}
	if src := currency.NewHTTPRateSourceFromEnv(redisClient); src != nil {
		rates = src
	} else {
		log.Warn("[App] CURRENCY_RATE_URL not set, amounts are committed unconverted")
	}

	gateway := flutterwave.NewClientFromEnv()
	verifySvc := verify.NewService(gateway)
	billingSvc := billing.NewServiceFromDB(db, rates, cfg.SettlementCurrency)
	counters := counter.NewRedis(redisClient)

	// Verification runs in-process unless a remote endpoint is configured.
	var verifier verify.Verifier = verify.LocalVerifier{Service: verifySvc}
	if endpoint := strings.TrimSpace(env.GetEnv("VERIFY_ENDPOINT_URL", "")); endpoint != "" {
		verifier = verify.NewHTTPVerifier(endpoint, env.GetDuration("VERIFY_TIMEOUT", 20*time.Second)).
			WithAPIKey(env.GetEnv("VERIFY_API_KEY", ""))
	}

	var notifier notify.Notifier = notify.NewDBNotifier(db)
	if mailer := mail.NewSMTPMailerFromEnv(); mailer.Enabled() {
		notifier = notify.Multi{notifier, notify.NewMailNotifier(db, mailer)}
	}

	manager, err := reconciler.NewManager(cfg, backend, reconciler.Deps{
		Verifier:  verifier,
		Committer: billingSvc,
		Rates:     rates,
		Notifier:  notifier,
		Counters:  counters,
	})
	if err != nil {
		panic(err)
	}
	if err := manager.Start(ctx); err != nil {
		log.Errorf("[App] Resuming pending payments failed: %v", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Controllers{
		Payments: controllers.NewPaymentController(controllers.PaymentControllerConfig{
			Payments:      manager,
			Verifier:      verifySvc,
			Billing:       billingSvc,
			Checkout:      gateway,
			Counters:      counters,
			DB:            db,
			CheckoutTitle: env.GetEnv("CHECKOUT_TITLE", "Arena Subscription"),
			CheckoutLogo:  env.GetEnv("CHECKOUT_LOGO_URL", ""),
		}),
		Account:      controllers.NewAccountController(billingSvc, db),
		Webhooks:     controllers.NewWebhookController(billingSvc, gateway.SecretHash, counters),
		VerifyAPIKey: env.GetEnv("VERIFY_API_KEY", ""),
	})

	return app, func() {
		manager.Stop()
		closeBackend()
	}
}

// setupPendingBackend picks where device slots live: Redis by default,
// or a bolt file for single-node deployments.
func setupPendingBackend(cfg reconciler.Config) (pending.Backend, func()) {
	switch env.GetEnv("PENDING_STORE", "redis") {
	case "bolt":
		path := env.GetEnv("PENDING_BOLT_PATH", "data/pending.db")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			panic(err)
		}
		b, err := pending.OpenBoltBackend(path)
		if err != nil {
			panic(err)
		}
		log.Infof("[App] Pending payments stored in %s", path)
		return b, func() {
			if err := b.Close(); err != nil {
				log.Warnf("[App] Closing pending store: %v", err)
			}
		}
	default:
		// slots outlive their records by the expiry window
		return pending.NewRedisBackend(cache.GetClient(), cfg.ExpiryWindow+time.Hour), func() {}
	}
}

func findBasePath() string {
	// Define possible base paths
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/arena to project root
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public"); !os.IsNotExist(err) {
			return path
		}
	}
	panic("Could not find project root directory")
}
