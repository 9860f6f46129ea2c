package reconciler

import (
	"errors"
	"strings"
	"time"

	"github.com/wrldarena/arena/internal/pkg/currency"
	"github.com/wrldarena/arena/internal/pkg/env"
	"github.com/wrldarena/arena/internal/pkg/verify"
)

// Config holds the reconciliation policy. The windows must keep their
// ordering: a stale INITIATED attempt is dropped long before the full expiry.
type Config struct {
	RetryLimit      int
	ExpiryWindow    time.Duration
	InitiatedWindow time.Duration
	PollInterval    time.Duration
	RecheckDelay    time.Duration
	// CloseGrace is how long a closed checkout window waits for a late
	// success callback before cleaning up.
	CloseGrace  time.Duration
	ReloadAfter time.Duration
	// PassTimeout bounds a single verification pass started from a timer.
	PassTimeout time.Duration

	SettlementCurrency string
	Provider           string
	ProviderName       string
}

func DefaultConfig() Config {
	return Config{
		RetryLimit:         5,
		ExpiryWindow:       2 * time.Hour,
		InitiatedWindow:    5 * time.Minute,
		PollInterval:       60 * time.Second,
		RecheckDelay:       60 * time.Second,
		CloseGrace:         2 * time.Second,
		ReloadAfter:        2 * time.Second,
		PassTimeout:        2 * time.Minute,
		SettlementCurrency: currency.DefaultSettlementCurrency,
		Provider:           verify.ProviderFlutterwave,
		ProviderName:       "Flutterwave",
	}
}

// ConfigFromEnv overlays PAYMENT_* and SETTLEMENT_CURRENCY on the defaults.
func ConfigFromEnv() Config {
	c := DefaultConfig()
	c.RetryLimit = env.GetInt("PAYMENT_RETRY_LIMIT", c.RetryLimit)
	c.ExpiryWindow = env.GetDuration("PAYMENT_EXPIRY_WINDOW", c.ExpiryWindow)
	c.InitiatedWindow = env.GetDuration("PAYMENT_INITIATED_WINDOW", c.InitiatedWindow)
	c.PollInterval = env.GetDuration("PAYMENT_POLL_INTERVAL", c.PollInterval)
	c.RecheckDelay = env.GetDuration("PAYMENT_RECHECK_DELAY", c.RecheckDelay)
	c.SettlementCurrency = strings.ToUpper(env.GetEnv("SETTLEMENT_CURRENCY", c.SettlementCurrency))
	return c
}

func (c Config) Validate() error {
	if c.RetryLimit < 1 {
		return errors.New("retry limit must be at least 1")
	}
	if c.PollInterval <= 0 || c.RecheckDelay <= 0 {
		return errors.New("poll interval and recheck delay must be positive")
	}
	if c.InitiatedWindow <= 0 || c.InitiatedWindow >= c.ExpiryWindow {
		return errors.New("initiated window must be positive and shorter than the expiry window")
	}
	if strings.TrimSpace(c.SettlementCurrency) == "" {
		return errors.New("settlement currency is required")
	}
	if strings.TrimSpace(c.Provider) == "" {
		return errors.New("provider is required")
	}
	return nil
}
