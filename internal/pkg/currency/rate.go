package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/wrldarena/arena/internal/pkg/env"
)

const rateCacheKeyPrefix = "currency:rate:"

// Quote is the subset of an exchange-rate quote the service relies on.
// HighAsk is preferred when the provider reports it.
type Quote struct {
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Ask           decimal.Decimal `json:"ask"`
	HighAsk       decimal.Decimal `json:"high_ask"`
}

// EffectiveAsk returns high_ask when positive, otherwise ask.
func (q Quote) EffectiveAsk() decimal.Decimal {
	if q.HighAsk.IsPositive() {
		return q.HighAsk
	}
	return q.Ask
}

// HTTPRateSource fetches quotes from an HTTP rate endpoint and keeps them in
// Redis for TTL so every settlement does not hit the provider.
type HTTPRateSource struct {
	BaseURL string
	APIKey  string
	Base    string
	TTL     time.Duration
	Cache   *redis.Client
	http    *resty.Client
}

// NewHTTPRateSource builds a rate source; cache may be nil.
func NewHTTPRateSource(baseURL, apiKey, base string, ttl time.Duration, cache *redis.Client) *HTTPRateSource {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json")
	return &HTTPRateSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Base:    strings.ToUpper(base),
		TTL:     ttl,
		Cache:   cache,
		http:    client,
	}
}

// NewHTTPRateSourceFromEnv reads CURRENCY_RATE_URL, CURRENCY_RATE_API_KEY,
// CURRENCY_RATE_TTL and SETTLEMENT_CURRENCY. Returns nil when no URL is set.
func NewHTTPRateSourceFromEnv(cache *redis.Client) *HTTPRateSource {
	url := strings.TrimSpace(env.GetEnv("CURRENCY_RATE_URL", ""))
	if url == "" {
		return nil
	}
	return NewHTTPRateSource(
		url,
		strings.TrimSpace(env.GetEnv("CURRENCY_RATE_API_KEY", "")),
		env.GetEnv("SETTLEMENT_CURRENCY", DefaultSettlementCurrency),
		env.GetDuration("CURRENCY_RATE_TTL", 15*time.Minute),
		cache,
	)
}

func (s *HTTPRateSource) AskRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	quote := strings.ToUpper(strings.TrimSpace(currency))
	if quote == "" {
		return decimal.Zero, ErrRateUnavailable
	}
	key := rateCacheKeyPrefix + s.Base + ":" + quote

	if s.Cache != nil {
		if cached, err := s.Cache.Get(ctx, key).Result(); err == nil {
			if rate, perr := decimal.NewFromString(cached); perr == nil {
				return rate, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Warnf("[Currency] Rate cache read failed: %v", err)
		}
	}

	var q Quote
	req := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"base": s.Base, "quote": quote}).
		SetResult(&q)
	if s.APIKey != "" {
		req.SetAuthToken(s.APIKey)
	}
	resp, err := req.Get(s.BaseURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate request: %w", err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("rate request failed: status=%d", resp.StatusCode())
	}

	rate := q.EffectiveAsk()
	if !rate.IsPositive() {
		return decimal.Zero, ErrRateUnavailable
	}
	if s.Cache != nil && s.TTL > 0 {
		if err := s.Cache.Set(ctx, key, rate.String(), s.TTL).Err(); err != nil {
			log.Warnf("[Currency] Rate cache write failed: %v", err)
		}
	}
	return rate, nil
}

// StaticRateSource serves fixed rates keyed by upper-case currency code.
type StaticRateSource map[string]decimal.Decimal

func (s StaticRateSource) AskRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	rate, ok := s[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		return decimal.Zero, ErrRateUnavailable
	}
	return rate, nil
}
