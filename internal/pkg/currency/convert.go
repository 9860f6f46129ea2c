package currency

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

// DefaultSettlementCurrency is the currency completed payments are recorded in.
const DefaultSettlementCurrency = "GHS"

// ErrRateUnavailable is returned by rate sources that have no quote.
var ErrRateUnavailable = errors.New("currency rate unavailable")

// RateSource quotes how many units of a display currency one unit of the
// settlement currency buys (the "ask" side of the quote).
type RateSource interface {
	AskRate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Convert turns an amount captured in the user's display currency into the
// settlement currency: amount / ask, rounded to whole units. Matching
// currencies pass through unchanged, and so does the amount whenever no
// usable rate is available; settlement never blocks on a missing rate.
func Convert(ctx context.Context, rates RateSource, amount decimal.Decimal, from, settlement string) decimal.Decimal {
	if strings.EqualFold(strings.TrimSpace(from), strings.TrimSpace(settlement)) {
		return amount
	}
	if rates == nil {
		return amount
	}
	rate, err := rates.AskRate(ctx, strings.ToUpper(strings.TrimSpace(from)))
	if err != nil {
		log.Warnf("[Currency] No %s rate, keeping %s %s unconverted: %v", from, amount.String(), from, err)
		return amount
	}
	if !rate.IsPositive() {
		log.Warnf("[Currency] Ignoring non-positive %s rate %s", from, rate.String())
		return amount
	}
	converted := amount.Div(rate).Round(0)
	log.Debugf("[Currency] Converted %s %s to %s %s (rate %s)", amount.String(), from, converted.String(), settlement, rate.String())
	return converted
}
