package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wrldarena/arena/app/models"
)

// ErrUnknownPlanPeriod is returned for periods with no expiry rule.
var ErrUnknownPlanPeriod = errors.New("unknown plan period")

func normalizePeriod(period string) string {
	return strings.ToUpper(strings.TrimSpace(period))
}

// ValidPeriod reports whether ExpiresAt knows the period.
func ValidPeriod(period string) bool {
	switch normalizePeriod(period) {
	case models.PlanPeriodDaily, models.PlanPeriodWeekly, models.PlanPeriodMonthly, models.PlanPeriodYearly:
		return true
	default:
		return false
	}
}

// ExpiresAt computes the end of a subscription started at start.
func ExpiresAt(period string, start time.Time) (time.Time, error) {
	switch normalizePeriod(period) {
	case models.PlanPeriodDaily:
		return start.AddDate(0, 0, 1), nil
	case models.PlanPeriodWeekly:
		return start.AddDate(0, 0, 7), nil
	case models.PlanPeriodMonthly:
		return start.AddDate(0, 1, 0), nil
	case models.PlanPeriodYearly:
		return start.AddDate(1, 0, 0), nil
	default:
		return start, fmt.Errorf("%w: %q", ErrUnknownPlanPeriod, period)
	}
}
