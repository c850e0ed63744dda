package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"streamwatcher/internal/risk"
	"streamwatcher/internal/stream"
)

const (
	hoursPerDay  = 24
	daysPerMonth = 30
)

var (
	hoursPerDayDec = decimal.NewFromInt(hoursPerDay)
	monthHoursDec  = decimal.NewFromInt(hoursPerDay * daysPerMonth)
)

// Metrics are the portfolio-wide overview figures for a collection of streams.
type Metrics struct {
	ActiveStreams  int             `json:"activeStreams"`
	MonthlyBurn    decimal.Decimal `json:"monthlyBurn"`
	TotalDeposited decimal.Decimal `json:"totalDeposited"`
	// VaultCoverageDays is nil when active streams have no aggregate hourly rate.
	VaultCoverageDays *decimal.Decimal `json:"vaultCoverageDays"`

	PendingActions        int `json:"pendingActions"`
	InactivityRiskCount   int `json:"inactivityRiskCount"`
	ClawbackCount         int `json:"clawbackCount"`
	TokenHealthPercentage int `json:"tokenHealthPercentage"`

	ComputedAt time.Time `json:"computedAt"`
}

// Aggregate folds snapshots and the event log into overview metrics. Month length is fixed at
// 30 days. Risk predicates come from the classifier so counts agree with emitted alerts.
func Aggregate(snapshots []stream.Snapshot, events []Event, now time.Time, classifier *risk.Classifier) Metrics {
	var (
		active         int
		healthy        int
		lowRunway      int
		suspended      int
		inactive       int
		rateSum        = decimal.Zero
		vaultSum       = decimal.Zero
		totalDeposited = decimal.Zero
	)
	healthyAbove := classifier.Policy().LowRunwayHours

	for _, s := range snapshots {
		totalDeposited = totalDeposited.Add(s.TotalDeposited)

		if s.Status == stream.StatusSuspended {
			suspended++
		}
		if _, ok := classifier.LowRunway(s); ok {
			lowRunway++
		}
		if _, ok := classifier.Inactive(s, now); ok {
			inactive++
		}

		if !s.IsActive() {
			continue
		}
		active++
		rateSum = rateSum.Add(s.HourlyRate)
		vaultSum = vaultSum.Add(s.VaultBalance)
		if runway, ok := s.RunwayHours(); !ok || runway.GreaterThan(healthyAbove) {
			healthy++
		}
	}

	m := Metrics{
		ActiveStreams:         active,
		MonthlyBurn:           rateSum.Mul(monthHoursDec),
		TotalDeposited:        totalDeposited,
		PendingActions:        lowRunway + suspended,
		InactivityRiskCount:   inactive,
		ClawbackCount:         CountClawbacks(events, now),
		TokenHealthPercentage: healthPercentage(healthy, active),
		ComputedAt:            now,
	}
	if rateSum.Sign() > 0 {
		days := vaultSum.Div(rateSum).Div(hoursPerDayDec)
		m.VaultCoverageDays = &days
	}
	return m
}

// healthPercentage rounds half up; an empty portfolio is fully healthy.
func healthPercentage(healthy, active int) int {
	if active == 0 {
		return 100
	}
	return (200*healthy + active) / (2 * active)
}
