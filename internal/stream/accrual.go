package stream

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the UI precision for 6-decimal stablecoin mints.
const DefaultPrecision int32 = 6

const secondsPerHour = 3600

// AccrualResult is the vested and withdrawable portion of a stream.
type AccrualResult struct {
	Earned    decimal.Decimal `json:"earned"`
	Available decimal.Decimal `json:"available"`
}

type accrualConfig struct {
	precision int32
}

// AccrualOption tunes ComputeAccrual.
type AccrualOption func(*accrualConfig)

// WithPrecision overrides the number of fractional digits kept in the result,
// e.g. to match a mint's on-chain decimals.
func WithPrecision(places int32) AccrualOption {
	return func(c *accrualConfig) {
		if places >= 0 {
			c.precision = places
		}
	}
}

// ComputeAccrual returns how much of the deposit has vested at now and how much of it is still
// withdrawable. Accrual advances in whole hours since CreatedAt and is capped at TotalDeposited.
func ComputeAccrual(s Snapshot, now time.Time, opts ...AccrualOption) AccrualResult {
	cfg := accrualConfig{precision: DefaultPrecision}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !s.IsActive() || s.HourlyRate.Sign() <= 0 || s.TotalDeposited.Sign() <= 0 || s.CreatedAt.IsZero() {
		return AccrualResult{Earned: decimal.Zero, Available: decimal.Zero}
	}

	hours := HoursElapsed(s.CreatedAt, now)
	earned := s.HourlyRate.Mul(decimal.NewFromInt(hours))
	if earned.GreaterThan(s.TotalDeposited) {
		earned = s.TotalDeposited
	}
	available := NonNegative(earned.Sub(s.WithdrawnAmount))

	return AccrualResult{
		Earned:    earned.Round(cfg.precision),
		Available: available.Round(cfg.precision),
	}
}

// HoursElapsed counts whole hours between start and now; partial hours are dropped and a
// start in the future counts as zero.
func HoursElapsed(start, now time.Time) int64 {
	elapsed := now.Sub(start)
	if elapsed <= 0 {
		return 0
	}
	seconds := int64(elapsed / time.Second)
	return seconds / secondsPerHour
}
