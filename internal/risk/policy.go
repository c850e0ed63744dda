package risk

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Policy carries the thresholds of the risk rules.
type Policy struct {
	// LowRunwayHours is the upper bound of the low-runway window.
	LowRunwayHours decimal.Decimal
	// HighRunwayHours and CriticalRunwayHours split the window into severities.
	HighRunwayHours     decimal.Decimal
	CriticalRunwayHours decimal.Decimal
	// InactivityAlertDays is the early-warning inactivity threshold, independent of the
	// emergency-withdrawal eligibility window.
	InactivityAlertDays int
}

// DefaultPolicy returns the production thresholds: 72/48/24 runway hours and 25 inactive days.
func DefaultPolicy() Policy {
	return Policy{
		LowRunwayHours:      decimal.NewFromInt(72),
		HighRunwayHours:     decimal.NewFromInt(48),
		CriticalRunwayHours: decimal.NewFromInt(24),
		InactivityAlertDays: 25,
	}
}

// InactivityThreshold is the inactivity alert threshold as a duration.
func (p Policy) InactivityThreshold() time.Duration {
	return time.Duration(p.InactivityAlertDays) * 24 * time.Hour
}

// Validate checks the thresholds are ordered and positive.
func (p Policy) Validate() error {
	if p.CriticalRunwayHours.Sign() <= 0 {
		return errors.New("policy: critical runway hours must be positive")
	}
	if p.HighRunwayHours.LessThan(p.CriticalRunwayHours) {
		return errors.New("policy: high runway hours must be >= critical runway hours")
	}
	if p.LowRunwayHours.LessThan(p.HighRunwayHours) {
		return errors.New("policy: low runway hours must be >= high runway hours")
	}
	if p.InactivityAlertDays <= 0 {
		return errors.New("policy: inactivity alert days must be positive")
	}
	return nil
}
